// Package gateway exposes the LLM gateway over HTTP.
//
// DESIGN: The gateway is a thin translation layer. Every route decodes its
// body, calls the router, the stream manager or the benchmark harness, and
// maps typed errors to status codes:
//
//	*router.ConfigError                         → 400
//	*router.ProviderRequestError                → 502
//	*router.AllProvidersFailedError             → 502
//	stream.ErrSessionNotFound                   → 404
//	registry.ErrProviderInUse                   → 409
//	*stream.CancellationError, context.Canceled → 499 (4499 on WebSockets)
//
// Budget overage never fails a request; the status travels in the body.
//
// FILES:
//   - gateway.go:      construction, routes, middleware, lifecycle
//   - handler.go:      generate, budget, rates, cache, errors, providers
//   - stream.go:       WebSocket and NDJSON streaming, sessions
//   - benchmark.go:    benchmark runs
//   - stats.go:        /stats and /health
//   - init_logging.go: startup summary
package gateway

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/llm-gateway/internal/benchmark"
	"github.com/compresr/llm-gateway/internal/config"
	"github.com/compresr/llm-gateway/internal/router"
	"github.com/compresr/llm-gateway/internal/stream"
)

// Gateway serves the HTTP API.
type Gateway struct {
	cfg     *config.Config
	router  *router.Router
	streams *stream.Manager
	bench   *benchmark.Harness
	server  *http.Server
}

// New wires the HTTP surface. Providers with live stream sessions cannot be
// removed from the registry.
func New(cfg *config.Config, rt *router.Router, streams *stream.Manager, bench *benchmark.Harness) *Gateway {
	g := &Gateway{
		cfg:     cfg,
		router:  rt,
		streams: streams,
		bench:   bench,
	}
	rt.Registry().SetInUseCheck(streams.ActiveFor)

	g.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      g.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return g
}

// Handler returns the routed handler with middleware applied.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /stats", g.handleStats)

	mux.HandleFunc("POST /v1/generate", g.handleGenerate)
	mux.HandleFunc("GET /v1/stream", g.handleStreamWS)
	mux.HandleFunc("POST /v1/stream", g.handleStreamHTTP)
	mux.HandleFunc("GET /v1/sessions/{id}", g.handleSessionStatus)
	mux.HandleFunc("DELETE /v1/sessions/{id}", g.handleSessionCancel)

	mux.HandleFunc("GET /v1/budget", g.handleGetBudget)
	mux.HandleFunc("PUT /v1/budget", g.handleSetBudget)
	mux.HandleFunc("GET /v1/rates", g.handleGetRates)
	mux.HandleFunc("PUT /v1/rates/{provider}", g.handleSetRate)
	mux.HandleFunc("GET /v1/usage", g.handleGetUsage)
	mux.HandleFunc("DELETE /v1/usage", g.handleClearUsage)

	mux.HandleFunc("POST /v1/cache/invalidate", g.handleInvalidateCache)
	mux.HandleFunc("GET /v1/errors", g.handleErrors)

	mux.HandleFunc("GET /v1/providers", g.handleListProviders)
	mux.HandleFunc("PUT /v1/providers/{id}", g.handleUpsertProvider)
	mux.HandleFunc("DELETE /v1/providers/{id}", g.handleRemoveProvider)
	mux.HandleFunc("PUT /v1/routing/{task}", g.handleSetRoute)
	mux.HandleFunc("PUT /v1/default-provider", g.handleSetDefault)

	mux.HandleFunc("POST /v1/benchmark/{task}", g.handleRunBenchmark)
	mux.HandleFunc("GET /v1/benchmark/{task}", g.handleGetBenchmark)

	return g.withRecovery(g.withLogging(mux))
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (g *Gateway) Start() error {
	g.logInit()
	log.Info().Str("addr", g.server.Addr).Msg("gateway: listening")
	if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// Serve serves on an existing listener.
func (g *Gateway) Serve(ln net.Listener) error {
	if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, cancels live stream sessions and waits
// for in-flight handlers.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.streams.Close()
	if err := g.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	return nil
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func (g *Gateway) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("gateway: request")
	})
}

func (g *Gateway) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rv := recover(); rv != nil {
				if rv == http.ErrAbortHandler {
					panic(rv)
				}
				log.Error().Interface("panic", rv).Str("path", r.URL.Path).Msg("gateway: handler panic")
				g.writeError(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code. It forwards Flush and Hijack so
// streaming and WebSocket upgrades still work through it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// isLoopback reports whether addr (host:port) is a loopback address.
func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return host == "localhost"
	}
	return ip.IsLoopback()
}
