package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/llm-gateway/internal/backend"
	"github.com/compresr/llm-gateway/internal/benchmark"
	"github.com/compresr/llm-gateway/internal/config"
	"github.com/compresr/llm-gateway/internal/monitoring"
	"github.com/compresr/llm-gateway/internal/router"
	"github.com/compresr/llm-gateway/internal/store"
	"github.com/compresr/llm-gateway/internal/stream"
	"github.com/compresr/llm-gateway/internal/tokens"
)

// app holds the long-lived components built from one config.
type app struct {
	cfg     *config.Config
	client  *backend.Client
	router  *router.Router
	streams *stream.Manager
	bench   *benchmark.Harness
	journal *store.SQLiteStore
}

// newApp builds every component and replays the usage journal, if one is
// configured, into the accounting engine.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	a.client = backend.NewClient(cfg.Backend.URL, cfg.Backend.APIKey, backend.WithTimeout(cfg.Backend.Timeout))

	callLog, err := monitoring.NewCallLog(monitoring.TelemetryConfig{
		Enabled:     cfg.Telemetry.Enabled,
		CallLogPath: cfg.Telemetry.CallLogPath,
	})
	if err != nil {
		return nil, fmt.Errorf("open call log: %w", err)
	}

	estimator := tokens.NewEstimator(config.DefaultTokenEncoding)
	preloadTokenizer(ctx, estimator)

	opts := []router.Option{
		router.WithCallLog(callLog),
		router.WithTokenCounter(estimator),
	}
	if cfg.Storage.SQLitePath != "" {
		a.journal, err = store.Open(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, router.WithJournal(a.journal))
	}

	a.router = router.New(cfg, a.client, opts...)
	if err := a.replay(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.streams = stream.NewManager(a.client, a.router,
		stream.WithGracePeriod(cfg.Stream.GracePeriod),
		stream.WithEventBuffer(cfg.Stream.EventBuffer),
		stream.WithMetrics(a.router.Metrics()),
	)
	a.bench = benchmark.New(a.router, cfg.Benchmark)
	return a, nil
}

// preloadTokenizer waits a bounded time for the token encoding so the first
// estimated call does not pay for the download.
func preloadTokenizer(ctx context.Context, e *tokens.Estimator) {
	ctx, cancel := context.WithTimeout(ctx, config.DefaultTokenizerLoadTimeout)
	defer cancel()
	if err := e.Preload(ctx); err != nil {
		log.Warn().Err(err).Msg("token encoding not ready, estimating with heuristic")
	}
}

func (a *app) replay(ctx context.Context) error {
	if a.journal == nil {
		return nil
	}
	usage, err := a.journal.Usage(ctx, time.Time{})
	if err != nil {
		return fmt.Errorf("replay usage journal: %w", err)
	}
	n := a.router.Accounting().Replay(usage)

	errs, err := a.journal.Errors(ctx, a.cfg.Telemetry.ErrorLogMax)
	if err != nil {
		return fmt.Errorf("replay error journal: %w", err)
	}
	for _, e := range errs {
		a.router.ErrorLog().Record(e)
	}

	log.Info().
		Str("path", a.journal.Path).
		Int("usage_records", n).
		Int("error_records", len(errs)).
		Msg("journal replayed")
	return nil
}

// Close cancels live sessions and flushes pending writes.
func (a *app) Close() {
	if a.streams != nil {
		a.streams.Close()
	}
	if a.router != nil {
		if err := a.router.Close(); err != nil {
			log.Warn().Err(err).Msg("router close")
		}
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			log.Warn().Err(err).Msg("journal close")
		}
	}
}
