// HTTP request handling for the LLM gateway.
//
// DESIGN: Handlers decode, delegate and encode. Typed errors from the
// router, stream manager and registry are mapped to status codes in one
// place (writeErr).
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/llm-gateway/internal/accounting"
	"github.com/compresr/llm-gateway/internal/config"
	"github.com/compresr/llm-gateway/internal/registry"
	"github.com/compresr/llm-gateway/internal/router"
	"github.com/compresr/llm-gateway/internal/stream"
	"github.com/compresr/llm-gateway/internal/tasks"
)

// statusClientClosedRequest is the de facto status for a caller abort.
const statusClientClosedRequest = 499

const defaultErrorsLimit = 50

// =============================================================================
// ENCODING
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("gateway: encode response")
	}
}

// writeError writes a JSON error response.
func (g *Gateway) writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, errorBody{Error: errorDetail{Message: msg, Type: "gateway_error"}})
}

// writeErr maps err to a status code and writes it.
func (g *Gateway) writeErr(w http.ResponseWriter, err error) {
	detail := errorDetail{Message: err.Error(), Type: "gateway_error"}
	status := http.StatusInternalServerError

	var (
		cfgErr    *router.ConfigError
		allErr    *router.AllProvidersFailedError
		reqErr    *router.ProviderRequestError
		cancelErr *stream.CancellationError
	)
	switch {
	case errors.As(err, &cfgErr):
		status, detail.Type = http.StatusBadRequest, "config_error"
	case errors.As(err, &allErr):
		status, detail.Type = http.StatusBadGateway, "all_providers_failed"
		detail.Attempts = allErr.Attempts()
	case errors.As(err, &reqErr):
		status, detail.Type = http.StatusBadGateway, "provider_error"
	case errors.As(err, &cancelErr), errors.Is(err, context.Canceled):
		status, detail.Type = statusClientClosedRequest, "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		status, detail.Type = http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, stream.ErrSessionNotFound):
		status, detail.Type = http.StatusNotFound, "not_found"
	case errors.Is(err, registry.ErrUnknownProvider):
		status, detail.Type = http.StatusNotFound, "not_found"
	case errors.Is(err, registry.ErrProviderInUse):
		status, detail.Type = http.StatusConflict, "conflict"
	}
	if status >= http.StatusInternalServerError {
		log.Warn().Err(err).Int("status", status).Msg("gateway: request failed")
	}
	writeJSON(w, status, errorBody{Error: detail})
}

// decodeBody reads a JSON body into v, bounded by MaxRequestBodySize.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// parseGenerate validates the task type and decodes the task's prompt.
func parseGenerate(req GenerateRequest) (tasks.TaskType, tasks.Prompt, error) {
	task, err := tasks.Parse(req.TaskType)
	if err != nil {
		return "", nil, err
	}
	if len(req.Prompt) == 0 {
		return "", nil, errors.New("prompt is required")
	}
	prompt, err := tasks.Decode(task, req.Prompt)
	if err != nil {
		return "", nil, err
	}
	return task, prompt, nil
}

// =============================================================================
// GENERATE
// =============================================================================

func (g *Gateway) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	task, prompt, err := parseGenerate(req)
	if err != nil {
		g.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := g.router.ExecuteWithFallback(r.Context(), task, prompt, router.Options{
		Provider:   req.Provider,
		SkipCache:  req.SkipCache,
		NoFallback: req.NoFallback,
		Params:     req.Params,
	})
	if err != nil {
		g.writeErr(w, err)
		return
	}
	if res.Budget.Daily.Exceeded || res.Budget.Monthly.Exceeded {
		w.Header().Set("X-Budget-Exceeded", "true")
	}
	writeJSON(w, http.StatusOK, res)
}

// =============================================================================
// BUDGET, RATES, USAGE
// =============================================================================

func (g *Gateway) budgetResponse() BudgetResponse {
	acc := g.router.Accounting()
	return BudgetResponse{Budget: acc.Budget(), Status: acc.GetBudgetStatus()}
}

func (g *Gateway) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.budgetResponse())
}

func (g *Gateway) handleSetBudget(w http.ResponseWriter, r *http.Request) {
	var req BudgetRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	window, err := accounting.ParseWindow(req.Window)
	if err != nil {
		g.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := g.router.SetBudget(window, req.Amount, req.Threshold); err != nil {
		g.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, g.budgetResponse())
}

func (g *Gateway) handleGetRates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.router.Accounting().Rates())
}

func (g *Gateway) handleSetRate(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	var req RateRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	rate := accounting.PriceRate{InputPer1K: req.InputPer1K, OutputPer1K: req.OutputPer1K}
	if err := g.router.SetPriceRate(provider, rate); err != nil {
		g.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, g.router.Accounting().Summary())
}

func (g *Gateway) handleGetUsage(w http.ResponseWriter, r *http.Request) {
	if provider := r.URL.Query().Get("provider"); provider != "" {
		writeJSON(w, http.StatusOK, g.router.Accounting().ProviderUsage(provider))
		return
	}
	writeJSON(w, http.StatusOK, g.router.Accounting().Summary())
}

func (g *Gateway) handleClearUsage(w http.ResponseWriter, r *http.Request) {
	if err := g.router.ClearUsageData(r.Context()); err != nil {
		g.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// CACHE & ERRORS
// =============================================================================

func (g *Gateway) handleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	var req InvalidateRequest
	// An empty body invalidates everything.
	if err := decodeBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		g.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var task tasks.TaskType
	if req.TaskType != "" {
		t, err := tasks.Parse(req.TaskType)
		if err != nil {
			g.writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		task = t
	}
	removed := g.router.InvalidateCache(task, req.Provider)
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (g *Gateway) handleErrors(w http.ResponseWriter, r *http.Request) {
	limit := defaultErrorsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			g.writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	el := g.router.ErrorLog()
	resp := ErrorsResponse{Total: el.Total(), Counts: el.Counts()}
	if provider := r.URL.Query().Get("provider"); provider != "" {
		resp.Entries = el.RecentForProvider(provider, limit)
	} else {
		resp.Entries = el.Recent(limit)
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// PROVIDERS
// =============================================================================

func (g *Gateway) handleListProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.router.Registry().Snapshot())
}

func (g *Gateway) handleUpsertProvider(w http.ResponseWriter, r *http.Request) {
	var req ProviderRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	p := registry.Provider{
		ID:            r.PathValue("id"),
		Enabled:       req.Enabled,
		CredentialRef: req.CredentialRef,
		Endpoint:      req.Endpoint,
		Model:         req.Model,
		Timeout:       time.Duration(req.TimeoutMs) * time.Millisecond,
	}
	if err := g.router.Registry().Upsert(p); err != nil {
		g.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	log.Info().Str("provider", p.ID).Bool("enabled", p.Enabled).Msg("gateway: provider updated")
	writeJSON(w, http.StatusOK, p)
}

func (g *Gateway) handleRemoveProvider(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := g.router.Registry().Remove(id, r.URL.Query().Get("reassign")); err != nil {
		g.writeErr(w, err)
		return
	}
	g.router.InvalidateCache("", id)
	log.Info().Str("provider", id).Msg("gateway: provider removed")
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleSetRoute(w http.ResponseWriter, r *http.Request) {
	task, err := tasks.Parse(r.PathValue("task"))
	if err != nil {
		g.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req RouteRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := g.router.Registry().SetTaskMapping(task, req.Provider); err != nil {
		g.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g.router.Registry().Snapshot())
}

func (g *Gateway) handleSetDefault(w http.ResponseWriter, r *http.Request) {
	var req RouteRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := g.router.Registry().SetDefault(req.Provider); err != nil {
		g.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g.router.Registry().Snapshot())
}
