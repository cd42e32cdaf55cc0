package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/compresr/llm-gateway/internal/accounting"
	"github.com/compresr/llm-gateway/internal/backend"
	"github.com/compresr/llm-gateway/internal/config"
	"github.com/compresr/llm-gateway/internal/monitoring"
	"github.com/compresr/llm-gateway/internal/tasks"
)

// Options tunes a single request.
type Options struct {
	// Provider requests a specific provider. Ignored if it is disabled.
	Provider string
	// SkipCache bypasses both cache read and cache write.
	SkipCache bool
	// NoFallback makes ExecuteWithFallback behave like Execute.
	NoFallback bool
	// OnFallback is called before each fallback attempt with the provider
	// that just failed, the provider about to be tried, and the failure.
	OnFallback func(from, to string, err error)
	// Params are passed through to the backend untouched.
	Params map[string]any
}

// Result is a successful generation.
type Result struct {
	RequestID    string                  `json:"request_id"`
	Provider     string                  `json:"provider"`
	TaskType     tasks.TaskType          `json:"task_type"`
	Content      string                  `json:"content"`
	Raw          json.RawMessage         `json:"raw,omitempty"`
	InputTokens  int64                   `json:"input_tokens"`
	OutputTokens int64                   `json:"output_tokens"`
	Estimated    bool                    `json:"usage_estimated,omitempty"`
	Cost         float64                 `json:"cost"`
	Cached       bool                    `json:"cached"`
	Fallback     bool                    `json:"fallback,omitempty"`
	Latency      time.Duration           `json:"latency"`
	Budget       accounting.BudgetStatus `json:"budget"`
}

// Execute runs one request on the resolved provider. Failures are returned
// as *ProviderRequestError; routing problems as *ConfigError.
func (r *Router) Execute(ctx context.Context, task tasks.TaskType, prompt tasks.Prompt, opts Options) (*Result, error) {
	provider, err := r.prepare(ctx, task, prompt, opts)
	if err != nil {
		return nil, err
	}
	return r.attempt(ctx, provider, task, prompt, opts, false)
}

// ExecuteWithFallback runs the request on the resolved provider and, if that
// fails, on each other enabled provider in sorted order until one succeeds.
// When every attempt fails the result is *AllProvidersFailedError.
func (r *Router) ExecuteWithFallback(ctx context.Context, task tasks.TaskType, prompt tasks.Prompt, opts Options) (*Result, error) {
	primary, err := r.prepare(ctx, task, prompt, opts)
	if err != nil {
		return nil, err
	}
	// Snapshot before the first attempt so each provider is tried at most once.
	candidates := r.registry.EnabledIDs()

	res, err := r.attempt(ctx, primary, task, prompt, opts, false)
	if err == nil {
		return res, nil
	}
	var primaryErr *ProviderRequestError
	if !errors.As(err, &primaryErr) || opts.NoFallback {
		return nil, err
	}

	failed := &AllProvidersFailedError{Task: task, Primary: primaryErr}
	last := primaryErr
	for _, id := range candidates {
		if id == primary {
			continue
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fallback aborted: %w", ctx.Err())
		}
		if p, ok := r.registry.Get(id); !ok || !p.Enabled {
			continue
		}

		if opts.OnFallback != nil {
			opts.OnFallback(last.Provider, id, last)
		}
		r.metrics.RecordFallback()
		log.Info().
			Str("from", last.Provider).
			Str("to", id).
			Str("task", string(task)).
			Msg("router: falling back")

		res, err := r.attempt(ctx, id, task, prompt, opts, true)
		if err == nil {
			return res, nil
		}
		var perr *ProviderRequestError
		if !errors.As(err, &perr) {
			return nil, err
		}
		failed.Fallbacks = append(failed.Fallbacks, perr)
		last = perr
	}
	return nil, failed
}

func (r *Router) prepare(ctx context.Context, task tasks.TaskType, prompt tasks.Prompt, opts Options) (string, error) {
	if !task.Valid() {
		return "", &ConfigError{Msg: fmt.Sprintf("unknown task type %q", task)}
	}
	if prompt == nil {
		return "", &ConfigError{Msg: "prompt is required"}
	}
	if prompt.Task() != task {
		return "", &ConfigError{Msg: fmt.Sprintf("prompt is for %s, request is for %s", prompt.Task(), task)}
	}
	if err := r.Initialize(ctx); err != nil {
		return "", err
	}
	return r.ResolveProvider(task, opts.Provider)
}

// attempt calls one provider, consulting the cache first.
func (r *Router) attempt(ctx context.Context, provider string, task tasks.TaskType, prompt tasks.Prompt, opts Options, fallback bool) (*Result, error) {
	useCache := r.cache != nil && !opts.SkipCache
	if useCache {
		if cached, ok := r.cache.Get(provider, task, prompt); ok {
			r.metrics.RecordCacheHit()
			cached.Cached = true
			cached.Fallback = fallback
			cached.Cost = 0
			cached.Latency = 0
			cached.Budget = r.accounting.GetBudgetStatus()
			r.calls.Record(&monitoring.CallEvent{
				RequestID: cached.RequestID,
				Timestamp: r.nowFn(),
				Kind:      monitoring.CallGenerate,
				Provider:  provider,
				TaskType:  string(task),
				Success:   true,
				Cached:    true,
				Fallback:  fallback,
			})
			return &cached, nil
		}
		r.metrics.RecordCacheMiss()
	}

	p, _ := r.registry.Get(provider)
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = config.DefaultProviderTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	requestID := uuid.NewString()
	start := r.nowFn()
	out, err := r.transport.Generate(callCtx, backend.GenerateRequest{
		RequestID: requestID,
		Provider:  provider,
		TaskType:  task,
		Prompt:    prompt,
		Model:     p.Model,
		Options:   opts.Params,
	})
	latency := r.nowFn().Sub(start)

	if err != nil {
		r.metrics.RecordRequest(false, latency)
		if ctx.Err() == nil {
			r.RecordFailure(provider, task, err, "")
		}
		r.calls.Record(&monitoring.CallEvent{
			RequestID: requestID,
			Timestamp: start,
			Kind:      monitoring.CallGenerate,
			Provider:  provider,
			TaskType:  string(task),
			Fallback:  fallback,
			Error:     err.Error(),
			LatencyMs: latency.Milliseconds(),
		})
		return nil, &ProviderRequestError{Provider: provider, Task: task, Err: err}
	}

	in, outTokens, estimated := out.InputTokens, out.OutputTokens, false
	if !out.HasUsage {
		in = int64(r.tokens.Count(tasks.Text(prompt)))
		outTokens = int64(r.tokens.Count(out.Content))
		estimated = true
	}
	call := r.recordUsage(requestID, provider, task, in, outTokens)
	r.metrics.RecordRequest(true, latency)

	res := Result{
		RequestID:    requestID,
		Provider:     provider,
		TaskType:     task,
		Content:      out.Content,
		Raw:          out.Raw,
		InputTokens:  in,
		OutputTokens: outTokens,
		Estimated:    estimated,
		Cost:         call.Cost,
		Fallback:     fallback,
		Latency:      latency,
		Budget:       call.Status,
	}
	if useCache {
		r.cache.Set(provider, task, prompt, res)
	}
	r.calls.Record(&monitoring.CallEvent{
		RequestID:    requestID,
		Timestamp:    start,
		Kind:         monitoring.CallGenerate,
		Provider:     provider,
		TaskType:     string(task),
		Success:      true,
		Fallback:     fallback,
		InputTokens:  in,
		OutputTokens: outTokens,
		Cost:         call.Cost,
		LatencyMs:    latency.Milliseconds(),
	})
	return &res, nil
}

// =============================================================================
// USAGE AND FAILURE RECORDING
// =============================================================================

// recordUsage accounts a billable call and persists it in the background.
func (r *Router) recordUsage(requestID, provider string, task tasks.TaskType, in, out int64) accounting.CallResult {
	rec := accounting.CallRecord{
		Provider:     provider,
		Task:         task,
		InputTokens:  in,
		OutputTokens: out,
		Timestamp:    r.nowFn(),
	}
	r.usageMu.RLock()
	defer r.usageMu.RUnlock()
	call, err := r.accounting.LogCall(rec)
	if err != nil {
		log.Error().Err(err).Str("provider", provider).Msg("router: usage not recorded")
		return call
	}
	r.metrics.RecordAPIUsage(in, out)

	if call.Status.Daily.Exceeded || call.Status.Monthly.Exceeded {
		log.Warn().
			Float64("daily_cost", call.Status.Daily.Cost).
			Float64("monthly_cost", call.Status.Monthly.Cost).
			Msg("router: budget exceeded")
	}

	r.background("log_usage", func(ctx context.Context) error {
		return r.transport.LogUsage(ctx, backend.UsageLog{
			RequestID:    requestID,
			Provider:     provider,
			TaskType:     string(task),
			InputTokens:  in,
			OutputTokens: out,
			Cost:         call.Cost,
			Timestamp:    rec.Timestamp,
		})
	})
	if r.journal != nil {
		r.background("journal_usage", func(ctx context.Context) error {
			return r.journal.AppendUsage(ctx, rec)
		})
	}
	return call
}

// RecordStreamUsage accounts a completed stream. Usage is estimated from the
// prompt and the accumulated content.
func (r *Router) RecordStreamUsage(sessionID, provider string, task tasks.TaskType, prompt tasks.Prompt, content string) accounting.CallResult {
	in := int64(r.tokens.Count(tasks.Text(prompt)))
	out := int64(r.tokens.Count(content))
	call := r.recordUsage(sessionID, provider, task, in, out)
	r.calls.Record(&monitoring.CallEvent{
		RequestID:    sessionID,
		Timestamp:    r.nowFn(),
		Kind:         monitoring.CallStream,
		Provider:     provider,
		TaskType:     string(task),
		Success:      true,
		InputTokens:  in,
		OutputTokens: out,
		Cost:         call.Cost,
	})
	return call
}

// RecordFailure appends a provider failure to the error log and persists it
// in the background. sessionID is empty for non-streaming calls.
func (r *Router) RecordFailure(provider string, task tasks.TaskType, err error, sessionID string) {
	entry := monitoring.ErrorEntry{
		Timestamp: r.nowFn(),
		Provider:  provider,
		TaskType:  string(task),
		Message:   err.Error(),
		SessionID: sessionID,
	}
	r.errors.Record(entry)

	log.Warn().
		Err(err).
		Str("provider", provider).
		Str("task", string(task)).
		Str("session_id", sessionID).
		Msg("router: provider call failed")

	r.background("log_error", func(ctx context.Context) error {
		return r.transport.LogError(ctx, backend.ErrorLog{
			Provider:  entry.Provider,
			TaskType:  entry.TaskType,
			Message:   entry.Message,
			SessionID: entry.SessionID,
			Timestamp: entry.Timestamp,
		})
	})
	if r.journal != nil {
		r.background("journal_error", func(ctx context.Context) error {
			return r.journal.AppendError(ctx, entry)
		})
	}
}
