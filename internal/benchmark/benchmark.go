// Package benchmark scores providers against a fixed prompt set.
//
// DESIGN: Each enabled provider runs every prompt of the task's set in
// sequence, with cache and fallback disabled so a provider is only ever
// measured on its own output. A failed call scores zero on that sample and
// the run continues.
//
// SCORING (per sample, 0-100):
//
//	completeness = min(len/expectedLength, 1) * 100
//	speed        = max(0, 100 - (elapsed-ideal)/(max-ideal)*100)
//	reliability  = 100 on success, 0 on failure
//	accuracy, relevance: fixed placeholder scores on success
//
//	overall = 0.30*accuracy + 0.25*relevance + 0.20*completeness
//	        + 0.10*speed + 0.15*reliability
//
// Provider scores are sample averages. A new run for a task replaces the
// previous report for that task.
package benchmark

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/llm-gateway/internal/config"
	"github.com/compresr/llm-gateway/internal/registry"
	"github.com/compresr/llm-gateway/internal/router"
	"github.com/compresr/llm-gateway/internal/tasks"
)

const (
	placeholderAccuracy  = 85.0
	placeholderRelevance = 80.0

	weightAccuracy     = 0.30
	weightRelevance    = 0.25
	weightCompleteness = 0.20
	weightSpeed        = 0.10
	weightReliability  = 0.15
)

// Executor runs benchmark calls. *router.Router satisfies it.
type Executor interface {
	ExecuteWithFallback(ctx context.Context, task tasks.TaskType, prompt tasks.Prompt, opts router.Options) (*router.Result, error)
	EnabledProviders() []string
}

// Scores holds the metric values for a sample or a provider average.
type Scores struct {
	Accuracy     float64 `json:"accuracy"`
	Relevance    float64 `json:"relevance"`
	Completeness float64 `json:"completeness"`
	Speed        float64 `json:"speed"`
	Reliability  float64 `json:"reliability"`
	Overall      float64 `json:"overall_score"`
}

// Sample is one prompt run against one provider.
type Sample struct {
	Index   int           `json:"index"`
	Success bool          `json:"success"`
	Error   string        `json:"error,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
	Length  int           `json:"length"`
	Scores
}

// ProviderResult is a provider's averaged scores and raw samples.
type ProviderResult struct {
	Scores
	Samples []Sample `json:"samples"`
}

// Report is the outcome of one benchmark run.
type Report struct {
	TaskType  tasks.TaskType            `json:"task_type"`
	StartedAt time.Time                 `json:"started_at"`
	Duration  time.Duration             `json:"duration"`
	Providers map[string]ProviderResult `json:"providers"`
}

// Ranking returns provider ids by descending overall score.
func (r *Report) Ranking() []string {
	ids := make([]string, 0, len(r.Providers))
	for id := range r.Providers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := r.Providers[ids[i]].Overall, r.Providers[ids[j]].Overall
		if a != b {
			return a > b
		}
		return ids[i] < ids[j]
	})
	return ids
}

// Progress is reported after every sample.
type Progress struct {
	Provider  string `json:"provider"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

// Harness runs benchmarks and keeps the latest report per task.
type Harness struct {
	exec  Executor
	cfg   config.BenchmarkConfig
	nowFn func() time.Time

	mu      sync.RWMutex
	reports map[tasks.TaskType]*Report
}

// Option configures a Harness.
type Option func(*Harness)

// WithClock overrides the time source used to measure latency.
func WithClock(now func() time.Time) Option { return func(h *Harness) { h.nowFn = now } }

// New creates a harness. Zero config values fall back to defaults.
func New(exec Executor, cfg config.BenchmarkConfig, opts ...Option) *Harness {
	if cfg.IdealTime <= 0 {
		cfg.IdealTime = config.DefaultBenchmarkIdealTime
	}
	if cfg.MaxTime <= cfg.IdealTime {
		cfg.MaxTime = max(config.DefaultBenchmarkMaxTime, 2*cfg.IdealTime)
	}
	if cfg.ExpectedLength <= 0 {
		cfg.ExpectedLength = config.DefaultBenchmarkExpectedLength
	}
	h := &Harness{
		exec:    exec,
		cfg:     cfg,
		nowFn:   time.Now,
		reports: make(map[tasks.TaskType]*Report),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run benchmarks every enabled provider on task. onProgress may be nil.
// A cancelled ctx aborts the run and leaves the stored report untouched.
func (h *Harness) Run(ctx context.Context, task tasks.TaskType, onProgress func(Progress)) (*Report, error) {
	if !task.Valid() {
		return nil, &router.ConfigError{Msg: fmt.Sprintf("unknown task type %q", task)}
	}
	prompts := promptSets[task]
	if len(prompts) == 0 {
		return nil, &router.ConfigError{Msg: fmt.Sprintf("no benchmark prompts for %s", task)}
	}
	providers := h.exec.EnabledProviders()
	if len(providers) == 0 {
		return nil, &router.ConfigError{Msg: "nothing to benchmark", Err: registry.ErrNoEnabledProvider}
	}

	report := &Report{
		TaskType:  task,
		StartedAt: h.nowFn(),
		Providers: make(map[string]ProviderResult, len(providers)),
	}
	total := len(providers) * len(prompts)
	done := 0

	log.Info().Str("task", string(task)).Int("providers", len(providers)).Int("prompts", len(prompts)).Msg("benchmark: starting")

	for _, provider := range providers {
		samples := make([]Sample, 0, len(prompts))
		for i, prompt := range prompts {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("benchmark %s: %w", task, err)
			}
			s := h.sample(ctx, provider, task, prompt)
			s.Index = i
			if !s.Success && ctx.Err() != nil {
				return nil, fmt.Errorf("benchmark %s: %w", task, ctx.Err())
			}
			samples = append(samples, s)

			done++
			if onProgress != nil {
				onProgress(Progress{Provider: provider, Completed: done, Total: total})
			}
		}
		report.Providers[provider] = ProviderResult{Scores: average(samples), Samples: samples}
	}
	report.Duration = h.nowFn().Sub(report.StartedAt)

	h.mu.Lock()
	h.reports[task] = report
	h.mu.Unlock()

	log.Info().Str("task", string(task)).Strs("ranking", report.Ranking()).Dur("duration", report.Duration).Msg("benchmark: finished")
	return report, nil
}

func (h *Harness) sample(ctx context.Context, provider string, task tasks.TaskType, prompt tasks.Prompt) Sample {
	start := h.nowFn()
	res, err := h.exec.ExecuteWithFallback(ctx, task, prompt, router.Options{
		Provider:   provider,
		SkipCache:  true,
		NoFallback: true,
	})
	elapsed := h.nowFn().Sub(start)

	// NoFallback still resolves a disabled provider to another one.
	if err == nil && res.Provider != provider {
		err = fmt.Errorf("provider %s unavailable, served by %s", provider, res.Provider)
	}
	if err != nil {
		log.Debug().Err(err).Str("provider", provider).Str("task", string(task)).Msg("benchmark: sample failed")
		return Sample{Error: err.Error(), Elapsed: elapsed}
	}

	return Sample{
		Success: true,
		Elapsed: elapsed,
		Length:  len(res.Content),
		Scores:  h.score(len(res.Content), elapsed),
	}
}

func (h *Harness) score(length int, elapsed time.Duration) Scores {
	s := Scores{
		Accuracy:     placeholderAccuracy,
		Relevance:    placeholderRelevance,
		Completeness: min(float64(length)/float64(h.cfg.ExpectedLength), 1) * 100,
		Speed:        speedScore(elapsed, h.cfg.IdealTime, h.cfg.MaxTime),
		Reliability:  100,
	}
	s.Overall = overall(s)
	return s
}

func speedScore(elapsed, ideal, maxTime time.Duration) float64 {
	return max(0, 100-float64(elapsed-ideal)/float64(maxTime-ideal)*100)
}

func overall(s Scores) float64 {
	return weightAccuracy*s.Accuracy +
		weightRelevance*s.Relevance +
		weightCompleteness*s.Completeness +
		weightSpeed*s.Speed +
		weightReliability*s.Reliability
}

func average(samples []Sample) Scores {
	var sum Scores
	if len(samples) == 0 {
		return sum
	}
	for _, s := range samples {
		sum.Accuracy += s.Accuracy
		sum.Relevance += s.Relevance
		sum.Completeness += s.Completeness
		sum.Speed += s.Speed
		sum.Reliability += s.Reliability
	}
	n := float64(len(samples))
	avg := Scores{
		Accuracy:     sum.Accuracy / n,
		Relevance:    sum.Relevance / n,
		Completeness: sum.Completeness / n,
		Speed:        sum.Speed / n,
		Reliability:  sum.Reliability / n,
	}
	avg.Overall = overall(avg)
	return avg
}

// Results returns the latest report for task.
func (h *Harness) Results(task tasks.TaskType) (*Report, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.reports[task]
	return r, ok
}

// Tasks returns the task types that have a stored report.
func (h *Harness) Tasks() []tasks.TaskType {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]tasks.TaskType, 0, len(h.reports))
	for t := range h.reports {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
