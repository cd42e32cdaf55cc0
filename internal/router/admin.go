package router

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/compresr/llm-gateway/internal/accounting"
	"github.com/compresr/llm-gateway/internal/backend"
	"github.com/compresr/llm-gateway/internal/tasks"
)

// SetBudget changes a budget window locally, then persists it in the
// background. A nil threshold defaults to a fixed ratio of amount.
func (r *Router) SetBudget(window accounting.Window, amount float64, threshold *float64) error {
	if err := r.accounting.SetBudget(window, amount, threshold); err != nil {
		return err
	}
	b := r.accounting.Budget()
	update := backend.BudgetUpdate{Window: string(window), Amount: b.Daily, Threshold: b.DailyThreshold}
	if window == accounting.Monthly {
		update.Amount, update.Threshold = b.Monthly, b.MonthlyThreshold
	}

	log.Info().Str("window", string(window)).Float64("amount", update.Amount).Float64("threshold", update.Threshold).Msg("router: budget updated")
	r.background("save_budget", func(ctx context.Context) error {
		return r.transport.SaveBudget(ctx, update)
	})
	return nil
}

// SetPriceRate changes a provider's rate locally, then persists it in the
// background. Derived costs reflect the new rate immediately.
func (r *Router) SetPriceRate(provider string, rate accounting.PriceRate) error {
	if err := r.accounting.SetPriceRate(provider, rate); err != nil {
		return err
	}

	log.Info().Str("provider", provider).Float64("input_per_1k", rate.InputPer1K).Float64("output_per_1k", rate.OutputPer1K).Msg("router: price rate updated")
	r.background("save_rate", func(ctx context.Context) error {
		return r.transport.SaveRate(ctx, backend.RateUpdate{
			Provider:    provider,
			InputPer1K:  rate.InputPer1K,
			OutputPer1K: rate.OutputPer1K,
		})
	})
	return nil
}

// ClearUsageData wipes accounted usage, including the local journal.
func (r *Router) ClearUsageData(ctx context.Context) error {
	r.usageMu.Lock()
	defer r.usageMu.Unlock()
	if r.journal != nil {
		// Pending journal appends must land before the wipe.
		r.Flush()
		if err := r.journal.ClearUsage(ctx); err != nil {
			return err
		}
	}
	r.accounting.ClearUsageData()
	log.Info().Msg("router: usage data cleared")
	return nil
}

// InvalidateCache drops cached responses matching task and provider.
// Empty arguments match everything.
func (r *Router) InvalidateCache(task tasks.TaskType, provider string) int {
	if r.cache == nil {
		return 0
	}
	n := r.cache.Invalidate(task, provider)
	log.Debug().Str("task", string(task)).Str("provider", provider).Int("removed", n).Msg("router: cache invalidated")
	return n
}
