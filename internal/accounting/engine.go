package accounting

import (
	"fmt"
	"sync"
	"time"

	"github.com/compresr/llm-gateway/internal/config"
)

const (
	dayLayout   = "2006-01-02"
	monthLayout = "2006-01"
)

type tally struct {
	input, output, calls int64
}

func (t *tally) add(in, out int64) {
	t.input += in
	t.output += out
	t.calls++
}

type bucket struct {
	byProvider map[string]*tally
}

func newBucket() *bucket { return &bucket{byProvider: make(map[string]*tally)} }

// Engine tracks usage and evaluates budgets. Safe for concurrent use.
type Engine struct {
	mu        sync.RWMutex
	rates     map[string]PriceRate
	budget    Budget
	providers map[string]*tally
	days      map[string]*bucket
	months    map[string]*bucket
	nowFn     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.nowFn = now }
}

// WithRates seeds per-provider price rates.
func WithRates(rates map[string]PriceRate) Option {
	return func(e *Engine) {
		for id, r := range rates {
			e.rates[id] = r
		}
	}
}

// WithBudget seeds the budget.
func WithBudget(b Budget) Option {
	return func(e *Engine) { e.budget = b }
}

// NewEngine returns an empty engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		rates:     make(map[string]PriceRate),
		providers: make(map[string]*tally),
		days:      make(map[string]*bucket),
		months:    make(map[string]*bucket),
		nowFn:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// =============================================================================
// INGEST
// =============================================================================

// LogCall records one call and returns its cost and the budget status after it.
// A zero timestamp means now.
func (e *Engine) LogCall(rec CallRecord) (CallResult, error) {
	if rec.Provider == "" {
		return CallResult{}, fmt.Errorf("provider is required")
	}
	if rec.InputTokens < 0 || rec.OutputTokens < 0 {
		return CallResult{}, fmt.Errorf("token counts must be >= 0")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = e.nowFn()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.ingestLocked(rec)
	cost := CalculateCost(rec.InputTokens, rec.OutputTokens, e.rates[rec.Provider])
	return CallResult{Cost: cost, Status: e.statusLocked()}, nil
}

// Replay re-ingests journaled records, skipping malformed ones.
func (e *Engine) Replay(records []CallRecord) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, rec := range records {
		if rec.Provider == "" || rec.Timestamp.IsZero() || rec.InputTokens < 0 || rec.OutputTokens < 0 {
			continue
		}
		e.ingestLocked(rec)
		n++
	}
	return n
}

func (e *Engine) ingestLocked(rec CallRecord) {
	ts := rec.Timestamp.UTC()
	providerTally(e.providers, rec.Provider).add(rec.InputTokens, rec.OutputTokens)
	periodBucket(e.days, ts.Format(dayLayout)).add(rec)
	periodBucket(e.months, ts.Format(monthLayout)).add(rec)
}

func (b *bucket) add(rec CallRecord) {
	providerTally(b.byProvider, rec.Provider).add(rec.InputTokens, rec.OutputTokens)
}

func providerTally(m map[string]*tally, id string) *tally {
	t, ok := m[id]
	if !ok {
		t = &tally{}
		m[id] = t
	}
	return t
}

func periodBucket(m map[string]*bucket, key string) *bucket {
	b, ok := m[key]
	if !ok {
		b = newBucket()
		m[key] = b
	}
	return b
}

// ClearUsageData wipes all counts. Rates and budget are kept.
func (e *Engine) ClearUsageData() {
	e.mu.Lock()
	e.providers = make(map[string]*tally)
	e.days = make(map[string]*bucket)
	e.months = make(map[string]*bucket)
	e.mu.Unlock()
}

// =============================================================================
// BUDGET AND RATES
// =============================================================================

// SetBudget sets the limit for window. A nil threshold defaults to
// config.DefaultAlertRatio of amount.
func (e *Engine) SetBudget(window Window, amount float64, threshold *float64) error {
	if amount < 0 {
		return fmt.Errorf("budget amount must be >= 0, got %f", amount)
	}
	th := amount * config.DefaultAlertRatio
	if threshold != nil {
		if *threshold < 0 {
			return fmt.Errorf("alert threshold must be >= 0, got %f", *threshold)
		}
		th = *threshold
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	switch window {
	case Daily:
		e.budget.Daily, e.budget.DailyThreshold = amount, th
	case Monthly:
		e.budget.Monthly, e.budget.MonthlyThreshold = amount, th
	default:
		return fmt.Errorf("unknown budget window %q", window)
	}
	return nil
}

// Budget returns the current limits.
func (e *Engine) Budget() Budget {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.budget
}

// SetPriceRate replaces a provider's rate. All derived costs, historical
// buckets included, reflect the new rate from this point on.
func (e *Engine) SetPriceRate(provider string, rate PriceRate) error {
	if provider == "" {
		return fmt.Errorf("provider is required")
	}
	if err := rate.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.rates[provider] = rate
	e.mu.Unlock()
	return nil
}

// Rates returns a copy of all price rates.
func (e *Engine) Rates() map[string]PriceRate {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]PriceRate, len(e.rates))
	for id, r := range e.rates {
		out[id] = r
	}
	return out
}

// =============================================================================
// VIEWS
// =============================================================================

// GetBudgetStatus evaluates both windows against the current day and month.
func (e *Engine) GetBudgetStatus() BudgetStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.statusLocked()
}

func (e *Engine) statusLocked() BudgetStatus {
	now := e.nowFn().UTC()
	daily := e.bucketCostLocked(e.days[now.Format(dayLayout)])
	monthly := e.bucketCostLocked(e.months[now.Format(monthLayout)])
	return BudgetStatus{
		Daily:   evaluate(daily, e.budget.Daily, e.budget.DailyThreshold),
		Monthly: evaluate(monthly, e.budget.Monthly, e.budget.MonthlyThreshold),
	}
}

func (e *Engine) bucketCostLocked(b *bucket) float64 {
	if b == nil {
		return 0
	}
	total := 0.0
	for id, t := range b.byProvider {
		total += CalculateCost(t.input, t.output, e.rates[id])
	}
	return total
}

func (e *Engine) usageLocked(id string, t *tally) Usage {
	return Usage{
		InputTokens:  t.input,
		OutputTokens: t.output,
		Calls:        t.calls,
		Cost:         CalculateCost(t.input, t.output, e.rates[id]),
	}
}

func (e *Engine) periodLocked(b *bucket) PeriodUsage {
	p := PeriodUsage{ByProvider: make(map[string]Usage, len(b.byProvider))}
	for id, t := range b.byProvider {
		u := e.usageLocked(id, t)
		p.ByProvider[id] = u
		p.InputTokens += u.InputTokens
		p.OutputTokens += u.OutputTokens
		p.Calls += u.Calls
		p.Cost += u.Cost
	}
	return p
}

// ProviderUsage returns the all-time usage of one provider.
func (e *Engine) ProviderUsage(provider string) Usage {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.providers[provider]
	if !ok {
		return Usage{}
	}
	return e.usageLocked(provider, t)
}

// Summary returns every bucket with derived costs, plus rates and status.
func (e *Engine) Summary() Summary {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := Summary{
		Providers: make(map[string]Usage, len(e.providers)),
		Days:      make(map[string]PeriodUsage, len(e.days)),
		Months:    make(map[string]PeriodUsage, len(e.months)),
		Rates:     make(map[string]PriceRate, len(e.rates)),
		Budget:    e.budget,
		Status:    e.statusLocked(),
	}
	for id, t := range e.providers {
		s.Providers[id] = e.usageLocked(id, t)
	}
	for day, b := range e.days {
		s.Days[day] = e.periodLocked(b)
	}
	for month, b := range e.months {
		s.Months[month] = e.periodLocked(b)
	}
	for id, r := range e.rates {
		s.Rates[id] = r
	}
	return s
}
