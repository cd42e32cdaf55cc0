// Package router routes requests to providers.
//
// DESIGN: Router is the gateway's service object. It owns the provider
// registry, response cache, accounting engine and error log, and is the only
// component that calls the transport for non-streaming generation.
//
// FLOW (Execute):
//  1. Resolve provider (explicit → task mapping → default → first enabled)
//  2. Serve from cache unless SkipCache
//  3. Call the transport with the provider's timeout
//  4. On success: account usage, cache, persist usage in the background
//  5. On failure: append to the error log, persist it in the background
//
// ExecuteWithFallback retries a failed primary on every other enabled
// provider in sorted order, each at most once.
//
// Persistence calls to the backend and the local journal are fire-and-forget:
// local state changes first and the request never waits on them.
package router

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/llm-gateway/internal/accounting"
	"github.com/compresr/llm-gateway/internal/backend"
	"github.com/compresr/llm-gateway/internal/cache"
	"github.com/compresr/llm-gateway/internal/config"
	"github.com/compresr/llm-gateway/internal/monitoring"
	"github.com/compresr/llm-gateway/internal/registry"
	"github.com/compresr/llm-gateway/internal/tasks"
	"github.com/compresr/llm-gateway/internal/tokens"
)

// Transport is the subset of the backend client the router calls.
type Transport interface {
	FetchConfig(ctx context.Context) (*backend.RemoteConfig, error)
	Generate(ctx context.Context, req backend.GenerateRequest) (*backend.GenerateResult, error)
	LogUsage(ctx context.Context, u backend.UsageLog) error
	LogError(ctx context.Context, e backend.ErrorLog) error
	SaveBudget(ctx context.Context, b backend.BudgetUpdate) error
	SaveRate(ctx context.Context, r backend.RateUpdate) error
}

// Journal persists usage and failures locally.
type Journal interface {
	AppendUsage(ctx context.Context, rec accounting.CallRecord) error
	AppendError(ctx context.Context, e monitoring.ErrorEntry) error
	ClearUsage(ctx context.Context) error
}

// Router is safe for concurrent use.
type Router struct {
	cfg        *config.Config
	transport  Transport
	registry   *registry.Registry
	cache      *cache.Cache[Result]
	accounting *accounting.Engine
	errors     *monitoring.ErrorLog
	metrics    *monitoring.MetricsCollector
	calls      *monitoring.CallLog
	journal    Journal
	tokens     tokens.Counter
	nowFn      func() time.Time

	initMu      sync.Mutex
	initialized bool

	// usageMu orders accounting plus journal appends against ClearUsageData.
	usageMu sync.RWMutex

	pending inflight
}

// Option configures a Router.
type Option func(*Router)

// WithRegistry shares an existing registry.
func WithRegistry(reg *registry.Registry) Option { return func(r *Router) { r.registry = reg } }

// WithCache replaces the response cache. nil disables caching.
func WithCache(c *cache.Cache[Result]) Option { return func(r *Router) { r.cache = c } }

// WithAccounting shares an existing accounting engine.
func WithAccounting(e *accounting.Engine) Option { return func(r *Router) { r.accounting = e } }

// WithErrorLog shares an existing error log.
func WithErrorLog(l *monitoring.ErrorLog) Option { return func(r *Router) { r.errors = l } }

// WithMetrics shares an existing metrics collector.
func WithMetrics(m *monitoring.MetricsCollector) Option { return func(r *Router) { r.metrics = m } }

// WithCallLog records every call to a JSONL telemetry log.
func WithCallLog(c *monitoring.CallLog) Option { return func(r *Router) { r.calls = c } }

// WithJournal persists usage and failures locally.
func WithJournal(j Journal) Option { return func(r *Router) { r.journal = j } }

// WithTokenCounter overrides usage estimation.
func WithTokenCounter(c tokens.Counter) Option { return func(r *Router) { r.tokens = c } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(r *Router) { r.nowFn = now } }

// New builds a router from cfg. Components not supplied through options are
// created from cfg.
func New(cfg *config.Config, transport Transport, opts ...Option) *Router {
	if cfg == nil {
		cfg = config.Default()
	}
	r := &Router{
		cfg:       cfg,
		transport: transport,
		nowFn:     time.Now,
	}
	if cfg.Cache.IsEnabled() {
		r.cache = cache.New[Result](cfg.Cache.TTL)
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.registry == nil {
		r.registry = registry.New()
	}
	if r.accounting == nil {
		r.accounting = NewAccounting(cfg, accounting.WithClock(r.nowFn))
	}
	if r.errors == nil {
		r.errors = monitoring.NewErrorLog(cfg.Telemetry.ErrorLogMax)
	}
	if r.metrics == nil {
		r.metrics = monitoring.NewMetricsCollector()
	}
	if r.tokens == nil {
		r.tokens = tokens.NewEstimator("")
	}
	return r
}

// NewAccounting builds an accounting engine seeded with cfg's rates and budget.
func NewAccounting(cfg *config.Config, opts ...accounting.Option) *accounting.Engine {
	rates := make(map[string]accounting.PriceRate, len(cfg.PriceRates))
	for id, rate := range cfg.PriceRates {
		rates[id] = accounting.PriceRate{InputPer1K: rate.InputPer1K, OutputPer1K: rate.OutputPer1K}
	}
	budget := accounting.Budget{
		Daily:            cfg.Budget.Daily,
		Monthly:          cfg.Budget.Monthly,
		DailyThreshold:   cfg.Budget.Daily * config.DefaultAlertRatio,
		MonthlyThreshold: cfg.Budget.Monthly * config.DefaultAlertRatio,
	}
	if cfg.Budget.DailyThreshold != nil {
		budget.DailyThreshold = *cfg.Budget.DailyThreshold
	}
	if cfg.Budget.MonthlyThreshold != nil {
		budget.MonthlyThreshold = *cfg.Budget.MonthlyThreshold
	}
	opts = append([]accounting.Option{accounting.WithRates(rates), accounting.WithBudget(budget)}, opts...)
	return accounting.NewEngine(opts...)
}

// Registry returns the provider registry.
func (r *Router) Registry() *registry.Registry { return r.registry }

// Accounting returns the accounting engine.
func (r *Router) Accounting() *accounting.Engine { return r.accounting }

// ErrorLog returns the provider error log.
func (r *Router) ErrorLog() *monitoring.ErrorLog { return r.errors }

// Metrics returns the metrics collector.
func (r *Router) Metrics() *monitoring.MetricsCollector { return r.metrics }

// Cache returns the response cache, or nil when caching is disabled.
func (r *Router) Cache() *cache.Cache[Result] { return r.cache }

// =============================================================================
// INITIALIZATION
// =============================================================================

// Initialize loads the provider registry from the backend, falling back to
// the providers in the local config when the fetch fails. Calling it again
// after a successful load is a no-op.
func (r *Router) Initialize(ctx context.Context) error {
	r.initMu.Lock()
	defer r.initMu.Unlock()

	if r.initialized {
		return nil
	}

	snap := localSnapshot(r.cfg)
	source := "backend"
	remote, err := r.transport.FetchConfig(ctx)
	if err != nil {
		if len(snap.Providers) == 0 {
			return &ConfigError{Msg: "config fetch failed and no local providers configured", Err: err}
		}
		log.Warn().Err(err).Msg("router: config fetch failed, using local providers")
		source = "local"
	} else {
		snap = mergeRemote(snap, remote)
	}

	r.registry.Load(snap)
	r.initialized = true

	log.Info().
		Str("source", source).
		Int("providers", len(snap.Providers)).
		Strs("enabled", r.registry.EnabledIDs()).
		Str("default", snap.DefaultProvider).
		Msg("router: initialized")
	return nil
}

func localSnapshot(cfg *config.Config) registry.Snapshot {
	snap := registry.Snapshot{
		DefaultProvider: cfg.DefaultProvider,
		Providers:       make(map[string]registry.Provider, len(cfg.Providers)),
		TaskMapping:     make(map[tasks.TaskType]string, len(cfg.TaskMapping)),
	}
	for id, p := range cfg.Providers {
		snap.Providers[id] = registry.Provider{
			ID:            id,
			Enabled:       p.Enabled,
			CredentialRef: p.CredentialRef,
			Endpoint:      p.Endpoint,
			Model:         p.Model,
			Timeout:       p.Timeout,
		}
	}
	addMapping(snap.TaskMapping, cfg.TaskMapping)
	return snap
}

// mergeRemote makes the backend's provider set authoritative. Local entries
// only fill fields the backend left empty.
func mergeRemote(local registry.Snapshot, remote *backend.RemoteConfig) registry.Snapshot {
	snap := registry.Snapshot{
		DefaultProvider: remote.DefaultProvider,
		Providers:       make(map[string]registry.Provider, len(remote.Providers)),
		TaskMapping:     make(map[tasks.TaskType]string),
	}
	if snap.DefaultProvider == "" {
		snap.DefaultProvider = local.DefaultProvider
	}

	for id, rp := range remote.Providers {
		p := local.Providers[id]
		p.ID = id
		p.Enabled = rp.Enabled
		if rp.CredentialRef != "" {
			p.CredentialRef = rp.CredentialRef
		}
		if rp.Endpoint != "" {
			p.Endpoint = rp.Endpoint
		}
		if rp.Model != "" {
			p.Model = rp.Model
		}
		if rp.TimeoutMs > 0 {
			p.Timeout = time.Duration(rp.TimeoutMs) * time.Millisecond
		}
		if p.Timeout == 0 {
			p.Timeout = config.DefaultProviderTimeout
		}
		snap.Providers[id] = p
	}

	if remote.TaskMapping == nil {
		for task, id := range local.TaskMapping {
			snap.TaskMapping[task] = id
		}
	} else {
		addMapping(snap.TaskMapping, remote.TaskMapping)
	}
	return snap
}

func addMapping(dst map[tasks.TaskType]string, src map[string]string) {
	for name, id := range src {
		task, err := tasks.Parse(name)
		if err != nil {
			log.Warn().Str("task", name).Str("provider", id).Msg("router: ignoring mapping for unknown task type")
			continue
		}
		dst[task] = id
	}
}

// ResolveProvider picks the provider for task, preferring explicit when it
// is enabled.
func (r *Router) ResolveProvider(task tasks.TaskType, explicit string) (string, error) {
	id, err := r.registry.Resolve(task, explicit)
	if err != nil {
		return "", &ConfigError{Msg: "cannot resolve provider", Err: err}
	}
	return id, nil
}

// EnabledProviders returns enabled provider ids in sorted order.
func (r *Router) EnabledProviders() []string { return r.registry.EnabledIDs() }

// =============================================================================
// BACKGROUND PERSISTENCE
// =============================================================================

// background runs fn detached from the caller, bounded by the collaborator timeout.
func (r *Router) background(op string, fn func(ctx context.Context) error) {
	r.pending.add()
	go func() {
		defer r.pending.done()
		ctx, cancel := context.WithTimeout(context.Background(), config.DefaultCollaboratorTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			log.Warn().Err(err).Str("op", op).Msg("router: persistence failed")
		}
	}()
}

// Flush waits for in-flight background persistence.
func (r *Router) Flush() { r.pending.wait() }

// inflight counts background tasks. Unlike sync.WaitGroup it tolerates new
// tasks starting while someone waits.
type inflight struct {
	mu   sync.Mutex
	n    int
	idle *sync.Cond
}

func (f *inflight) add() {
	f.mu.Lock()
	f.n++
	f.mu.Unlock()
}

func (f *inflight) done() {
	f.mu.Lock()
	f.n--
	if f.n == 0 && f.idle != nil {
		f.idle.Broadcast()
	}
	f.mu.Unlock()
}

func (f *inflight) wait() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idle == nil {
		f.idle = sync.NewCond(&f.mu)
	}
	for f.n > 0 {
		f.idle.Wait()
	}
}

// Close flushes background work and the call log.
func (r *Router) Close() error {
	r.Flush()
	return r.calls.Close()
}
