// Package stream manages streaming generation sessions.
//
// DESIGN: Each session runs one read loop goroutine that owns the transport
// body and the session's event channel. Consumers range over Events() and
// may call Wait() for the final Result.
//
// LIFECYCLE:
//
//	connecting → streaming → completed | error | cancelled
//
// Once a session is terminal its content never changes and no further
// events are sent. Cancel aborts the body read, waits for any in-flight
// event send to resolve, marks the session cancelled and discards events
// still buffered, so nothing is observed on the channel after Cancel
// returns except its close. Terminal sessions stay queryable for a grace
// period, then are purged.
//
// The loop's sends block when the channel buffer is full. Consumers that
// stop reading stall their session until it is cancelled.
package stream

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/compresr/llm-gateway/internal/accounting"
	"github.com/compresr/llm-gateway/internal/backend"
	"github.com/compresr/llm-gateway/internal/config"
	"github.com/compresr/llm-gateway/internal/monitoring"
	"github.com/compresr/llm-gateway/internal/tasks"
)

// Transport opens streaming calls.
type Transport interface {
	Stream(ctx context.Context, req backend.GenerateRequest) (io.ReadCloser, error)
}

// Router resolves providers and records stream outcomes.
type Router interface {
	ResolveProvider(task tasks.TaskType, explicit string) (string, error)
	RecordStreamUsage(sessionID, provider string, task tasks.TaskType, prompt tasks.Prompt, content string) accounting.CallResult
	RecordFailure(provider string, task tasks.TaskType, err error, sessionID string)
}

// Manager tracks live and recently finished sessions.
type Manager struct {
	transport Transport
	router    Router
	metrics   *monitoring.MetricsCollector
	grace     time.Duration
	buffer    int
	nowFn     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// Option configures a Manager.
type Option func(*Manager)

// WithGracePeriod sets how long terminal sessions stay queryable.
func WithGracePeriod(d time.Duration) Option { return func(m *Manager) { m.grace = d } }

// WithEventBuffer sets each session's event channel capacity.
func WithEventBuffer(n int) Option { return func(m *Manager) { m.buffer = n } }

// WithMetrics records session outcomes.
func WithMetrics(mc *monitoring.MetricsCollector) Option { return func(m *Manager) { m.metrics = mc } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.nowFn = now } }

// NewManager returns a manager that opens streams through transport.
func NewManager(transport Transport, router Router, opts ...Option) *Manager {
	m := &Manager{
		transport: transport,
		router:    router,
		grace:     config.DefaultStreamGracePeriod,
		buffer:    config.DefaultStreamEventBuffer,
		nowFn:     time.Now,
		sessions:  make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = monitoring.NewMetricsCollector()
	}
	return m
}

// CreateSession resolves a provider and starts streaming. The session is
// bound to ctx: cancelling ctx cancels the session. Routing errors are
// returned directly and no session is created.
func (m *Manager) CreateSession(ctx context.Context, req Request) (*Session, error) {
	if req.Prompt == nil {
		return nil, fmt.Errorf("prompt is required")
	}
	if req.Prompt.Task() != req.TaskType {
		return nil, fmt.Errorf("prompt is for %s, request is for %s", req.Prompt.Task(), req.TaskType)
	}
	provider, err := m.router.ResolveProvider(req.TaskType, req.Provider)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:       uuid.NewString(),
		provider: provider,
		task:     req.TaskType,
		prompt:   req.Prompt,
		params:   req.Params,
		m:        m,
		ctx:      sctx,
		cancel:   cancel,
		events:   make(chan Event, m.buffer),
		done:     make(chan struct{}),
		state:    Connecting,
		start:    m.nowFn(),
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
	m.metrics.RecordStreamStarted()

	log.Debug().Str("session_id", s.id).Str("provider", provider).Str("task", string(req.TaskType)).Msg("stream: session created")
	go s.run()
	return s, nil
}

// Get returns a session that has not been purged.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// CancelSession cancels a session. Cancelling a terminal session is a no-op.
func (m *Manager) CancelSession(id string) error {
	s, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.Cancel()
	return nil
}

// GetStatus returns a snapshot of a session.
func (m *Manager) GetStatus(id string) (Status, error) {
	s, ok := m.Get(id)
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s.Status(), nil
}

// ActiveFor reports whether provider has a non-terminal session.
func (m *Manager) ActiveFor(provider string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.provider == provider && !s.State().Terminal() {
			return true
		}
	}
	return false
}

// Active returns the number of non-terminal sessions.
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.sessions {
		if !s.State().Terminal() {
			n++
		}
	}
	return n
}

// Close cancels every live session.
func (m *Manager) Close() {
	m.mu.RLock()
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.RUnlock()

	for _, s := range live {
		s.Cancel()
	}
}

func (m *Manager) schedulePurge(id string) {
	time.AfterFunc(m.grace, func() {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
	})
}
