// Package cache implements the TTL response cache.
//
// DESIGN: Entries are keyed by (provider, task type, canonical prompt).
// An entry is valid while now - createdAt < TTL; expired entries are evicted
// on read and by an optional background sweep. Each entry records its
// provider and task type, so Invalidate matches on those fields exactly
// instead of on substrings of the key.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/llm-gateway/internal/tasks"
)

type entry[V any] struct {
	provider  string
	task      tasks.TaskType
	value     V
	createdAt time.Time
}

// Cache is safe for concurrent use.
type Cache[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*entry[V]
	nowFn   func() time.Time
}

// Option configures a Cache.
type Option[V any] func(*Cache[V])

// WithClock overrides the time source.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *Cache[V]) { c.nowFn = now }
}

// New returns a cache whose entries live for ttl.
func New[V any](ttl time.Duration, opts ...Option[V]) *Cache[V] {
	c := &Cache[V]{
		ttl:     ttl,
		entries: make(map[string]*entry[V]),
		nowFn:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key builds the cache key for a request.
func Key(provider string, task tasks.TaskType, prompt tasks.Prompt) (string, error) {
	fp, err := tasks.Fingerprint(prompt)
	if err != nil {
		return "", err
	}
	return provider + "|" + string(task) + "|" + fp, nil
}

// Get returns the cached value for the request, if present and unexpired.
func (c *Cache[V]) Get(provider string, task tasks.TaskType, prompt tasks.Prompt) (V, bool) {
	var zero V
	key, err := Key(provider, task, prompt)
	if err != nil {
		log.Debug().Err(err).Str("provider", provider).Msg("cache: unkeyable prompt")
		return zero, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if !c.validLocked(e) {
		delete(c.entries, key)
		return zero, false
	}
	return e.value, true
}

// Set stores value for the request.
func (c *Cache[V]) Set(provider string, task tasks.TaskType, prompt tasks.Prompt, value V) {
	key, err := Key(provider, task, prompt)
	if err != nil {
		log.Debug().Err(err).Str("provider", provider).Msg("cache: unkeyable prompt, not stored")
		return
	}

	c.mu.Lock()
	c.entries[key] = &entry[V]{
		provider:  provider,
		task:      task,
		value:     value,
		createdAt: c.nowFn(),
	}
	c.mu.Unlock()
}

// Invalidate removes entries matching task and provider. An empty argument
// matches everything for that dimension, so Invalidate("", "") clears the cache.
// It returns the number of entries removed.
func (c *Cache[V]) Invalidate(task tasks.TaskType, provider string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if task != "" && e.task != task {
			continue
		}
		if provider != "" && e.provider != provider {
			continue
		}
		delete(c.entries, key)
		removed++
	}
	return removed
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep evicts expired entries and returns how many were removed.
func (c *Cache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if !c.validLocked(e) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// StartCleanup sweeps every interval until ctx is done.
func (c *Cache[V]) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.Sweep(); n > 0 {
					log.Debug().Int("evicted", n).Msg("cache: swept expired entries")
				}
			}
		}
	}()
}

func (c *Cache[V]) validLocked(e *entry[V]) bool {
	return c.nowFn().Sub(e.createdAt) < c.ttl
}
