// Package registry holds the set of known providers and resolves which one
// serves a request.
//
// DESIGN: Resolution order is explicit provider, then the task mapping, then
// the default provider, then the first enabled provider in sorted order.
// Disabled providers are skipped at every step, so Resolve never returns a
// disabled provider and fails only when nothing is enabled (or an explicitly
// named provider does not exist).
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/compresr/llm-gateway/internal/tasks"
)

var (
	// ErrNoEnabledProvider is returned when every provider is disabled.
	ErrNoEnabledProvider = errors.New("no enabled provider")
	// ErrUnknownProvider is returned for provider ids the registry has never seen.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrProviderInUse blocks removal of a provider with live work.
	ErrProviderInUse = errors.New("provider in use")
)

// Provider describes one upstream LLM vendor.
type Provider struct {
	ID            string        `json:"id"`
	Enabled       bool          `json:"enabled"`
	CredentialRef string        `json:"credentialRef,omitempty"`
	Endpoint      string        `json:"endpoint,omitempty"`
	Model         string        `json:"model,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty"`
}

// Snapshot is a full copy of registry state.
type Snapshot struct {
	DefaultProvider string                    `json:"defaultProvider"`
	Providers       map[string]Provider       `json:"providers"`
	TaskMapping     map[tasks.TaskType]string `json:"taskMapping"`
}

// Registry is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	providers   map[string]Provider
	taskMapping map[tasks.TaskType]string
	defaultID   string
	inUse       func(id string) bool
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		providers:   make(map[string]Provider),
		taskMapping: make(map[tasks.TaskType]string),
	}
}

// Load replaces all registry state with snap.
func (r *Registry) Load(snap Snapshot) {
	providers := make(map[string]Provider, len(snap.Providers))
	for id, p := range snap.Providers {
		p.ID = id
		providers[id] = p
	}
	mapping := make(map[tasks.TaskType]string, len(snap.TaskMapping))
	for task, id := range snap.TaskMapping {
		mapping[task] = id
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = providers
	r.taskMapping = mapping
	r.defaultID = snap.DefaultProvider
}

// Snapshot returns a copy of the current state.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		DefaultProvider: r.defaultID,
		Providers:       make(map[string]Provider, len(r.providers)),
		TaskMapping:     make(map[tasks.TaskType]string, len(r.taskMapping)),
	}
	for id, p := range r.providers {
		snap.Providers[id] = p
	}
	for task, id := range r.taskMapping {
		snap.TaskMapping[task] = id
	}
	return snap
}

// SetInUseCheck installs the hook Remove consults before deleting a provider.
func (r *Registry) SetInUseCheck(fn func(id string) bool) {
	r.mu.Lock()
	r.inUse = fn
	r.mu.Unlock()
}

// =============================================================================
// RESOLUTION
// =============================================================================

// Resolve picks the provider for task. explicit may be empty.
func (r *Registry) Resolve(task tasks.TaskType, explicit string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if explicit != "" {
		p, ok := r.providers[explicit]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownProvider, explicit)
		}
		if p.Enabled {
			return explicit, nil
		}
	}
	if id, ok := r.taskMapping[task]; ok && r.enabledLocked(id) {
		return id, nil
	}
	if r.enabledLocked(r.defaultID) {
		return r.defaultID, nil
	}
	if ids := r.enabledIDsLocked(); len(ids) > 0 {
		return ids[0], nil
	}
	return "", ErrNoEnabledProvider
}

// Get returns the provider with id.
func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// EnabledIDs returns the enabled provider ids in sorted order.
func (r *Registry) EnabledIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabledIDsLocked()
}

// Default returns the configured default provider id.
func (r *Registry) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultID
}

func (r *Registry) enabledLocked(id string) bool {
	p, ok := r.providers[id]
	return ok && p.Enabled
}

func (r *Registry) enabledIDsLocked() []string {
	ids := make([]string, 0, len(r.providers))
	for id, p := range r.providers {
		if p.Enabled {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// =============================================================================
// ADMINISTRATION
// =============================================================================

// Upsert adds p or replaces the provider with the same id.
func (r *Registry) Upsert(p Provider) error {
	if p.ID == "" {
		return errors.New("provider id is required")
	}
	r.mu.Lock()
	r.providers[p.ID] = p
	r.mu.Unlock()
	return nil
}

// SetEnabled toggles a provider.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	p.Enabled = enabled
	r.providers[id] = p
	return nil
}

// SetTaskMapping routes task to id. An empty id removes the mapping.
func (r *Registry) SetTaskMapping(task tasks.TaskType, id string) error {
	if !task.Valid() {
		return fmt.Errorf("unknown task type %q", task)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == "" {
		delete(r.taskMapping, task)
		return nil
	}
	if _, ok := r.providers[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	r.taskMapping[task] = id
	return nil
}

// SetDefault changes the default provider.
func (r *Registry) SetDefault(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	r.defaultID = id
	return nil
}

// Remove deletes a provider. Task mappings and the default that point at it
// move to reassignTo, or are cleared when reassignTo is empty. Removal fails
// with ErrProviderInUse while the in-use hook reports live work.
func (r *Registry) Remove(id, reassignTo string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	if reassignTo == id {
		return fmt.Errorf("cannot reassign %s to itself", id)
	}
	if reassignTo != "" {
		if _, ok := r.providers[reassignTo]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownProvider, reassignTo)
		}
	}
	if r.inUse != nil && r.inUse(id) {
		return fmt.Errorf("%w: %s", ErrProviderInUse, id)
	}

	delete(r.providers, id)
	for task, mapped := range r.taskMapping {
		if mapped != id {
			continue
		}
		if reassignTo == "" {
			delete(r.taskMapping, task)
		} else {
			r.taskMapping[task] = reassignTo
		}
	}
	if r.defaultID == id {
		r.defaultID = reassignTo
	}
	return nil
}
