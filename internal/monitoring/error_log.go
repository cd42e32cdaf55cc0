// Package monitoring - error_log.go keeps provider failures in memory.
//
// DESIGN: Ring buffer of recent failures for the /v1/errors endpoint, plus
// exact per-provider counts that survive ring eviction. Entries are only
// appended; the log is never edited in place.
package monitoring

import (
	"sync"
	"time"
)

// ErrorEntry records a single failed provider call.
type ErrorEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Provider  string    `json:"provider"`
	TaskType  string    `json:"task_type"`
	Message   string    `json:"message"`
	SessionID string    `json:"session_id,omitempty"`
}

// ErrorLog keeps a ring buffer of recent failures.
type ErrorLog struct {
	mu         sync.RWMutex
	maxEntries int
	entries    []ErrorEntry
	total      int64
	byProvider map[string]int64
}

// NewErrorLog creates a log holding at most maxEntries recent failures.
func NewErrorLog(maxEntries int) *ErrorLog {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &ErrorLog{
		maxEntries: maxEntries,
		entries:    make([]ErrorEntry, 0, min(maxEntries, 128)),
		byProvider: make(map[string]int64),
	}
}

// Record appends a failure.
func (l *ErrorLog) Record(entry ErrorEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) >= l.maxEntries {
		// Shift: drop oldest
		copy(l.entries, l.entries[1:])
		l.entries[len(l.entries)-1] = entry
	} else {
		l.entries = append(l.entries, entry)
	}
	l.total++
	l.byProvider[entry.Provider]++
}

// Recent returns the most recent N entries (newest first).
func (l *ErrorLog) Recent(n int) []ErrorEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || len(l.entries) == 0 {
		return nil
	}
	if n > len(l.entries) {
		n = len(l.entries)
	}

	result := make([]ErrorEntry, n)
	for i := 0; i < n; i++ {
		result[i] = l.entries[len(l.entries)-1-i]
	}
	return result
}

// RecentForProvider returns the most recent N entries for one provider (newest first).
func (l *ErrorLog) RecentForProvider(provider string, n int) []ErrorEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 {
		return nil
	}
	var result []ErrorEntry
	for i := len(l.entries) - 1; i >= 0 && len(result) < n; i-- {
		if l.entries[i].Provider == provider {
			result = append(result, l.entries[i])
		}
	}
	return result
}

// Total returns the number of failures ever recorded.
func (l *ErrorLog) Total() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

// Counts returns failures per provider since startup.
func (l *ErrorLog) Counts() map[string]int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]int64, len(l.byProvider))
	for id, n := range l.byProvider {
		out[id] = n
	}
	return out
}
