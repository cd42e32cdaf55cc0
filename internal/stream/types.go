package stream

import (
	"errors"
	"fmt"
	"time"

	"github.com/compresr/llm-gateway/internal/accounting"
	"github.com/compresr/llm-gateway/internal/tasks"
)

// State is a session's lifecycle state.
type State string

const (
	Connecting State = "connecting"
	Streaming  State = "streaming"
	Completed  State = "completed"
	Failed     State = "error"
	Cancelled  State = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

// EventType tags an Event.
type EventType string

const (
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is delivered on a session's event channel. Content is always the
// full accumulated text; Delta is what this event added.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Delta     string    `json:"delta,omitempty"`
	Content   string    `json:"content"`
	Error     string    `json:"error,omitempty"`
}

// Request starts a session.
type Request struct {
	TaskType tasks.TaskType
	Prompt   tasks.Prompt
	// Provider requests a specific provider. Ignored if it is disabled.
	Provider string
	Params   map[string]any
}

// Result is the outcome of a completed session.
type Result struct {
	SessionID string                  `json:"session_id"`
	Provider  string                  `json:"provider"`
	TaskType  tasks.TaskType          `json:"task_type"`
	Content   string                  `json:"content"`
	Cost      float64                 `json:"cost"`
	Budget    accounting.BudgetStatus `json:"budget"`
}

// Status is a point-in-time view of a session.
type Status struct {
	ID        string         `json:"id"`
	Provider  string         `json:"provider"`
	TaskType  tasks.TaskType `json:"task_type"`
	State     State          `json:"state"`
	Content   string         `json:"content"`
	StartTime time.Time      `json:"start_time"`
	EndTime   *time.Time     `json:"end_time,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// ErrSessionNotFound is returned for unknown or purged session ids.
var ErrSessionNotFound = errors.New("stream session not found")

// ErrMalformedChunk is returned for stream lines that are not valid JSON.
var ErrMalformedChunk = errors.New("malformed stream chunk")

// CancellationError is the outcome of a session that was cancelled.
// It is never written to the provider error log.
type CancellationError struct {
	SessionID string
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("stream %s cancelled", e.SessionID)
}
