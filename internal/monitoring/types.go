// Package monitoring - types.go defines shared types.
//
// DESIGN: These types are used by router/, stream/, gateway/ and monitoring/.
// Defined here ONCE to avoid duplication and circular imports.
package monitoring

import "time"

// CallKind distinguishes the two ways a provider is called.
type CallKind string

const (
	CallGenerate CallKind = "generate"
	CallStream   CallKind = "stream"
)

// CallEvent captures one provider call.
type CallEvent struct {
	RequestID    string    `json:"request_id"`
	Timestamp    time.Time `json:"timestamp"`
	Kind         CallKind  `json:"kind"`
	Provider     string    `json:"provider"`
	TaskType     string    `json:"task_type"`
	Success      bool      `json:"success"`
	Cached       bool      `json:"cached,omitempty"`
	Fallback     bool      `json:"fallback,omitempty"`
	Error        string    `json:"error,omitempty"`
	InputTokens  int64     `json:"input_tokens,omitempty"`
	OutputTokens int64     `json:"output_tokens,omitempty"`
	Cost         float64   `json:"cost,omitempty"`
	LatencyMs    int64     `json:"latency_ms"`
}

// =============================================================================
// CONFIG TYPES
// =============================================================================

// TelemetryConfig contains telemetry configuration.
type TelemetryConfig struct {
	Enabled     bool
	CallLogPath string
}

// LoggerConfig contains logging configuration.
type LoggerConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console, auto
	Output string // stdout, stderr, or file path
}
