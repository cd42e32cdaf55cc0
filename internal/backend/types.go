package backend

import (
	"encoding/json"
	"time"

	"github.com/compresr/llm-gateway/internal/tasks"
)

// APIResponse is the generic wrapper for backend responses.
type APIResponse[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    T      `json:"data"`
}

// =============================================================================
// CONFIG
// =============================================================================

// RemoteConfig is the provider configuration served by the backend.
type RemoteConfig struct {
	DefaultProvider string                    `json:"defaultProvider"`
	Providers       map[string]RemoteProvider `json:"providers"`
	TaskMapping     map[string]string         `json:"taskMapping"`
}

// RemoteProvider is one provider entry in RemoteConfig.
type RemoteProvider struct {
	Enabled       bool   `json:"enabled"`
	CredentialRef string `json:"credentialRef,omitempty"`
	Endpoint      string `json:"endpoint,omitempty"`
	Model         string `json:"model,omitempty"`
	TimeoutMs     int64  `json:"timeoutMs,omitempty"`
}

// =============================================================================
// GENERATION
// =============================================================================

// GenerateRequest is a single call routed to one provider.
type GenerateRequest struct {
	RequestID string
	Provider  string
	TaskType  tasks.TaskType
	Prompt    tasks.Prompt
	Model     string
	Options   map[string]any
}

// GenerateResult is the backend's answer to a generate call.
type GenerateResult struct {
	Content      string
	Raw          json.RawMessage
	InputTokens  int64
	OutputTokens int64
	// HasUsage is false when the backend reported no token usage.
	HasUsage bool
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// UsageLog is sent after each billable call.
type UsageLog struct {
	RequestID    string    `json:"requestId,omitempty"`
	Provider     string    `json:"provider"`
	TaskType     string    `json:"taskType"`
	InputTokens  int64     `json:"inputTokens"`
	OutputTokens int64     `json:"outputTokens"`
	Cost         float64   `json:"cost"`
	Timestamp    time.Time `json:"timestamp"`
}

// ErrorLog is sent after each provider failure.
type ErrorLog struct {
	Provider  string    `json:"provider"`
	TaskType  string    `json:"taskType"`
	Message   string    `json:"message"`
	SessionID string    `json:"sessionId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// BudgetUpdate persists one budget window.
type BudgetUpdate struct {
	Window    string  `json:"window"`
	Amount    float64 `json:"amount"`
	Threshold float64 `json:"threshold"`
}

// RateUpdate persists one provider price rate.
type RateUpdate struct {
	Provider    string  `json:"provider"`
	InputPer1K  float64 `json:"inputPer1k"`
	OutputPer1K float64 `json:"outputPer1k"`
}
