// Package gateway types - request and response bodies of the HTTP surface.
package gateway

import (
	"encoding/json"

	"github.com/compresr/llm-gateway/internal/accounting"
	"github.com/compresr/llm-gateway/internal/monitoring"
)

// =============================================================================
// REQUESTS
// =============================================================================

// GenerateRequest is the body of POST /v1/generate and POST /v1/stream, and
// the first message on the /v1/stream WebSocket.
type GenerateRequest struct {
	TaskType   string          `json:"task_type"`
	Prompt     json.RawMessage `json:"prompt"`
	Provider   string          `json:"provider,omitempty"`
	SkipCache  bool            `json:"skip_cache,omitempty"`
	NoFallback bool            `json:"no_fallback,omitempty"`
	Params     map[string]any  `json:"params,omitempty"`
}

// BudgetRequest is the body of PUT /v1/budget.
type BudgetRequest struct {
	Window    string   `json:"window"`
	Amount    float64  `json:"amount"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// RateRequest is the body of PUT /v1/rates/{provider}.
type RateRequest struct {
	InputPer1K  float64 `json:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k"`
}

// InvalidateRequest is the body of POST /v1/cache/invalidate. Empty fields
// match everything.
type InvalidateRequest struct {
	TaskType string `json:"task_type,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// ProviderRequest is the body of PUT /v1/providers/{id}.
type ProviderRequest struct {
	Enabled       bool   `json:"enabled"`
	CredentialRef string `json:"credential_ref,omitempty"`
	Endpoint      string `json:"endpoint,omitempty"`
	Model         string `json:"model,omitempty"`
	TimeoutMs     int64  `json:"timeout_ms,omitempty"`
}

// RouteRequest is the body of PUT /v1/routing/{task} and PUT /v1/default-provider.
type RouteRequest struct {
	Provider string `json:"provider"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// BudgetResponse is returned by the budget endpoints.
type BudgetResponse struct {
	Budget accounting.Budget       `json:"budget"`
	Status accounting.BudgetStatus `json:"status"`
}

// ErrorsResponse is returned by GET /v1/errors.
type ErrorsResponse struct {
	Total   int64                   `json:"total"`
	Counts  map[string]int64        `json:"counts"`
	Entries []monitoring.ErrorEntry `json:"entries"`
}

// errorBody is the shape of every error response.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message  string `json:"message"`
	Type     string `json:"type"`
	Attempts int    `json:"attempts,omitempty"`
}

// wsMessage is a client message on the /v1/stream WebSocket after the
// initial request. Only "cancel" is understood.
type wsMessage struct {
	Type string `json:"type"`
}

// wsSession announces the session to a WebSocket client.
type wsSession struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Provider  string `json:"provider"`
}
