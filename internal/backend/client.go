// Package backend provides a client for the transport backend.
//
// DESIGN: The backend holds provider credentials and performs the actual
// model calls. The gateway never talks to a vendor directly. Everything it
// needs from the outside world goes through Client:
//   - FetchConfig:   provider registry, default provider, task mapping
//   - Generate:      one non-streaming call
//   - Stream:        one streaming call, newline-delimited JSON body
//   - Log*/Save*:    persistence of usage, failures, budgets and rates
//
// FILES:
//   - client.go: API client and HTTP helpers
//   - types.go:  Request/response types
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/compresr/llm-gateway/internal/config"
	"github.com/compresr/llm-gateway/internal/utils"
)

const userAgent = "llm-gateway/1.0"

// ErrMalformedResponse is returned when a backend payload lacks required fields.
var ErrMalformedResponse = errors.New("malformed backend response")

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// =============================================================================
// Client
// =============================================================================

// Client is the backend API client.
type Client struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	streamClient *http.Client
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client for non-streaming calls.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets the HTTP client timeout for non-streaming calls.
// Streams are bounded by their context only.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(client *Client) {
		client.httpClient.Timeout = timeout
	}
}

// NewClient creates a backend client.
// It reads LLM_BACKEND_URL and LLM_BACKEND_API_KEY from environment if not provided.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("LLM_BACKEND_URL")
	}
	if apiKey == "" {
		apiKey = os.Getenv("LLM_BACKEND_API_KEY")
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: config.DefaultBackendTimeout,
		},
		streamClient: &http.Client{},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// BaseURL returns the configured backend URL.
func (c *Client) BaseURL() string { return c.baseURL }

// MaskedKey returns the API key masked for logging.
func (c *Client) MaskedKey() string { return utils.MaskKey(c.apiKey) }

// =============================================================================
// CONFIG API
// =============================================================================

// FetchConfig loads the provider configuration.
func (c *Client) FetchConfig(ctx context.Context) (*RemoteConfig, error) {
	var resp APIResponse[RemoteConfig]
	if err := c.get(ctx, "/api/llm/config", &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("API error: %s", resp.Message)
	}
	return &resp.Data, nil
}

// =============================================================================
// GENERATION API
// =============================================================================

// Generate performs one non-streaming call.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	payload, err := buildPayload(req, false)
	if err != nil {
		return nil, err
	}

	body, err := c.do(ctx, c.httpClient, http.MethodPost, "/api/llm/generate", payload, "application/json")
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(body, config.MaxResponseSize))
	_ = body.Close()
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return ParseGenerateResult(data)
}

// Stream opens a streaming call. The caller owns the returned body and must
// close it; cancelling ctx also aborts the read.
func (c *Client) Stream(ctx context.Context, req GenerateRequest) (io.ReadCloser, error) {
	payload, err := buildPayload(req, true)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, c.streamClient, http.MethodPost, "/api/llm/stream", payload, "application/x-ndjson")
}

func buildPayload(req GenerateRequest, stream bool) ([]byte, error) {
	if req.Prompt == nil {
		return nil, fmt.Errorf("prompt is required")
	}
	prompt, err := utils.MarshalNoEscape(req.Prompt.Fields())
	if err != nil {
		return nil, fmt.Errorf("marshaling prompt: %w", err)
	}

	fields := map[string]any{
		"provider": req.Provider,
		"taskType": string(req.TaskType),
	}
	if req.RequestID != "" {
		fields["requestId"] = req.RequestID
	}
	if req.Model != "" {
		fields["model"] = req.Model
	}
	if stream {
		fields["stream"] = true
	}
	if len(req.Options) > 0 {
		fields["options"] = req.Options
	}

	payload := []byte(`{}`)
	for path, value := range fields {
		if payload, err = sjson.SetBytes(payload, path, value); err != nil {
			return nil, fmt.Errorf("building payload: %w", err)
		}
	}
	if payload, err = sjson.SetRawBytes(payload, "prompt", prompt); err != nil {
		return nil, fmt.Errorf("building payload: %w", err)
	}
	return payload, nil
}

// ParseGenerateResult extracts content and usage from a generate response.
// Both wrapped ({"success":..,"data":{..}}) and bare result objects are accepted.
func ParseGenerateResult(data []byte) (*GenerateResult, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformedResponse)
	}
	root := gjson.ParseBytes(data)
	if s := root.Get("success"); s.Exists() && !s.Bool() {
		return nil, fmt.Errorf("API error: %s", root.Get("message").String())
	}
	result := root
	if d := root.Get("data"); d.IsObject() {
		result = d
	}

	content := result.Get("content")
	if !content.Exists() || content.Type != gjson.String {
		return nil, fmt.Errorf("%w: missing content", ErrMalformedResponse)
	}

	out := &GenerateResult{
		Content: content.String(),
		Raw:     json.RawMessage(result.Raw),
	}
	in := firstOf(result, "usage.inputTokens", "usage.input_tokens", "usage.prompt_tokens")
	outTok := firstOf(result, "usage.outputTokens", "usage.output_tokens", "usage.completion_tokens")
	if in.Exists() || outTok.Exists() {
		out.HasUsage = true
		out.InputTokens = in.Int()
		out.OutputTokens = outTok.Int()
	}
	return out, nil
}

func firstOf(r gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

// =============================================================================
// PERSISTENCE API
// =============================================================================

// LogUsage records a billable call.
func (c *Client) LogUsage(ctx context.Context, u UsageLog) error {
	return c.send(ctx, http.MethodPost, "/api/llm/usage", u)
}

// LogError records a provider failure.
func (c *Client) LogError(ctx context.Context, e ErrorLog) error {
	return c.send(ctx, http.MethodPost, "/api/llm/errors", e)
}

// SaveBudget persists a budget window.
func (c *Client) SaveBudget(ctx context.Context, b BudgetUpdate) error {
	return c.send(ctx, http.MethodPut, "/api/llm/budget", b)
}

// SaveRate persists a provider price rate.
func (c *Client) SaveRate(ctx context.Context, r RateUpdate) error {
	return c.send(ctx, http.MethodPut, "/api/llm/rates", r)
}

func (c *Client) send(ctx context.Context, method, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}
	var resp APIResponse[json.RawMessage]
	if err := c.roundTrip(ctx, method, path, body, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("API error: %s", resp.Message)
	}
	return nil
}

// =============================================================================
// HTTP Helpers
// =============================================================================

func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.roundTrip(ctx, http.MethodGet, path, nil, result)
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte, result any) error {
	body, err := c.do(ctx, c.httpClient, method, path, payload, "application/json")
	if err != nil {
		return err
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, config.MaxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// do sends a request and returns the body of a 200 response.
func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, payload []byte, accept string) (io.ReadCloser, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("no backend URL configured")
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", userAgent)

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, config.MaxErrorBodyLogLen))
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("invalid API key")
		}
		return nil, &StatusError{Code: resp.StatusCode, Body: utils.Truncate(string(data), config.MaxErrorBodyLogLen)}
	}
	return resp.Body, nil
}
