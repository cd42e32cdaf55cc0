package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/compresr/llm-gateway/internal/tasks"
)

func TestFetchConfig(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/llm/config", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"success":true,"data":{"defaultProvider":"openai","providers":{"openai":{"enabled":true,"model":"gpt-4o","timeoutMs":5000}},"taskMapping":{"summarization":"openai"}}}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "test-key")
	cfg, err := c.FetchConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.DefaultProvider)
	assert.True(t, cfg.Providers["openai"].Enabled)
	assert.Equal(t, int64(5000), cfg.Providers["openai"].TimeoutMs)
	assert.Equal(t, "openai", cfg.TaskMapping["summarization"])
}

func TestFetchConfig_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"api error", http.StatusOK, `{"success":false,"message":"nope"}`},
		{"unauthorized", http.StatusUnauthorized, `{}`},
		{"server error", http.StatusInternalServerError, `boom`},
		{"bad json", http.StatusOK, `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewClient(server.URL, "k").FetchConfig(context.Background())
			assert.Error(t, err)
		})
	}
}

func TestStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "k").Generate(context.Background(), GenerateRequest{Provider: "openai", Prompt: tasks.QuestionPrompt{Question: "q"}})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.Equal(t, "upstream down", se.Body)
}

func TestGenerate_Payload(t *testing.T) {
	gotCh := make(chan []byte, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/llm/generate", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		gotCh <- body
		_, _ = w.Write([]byte(`{"content":"hi there","usage":{"inputTokens":12,"outputTokens":3}}`))
	}))
	defer server.Close()

	res, err := NewClient(server.URL, "k").Generate(context.Background(), GenerateRequest{
		RequestID: "req-1",
		Provider:  "openai",
		TaskType:  tasks.QuestionAnswering,
		Prompt:    tasks.QuestionPrompt{Question: "hello?"},
		Options:   map[string]any{"temperature": 0.2},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", res.Content)
	assert.True(t, res.HasUsage)
	assert.Equal(t, int64(12), res.InputTokens)
	assert.Equal(t, int64(3), res.OutputTokens)

	got := <-gotCh
	assert.Equal(t, "openai", gjson.GetBytes(got, "provider").String())
	assert.Equal(t, "question_answering", gjson.GetBytes(got, "taskType").String())
	assert.Equal(t, "hello?", gjson.GetBytes(got, "prompt.question").String())
	assert.Equal(t, "req-1", gjson.GetBytes(got, "requestId").String())
	assert.InDelta(t, 0.2, gjson.GetBytes(got, "options.temperature").Float(), 1e-9)
	assert.False(t, gjson.GetBytes(got, "stream").Exists())
}

func TestGenerate_NilPrompt(t *testing.T) {
	_, err := NewClient("http://127.0.0.1:1", "k").Generate(context.Background(), GenerateRequest{Provider: "x"})
	assert.Error(t, err)
}

func TestGenerate_NoBackendURL(t *testing.T) {
	t.Setenv("LLM_BACKEND_URL", "")
	_, err := NewClient("", "").Generate(context.Background(), GenerateRequest{Prompt: tasks.QuestionPrompt{Question: "q"}})
	assert.ErrorContains(t, err, "no backend URL")
}

func TestParseGenerateResult(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		content   string
		hasUsage  bool
		input     int64
		output    int64
		wantErr   bool
		malformed bool
	}{
		{name: "bare", body: `{"content":"a"}`, content: "a"},
		{name: "wrapped", body: `{"success":true,"data":{"content":"b","usage":{"input_tokens":4,"output_tokens":2}}}`, content: "b", hasUsage: true, input: 4, output: 2},
		{name: "openai style usage", body: `{"content":"c","usage":{"prompt_tokens":7,"completion_tokens":1}}`, content: "c", hasUsage: true, input: 7, output: 1},
		{name: "api failure", body: `{"success":false,"message":"quota"}`, wantErr: true},
		{name: "missing content", body: `{"text":"x"}`, wantErr: true, malformed: true},
		{name: "non string content", body: `{"content":42}`, wantErr: true, malformed: true},
		{name: "invalid json", body: `{"content":`, wantErr: true, malformed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ParseGenerateResult([]byte(tt.body))
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.malformed, errors.Is(err, ErrMalformedResponse))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.content, res.Content)
			assert.Equal(t, tt.hasUsage, res.HasUsage)
			assert.Equal(t, tt.input, res.InputTokens)
			assert.Equal(t, tt.output, res.OutputTokens)
		})
	}
}

func TestStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/llm/stream", r.URL.Path)
		assert.Equal(t, "application/x-ndjson", r.Header.Get("Accept"))
		body, _ := io.ReadAll(r.Body)
		assert.True(t, gjson.GetBytes(body, "stream").Bool())
		_, _ = w.Write([]byte("{\"content\":\"a\"}\n{\"content\":\"b\"}\n[DONE]\n"))
	}))
	defer server.Close()

	// The non-streaming timeout does not apply to streams.
	c := NewClient(server.URL, "k", WithTimeout(time.Nanosecond))
	body, err := c.Stream(context.Background(), GenerateRequest{Provider: "openai", Prompt: tasks.CreativePrompt{Prompt: "p"}})
	require.NoError(t, err)
	defer body.Close()

	var lines []string
	sc := bufio.NewScanner(body)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	assert.Equal(t, []string{`{"content":"a"}`, `{"content":"b"}`, "[DONE]"}, lines)
}

func TestPersistence(t *testing.T) {
	var mu sync.Mutex
	calls := map[string]json.RawMessage{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		calls[r.Method+" "+r.URL.Path] = body
		mu.Unlock()
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "k")
	ctx := context.Background()
	require.NoError(t, c.LogUsage(ctx, UsageLog{Provider: "openai", InputTokens: 1}))
	require.NoError(t, c.LogError(ctx, ErrorLog{Provider: "openai", Message: "boom"}))
	require.NoError(t, c.SaveBudget(ctx, BudgetUpdate{Window: "daily", Amount: 5, Threshold: 4}))
	require.NoError(t, c.SaveRate(ctx, RateUpdate{Provider: "openai", InputPer1K: 0.5}))

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, int64(1), gjson.GetBytes(calls["POST /api/llm/usage"], "inputTokens").Int())
	assert.Equal(t, "boom", gjson.GetBytes(calls["POST /api/llm/errors"], "message").String())
	assert.Equal(t, "daily", gjson.GetBytes(calls["PUT /api/llm/budget"], "window").String())
	assert.InDelta(t, 0.5, gjson.GetBytes(calls["PUT /api/llm/rates"], "inputPer1k").Float(), 1e-9)
}

func TestMaskedKey(t *testing.T) {
	assert.Equal(t, "****", NewClient("http://x", "short").MaskedKey())
}
