package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/compresr/llm-gateway/internal/backend"
	"github.com/compresr/llm-gateway/internal/benchmark"
	"github.com/compresr/llm-gateway/internal/config"
	"github.com/compresr/llm-gateway/internal/router"
	"github.com/compresr/llm-gateway/internal/stream"
	"github.com/compresr/llm-gateway/internal/tasks"
	"github.com/compresr/llm-gateway/internal/tokens"
)

// =============================================================================
// FAKE BACKEND
// =============================================================================

// fakeBackend serves the backend API for two providers, alpha and beta.
type fakeBackend struct {
	mu      sync.Mutex
	failing map[string]bool
	hold    bool
	release chan struct{}
	calls   int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{failing: map[string]bool{}, release: make(chan struct{})}
}

func (f *fakeBackend) setFailing(provider string, failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[provider] = failing
}

func (f *fakeBackend) setHold(hold bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hold = hold
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	provider := gjson.GetBytes(body, "provider").String()

	f.mu.Lock()
	failing, hold := f.failing[provider], f.hold
	f.calls++
	f.mu.Unlock()

	switch r.URL.Path {
	case "/api/llm/config":
		_, _ = io.WriteString(w, `{"success":true,"data":{"defaultProvider":"alpha",`+
			`"providers":{"alpha":{"enabled":true},"beta":{"enabled":true}},"taskMapping":{}}}`)
	case "/api/llm/generate":
		if failing {
			http.Error(w, `{"error":"upstream exploded"}`, http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, `{"success":true,"data":{"content":"hello from `+provider+`",`+
			`"usage":{"inputTokens":1000,"outputTokens":500}}}`)
	case "/api/llm/stream":
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = io.WriteString(w, `{"content":"Hel"}`+"\n")
		w.(http.Flusher).Flush()
		if hold {
			select {
			case <-r.Context().Done():
			case <-f.release:
			}
			return
		}
		_, _ = io.WriteString(w, `{"content":"lo"}`+"\n[DONE]\n")
	default:
		_, _ = io.WriteString(w, `{"success":true}`)
	}
}

type harness struct {
	gw      *Gateway
	rt      *router.Router
	backend *fakeBackend
	srv     *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fb := newFakeBackend()
	backendSrv := httptest.NewServer(fb)
	t.Cleanup(backendSrv.Close)

	cfg := config.Default()
	cfg.PriceRates = map[string]config.PriceRate{"alpha": {InputPer1K: 0.5, OutputPer1K: 1.5}}

	client := backend.NewClient(backendSrv.URL, "test-key-0123456789")
	rt := router.New(cfg, client, router.WithTokenCounter(tokens.HeuristicCounter{}))
	require.NoError(t, rt.Initialize(context.Background()))

	sm := stream.NewManager(client, rt, stream.WithMetrics(rt.Metrics()))
	bench := benchmark.New(rt, cfg.Benchmark)
	gw := New(cfg, rt, sm, bench)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		sm.Close()
		close(fb.release)
		srv.Close()
		rt.Flush()
	})
	return &harness{gw: gw, rt: rt, backend: fb, srv: srv}
}

func (h *harness) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func summarizeBody() map[string]any {
	return map[string]any{"task_type": "summarization", "prompt": map[string]any{"text": "a long passage"}}
}

// =============================================================================
// GENERATE
// =============================================================================

func TestHealth(t *testing.T) {
	h := newHarness(t)
	resp, body := h.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", gjson.GetBytes(body, "status").String())
	assert.Equal(t, int64(2), gjson.GetBytes(body, "providers").Int())
}

func TestGenerate_Success(t *testing.T) {
	h := newHarness(t)
	resp, body := h.do(t, http.MethodPost, "/v1/generate", summarizeBody())
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	assert.Equal(t, "hello from alpha", gjson.GetBytes(body, "content").String())
	assert.Equal(t, "alpha", gjson.GetBytes(body, "provider").String())
	assert.InDelta(t, 1.25, gjson.GetBytes(body, "cost").Float(), 1e-9)
	assert.False(t, gjson.GetBytes(body, "cached").Bool())

	_, body = h.do(t, http.MethodPost, "/v1/generate", summarizeBody())
	assert.True(t, gjson.GetBytes(body, "cached").Bool())
}

func TestGenerate_FallbackAndErrorLog(t *testing.T) {
	h := newHarness(t)
	h.backend.setFailing("alpha", true)

	resp, body := h.do(t, http.MethodPost, "/v1/generate", summarizeBody())
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "beta", gjson.GetBytes(body, "provider").String())
	assert.True(t, gjson.GetBytes(body, "fallback").Bool())

	_, body = h.do(t, http.MethodGet, "/v1/errors", nil)
	assert.Equal(t, int64(1), gjson.GetBytes(body, "total").Int())
	assert.Equal(t, "alpha", gjson.GetBytes(body, "entries.0.provider").String())

	_, body = h.do(t, http.MethodGet, "/v1/errors?provider=beta", nil)
	assert.Empty(t, gjson.GetBytes(body, "entries").Array())
}

func TestGenerate_AllProvidersFailed(t *testing.T) {
	h := newHarness(t)
	h.backend.setFailing("alpha", true)
	h.backend.setFailing("beta", true)

	resp, body := h.do(t, http.MethodPost, "/v1/generate", summarizeBody())
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "all_providers_failed", gjson.GetBytes(body, "error.type").String())
	assert.Equal(t, int64(2), gjson.GetBytes(body, "error.attempts").Int())
}

func TestGenerate_NoFallbackSurfacesProviderError(t *testing.T) {
	h := newHarness(t)
	h.backend.setFailing("alpha", true)

	req := summarizeBody()
	req["no_fallback"] = true
	resp, body := h.do(t, http.MethodPost, "/v1/generate", req)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "provider_error", gjson.GetBytes(body, "error.type").String())
}

func TestGenerate_BadRequests(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"unknown task", map[string]any{"task_type": "juggling", "prompt": map[string]any{}}, http.StatusBadRequest},
		{"missing prompt", map[string]any{"task_type": "summarization"}, http.StatusBadRequest},
		{"unknown provider", map[string]any{"task_type": "summarization", "prompt": map[string]any{"text": "x"}, "provider": "gamma"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := h.do(t, http.MethodPost, "/v1/generate", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}

	resp, err := http.Post(h.srv.URL+"/v1/generate", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// BUDGET, RATES, USAGE, CACHE
// =============================================================================

func TestBudgetAndRates(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, http.MethodPut, "/v1/budget", map[string]any{"window": "daily", "amount": 50})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.InDelta(t, 40, gjson.GetBytes(body, "budget.daily_threshold").Float(), 1e-9)

	resp, _ = h.do(t, http.MethodPut, "/v1/budget", map[string]any{"window": "weekly", "amount": 5})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	h.do(t, http.MethodPost, "/v1/generate", summarizeBody())
	_, body = h.do(t, http.MethodGet, "/v1/budget", nil)
	assert.InDelta(t, 1.25, gjson.GetBytes(body, "status.daily.cost").Float(), 1e-9)
	assert.False(t, gjson.GetBytes(body, "status.daily.exceeded").Bool())

	// repricing applies to recorded history
	resp, body = h.do(t, http.MethodPut, "/v1/rates/alpha", map[string]any{"input_per_1k": 1, "output_per_1k": 2})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	_, body = h.do(t, http.MethodGet, "/v1/budget", nil)
	assert.InDelta(t, 2.0, gjson.GetBytes(body, "status.daily.cost").Float(), 1e-9)

	resp, _ = h.do(t, http.MethodPut, "/v1/rates/alpha", map[string]any{"input_per_1k": -1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, body = h.do(t, http.MethodGet, "/v1/rates", nil)
	assert.InDelta(t, 2.0, gjson.GetBytes(body, "alpha.output_per_1k").Float(), 1e-9)

	_, body = h.do(t, http.MethodGet, "/v1/usage?provider=alpha", nil)
	assert.Equal(t, int64(1000), gjson.GetBytes(body, "input_tokens").Int())

	resp, _ = h.do(t, http.MethodDelete, "/v1/usage", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_, body = h.do(t, http.MethodGet, "/v1/budget", nil)
	assert.Zero(t, gjson.GetBytes(body, "status.daily.cost").Float())
	assert.InDelta(t, 50, gjson.GetBytes(body, "budget.daily").Float(), 1e-9)
}

func TestCacheInvalidate(t *testing.T) {
	h := newHarness(t)
	h.do(t, http.MethodPost, "/v1/generate", summarizeBody())

	resp, body := h.do(t, http.MethodPost, "/v1/cache/invalidate", map[string]any{"provider": "beta"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(0), gjson.GetBytes(body, "removed").Int())

	_, body = h.do(t, http.MethodPost, "/v1/cache/invalidate", nil)
	assert.Equal(t, int64(1), gjson.GetBytes(body, "removed").Int())

	resp, _ = h.do(t, http.MethodPost, "/v1/cache/invalidate", map[string]any{"task_type": "nope"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStats_LoopbackOnly(t *testing.T) {
	h := newHarness(t)
	h.do(t, http.MethodPost, "/v1/generate", summarizeBody())

	resp, body := h.do(t, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(1), gjson.GetBytes(body, "requests.total").Int())
	assert.Equal(t, int64(1), gjson.GetBytes(body, "cache_entries").Int())

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	rec := httptest.NewRecorder()
	h.gw.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestIsLoopback(t *testing.T) {
	assert.True(t, isLoopback("127.0.0.1:80"))
	assert.True(t, isLoopback("[::1]:80"))
	assert.True(t, isLoopback("localhost"))
	assert.False(t, isLoopback("192.168.1.5:80"))
}

// =============================================================================
// PROVIDERS
// =============================================================================

func TestProviders_AdminRoutes(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, http.MethodPut, "/v1/providers/gamma", map[string]any{"enabled": true, "model": "g-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = h.do(t, http.MethodPut, "/v1/routing/translation", map[string]any{"provider": "gamma"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "gamma", gjson.GetBytes(body, "taskMapping.translation").String())

	resp, _ = h.do(t, http.MethodPut, "/v1/routing/translation", map[string]any{"provider": "missing"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = h.do(t, http.MethodPut, "/v1/default-provider", map[string]any{"provider": "beta"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "beta", gjson.GetBytes(body, "defaultProvider").String())

	resp, _ = h.do(t, http.MethodDelete, "/v1/providers/gamma?reassign=alpha", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, body = h.do(t, http.MethodGet, "/v1/providers", nil)
	assert.False(t, gjson.GetBytes(body, "providers.gamma").Exists())
	assert.Equal(t, "alpha", gjson.GetBytes(body, "taskMapping.translation").String())
}

func TestProviders_RemoveBlockedByLiveSession(t *testing.T) {
	h := newHarness(t)
	h.backend.setHold(true)

	sess, err := h.gw.streams.CreateSession(context.Background(), stream.Request{
		TaskType: tasks.Summarization,
		Prompt:   tasks.SummaryPrompt{Text: "x"},
	})
	require.NoError(t, err)
	<-sess.Events()

	resp, body := h.do(t, http.MethodDelete, "/v1/providers/alpha", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, string(body))

	sess.Cancel()
	resp, _ = h.do(t, http.MethodDelete, "/v1/providers/alpha?reassign=beta", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

// =============================================================================
// STREAMING
// =============================================================================

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/stream"
}

func TestStreamWS_Completes(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(h.srv), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.NoError(t, wsjson.Write(ctx, conn, summarizeBody()))

	var hello wsSession
	require.NoError(t, wsjson.Read(ctx, conn, &hello))
	assert.Equal(t, "session", hello.Type)
	assert.Equal(t, "alpha", hello.Provider)

	var events []stream.Event
	for {
		var ev stream.Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
			break
		}
		events = append(events, ev)
	}
	require.Len(t, events, 3)
	assert.Equal(t, stream.EventComplete, events[2].Type)
	assert.Equal(t, "Hello", events[2].Content)

	_, body := h.do(t, http.MethodGet, "/v1/sessions/"+hello.SessionID, nil)
	assert.Equal(t, "completed", gjson.GetBytes(body, "state").String())
}

func TestStreamWS_Cancel(t *testing.T) {
	h := newHarness(t)
	h.backend.setHold(true)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(h.srv), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.NoError(t, wsjson.Write(ctx, conn, summarizeBody()))
	var hello wsSession
	require.NoError(t, wsjson.Read(ctx, conn, &hello))

	var first stream.Event
	require.NoError(t, wsjson.Read(ctx, conn, &first))
	assert.Equal(t, "Hel", first.Content)

	require.NoError(t, wsjson.Write(ctx, conn, wsMessage{Type: "cancel"}))

	var ev stream.Event
	err = wsjson.Read(ctx, conn, &ev)
	require.Error(t, err)
	assert.Equal(t, closeCancelled, websocket.CloseStatus(err))

	_, body := h.do(t, http.MethodGet, "/v1/sessions/"+hello.SessionID, nil)
	assert.Equal(t, "cancelled", gjson.GetBytes(body, "state").String())
	assert.Zero(t, h.rt.ErrorLog().Total())
}

func TestStreamWS_InvalidRequest(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(h.srv), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.NoError(t, wsjson.Write(ctx, conn, map[string]any{"task_type": "juggling"}))
	var ev stream.Event
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, stream.EventError, ev.Type)

	err = wsjson.Read(ctx, conn, &ev)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}

func TestStreamHTTP_NDJSON(t *testing.T) {
	h := newHarness(t)
	data, err := json.Marshal(summarizeBody())
	require.NoError(t, err)

	resp, err := http.Post(h.srv.URL+"/v1/stream", "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id := resp.Header.Get("X-Session-ID")
	require.NotEmpty(t, id)

	var types []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		types = append(types, gjson.Get(sc.Text(), "type").String())
	}
	assert.Equal(t, []string{"progress", "progress", "complete"}, types)

	_, body := h.do(t, http.MethodGet, "/v1/sessions/"+id, nil)
	assert.Equal(t, "Hello", gjson.GetBytes(body, "content").String())
}

func TestStreamHTTP_CancelViaSessionRoute(t *testing.T) {
	h := newHarness(t)
	h.backend.setHold(true)
	data, err := json.Marshal(summarizeBody())
	require.NoError(t, err)

	resp, err := http.Post(h.srv.URL+"/v1/stream", "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	id := resp.Header.Get("X-Session-ID")

	sc := bufio.NewScanner(resp.Body)
	require.True(t, sc.Scan())
	assert.Equal(t, "Hel", gjson.Get(sc.Text(), "content").String())

	cancelResp, body := h.do(t, http.MethodDelete, "/v1/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, cancelResp.StatusCode)
	assert.Equal(t, "cancelled", gjson.GetBytes(body, "state").String())

	var last string
	for sc.Scan() {
		last = sc.Text()
	}
	assert.Equal(t, "cancelled", gjson.Get(last, "type").String())
}

func TestSessions_Unknown(t *testing.T) {
	h := newHarness(t)
	resp, _ := h.do(t, http.MethodGet, "/v1/sessions/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = h.do(t, http.MethodDelete, "/v1/sessions/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// BENCHMARK
// =============================================================================

func TestBenchmarkRoutes(t *testing.T) {
	h := newHarness(t)

	resp, _ := h.do(t, http.MethodGet, "/v1/benchmark/summarization", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := h.do(t, http.MethodPost, "/v1/benchmark/summarization", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.True(t, gjson.GetBytes(body, "providers.alpha").Exists())
	assert.True(t, gjson.GetBytes(body, "providers.beta").Exists())
	assert.InDelta(t, 100, gjson.GetBytes(body, "providers.alpha.reliability").Float(), 1e-9)

	resp, _ = h.do(t, http.MethodGet, "/v1/benchmark/summarization", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPost, "/v1/benchmark/juggling", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
