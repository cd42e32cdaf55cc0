// Streaming endpoints.
//
// FLOW (WebSocket, GET /v1/stream):
//  1. Client sends a GenerateRequest as the first message
//  2. Gateway replies {"type":"session"} and relays every stream.Event
//  3. Client may send {"type":"cancel"} at any time
//  4. Gateway closes with 1000 on completion, 4499 on cancellation and
//     1011 on provider failure
//
// POST /v1/stream serves the same events as NDJSON for clients without
// WebSockets; DELETE /v1/sessions/{id} cancels it.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog/log"

	"github.com/compresr/llm-gateway/internal/config"
	"github.com/compresr/llm-gateway/internal/router"
	"github.com/compresr/llm-gateway/internal/stream"
	"github.com/compresr/llm-gateway/internal/utils"
)

// closeCancelled is the WebSocket close code for a cancelled session.
const closeCancelled websocket.StatusCode = 4499

// maxCloseReason keeps close reasons inside the 123-byte frame limit.
const maxCloseReason = 120

func (g *Gateway) startSession(ctx context.Context, req GenerateRequest) (*stream.Session, error) {
	task, prompt, err := parseGenerate(req)
	if err != nil {
		return nil, &router.ConfigError{Msg: "invalid stream request", Err: err}
	}
	return g.streams.CreateSession(ctx, stream.Request{
		TaskType: task,
		Prompt:   prompt,
		Provider: req.Provider,
		Params:   req.Params,
	})
}

// =============================================================================
// WEBSOCKET
// =============================================================================

func (g *Gateway) handleStreamWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("gateway: websocket accept failed")
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(config.MaxRequestBodySize)

	ctx := r.Context()
	var req GenerateRequest
	if err := wsjson.Read(ctx, conn, &req); err != nil {
		log.Debug().Err(err).Msg("gateway: websocket read request")
		return
	}

	sess, err := g.startSession(ctx, req)
	if err != nil {
		_ = wsjson.Write(ctx, conn, stream.Event{Type: stream.EventError, Error: err.Error()})
		_ = conn.Close(websocket.StatusPolicyViolation, utils.Truncate(err.Error(), maxCloseReason))
		return
	}
	if err := wsjson.Write(ctx, conn, wsSession{Type: "session", SessionID: sess.ID(), Provider: sess.Provider()}); err != nil {
		sess.Cancel()
		return
	}

	go func() {
		for {
			var msg wsMessage
			if err := wsjson.Read(ctx, conn, &msg); err != nil {
				// client went away
				sess.Cancel()
				return
			}
			if msg.Type == "cancel" {
				log.Debug().Str("session_id", sess.ID()).Msg("gateway: cancel requested")
				sess.Cancel()
			}
		}
	}()

	for ev := range sess.Events() {
		if err := wsjson.Write(ctx, conn, ev); err != nil {
			sess.Cancel()
			break
		}
	}

	_, err = sess.Wait(ctx)
	var cancelErr *stream.CancellationError
	switch {
	case err == nil:
		_ = conn.Close(websocket.StatusNormalClosure, "completed")
	case errors.As(err, &cancelErr):
		_ = conn.Close(closeCancelled, "cancelled")
	default:
		_ = conn.Close(websocket.StatusInternalError, utils.Truncate(err.Error(), maxCloseReason))
	}
}

// =============================================================================
// NDJSON
// =============================================================================

func (g *Gateway) handleStreamHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.writeError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	var req GenerateRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	sess, err := g.startSession(r.Context(), req)
	if err != nil {
		g.writeErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Session-ID", sess.ID())
	w.Header().Set("X-Provider", sess.Provider())
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for ev := range sess.Events() {
		if err := enc.Encode(ev); err != nil {
			sess.Cancel()
			break
		}
		flusher.Flush()
	}

	<-sess.Done()
	if st := sess.Status(); st.State == stream.Cancelled {
		_ = enc.Encode(map[string]string{"type": string(stream.Cancelled), "session_id": sess.ID()})
		flusher.Flush()
	}
}

// =============================================================================
// SESSIONS
// =============================================================================

func (g *Gateway) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	st, err := g.streams.GetStatus(r.PathValue("id"))
	if err != nil {
		g.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (g *Gateway) handleSessionCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := g.streams.CancelSession(id); err != nil {
		g.writeErr(w, err)
		return
	}
	st, err := g.streams.GetStatus(id)
	if err != nil {
		g.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
