package stream

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/llm-gateway/internal/backend"
	"github.com/compresr/llm-gateway/internal/tasks"
)

const readBufferSize = 4096

// Session is one streaming call.
type Session struct {
	id       string
	provider string
	task     tasks.TaskType
	prompt   tasks.Prompt
	params   map[string]any
	m        *Manager

	ctx    context.Context
	cancel context.CancelFunc
	events chan Event
	done   chan struct{}

	// sendMu serializes event sends against terminal transitions.
	sendMu sync.Mutex

	mu       sync.Mutex
	state    State
	content  strings.Builder
	start    time.Time
	end      time.Time
	err      error
	result   Result
	body     io.Closer
	bodyOnce sync.Once
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Provider returns the provider serving the session.
func (s *Session) Provider() string { return s.provider }

// Events returns the event channel. It is closed when the session ends.
func (s *Session) Events() <-chan Event { return s.events }

// Done is closed once the session is terminal.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		ID:        s.id,
		Provider:  s.provider,
		TaskType:  s.task,
		State:     s.state,
		Content:   s.content.String(),
		StartTime: s.start,
	}
	if !s.end.IsZero() {
		end := s.end
		st.EndTime = &end
	}
	if s.err != nil {
		st.Error = s.err.Error()
	}
	return st
}

// Wait blocks until the session is terminal or ctx is done. A cancelled
// session returns *CancellationError.
func (s *Session) Wait(ctx context.Context) (Result, error) {
	select {
	case <-s.done:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.err
}

// Cancel stops the session. It is a no-op on a terminal session.
func (s *Session) Cancel() {
	s.cancel()
	s.closeBody()
	s.finish(Cancelled, &CancellationError{SessionID: s.id})
}

// =============================================================================
// READ LOOP
// =============================================================================

func (s *Session) run() {
	defer close(s.events)
	defer s.closeBody()
	defer s.finish(Cancelled, &CancellationError{SessionID: s.id})

	s.mu.Lock()
	if s.state == Connecting {
		s.state = Streaming
	}
	s.mu.Unlock()

	body, err := s.m.transport.Stream(s.ctx, backend.GenerateRequest{
		RequestID: s.id,
		Provider:  s.provider,
		TaskType:  s.task,
		Prompt:    s.prompt,
		Options:   s.params,
	})
	if err != nil {
		s.finish(Failed, err)
		return
	}
	if !s.attachBody(body) {
		return
	}

	reader := bufio.NewReaderSize(body, readBufferSize)
	for {
		// ReadBytes keeps partial lines buffered until their newline arrives.
		line, readErr := reader.ReadBytes('\n')
		if len(line) > 0 {
			c := decodeLine(line)
			switch c.kind {
			case chunkDone:
				s.finish(Completed, nil)
				return
			case chunkError:
				s.finish(Failed, c.err)
				return
			case chunkContent:
				if !s.progress(c.content) {
					return
				}
				if c.done {
					s.finish(Completed, nil)
					return
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				s.finish(Completed, nil)
			} else {
				s.finish(Failed, readErr)
			}
			return
		}
	}
}

// attachBody hands the body to Cancel. It returns false if the session was
// already cancelled, in which case the body is closed here.
func (s *Session) attachBody(body io.ReadCloser) bool {
	context.AfterFunc(s.ctx, s.closeBody)
	s.mu.Lock()
	s.body = body
	cancelled := s.state.Terminal() || s.ctx.Err() != nil
	s.mu.Unlock()
	if cancelled {
		s.closeBody()
		s.finish(Cancelled, &CancellationError{SessionID: s.id})
		return false
	}
	return true
}

func (s *Session) closeBody() {
	s.mu.Lock()
	body := s.body
	s.mu.Unlock()
	if body == nil {
		return
	}
	s.bodyOnce.Do(func() { _ = body.Close() })
}

// progress appends delta and emits a progress event. It returns false once
// the session should stop reading.
func (s *Session) progress(delta string) bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	if s.state.Terminal() || s.ctx.Err() != nil {
		s.mu.Unlock()
		return false
	}
	s.content.WriteString(delta)
	content := s.content.String()
	s.mu.Unlock()

	return s.emit(Event{Type: EventProgress, SessionID: s.id, Delta: delta, Content: content})
}

func (s *Session) emit(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// finish performs the single terminal transition. Later calls are no-ops.
// Any failure observed after the context was cancelled is a cancellation.
func (s *Session) finish(state State, err error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	if state != Cancelled && s.ctx.Err() != nil {
		state, err = Cancelled, &CancellationError{SessionID: s.id}
	}
	s.state = state
	s.end = s.m.nowFn()
	s.err = err
	content := s.content.String()
	s.mu.Unlock()

	switch state {
	case Completed:
		call := s.m.router.RecordStreamUsage(s.id, s.provider, s.task, s.prompt, content)
		s.mu.Lock()
		s.result = Result{
			SessionID: s.id,
			Provider:  s.provider,
			TaskType:  s.task,
			Content:   content,
			Cost:      call.Cost,
			Budget:    call.Status,
		}
		s.mu.Unlock()
		s.emit(Event{Type: EventComplete, SessionID: s.id, Content: content})
	case Failed:
		s.m.router.RecordFailure(s.provider, s.task, err, s.id)
		s.emit(Event{Type: EventError, SessionID: s.id, Content: content, Error: err.Error()})
	case Cancelled:
		s.drain()
	}

	s.m.metrics.RecordStreamOutcome(string(state))
	log.Debug().Str("session_id", s.id).Str("state", string(state)).Int("content_len", len(content)).Msg("stream: session finished")

	close(s.done)
	s.cancel()
	s.m.schedulePurge(s.id)
}

// drain discards buffered events so none are observed after cancellation.
func (s *Session) drain() {
	for {
		select {
		case _, ok := <-s.events:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
