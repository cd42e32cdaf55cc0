// Package tokens counts tokens for usage estimation.
//
// DESIGN: The backend normally reports token usage. When it does not, the
// gateway estimates from text. Estimator uses a tiktoken BPE encoding and
// counts with the characters-per-token heuristic until the encoding is
// loaded, or for good if it cannot be. tiktoken may download the encoding on
// first use, so loading runs in its own goroutine and never on the request
// path. Call Preload at startup to wait for it with a deadline.
package tokens

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"

	"github.com/compresr/llm-gateway/internal/config"
)

// ErrEncodingUnavailable is returned by Preload when the encoding failed to load.
var ErrEncodingUnavailable = errors.New("token encoding unavailable")

// Counter counts tokens in a piece of text.
type Counter interface {
	Count(text string) int
}

// Estimator counts with a tiktoken encoding, falling back to Heuristic.
type Estimator struct {
	encoding string
	loadFn   func(encoding string) (*tiktoken.Tiktoken, error)

	once  sync.Once
	ready chan struct{}
	enc   atomic.Pointer[tiktoken.Tiktoken]
}

// NewEstimator returns an estimator for the named encoding.
// An empty name selects config.DefaultTokenEncoding.
func NewEstimator(encoding string) *Estimator {
	if encoding == "" {
		encoding = config.DefaultTokenEncoding
	}
	return &Estimator{
		encoding: encoding,
		loadFn:   tiktoken.GetEncoding,
		ready:    make(chan struct{}),
	}
}

// Preload starts loading the encoding and waits until it is loaded or ctx is
// done. On timeout the load keeps going and Count switches over once it lands.
func (e *Estimator) Preload(ctx context.Context) error {
	e.start()
	select {
	case <-e.ready:
		if e.enc.Load() == nil {
			return ErrEncodingUnavailable
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Count returns the number of tokens in text. It never blocks on loading.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	e.start()
	enc := e.enc.Load()
	if enc == nil {
		return Heuristic(text)
	}
	return len(enc.Encode(text, nil, nil))
}

func (e *Estimator) start() {
	e.once.Do(func() { go e.load() })
}

func (e *Estimator) load() {
	defer close(e.ready)
	enc, err := e.loadFn(e.encoding)
	if err != nil {
		log.Warn().Err(err).Str("encoding", e.encoding).Msg("tokens: encoding unavailable, using heuristic")
		return
	}
	e.enc.Store(enc)
	log.Debug().Str("encoding", e.encoding).Msg("tokens: encoding loaded")
}

// HeuristicCounter counts with Heuristic only. It never touches the network.
type HeuristicCounter struct{}

func (HeuristicCounter) Count(text string) int { return Heuristic(text) }

// Heuristic estimates tokens as one per config.TokenEstimateRatio characters,
// with a floor of one token for non-empty text.
func Heuristic(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / config.TokenEstimateRatio
	if n == 0 {
		return 1
	}
	return n
}
