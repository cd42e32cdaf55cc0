package tokens

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeuristic(t *testing.T) {
	assert.Equal(t, 0, Heuristic(""))
	assert.Equal(t, 1, Heuristic("hi"))
	assert.Equal(t, 1, Heuristic("four"))
	assert.Equal(t, 25, Heuristic(strings.Repeat("a", 100)))
}

func TestHeuristicCounter(t *testing.T) {
	var c Counter = HeuristicCounter{}
	assert.Equal(t, 2, c.Count("12345678"))
}

func TestEstimator_EmptyTextSkipsEncodingLoad(t *testing.T) {
	e := NewEstimator("")
	e.loadFn = func(string) (*tiktoken.Tiktoken, error) {
		t.Error("encoding loaded for empty text")
		return nil, nil
	}
	assert.Equal(t, 0, e.Count(""))
	assert.Equal(t, "cl100k_base", e.encoding)
}

func TestEstimator_CountDoesNotWaitForSlowLoad(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	e := NewEstimator("cl100k_base")
	e.loadFn = func(string) (*tiktoken.Tiktoken, error) {
		<-release
		return nil, errors.New("offline")
	}

	done := make(chan int, 1)
	go func() { done <- e.Count(strings.Repeat("a", 40)) }()
	select {
	case n := <-done:
		assert.Equal(t, 10, n)
	case <-time.After(time.Second):
		t.Fatal("Count blocked on encoding load")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.Preload(ctx), context.DeadlineExceeded)
}

func TestEstimator_FailedLoadFallsBackToHeuristic(t *testing.T) {
	e := NewEstimator("no_such_encoding")
	e.loadFn = func(name string) (*tiktoken.Tiktoken, error) {
		return nil, errors.New("unknown encoding " + name)
	}

	require.ErrorIs(t, e.Preload(context.Background()), ErrEncodingUnavailable)
	assert.Equal(t, 3, e.Count("twelve chars"))
}
