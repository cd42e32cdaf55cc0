package stream

import (
	"bytes"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/compresr/llm-gateway/internal/utils"
)

type chunkKind int

const (
	chunkSkip chunkKind = iota
	chunkContent
	chunkDone
	chunkError
)

type chunk struct {
	kind    chunkKind
	content string
	// done marks a content chunk that also ends the stream.
	done bool
	err  error
}

var (
	doneMarker = []byte("[DONE]")
	dataPrefix = []byte("data:")
)

// decodeLine interprets one line of a newline-delimited JSON stream.
// An optional SSE "data:" prefix is accepted.
func decodeLine(line []byte) chunk {
	line = bytes.TrimSpace(line)
	if bytes.HasPrefix(line, dataPrefix) {
		line = bytes.TrimSpace(line[len(dataPrefix):])
	}
	if len(line) == 0 {
		return chunk{kind: chunkSkip}
	}
	if bytes.Equal(line, doneMarker) {
		return chunk{kind: chunkDone}
	}
	if !gjson.ValidBytes(line) {
		return chunk{kind: chunkError, err: fmt.Errorf("%w: %q", ErrMalformedChunk, utils.Truncate(string(line), 80))}
	}

	r := gjson.ParseBytes(line)
	if e := r.Get("error"); e.Exists() && e.Type != gjson.Null {
		msg := e.String()
		if e.IsObject() {
			msg = e.Get("message").String()
		}
		return chunk{kind: chunkError, err: fmt.Errorf("stream error: %s", msg)}
	}

	done := r.Get("done").Bool()
	content := r.Get("content")
	if !content.Exists() {
		content = r.Get("choices.0.delta.content")
	}
	if !content.Exists() {
		if done {
			return chunk{kind: chunkDone}
		}
		return chunk{kind: chunkSkip}
	}
	return chunk{kind: chunkContent, content: content.String(), done: done}
}
