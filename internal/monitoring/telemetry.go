// Package monitoring - telemetry.go records provider calls to a JSONL file.
//
// DESIGN: CallLog appends one CallEvent per generate call or finished stream
// (one JSON object per line). Events are appended immediately so the file is
// a live record. A disabled CallLog accepts events and drops them.
package monitoring

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// CallLog handles call event recording to file.
type CallLog struct {
	enabled bool
	path    string
	count   int
	mu      sync.Mutex
}

// NewCallLog creates a call log. The parent directory of path is created if needed.
func NewCallLog(cfg TelemetryConfig) (*CallLog, error) {
	c := &CallLog{enabled: cfg.Enabled}
	if !cfg.Enabled || cfg.CallLogPath == "" {
		c.enabled = false
		return c, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.CallLogPath), 0750); err != nil {
		return nil, err
	}
	c.path = cfg.CallLogPath
	return c, nil
}

// appendJSONL appends a single JSON object as a line to the file.
func appendJSONL(path string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = f.Write(data)
	return err
}

// Record appends a call event.
func (c *CallLog) Record(event *CallEvent) {
	if c == nil || !c.enabled || event == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := appendJSONL(c.path, event); err != nil {
		log.Error().Err(err).Str("path", c.path).Msg("telemetry: failed to write call event")
		return
	}
	c.count++
}

// Close logs how many events were written.
func (c *CallLog) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.path != "" && c.count > 0 {
		log.Info().
			Str("path", c.path).
			Int("events", c.count).
			Msg("telemetry: session complete")
	}
	return nil
}
