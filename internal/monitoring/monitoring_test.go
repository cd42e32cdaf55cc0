package monitoring

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCollector(t *testing.T) {
	mc := NewMetricsCollector()
	mc.RecordRequest(true, 100*time.Millisecond)
	mc.RecordRequest(false, 300*time.Millisecond)
	mc.RecordCacheHit()
	mc.RecordCacheMiss()
	mc.RecordCacheMiss()
	mc.RecordCacheMiss()
	mc.RecordFallback()
	mc.RecordStreamStarted()
	mc.RecordStreamOutcome("completed")
	mc.RecordStreamOutcome("cancelled")
	mc.RecordStreamOutcome("bogus")
	mc.RecordAPIUsage(10, 20)

	stats := mc.Stats()
	assert.Equal(t, int64(2), stats["requests"])
	assert.Equal(t, int64(1), stats["successes"])
	assert.Equal(t, int64(1), stats["fallbacks"])
	assert.Equal(t, int64(1), stats["streams_completed"])
	assert.Equal(t, int64(0), stats["streams_failed"])

	full := mc.FullStats()
	assert.Equal(t, int64(1), full.Requests.Failed)
	assert.InDelta(t, 200.0, full.Requests.AvgLatencyMs, 0.001)
	assert.InDelta(t, 25.0, full.Cache.HitRate, 0.001)
	assert.Equal(t, int64(20), full.Tokens.OutputTokens)
	assert.Equal(t, int64(1), full.Streams.Cancelled)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "5m", formatDuration(5*time.Minute))
	assert.Equal(t, "2h 3m", formatDuration(2*time.Hour+3*time.Minute))
	assert.Equal(t, "1d 1h 0m", formatDuration(25*time.Hour))
}

func TestErrorLog_RingAndCounts(t *testing.T) {
	l := NewErrorLog(3)
	for i := 0; i < 5; i++ {
		provider := "openai"
		if i%2 == 1 {
			provider = "anthropic"
		}
		l.Record(ErrorEntry{Provider: provider, Message: fmt.Sprintf("e%d", i)})
	}

	recent := l.Recent(10)
	require.Len(t, recent, 3)
	assert.Equal(t, "e4", recent[0].Message)
	assert.Equal(t, "e2", recent[2].Message)
	assert.False(t, recent[0].Timestamp.IsZero())

	assert.Equal(t, int64(5), l.Total())
	assert.Equal(t, map[string]int64{"openai": 3, "anthropic": 2}, l.Counts())

	mine := l.RecentForProvider("anthropic", 5)
	require.Len(t, mine, 1)
	assert.Equal(t, "e3", mine[0].Message)

	assert.Nil(t, l.Recent(0))
}

func TestCallLog_WritesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "calls.jsonl")
	cl, err := NewCallLog(TelemetryConfig{Enabled: true, CallLogPath: path})
	require.NoError(t, err)

	cl.Record(&CallEvent{RequestID: "r1", Kind: CallGenerate, Provider: "openai", Success: true})
	cl.Record(&CallEvent{RequestID: "r2", Kind: CallStream, Provider: "anthropic", Error: "boom"})
	cl.Record(nil)
	require.NoError(t, cl.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []CallEvent
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev CallEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	assert.Equal(t, "r1", events[0].RequestID)
	assert.Equal(t, CallStream, events[1].Kind)
}

func TestCallLog_DisabledIsNoop(t *testing.T) {
	cl, err := NewCallLog(TelemetryConfig{})
	require.NoError(t, err)
	cl.Record(&CallEvent{RequestID: "r1"})
	assert.Equal(t, 0, cl.count)

	var nilLog *CallLog
	nilLog.Record(&CallEvent{})
	assert.NoError(t, nilLog.Close())
}

func TestNewLogger_Formats(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, "json", true)
	l.Info().Str("k", "v").Msg("hello")
	assert.True(t, json.Valid(bytes.TrimSpace(buf.Bytes())))

	buf.Reset()
	l = NewLogger(&buf, "auto", true)
	l.Info().Msg("hello")
	assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())), "auto on a tty is console output")

	buf.Reset()
	l = NewLogger(&buf, "auto", false)
	l.Info().Msg("hello")
	assert.True(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud"))
}

func TestSetupLogger_File(t *testing.T) {
	prev := saveLogger()
	defer restoreLogger(prev)

	path := filepath.Join(t.TempDir(), "gw.log")
	closer, err := SetupLogger(LoggerConfig{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)
	require.NoError(t, closer.Close())

	_, err = os.Stat(path)
	assert.NoError(t, err)
}
