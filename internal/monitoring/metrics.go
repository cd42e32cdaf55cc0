// Package monitoring - metrics.go provides simple counters.
//
// DESIGN: Lightweight in-memory counters for operational metrics:
//   - requests/successes: Total and successful generate calls
//   - cache_hits/misses:  Response cache performance
//   - fallbacks:          Fallback attempts after a provider failure
//   - streams:            Streaming session outcomes
//   - tokens:             Billed input and output token counts
//
// For production, export these to Prometheus or similar.
package monitoring

import (
	"fmt"
	"sync/atomic"
	"time"
)

// MetricsCollector collects operational metrics.
type MetricsCollector struct {
	startedAt time.Time

	// Request counters
	requests    atomic.Int64
	successes   atomic.Int64
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
	fallbacks   atomic.Int64

	// Stream counters
	streamsStarted   atomic.Int64
	streamsCompleted atomic.Int64
	streamsFailed    atomic.Int64
	streamsCancelled atomic.Int64

	totalInputTokens  atomic.Int64
	totalOutputTokens atomic.Int64
	totalLatencyMs    atomic.Int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		startedAt: time.Now(),
	}
}

// RecordRequest records a provider call.
func (mc *MetricsCollector) RecordRequest(success bool, latency time.Duration) {
	mc.requests.Add(1)
	if success {
		mc.successes.Add(1)
	}
	mc.totalLatencyMs.Add(latency.Milliseconds())
}

// RecordCacheHit records a cache hit.
func (mc *MetricsCollector) RecordCacheHit() { mc.cacheHits.Add(1) }

// RecordCacheMiss records a cache miss.
func (mc *MetricsCollector) RecordCacheMiss() { mc.cacheMisses.Add(1) }

// RecordFallback records one fallback attempt.
func (mc *MetricsCollector) RecordFallback() { mc.fallbacks.Add(1) }

// RecordStreamStarted records a new streaming session.
func (mc *MetricsCollector) RecordStreamStarted() { mc.streamsStarted.Add(1) }

// RecordStreamOutcome records how a streaming session ended.
func (mc *MetricsCollector) RecordStreamOutcome(state string) {
	switch state {
	case "completed":
		mc.streamsCompleted.Add(1)
	case "error":
		mc.streamsFailed.Add(1)
	case "cancelled":
		mc.streamsCancelled.Add(1)
	}
}

// RecordAPIUsage records billed token usage.
func (mc *MetricsCollector) RecordAPIUsage(inputTokens, outputTokens int64) {
	mc.totalInputTokens.Add(inputTokens)
	mc.totalOutputTokens.Add(outputTokens)
}

// StartedAt returns when the metrics collector was created.
func (mc *MetricsCollector) StartedAt() time.Time { return mc.startedAt }

// Stats returns current metrics as a flat map.
func (mc *MetricsCollector) Stats() map[string]int64 {
	return map[string]int64{
		"requests":          mc.requests.Load(),
		"successes":         mc.successes.Load(),
		"cache_hits":        mc.cacheHits.Load(),
		"cache_misses":      mc.cacheMisses.Load(),
		"fallbacks":         mc.fallbacks.Load(),
		"streams_started":   mc.streamsStarted.Load(),
		"streams_completed": mc.streamsCompleted.Load(),
		"streams_failed":    mc.streamsFailed.Load(),
		"streams_cancelled": mc.streamsCancelled.Load(),
	}
}

// FullStats returns all metrics in a structured format for the /stats endpoint.
func (mc *MetricsCollector) FullStats() StatsResponse {
	uptime := time.Since(mc.startedAt)
	requests := mc.requests.Load()
	successes := mc.successes.Load()
	hits := mc.cacheHits.Load()
	misses := mc.cacheMisses.Load()

	var cacheHitRate float64
	if total := hits + misses; total > 0 {
		cacheHitRate = float64(hits) / float64(total) * 100
	}
	var avgLatency float64
	if requests > 0 {
		avgLatency = float64(mc.totalLatencyMs.Load()) / float64(requests)
	}

	return StatsResponse{
		Uptime:        formatDuration(uptime),
		UptimeSeconds: int64(uptime.Seconds()),
		StartedAt:     mc.startedAt.Format(time.RFC3339),
		Requests: RequestStats{
			Total:        requests,
			Successful:   successes,
			Failed:       requests - successes,
			Fallbacks:    mc.fallbacks.Load(),
			AvgLatencyMs: avgLatency,
		},
		Tokens: TokenStats{
			InputTokens:  mc.totalInputTokens.Load(),
			OutputTokens: mc.totalOutputTokens.Load(),
		},
		Cache: CacheStats{
			Hits:    hits,
			Misses:  misses,
			HitRate: cacheHitRate,
		},
		Streams: StreamStats{
			Started:   mc.streamsStarted.Load(),
			Completed: mc.streamsCompleted.Load(),
			Failed:    mc.streamsFailed.Load(),
			Cancelled: mc.streamsCancelled.Load(),
		},
	}
}

// StatsResponse is the structured response for the /stats endpoint.
type StatsResponse struct {
	Uptime        string       `json:"uptime"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartedAt     string       `json:"started_at"`
	Requests      RequestStats `json:"requests"`
	Tokens        TokenStats   `json:"tokens"`
	Cache         CacheStats   `json:"cache"`
	Streams       StreamStats  `json:"streams"`
}

// RequestStats holds request count metrics.
type RequestStats struct {
	Total        int64   `json:"total"`
	Successful   int64   `json:"successful"`
	Failed       int64   `json:"failed"`
	Fallbacks    int64   `json:"fallbacks"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// TokenStats holds billed token totals.
type TokenStats struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// CacheStats holds response cache metrics.
type CacheStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// StreamStats holds streaming session outcomes.
type StreamStats struct {
	Started   int64 `json:"started"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
