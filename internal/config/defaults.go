// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined here.
// This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// TOKEN ESTIMATION
// =============================================================================

// TokenEstimateRatio is the approximate number of characters per token.
// Used for rough token counting when exact counts aren't available.
const TokenEstimateRatio = 4

// DefaultTokenEncoding is the tiktoken encoding used for exact counts.
const DefaultTokenEncoding = "cl100k_base"

// DefaultTokenizerLoadTimeout bounds how long startup waits for the encoding.
// Loading continues in the background after it expires.
const DefaultTokenizerLoadTimeout = 10 * time.Second

// =============================================================================
// RESPONSE CACHE
// =============================================================================

// DefaultCacheTTL is how long a cached response stays valid.
const DefaultCacheTTL = 30 * time.Minute

// DefaultCleanupInterval is the frequency for background cleanup goroutines.
const DefaultCleanupInterval = 5 * time.Minute

// =============================================================================
// STREAMING
// =============================================================================

// DefaultStreamGracePeriod is how long a terminal session stays queryable.
const DefaultStreamGracePeriod = 60 * time.Second

// DefaultStreamEventBuffer is the capacity of a session's event channel.
const DefaultStreamEventBuffer = 64

// =============================================================================
// BUDGETS
// =============================================================================

// DefaultAlertRatio derives an alert threshold from a budget amount
// when no explicit threshold is given (0.8 = warn at 80%).
const DefaultAlertRatio = 0.8

// =============================================================================
// BENCHMARK
// =============================================================================

// DefaultBenchmarkIdealTime scores 100 on speed.
const DefaultBenchmarkIdealTime = 2 * time.Second

// DefaultBenchmarkMaxTime scores 0 on speed.
const DefaultBenchmarkMaxTime = 30 * time.Second

// DefaultBenchmarkExpectedLength is the response length (chars) that scores 100 on completeness.
const DefaultBenchmarkExpectedLength = 500

// =============================================================================
// MONITORING
// =============================================================================

// DefaultErrorLogSize bounds the in-memory provider error log.
const DefaultErrorLogSize = 1000

// =============================================================================
// HTTP AND NETWORKING
// =============================================================================

// DefaultServerPort is the listen port when none is configured.
const DefaultServerPort = 18080

// DefaultProviderTimeout applies to a generate call when the provider sets none.
const DefaultProviderTimeout = 60 * time.Second

// DefaultBackendTimeout bounds non-streaming calls to the backend.
const DefaultBackendTimeout = 30 * time.Second

// DefaultCollaboratorTimeout bounds fire-and-forget persistence calls.
const DefaultCollaboratorTimeout = 5 * time.Second

// MaxRequestBodySize is the maximum allowed request body (10MB).
const MaxRequestBodySize = 10 * 1024 * 1024

// MaxResponseSize is the maximum allowed backend response body (50MB).
const MaxResponseSize = 50 * 1024 * 1024

// MaxErrorBodyLogLen limits error response body in logs to prevent bloat.
const MaxErrorBodyLogLen = 500

// DefaultServerReadTimeout for HTTP server.
const DefaultServerReadTimeout = 30 * time.Second

// DefaultServerWriteTimeout for HTTP server (safe for streaming).
const DefaultServerWriteTimeout = 10 * time.Minute

// DefaultShutdownTimeout bounds graceful shutdown.
const DefaultShutdownTimeout = 10 * time.Second
