// Package config loads and validates the gateway configuration.
//
// DESIGN: A single YAML file describes the whole gateway. ${VAR} and
// ${VAR:-default} references are expanded from the environment before
// parsing so secrets never live in the file. Every section has defaults
// applied after parsing, then Validate() rejects what cannot run.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root gateway configuration.
type Config struct {
	Server          ServerConfig              `yaml:"server"`
	Backend         BackendConfig             `yaml:"backend"`
	Logging         LoggingConfig             `yaml:"logging"`
	Cache           CacheConfig               `yaml:"cache"`
	Stream          StreamConfig              `yaml:"stream"`
	Budget          BudgetConfig              `yaml:"budget"`
	PriceRates      map[string]PriceRate      `yaml:"price_rates"`
	Providers       map[string]ProviderConfig `yaml:"providers"`
	DefaultProvider string                    `yaml:"default_provider"`
	TaskMapping     map[string]string         `yaml:"task_mapping"`
	Benchmark       BenchmarkConfig           `yaml:"benchmark"`
	Storage         StorageConfig             `yaml:"storage"`
	Telemetry       TelemetryConfig           `yaml:"telemetry"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// BackendConfig points at the transport backend that owns provider credentials.
type BackendConfig struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig selects log level and format. Format "auto" picks console
// output on a terminal and JSON otherwise.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Enabled         *bool         `yaml:"enabled"`
	TTL             time.Duration `yaml:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// IsEnabled reports whether caching is on. Unset means on.
func (c CacheConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// StreamConfig controls streaming sessions.
type StreamConfig struct {
	GracePeriod time.Duration `yaml:"grace_period"`
	EventBuffer int           `yaml:"event_buffer"`
}

// BudgetConfig holds the initial spend limits. Zero means no limit.
// Thresholds default to DefaultAlertRatio of the limit.
type BudgetConfig struct {
	Daily            float64  `yaml:"daily"`
	Monthly          float64  `yaml:"monthly"`
	DailyThreshold   *float64 `yaml:"daily_threshold"`
	MonthlyThreshold *float64 `yaml:"monthly_threshold"`
}

// PriceRate is a provider's price per 1,000 tokens.
type PriceRate struct {
	InputPer1K  float64 `yaml:"input_per_1k" json:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k" json:"output_per_1k"`
}

// ProviderConfig is the local description of a provider, used when the
// backend config fetch fails and to fill fields the backend omits.
type ProviderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	CredentialRef string        `yaml:"credential_ref"`
	Endpoint      string        `yaml:"endpoint"`
	Model         string        `yaml:"model"`
	Timeout       time.Duration `yaml:"timeout"`
}

// BenchmarkConfig holds the scoring constants.
type BenchmarkConfig struct {
	IdealTime      time.Duration `yaml:"ideal_time"`
	MaxTime        time.Duration `yaml:"max_time"`
	ExpectedLength int           `yaml:"expected_length"`
}

// StorageConfig enables the SQLite usage journal. Empty path disables it.
type StorageConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// TelemetryConfig enables the JSONL call log.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	CallLogPath string `yaml:"call_log_path"`
	ErrorLogMax int    `yaml:"error_log_max"`
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads, expands, parses and validates the config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse expands environment references in data, then parses and validates it.
func Parse(data []byte) (*Config, error) {
	expanded := ExpandEnvWithDefaults(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config with every default applied and no providers.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnvWithDefaults replaces ${VAR} with the variable's value and
// ${VAR:-fallback} with the value or fallback when VAR is unset or empty.
// Bare $VAR is left untouched.
func ExpandEnvWithDefaults(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		if v := os.Getenv(m[1]); v != "" {
			return v
		}
		if m[2] != "" {
			return m[3]
		}
		return ""
	})
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultServerReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultServerWriteTimeout
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = DefaultBackendTimeout
	}
	c.Backend.URL = strings.TrimRight(c.Backend.URL, "/")
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "auto"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stderr"
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = DefaultCacheTTL
	}
	if c.Cache.CleanupInterval == 0 {
		c.Cache.CleanupInterval = DefaultCleanupInterval
	}
	if c.Stream.GracePeriod == 0 {
		c.Stream.GracePeriod = DefaultStreamGracePeriod
	}
	if c.Stream.EventBuffer == 0 {
		c.Stream.EventBuffer = DefaultStreamEventBuffer
	}
	if c.Benchmark.IdealTime == 0 {
		c.Benchmark.IdealTime = DefaultBenchmarkIdealTime
	}
	if c.Benchmark.MaxTime == 0 {
		c.Benchmark.MaxTime = DefaultBenchmarkMaxTime
	}
	if c.Benchmark.ExpectedLength == 0 {
		c.Benchmark.ExpectedLength = DefaultBenchmarkExpectedLength
	}
	if c.Telemetry.ErrorLogMax == 0 {
		c.Telemetry.ErrorLogMax = DefaultErrorLogSize
	}
	if c.PriceRates == nil {
		c.PriceRates = map[string]PriceRate{}
	}
	if c.Providers == nil {
		c.Providers = map[string]ProviderConfig{}
	}
	if c.TaskMapping == nil {
		c.TaskMapping = map[string]string{}
	}
	for id, p := range c.Providers {
		if p.Timeout == 0 {
			p.Timeout = DefaultProviderTimeout
			c.Providers[id] = p
		}
	}
}

// Validate checks the configuration for values the gateway cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1-65535, got %d", c.Server.Port)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must be >= 0, got %s", c.Cache.TTL)
	}
	if c.Stream.EventBuffer < 0 {
		return fmt.Errorf("stream.event_buffer must be >= 0, got %d", c.Stream.EventBuffer)
	}
	if c.Budget.Daily < 0 {
		return fmt.Errorf("budget.daily must be >= 0, got %f", c.Budget.Daily)
	}
	if c.Budget.Monthly < 0 {
		return fmt.Errorf("budget.monthly must be >= 0, got %f", c.Budget.Monthly)
	}
	for id, r := range c.PriceRates {
		if r.InputPer1K < 0 || r.OutputPer1K < 0 {
			return fmt.Errorf("price_rates.%s must be >= 0", id)
		}
	}
	if c.DefaultProvider != "" && len(c.Providers) > 0 {
		if _, ok := c.Providers[c.DefaultProvider]; !ok {
			return fmt.Errorf("default_provider %q is not a configured provider", c.DefaultProvider)
		}
	}
	for task, id := range c.TaskMapping {
		if _, ok := c.Providers[id]; !ok && len(c.Providers) > 0 {
			return fmt.Errorf("task_mapping.%s references unknown provider %q", task, id)
		}
	}
	if c.Benchmark.MaxTime <= c.Benchmark.IdealTime {
		return fmt.Errorf("benchmark.max_time (%s) must exceed benchmark.ideal_time (%s)", c.Benchmark.MaxTime, c.Benchmark.IdealTime)
	}
	if c.Benchmark.ExpectedLength <= 0 {
		return fmt.Errorf("benchmark.expected_length must be > 0")
	}
	if c.Telemetry.Enabled && c.Telemetry.CallLogPath == "" {
		return fmt.Errorf("telemetry.call_log_path is required when telemetry is enabled")
	}
	return nil
}
