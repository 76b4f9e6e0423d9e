package adpulse

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment override, e.g. ADPULSE_SERVICE_BASE_URL.
const EnvPrefix = "ADPULSE_"

// Config represents the dashboard configuration.
type Config struct {
	Global     GlobalConfig     `toml:"global" envPrefix:"GLOBAL_"`
	Service    ServiceConfig    `toml:"service" envPrefix:"SERVICE_"`
	Polling    PollingConfig    `toml:"polling" envPrefix:"POLLING_"`
	Sink       SinkConfig       `toml:"sink" envPrefix:"SINK_"`
	InfluxDB   InfluxDBConfig   `toml:"influxdb" envPrefix:"INFLUXDB_"`
	Prometheus PrometheusConfig `toml:"prometheus" envPrefix:"PROMETHEUS_"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel  string `toml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `toml:"log_format" env:"LOG_FORMAT"`
}

// ServiceConfig locates the remote metrics service.
type ServiceConfig struct {
	BaseURL string   `toml:"base_url" env:"BASE_URL"`
	Timeout Duration `toml:"timeout" env:"TIMEOUT"`
}

// PollingConfig tunes the poll loop and the circuit breaker.
type PollingConfig struct {
	Interval         Duration    `toml:"interval" env:"INTERVAL"`
	FailureThreshold int         `toml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	ListRetry        RetryConfig `toml:"list_retry"`
	PollRetry        RetryConfig `toml:"poll_retry"`
}

// RetryConfig is the TOML form of a RetryPolicy.
type RetryConfig struct {
	Attempts int        `toml:"attempts"`
	Backoff  []Duration `toml:"backoff"`
}

// Policy converts the config into a RetryPolicy.
func (r RetryConfig) Policy() RetryPolicy {
	backoff := make([]time.Duration, len(r.Backoff))
	for i, d := range r.Backoff {
		backoff[i] = d.Duration
	}
	return RetryPolicy{MaxAttempts: r.Attempts, Backoff: backoff}
}

func retryConfig(p RetryPolicy) RetryConfig {
	backoff := make([]Duration, len(p.Backoff))
	for i, d := range p.Backoff {
		backoff[i] = Duration{d}
	}
	return RetryConfig{Attempts: p.MaxAttempts, Backoff: backoff}
}

// SinkConfig configures delivery of poll samples to backends.
type SinkConfig struct {
	Echo          bool     `toml:"echo" env:"ECHO"`
	BatchSize     int      `toml:"batch_size" env:"BATCH_SIZE"`
	FlushInterval Duration `toml:"flush_interval" env:"FLUSH_INTERVAL"`
	RetryAttempts int      `toml:"retry_attempts" env:"RETRY_ATTEMPTS"`
	RetryDelay    Duration `toml:"retry_delay" env:"RETRY_DELAY"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled bool   `toml:"enabled" env:"ENABLED"`
	URL     string `toml:"url" env:"URL"`
	Token   string `toml:"token" env:"TOKEN"`
	Org     string `toml:"org" env:"ORG"`
	Bucket  string `toml:"bucket" env:"BUCKET"`
}

// PrometheusConfig contains Prometheus exporter settings.
type PrometheusConfig struct {
	Enabled bool   `toml:"enabled" env:"ENABLED"`
	Port    int    `toml:"port" env:"PORT"`
	Path    string `toml:"path" env:"PATH"`
}

// Duration is a wrapper around time.Duration that supports TOML parsing.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for Duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
		Service: ServiceConfig{
			BaseURL: "http://localhost:8080",
			Timeout: Duration{10 * time.Second},
		},
		Polling: PollingConfig{
			Interval:         Duration{PollInterval},
			FailureThreshold: CircuitBreakerThreshold,
			ListRetry:        retryConfig(ListRetryPolicy),
			PollRetry:        retryConfig(PollRetryPolicy),
		},
		Sink: SinkConfig{
			BatchSize:     10,
			FlushInterval: Duration{10 * time.Second},
			RetryAttempts: 3,
			RetryDelay:    Duration{1 * time.Second},
		},
		Prometheus: PrometheusConfig{
			Port: 9090,
			Path: "/metrics",
		},
	}
}

// LoadConfig reads a TOML configuration file, applies ADPULSE_*
// environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadConfigFromString parses configuration from a TOML string. The
// environment is not consulted.
func LoadConfigFromString(data string) (*Config, error) {
	cfg := DefaultConfig()

	if err := toml.Unmarshal([]byte(data), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides cfg with any ADPULSE_* variables that are set.
// Unset variables leave the existing values alone.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("failed to apply environment: %w", err)
	}
	return nil
}
