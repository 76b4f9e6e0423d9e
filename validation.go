package adpulse

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError describes one rejected field, in a configuration file or
// in a payload received from the remote service.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("multiple validation errors:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs ValidationErrors

	errs = append(errs, c.validateGlobal()...)
	errs = append(errs, c.validateService()...)
	errs = append(errs, c.validatePolling()...)
	errs = append(errs, c.validateSink()...)
	errs = append(errs, c.validateInfluxDB()...)
	errs = append(errs, c.validatePrometheus()...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (c *Config) validateGlobal() ValidationErrors {
	var errs ValidationErrors

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Global.LogLevel)] {
		errs = append(errs, ValidationError{
			Field:   "global.log_level",
			Message: "must be one of: debug, info, warn, error",
		})
	}

	validFormats := map[string]bool{
		"text": true, "json": true, "tint": true,
	}
	if !validFormats[strings.ToLower(c.Global.LogFormat)] {
		errs = append(errs, ValidationError{
			Field:   "global.log_format",
			Message: "must be one of: text, json, tint",
		})
	}

	return errs
}

func (c *Config) validateService() ValidationErrors {
	var errs ValidationErrors

	u, err := url.Parse(c.Service.BaseURL)
	if c.Service.BaseURL == "" || err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "service.base_url",
			Message: "must be an absolute URL",
		})
	}

	if c.Service.Timeout.Duration <= 0 {
		errs = append(errs, ValidationError{
			Field:   "service.timeout",
			Message: "must be positive",
		})
	}

	return errs
}

func (c *Config) validatePolling() ValidationErrors {
	var errs ValidationErrors

	if c.Polling.Interval.Duration <= 0 {
		errs = append(errs, ValidationError{
			Field:   "polling.interval",
			Message: "must be positive",
		})
	}

	if c.Polling.FailureThreshold <= 0 {
		errs = append(errs, ValidationError{
			Field:   "polling.failure_threshold",
			Message: "must be positive",
		})
	}

	errs = append(errs, validateRetry("polling.list_retry", c.Polling.ListRetry)...)
	errs = append(errs, validateRetry("polling.poll_retry", c.Polling.PollRetry)...)

	return errs
}

func validateRetry(field string, r RetryConfig) ValidationErrors {
	var errs ValidationErrors

	if r.Attempts <= 0 {
		errs = append(errs, ValidationError{
			Field:   field + ".attempts",
			Message: "must be positive",
		})
	}

	if r.Attempts > 1 && len(r.Backoff) == 0 {
		errs = append(errs, ValidationError{
			Field:   field + ".backoff",
			Message: "required when attempts > 1",
		})
	}

	for i, d := range r.Backoff {
		if d.Duration < 0 {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s.backoff[%d]", field, i),
				Message: "must not be negative",
			})
		}
	}

	return errs
}

func (c *Config) validateSink() ValidationErrors {
	var errs ValidationErrors

	if c.Sink.BatchSize <= 0 {
		errs = append(errs, ValidationError{
			Field:   "sink.batch_size",
			Message: "must be positive",
		})
	}

	if c.Sink.FlushInterval.Duration <= 0 {
		errs = append(errs, ValidationError{
			Field:   "sink.flush_interval",
			Message: "must be positive",
		})
	}

	return errs
}

func (c *Config) validateInfluxDB() ValidationErrors {
	var errs ValidationErrors

	if !c.InfluxDB.Enabled {
		return errs
	}

	if c.InfluxDB.URL == "" {
		errs = append(errs, ValidationError{
			Field:   "influxdb.url",
			Message: "required when InfluxDB is enabled",
		})
	}

	if c.InfluxDB.Token == "" {
		errs = append(errs, ValidationError{
			Field:   "influxdb.token",
			Message: "required when InfluxDB is enabled",
		})
	}

	if c.InfluxDB.Org == "" {
		errs = append(errs, ValidationError{
			Field:   "influxdb.org",
			Message: "required when InfluxDB is enabled",
		})
	}

	if c.InfluxDB.Bucket == "" {
		errs = append(errs, ValidationError{
			Field:   "influxdb.bucket",
			Message: "required when InfluxDB is enabled",
		})
	}

	return errs
}

func (c *Config) validatePrometheus() ValidationErrors {
	var errs ValidationErrors

	if !c.Prometheus.Enabled {
		return errs
	}

	if c.Prometheus.Port <= 0 || c.Prometheus.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "prometheus.port",
			Message: "must be a valid port (1-65535)",
		})
	}

	if c.Prometheus.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "prometheus.path",
			Message: "required when Prometheus is enabled",
		})
	}

	if c.Prometheus.Path != "" && !strings.HasPrefix(c.Prometheus.Path, "/") {
		errs = append(errs, ValidationError{
			Field:   "prometheus.path",
			Message: "must start with /",
		})
	}

	return errs
}
