package adpulse

import "log/slog"

// Option configures a Dashboard.
type Option func(*Dashboard)

// WithConfigFile sets the path to a TOML config file.
func WithConfigFile(path string) Option {
	return func(d *Dashboard) {
		d.cfgPath = path
	}
}

// WithConfig provides a Config directly instead of loading from file.
func WithConfig(cfg *Config) Option {
	return func(d *Dashboard) {
		d.cfg = cfg
	}
}

// WithSource replaces the HTTP client built from the service config.
func WithSource(src Source) Option {
	return func(d *Dashboard) {
		d.source = src
	}
}

// WithClock replaces the wall clock. Intended for tests.
func WithClock(c Clock) Option {
	return func(d *Dashboard) {
		d.clock = c
	}
}

// WithEcho enables echo mode (samples to stdout).
func WithEcho(enabled bool) Option {
	return func(d *Dashboard) {
		d.echoMode = enabled
	}
}

// WithLogger provides a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dashboard) {
		d.logger = logger
	}
}

// WithBackend adds a sample backend.
func WithBackend(b Backend) Option {
	return func(d *Dashboard) {
		d.backends = append(d.backends, b)
	}
}

// WithReloadFunc provides a custom config reload function.
// The function receives the config file path and returns a new Config.
func WithReloadFunc(fn func(path string) (*Config, error)) Option {
	return func(d *Dashboard) {
		d.reloadFn = fn
	}
}
