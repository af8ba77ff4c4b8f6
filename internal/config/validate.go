package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validation range constants.
const (
	minRequestTimeout = 1 * time.Second
	maxRetryBudget    = 10
	minLifetime       = 1 * time.Minute
	minCheckInterval  = 1 * time.Second
	minDrainInterval  = 1 * time.Second
	minProbeInterval  = 1 * time.Second
	maxBatchSize      = 100
)

// Validate checks all configuration values and returns all errors
// found. It accumulates rather than stopping at the first, so one pass
// fixes every issue.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateBackend(&cfg.Backend)...)
	errs = append(errs, validateRetry(&cfg.Retry)...)
	errs = append(errs, validateSession(&cfg.Session)...)
	errs = append(errs, validateCache(&cfg.Cache)...)
	errs = append(errs, validateQueue(&cfg.Queue)...)
	errs = append(errs, validateConnectivity(&cfg.Connectivity)...)
	errs = append(errs, validateBatch(&cfg.Batch)...)
	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateBackend(b *BackendConfig) []error {
	var errs []error

	// An empty URL is allowed here; serve rejects it at startup.
	// Subcommands that never reach the backend work without one.
	if b.URL != "" {
		u, err := url.Parse(b.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("backend.url: must be an http(s) URL, got %q", b.URL))
		}
	}

	errs = append(errs, validateDuration("backend.request_timeout", b.RequestTimeout, minRequestTimeout)...)

	return errs
}

func validateRetry(r *RetryConfig) []error {
	var errs []error

	if r.MaxRetries < 0 || r.MaxRetries > maxRetryBudget {
		errs = append(errs, fmt.Errorf("retry.max_retries: must be 0..%d, got %d", maxRetryBudget, r.MaxRetries))
	}

	initial, err := time.ParseDuration(r.InitialBackoff)
	if err != nil {
		errs = append(errs, fmt.Errorf("retry.initial_backoff: invalid duration %q: %w", r.InitialBackoff, err))
	} else if initial <= 0 {
		errs = append(errs, fmt.Errorf("retry.initial_backoff: must be > 0, got %s", initial))
	}

	ceiling, err := time.ParseDuration(r.MaxBackoff)
	if err != nil {
		errs = append(errs, fmt.Errorf("retry.max_backoff: invalid duration %q: %w", r.MaxBackoff, err))
	} else if initial > 0 && ceiling < initial {
		errs = append(errs, fmt.Errorf("retry.max_backoff: must be >= initial_backoff, got %s < %s", ceiling, initial))
	}

	return errs
}

func validateSession(s *SessionConfig) []error {
	var errs []error

	lifetime, err := time.ParseDuration(s.Lifetime)
	if err != nil {
		errs = append(errs, fmt.Errorf("session.lifetime: invalid duration %q: %w", s.Lifetime, err))
	} else if lifetime < minLifetime {
		errs = append(errs, fmt.Errorf("session.lifetime: must be >= %s, got %s", minLifetime, lifetime))
	}

	warning, err := time.ParseDuration(s.WarningWindow)
	if err != nil {
		errs = append(errs, fmt.Errorf("session.warning_window: invalid duration %q: %w", s.WarningWindow, err))
	} else if warning <= 0 {
		errs = append(errs, fmt.Errorf("session.warning_window: must be > 0, got %s", warning))
	} else if lifetime > 0 && warning >= lifetime {
		errs = append(errs, fmt.Errorf("session.warning_window: must be shorter than session.lifetime, got %s >= %s", warning, lifetime))
	}

	errs = append(errs, validateDuration("session.check_interval", s.CheckInterval, minCheckInterval)...)

	return errs
}

func validateCache(c *CacheConfig) []error {
	var errs []error

	if c.Capacity < 1 {
		errs = append(errs, fmt.Errorf("cache.capacity: must be >= 1, got %d", c.Capacity))
	}

	ttl, err := time.ParseDuration(c.DefaultTTL)
	if err != nil {
		errs = append(errs, fmt.Errorf("cache.default_ttl: invalid duration %q: %w", c.DefaultTTL, err))
	} else if ttl <= 0 {
		errs = append(errs, fmt.Errorf("cache.default_ttl: must be > 0, got %s", ttl))
	}

	return errs
}

func validateQueue(q *QueueConfig) []error {
	var errs []error

	if q.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("queue.max_retries: must be >= 1, got %d", q.MaxRetries))
	}

	errs = append(errs, validateDuration("queue.drain_interval", q.DrainInterval, minDrainInterval)...)

	return errs
}

func validateConnectivity(c *ConnectivityConfig) []error {
	var errs []error

	errs = append(errs, validateDuration("connectivity.probe_interval", c.ProbeInterval, minProbeInterval)...)

	if !strings.HasPrefix(c.ProbePath, "/") {
		errs = append(errs, fmt.Errorf("connectivity.probe_path: must start with \"/\", got %q", c.ProbePath))
	}

	return errs
}

func validateBatch(b *BatchConfig) []error {
	var errs []error

	window, err := time.ParseDuration(b.Window)
	if err != nil {
		errs = append(errs, fmt.Errorf("batch.window: invalid duration %q: %w", b.Window, err))
	} else if window <= 0 {
		errs = append(errs, fmt.Errorf("batch.window: must be > 0, got %s", window))
	}

	if b.MaxSize < 1 || b.MaxSize > maxBatchSize {
		errs = append(errs, fmt.Errorf("batch.max_size: must be 1..%d, got %d", maxBatchSize, b.MaxSize))
	}

	return errs
}

func validateServer(s *ServerConfig) []error {
	var errs []error

	if s.Listen == "" {
		errs = append(errs, fmt.Errorf("server.listen: must not be empty"))
	}

	timeout, err := time.ParseDuration(s.ShutdownTimeout)
	if err != nil {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout: invalid duration %q: %w", s.ShutdownTimeout, err))
	} else if timeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout: must be >= 0, got %s", timeout))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: must be one of debug, info, warn, error, got %q", l.Level))
	}

	switch l.Format {
	case "auto", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format: must be one of auto, json, console, got %q", l.Format))
	}

	return errs
}

// validateDuration checks that a duration string is valid and meets a
// minimum.
func validateDuration(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)}
	}

	return nil
}
