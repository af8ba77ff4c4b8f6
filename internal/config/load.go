package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns
// the resulting Config. Unknown keys are fatal: silently ignoring a
// typo in a config file leads to hard-to-debug behavior.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if unknown := md.Undecoded(); len(unknown) > 0 {
		names := make([]string, len(unknown))
		for i, key := range unknown {
			names[i] = key.String()
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(names, ", "))
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise
// returns a Config populated with all default values. This supports a
// zero-config first run.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables. The result has all
// duration strings parsed, ready for wiring.
func Resolve(path string, env EnvOverrides) (*Resolved, error) {
	if env.ConfigPath != "" {
		path = env.ConfigPath
	}

	cfg, err := LoadOrDefault(path)
	if err != nil {
		return nil, err
	}

	if env.BackendURL != "" {
		cfg.Backend.URL = env.BackendURL
	}
	if env.RedisURL != "" {
		cfg.Redis.URL = env.RedisURL
	}
	if env.Listen != "" {
		cfg.Server.Listen = env.Listen
	}
	if env.LogLevel != "" {
		cfg.Logging.Level = env.LogLevel
	}

	// The environment may have introduced bad values, and when no file
	// existed nothing has been validated yet.
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return resolve(cfg)
}

// durParser parses duration strings, remembering the first failure so
// a struct literal can stay flat.
type durParser struct {
	err error
}

func (p *durParser) parse(field, value string) time.Duration {
	if p.err != nil {
		return 0
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		p.err = fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
		return 0
	}
	return d
}

func resolve(cfg *Config) (*Resolved, error) {
	var p durParser
	r := &Resolved{
		BackendURL:     cfg.Backend.URL,
		UserAgent:      cfg.Backend.UserAgent,
		RequestTimeout: p.parse("backend.request_timeout", cfg.Backend.RequestTimeout),

		RetryMax:     cfg.Retry.MaxRetries,
		RetryInitial: p.parse("retry.initial_backoff", cfg.Retry.InitialBackoff),
		RetryCap:     p.parse("retry.max_backoff", cfg.Retry.MaxBackoff),

		SessionLifetime: p.parse("session.lifetime", cfg.Session.Lifetime),
		WarningWindow:   p.parse("session.warning_window", cfg.Session.WarningWindow),
		CheckInterval:   p.parse("session.check_interval", cfg.Session.CheckInterval),

		CacheCapacity: cfg.Cache.Capacity,
		CacheTTL:      p.parse("cache.default_ttl", cfg.Cache.DefaultTTL),

		QueueRetries:  cfg.Queue.MaxRetries,
		DrainInterval: p.parse("queue.drain_interval", cfg.Queue.DrainInterval),

		ProbeInterval: p.parse("connectivity.probe_interval", cfg.Connectivity.ProbeInterval),
		ProbePath:     cfg.Connectivity.ProbePath,

		BatchEnabled: cfg.Batch.Enabled,
		BatchWindow:  p.parse("batch.window", cfg.Batch.Window),
		BatchMaxSize: cfg.Batch.MaxSize,

		Listen:          cfg.Server.Listen,
		ShutdownTimeout: p.parse("server.shutdown_timeout", cfg.Server.ShutdownTimeout),

		RedisURL:    cfg.Redis.URL,
		RedisPrefix: cfg.Redis.Prefix,

		LogLevel:  cfg.Logging.Level,
		LogFormat: cfg.Logging.Format,
	}
	if p.err != nil {
		return nil, p.err
	}
	return r, nil
}
