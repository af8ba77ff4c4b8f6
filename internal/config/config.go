// Package config implements TOML configuration loading, validation and
// environment overrides for the pos-agent. Values resolve through a
// three-layer chain: defaults -> config file -> environment variables.
// Durations are strings in the file ("30s", "5m") and are parsed into
// time.Duration during resolution.
package config

import "time"

// Config is the top-level structure parsed from a TOML file. Unset
// fields keep their defaults because decoding starts from
// DefaultConfig.
type Config struct {
	Backend      BackendConfig      `toml:"backend"`
	Retry        RetryConfig        `toml:"retry"`
	Session      SessionConfig      `toml:"session"`
	Cache        CacheConfig        `toml:"cache"`
	Queue        QueueConfig        `toml:"queue"`
	Connectivity ConnectivityConfig `toml:"connectivity"`
	Batch        BatchConfig        `toml:"batch"`
	Server       ServerConfig       `toml:"server"`
	Redis        RedisConfig        `toml:"redis"`
	Logging      LoggingConfig      `toml:"logging"`
}

// BackendConfig points the agent at the POS backend.
type BackendConfig struct {
	URL            string `toml:"url"`
	UserAgent      string `toml:"user_agent"`
	RequestTimeout string `toml:"request_timeout"`
}

// RetryConfig controls the transport's backoff loop.
type RetryConfig struct {
	MaxRetries     int    `toml:"max_retries"`
	InitialBackoff string `toml:"initial_backoff"`
	MaxBackoff     string `toml:"max_backoff"`
}

// SessionConfig controls session lifetime tracking.
type SessionConfig struct {
	Lifetime      string `toml:"lifetime"`
	WarningWindow string `toml:"warning_window"`
	CheckInterval string `toml:"check_interval"`
}

// CacheConfig controls the read caches.
type CacheConfig struct {
	Capacity   int    `toml:"capacity"`
	DefaultTTL string `toml:"default_ttl"`
}

// QueueConfig controls the offline mutation queue.
type QueueConfig struct {
	MaxRetries    int    `toml:"max_retries"`
	DrainInterval string `toml:"drain_interval"`
}

// ConnectivityConfig controls backend reachability probing. ProbePath
// is resolved against the backend URL.
type ConnectivityConfig struct {
	ProbeInterval string `toml:"probe_interval"`
	ProbePath     string `toml:"probe_path"`
}

// BatchConfig controls request coalescing. Disabled by default.
type BatchConfig struct {
	Enabled bool   `toml:"enabled"`
	Window  string `toml:"window"`
	MaxSize int    `toml:"max_size"`
}

// ServerConfig controls the local HTTP listener.
type ServerConfig struct {
	Listen          string `toml:"listen"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
}

// RedisConfig selects the persistence backend. An empty URL keeps all
// durable state in process memory, which loses the offline queue on
// restart.
type RedisConfig struct {
	URL    string `toml:"url"`
	Prefix string `toml:"prefix"`
}

// LoggingConfig controls log output. Format "auto" picks console when
// stderr is a terminal and JSON otherwise.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Resolved is the fully-merged, validated runtime configuration with
// duration strings parsed. This is what the agent wires components
// from.
type Resolved struct {
	BackendURL     string
	UserAgent      string
	RequestTimeout time.Duration

	RetryMax     int
	RetryInitial time.Duration
	RetryCap     time.Duration

	SessionLifetime time.Duration
	WarningWindow   time.Duration
	CheckInterval   time.Duration

	CacheCapacity int
	CacheTTL      time.Duration

	QueueRetries  int
	DrainInterval time.Duration

	ProbeInterval time.Duration
	ProbePath     string

	BatchEnabled bool
	BatchWindow  time.Duration
	BatchMaxSize int

	Listen          string
	ShutdownTimeout time.Duration

	RedisURL    string
	RedisPrefix string

	LogLevel  string
	LogFormat string
}
