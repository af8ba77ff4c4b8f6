package config

// Defaults mirror the constants the individual packages fall back to,
// so an empty config file and a zero Config behave identically.
const (
	defaultUserAgent       = "pos-agent/0.1.0"
	defaultRequestTimeout  = "15s"
	defaultMaxRetries      = 3
	defaultInitialBackoff  = "500ms"
	defaultMaxBackoff      = "30s"
	defaultSessionLifetime = "8h"
	defaultWarningWindow   = "5m"
	defaultCheckInterval   = "1m"
	defaultCacheCapacity   = 512
	defaultCacheTTL        = "5m"
	defaultQueueRetries    = 5
	defaultDrainInterval   = "1m"
	defaultProbeInterval   = "30s"
	defaultProbePath       = "/health"
	defaultBatchWindow     = "50ms"
	defaultBatchMaxSize    = 10
	defaultListen          = "127.0.0.1:7345"
	defaultShutdownTimeout = "10s"
	defaultRedisPrefix     = "pos"
	defaultLogLevel        = "info"
	defaultLogFormat       = "auto"
)

// DefaultConfig returns a Config populated with all default values.
// Decoding starts from this, so fields absent from the file keep their
// defaults.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			UserAgent:      defaultUserAgent,
			RequestTimeout: defaultRequestTimeout,
		},
		Retry: RetryConfig{
			MaxRetries:     defaultMaxRetries,
			InitialBackoff: defaultInitialBackoff,
			MaxBackoff:     defaultMaxBackoff,
		},
		Session: SessionConfig{
			Lifetime:      defaultSessionLifetime,
			WarningWindow: defaultWarningWindow,
			CheckInterval: defaultCheckInterval,
		},
		Cache: CacheConfig{
			Capacity:   defaultCacheCapacity,
			DefaultTTL: defaultCacheTTL,
		},
		Queue: QueueConfig{
			MaxRetries:    defaultQueueRetries,
			DrainInterval: defaultDrainInterval,
		},
		Connectivity: ConnectivityConfig{
			ProbeInterval: defaultProbeInterval,
			ProbePath:     defaultProbePath,
		},
		Batch: BatchConfig{
			Window:  defaultBatchWindow,
			MaxSize: defaultBatchMaxSize,
		},
		Server: ServerConfig{
			Listen:          defaultListen,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Redis: RedisConfig{
			Prefix: defaultRedisPrefix,
		},
		Logging: LoggingConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
