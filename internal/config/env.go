package config

import "os"

// Environment variable names for overrides. Environment wins over the
// config file, losing only to explicit flags.
const (
	EnvConfig     = "POS_AGENT_CONFIG"
	EnvBackendURL = "POS_AGENT_BACKEND_URL"
	EnvRedisURL   = "POS_AGENT_REDIS_URL"
	EnvListen     = "POS_AGENT_LISTEN"
	EnvLogLevel   = "POS_AGENT_LOG_LEVEL"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string
	BackendURL string
	RedisURL   string
	Listen     string
	LogLevel   string
}

// ReadEnvOverrides reads environment variables and returns any
// overrides found. The Config is not modified; Resolve applies them.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		BackendURL: os.Getenv(EnvBackendURL),
		RedisURL:   os.Getenv(EnvRedisURL),
		Listen:     os.Getenv(EnvListen),
		LogLevel:   os.Getenv(EnvLogLevel),
	}
}
