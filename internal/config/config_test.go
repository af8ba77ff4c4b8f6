package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeTestConfig(t, `
[backend]
url = "https://pos.example.com/api"
user_agent = "store-17-agent/2.1"
request_timeout = "20s"

[retry]
max_retries = 5
initial_backoff = "250ms"
max_backoff = "10s"

[session]
lifetime = "12h"
warning_window = "10m"

[cache]
capacity = 1024
default_ttl = "2m"

[queue]
max_retries = 3
drain_interval = "30s"

[server]
listen = "127.0.0.1:9000"

[redis]
url = "localhost:6379"
prefix = "store17"

[logging]
level = "debug"
format = "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://pos.example.com/api", cfg.Backend.URL)
	assert.Equal(t, "store-17-agent/2.1", cfg.Backend.UserAgent)
	assert.Equal(t, "20s", cfg.Backend.RequestTimeout)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, "12h", cfg.Session.Lifetime)
	assert.Equal(t, "10m", cfg.Session.WarningWindow)
	assert.Equal(t, 1024, cfg.Cache.Capacity)
	assert.Equal(t, "30s", cfg.Queue.DrainInterval)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Listen)
	assert.Equal(t, "localhost:6379", cfg.Redis.URL)
	assert.Equal(t, "store17", cfg.Redis.Prefix)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Unset sections keep their defaults.
	assert.Equal(t, "30s", cfg.Connectivity.ProbeInterval)
	assert.Equal(t, 10, cfg.Batch.MaxSize)
	assert.Equal(t, "1m", cfg.Session.CheckInterval)
}

func TestLoad_UnknownKeyFails(t *testing.T) {
	path := writeTestConfig(t, `
[backend]
url = "https://pos.example.com"
request_timout = "20s"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config keys")
	assert.Contains(t, err.Error(), "request_timout")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, Validate(DefaultConfig()))
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "bad backend url",
			mutate: func(c *Config) { c.Backend.URL = "not a url" },
			want:   "backend.url",
		},
		{
			name:   "ftp backend url",
			mutate: func(c *Config) { c.Backend.URL = "ftp://pos.example.com" },
			want:   "backend.url",
		},
		{
			name:   "negative retries",
			mutate: func(c *Config) { c.Retry.MaxRetries = -1 },
			want:   "retry.max_retries",
		},
		{
			name: "backoff cap below initial",
			mutate: func(c *Config) {
				c.Retry.InitialBackoff = "10s"
				c.Retry.MaxBackoff = "1s"
			},
			want: "retry.max_backoff",
		},
		{
			name:   "warning window exceeds lifetime",
			mutate: func(c *Config) { c.Session.WarningWindow = "9h" },
			want:   "session.warning_window",
		},
		{
			name:   "zero cache capacity",
			mutate: func(c *Config) { c.Cache.Capacity = 0 },
			want:   "cache.capacity",
		},
		{
			name:   "malformed duration",
			mutate: func(c *Config) { c.Queue.DrainInterval = "soon" },
			want:   "queue.drain_interval",
		},
		{
			name:   "probe path without slash",
			mutate: func(c *Config) { c.Connectivity.ProbePath = "health" },
			want:   "connectivity.probe_path",
		},
		{
			name:   "unknown log level",
			mutate: func(c *Config) { c.Logging.Level = "loud" },
			want:   "logging.level",
		},
		{
			name:   "unknown log format",
			mutate: func(c *Config) { c.Logging.Format = "xml" },
			want:   "logging.format",
		},
		{
			name:   "empty listen",
			mutate: func(c *Config) { c.Server.Listen = "" },
			want:   "server.listen",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_AccumulatesAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.Capacity = 0
	cfg.Logging.Level = "loud"
	cfg.Server.Listen = ""

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache.capacity")
	assert.Contains(t, err.Error(), "logging.level")
	assert.Contains(t, err.Error(), "server.listen")
}

func TestResolve_ParsesDurations(t *testing.T) {
	path := writeTestConfig(t, `
[backend]
url = "https://pos.example.com/api"
request_timeout = "20s"

[session]
lifetime = "12h"
`)

	r, err := Resolve(path, EnvOverrides{})
	require.NoError(t, err)

	assert.Equal(t, "https://pos.example.com/api", r.BackendURL)
	assert.Equal(t, 20*time.Second, r.RequestTimeout)
	assert.Equal(t, 12*time.Hour, r.SessionLifetime)
	assert.Equal(t, 5*time.Minute, r.WarningWindow)
	assert.Equal(t, 3, r.RetryMax)
	assert.Equal(t, 500*time.Millisecond, r.RetryInitial)
	assert.Equal(t, 512, r.CacheCapacity)
	assert.Equal(t, time.Minute, r.DrainInterval)
	assert.Equal(t, 30*time.Second, r.ProbeInterval)
	assert.Equal(t, "/health", r.ProbePath)
	assert.False(t, r.BatchEnabled)
	assert.Equal(t, "127.0.0.1:7345", r.Listen)
}

func TestResolve_EnvOverridesFile(t *testing.T) {
	path := writeTestConfig(t, `
[backend]
url = "https://file.example.com"

[logging]
level = "info"
`)

	r, err := Resolve(path, EnvOverrides{
		BackendURL: "https://env.example.com",
		Listen:     "127.0.0.1:9999",
		LogLevel:   "debug",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", r.BackendURL)
	assert.Equal(t, "127.0.0.1:9999", r.Listen)
	assert.Equal(t, "debug", r.LogLevel)
}

func TestResolve_EnvConfigPathWins(t *testing.T) {
	envPath := writeTestConfig(t, `
[server]
listen = "127.0.0.1:4242"
`)

	r, err := Resolve(filepath.Join(t.TempDir(), "ignored.toml"), EnvOverrides{ConfigPath: envPath})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:4242", r.Listen)
}

func TestResolve_BadEnvValueFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.toml")

	_, err := Resolve(path, EnvOverrides{BackendURL: "::bad::"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend.url")
}
