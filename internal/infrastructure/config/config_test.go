package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "5000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "0.0.0.0:5000", cfg.Server.Addr())

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	assert.Equal(t, 5*time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, 65536, cfg.Sandbox.OutputLimit)
	assert.False(t, cfg.Sandbox.PartialOutputOnTimeout)
	assert.Equal(t, "container", cfg.Sandbox.Backend)

	assert.Equal(t, 6, cfg.Session.CodeLength)
	assert.Equal(t, 256, cfg.Gateway.SendBuffer)

	require.NoError(t, cfg.Validate())
}

func TestLoadMatchesDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.Sandbox, cfg.Sandbox)
	assert.Equal(t, def.Gateway, cfg.Gateway)
	assert.Equal(t, def.Session, cfg.Session)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                              "9000",
		"HOST":                              "127.0.0.1",
		"LOG_LEVEL":                         "debug",
		"LOG_DEV":                           "true",
		"RATE_LIMIT_RPS":                    "500",
		"RATE_LIMIT_ENABLED":                "false",
		"CORS_ORIGINS":                      "http://localhost:5173,https://codesync.dev",
		"WS_PING_INTERVAL":                  "15s",
		"SESSION_CODE_LENGTH":               "8",
		"SANDBOX_BACKEND":                   "process",
		"SANDBOX_TIMEOUT":                   "2500ms",
		"SANDBOX_OUTPUT_LIMIT":              "1024",
		"SANDBOX_PARTIAL_OUTPUT_ON_TIMEOUT": "true",
		"SANDBOX_CPUS":                      "0.5",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, 500, cfg.RateLimit.RequestsPerSecond)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, []string{"http://localhost:5173", "https://codesync.dev"}, cfg.CORS.Origins)
	assert.Equal(t, 15*time.Second, cfg.Gateway.PingInterval)
	assert.Equal(t, 8, cfg.Session.CodeLength)
	assert.Equal(t, "process", cfg.Sandbox.Backend)
	assert.Equal(t, 2500*time.Millisecond, cfg.Sandbox.Timeout)
	assert.Equal(t, 1024, cfg.Sandbox.OutputLimit)
	assert.True(t, cfg.Sandbox.PartialOutputOnTimeout)
	assert.InDelta(t, 0.5, cfg.Sandbox.CPUs, 1e-9)
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("SANDBOX_TIMEOUT", "five seconds")

	_, err := Load()
	assert.Error(t, err)

	cfg := LoadOrDefault()
	assert.Equal(t, 5*time.Second, cfg.Sandbox.Timeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero timeout", func(c *Config) { c.Sandbox.Timeout = 0 }, "SANDBOX_TIMEOUT"},
		{"zero output limit", func(c *Config) { c.Sandbox.OutputLimit = 0 }, "SANDBOX_OUTPUT_LIMIT"},
		{"zero workers", func(c *Config) { c.Sandbox.MaxConcurrent = 0 }, "SANDBOX_MAX_CONCURRENT"},
		{"short codes", func(c *Config) { c.Session.CodeLength = 3 }, "SESSION_CODE_LENGTH"},
		{"ping after pong", func(c *Config) { c.Gateway.PingInterval = time.Minute }, "WS_PING_INTERVAL"},
		{"unknown backend", func(c *Config) { c.Sandbox.Backend = "vm" }, "SANDBOX_BACKEND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
