package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Gateway   GatewayConfig
	Session   SessionConfig
	Sandbox   SandboxConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"5000"`
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
	Compression     bool          `envconfig:"HTTP_COMPRESSION" default:"true"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
	// LevelRoute mounts GET/PUT /log/level. Always on in development.
	LevelRoute bool `envconfig:"LOG_LEVEL_ROUTE" default:"false"`
}

// RateLimitConfig holds HTTP rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"20"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"40"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// CORSConfig holds allowed origins for HTTP and websocket upgrades.
type CORSConfig struct {
	Origins []string `envconfig:"CORS_ORIGINS" default:"*"`
}

// GatewayConfig holds websocket connection settings.
type GatewayConfig struct {
	SendBuffer        int           `envconfig:"WS_SEND_BUFFER" default:"256"`
	MaxMessageBytes   int64         `envconfig:"WS_MAX_MESSAGE_BYTES" default:"1048576"`
	PingInterval      time.Duration `envconfig:"WS_PING_INTERVAL" default:"30s"`
	PongWait          time.Duration `envconfig:"WS_PONG_WAIT" default:"60s"`
	WriteWait         time.Duration `envconfig:"WS_WRITE_WAIT" default:"10s"`
	MessagesPerSecond float64       `envconfig:"WS_MESSAGES_PER_SECOND" default:"50"`
	MessageBurst      int           `envconfig:"WS_MESSAGE_BURST" default:"100"`
	Compression       bool          `envconfig:"WS_COMPRESSION" default:"false"`
}

// SessionConfig holds session registry settings.
type SessionConfig struct {
	CodeLength     int `envconfig:"SESSION_CODE_LENGTH" default:"6"`
	CreateAttempts int `envconfig:"SESSION_CREATE_ATTEMPTS" default:"16"`
}

// SandboxConfig holds execution sandbox settings.
type SandboxConfig struct {
	Backend                string        `envconfig:"SANDBOX_BACKEND" default:"container"`
	Timeout                time.Duration `envconfig:"SANDBOX_TIMEOUT" default:"5s"`
	ProvisionTimeout       time.Duration `envconfig:"SANDBOX_PROVISION_TIMEOUT" default:"2m"`
	OutputLimit            int           `envconfig:"SANDBOX_OUTPUT_LIMIT" default:"65536"`
	SourceLimit            int           `envconfig:"SANDBOX_SOURCE_LIMIT" default:"65536"`
	StdinLimit             int           `envconfig:"SANDBOX_STDIN_LIMIT" default:"65536"`
	PartialOutputOnTimeout bool          `envconfig:"SANDBOX_PARTIAL_OUTPUT_ON_TIMEOUT" default:"false"`
	RetryBackoff           time.Duration `envconfig:"SANDBOX_RETRY_BACKOFF" default:"250ms"`
	MaxConcurrent          int           `envconfig:"SANDBOX_MAX_CONCURRENT" default:"8"`
	QueueTimeout           time.Duration `envconfig:"SANDBOX_QUEUE_TIMEOUT" default:"10s"`
	ProfilesFile           string        `envconfig:"SANDBOX_PROFILES"`
	WatchProfiles          bool          `envconfig:"SANDBOX_WATCH_PROFILES" default:"true"`
	WorkDir                string        `envconfig:"SANDBOX_WORKDIR"`
	MemoryMB               int64         `envconfig:"SANDBOX_MEMORY_MB" default:"256"`
	CPUs                   float64       `envconfig:"SANDBOX_CPUS" default:"1"`
	PidsLimit              int64         `envconfig:"SANDBOX_PIDS_LIMIT" default:"64"`
	PullImages             bool          `envconfig:"SANDBOX_PULL_IMAGES" default:"true"`
	RemoteURL              string        `envconfig:"SANDBOX_REMOTE_URL" default:"http://localhost:2000"`
	RemoteRetries          int           `envconfig:"SANDBOX_REMOTE_RETRIES" default:"1"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "5000",
			Host:            "0.0.0.0",
			ShutdownTimeout: 15 * time.Second,
			Compression:     true,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
			Enabled:           true,
		},
		CORS: CORSConfig{
			Origins: []string{"*"},
		},
		Gateway: GatewayConfig{
			SendBuffer:        256,
			MaxMessageBytes:   1 << 20,
			PingInterval:      30 * time.Second,
			PongWait:          60 * time.Second,
			WriteWait:         10 * time.Second,
			MessagesPerSecond: 50,
			MessageBurst:      100,
		},
		Session: SessionConfig{
			CodeLength:     6,
			CreateAttempts: 16,
		},
		Sandbox: SandboxConfig{
			Backend:          "container",
			Timeout:          5 * time.Second,
			ProvisionTimeout: 2 * time.Minute,
			OutputLimit:      64 << 10,
			SourceLimit:      64 << 10,
			StdinLimit:       64 << 10,
			RetryBackoff:     250 * time.Millisecond,
			MaxConcurrent:    8,
			QueueTimeout:     10 * time.Second,
			WatchProfiles:    true,
			MemoryMB:         256,
			CPUs:             1,
			PidsLimit:        64,
			PullImages:       true,
			RemoteURL:        "http://localhost:2000",
			RemoteRetries:    1,
		},
	}
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	if c.Sandbox.Timeout <= 0 {
		return fmt.Errorf("SANDBOX_TIMEOUT must be positive, got %s", c.Sandbox.Timeout)
	}
	if c.Sandbox.OutputLimit <= 0 {
		return fmt.Errorf("SANDBOX_OUTPUT_LIMIT must be positive, got %d", c.Sandbox.OutputLimit)
	}
	if c.Sandbox.MaxConcurrent <= 0 {
		return fmt.Errorf("SANDBOX_MAX_CONCURRENT must be positive, got %d", c.Sandbox.MaxConcurrent)
	}
	if c.Session.CodeLength < 4 {
		return fmt.Errorf("SESSION_CODE_LENGTH must be at least 4, got %d", c.Session.CodeLength)
	}
	if c.Gateway.PingInterval >= c.Gateway.PongWait {
		return fmt.Errorf("WS_PING_INTERVAL (%s) must be shorter than WS_PONG_WAIT (%s)",
			c.Gateway.PingInterval, c.Gateway.PongWait)
	}
	switch c.Sandbox.Backend {
	case "container", "process", "remote":
	default:
		return fmt.Errorf("SANDBOX_BACKEND must be one of container, process, remote; got %q", c.Sandbox.Backend)
	}
	return nil
}
