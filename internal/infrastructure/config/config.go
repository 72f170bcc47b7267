package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Guest entry modes.
const (
	ModeDirect    = "direct"
	ModeBootstrap = "bootstrap"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Remote    RemoteConfig
	Guest     GuestConfig
	Storage   StorageConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port        string   `envconfig:"PORT" default:"8000"`
	Host        string   `envconfig:"HOST" default:"0.0.0.0"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"*"`
}

// RemoteConfig controls the VFS fallback fetch.
type RemoteConfig struct {
	BaseURL   string        `envconfig:"REMOTE_BASE_URL" default:""`
	Timeout   time.Duration `envconfig:"REMOTE_TIMEOUT" default:"10s"`
	Retries   int           `envconfig:"REMOTE_RETRIES" default:"2"`
	RPS       float64       `envconfig:"REMOTE_RPS" default:"0"`
	Allow     []string      `envconfig:"REMOTE_ALLOW" default:"/**"`
	NoNetwork bool          `envconfig:"NO_NETWORK" default:"false"`
}

// GuestConfig holds per-guest runtime settings.
type GuestConfig struct {
	Mode       string `envconfig:"GUEST_MODE" default:"direct"`
	NativesDir string `envconfig:"GUEST_NATIVES_DIR" default:"/node"`
	Cwd        string `envconfig:"GUEST_CWD" default:"/cwd"`
	MaxStack   int    `envconfig:"GUEST_MAX_STACK" default:"1024"`
}

// StorageConfig holds host-side persistence settings.
type StorageConfig struct {
	SnapshotPath string `envconfig:"SNAPSHOT_PATH" default:""`
	SeedDir      string `envconfig:"SEED_DIR" default:""`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
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

// Validate rejects settings no component can honor.
func (c *Config) Validate() error {
	switch c.Guest.Mode {
	case ModeDirect, ModeBootstrap:
	default:
		return fmt.Errorf("invalid GUEST_MODE %q", c.Guest.Mode)
	}
	if c.Guest.MaxStack <= 0 {
		return fmt.Errorf("GUEST_MAX_STACK must be positive, got %d", c.Guest.MaxStack)
	}
	if c.Remote.Retries < 0 {
		return fmt.Errorf("REMOTE_RETRIES must not be negative, got %d", c.Remote.Retries)
	}
	for _, origin := range c.Server.CORSOrigins {
		if origin != "*" && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return fmt.Errorf("CORS_ORIGINS entry %q must be * or an http(s) origin", origin)
		}
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8000",
			Host:        "0.0.0.0",
			CORSOrigins: []string{"*"},
		},
		Remote: RemoteConfig{
			Timeout: 10 * time.Second,
			Retries: 2,
			Allow:   []string{"/**"},
		},
		Guest: GuestConfig{
			Mode:       ModeDirect,
			NativesDir: "/node",
			Cwd:        "/cwd",
			MaxStack:   1024,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
