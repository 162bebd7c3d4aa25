// Package config loads process configuration from a JSON file with
// environment variable overrides applied on top.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Store     StoreConfig     `json:"store"`
	Bridge    BridgeConfig    `json:"bridge"`
	Auth      AuthConfig      `json:"auth"`
	Session   SessionConfig   `json:"session"`
	Retention RetentionConfig `json:"retention"`
	Log       LogConfig       `json:"log"`
}

type GatewayConfig struct {
	Host string `env:"LEDBOT_GATEWAY_HOST" json:"host"`
	Port int    `env:"LEDBOT_GATEWAY_PORT" json:"port"`
}

// Addr returns the host:port the HTTP API listens on.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

type StoreConfig struct {
	Path string `env:"LEDBOT_STORE_PATH" json:"path"`
}

type BridgeConfig struct {
	URL              string `env:"LEDBOT_BRIDGE_URL"               json:"url"`
	HandshakeTimeout int    `env:"LEDBOT_BRIDGE_HANDSHAKE_TIMEOUT" json:"handshake_timeout"` // seconds
}

type AuthConfig struct {
	JWTSecret   string `env:"LEDBOT_AUTH_JWT_SECRET"   json:"jwt_secret"`
	TokenExpiry int    `env:"LEDBOT_AUTH_TOKEN_EXPIRY" json:"token_expiry"` // minutes
}

type SessionConfig struct {
	BackoffInitial int     `env:"LEDBOT_SESSION_BACKOFF_INITIAL" json:"backoff_initial"` // seconds
	BackoffMax     int     `env:"LEDBOT_SESSION_BACKOFF_MAX"     json:"backoff_max"`     // seconds
	MaxRetries     int     `env:"LEDBOT_SESSION_MAX_RETRIES"     json:"max_retries"`
	BackoffJitter  float64 `env:"LEDBOT_SESSION_BACKOFF_JITTER"  json:"backoff_jitter"`
}

type RetentionConfig struct {
	Enabled bool   `env:"LEDBOT_RETENTION_ENABLED"  json:"enabled"`
	Cron    string `env:"LEDBOT_RETENTION_CRON"     json:"cron"`
	MaxAge  int    `env:"LEDBOT_RETENTION_MAX_AGE"  json:"max_age"` // days
}

type LogConfig struct {
	Level string `env:"LEDBOT_LOG_LEVEL" json:"level"`
	Debug bool   `env:"LEDBOT_LOG_DEBUG" json:"debug"`
}

func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Store: StoreConfig{
			Path: "~/.ledbot/data",
		},
		Bridge: BridgeConfig{
			URL:              "ws://localhost:3001",
			HandshakeTimeout: 10,
		},
		Auth: AuthConfig{
			TokenExpiry: 60 * 24,
		},
		Session: SessionConfig{
			BackoffInitial: 2,
			BackoffMax:     60,
			MaxRetries:     10,
			BackoffJitter:  0.2,
		},
		Retention: RetentionConfig{
			Enabled: true,
			Cron:    "0 3 * * *",
			MaxAge:  30,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads the JSON config at path, falling back to defaults
// when the file does not exist, then applies LEDBOT_* env overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	path = expandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate rejects configurations that cannot produce a working process.
func (c *Config) Validate() error {
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway port %d out of range", c.Gateway.Port)
	}
	if c.Bridge.URL == "" {
		return errors.New("bridge url is required")
	}
	if c.Session.MaxRetries < 0 {
		return errors.New("session max_retries must not be negative")
	}
	if c.Session.BackoffJitter < 0 || c.Session.BackoffJitter > 1 {
		return errors.New("session backoff_jitter must be in [0, 1]")
	}
	return nil
}

// StorePath returns the store directory with ~ expanded.
func (c *Config) StorePath() string {
	return expandHome(c.Store.Path)
}

// BackoffInitial returns the reconnect backoff floor as a duration.
func (c *Config) BackoffInitial() time.Duration {
	return time.Duration(c.Session.BackoffInitial) * time.Second
}

// BackoffMax returns the reconnect backoff ceiling as a duration.
func (c *Config) BackoffMax() time.Duration {
	return time.Duration(c.Session.BackoffMax) * time.Second
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
