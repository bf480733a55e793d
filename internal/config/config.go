// Package config loads chatpulse settings from ~/.chatpulse/config.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment overrides.
const (
	EnvAPIURL = "CHATPULSE_API_URL"
	EnvWSURL  = "CHATPULSE_WS_URL"
)

// Config is the persistent application configuration
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Push    PushConfig    `yaml:"push"`
	Poll    PollConfig    `yaml:"poll"`
	Render  RenderConfig  `yaml:"render"`
	Chart   ChartConfig   `yaml:"chart"`
}

// ServiceConfig locates the analysis service.
type ServiceConfig struct {
	APIURL         string        `yaml:"api_url"`
	WSURL          string        `yaml:"ws_url"` // derived from api_url when empty
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RatePerSecond  float64       `yaml:"rate_per_second"`
}

// PushConfig tunes the WebSocket connection manager.
type PushConfig struct {
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	RetryDelay           time.Duration `yaml:"retry_delay"` // caller-level retry after the manager gives up
}

// PollConfig tunes the REST status poller.
type PollConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxFailures int           `yaml:"max_failures"`
}

// RenderConfig tunes progressive rendering.
type RenderConfig struct {
	Threshold int           `yaml:"threshold"`
	ChunkSize int           `yaml:"chunk_size"`
	Interval  time.Duration `yaml:"interval"`
	AutoStart bool          `yaml:"auto_start"`
}

// ChartConfig holds chart presentation settings.
type ChartConfig struct {
	BaselinePoints int `yaml:"baseline_points"`
	Height         int `yaml:"height"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			APIURL:         "http://localhost:8000",
			RequestTimeout: 15 * time.Second,
			RatePerSecond:  4,
		},
		Push: PushConfig{
			MaxReconnectAttempts: 5,
			ReconnectDelay:       time.Second,
			HandshakeTimeout:     10 * time.Second,
			PingInterval:         25 * time.Second,
			RetryDelay:           5 * time.Second,
		},
		Poll: PollConfig{
			Interval:    2 * time.Second,
			MaxFailures: 3,
		},
		Render: RenderConfig{
			Threshold: 500,
			ChunkSize: 50,
			Interval:  50 * time.Millisecond,
			AutoStart: true,
		},
		Chart: ChartConfig{
			BaselinePoints: 1000,
			Height:         10,
		},
	}
}

// Dir returns ~/.chatpulse.
func Dir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatpulse")
}

// ConfigPath returns the path to the config file
func ConfigPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Load reads the config file, or returns defaults when it does not exist.
// Environment overrides are applied in both cases.
func Load() (*Config, error) {
	return LoadFile(ConfigPath())
}

// LoadFile is Load for an explicit path.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	default:
		// Unmarshal over the defaults so missing keys keep their default.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to ConfigPath.
func (c *Config) Save() error {
	return c.SaveFile(ConfigPath())
}

// SaveFile writes the config as YAML to path.
func (c *Config) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// ApplyEnv overrides service URLs from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvAPIURL); v != "" {
		c.Service.APIURL = v
	}
	if v := os.Getenv(EnvWSURL); v != "" {
		c.Service.WSURL = v
	}
}

// WebSocketURL returns the push endpoint, deriving ws(s)://host/ws from the
// API URL when none is configured.
func (c *Config) WebSocketURL() string {
	if c.Service.WSURL != "" {
		return c.Service.WSURL
	}
	return DeriveWSURL(c.Service.APIURL)
}

// DeriveWSURL maps http(s)://host[/base] to ws(s)://host[/base]/ws.
func DeriveWSURL(apiURL string) string {
	u := apiURL
	switch {
	case len(u) >= 8 && u[:8] == "https://":
		u = "wss://" + u[8:]
	case len(u) >= 7 && u[:7] == "http://":
		u = "ws://" + u[7:]
	}
	for len(u) > 0 && u[len(u)-1] == '/' {
		u = u[:len(u)-1]
	}
	return u + "/ws"
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Service.APIURL == "":
		return errors.New("service.api_url is required")
	case c.Service.RatePerSecond < 0:
		return errors.New("service.rate_per_second must not be negative")
	case c.Push.MaxReconnectAttempts < 0:
		return errors.New("push.max_reconnect_attempts must not be negative")
	case c.Push.ReconnectDelay < 0 || c.Push.RetryDelay < 0:
		return errors.New("push delays must not be negative")
	case c.Poll.Interval <= 0:
		return errors.New("poll.interval must be positive")
	case c.Poll.MaxFailures < 1:
		return errors.New("poll.max_failures must be at least 1")
	case c.Render.ChunkSize < 1:
		return errors.New("render.chunk_size must be at least 1")
	case c.Render.Threshold < 0:
		return errors.New("render.threshold must not be negative")
	case c.Chart.BaselinePoints < 1:
		return errors.New("chart.baseline_points must be at least 1")
	}
	return nil
}
