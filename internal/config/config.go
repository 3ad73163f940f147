package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config groups every setting of the chat client. Each section is owned
// by the component it configures.
type Config struct {
	Server    *ServerConfig    `json:"server"`
	Transport *TransportConfig `json:"transport"`
	Session   *SessionConfig   `json:"session"`
	Poller    *PollerConfig    `json:"poller"`
	Store     *StoreConfig     `json:"store"`
	Log       *LogConfig       `json:"log"`
	Locale    *LocaleConfig    `json:"locale"`
	Metrics   *MetricsConfig   `json:"metrics"`
}

// ServerConfig locates the chat server.
type ServerConfig struct {
	BaseURL        string        `json:"base_url" env:"CHATCLIENT_SERVER_BASE_URL"`
	SocketPath     string        `json:"socket_path" env:"CHATCLIENT_SERVER_SOCKET_PATH"`
	RequestTimeout time.Duration `json:"request_timeout" env:"CHATCLIENT_SERVER_REQUEST_TIMEOUT"`
	RequestsPerSec float64       `json:"requests_per_sec" env:"CHATCLIENT_SERVER_REQUESTS_PER_SEC"`
	RequestBurst   int           `json:"request_burst" env:"CHATCLIENT_SERVER_REQUEST_BURST"`
}

// TransportConfig tunes the chat socket.
type TransportConfig struct {
	DialTimeout  time.Duration    `json:"dial_timeout" env:"CHATCLIENT_TRANSPORT_DIAL_TIMEOUT"`
	PingInterval time.Duration    `json:"ping_interval" env:"CHATCLIENT_TRANSPORT_PING_INTERVAL"`
	ReadTimeout  time.Duration    `json:"read_timeout" env:"CHATCLIENT_TRANSPORT_READ_TIMEOUT"`
	WriteTimeout time.Duration    `json:"write_timeout" env:"CHATCLIENT_TRANSPORT_WRITE_TIMEOUT"`
	BufferSize   int              `json:"buffer_size" env:"CHATCLIENT_TRANSPORT_BUFFER_SIZE"`
	SendRate     float64          `json:"send_rate" env:"CHATCLIENT_TRANSPORT_SEND_RATE"`
	SendBurst    int              `json:"send_burst" env:"CHATCLIENT_TRANSPORT_SEND_BURST"`
	Reconnect    *ReconnectConfig `json:"reconnect"`
}

// ReconnectConfig is the bounded retry policy for a dropped connection.
// Disabled by default: a dropped connection stays closed.
type ReconnectConfig struct {
	Enabled         bool          `json:"enabled" env:"CHATCLIENT_RECONNECT_ENABLED"`
	InitialInterval time.Duration `json:"initial_interval" env:"CHATCLIENT_RECONNECT_INITIAL_INTERVAL"`
	MaxInterval     time.Duration `json:"max_interval" env:"CHATCLIENT_RECONNECT_MAX_INTERVAL"`
	MaxElapsed      time.Duration `json:"max_elapsed" env:"CHATCLIENT_RECONNECT_MAX_ELAPSED"`
	MaxAttempts     uint          `json:"max_attempts" env:"CHATCLIENT_RECONNECT_MAX_ATTEMPTS"`
}

// SessionConfig tunes the validity check.
type SessionConfig struct {
	ValidityInterval time.Duration `json:"validity_interval" env:"CHATCLIENT_SESSION_VALIDITY_INTERVAL"`
}

// PollerConfig tunes the offline backlog poll.
type PollerConfig struct {
	Interval time.Duration `json:"interval" env:"CHATCLIENT_POLLER_INTERVAL"`
}

// StoreConfig locates the token database.
type StoreConfig struct {
	Path string        `json:"path" env:"CHATCLIENT_STORE_PATH"`
	Slot string        `json:"slot" env:"CHATCLIENT_STORE_SLOT"`
	Wait time.Duration `json:"wait" env:"CHATCLIENT_STORE_WAIT"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `json:"level" env:"CHATCLIENT_LOG_LEVEL"`
	Format string `json:"format" env:"CHATCLIENT_LOG_FORMAT"`
}

// LocaleConfig selects the notice catalog.
type LocaleConfig struct {
	Tag string `json:"tag" env:"CHATCLIENT_LOCALE"`
}

// MetricsConfig exposes the prometheus endpoint. An empty address disables it.
type MetricsConfig struct {
	Addr string `json:"addr" env:"CHATCLIENT_METRICS_ADDR"`
}

// DefaultConfig mirrors the timings of the web client: a 5 minute validity
// check and a 30 second offline poll.
func DefaultConfig() *Config {
	return &Config{
		Server: &ServerConfig{
			BaseURL:        "http://localhost:8080",
			SocketPath:     "/ws/chat",
			RequestTimeout: 15 * time.Second,
			RequestsPerSec: 10,
			RequestBurst:   20,
		},
		Transport: &TransportConfig{
			DialTimeout:  10 * time.Second,
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 5 * time.Second,
			BufferSize:   100,
			SendRate:     5,
			SendBurst:    10,
			Reconnect: &ReconnectConfig{
				Enabled:         false,
				InitialInterval: 1 * time.Second,
				MaxInterval:     30 * time.Second,
				MaxElapsed:      2 * time.Minute,
				MaxAttempts:     8,
			},
		},
		Session: &SessionConfig{
			ValidityInterval: 5 * time.Minute,
		},
		Poller: &PollerConfig{
			Interval: 30 * time.Second,
		},
		Store: &StoreConfig{
			Path: "./chatclient.db",
			Slot: "default",
			Wait: 5 * time.Second,
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "text",
		},
		Locale: &LocaleConfig{
			Tag: "zh-CN",
		},
		Metrics: &MetricsConfig{},
	}
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.Server == nil {
		return fmt.Errorf("server configuration is required")
	}
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("server base URL %q is not an absolute URL", c.Server.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server base URL scheme must be http or https")
	}
	if !strings.HasPrefix(c.Server.SocketPath, "/") {
		return fmt.Errorf("server socket path must start with /")
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server request timeout must be positive")
	}
	if c.Server.RequestsPerSec <= 0 || c.Server.RequestBurst <= 0 {
		return fmt.Errorf("server request rate and burst must be positive")
	}

	if c.Transport == nil {
		return fmt.Errorf("transport configuration is required")
	}
	if c.Transport.DialTimeout <= 0 {
		return fmt.Errorf("transport dial timeout must be positive")
	}
	if c.Transport.PingInterval <= 0 {
		return fmt.Errorf("transport ping interval must be positive")
	}
	if c.Transport.ReadTimeout <= c.Transport.PingInterval {
		return fmt.Errorf("transport read timeout must exceed the ping interval")
	}
	if c.Transport.WriteTimeout <= 0 {
		return fmt.Errorf("transport write timeout must be positive")
	}
	if c.Transport.BufferSize <= 0 {
		return fmt.Errorf("transport buffer size must be positive")
	}
	if c.Transport.SendRate <= 0 || c.Transport.SendBurst <= 0 {
		return fmt.Errorf("transport send rate and burst must be positive")
	}
	if r := c.Transport.Reconnect; r == nil {
		return fmt.Errorf("reconnect configuration is required")
	} else if r.Enabled {
		if r.InitialInterval <= 0 || r.MaxInterval < r.InitialInterval {
			return fmt.Errorf("reconnect intervals must be positive and ordered")
		}
		if r.MaxAttempts == 0 && r.MaxElapsed <= 0 {
			return fmt.Errorf("reconnect must be bounded by attempts or elapsed time")
		}
	}

	if c.Session == nil || c.Session.ValidityInterval <= 0 {
		return fmt.Errorf("session validity interval must be positive")
	}
	if c.Poller == nil || c.Poller.Interval <= 0 {
		return fmt.Errorf("poller interval must be positive")
	}

	if c.Store == nil {
		return fmt.Errorf("store configuration is required")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store path cannot be empty")
	}
	if c.Store.Slot == "" {
		return fmt.Errorf("store slot cannot be empty")
	}
	if c.Store.Wait <= 0 {
		return fmt.Errorf("store wait must be positive")
	}

	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log format must be text or json")
	}

	if c.Locale == nil || c.Locale.Tag == "" {
		return fmt.Errorf("locale tag cannot be empty")
	}
	if c.Metrics == nil {
		return fmt.Errorf("metrics configuration is required")
	}

	return nil
}

// SocketURL derives the ws(s) URL from the REST base URL.
func (c *Config) SocketURL() string {
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + c.Server.SocketPath
	return u.String()
}

// ParseLevel maps a level name onto slog.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
}

// LoadFromEnv overlays CHATCLIENT_* variables onto the defaults. Variables
// that are unset leave the default in place.
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	targets := []any{
		cfg.Server,
		cfg.Transport,
		cfg.Transport.Reconnect,
		cfg.Session,
		cfg.Poller,
		cfg.Store,
		cfg.Log,
		cfg.Locale,
		cfg.Metrics,
	}
	for _, target := range targets {
		if err := env.Parse(target); err != nil {
			return fmt.Errorf("parse environment: %w", err)
		}
	}
	return nil
}

// LoadConfigWithPrecedence resolves file > environment > defaults. A
// missing or broken file is reported so the caller can decide whether to
// continue on environment and defaults.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	cfg, err := LoadFromEnv()
	if err != nil {
		return nil, err
	}
	if path == "" {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	if err := overlayFile(cfg, path); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}
