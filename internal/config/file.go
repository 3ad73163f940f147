package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// ConfigFile is the on-disk shape. Durations are strings such as "30s" so
// both JSON and YAML files stay readable.
type ConfigFile struct {
	Server    *ServerConfigFile    `json:"server" yaml:"server"`
	Transport *TransportConfigFile `json:"transport" yaml:"transport"`
	Session   *SessionConfigFile   `json:"session" yaml:"session"`
	Poller    *PollerConfigFile    `json:"poller" yaml:"poller"`
	Store     *StoreConfigFile     `json:"store" yaml:"store"`
	Log       *LogConfig           `json:"log" yaml:"log"`
	Locale    *LocaleConfig        `json:"locale" yaml:"locale"`
	Metrics   *MetricsConfig       `json:"metrics" yaml:"metrics"`
}

type ServerConfigFile struct {
	BaseURL        string  `json:"base_url" yaml:"base_url"`
	SocketPath     string  `json:"socket_path" yaml:"socket_path"`
	RequestTimeout string  `json:"request_timeout" yaml:"request_timeout"`
	RequestsPerSec float64 `json:"requests_per_sec" yaml:"requests_per_sec"`
	RequestBurst   int     `json:"request_burst" yaml:"request_burst"`
}

type TransportConfigFile struct {
	DialTimeout  string               `json:"dial_timeout" yaml:"dial_timeout"`
	PingInterval string               `json:"ping_interval" yaml:"ping_interval"`
	ReadTimeout  string               `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout string               `json:"write_timeout" yaml:"write_timeout"`
	BufferSize   int                  `json:"buffer_size" yaml:"buffer_size"`
	SendRate     float64              `json:"send_rate" yaml:"send_rate"`
	SendBurst    int                  `json:"send_burst" yaml:"send_burst"`
	Reconnect    *ReconnectConfigFile `json:"reconnect" yaml:"reconnect"`
}

type ReconnectConfigFile struct {
	Enabled         *bool  `json:"enabled" yaml:"enabled"`
	InitialInterval string `json:"initial_interval" yaml:"initial_interval"`
	MaxInterval     string `json:"max_interval" yaml:"max_interval"`
	MaxElapsed      string `json:"max_elapsed" yaml:"max_elapsed"`
	MaxAttempts     uint   `json:"max_attempts" yaml:"max_attempts"`
}

type SessionConfigFile struct {
	ValidityInterval string `json:"validity_interval" yaml:"validity_interval"`
}

type PollerConfigFile struct {
	Interval string `json:"interval" yaml:"interval"`
}

type StoreConfigFile struct {
	Path string `json:"path" yaml:"path"`
	Slot string `json:"slot" yaml:"slot"`
	Wait string `json:"wait" yaml:"wait"`
}

// LoadFromFile reads a config file on top of the defaults. Files ending in
// .yaml or .yml are YAML, everything else is JSON with comments allowed.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := overlayFile(cfg, path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

func overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	default:
		err = json.Unmarshal(jsonc.ToJSON(data), &file)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := file.apply(cfg); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	return nil
}

func (f *ConfigFile) apply(cfg *Config) error {
	if s := f.Server; s != nil {
		setString(&cfg.Server.BaseURL, s.BaseURL)
		setString(&cfg.Server.SocketPath, s.SocketPath)
		if err := setDuration(&cfg.Server.RequestTimeout, "server.request_timeout", s.RequestTimeout); err != nil {
			return err
		}
		if s.RequestsPerSec > 0 {
			cfg.Server.RequestsPerSec = s.RequestsPerSec
		}
		if s.RequestBurst > 0 {
			cfg.Server.RequestBurst = s.RequestBurst
		}
	}

	if t := f.Transport; t != nil {
		durations := []struct {
			dst  *time.Duration
			name string
			raw  string
		}{
			{&cfg.Transport.DialTimeout, "transport.dial_timeout", t.DialTimeout},
			{&cfg.Transport.PingInterval, "transport.ping_interval", t.PingInterval},
			{&cfg.Transport.ReadTimeout, "transport.read_timeout", t.ReadTimeout},
			{&cfg.Transport.WriteTimeout, "transport.write_timeout", t.WriteTimeout},
		}
		for _, d := range durations {
			if err := setDuration(d.dst, d.name, d.raw); err != nil {
				return err
			}
		}
		if t.BufferSize > 0 {
			cfg.Transport.BufferSize = t.BufferSize
		}
		if t.SendRate > 0 {
			cfg.Transport.SendRate = t.SendRate
		}
		if t.SendBurst > 0 {
			cfg.Transport.SendBurst = t.SendBurst
		}

		if r := t.Reconnect; r != nil {
			rc := cfg.Transport.Reconnect
			if r.Enabled != nil {
				rc.Enabled = *r.Enabled
			}
			if err := setDuration(&rc.InitialInterval, "transport.reconnect.initial_interval", r.InitialInterval); err != nil {
				return err
			}
			if err := setDuration(&rc.MaxInterval, "transport.reconnect.max_interval", r.MaxInterval); err != nil {
				return err
			}
			if err := setDuration(&rc.MaxElapsed, "transport.reconnect.max_elapsed", r.MaxElapsed); err != nil {
				return err
			}
			if r.MaxAttempts > 0 {
				rc.MaxAttempts = r.MaxAttempts
			}
		}
	}

	if s := f.Session; s != nil {
		if err := setDuration(&cfg.Session.ValidityInterval, "session.validity_interval", s.ValidityInterval); err != nil {
			return err
		}
	}
	if p := f.Poller; p != nil {
		if err := setDuration(&cfg.Poller.Interval, "poller.interval", p.Interval); err != nil {
			return err
		}
	}
	if s := f.Store; s != nil {
		setString(&cfg.Store.Path, s.Path)
		setString(&cfg.Store.Slot, s.Slot)
		if err := setDuration(&cfg.Store.Wait, "store.wait", s.Wait); err != nil {
			return err
		}
	}
	if l := f.Log; l != nil {
		setString(&cfg.Log.Level, l.Level)
		setString(&cfg.Log.Format, l.Format)
	}
	if l := f.Locale; l != nil {
		setString(&cfg.Locale.Tag, l.Tag)
	}
	if m := f.Metrics; m != nil {
		setString(&cfg.Metrics.Addr, m.Addr)
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, name, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = d
	return nil
}
