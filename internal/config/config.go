package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

const (
	defaultAPIBaseURL         = "http://127.0.0.1:18790"
	defaultDeskPort           = 18790
	defaultReconnectInitialMs = 3000
	defaultReconnectMaxMs     = 30000
	defaultMaxAttempts        = 10
)

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = defaultAPIBaseURL
	}
	if cfg.API.TimeoutSeconds == 0 {
		cfg.API.TimeoutSeconds = 30
	}
	if cfg.Realtime.ReconnectInitialMs == 0 {
		cfg.Realtime.ReconnectInitialMs = defaultReconnectInitialMs
	}
	if cfg.Realtime.ReconnectMaxMs == 0 {
		cfg.Realtime.ReconnectMaxMs = defaultReconnectMaxMs
	}
	if cfg.Realtime.ReconnectMultiplier == 0 {
		cfg.Realtime.ReconnectMultiplier = 2
	}
	if cfg.Realtime.MaxAttempts == nil {
		n := defaultMaxAttempts
		cfg.Realtime.MaxAttempts = &n
	}
	if cfg.Notify.Bell == nil {
		on := true
		cfg.Notify.Bell = &on
	}
	if cfg.Notify.CooldownMs == 0 {
		cfg.Notify.CooldownMs = 1500
	}
	if cfg.State.Store == "" {
		cfg.State.Store = "sqlite"
	}
	if cfg.Desk.Port == 0 {
		cfg.Desk.Port = defaultDeskPort
	}
	if cfg.Desk.Bind == "" {
		cfg.Desk.Bind = "loopback"
	}
	if cfg.Desk.PingIntervalSeconds == 0 {
		cfg.Desk.PingIntervalSeconds = 25
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = "pretty"
	}
}

// RealtimeURL returns the WebSocket base address. An explicit realtime.url
// wins; otherwise the api.baseUrl scheme is swapped to ws or wss.
func (c Config) RealtimeURL() (string, error) {
	if c.Realtime.URL != "" {
		return strings.TrimRight(c.Realtime.URL, "/"), nil
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil {
		return "", &ConfigError{Message: "invalid api.baseUrl: " + err.Error()}
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", &ConfigError{Message: "api.baseUrl must be http or https, got " + u.Scheme}
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// ReconnectInitial returns the first reconnect delay.
func (c RealtimeConfig) ReconnectInitial() time.Duration {
	return time.Duration(c.ReconnectInitialMs) * time.Millisecond
}

// ReconnectMax returns the reconnect delay ceiling.
func (c RealtimeConfig) ReconnectMax() time.Duration {
	return time.Duration(c.ReconnectMaxMs) * time.Millisecond
}

// Attempts returns the give-up threshold; 0 means retry forever.
func (c RealtimeConfig) Attempts() int {
	if c.MaxAttempts == nil {
		return defaultMaxAttempts
	}
	return *c.MaxAttempts
}

// BellEnabled reports whether the audible cue is on.
func (c NotifyConfig) BellEnabled() bool {
	return c.Bell == nil || *c.Bell
}
