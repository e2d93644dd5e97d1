package config

import (
	"fmt"
	"net/url"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	// API validation
	if u, err := url.Parse(cfg.API.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		issues = append(issues, ValidationIssue{
			Path:    "api.baseUrl",
			Message: fmt.Sprintf("must be an absolute http(s) URL, got %q", cfg.API.BaseURL),
		})
	}
	if cfg.API.TimeoutSeconds < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "api.timeoutSeconds",
			Message: "must not be negative",
		})
	}

	// Realtime validation
	if cfg.Realtime.URL != "" {
		if u, err := url.Parse(cfg.Realtime.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			issues = append(issues, ValidationIssue{
				Path:    "realtime.url",
				Message: fmt.Sprintf("must be a ws(s) URL, got %q", cfg.Realtime.URL),
			})
		}
	}
	if cfg.Realtime.ReconnectInitialMs < 0 || cfg.Realtime.ReconnectMaxMs < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "realtime",
			Message: "reconnect delays must not be negative",
		})
	}
	if cfg.Realtime.ReconnectMaxMs > 0 && cfg.Realtime.ReconnectMaxMs < cfg.Realtime.ReconnectInitialMs {
		issues = append(issues, ValidationIssue{
			Path:    "realtime.reconnectMaxMs",
			Message: fmt.Sprintf("must be >= reconnectInitialMs (%d), got %d", cfg.Realtime.ReconnectInitialMs, cfg.Realtime.ReconnectMaxMs),
		})
	}
	if cfg.Realtime.ReconnectMultiplier != 0 && cfg.Realtime.ReconnectMultiplier < 1 {
		issues = append(issues, ValidationIssue{
			Path:    "realtime.reconnectMultiplier",
			Message: fmt.Sprintf("must be >= 1, got %g", cfg.Realtime.ReconnectMultiplier),
		})
	}
	if cfg.Realtime.MaxAttempts != nil && *cfg.Realtime.MaxAttempts < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "realtime.maxAttempts",
			Message: "must not be negative",
		})
	}

	validStores := []string{"sqlite", "memory"}
	if cfg.State.Store != "" && !slices.Contains(validStores, cfg.State.Store) {
		issues = append(issues, ValidationIssue{
			Path:    "state.store",
			Message: fmt.Sprintf("must be one of %v, got %q", validStores, cfg.State.Store),
		})
	}

	// Desk validation
	if cfg.Desk.Port < 0 || cfg.Desk.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "desk.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Desk.Port),
		})
	}

	validBinds := []string{"auto", "lan", "loopback", "custom"}
	if cfg.Desk.Bind != "" && !slices.Contains(validBinds, cfg.Desk.Bind) {
		issues = append(issues, ValidationIssue{
			Path:    "desk.bind",
			Message: fmt.Sprintf("must be one of %v, got %q", validBinds, cfg.Desk.Bind),
		})
	}

	if cfg.Desk.TLS.Enabled && (cfg.Desk.TLS.CertPath == "" || cfg.Desk.TLS.KeyPath == "") {
		issues = append(issues, ValidationIssue{
			Path:    "desk.tls",
			Message: "certPath and keyPath are required when TLS is enabled",
		})
	}

	// IRC validation (only if configured)
	if cfg.Desk.IRC != nil {
		irc := cfg.Desk.IRC
		if irc.Server == "" {
			issues = append(issues, ValidationIssue{
				Path:    "desk.irc.server",
				Message: "server is required",
			})
		}
		if irc.Nick == "" {
			issues = append(issues, ValidationIssue{
				Path:    "desk.irc.nick",
				Message: "nick is required",
			})
		}
		if irc.Channel == "" {
			issues = append(issues, ValidationIssue{
				Path:    "desk.irc.channel",
				Message: "channel is required",
			})
		}
		if irc.Port < 0 || irc.Port > 65535 {
			issues = append(issues, ValidationIssue{
				Path:    "desk.irc.port",
				Message: fmt.Sprintf("port must be 0-65535, got %d", irc.Port),
			})
		}
		if irc.SASL && irc.Password == "" {
			issues = append(issues, ValidationIssue{
				Path:    "desk.irc.sasl",
				Message: "SASL requires a password to be set",
			})
		}
	}

	// Logging validation
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.Level),
		})
	}

	validConsoleStyles := []string{"pretty", "compact", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.consoleStyle",
			Message: fmt.Sprintf("must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle),
		})
	}

	return issues
}

// ValidateClient checks what the chat client needs on top of Validate.
func ValidateClient(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	if cfg.Affiliate.ID == "" {
		issues = append(issues, ValidationIssue{Path: "affiliate.id", Message: "required to open a chat"})
	}
	if cfg.Affiliate.Name == "" {
		issues = append(issues, ValidationIssue{Path: "affiliate.name", Message: "required to open a chat"})
	}
	return issues
}
