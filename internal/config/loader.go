package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envOverrides maps AFFCHAT_* variables onto config fields. Empty values are
// ignored.
var envOverrides = []struct {
	name  string
	apply func(*Config, string)
}{
	{"AFFCHAT_API_URL", func(c *Config, v string) { c.API.BaseURL = v }},
	{"AFFCHAT_API_TOKEN", func(c *Config, v string) { c.API.Token = v }},
	{"AFFCHAT_REALTIME_URL", func(c *Config, v string) { c.Realtime.URL = v }},
	{"AFFCHAT_AFFILIATE_ID", func(c *Config, v string) { c.Affiliate.ID = v }},
	{"AFFCHAT_AFFILIATE_NAME", func(c *Config, v string) { c.Affiliate.Name = v }},
	{"AFFCHAT_AFFILIATE_EMAIL", func(c *Config, v string) { c.Affiliate.Email = v }},
	{"AFFCHAT_DESK_BIND", func(c *Config, v string) { c.Desk.Bind = v }},
	{"AFFCHAT_DESK_PORT", func(c *Config, v string) {
		if port, err := strconv.Atoi(v); err == nil {
			c.Desk.Port = port
		}
	}},
	{"AFFCHAT_LOG_LEVEL", func(c *Config, v string) { c.Logging.Level = strings.ToLower(v) }},
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars substitutes ${VAR} references. References to unset variables
// stay as written so a missing secret is visible in `affchat status`.
func expandEnvVars(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		if val, ok := os.LookupEnv(envRef.FindStringSubmatch(ref)[1]); ok {
			return val
		}
		return ref
	})
}

// secretFields lists the fields that may hold ${VAR} references.
func secretFields(c *Config) []*string {
	s := []*string{&c.API.Token, &c.Desk.Auth.Token, &c.Desk.Auth.AdminToken}
	if c.Desk.IRC != nil {
		s = append(s, &c.Desk.IRC.Password)
	}
	return s
}

// LoadDotEnv loads KEY=VALUE files into the environment. Variables already
// set win, and missing files are skipped.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return &ConfigError{Message: "failed to load " + f + ": " + err.Error()}
		}
	}
	return nil
}

// Load reads the YAML file at path, fills defaults, then applies environment
// overrides and ${VAR} expansion. A missing file yields the defaults.
func Load(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Defaults(), err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Defaults(), &ConfigError{Message: "failed to parse config: " + err.Error()}
		}
	}

	applyDefaults(&cfg)
	for _, o := range envOverrides {
		if v := os.Getenv(o.name); v != "" {
			o.apply(&cfg, v)
		}
	}
	for _, p := range secretFields(&cfg) {
		*p = expandEnvVars(*p)
	}
	return cfg, nil
}

// LoadRaw decodes the file as an untyped document for `affchat config`.
func LoadRaw(path string) (map[string]any, error) {
	raw := map[string]any{}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return raw, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes the document back, readable by the owner only.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
