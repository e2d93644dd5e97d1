package config

// Config is the root configuration for affchat. The client side (affiliate,
// api, realtime, notify, state) and the support desk side (desk) share one file.
type Config struct {
	Affiliate AffiliateConfig `yaml:"affiliate,omitempty"`
	API       APIConfig       `yaml:"api,omitempty"`
	Realtime  RealtimeConfig  `yaml:"realtime,omitempty"`
	Notify    NotifyConfig    `yaml:"notify,omitempty"`
	State     StateConfig     `yaml:"state,omitempty"`
	Desk      DeskConfig      `yaml:"desk,omitempty"`
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
}

// AffiliateConfig is the identity the chat client runs as.
type AffiliateConfig struct {
	ID    string `yaml:"id,omitempty"`
	Name  string `yaml:"name,omitempty"`
	Email string `yaml:"email,omitempty"`
}

// APIConfig points the client at the backend.
type APIConfig struct {
	BaseURL        string `yaml:"baseUrl,omitempty"`
	Token          string `yaml:"token,omitempty"`
	TimeoutSeconds int    `yaml:"timeoutSeconds,omitempty"`
}

// RealtimeConfig controls the push channel and its reconnect policy.
type RealtimeConfig struct {
	URL                 string  `yaml:"url,omitempty"` // defaults to the ws(s) form of api.baseUrl
	ReconnectInitialMs  int     `yaml:"reconnectInitialMs,omitempty"`
	ReconnectMaxMs      int     `yaml:"reconnectMaxMs,omitempty"`
	ReconnectMultiplier float64 `yaml:"reconnectMultiplier,omitempty"`
	MaxAttempts         *int    `yaml:"maxAttempts,omitempty"` // 0 retries forever; default 10
}

// NotifyConfig controls the audible cue for operator replies.
type NotifyConfig struct {
	Bell       *bool `yaml:"bell,omitempty"` // defaults to true
	CooldownMs int   `yaml:"cooldownMs,omitempty"`
}

// StateConfig selects where client-local state (last session per affiliate) lives.
type StateConfig struct {
	Store string `yaml:"store,omitempty"` // "sqlite" | "memory"
}

// DeskConfig controls the support desk server.
type DeskConfig struct {
	Port                int        `yaml:"port,omitempty"`
	Bind                string     `yaml:"bind,omitempty"` // "auto" | "lan" | "loopback" | "custom"
	CustomBindHost      string     `yaml:"customBindHost,omitempty"`
	Auth                DeskAuth   `yaml:"auth,omitempty"`
	TLS                 DeskTLS    `yaml:"tls,omitempty"`
	AllowedOrigins      []string   `yaml:"allowedOrigins,omitempty"`
	PingIntervalSeconds int        `yaml:"pingIntervalSeconds,omitempty"`
	IRC                 *IRCConfig `yaml:"irc,omitempty"`
}

// DeskAuth holds the bearer tokens accepted by the desk.
type DeskAuth struct {
	Token      string `yaml:"token,omitempty"`      // affiliate-facing endpoints
	AdminToken string `yaml:"adminToken,omitempty"` // operator endpoints
}

// DeskTLS configures TLS for the desk listener.
type DeskTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// IRCConfig defines the operator relay connection.
type IRCConfig struct {
	Server   string  `yaml:"server"`
	Port     int     `yaml:"port,omitempty"`
	Nick     string  `yaml:"nick"`
	Password string  `yaml:"password,omitempty"`
	Channel  string  `yaml:"channel"`
	UseTLS   bool    `yaml:"useTLS,omitempty"`
	SASL     bool    `yaml:"sasl,omitempty"`
	OpOnly   *bool   `yaml:"opOnly,omitempty"`   // only channel operators may !reply; defaults to true
	Operator *string `yaml:"operator,omitempty"` // display name used for relayed replies; defaults to the IRC nick
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "compact" | "json"
}
