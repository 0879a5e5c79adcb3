// Package config loads agent-relay configuration from defaults, an optional
// YAML file, the environment and command-line flags.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Environment variables recognised for the tool gateway. They are bound
// without the AGENT_RELAY_ prefix to match the deployment environment.
const (
	EnvClientID      = "MACHINE_CLIENT_ID"
	EnvClientSecret  = "MACHINE_CLIENT_SECRET"
	EnvCognitoDomain = "COGNITO_DOMAIN"
	EnvScope         = "COGNITO_SCOPE"
	EnvGatewayURL    = "GATEWAY_URL"
)

// DefaultScope is used when COGNITO_SCOPE is not set.
const DefaultScope = "default-m2m-resource-server-tx0jxc/read"

// URL scheme and host constants for validation.
const (
	schemeHTTPS  = "https"
	schemeHTTP   = "http"
	hostLocal    = "localhost"
	hostLoopback = "127.0.0.1"
	hostIPv6Loop = "::1"
)

// Config is the top-level configuration.
type Config struct {
	Gateway GatewayConfig `mapstructure:"gateway"`
	Agent   AgentConfig   `mapstructure:"agent"`
	Relay   RelayConfig   `mapstructure:"relay"`
	RSS     RSSConfig     `mapstructure:"rss"`
	Logging LoggingConfig `mapstructure:"logging"`
	Server  ServerConfig  `mapstructure:"server"`
}

// GatewayConfig describes the remote tool gateway and the machine client
// used to authenticate against it.
type GatewayConfig struct {
	// Enabled turns tool augmentation via the gateway on or off
	Enabled bool `mapstructure:"enabled"`

	// URL is the MCP streamable-http endpoint of the gateway
	URL string `mapstructure:"url"`

	// ClientID is the machine-to-machine OAuth client identifier
	ClientID string `mapstructure:"client_id"`

	// ClientSecret is the machine-to-machine OAuth client secret
	ClientSecret string `mapstructure:"client_secret"`

	// CognitoDomain is the base URL of the token issuer (token path is /oauth2/token)
	CognitoDomain string `mapstructure:"cognito_domain"`

	// Scope is the OAuth scope requested for the gateway
	Scope string `mapstructure:"scope"`

	// TokenTimeout bounds the client-credentials exchange
	TokenTimeout time.Duration `mapstructure:"token_timeout"`

	// SessionTimeout bounds each HTTP request made by the MCP transport
	SessionTimeout time.Duration `mapstructure:"session_timeout"`
}

// AgentConfig describes the managed model runtime.
type AgentConfig struct {
	ModelID     string  `mapstructure:"model_id"`
	Region      string  `mapstructure:"region"`
	MaxTurns    int     `mapstructure:"max_turns"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// RelayConfig controls orchestration behaviour.
type RelayConfig struct {
	// BaseInstruction is the fixed part of the system prompt
	BaseInstruction string `mapstructure:"base_instruction"`

	// VerboseDiagnostics emits [INFO]/[DEBUG] diagnostic events to the caller
	VerboseDiagnostics bool `mapstructure:"verbose_diagnostics"`
}

// RSSConfig configures the bundled RSS tool.
type RSSConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxEntries int           `mapstructure:"max_entries"`
	UserAgent  string        `mapstructure:"user_agent"`
}

// LoggingConfig controls logger behaviour.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`  // debug, info, warn, error
	Format  string `mapstructure:"format"` // console or json
	Color   bool   `mapstructure:"color"`
	Verbose bool   `mapstructure:"verbose"`
	JSONRPC bool   `mapstructure:"json_rpc"`
}

// ServerConfig describes the HTTP invocation server.
type ServerConfig struct {
	Addr           string `mapstructure:"addr"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	H2C            bool   `mapstructure:"h2c"`
}

// ConfigurationError reports required configuration that is absent or
// unusable. It is returned before any network call is made.
type ConfigurationError struct {
	Missing []string
	Invalid []string
}

func (e *ConfigurationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required configuration: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid configuration: "+strings.Join(e.Invalid, "; "))
	}
	return strings.Join(parts, "; ")
}

// New returns a viper instance with defaults and environment bindings.
// Flags can be bound onto it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AGENT_RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("gateway.client_id", EnvClientID)
	_ = v.BindEnv("gateway.client_secret", EnvClientSecret)
	_ = v.BindEnv("gateway.cognito_domain", EnvCognitoDomain)
	_ = v.BindEnv("gateway.scope", EnvScope)
	_ = v.BindEnv("gateway.url", EnvGatewayURL)
	_ = v.BindEnv("agent.region", "AGENT_RELAY_AGENT_REGION", "AWS_REGION")

	return v
}

// Load reads the optional config file into v and unmarshals the result.
// An empty path looks for agent-relay.yaml in the working directory and
// silently continues without it.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path == "" {
		v.SetConfigName("agent-relay")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults populates defaults for optional fields.
func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.enabled", true)
	v.SetDefault("gateway.scope", DefaultScope)
	v.SetDefault("gateway.token_timeout", 30*time.Second)
	v.SetDefault("gateway.session_timeout", 30*time.Second)

	v.SetDefault("agent.model_id", "jp.anthropic.claude-haiku-4-5-20251001-v1:0")
	v.SetDefault("agent.region", "ap-northeast-1")
	v.SetDefault("agent.max_turns", 10)
	v.SetDefault("agent.max_tokens", 4096)
	v.SetDefault("agent.temperature", 0.3)

	v.SetDefault("relay.base_instruction",
		"You are a helpful assistant. Use the rss tool to fetch https://aws.amazon.com/about-aws/whats-new/recent/feed/ "+
			"when the user asks about recent AWS updates, and use the calendar tools when the user asks about their schedule.")
	v.SetDefault("relay.verbose_diagnostics", false)

	v.SetDefault("rss.timeout", 15*time.Second)
	v.SetDefault("rss.max_entries", 10)
	v.SetDefault("rss.user_agent", "agent-relay/1.0")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.color", true)
	v.SetDefault("logging.verbose", false)
	v.SetDefault("logging.json_rpc", false)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.metrics_enabled", true)
	v.SetDefault("server.h2c", false)
}

// Validate checks the static shape of the configuration. Request-time
// requirements for the gateway are checked separately by RequireGateway.
func (c *Config) Validate() error {
	var problems []string

	switch strings.ToLower(c.Logging.Format) {
	case "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format must be console or json, got %q", c.Logging.Format))
	}
	if c.Agent.ModelID == "" {
		problems = append(problems, "agent.model_id must not be empty")
	}
	if c.Agent.MaxTurns <= 0 {
		problems = append(problems, "agent.max_turns must be positive")
	}
	if c.Gateway.TokenTimeout <= 0 {
		problems = append(problems, "gateway.token_timeout must be positive")
	}
	if c.RSS.MaxEntries <= 0 {
		problems = append(problems, "rss.max_entries must be positive")
	}

	if len(problems) > 0 {
		return &ConfigurationError{Invalid: problems}
	}
	return nil
}

// RequireGateway verifies that everything needed to reach the tool gateway
// is present. It is called at request time so a misconfigured deployment
// still starts and reports the problem to each caller.
func (c *Config) RequireGateway() error {
	g := c.Gateway
	cerr := &ConfigurationError{}

	if g.ClientID == "" {
		cerr.Missing = append(cerr.Missing, EnvClientID)
	}
	if g.ClientSecret == "" {
		cerr.Missing = append(cerr.Missing, EnvClientSecret)
	}
	if g.CognitoDomain == "" {
		cerr.Missing = append(cerr.Missing, EnvCognitoDomain)
	} else if err := validateEndpointURL(g.TokenURL()); err != nil {
		cerr.Invalid = append(cerr.Invalid, fmt.Sprintf("%s: %v", EnvCognitoDomain, err))
	}
	if g.URL == "" {
		cerr.Missing = append(cerr.Missing, EnvGatewayURL)
	} else if err := validateEndpointURL(g.URL); err != nil {
		cerr.Invalid = append(cerr.Invalid, fmt.Sprintf("%s: %v", EnvGatewayURL, err))
	}

	if len(cerr.Missing) > 0 || len(cerr.Invalid) > 0 {
		return cerr
	}
	return nil
}

// TokenURL returns the client-credentials token endpoint derived from the
// Cognito domain. A domain without scheme is assumed to be HTTPS.
func (g GatewayConfig) TokenURL() string {
	domain := strings.TrimRight(strings.TrimSpace(g.CognitoDomain), "/")
	if domain == "" {
		return ""
	}
	if !strings.Contains(domain, "://") {
		domain = schemeHTTPS + "://" + domain
	}
	return domain + "/oauth2/token"
}

// EffectiveScope returns the configured scope or the documented default.
func (g GatewayConfig) EffectiveScope() string {
	if strings.TrimSpace(g.Scope) == "" {
		return DefaultScope
	}
	return g.Scope
}

// validateEndpointURL only allows plain HTTP for loopback hosts.
func validateEndpointURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL %q has no host", raw)
	}

	switch parsed.Scheme {
	case schemeHTTPS:
		return nil
	case schemeHTTP:
		// Hostname() strips brackets from IPv6 addresses, so [::1] becomes ::1
		switch parsed.Hostname() {
		case hostLocal, hostLoopback, hostIPv6Loop:
			return nil
		}
		return fmt.Errorf("HTTP is only allowed for localhost/127.0.0.1/[::1], use HTTPS for %s", parsed.Hostname())
	default:
		return fmt.Errorf("scheme must be https (or http for localhost), got %q", parsed.Scheme)
	}
}
