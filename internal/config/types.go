package config

import "time"

// Default TTLs and lifetimes for issued credentials. These are deliberately
// not configurable: every deployed instance must agree on them because token
// validity is checked statelessly.
const (
	// AccessTokenLifetime is how long issued access tokens stay valid.
	AccessTokenLifetime = 24 * time.Hour
	// AuthorizationCodeTTL is how long an authorization code can be exchanged.
	AuthorizationCodeTTL = 10 * time.Minute
	// ClientRegistrationTTL is the retention window for dynamic client
	// registrations. Expiry invalidates all future token exchanges that
	// reference the registration.
	ClientRegistrationTTL = 30 * 24 * time.Hour
	// RefreshTokenTTL is the retention window for refresh tokens.
	RefreshTokenTTL = 30 * 24 * time.Hour
)

// Config is the top-level configuration structure for marvin-mcp.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	OAuth      OAuthConfig      `yaml:"oauth"`
	Redis      RedisConfig      `yaml:"redis"`
	ChangeFeed ChangeFeedConfig `yaml:"changeFeed"`
}

// ServerConfig defines the HTTP listener and the externally visible base URL.
type ServerConfig struct {
	Host    string `yaml:"host,omitempty"`    // Host to bind to (default: 0.0.0.0)
	Port    int    `yaml:"port,omitempty"`    // Listener port (default: 8080)
	BaseURL string `yaml:"baseUrl,omitempty"` // Externally visible base URL, used as the OAuth issuer
}

// UpstreamConfig defines how to reach the Marvin API.
type UpstreamConfig struct {
	BaseURL string `yaml:"baseUrl,omitempty"` // Marvin API base URL (default: https://serv.amazingmarvin.com/api)
	APIKey  string `yaml:"apiKey,omitempty"`  // Optional server-wide key, used only by the unauthenticated connectivity tools
}

// OAuthConfig holds the secret material for the authorization server.
type OAuthConfig struct {
	SigningSecret string `yaml:"signingSecret,omitempty"` // Symmetric secret for access token signing
}

// RedisConfig selects the key-value store backend. An empty URL selects the
// in-memory store, which does not share state between instances.
type RedisConfig struct {
	URL      string `yaml:"url,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// ChangeFeedConfig holds connection parameters for the optional change-feed
// mirror database. All four must be set for the delete/event-creation tools
// to be enabled.
type ChangeFeedConfig struct {
	Host     string `yaml:"host,omitempty"`
	Database string `yaml:"database,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// Enabled reports whether the change-feed mirror is fully configured.
func (c ChangeFeedConfig) Enabled() bool {
	return c.Host != "" && c.Database != "" && c.User != "" && c.Password != ""
}

// GetDefaultConfig returns the default configuration for marvin-mcp.
func GetDefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8080,
			BaseURL: "http://localhost:8080",
		},
		Upstream: UpstreamConfig{
			BaseURL: "https://serv.amazingmarvin.com/api",
		},
	}
}
