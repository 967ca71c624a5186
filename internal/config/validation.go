package config

import (
	"fmt"
	"net/url"
)

// Validate checks the configuration for values the server cannot start
// without. Validation is separate from loading so tests can construct
// configs directly.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid base URL scheme: %s (must be http or https)", u.Scheme)
	}
	if c.OAuth.SigningSecret == "" {
		return fmt.Errorf("OAUTH_SIGNING_SECRET is required: access tokens cannot be issued without signing material")
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream base URL cannot be empty")
	}
	return nil
}
