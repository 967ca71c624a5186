package credstore

import "time"

// ClientRegistration is a dynamically registered OAuth client. Immutable
// after creation except via re-registration; retained for 30 days.
type ClientRegistration struct {
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	RedirectURIs []string  `json:"redirect_uris"`
	ClientName   string    `json:"client_name"`
	CreatedAt    time.Time `json:"created_at"`
}

// HasRedirectURI reports whether uri is one of the registered redirect URIs.
func (c *ClientRegistration) HasRedirectURI(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// AuthorizationCode binds a single-use code to the client, redirect URI,
// upstream API key and optional PKCE challenge it was issued for.
type AuthorizationCode struct {
	Code                string    `json:"code"`
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri"`
	APIKey              string    `json:"api_key"`
	CodeChallenge       string    `json:"code_challenge,omitempty"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

// RefreshToken lets a client obtain a new token pair without re-running the
// authorization flow. Rotated on every use.
type RefreshToken struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"client_id"`
	APIKey    string    `json:"api_key"`
	CreatedAt time.Time `json:"created_at"`
}
