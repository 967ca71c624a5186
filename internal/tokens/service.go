// Package tokens issues and verifies the signed bearer tokens that carry all
// per-session state. Tokens are self-contained: nothing is stored server
// side, so any instance holding the signing secret can verify any token.
package tokens

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"marvinmcp/internal/config"
)

// Claims are the decoded contents of a verified access token.
type Claims struct {
	// ClientID is the OAuth client the token was issued to.
	ClientID string
	// APIKey is the upstream Marvin credential entered during authorization.
	// It never leaves the server except inside this signed token.
	APIKey    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type jwtClaims struct {
	APIKey string `json:"api_key"`
	jwt.RegisteredClaims
}

// Service signs and verifies access tokens with a server-held symmetric
// secret. HS256 is the only supported algorithm.
type Service struct {
	secret []byte
}

// NewService creates a token service from the configured signing secret.
func NewService(secret string) (*Service, error) {
	if secret == "" {
		return nil, fmt.Errorf("token signing secret cannot be empty")
	}
	return &Service{secret: []byte(secret)}, nil
}

// Issue produces a signed access token for the given client and upstream
// credential, valid for 24 hours from now.
func (s *Service) Issue(clientID, apiKey string) (string, error) {
	now := time.Now()
	claims := jwtClaims{
		APIKey: apiKey,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(config.AccessTokenLifetime)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of a token. It returns the decoded
// claims, or (nil, false) for anything invalid — callers must treat that as
// "unauthenticated", never as a server error.
func (s *Service) Verify(tokenString string) (*Claims, bool) {
	var claims jwtClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, false
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return nil, false
	}
	return &Claims{
		ClientID:  claims.Subject,
		APIKey:    claims.APIKey,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, true
}
