// Package credstore persists OAuth client registrations, authorization codes
// and refresh tokens on top of the expiring key-value store. Each record type
// carries its own TTL; expiry in the underlying store is what invalidates
// stale credentials.
package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"marvinmcp/internal/config"
	"marvinmcp/internal/kvstore"
	"marvinmcp/pkg/logging"
)

// ErrNotFound is returned when a record does not exist or has expired.
var ErrNotFound = errors.New("credstore: record not found")

const (
	clientKeyPrefix  = "oauth:client:"
	codeKeyPrefix    = "oauth:code:"
	refreshKeyPrefix = "oauth:refresh:"
)

// Store wraps a kvstore.Store with typed accessors for OAuth records.
type Store struct {
	kv kvstore.Store
}

// New creates a credential store over the given key-value store.
func New(kv kvstore.Store) *Store {
	return &Store{kv: kv}
}

// SaveClient persists a client registration for the 30-day retention window.
func (s *Store) SaveClient(ctx context.Context, client *ClientRegistration) error {
	if err := s.put(ctx, clientKeyPrefix+client.ClientID, client, config.ClientRegistrationTTL); err != nil {
		return fmt.Errorf("failed to save client %s: %w", client.ClientID, err)
	}
	logging.Debug("CredStore", "Saved client registration %s (%s)", client.ClientID, client.ClientName)
	return nil
}

// GetClient returns the registration for clientID, or ErrNotFound.
func (s *Store) GetClient(ctx context.Context, clientID string) (*ClientRegistration, error) {
	var client ClientRegistration
	if err := s.get(ctx, clientKeyPrefix+clientID, &client); err != nil {
		return nil, err
	}
	return &client, nil
}

// SaveCode persists an authorization code for its 10-minute exchange window.
func (s *Store) SaveCode(ctx context.Context, code *AuthorizationCode) error {
	if err := s.put(ctx, codeKeyPrefix+code.Code, code, config.AuthorizationCodeTTL); err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}
	return nil
}

// GetCode returns the authorization code record, or ErrNotFound if it was
// never issued, already consumed, or expired.
func (s *Store) GetCode(ctx context.Context, code string) (*AuthorizationCode, error) {
	var record AuthorizationCode
	if err := s.get(ctx, codeKeyPrefix+code, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// DeleteCode consumes an authorization code. Codes are single-use: the flow
// engine deletes the code in the same exchange that redeems it.
func (s *Store) DeleteCode(ctx context.Context, code string) error {
	return s.kv.Delete(ctx, codeKeyPrefix+code)
}

// SaveRefreshToken persists a refresh token for the 30-day retention window.
func (s *Store) SaveRefreshToken(ctx context.Context, token *RefreshToken) error {
	if err := s.put(ctx, refreshKeyPrefix+token.Token, token, config.RefreshTokenTTL); err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}
	return nil
}

// GetRefreshToken returns the refresh token record, or ErrNotFound.
func (s *Store) GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	var record RefreshToken
	if err := s.get(ctx, refreshKeyPrefix+token, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// DeleteRefreshToken removes a refresh token.
func (s *Store) DeleteRefreshToken(ctx context.Context, token string) error {
	return s.kv.Delete(ctx, refreshKeyPrefix+token)
}

// RotateRefreshToken stores the replacement token and then deletes the old
// one. The store offers no multi-key transaction, so the two writes are not
// atomic: a crash between them leaves both tokens briefly valid. That order
// is chosen on purpose — delete-then-write would instead risk a window where
// the client holds no valid token at all.
func (s *Store) RotateRefreshToken(ctx context.Context, old string, replacement *RefreshToken) error {
	if err := s.SaveRefreshToken(ctx, replacement); err != nil {
		return err
	}
	if err := s.DeleteRefreshToken(ctx, old); err != nil {
		// The new token is already live; surface the cleanup failure but do
		// not undo the rotation.
		logging.Warn("CredStore", "Failed to delete rotated refresh token: %v", err)
	}
	return nil
}

func (s *Store) put(ctx context.Context, key string, record any, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, key, string(data), ttl)
}

func (s *Store) get(ctx context.Context, key string, record any) error {
	data, err := s.kv.Get(ctx, key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), record)
}
