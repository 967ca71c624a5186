// Package oauth implements the authorization server fronting the protocol
// endpoint: authorization-code grant with optional PKCE, refresh-token
// rotation, and dynamic client registration. The upstream Marvin credential
// enters the system exactly once, on the authorization form, and leaves it
// only inside signed access tokens.
package oauth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"marvinmcp/internal/config"
	"marvinmcp/internal/credstore"
	"marvinmcp/internal/tokens"
	"marvinmcp/pkg/logging"
)

// Scopes supported over the single resource.
var supportedScopes = []string{"read", "write"}

// CredentialValidator checks an upstream credential with a lightweight
// authenticated probe before a code is minted for it.
type CredentialValidator interface {
	Validate(ctx context.Context, apiKey string) error
}

// Server implements the authorization flow engine.
type Server struct {
	issuer    string
	store     *credstore.Store
	tokens    *tokens.Service
	validator CredentialValidator
}

// NewServer creates the authorization server. issuer is the externally
// visible base URL; it appears verbatim in discovery documents.
func NewServer(issuer string, store *credstore.Store, tokenService *tokens.Service, validator CredentialValidator) *Server {
	return &Server{
		issuer:    issuer,
		store:     store,
		tokens:    tokenService,
		validator: validator,
	}
}

// Metadata returns the RFC 8414 discovery document.
func (s *Server) Metadata() AuthorizationServerMetadata {
	return AuthorizationServerMetadata{
		Issuer:                            s.issuer,
		AuthorizationEndpoint:             s.issuer + "/oauth/authorize",
		TokenEndpoint:                     s.issuer + "/oauth/token",
		RegistrationEndpoint:              s.issuer + "/oauth/register",
		JWKSURI:                           s.issuer + "/.well-known/jwks.json",
		ScopesSupported:                   supportedScopes,
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_post", "none"},
		CodeChallengeMethodsSupported:     []string{PKCEMethodS256},
	}
}

// ResourceMetadata returns the RFC 9728 protected-resource document.
func (s *Server) ResourceMetadata() ProtectedResourceMetadata {
	return ProtectedResourceMetadata{
		Resource:               s.issuer,
		AuthorizationServers:   []string{s.issuer},
		BearerMethodsSupported: []string{"header"},
		ScopesSupported:        supportedScopes,
	}
}

// RegisterClient handles dynamic client registration (RFC 7591).
func (s *Server) RegisterClient(ctx context.Context, req ClientRegistrationRequest) (*ClientRegistrationResponse, error) {
	client := &credstore.ClientRegistration{
		ClientID:     uuid.NewString(),
		ClientSecret: oauth2.GenerateVerifier(),
		RedirectURIs: req.RedirectURIs,
		ClientName:   req.ClientName,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.SaveClient(ctx, client); err != nil {
		return nil, &Error{Code: ErrorCodeServerError, Description: "failed to persist registration", Status: http.StatusInternalServerError}
	}

	grantTypes := req.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken}
	}
	responseTypes := req.ResponseTypes
	if len(responseTypes) == 0 {
		responseTypes = []string{"code"}
	}

	logging.Info("OAuth", "Registered client %s (%s)", client.ClientID, client.ClientName)
	return &ClientRegistrationResponse{
		ClientID:                client.ClientID,
		ClientSecret:            client.ClientSecret,
		ClientIDIssuedAt:        client.CreatedAt.Unix(),
		ClientSecretExpiresAt:   0, // never
		RedirectURIs:            client.RedirectURIs,
		TokenEndpointAuthMethod: "client_secret_post",
		GrantTypes:              grantTypes,
		ResponseTypes:           responseTypes,
		ClientName:              client.ClientName,
	}, nil
}

// EnsureClient returns the registration for clientID, auto-registering an
// unseen client with the supplied redirect URI. Auto-registration
// accommodates callers that skip explicit registration; it is a deliberate
// relaxation, not a security boundary — possession of a valid upstream
// credential is what gates code issuance.
func (s *Server) EnsureClient(ctx context.Context, clientID, redirectURI string) (*credstore.ClientRegistration, error) {
	client, err := s.store.GetClient(ctx, clientID)
	if err == nil {
		return client, nil
	}
	if !errors.Is(err, credstore.ErrNotFound) {
		return nil, err
	}

	client = &credstore.ClientRegistration{
		ClientID:     clientID,
		ClientSecret: oauth2.GenerateVerifier(),
		RedirectURIs: []string{redirectURI},
		ClientName:   "auto-registered",
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.SaveClient(ctx, client); err != nil {
		return nil, err
	}
	logging.Info("OAuth", "Auto-registered unseen client %s", clientID)
	return client, nil
}

// AuthorizeRequest are the validated parameters of an authorization request,
// round-tripped through the credential form as hidden fields.
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// IssueCode validates the submitted upstream credential and, on success,
// mints a single-use authorization code bound to the credential, client,
// redirect URI and any PKCE challenge. Returns the redirect target.
func (s *Server) IssueCode(ctx context.Context, req AuthorizeRequest, apiKey string) (string, error) {
	if err := s.validator.Validate(ctx, apiKey); err != nil {
		logging.Warn("OAuth", "Upstream credential validation failed for client %s: %v", req.ClientID, err)
		return "", fmt.Errorf("upstream credential rejected: %w", err)
	}

	code := &credstore.AuthorizationCode{
		Code:                oauth2.GenerateVerifier(),
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		APIKey:              apiKey,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		CreatedAt:           time.Now().UTC(),
	}
	if err := s.store.SaveCode(ctx, code); err != nil {
		return "", fmt.Errorf("failed to persist authorization code: %w", err)
	}

	logging.Info("OAuth", "Issued authorization code for client %s", req.ClientID)
	query := url.Values{"code": {code.Code}}
	if req.State != "" {
		query.Set("state", req.State)
	}
	separator := "?"
	if strings.Contains(req.RedirectURI, "?") {
		separator = "&"
	}
	return req.RedirectURI + separator + query.Encode(), nil
}

// TokenRequest are the form parameters of a token exchange.
type TokenRequest struct {
	GrantType    string
	Code         string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
}

// Exchange dispatches a token request on its grant type.
func (s *Server) Exchange(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	switch req.GrantType {
	case GrantTypeAuthorizationCode:
		return s.exchangeCode(ctx, req)
	case GrantTypeRefreshToken:
		return s.exchangeRefreshToken(ctx, req)
	default:
		return nil, &Error{Code: ErrorCodeInvalidRequest, Description: "unsupported grant_type", Status: http.StatusBadRequest}
	}
}

// exchangeCode redeems an authorization code for a token pair.
//
// Verification precedence: when the stored code carries a PKCE challenge and
// the request supplies a verifier, PKCE is authoritative and the client
// secret is not consulted. Otherwise a supplied secret must match the
// registration exactly.
func (s *Server) exchangeCode(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	if req.Code == "" || req.ClientID == "" {
		return nil, &Error{Code: ErrorCodeInvalidRequest, Description: "code and client_id are required", Status: http.StatusBadRequest}
	}

	client, err := s.store.GetClient(ctx, req.ClientID)
	if err != nil {
		return nil, &Error{Code: ErrorCodeInvalidClient, Description: "unknown client", Status: http.StatusUnauthorized}
	}

	code, err := s.store.GetCode(ctx, req.Code)
	if err != nil {
		// Absent covers consumed and expired equally: the store deletes on
		// exchange and expires on TTL.
		return nil, &Error{Code: ErrorCodeInvalidGrant, Description: "authorization code is invalid or expired", Status: http.StatusBadRequest}
	}

	if code.ClientID != req.ClientID {
		return nil, &Error{Code: ErrorCodeInvalidGrant, Description: "authorization code was issued to another client", Status: http.StatusBadRequest}
	}

	if code.CodeChallenge != "" && req.CodeVerifier != "" {
		if !verifyPKCE(code.CodeChallenge, req.CodeVerifier) {
			return nil, &Error{Code: ErrorCodeInvalidGrant, Description: "PKCE verification failed", Status: http.StatusBadRequest}
		}
	} else if req.ClientSecret != "" {
		if subtle.ConstantTimeCompare([]byte(client.ClientSecret), []byte(req.ClientSecret)) != 1 {
			return nil, &Error{Code: ErrorCodeInvalidClient, Description: "client secret mismatch", Status: http.StatusUnauthorized}
		}
	}

	if code.RedirectURI != req.RedirectURI {
		return nil, &Error{Code: ErrorCodeInvalidGrant, Description: "redirect_uri mismatch", Status: http.StatusBadRequest}
	}

	response, err := s.issueTokenPair(ctx, req.ClientID, code.APIKey)
	if err != nil {
		return nil, err
	}

	// Single use: consume the code in the same exchange that redeemed it.
	if err := s.store.DeleteCode(ctx, req.Code); err != nil {
		logging.Warn("OAuth", "Failed to delete consumed authorization code: %v", err)
	}

	logging.Info("OAuth", "Exchanged authorization code for client %s", req.ClientID)
	return response, nil
}

// exchangeRefreshToken rotates a refresh token: exactly one new refresh
// token is issued and the old one is deleted.
func (s *Server) exchangeRefreshToken(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	if req.RefreshToken == "" || req.ClientID == "" {
		return nil, &Error{Code: ErrorCodeInvalidRequest, Description: "refresh_token and client_id are required", Status: http.StatusBadRequest}
	}

	stored, err := s.store.GetRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		return nil, &Error{Code: ErrorCodeInvalidGrant, Description: "refresh token is invalid or expired", Status: http.StatusBadRequest}
	}
	if stored.ClientID != req.ClientID {
		return nil, &Error{Code: ErrorCodeInvalidGrant, Description: "refresh token was issued to another client", Status: http.StatusBadRequest}
	}

	accessToken, err := s.tokens.Issue(req.ClientID, stored.APIKey)
	if err != nil {
		return nil, &Error{Code: ErrorCodeServerError, Description: "failed to issue access token", Status: http.StatusInternalServerError}
	}

	replacement := &credstore.RefreshToken{
		Token:     oauth2.GenerateVerifier(),
		ClientID:  req.ClientID,
		APIKey:    stored.APIKey,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.RotateRefreshToken(ctx, req.RefreshToken, replacement); err != nil {
		return nil, &Error{Code: ErrorCodeServerError, Description: "failed to rotate refresh token", Status: http.StatusInternalServerError}
	}

	logging.Info("OAuth", "Rotated refresh token for client %s", req.ClientID)
	return &TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(config.AccessTokenLifetime.Seconds()),
		RefreshToken: replacement.Token,
		Scope:        "read write",
	}, nil
}

func (s *Server) issueTokenPair(ctx context.Context, clientID, apiKey string) (*TokenResponse, error) {
	accessToken, err := s.tokens.Issue(clientID, apiKey)
	if err != nil {
		return nil, &Error{Code: ErrorCodeServerError, Description: "failed to issue access token", Status: http.StatusInternalServerError}
	}

	refresh := &credstore.RefreshToken{
		Token:     oauth2.GenerateVerifier(),
		ClientID:  clientID,
		APIKey:    apiKey,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.SaveRefreshToken(ctx, refresh); err != nil {
		return nil, &Error{Code: ErrorCodeServerError, Description: "failed to persist refresh token", Status: http.StatusInternalServerError}
	}

	return &TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(config.AccessTokenLifetime.Seconds()),
		RefreshToken: refresh.Token,
		Scope:        "read write",
	}, nil
}

// verifyPKCE checks an S256 challenge: base64url(SHA-256(verifier)) without
// padding must equal the stored challenge. Constant-time comparison.
func verifyPKCE(challenge, verifier string) bool {
	sum := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
