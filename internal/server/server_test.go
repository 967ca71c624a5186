package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marvinmcp/internal/config"
	"marvinmcp/internal/oauth"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.GetDefaultConfig()
	cfg.OAuth.SigningSecret = "test-secret"

	s, err := New(context.Background(), cfg, "test")
	require.NoError(t, err)
	t.Cleanup(func() {
		if memory, ok := s.kv.(interface{ Stop() }); ok {
			memory.Stop()
		}
	})
	return s
}

func do(s *Server, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.GetDefaultConfig() // no signing secret
	_, err := New(context.Background(), cfg, "test")
	assert.Error(t, err)
}

func TestDiscoveryRoutes(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{
		"/.well-known/oauth-authorization-server",
		"/.well-known/mcp_discovery",
		"/.well-known/mcp-discovery",
	} {
		rec := do(s, http.MethodGet, path)
		require.Equal(t, http.StatusOK, rec.Code, "path %s", path)

		var meta oauth.AuthorizationServerMetadata
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
		assert.Equal(t, "http://localhost:8080", meta.Issuer)
	}

	rec := do(s, http.MethodGet, "/.well-known/oauth-protected-resource")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(s, http.MethodGet, "/.well-known/jwks.json")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRootDescriptor(t *testing.T) {
	s := newTestServer(t)

	for _, target := range []string{"/", "/info"} {
		rec := do(s, http.MethodGet, target)
		require.Equal(t, http.StatusOK, rec.Code, "target %s", target)

		var descriptor struct {
			Name      string            `json:"name"`
			Version   string            `json:"version"`
			ToolCount int               `json:"tool_count"`
			Endpoints map[string]string `json:"endpoints"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &descriptor))
		assert.Equal(t, "marvin-mcp", descriptor.Name)
		assert.Equal(t, "test", descriptor.Version)
		assert.Equal(t, s.registry.Count(), descriptor.ToolCount)
		assert.Contains(t, descriptor.Endpoints, "token")
		assert.Contains(t, descriptor.Endpoints, "authorize")
	}
}

func TestRootDispatchesOnMethod(t *testing.T) {
	s := newTestServer(t)

	// POST / reaches the protocol endpoint: an invalid body is a parse error.
	rec := do(s, http.MethodPost, "/")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(s, http.MethodDelete, "/")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownPathIs404(t *testing.T) {
	s := newTestServer(t)

	for _, target := range []string{"/nope", "/oauth", "/tools"} {
		rec := do(s, http.MethodGet, target)
		assert.Equal(t, http.StatusNotFound, rec.Code, "target %s", target)
	}
}

func TestOptionsPreflight(t *testing.T) {
	s := newTestServer(t)

	for _, target := range []string{"/", "/oauth/token", "/anything/at/all"} {
		rec := do(s, http.MethodOptions, target)
		assert.Equal(t, http.StatusNoContent, rec.Code, "target %s", target)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestOAuthRouteAliases(t *testing.T) {
	s := newTestServer(t)

	// Register on both paths; both must be live.
	for _, target := range []string{"/oauth/register", "/register"} {
		rec := do(s, http.MethodGet, target)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, "registration rejects GET on %s", target)
	}

	for _, target := range []string{"/oauth/token", "/token"} {
		rec := do(s, http.MethodGet, target)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, "token endpoint rejects GET on %s", target)
	}

	for _, target := range []string{"/oauth/authorize", "/authorize", "/auth"} {
		rec := do(s, http.MethodGet, target+"?client_id=c&redirect_uri=https%3A%2F%2Fapp.example%2Fcb&response_type=code")
		assert.Equal(t, http.StatusOK, rec.Code, "authorize form on %s", target)
	}
}
