package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marvinmcp/internal/kvstore"
	"marvinmcp/internal/marvin"
	"marvinmcp/internal/tokens"
	"marvinmcp/internal/tools"
)

func newTestHandler(t *testing.T, upstreamURL, defaultAPIKey string) (*Handler, *tokens.Service) {
	t.Helper()
	kv := kvstore.NewMemory()
	t.Cleanup(kv.Stop)

	tokenService, err := tokens.NewService("test-secret")
	require.NoError(t, err)

	handler := NewHandler(Options{
		Registry:      tools.NewRegistry(),
		Tokens:        tokenService,
		Cache:         marvin.NewCache(kv),
		UpstreamURL:   upstreamURL,
		DefaultAPIKey: defaultAPIKey,
		ServerName:    "marvin-mcp",
		ServerVersion: "test",
	})
	return handler, tokenService
}

// callRPC posts one JSON-RPC request and decodes the buffered response.
func callRPC(t *testing.T, handler *Handler, body string, configure ...func(*http.Request)) (*httptest.ResponseRecorder, rpcResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, fn := range configure {
		fn(req)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var resp rpcResponse
	if rec.Body.Len() > 0 && strings.Contains(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func withBearer(token string) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	}
}

func TestParseErrorIsTransportLevel(t *testing.T) {
	handler, _ := newTestHandler(t, "http://unused.example", "")

	rec, resp := callRPC(t, handler, `{not json`)

	// Malformed bodies are the one case that surfaces as an HTTP error.
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcp.PARSE_ERROR, resp.Error.Code)
}

func TestParseErrorIgnoresTransportNegotiation(t *testing.T) {
	handler, _ := newTestHandler(t, "http://unused.example", "")

	rec, resp := callRPC(t, handler, `{not json`, func(r *http.Request) {
		r.Header.Set("Accept", "text/event-stream")
	})

	// Even when the client asked for a stream, parse failures come back
	// buffered: parsing failed before transport selection applies.
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcp.PARSE_ERROR, resp.Error.Code)
}

func TestInitializeEchoesProtocolVersion(t *testing.T) {
	handler, _ := newTestHandler(t, "http://unused.example", "")

	rec, resp := callRPC(t, handler, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05"}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "2024-11-05", result["protocolVersion"])

	serverInfo, ok := result["serverInfo"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "marvin-mcp", serverInfo["name"])
	assert.Equal(t, "test", serverInfo["version"])
}

func TestInitializeDefaultsProtocolVersion(t *testing.T) {
	handler, _ := newTestHandler(t, "http://unused.example", "")

	_, resp := callRPC(t, handler, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`)

	require.Nil(t, resp.Error)
	result, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, mcp.LATEST_PROTOCOL_VERSION, result["protocolVersion"])
}

func TestToolsListExposesFullCatalog(t *testing.T) {
	handler, _ := newTestHandler(t, "http://unused.example", "")

	_, resp := callRPC(t, handler, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	require.Nil(t, resp.Error)

	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var result mcp.ListToolsResult
	require.NoError(t, json.Unmarshal(raw, &result))

	// The catalog is listed in full regardless of authentication;
	// authorization happens at call time.
	assert.Equal(t, tools.NewRegistry().Count(), len(result.Tools))

	names := make(map[string]bool, len(result.Tools))
	for _, tool := range result.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"test_connection", "get_auth_status", "get_tasks", "create_task", "batch_create_tasks", "delete_task"} {
		assert.True(t, names[want], "catalog must contain %s", want)
	}
}

func TestPing(t *testing.T) {
	handler, _ := newTestHandler(t, "http://unused.example", "")

	rec, resp := callRPC(t, handler, `{"jsonrpc":"2.0","id":3,"method":"ping"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, resp.Error)
	result, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	assert.Empty(t, result)
}

func TestEmptyCollectionMethods(t *testing.T) {
	handler, _ := newTestHandler(t, "http://unused.example", "")

	tests := []struct {
		method string
		key    string
	}{
		{"prompts/list", "prompts"},
		{"resources/list", "resources"},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			_, resp := callRPC(t, handler, `{"jsonrpc":"2.0","id":1,"method":"`+tt.method+`"}`)
			require.Nil(t, resp.Error)

			result, ok := resp.Result.(map[string]any)
			require.True(t, ok)
			collection, ok := result[tt.key].([]any)
			require.True(t, ok, "%s must return an empty %s array, got %v", tt.method, tt.key, result)
			assert.Empty(t, collection)
		})
	}
}

func TestUnknownMethod(t *testing.T) {
	handler, _ := newTestHandler(t, "http://unused.example", "")

	rec, resp := callRPC(t, handler, `{"jsonrpc":"2.0","id":4,"method":"no/such/method"}`)

	// JSON-RPC errors ride on HTTP 200; only parse failures are 400.
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcp.METHOD_NOT_FOUND, resp.Error.Code)
}

func TestNotificationInitialized(t *testing.T) {
	handler, _ := newTestHandler(t, "http://unused.example", "")

	rec, _ := callRPC(t, handler, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, rec.Body.Len())

	rec, _ = callRPC(t, handler, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, func(r *http.Request) {
		r.Header.Set("Accept", "text/event-stream")
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Zero(t, rec.Body.Len())
}

func TestToolCallRequiresAuthentication(t *testing.T) {
	handler, _ := newTestHandler(t, "http://unused.example", "")

	rec, resp := callRPC(t, handler, `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"get_tasks"}}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcp.INTERNAL_ERROR, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "authentication required")
}

func TestToolCallRejectsForgedToken(t *testing.T) {
	handler, _ := newTestHandler(t, "http://unused.example", "")

	forger, err := tokens.NewService("other-secret")
	require.NoError(t, err)
	forged, err := forger.Issue("client-1", "stolen-key")
	require.NoError(t, err)

	_, resp := callRPC(t, handler,
		`{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"get_tasks"}}`,
		withBearer(forged))

	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Message, "authentication required")
}

func TestToolCallUnknownTool(t *testing.T) {
	handler, _ := newTestHandler(t, "http://unused.example", "")

	_, resp := callRPC(t, handler, `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"launch_rockets"}}`)

	require.NotNil(t, resp.Error)
	assert.Equal(t, mcp.INVALID_PARAMS, resp.Error.Code)
}

func TestToolCallMissingName(t *testing.T) {
	handler, _ := newTestHandler(t, "http://unused.example", "")

	_, resp := callRPC(t, handler, `{"jsonrpc":"2.0","id":8,"method":"tools/call","params":{}}`)

	require.NotNil(t, resp.Error)
	assert.Equal(t, mcp.INVALID_PARAMS, resp.Error.Code)
}

func TestAuthStatusToolWorksUnauthenticated(t *testing.T) {
	handler, _ := newTestHandler(t, "http://unused.example", "")

	_, resp := callRPC(t, handler, `{"jsonrpc":"2.0","id":9,"method":"tools/call","params":{"name":"get_auth_status"}}`)
	require.Nil(t, resp.Error)

	envelope := decodeToolEnvelope(t, resp.Result)
	assert.True(t, envelope.Success)
	data, ok := envelope.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, data["authenticated"])
	assert.Equal(t, false, data["default_credential"])
}

func TestAuthenticatedToolCallUsesTokenCredential(t *testing.T) {
	var seenKey string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenKey = r.Header.Get("X-API-Token")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[]`)
	}))
	defer upstream.Close()

	handler, tokenService := newTestHandler(t, upstream.URL, "")
	bearer, err := tokenService.Issue("client-1", "user-marvin-key")
	require.NoError(t, err)

	_, resp := callRPC(t, handler,
		`{"jsonrpc":"2.0","id":10,"method":"tools/call","params":{"name":"get_tasks"}}`,
		withBearer(bearer))

	require.Nil(t, resp.Error)
	assert.Equal(t, "user-marvin-key", seenKey, "the upstream call must carry the credential from the token")

	envelope := decodeToolEnvelope(t, resp.Result)
	assert.True(t, envelope.Success)
}

func TestConnectivityToolUsesDefaultCredential(t *testing.T) {
	var seenKey string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenKey = r.Header.Get("X-API-Token")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	handler, _ := newTestHandler(t, upstream.URL, "server-default-key")

	_, resp := callRPC(t, handler, `{"jsonrpc":"2.0","id":11,"method":"tools/call","params":{"name":"test_connection"}}`)

	require.Nil(t, resp.Error)
	assert.Equal(t, "server-default-key", seenKey)
}

// TestTransportSymmetry verifies that the buffered body and the single push
// event carry byte-identical JSON-RPC payloads.
func TestTransportSymmetry(t *testing.T) {
	handler, _ := newTestHandler(t, "http://unused.example", "")
	body := `{"jsonrpc":"2.0","id":42,"method":"tools/list"}`

	buffered, _ := callRPC(t, handler, body)
	require.Equal(t, http.StatusOK, buffered.Code)
	assert.Contains(t, buffered.Header().Get("Content-Type"), "application/json")

	streamed, _ := callRPC(t, handler, body, func(r *http.Request) {
		r.Header.Set("Accept", "text/event-stream")
	})
	require.Equal(t, http.StatusOK, streamed.Code)
	assert.Equal(t, "text/event-stream", streamed.Header().Get("Content-Type"))

	raw := streamed.Body.String()
	require.True(t, strings.HasPrefix(raw, "event: message\ndata: "), "got %q", raw)
	require.True(t, strings.HasSuffix(raw, "\n\n"))
	payload := strings.TrimSuffix(strings.TrimPrefix(raw, "event: message\ndata: "), "\n\n")

	assert.Equal(t, buffered.Body.String(), payload, "transports must carry identical payloads")
}

func TestRequestIDEchoedByType(t *testing.T) {
	handler, _ := newTestHandler(t, "http://unused.example", "")

	tests := []struct {
		name string
		id   string
	}{
		{"numeric id", `42`},
		{"string id", `"req-1"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := callRPC(t, handler, `{"jsonrpc":"2.0","id":`+tt.id+`,"method":"ping"}`)

			var raw map[string]json.RawMessage
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
			assert.Equal(t, tt.id, string(raw["id"]), "the id must be echoed byte-exact")
		})
	}
}

// decodeToolEnvelope unwraps a tools/call result down to the envelope the
// tool serialized into its text content.
func decodeToolEnvelope(t *testing.T, result any) marvin.Envelope {
	t.Helper()
	raw, err := json.Marshal(result)
	require.NoError(t, err)

	var wrapper struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	require.NoError(t, json.Unmarshal(raw, &wrapper))
	require.Len(t, wrapper.Content, 1)
	require.Equal(t, "text", wrapper.Content[0].Type)

	var envelope marvin.Envelope
	require.NoError(t, json.Unmarshal([]byte(wrapper.Content[0].Text), &envelope))
	return envelope
}
