// Package session implements the JSON-RPC protocol endpoint. There is no
// server-side session object: every request is independent, and the only
// session state is whatever the bearer token carries. That statelessness is
// what lets many edge instances serve the same clients without coordination.
package session

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"marvinmcp/internal/changefeed"
	"marvinmcp/internal/marvin"
	"marvinmcp/internal/oauth"
	"marvinmcp/internal/tokens"
	"marvinmcp/internal/tools"
	"marvinmcp/pkg/logging"
)

// Handler dispatches JSON-RPC requests over a fixed method namespace.
type Handler struct {
	registry      *tools.Registry
	tokens        *tokens.Service
	cache         *marvin.Cache
	changeFeed    *changefeed.Mirror
	upstreamURL   string
	defaultAPIKey string
	serverName    string
	serverVersion string
}

// Options configures a protocol handler.
type Options struct {
	Registry *tools.Registry
	Tokens   *tokens.Service
	Cache    *marvin.Cache
	// ChangeFeed may be nil; the dependent tools then report a
	// configuration error.
	ChangeFeed  *changefeed.Mirror
	UpstreamURL string
	// DefaultAPIKey, when set, lets the connectivity carve-out tools probe
	// upstream without a bearer token.
	DefaultAPIKey string
	ServerName    string
	ServerVersion string
}

// NewHandler creates the protocol handler.
func NewHandler(opts Options) *Handler {
	return &Handler{
		registry:      opts.Registry,
		tokens:        opts.Tokens,
		cache:         opts.Cache,
		changeFeed:    opts.ChangeFeed,
		upstreamURL:   opts.UpstreamURL,
		defaultAPIKey: opts.DefaultAPIKey,
		serverName:    opts.ServerName,
		serverVersion: opts.ServerVersion,
	}
}

// rpcRequest is the inbound JSON-RPC message. The ID is kept raw so it is
// echoed back byte-exact whatever its JSON type.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ServeHTTP handles one protocol request. Transport-mode selection is purely
// presentational: the same response payload is either returned as one
// buffered JSON body or emitted as exactly one server-push event.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	streaming := acceptsEventStream(r)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeParseError(w, nil)
		return
	}

	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Method == "" {
		// Malformed bodies fail fast, before method dispatch and before
		// transport negotiation applies.
		h.writeParseError(w, req.ID)
		return
	}

	logging.Debug("Session", "Dispatching method %s (streaming=%v)", req.Method, streaming)

	// Notifications produce no JSON-RPC response body at all.
	if req.Method == "notifications/initialized" {
		if streaming {
			w.Header().Set("Content-Type", "text/event-stream")
			oauth.SetCORSHeaders(w)
			w.WriteHeader(http.StatusOK)
			return
		}
		oauth.SetCORSHeaders(w)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := h.dispatch(r, &req)
	h.writeResponse(w, streaming, resp)
}

// dispatch routes one request and converts any panic into a JSON-RPC
// internal error. JSON-RPC errors are a payload-level concern: the outer
// transport status stays 200.
func (h *Handler) dispatch(r *http.Request, req *rpcRequest) (resp *rpcResponse) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logging.Error("Session", fmt.Errorf("%v", recovered), "Panic while handling %s", req.Method)
			resp = errorResponse(req.ID, mcp.INTERNAL_ERROR, fmt.Sprintf("internal error: %v", recovered),
				map[string]any{"trace": string(debug.Stack())})
		}
	}()

	switch req.Method {
	case "initialize":
		return h.handleInitialize(req)
	case "tools/list":
		return resultResponse(req.ID, mcp.ListToolsResult{Tools: h.registry.List()})
	case "ping":
		return resultResponse(req.ID, map[string]any{})
	case "prompts/list":
		return resultResponse(req.ID, mcp.ListPromptsResult{Prompts: []mcp.Prompt{}})
	case "resources/list":
		return resultResponse(req.ID, mcp.ListResourcesResult{Resources: []mcp.Resource{}})
	case "tools/call":
		return h.handleToolCall(r, req)
	default:
		return errorResponse(req.ID, mcp.METHOD_NOT_FOUND, fmt.Sprintf("unknown method: %s", req.Method), nil)
	}
}

// handleInitialize echoes the requested protocol version back unchanged
// (no version gating) together with the static server identity.
func (h *Handler) handleInitialize(req *rpcRequest) *rpcResponse {
	var params struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	_ = json.Unmarshal(req.Params, &params)
	if params.ProtocolVersion == "" {
		params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	}

	result := map[string]any{
		"protocolVersion": params.ProtocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": mcp.Implementation{
			Name:    h.serverName,
			Version: h.serverVersion,
		},
	}
	return resultResponse(req.ID, result)
}

func (h *Handler) handleToolCall(r *http.Request, req *rpcRequest) *rpcResponse {
	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return errorResponse(req.ID, mcp.INVALID_PARAMS, "tools/call requires params.name", nil)
	}

	def, ok := h.registry.Get(params.Name)
	if !ok {
		return errorResponse(req.ID, mcp.INVALID_PARAMS, fmt.Sprintf("unknown tool: %s", params.Name), nil)
	}

	claims, authenticated := h.verifyBearer(r)
	if def.RequiresAuth && !authenticated {
		return errorResponse(req.ID, mcp.INTERNAL_ERROR,
			"authentication required: provide a valid bearer token obtained via the OAuth flow", nil)
	}

	// Each call independently constructs its resource client from the
	// verified token's credential. Clients are never pooled across calls:
	// every call is separately authenticated.
	deps := tools.Deps{
		ChangeFeed:           h.changeFeed,
		Authenticated:        authenticated,
		HasDefaultCredential: h.defaultAPIKey != "",
	}
	switch {
	case authenticated:
		deps.Client = marvin.NewClient(claims.APIKey, h.upstreamURL, h.cache)
	case h.defaultAPIKey != "":
		deps.Client = marvin.NewClient(h.defaultAPIKey, h.upstreamURL, h.cache)
	}

	envelope, err := def.Handler(r.Context(), deps, params.Arguments)
	if err != nil {
		logging.Error("Session", err, "Tool %s failed", params.Name)
		return errorResponse(req.ID, mcp.INTERNAL_ERROR, err.Error(), nil)
	}

	serialized, err := json.Marshal(envelope)
	if err != nil {
		return errorResponse(req.ID, mcp.INTERNAL_ERROR, "failed to serialize tool result", nil)
	}
	return resultResponse(req.ID, mcp.NewToolResultText(string(serialized)))
}

// verifyBearer extracts and verifies the Authorization header. Any failure
// means "unauthenticated", never a server error.
func (h *Handler) verifyBearer(r *http.Request) (*tokens.Claims, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, false
	}
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return nil, false
	}
	return h.tokens.Verify(strings.TrimSpace(token))
}

func resultResponse(id json.RawMessage, result any) *rpcResponse {
	return &rpcResponse{JSONRPC: mcp.JSONRPC_VERSION, ID: id, Result: result}
}

func errorResponse(id json.RawMessage, code int, message string, data any) *rpcResponse {
	return &rpcResponse{
		JSONRPC: mcp.JSONRPC_VERSION,
		ID:      id,
		Error:   &rpcError{Code: code, Message: message, Data: data},
	}
}

func (h *Handler) writeParseError(w http.ResponseWriter, id json.RawMessage) {
	resp := errorResponse(id, mcp.PARSE_ERROR, "failed to parse request body", nil)
	oauth.SetCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(resp)
}

// writeResponse delivers the payload over the negotiated transport. The
// payload bytes are identical either way; only the framing differs.
func (h *Handler) writeResponse(w http.ResponseWriter, streaming bool, resp *rpcResponse) {
	payload, err := json.Marshal(resp)
	if err != nil {
		logging.Error("Session", err, "Failed to marshal response")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	oauth.SetCORSHeaders(w)
	if streaming {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		// Exactly one push event carrying the full response, then the
		// stream closes.
		_, _ = fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload)
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func acceptsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}
