package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"

	"marvinmcp/pkg/logging"
)

// Handler provides the HTTP surface of the authorization server.
type Handler struct {
	server *Server
}

// NewHandler creates the OAuth HTTP handler.
func NewHandler(server *Server) *Handler {
	return &Handler{server: server}
}

// SetCORSHeaders sets permissive cross-origin headers. Every JSON-producing
// response carries them; MCP clients are browser-adjacent and preflight
// everything.
func SetCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Mcp-Session-Id, Mcp-Protocol-Version")
	w.Header().Set("Access-Control-Max-Age", "86400")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	SetCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Warn("OAuth", "Failed to encode response: %v", err)
	}
}

// writeOAuthError maps an error to an RFC 6749 error body. Non-oauth errors
// become server_error.
func writeOAuthError(w http.ResponseWriter, err error) {
	var oauthErr *Error
	if !errors.As(err, &oauthErr) {
		oauthErr = &Error{Code: ErrorCodeServerError, Description: "internal error", Status: http.StatusInternalServerError}
	}
	writeJSON(w, oauthErr.Status, ErrorResponse{
		Error:            oauthErr.Code,
		ErrorDescription: oauthErr.Description,
	})
}

// HandleMetadata serves the authorization-server discovery document. No
// authentication: clients fetch it before they have any credentials.
func (h *Handler) HandleMetadata(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.server.Metadata())
}

// HandleProtectedResourceMetadata serves the resource-server metadata.
func (h *Handler) HandleProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.server.ResourceMetadata())
}

// HandleJWKS serves an empty key set. Signing is symmetric, so there is no
// public key material to expose; the endpoint exists only so clients that
// unconditionally probe it do not fail.
func (h *Handler) HandleJWKS(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"keys": []any{}})
}

// HandleRegister serves dynamic client registration.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: ErrorCodeInvalidRequest, ErrorDescription: "registration requires POST"})
		return
	}

	var req ClientRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: ErrorCodeInvalidRequest, ErrorDescription: "request body is not valid JSON"})
		return
	}

	resp, err := h.server.RegisterClient(r.Context(), req)
	if err != nil {
		writeOAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// HandleAuthorize serves the authorization endpoint: GET renders the
// credential form, POST consumes the submission.
func (h *Handler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleAuthorizeForm(w, r)
	case http.MethodPost:
		h.handleAuthorizeSubmit(w, r)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: ErrorCodeInvalidRequest, ErrorDescription: "authorize requires GET or POST"})
	}
}

func (h *Handler) handleAuthorizeForm(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	req := AuthorizeRequest{
		ClientID:            query.Get("client_id"),
		RedirectURI:         query.Get("redirect_uri"),
		State:               query.Get("state"),
		CodeChallenge:       query.Get("code_challenge"),
		CodeChallengeMethod: query.Get("code_challenge_method"),
	}

	if req.ClientID == "" || req.RedirectURI == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: ErrorCodeInvalidRequest, ErrorDescription: "client_id and redirect_uri are required"})
		return
	}
	if query.Get("response_type") != "code" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: ErrorCodeInvalidRequest, ErrorDescription: "response_type must be code"})
		return
	}

	if _, err := h.server.EnsureClient(r.Context(), req.ClientID, req.RedirectURI); err != nil {
		logging.Error("OAuth", err, "Failed to resolve client %s", req.ClientID)
		writeOAuthError(w, err)
		return
	}

	h.renderCredentialForm(w, req, "", http.StatusOK)
}

func (h *Handler) handleAuthorizeSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: ErrorCodeInvalidRequest, ErrorDescription: "malformed form body"})
		return
	}

	req := AuthorizeRequest{
		ClientID:            r.PostFormValue("client_id"),
		RedirectURI:         r.PostFormValue("redirect_uri"),
		State:               r.PostFormValue("state"),
		CodeChallenge:       r.PostFormValue("code_challenge"),
		CodeChallengeMethod: r.PostFormValue("code_challenge_method"),
	}
	apiKey := r.PostFormValue("api_key")

	if req.ClientID == "" || req.RedirectURI == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: ErrorCodeInvalidRequest, ErrorDescription: "client_id and redirect_uri are required"})
		return
	}
	if apiKey == "" {
		h.renderCredentialForm(w, req, "Please enter your Marvin API token.", http.StatusBadRequest)
		return
	}

	redirect, err := h.server.IssueCode(r.Context(), req, apiKey)
	if err != nil {
		// Invalid upstream credential is retryable: render the form again
		// without minting a code.
		h.renderCredentialForm(w, req, "That API token was rejected by Marvin. Please check it and try again.", http.StatusBadRequest)
		return
	}

	http.Redirect(w, r, redirect, http.StatusFound)
}

// HandleToken serves the token endpoint.
func (h *Handler) HandleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: ErrorCodeInvalidRequest, ErrorDescription: "token exchange requires POST"})
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: ErrorCodeInvalidRequest, ErrorDescription: "malformed form body"})
		return
	}

	req := TokenRequest{
		GrantType:    r.PostFormValue("grant_type"),
		Code:         r.PostFormValue("code"),
		ClientID:     r.PostFormValue("client_id"),
		ClientSecret: r.PostFormValue("client_secret"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		CodeVerifier: r.PostFormValue("code_verifier"),
		RefreshToken: r.PostFormValue("refresh_token"),
	}

	resp, err := h.server.Exchange(r.Context(), req)
	if err != nil {
		writeOAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// setSecurityHeaders sets recommended security headers for HTML responses.
func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
}

func (h *Handler) renderCredentialForm(w http.ResponseWriter, req AuthorizeRequest, errorMessage string, status int) {
	setSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	h.writeCredentialFormHTML(w, req, errorMessage)
}

// writeCredentialFormHTML renders the credential-entry page. All request
// parameters ride along as hidden fields so they survive the POST
// round-trip; everything user-controlled is escaped.
func (h *Handler) writeCredentialFormHTML(w http.ResponseWriter, req AuthorizeRequest, errorMessage string) {
	errorBlock := ""
	if errorMessage != "" {
		errorBlock = fmt.Sprintf(`<p class="error">%s</p>`, html.EscapeString(errorMessage))
	}

	page := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Connect to Marvin</title>
<style>
body { font-family: -apple-system, sans-serif; max-width: 28rem; margin: 4rem auto; padding: 0 1rem; color: #1a1a2e; }
h1 { font-size: 1.4rem; }
input[type=password] { width: 100%%; padding: 0.5rem; font-size: 1rem; box-sizing: border-box; }
button { margin-top: 1rem; padding: 0.5rem 1.5rem; font-size: 1rem; background: #2563eb; color: white; border: none; border-radius: 4px; cursor: pointer; }
.error { color: #dc2626; }
.hint { color: #6b7280; font-size: 0.9rem; }
</style>
</head>
<body>
<h1>Connect to Marvin</h1>
<p>An application is requesting access to your Marvin account. Enter your Marvin API token to authorize it. The token stays on this server and is never shared with the application.</p>
%s
<form method="POST">
<input type="hidden" name="client_id" value="%s">
<input type="hidden" name="redirect_uri" value="%s">
<input type="hidden" name="state" value="%s">
<input type="hidden" name="code_challenge" value="%s">
<input type="hidden" name="code_challenge_method" value="%s">
<label for="api_key">Marvin API token</label>
<input type="password" id="api_key" name="api_key" autocomplete="off" autofocus>
<p class="hint">Find it in Marvin under Settings &rarr; API.</p>
<button type="submit">Authorize</button>
</form>
</body>
</html>`,
		errorBlock,
		html.EscapeString(req.ClientID),
		html.EscapeString(req.RedirectURI),
		html.EscapeString(req.State),
		html.EscapeString(req.CodeChallenge),
		html.EscapeString(req.CodeChallengeMethod),
	)
	if _, err := w.Write([]byte(page)); err != nil {
		logging.Warn("OAuth", "Failed to write authorization page: %v", err)
	}
}
