// Package server assembles the HTTP surface: OAuth endpoints, well-known
// discovery documents, the protocol endpoint and the static descriptor.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"marvinmcp/internal/changefeed"
	"marvinmcp/internal/config"
	"marvinmcp/internal/credstore"
	"marvinmcp/internal/kvstore"
	"marvinmcp/internal/marvin"
	"marvinmcp/internal/oauth"
	"marvinmcp/internal/session"
	"marvinmcp/internal/tokens"
	"marvinmcp/internal/tools"
	"marvinmcp/pkg/logging"
)

const (
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 120 * time.Second
	idleTimeout       = 120 * time.Second
)

// Server is the assembled marvin-mcp HTTP server.
type Server struct {
	cfg        config.Config
	version    string
	httpServer *http.Server
	registry   *tools.Registry
	kv         kvstore.Store
	changeFeed *changefeed.Mirror
}

// upstreamValidator validates submitted credentials with a probe call. It is
// the only collaborator the authorization flow needs from the resource side.
type upstreamValidator struct {
	baseURL string
	cache   *marvin.Cache
}

func (v *upstreamValidator) Validate(ctx context.Context, apiKey string) error {
	return marvin.NewClient(apiKey, v.baseURL, v.cache).Probe(ctx)
}

// New wires all components together. The key-value store backend is chosen
// by configuration: Redis when a URL is set, in-memory otherwise.
func New(ctx context.Context, cfg config.Config, version string) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var kv kvstore.Store
	if cfg.Redis.URL != "" {
		redisStore, err := kvstore.NewRedis(ctx, kvstore.RedisOptions{
			URL:      cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		kv = redisStore
		logging.Info("Server", "Using Redis key-value store at %s", cfg.Redis.URL)
	} else {
		kv = kvstore.NewMemory()
		logging.Info("Server", "Using in-memory key-value store; state is not shared between instances")
	}

	var mirror *changefeed.Mirror
	if cfg.ChangeFeed.Enabled() {
		m, err := changefeed.Connect(ctx, changefeed.Config{
			Host:     cfg.ChangeFeed.Host,
			Database: cfg.ChangeFeed.Database,
			User:     cfg.ChangeFeed.User,
			Password: cfg.ChangeFeed.Password,
		})
		if err != nil {
			return nil, err
		}
		mirror = m
	} else {
		logging.Info("Server", "Change-feed mirror not configured; delete/event tools disabled")
	}

	tokenService, err := tokens.NewService(cfg.OAuth.SigningSecret)
	if err != nil {
		return nil, err
	}

	cache := marvin.NewCache(kv)
	creds := credstore.New(kv)
	validator := &upstreamValidator{baseURL: cfg.Upstream.BaseURL, cache: cache}
	oauthServer := oauth.NewServer(cfg.Server.BaseURL, creds, tokenService, validator)
	oauthHandler := oauth.NewHandler(oauthServer)
	registry := tools.NewRegistry()

	sessionHandler := session.NewHandler(session.Options{
		Registry:      registry,
		Tokens:        tokenService,
		Cache:         cache,
		ChangeFeed:    mirror,
		UpstreamURL:   cfg.Upstream.BaseURL,
		DefaultAPIKey: cfg.Upstream.APIKey,
		ServerName:    "marvin-mcp",
		ServerVersion: version,
	})

	s := &Server{
		cfg:        cfg,
		version:    version,
		registry:   registry,
		kv:         kv,
		changeFeed: mirror,
	}

	mux := s.createMux(oauthHandler, sessionHandler)
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           withOptionsAndCORS(mux),
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
	return s, nil
}

// createMux registers all routes, including the historical aliases some
// clients still probe.
func (s *Server) createMux(oauthHandler *oauth.Handler, sessionHandler *session.Handler) *http.ServeMux {
	mux := http.NewServeMux()

	// Discovery documents. All unauthenticated.
	mux.HandleFunc("/.well-known/oauth-authorization-server", oauthHandler.HandleMetadata)
	mux.HandleFunc("/.well-known/mcp_discovery", oauthHandler.HandleMetadata)
	mux.HandleFunc("/.well-known/mcp-discovery", oauthHandler.HandleMetadata)
	mux.HandleFunc("/.well-known/oauth-protected-resource", oauthHandler.HandleProtectedResourceMetadata)
	mux.HandleFunc("/.well-known/jwks.json", oauthHandler.HandleJWKS)

	// OAuth endpoints with their aliases.
	mux.HandleFunc("/oauth/register", oauthHandler.HandleRegister)
	mux.HandleFunc("/register", oauthHandler.HandleRegister)
	mux.HandleFunc("/oauth/authorize", oauthHandler.HandleAuthorize)
	mux.HandleFunc("/authorize", oauthHandler.HandleAuthorize)
	mux.HandleFunc("/auth", oauthHandler.HandleAuthorize)
	mux.HandleFunc("/oauth/token", oauthHandler.HandleToken)
	mux.HandleFunc("/token", oauthHandler.HandleToken)

	mux.HandleFunc("/info", s.handleInfo)

	// The root path carries both the descriptor (GET) and the protocol
	// endpoint (POST). Everything else under "/" is a 404.
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		switch r.Method {
		case http.MethodGet:
			s.handleInfo(w, r)
		case http.MethodPost:
			sessionHandler.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})

	logging.Info("Server", "Registered OAuth and protocol endpoints")
	return mux
}

// handleInfo serves the static server descriptor.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	base := s.cfg.Server.BaseURL
	descriptor := map[string]any{
		"name":       "marvin-mcp",
		"version":    s.version,
		"tool_count": s.registry.Count(),
		"endpoints": map[string]string{
			"protocol":  base + "/",
			"discovery": base + "/.well-known/oauth-authorization-server",
			"authorize": base + "/oauth/authorize",
			"token":     base + "/oauth/token",
			"register":  base + "/oauth/register",
		},
	}
	oauth.SetCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(descriptor); err != nil {
		logging.Warn("Server", "Failed to encode descriptor: %v", err)
	}
}

// withOptionsAndCORS answers every OPTIONS request with 204 and permissive
// cross-origin headers, on every route.
func withOptionsAndCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			oauth.SetCORSHeaders(w)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info("Server", "Listening on %s (issuer %s)", s.httpServer.Addr, s.cfg.Server.BaseURL)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}

	if memory, ok := s.kv.(*kvstore.Memory); ok {
		memory.Stop()
	}
	if redisStore, ok := s.kv.(*kvstore.Redis); ok {
		_ = redisStore.Close()
	}
	if s.changeFeed != nil {
		s.changeFeed.Close()
	}
	logging.Info("Server", "Shutdown complete")
	return nil
}
