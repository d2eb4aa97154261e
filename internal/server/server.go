package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jediswimmer/ironcurtain-sub000/api"
	"github.com/jediswimmer/ironcurtain-sub000/internal/arbiter"
	"github.com/jediswimmer/ironcurtain-sub000/internal/auth"
	"github.com/jediswimmer/ironcurtain-sub000/internal/matchmaker"
	"github.com/jediswimmer/ironcurtain-sub000/internal/model"
	"github.com/jediswimmer/ironcurtain-sub000/internal/ratelimit"
)

// Server is the Iron Curtain HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
type ServerConfig struct {
	// Required dependencies.
	Store      Store
	JWTMgr     *auth.JWTManager
	Matchmaker *matchmaker.Matchmaker
	Registry   *arbiter.Registry
	Logger     *slog.Logger

	// Optional dependencies (nil = disabled).
	Limiter ratelimit.Limiter

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	Modes               []model.Mode // allowed queue modes; empty allows any
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Store:      cfg.Store,
		JWTMgr:     cfg.JWTMgr,
		Matchmaker: cfg.Matchmaker,
		Registry:   cfg.Registry,
		Logger:     cfg.Logger,
		Version:    cfg.Version,
		Modes:      cfg.Modes,
	})

	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}
	ipRL := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, reqIDFunc)

	authed := requireAuth(cfg.JWTMgr)

	mux := http.NewServeMux()

	// Registration and token exchange (no auth, rate limited by IP).
	mux.Handle("POST /v1/agents", ipRL(http.HandlerFunc(h.HandleRegisterAgent)))
	mux.Handle("POST /auth/token", ipRL(http.HandlerFunc(h.HandleAuthToken)))

	// Public reads (rate limited by IP).
	mux.Handle("GET /v1/leaderboard", ipRL(http.HandlerFunc(h.HandleLeaderboard)))
	mux.Handle("GET /v1/matches", ipRL(http.HandlerFunc(h.HandleListMatches)))
	mux.Handle("GET /v1/matches/{match_id}", ipRL(http.HandlerFunc(h.HandleGetMatch)))
	mux.Handle("GET /v1/queue/status", ipRL(http.HandlerFunc(h.HandleGlobalQueueStatus)))

	// Queue membership (JWT required).
	mux.Handle("POST /v1/queue", authed(http.HandlerFunc(h.HandleJoinQueue)))
	mux.Handle("DELETE /v1/queue", authed(http.HandlerFunc(h.HandleLeaveQueue)))
	mux.Handle("GET /v1/queue", authed(http.HandlerFunc(h.HandleQueueStatus)))

	// Persistent channels. Agent auth happens in-band via the identify
	// frame; spectators are anonymous.
	mux.HandleFunc("GET /ws/match", h.HandleMatchChannel)
	mux.HandleFunc("GET /ws/spectate/{match_id}", h.HandleSpectate)

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	mux.HandleFunc("GET /openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(api.OpenAPISpec)
	})

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)
	if cfg.MaxRequestBodyBytes > 0 {
		handler = maxBodyMiddleware(cfg.MaxRequestBodyBytes, handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// maxBodyMiddleware bounds request body size. Websocket routes are exempt;
// their frames are bounded by the connection's read limit instead.
func maxBodyMiddleware(limit int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && !isWebsocketPath(r.URL.Path) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		next.ServeHTTP(w, r)
	})
}

func isWebsocketPath(path string) bool {
	return len(path) >= 4 && path[:4] == "/ws/"
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
