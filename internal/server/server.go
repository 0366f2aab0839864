package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/solacehq/solace/internal/auth"
	"github.com/solacehq/solace/internal/ratelimit"
)

// Server is the Solace HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Index, Limiter, MCPServer, OpenAPISpec, Middlewares.
type ServerConfig struct {
	// Required dependencies.
	DB        Pinger
	JWTMgr    *auth.JWTManager
	Problems  ProblemService
	Retriever Retriever
	Verses    VerseBrowser
	Corpus    CorpusAdmin
	Logger    *slog.Logger

	// Optional dependencies (nil = disabled).
	Index     IndexHealth
	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer

	AdminKeyHash string

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64

	OpenAPISpec []byte // Embedded OpenAPI YAML.

	// Middlewares wrap the whole handler, first-registered outermost.
	Middlewares []func(http.Handler) http.Handler
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                  cfg.DB,
		JWTMgr:              cfg.JWTMgr,
		AdminKeyHash:        cfg.AdminKeyHash,
		Problems:            cfg.Problems,
		Retriever:           cfg.Retriever,
		Verses:              cfg.Verses,
		Corpus:              cfg.Corpus,
		Index:               cfg.Index,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         cfg.OpenAPISpec,
	})

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NoopLimiter{}
	}
	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}
	userRL := ratelimit.Middleware(limiter, userKeyFunc, reqIDFunc, cfg.Logger)
	authRL := ratelimit.Middleware(limiter, ratelimit.IPKeyFunc, reqIDFunc, cfg.Logger)
	user := func(fn http.HandlerFunc) http.Handler { return userRL(fn) }
	admin := func(fn http.HandlerFunc) http.Handler { return requireAdmin(fn) }

	mux := http.NewServeMux()

	// Token exchange (no auth required, rate limited by IP).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	// Problems and advice.
	mux.Handle("POST /v1/problems", user(h.HandleCreateProblem))
	mux.Handle("GET /v1/problems", user(h.HandleListProblems))
	mux.Handle("GET /v1/problems/{id}", user(h.HandleGetProblem))
	mux.Handle("DELETE /v1/problems/{id}", user(h.HandleDeleteProblem))
	mux.Handle("POST /v1/problems/{id}/advice", user(h.HandleRegenerateAdvice))
	mux.Handle("POST /v1/feedback", user(h.HandleSubmitFeedback))

	// Reading plans.
	mux.Handle("POST /v1/reading-plans", user(h.HandleCreatePlan))
	mux.Handle("GET /v1/reading-plans/{id}", user(h.HandleGetPlan))
	mux.Handle("PATCH /v1/reading-plans/{id}/items", user(h.HandleUpdatePlanItem))

	// Verse corpus.
	mux.Handle("GET /v1/verses", user(h.HandleBrowseVerses))
	mux.Handle("POST /v1/verses/search", user(h.HandleSearchVerses))

	// Corpus administration (admin-only, exempt from rate limits).
	mux.Handle("POST /v1/admin/verses", admin(h.HandleImportVerses))
	mux.Handle("POST /v1/admin/verses/embed", admin(h.HandleEmbedVerses))

	// MCP StreamableHTTP transport (auth required).
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", userRL(mcpserver.NewStreamableHTTPServer(cfg.MCPServer)))
	}

	// OpenAPI spec and health (no auth, no rate limit).
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)
	for i := len(cfg.Middlewares) - 1; i >= 0; i-- {
		handler = cfg.Middlewares[i](handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// userKeyFunc keys rate limits on the caller's user id. Admins are exempt.
func userKeyFunc(r *http.Request) string {
	claims := ClaimsFromContext(r.Context())
	if claims == nil || claims.IsAdmin() {
		return ""
	}
	return "user:" + claims.Subject
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
