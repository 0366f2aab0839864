package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/solacehq/solace/internal/auth"
	"github.com/solacehq/solace/internal/model"
)

// ProblemService runs the owner-scoped problem, feedback and plan operations.
type ProblemService interface {
	CreateProblem(ctx context.Context, userID uuid.UUID, req model.CreateProblemRequest) (model.Problem, error)
	RegenerateAdvice(ctx context.Context, userID, problemID uuid.UUID) (model.Problem, error)
	GetProblem(ctx context.Context, userID, problemID uuid.UUID) (model.Problem, error)
	ListProblems(ctx context.Context, userID uuid.UUID, limit, offset int) ([]model.Problem, error)
	DeleteProblem(ctx context.Context, userID, problemID uuid.UUID) error
	SubmitFeedback(ctx context.Context, userID uuid.UUID, req model.FeedbackRequest) (model.AdviceFeedback, error)
	CreatePlan(ctx context.Context, userID uuid.UUID, req model.CreatePlanRequest) (model.ReadingPlan, error)
	GetPlan(ctx context.Context, userID, planID uuid.UUID) (model.ReadingPlan, error)
	UpdatePlanItem(ctx context.Context, userID, planID uuid.UUID, req model.UpdatePlanItemRequest) (model.ReadingPlanItem, error)
}

// Retriever finds verses relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, limit int) (model.RetrievalResult, error)
}

// VerseBrowser lists verses in canonical order.
type VerseBrowser interface {
	BrowseVerses(ctx context.Context, book string, chapter *int, limit int) ([]model.Verse, error)
}

// CorpusAdmin loads verses and fills in their embeddings.
type CorpusAdmin interface {
	Import(ctx context.Context, verses []model.VerseInput) (int, error)
	Backfill(ctx context.Context) (model.EmbedVersesResponse, error)
}

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// IndexHealth reports whether the external verse index is reachable.
type IndexHealth interface {
	Healthy(ctx context.Context) error
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db                  Pinger
	jwtMgr              *auth.JWTManager
	adminKeyHash        string
	problems            ProblemService
	retriever           Retriever
	verses              VerseBrowser
	corpus              CorpusAdmin
	index               IndexHealth
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	openapiSpec         []byte
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Index, OpenAPISpec. An empty AdminKeyHash disables
// /auth/token.
type HandlersDeps struct {
	DB                  Pinger
	JWTMgr              *auth.JWTManager
	AdminKeyHash        string
	Problems            ProblemService
	Retriever           Retriever
	Verses              VerseBrowser
	Corpus              CorpusAdmin
	Index               IndexHealth
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	OpenAPISpec         []byte
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	maxBody := d.MaxRequestBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Handlers{
		db:                  d.DB,
		jwtMgr:              d.JWTMgr,
		adminKeyHash:        d.AdminKeyHash,
		problems:            d.Problems,
		retriever:           d.Retriever,
		verses:              d.Verses,
		corpus:              d.Corpus,
		index:               d.Index,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: maxBody,
		openapiSpec:         d.OpenAPISpec,
	}
}

// HandleAuthToken handles POST /auth/token. The operator API key is
// exchanged for a short-lived admin token. End-user tokens come from the
// identity provider and are never issued here.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	if h.adminKeyHash == "" || req.APIKey == "" {
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}
	valid, err := auth.VerifyAPIKey(req.APIKey, h.adminKeyHash)
	if err != nil {
		h.logger.Error("admin key hash is malformed", "error", err)
	}
	if err != nil || !valid {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(auth.AdminSubject, auth.RoleAdmin)
	if err != nil {
		h.writeServiceError(w, r, fmt.Errorf("server: issue token: %w", err))
		return
	}
	h.logger.Info("admin token issued",
		"ip", r.RemoteAddr,
		"expires_at", expiresAt,
		"request_id", RequestIDFromContext(r.Context()),
	)

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := model.HealthResponse{
		Status:   "healthy",
		Version:  h.version,
		Postgres: "connected",
		Uptime:   int64(time.Since(h.startedAt).Seconds()),
	}
	httpStatus := http.StatusOK

	if err := h.db.Ping(r.Context()); err != nil {
		resp.Postgres = "disconnected"
		resp.Status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	// Retrieval falls back to Postgres when the index is down, so an
	// unreachable index degrades rather than fails the service.
	if h.index != nil {
		if err := h.index.Healthy(r.Context()); err == nil {
			resp.Qdrant = "connected"
		} else {
			resp.Qdrant = "disconnected"
			if resp.Status == "healthy" {
				resp.Status = "degraded"
			}
		}
	}

	writeJSON(w, r, httpStatus, resp)
}

// HandleOpenAPISpec serves the embedded OpenAPI specification.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}

// --- Shared helpers ---

// callerID returns the authenticated user's id. The auth middleware
// guarantees claims on every non-public route.
func callerID(r *http.Request) uuid.UUID {
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		return claims.UserID()
	}
	return uuid.Nil
}

func pathUUID(r *http.Request, key string) (uuid.UUID, error) {
	raw := r.PathValue(key)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("%w: %s is required", model.ErrValidation, key)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s: %s", model.ErrValidation, key, raw)
	}
	return id, nil
}

// maxQueryLimit is the maximum allowed value for limit query parameters.
const maxQueryLimit = 100

func queryInt(r *http.Request, key string, defaultVal int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

// maxQueryOffset prevents absurdly large offset values that cause expensive sequential scans.
const maxQueryOffset = 100_000

// queryOffset returns a bounded, non-negative offset from query params.
func queryOffset(r *http.Request) int {
	return min(max(queryInt(r, "offset", 0), 0), maxQueryOffset)
}

// queryLimit returns a limit from query params clamped to [1, maxQueryLimit].
func queryLimit(r *http.Request, defaultVal int) int {
	return min(max(queryInt(r, "limit", defaultVal), 1), maxQueryLimit)
}
