// Package solace is the public API for embedding the Solace counselling server.
//
// Consumers import this package to construct and extend the server without
// forking it:
//
//	app, err := solace.New(
//	    solace.WithVersion(version),
//	    solace.WithLogger(logger),
//	    solace.WithAdviceGenerator(myGenerator{}),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph is one-way: solace (root) imports internal/*, but
// internal/* never imports solace (root).
package solace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/ollama/ollama/api"
	"github.com/pgvector/pgvector-go"

	solaceapi "github.com/solacehq/solace/api"
	"github.com/solacehq/solace/internal/auth"
	"github.com/solacehq/solace/internal/config"
	"github.com/solacehq/solace/internal/mcp"
	"github.com/solacehq/solace/internal/model"
	"github.com/solacehq/solace/internal/ratelimit"
	"github.com/solacehq/solace/internal/search"
	"github.com/solacehq/solace/internal/server"
	"github.com/solacehq/solace/internal/service/advice"
	"github.com/solacehq/solace/internal/service/corpus"
	"github.com/solacehq/solace/internal/service/embedding"
	"github.com/solacehq/solace/internal/service/problems"
	"github.com/solacehq/solace/internal/service/readingplan"
	"github.com/solacehq/solace/internal/service/retrieval"
	"github.com/solacehq/solace/internal/storage"
	"github.com/solacehq/solace/internal/telemetry"
	"github.com/solacehq/solace/migrations"
)

// App is the Solace server lifecycle. Construct with New(), run with Run().
// App has no public fields; use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB
	srv          *server.Server
	corpus       *corpus.Service
	qdrantIndex  *search.QdrantIndex       // nil when Qdrant is not configured
	cache        *embedding.CachedProvider // nil when the query cache is disabled
	limiter      ratelimit.Limiter
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the Solace server. It connects to the database, runs
// migrations, wires all subsystems, and returns a ready-to-run App.
// It does NOT accept HTTP connections; call Run().
func New(opts ...Option) (*App, error) {
	o, cfg, err := resolve(opts)
	if err != nil {
		return nil, err
	}
	logger := o.logger

	logger.Info("solace starting", "version", o.version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, o.version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	a := &App{
		cfg:          cfg,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      o.version,
	}
	if err := a.build(o); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// Migrate applies the embedded migrations (and any WithExtraMigrations
// filesystems) and returns. New applies them too; Migrate exists for
// deployments that run schema changes as a separate step.
func Migrate(ctx context.Context, opts ...Option) error {
	o, cfg, err := resolve(opts)
	if err != nil {
		return err
	}
	db, err := storage.New(ctx, cfg.DatabaseURL, o.logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()
	return runMigrations(ctx, db, o.extraMigrations)
}

func resolve(opts []Option) (resolvedOptions, config.Config, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.version == "" {
		o.version = "dev"
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return o, cfg, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	return o, cfg, nil
}

func runMigrations(ctx context.Context, db *storage.DB, extra []fs.FS) error {
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	for i, extraFS := range extra {
		if err := db.RunMigrations(ctx, extraFS); err != nil {
			return fmt.Errorf("extra migrations[%d]: %w", i, err)
		}
	}
	return nil
}

func (a *App) build(o resolvedOptions) error {
	ctx := context.Background()
	cfg := a.cfg
	logger := a.logger

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	a.db = db
	if err := runMigrations(ctx, db, o.extraMigrations); err != nil {
		return err
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if cfg.IdPJWTSecret != "" {
		jwtMgr = jwtMgr.WithIdP(cfg.IdPJWTSecret, cfg.IdPAudience)
		logger.Info("auth: identity provider tokens enabled", "audience", cfg.IdPAudience)
	} else {
		logger.Warn("auth: SOLACE_IDP_JWT_SECRET not set, only locally issued tokens are accepted")
	}
	if cfg.AdminAPIKeyHash == "" {
		logger.Info("auth: /auth/token disabled (no SOLACE_ADMIN_API_KEY_HASH)")
	}

	// Embedding provider: external override takes priority over auto-detect.
	var embedder embedding.Provider
	namespace := "custom"
	if o.embeddingProvider != nil {
		embedder = &embedderAdapter{p: o.embeddingProvider}
	} else {
		embedder, namespace = newEmbeddingProvider(cfg, logger)
	}
	namespace = fmt.Sprintf("%s:%d", namespace, embedder.Dimensions())

	// Query embeddings go through the cache; the corpus backfill embeds each
	// verse once and bypasses it.
	queryEmbedder := embedder
	if cfg.EmbeddingCachePath != "" {
		cache, err := embedding.NewCachedProvider(embedder, cfg.EmbeddingCachePath, namespace, logger)
		if err != nil {
			return fmt.Errorf("embedding cache: %w", err)
		}
		a.cache = cache
		queryEmbedder = cache
		logger.Info("embedding cache: enabled", "path", cfg.EmbeddingCachePath, "namespace", namespace)
	}

	// Qdrant verse index (optional; disabled if QDRANT_URL is empty).
	var verseIndex search.VerseIndex
	var indexer corpus.Indexer
	var indexHealth server.IndexHealth
	if cfg.QdrantURL != "" {
		idx, err := search.NewQdrantIndex(search.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions), //nolint:gosec // validated positive in config.Validate
		}, logger)
		if err != nil {
			return fmt.Errorf("qdrant: %w", err)
		}
		a.qdrantIndex = idx
		// Retrieval falls back to Postgres while the index is unreachable.
		if err := idx.EnsureCollection(ctx); err != nil {
			logger.Warn("qdrant: ensure collection failed, similarity search stays on postgres until it recovers", "error", err)
		}
		verseIndex, indexer, indexHealth = idx, idx, idx
		logger.Info("qdrant: enabled", "collection", cfg.QdrantCollection)
	} else {
		logger.Info("qdrant: disabled (no QDRANT_URL)")
	}

	// Advice generator: external override takes priority over auto-detect.
	var generator advice.Generator
	if o.generator != nil {
		generator = o.generator
	} else {
		generator = newGenerator(cfg, logger)
	}

	engine := retrieval.New(db, queryEmbedder, verseIndex, retrieval.Config{
		Threshold:    cfg.SimilarityThreshold,
		DefaultLimit: cfg.RetrievalLimit,
	}, logger)
	synth := advice.NewSynthesizer(generator, cfg.GenerationTimeout, logger)
	plans := readingplan.New(db, logger)
	orchestrator := problems.New(db, engine, synth, plans, logger)
	a.corpus = corpus.New(db, embedder, indexer, corpus.Options{}, logger)

	mcpSrv := mcp.New(orchestrator, engine, db, logger, a.version)

	if cfg.RateLimitEnabled {
		a.limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		a.limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	middlewares := make([]func(http.Handler) http.Handler, 0, len(o.middlewares))
	for _, mw := range o.middlewares {
		middlewares = append(middlewares, mw)
	}

	a.srv = server.New(server.ServerConfig{
		DB:                  db,
		JWTMgr:              jwtMgr,
		Problems:            orchestrator,
		Retriever:           engine,
		Verses:              db,
		Corpus:              a.corpus,
		Logger:              logger,
		Index:               indexHealth,
		Limiter:             a.limiter,
		MCPServer:           mcpSrv.MCPServer(),
		AdminKeyHash:        cfg.AdminAPIKeyHash,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             a.version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         solaceapi.OpenAPISpec,
		Middlewares:         middlewares,
	})
	return nil
}

// Run starts the HTTP server, then blocks until ctx is cancelled or a fatal
// server error occurs. On return, Shutdown has been called; callers should
// not call it again.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		a.close()
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown stops accepting HTTP requests, drains in-flight ones within
// SOLACE_SHUTDOWN_TIMEOUT, and releases the database pool, index client,
// embedding cache and telemetry exporters.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("solace shutting down")

	httpCtx, cancel := contextWithOptionalTimeout(ctx, a.cfg.ShutdownTimeout)
	err := a.srv.Shutdown(httpCtx)
	cancel()
	if err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}

	a.close()
	a.logger.Info("solace stopped")
	return err
}

// Close releases resources without starting or stopping the HTTP server.
// Use it after the corpus maintenance methods.
func (a *App) Close() {
	a.close()
}

func (a *App) close() {
	if a.limiter != nil {
		_ = a.limiter.Close()
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.qdrantIndex != nil {
		_ = a.qdrantIndex.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(context.Background())
	}
}

// ImportVerses loads a YAML or JSON verse file ("-" for stdin) and upserts
// its verses. Text changes clear the stored embedding.
func (a *App) ImportVerses(ctx context.Context, path string) (int, error) {
	verses, err := corpus.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return a.corpus.Import(ctx, verses)
}

// EmbedVerses embeds every verse that has no embedding yet.
func (a *App) EmbedVerses(ctx context.Context) (model.EmbedVersesResponse, error) {
	return a.corpus.Backfill(ctx)
}

// SyncIndex copies every embedded verse into the Qdrant index.
func (a *App) SyncIndex(ctx context.Context) (int, error) {
	return a.corpus.SyncIndex(ctx)
}

// Handler returns the root HTTP handler, for tests that drive the App
// through httptest.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// embedderAdapter adapts a public EmbeddingProvider to embedding.Provider.
type embedderAdapter struct {
	p EmbeddingProvider
}

func (e *embedderAdapter) Dimensions() int { return e.p.Dimensions() }

func (e *embedderAdapter) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	v, err := e.p.Embed(ctx, text)
	if err != nil {
		return pgvector.Vector{}, err
	}
	return pgvector.NewVector(v), nil
}

func (e *embedderAdapter) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	vs, err := e.p.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	out := make([]pgvector.Vector, len(vs))
	for i, v := range vs {
		out[i] = pgvector.NewVector(v)
	}
	return out, nil
}

// newEmbeddingProvider picks the embedding provider from config. The second
// return value names the provider and model for the cache namespace.
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) (embedding.Provider, string) {
	dims := cfg.EmbeddingDimensions

	openai := func(how string) (embedding.Provider, string) {
		logger.Info("embedding provider: openai"+how, "model", cfg.EmbeddingModel, "dimensions", dims)
		return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims), "openai:" + cfg.EmbeddingModel
	}
	ollama := func(how string) (embedding.Provider, string) {
		logger.Info("embedding provider: ollama"+how, "url", cfg.OllamaURL, "model", cfg.OllamaEmbedModel, "dimensions", dims)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaEmbedModel, dims), "ollama:" + cfg.OllamaEmbedModel
	}

	switch strings.ToLower(cfg.EmbeddingProvider) {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when SOLACE_EMBEDDING_PROVIDER=openai")
			return embedding.NewNoopProvider(dims), "noop"
		}
		return openai("")
	case "ollama":
		return ollama("")
	case "noop":
		logger.Info("embedding provider: noop (semantic retrieval disabled)")
		return embedding.NewNoopProvider(dims), "noop"
	default:
		if cfg.OpenAIAPIKey != "" {
			return openai(" (auto-detected)")
		}
		if ollamaReachable(cfg.OllamaURL) {
			return ollama(" (auto-detected)")
		}
		logger.Warn("no embedding provider available, using noop (semantic retrieval disabled)")
		return embedding.NewNoopProvider(dims), "noop"
	}
}

// newGenerator picks the advice generator from config. Without one, advice
// falls back to the fixed unavailable message.
func newGenerator(cfg config.Config, logger *slog.Logger) advice.Generator {
	openRouter := func(how string) advice.Generator {
		logger.Info("advice generator: openrouter"+how, "base_url", cfg.GenerationBaseURL, "model", cfg.GenerationModel)
		return advice.NewOpenRouterGenerator(advice.OpenRouterConfig{
			APIKey:  cfg.OpenRouterAPIKey,
			BaseURL: cfg.GenerationBaseURL,
			Model:   cfg.GenerationModel,
			Title:   "Solace",
		})
	}
	ollama := func(how string) advice.Generator {
		g, err := advice.NewOllamaGenerator(cfg.OllamaURL, cfg.OllamaChatModel)
		if err != nil {
			logger.Error("ollama generator init failed", "error", err)
			return advice.NoopGenerator{}
		}
		logger.Info("advice generator: ollama"+how, "url", cfg.OllamaURL, "model", cfg.OllamaChatModel)
		return g
	}

	switch strings.ToLower(cfg.GenerationProvider) {
	case "openrouter":
		if cfg.OpenRouterAPIKey == "" {
			logger.Error("OPENROUTER_API_KEY required when SOLACE_GENERATION_PROVIDER=openrouter")
			return advice.NoopGenerator{}
		}
		return openRouter("")
	case "ollama":
		return ollama("")
	case "noop":
		logger.Info("advice generator: noop (advice disabled)")
		return advice.NoopGenerator{}
	default:
		if cfg.OpenRouterAPIKey != "" {
			return openRouter(" (auto-detected)")
		}
		if ollamaReachable(cfg.OllamaURL) {
			return ollama(" (auto-detected)")
		}
		logger.Warn("no advice generator available, advice will use the fallback message")
		return advice.NoopGenerator{}
	}
}

func ollamaReachable(baseURL string) bool {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return api.NewClient(u, http.DefaultClient).Heartbeat(ctx) == nil
}

func contextWithOptionalTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
