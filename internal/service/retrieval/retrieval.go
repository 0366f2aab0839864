// Package retrieval finds the verses most relevant to a piece of problem text.
//
// Retrieval is tiered: a semantic tier (embedding similarity, served by
// Qdrant when configured and healthy, otherwise Postgres) and a lexical
// full-text tier used only when the semantic tier yields nothing. Results
// from the two tiers are never mixed.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/solacehq/solace/internal/model"
	"github.com/solacehq/solace/internal/search"
	"github.com/solacehq/solace/internal/service/embedding"
	"github.com/solacehq/solace/internal/telemetry"
)

const (
	// DefaultLimit is the number of verses returned when the caller passes no limit.
	DefaultLimit = 5
	// MaxLimit caps any requested limit.
	MaxLimit = 50
	// DefaultThreshold is the cosine similarity a verse must strictly exceed.
	DefaultThreshold = 0.7
)

// VerseStore is the subset of storage the engine reads from.
type VerseStore interface {
	SimilarVerses(ctx context.Context, vec pgvector.Vector, threshold float64, limit int) ([]model.ScoredVerse, error)
	LexicalVerses(ctx context.Context, query string, limit int) ([]model.ScoredVerse, error)
	GetVersesByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]model.Verse, error)
}

// Config tunes the engine. Zero values select the defaults.
type Config struct {
	Threshold    float64
	DefaultLimit int
}

// Engine runs the tiered verse retrieval.
type Engine struct {
	store     VerseStore
	embedder  embedding.Provider
	index     search.VerseIndex // nil when no ANN index is configured
	threshold float64
	limit     int
	logger    *slog.Logger

	embeddingDuration metric.Float64Histogram
	searchDuration    metric.Float64Histogram
	tierCount         metric.Int64Counter
}

// New creates a retrieval Engine. index may be nil.
func New(store VerseStore, embedder embedding.Provider, index search.VerseIndex, cfg Config, logger *slog.Logger) *Engine {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultLimit
	}
	meter := telemetry.Meter("solace/retrieval")
	embeddingDuration, _ := meter.Float64Histogram("solace.retrieval.embedding.duration",
		metric.WithDescription("Time spent embedding the retrieval query"),
		metric.WithUnit("ms"),
	)
	searchDuration, _ := meter.Float64Histogram("solace.retrieval.search.duration",
		metric.WithDescription("Time spent in a retrieval search tier"),
		metric.WithUnit("ms"),
	)
	tierCount, _ := meter.Int64Counter("solace.retrieval.tier",
		metric.WithDescription("Retrievals by the tier that produced the result"),
	)
	return &Engine{
		store:             store,
		embedder:          embedder,
		index:             index,
		threshold:         cfg.Threshold,
		limit:             cfg.DefaultLimit,
		logger:            logger,
		embeddingDuration: embeddingDuration,
		searchDuration:    searchDuration,
		tierCount:         tierCount,
	}
}

// Retrieve returns up to limit verses relevant to query. Only a failure of the
// lexical tier is returned as an error; embedding and similarity failures
// degrade to the next tier.
func (e *Engine) Retrieve(ctx context.Context, query string, limit int) (model.RetrievalResult, error) {
	ctx, span := telemetry.Tracer("solace/retrieval").Start(ctx, "retrieval.Retrieve")
	defer span.End()

	if limit <= 0 {
		limit = e.limit
	}
	limit = min(limit, MaxLimit)

	query = strings.TrimSpace(query)
	if query == "" {
		return e.result(ctx, nil, model.TierNone), nil
	}

	if vec, ok := e.embed(ctx, query); ok {
		verses := e.semantic(ctx, vec, limit)
		if len(verses) > 0 {
			return e.result(ctx, verses, model.TierSemantic), nil
		}
	}

	start := time.Now()
	verses, err := e.store.LexicalVerses(ctx, query, limit)
	e.searchDuration.Record(ctx, telemetry.DurationMS(start), metric.WithAttributes(attribute.String("tier", string(model.TierLexical))))
	if err != nil {
		span.RecordError(err)
		return model.RetrievalResult{}, fmt.Errorf("retrieval: lexical search: %w: %w", model.ErrInternal, err)
	}
	if len(verses) > 0 {
		return e.result(ctx, verses, model.TierLexical), nil
	}
	return e.result(ctx, nil, model.TierNone), nil
}

// embed computes the query embedding. ok is false when the provider failed
// or returned the zero vector.
func (e *Engine) embed(ctx context.Context, query string) (pgvector.Vector, bool) {
	start := time.Now()
	vec, err := e.embedder.Embed(ctx, query)
	e.embeddingDuration.Record(ctx, telemetry.DurationMS(start))
	if err != nil {
		e.logger.Warn("retrieval: embedding failed, using lexical search", "error", err)
		return pgvector.Vector{}, false
	}
	if embedding.IsZero(vec) {
		return pgvector.Vector{}, false
	}
	return vec, true
}

// semantic runs the similarity tier. The ANN index is tried first. An
// unhealthy, failing or empty-handed index falls back to exact search in
// Postgres, which stays authoritative while the index is unsynced. A
// Postgres failure yields no verses so the caller falls through to lexical.
func (e *Engine) semantic(ctx context.Context, vec pgvector.Vector, limit int) []model.ScoredVerse {
	start := time.Now()
	defer func() {
		e.searchDuration.Record(ctx, telemetry.DurationMS(start), metric.WithAttributes(attribute.String("tier", string(model.TierSemantic))))
	}()

	if e.index != nil {
		verses, err := e.indexSearch(ctx, vec, limit)
		switch {
		case err != nil:
			e.logger.Warn("retrieval: index search failed, using postgres similarity", "error", err)
		case len(verses) > 0:
			return verses
		default:
			e.logger.Debug("retrieval: index returned no matches, using postgres similarity")
		}
	}

	verses, err := e.store.SimilarVerses(ctx, vec, e.threshold, limit)
	if err != nil {
		e.logger.Warn("retrieval: similarity search failed, using lexical search", "error", err)
		return nil
	}
	return verses
}

func (e *Engine) indexSearch(ctx context.Context, vec pgvector.Vector, limit int) ([]model.ScoredVerse, error) {
	if err := e.index.Healthy(ctx); err != nil {
		return nil, fmt.Errorf("index unhealthy: %w", err)
	}
	results, err := e.index.Search(ctx, vec.Slice(), e.threshold, limit)
	if err != nil {
		return nil, err
	}
	results = search.Rank(results, e.threshold, limit)
	if len(results) == 0 {
		return nil, nil
	}
	verses, err := e.store.GetVersesByIDs(ctx, search.ResultIDs(results))
	if err != nil {
		return nil, fmt.Errorf("hydrate index results: %w", err)
	}
	return search.Hydrate(results, verses), nil
}

func (e *Engine) result(ctx context.Context, verses []model.ScoredVerse, tier model.RetrievalTier) model.RetrievalResult {
	e.tierCount.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", string(tier))))
	if verses == nil {
		verses = []model.ScoredVerse{}
	}
	return model.RetrievalResult{Verses: verses, Tier: tier}
}
