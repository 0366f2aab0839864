// Package corpus maintains the verse corpus: importing verses, backfilling
// their embeddings and mirroring embedded verses into the vector index.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/errgroup"

	"github.com/solacehq/solace/internal/model"
	"github.com/solacehq/solace/internal/search"
	"github.com/solacehq/solace/internal/service/embedding"
)

// Store is the verse persistence the corpus tooling writes through.
type Store interface {
	UpsertVerses(ctx context.Context, verses []model.VerseInput) (written int, cleared []uuid.UUID, err error)
	VersesMissingEmbedding(ctx context.Context, after uuid.UUID, limit int) ([]model.Verse, error)
	SetVerseEmbedding(ctx context.Context, id uuid.UUID, vec pgvector.Vector) error
	EmbeddedVersesAfter(ctx context.Context, after uuid.UUID, limit int) ([]model.Verse, error)
}

// Indexer receives embedded verses and forgets verses whose embedding was
// cleared. *search.QdrantIndex satisfies it.
type Indexer interface {
	EnsureCollection(ctx context.Context) error
	Upsert(ctx context.Context, points []search.Point) error
	DeleteByIDs(ctx context.Context, ids []uuid.UUID) error
}

// ErrNoIndex is returned by SyncIndex when no vector index is configured.
var ErrNoIndex = errors.New("corpus: no vector index configured")

const (
	importChunk      = 500
	defaultPageSize  = 256
	defaultChunkSize = 32
	defaultWorkers   = 4
)

// Options tunes the backfill. Zero values select defaults.
type Options struct {
	PageSize  int // verses fetched per page
	ChunkSize int // verses per EmbedBatch call
	Workers   int // concurrent EmbedBatch calls
}

// Service runs corpus maintenance.
type Service struct {
	store    Store
	embedder embedding.Provider
	index    Indexer // nil when no vector index is configured
	opts     Options
	logger   *slog.Logger
}

// New creates a corpus Service. index may be nil.
func New(store Store, embedder embedding.Provider, index Indexer, opts Options, logger *slog.Logger) *Service {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	return &Service{store: store, embedder: embedder, index: index, opts: opts, logger: logger}
}

// Import validates verses and upserts them. Nothing is written if any verse
// is invalid; the error lists every invalid entry.
func (s *Service) Import(ctx context.Context, verses []model.VerseInput) (int, error) {
	if len(verses) == 0 {
		return 0, fmt.Errorf("corpus: %w: no verses to import", model.ErrValidation)
	}
	var errs []error
	for i, v := range verses {
		if err := v.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("verse %d (%s %d:%d): %w", i, v.Book, v.Chapter, v.Verse, err))
		}
	}
	if len(errs) > 0 {
		return 0, fmt.Errorf("corpus: import: %w", errors.Join(errs...))
	}

	var written, stale int
	for start := 0; start < len(verses); start += importChunk {
		end := min(start+importChunk, len(verses))
		n, cleared, err := s.store.UpsertVerses(ctx, verses[start:end])
		if err != nil {
			return written, fmt.Errorf("corpus: import: %w", err)
		}
		written += n
		stale += len(cleared)
		s.unindex(ctx, cleared)
	}
	s.logger.Info("corpus: imported verses", "count", written, "embeddings_cleared", stale)
	return written, nil
}

// unindex drops verses whose text changed from the vector index so their
// old vectors stop matching. Failures are logged only: retrieval skips
// index hits for verses without an embedding, and the next backfill
// overwrites the point.
func (s *Service) unindex(ctx context.Context, ids []uuid.UUID) {
	if s.index == nil || len(ids) == 0 {
		return
	}
	if err := s.index.DeleteByIDs(ctx, ids); err != nil {
		s.logger.Warn("corpus: index delete failed", "points", len(ids), "error", err)
	}
}

// Backfill embeds every verse that has no embedding. Chunks whose
// embedding fails are counted and skipped; the next run retries them.
// With a provider that only returns zero vectors the backfill does nothing.
func (s *Service) Backfill(ctx context.Context) (model.EmbedVersesResponse, error) {
	var res model.EmbedVersesResponse

	probe, err := s.embedder.Embed(ctx, "probe")
	if err != nil {
		return res, fmt.Errorf("corpus: backfill: probe embedding provider: %w: %w", model.ErrUpstream, err)
	}
	if embedding.IsZero(probe) {
		s.logger.Info("corpus: backfill skipped, embedding provider is disabled")
		return res, nil
	}

	after := uuid.Nil
	for {
		page, err := s.store.VersesMissingEmbedding(ctx, after, s.opts.PageSize)
		if err != nil {
			return res, fmt.Errorf("corpus: backfill: %w", err)
		}
		if len(page) == 0 {
			break
		}
		after = page[len(page)-1].ID

		embedded, failed, err := s.embedPage(ctx, page)
		res.Embedded += embedded
		res.Failed += failed
		if err != nil {
			return res, err
		}
		s.logger.Info("corpus: backfill progress", "embedded", res.Embedded, "failed", res.Failed)
	}
	return res, nil
}

// embedPage embeds one page in chunks on a bounded worker pool. Provider
// failures only fail their chunk; a storage failure or a cancelled context
// stops the page.
func (s *Service) embedPage(ctx context.Context, page []model.Verse) (embedded, failed int, err error) {
	type outcome struct{ embedded, failed int }
	chunks := chunkVerses(page, s.opts.ChunkSize)
	outcomes := make([]outcome, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i, chunk := range chunks {
		g.Go(func() error {
			texts := make([]string, len(chunk))
			for j, v := range chunk {
				texts[j] = v.Text
			}
			vecs, err := s.embedder.EmbedBatch(gctx, texts)
			if err == nil && len(vecs) != len(chunk) {
				err = fmt.Errorf("provider returned %d embeddings for %d texts", len(vecs), len(chunk))
			}
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.logger.Warn("corpus: embed chunk failed", "first_verse", chunk[0].Reference(), "size", len(chunk), "error", err)
				outcomes[i].failed = len(chunk)
				return nil
			}

			points := make([]search.Point, 0, len(chunk))
			for j, v := range chunk {
				if embedding.IsZero(vecs[j]) {
					outcomes[i].failed++
					continue
				}
				if err := s.store.SetVerseEmbedding(gctx, v.ID, vecs[j]); err != nil {
					return fmt.Errorf("corpus: backfill: %w", err)
				}
				outcomes[i].embedded++
				points = append(points, pointFor(v, vecs[j]))
			}
			s.indexPoints(gctx, points)
			return nil
		})
	}
	err = g.Wait()
	for _, o := range outcomes {
		embedded += o.embedded
		failed += o.failed
	}
	return embedded, failed, err
}

// indexPoints mirrors freshly embedded verses into the index. Failures are
// logged only: a later SyncIndex repairs the index from Postgres.
func (s *Service) indexPoints(ctx context.Context, points []search.Point) {
	if s.index == nil || len(points) == 0 {
		return
	}
	if err := s.index.Upsert(ctx, points); err != nil {
		s.logger.Warn("corpus: index upsert failed", "points", len(points), "error", err)
	}
}

// SyncIndex copies every embedded verse from Postgres into the vector
// index, creating the collection first if needed. Returns the number of
// verses indexed.
func (s *Service) SyncIndex(ctx context.Context) (int, error) {
	if s.index == nil {
		return 0, ErrNoIndex
	}
	if err := s.index.EnsureCollection(ctx); err != nil {
		return 0, fmt.Errorf("corpus: sync index: %w", err)
	}

	var synced int
	after := uuid.Nil
	for {
		page, err := s.store.EmbeddedVersesAfter(ctx, after, s.opts.PageSize)
		if err != nil {
			return synced, fmt.Errorf("corpus: sync index: %w", err)
		}
		if len(page) == 0 {
			break
		}
		after = page[len(page)-1].ID

		points := make([]search.Point, 0, len(page))
		for _, v := range page {
			if v.Embedding == nil {
				continue
			}
			points = append(points, pointFor(v, *v.Embedding))
		}
		if err := s.index.Upsert(ctx, points); err != nil {
			return synced, fmt.Errorf("corpus: sync index: %w", err)
		}
		synced += len(points)
	}
	s.logger.Info("corpus: index synced", "verses", synced)
	return synced, nil
}

func pointFor(v model.Verse, vec pgvector.Vector) search.Point {
	return search.Point{ID: v.ID, Book: v.Book, Chapter: v.Chapter, Verse: v.Verse, Embedding: vec.Slice()}
}

func chunkVerses(verses []model.Verse, size int) [][]model.Verse {
	var out [][]model.Verse
	for start := 0; start < len(verses); start += size {
		out = append(out, verses[start:min(start+size, len(verses))])
	}
	return out
}
