package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/solacehq/solace/internal/model"
)

const maxVerseLimit = 1000

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// SimilarVerses returns up to limit verses whose cosine similarity to vec is
// strictly greater than threshold, most similar first, ties broken by id.
// Rows embedded with a different dimensionality are skipped; the dimension
// filter runs in a materialized CTE so <=> never sees a mismatched row.
func (db *DB) SimilarVerses(ctx context.Context, vec pgvector.Vector, threshold float64, limit int) ([]model.ScoredVerse, error) {
	limit = clampLimit(limit, 5, maxVerseLimit)
	rows, err := db.pool.Query(ctx,
		`WITH candidates AS MATERIALIZED (
		     SELECT id, book, chapter, verse, text, embedding
		     FROM verses
		     WHERE embedding IS NOT NULL AND vector_dims(embedding) = $2
		 ), scored AS (
		     SELECT id, book, chapter, verse, text, 1 - (embedding <=> $1) AS similarity
		     FROM candidates
		 )
		 SELECT id, book, chapter, verse, text, similarity
		 FROM scored
		 WHERE similarity > $3
		 ORDER BY similarity DESC, id
		 LIMIT $4`,
		vec, len(vec.Slice()), threshold, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: similar verses: %w", err)
	}
	defer rows.Close()

	var out []model.ScoredVerse
	for rows.Next() {
		var sv model.ScoredVerse
		if err := rows.Scan(&sv.ID, &sv.Book, &sv.Chapter, &sv.Verse, &sv.Text, &sv.Score); err != nil {
			return nil, fmt.Errorf("storage: scan similar verse: %w", err)
		}
		out = append(out, sv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: similar verses: %w", err)
	}
	return out, nil
}

// LexicalVerses runs English full-text search over verse text, ranked by
// ts_rank descending with ties broken by id.
func (db *DB) LexicalVerses(ctx context.Context, query string, limit int) ([]model.ScoredVerse, error) {
	limit = clampLimit(limit, 5, maxVerseLimit)
	rows, err := db.pool.Query(ctx,
		`SELECT id, book, chapter, verse, text,
		        ts_rank(to_tsvector('english', text), plainto_tsquery('english', $1)) AS rank
		 FROM verses
		 WHERE to_tsvector('english', text) @@ plainto_tsquery('english', $1)
		 ORDER BY rank DESC, id
		 LIMIT $2`,
		query, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: lexical verses: %w", err)
	}
	defer rows.Close()

	var out []model.ScoredVerse
	for rows.Next() {
		var sv model.ScoredVerse
		var rank float32
		if err := rows.Scan(&sv.ID, &sv.Book, &sv.Chapter, &sv.Verse, &sv.Text, &rank); err != nil {
			return nil, fmt.Errorf("storage: scan lexical verse: %w", err)
		}
		sv.Score = float64(rank)
		out = append(out, sv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: lexical verses: %w", err)
	}
	return out, nil
}

// GetVersesByIDs returns the embedded verses with the given ids keyed by
// id. Unknown ids, and verses whose embedding was cleared since they were
// indexed, are absent from the map.
func (db *DB) GetVersesByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]model.Verse, error) {
	out := make(map[uuid.UUID]model.Verse, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, book, chapter, verse, text FROM verses WHERE id = ANY($1) AND embedding IS NOT NULL`, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get verses by ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v model.Verse
		if err := rows.Scan(&v.ID, &v.Book, &v.Chapter, &v.Verse, &v.Text); err != nil {
			return nil, fmt.Errorf("storage: scan verse: %w", err)
		}
		out[v.ID] = v
	}
	return out, rows.Err()
}

// BrowseVerses lists verses, optionally filtered by book and chapter, ordered
// by book, chapter and verse.
func (db *DB) BrowseVerses(ctx context.Context, book string, chapter *int, limit int) ([]model.Verse, error) {
	limit = clampLimit(limit, 200, maxVerseLimit)

	var conds []string
	var args []any
	if book != "" {
		args = append(args, book)
		conds = append(conds, fmt.Sprintf("book = $%d", len(args)))
	}
	if chapter != nil {
		args = append(args, *chapter)
		conds = append(conds, fmt.Sprintf("chapter = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)

	rows, err := db.pool.Query(ctx, fmt.Sprintf(
		`SELECT id, book, chapter, verse, text FROM verses%s
		 ORDER BY book, chapter, verse LIMIT $%d`, where, len(args)),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: browse verses: %w", err)
	}
	defer rows.Close()
	return scanVerses(rows)
}

// UpsertVerses inserts verses or updates the text of existing ones keyed by
// (book, chapter, verse). A verse whose text changes loses its embedding so
// the backfill picks it up again; the ids of those verses are returned as
// cleared so the caller can drop them from the vector index. Returns the
// number of rows written.
func (db *DB) UpsertVerses(ctx context.Context, verses []model.VerseInput) (written int, cleared []uuid.UUID, err error) {
	if len(verses) == 0 {
		return 0, nil, nil
	}
	err = db.retryWrite(ctx, "upsert verses", func() error {
		written, cleared = 0, nil
		tx, err := db.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("storage: begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		// xmax is non-zero only for rows taken by the DO UPDATE branch, so
		// fresh inserts never report as cleared.
		batch := &pgx.Batch{}
		for _, v := range verses {
			batch.Queue(
				`INSERT INTO verses (book, chapter, verse, text)
				 VALUES ($1, $2, $3, $4)
				 ON CONFLICT (book, chapter, verse) DO UPDATE
				 SET text = EXCLUDED.text,
				     embedding = CASE WHEN verses.text = EXCLUDED.text THEN verses.embedding ELSE NULL END,
				     updated_at = now()
				 RETURNING id, NOT (xmax = 0) AND embedding IS NULL`,
				strings.TrimSpace(v.Book), v.Chapter, v.Verse, strings.TrimSpace(v.Text),
			)
		}

		br := tx.SendBatch(ctx, batch)
		for range verses {
			var (
				id        uuid.UUID
				unindexed bool
			)
			if err := br.QueryRow().Scan(&id, &unindexed); err != nil {
				_ = br.Close()
				return fmt.Errorf("storage: upsert verse: %w", err)
			}
			written++
			if unindexed {
				cleared = append(cleared, id)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("storage: close batch: %w", err)
		}
		return tx.Commit(ctx)
	})
	if err != nil {
		return 0, nil, err
	}
	return written, cleared, nil
}

// VersesMissingEmbedding pages through verses with no embedding in id
// order, starting after the given id. Pass uuid.Nil for the first page.
func (db *DB) VersesMissingEmbedding(ctx context.Context, after uuid.UUID, limit int) ([]model.Verse, error) {
	limit = clampLimit(limit, 100, maxVerseLimit)
	rows, err := db.pool.Query(ctx,
		`SELECT id, book, chapter, verse, text FROM verses
		 WHERE embedding IS NULL AND id > $1
		 ORDER BY id LIMIT $2`, after, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: verses missing embedding: %w", err)
	}
	defer rows.Close()
	return scanVerses(rows)
}

// SetVerseEmbedding stores the embedding for one verse.
func (db *DB) SetVerseEmbedding(ctx context.Context, id uuid.UUID, vec pgvector.Vector) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE verses SET embedding = $2, updated_at = now() WHERE id = $1`, id, vec,
	)
	if err != nil {
		return fmt.Errorf("storage: set verse embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// EmbeddedVersesAfter pages through embedded verses in id order, starting
// after the given id. Pass uuid.Nil for the first page.
func (db *DB) EmbeddedVersesAfter(ctx context.Context, after uuid.UUID, limit int) ([]model.Verse, error) {
	limit = clampLimit(limit, 256, maxVerseLimit)
	rows, err := db.pool.Query(ctx,
		`SELECT id, book, chapter, verse, text, embedding FROM verses
		 WHERE embedding IS NOT NULL AND id > $1
		 ORDER BY id LIMIT $2`, after, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: embedded verses: %w", err)
	}
	defer rows.Close()

	var out []model.Verse
	for rows.Next() {
		var v model.Verse
		var emb pgvector.Vector
		if err := rows.Scan(&v.ID, &v.Book, &v.Chapter, &v.Verse, &v.Text, &emb); err != nil {
			return nil, fmt.Errorf("storage: scan embedded verse: %w", err)
		}
		v.Embedding = &emb
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanVerses(rows pgx.Rows) ([]model.Verse, error) {
	var out []model.Verse
	for rows.Next() {
		var v model.Verse
		if err := rows.Scan(&v.ID, &v.Book, &v.Chapter, &v.Verse, &v.Text); err != nil {
			return nil, fmt.Errorf("storage: scan verse: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
