package embedding

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/pgvector/pgvector-go"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

// CachedProvider wraps a Provider with a persistent SQLite cache keyed by
// namespace and a hash of the input text, so repeated queries skip the
// upstream call. Cache failures are logged and fall through to the wrapped
// provider.
type CachedProvider struct {
	inner     Provider
	db        *sql.DB
	namespace string
	logger    *slog.Logger
}

// NewCachedProvider opens (or creates) the cache database at path. The
// namespace should identify the model and dimensionality so that switching
// models never serves stale vectors. Use ":memory:" for a process-local cache.
func NewCachedProvider(inner Provider, path, namespace string, logger *slog.Logger) (*CachedProvider, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("embedding cache: create directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("embedding cache: open: %w", err)
	}
	// One connection: SQLite serializes writers anyway, and ":memory:"
	// databases are per-connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("embedding cache: execute %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS embeddings (
		namespace  TEXT NOT NULL,
		text_hash  TEXT NOT NULL,
		dims       INTEGER NOT NULL,
		vector     BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (namespace, text_hash)
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("embedding cache: create table: %w", err)
	}

	return &CachedProvider{inner: inner, db: db, namespace: namespace, logger: logger}, nil
}

// Dimensions returns the wrapped provider's vector size.
func (c *CachedProvider) Dimensions() int {
	return c.inner.Dimensions()
}

// Embed returns the cached vector for text, computing and storing it on a miss.
func (c *CachedProvider) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	key := hashText(text)
	if vec, ok := c.lookup(ctx, key); ok {
		return vec, nil
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return pgvector.Vector{}, err
	}
	c.store(ctx, key, vec)
	return vec, nil
}

// EmbedBatch serves cached texts locally and sends only the misses upstream,
// in a single batch.
func (c *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([]pgvector.Vector, len(texts))
	keys := make([]string, len(texts))
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		keys[i] = hashText(text)
		if vec, ok := c.lookup(ctx, keys[i]); ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedding cache: provider returned %d vectors for %d texts", len(vecs), len(missTexts))
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		c.store(ctx, keys[i], vecs[j])
	}
	return out, nil
}

// Close closes the cache database.
func (c *CachedProvider) Close() error {
	return c.db.Close()
}

func (c *CachedProvider) lookup(ctx context.Context, key string) (pgvector.Vector, bool) {
	var dims int
	var blob []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT dims, vector FROM embeddings WHERE namespace = ? AND text_hash = ?`,
		c.namespace, key,
	).Scan(&dims, &blob)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			c.logger.Warn("embedding cache: lookup failed", "error", err)
		}
		return pgvector.Vector{}, false
	}
	if len(blob) != dims*4 || dims != c.inner.Dimensions() {
		return pgvector.Vector{}, false
	}
	return pgvector.NewVector(unpackEmbedding(blob)), true
}

// store writes a vector to the cache. Zero vectors are never cached so a
// temporarily disabled provider cannot poison later lookups.
func (c *CachedProvider) store(ctx context.Context, key string, vec pgvector.Vector) {
	if IsZero(vec) {
		return
	}
	v := vec.Slice()
	if _, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO embeddings (namespace, text_hash, dims, vector, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		c.namespace, key, len(v), packEmbedding(v), time.Now().Unix(),
	); err != nil {
		c.logger.Warn("embedding cache: store failed", "error", err)
	}
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// packEmbedding encodes a vector as little-endian float32s.
func packEmbedding(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func unpackEmbedding(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
