package search

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestQdrantIndex creates a QdrantIndex pointed at a port with no server.
// gRPC connects lazily, so construction succeeds and RPCs fail, which is
// enough for early-return paths, error handling and health caching.
func newTestQdrantIndex(t *testing.T) *QdrantIndex {
	t.Helper()
	idx, err := NewQdrantIndex(QdrantConfig{
		URL:        "http://localhost:16334",
		Collection: "test_verses",
		Dims:       8,
	}, discardLogger())
	require.NoError(t, err, "NewQdrantIndex should succeed (gRPC is lazy-connect)")
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestParseQdrantURL(t *testing.T) {
	tests := []struct {
		name    string
		rawURL  string
		host    string
		port    int
		tls     bool
		wantErr bool
	}{
		{name: "https with REST port", rawURL: "https://xyz.cloud.qdrant.io:6333", host: "xyz.cloud.qdrant.io", port: 6334, tls: true},
		{name: "https with gRPC port", rawURL: "https://xyz.cloud.qdrant.io:6334", host: "xyz.cloud.qdrant.io", port: 6334, tls: true},
		{name: "http local", rawURL: "http://localhost:6333", host: "localhost", port: 6334},
		{name: "no port defaults to gRPC", rawURL: "http://qdrant.internal", host: "qdrant.internal", port: 6334},
		{name: "custom port preserved", rawURL: "https://qdrant.example.com:9334", host: "qdrant.example.com", port: 9334, tls: true},
		{name: "empty", rawURL: "", wantErr: true},
		{name: "no scheme no host", rawURL: "not-a-url", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, tls, err := parseQdrantURL(tt.rawURL)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.port, port)
			assert.Equal(t, tt.tls, tls)
		})
	}
}

func TestNewQdrantIndex(t *testing.T) {
	idx := newTestQdrantIndex(t)
	assert.Equal(t, "test_verses", idx.collection)
	assert.Equal(t, uint64(8), idx.dims)

	_, err := NewQdrantIndex(QdrantConfig{URL: "", Collection: "x", Dims: 8}, discardLogger())
	require.ErrorContains(t, err, "invalid qdrant URL")
}

func TestQdrantEmptyInputsAreNoops(t *testing.T) {
	idx := newTestQdrantIndex(t)
	require.NoError(t, idx.Upsert(context.Background(), nil))
	require.NoError(t, idx.DeleteByIDs(context.Background(), nil))
}

func TestQdrantCallsFailWithoutServer(t *testing.T) {
	idx := newTestQdrantIndex(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := idx.Search(ctx, make([]float32, 8), 0.7, 5)
	require.ErrorContains(t, err, "search: qdrant query")

	err = idx.Upsert(ctx, []Point{{ID: uuid.New(), Book: "John", Chapter: 1, Verse: 1, Embedding: make([]float32, 8)}})
	require.ErrorContains(t, err, "qdrant upsert 1 points")

	err = idx.DeleteByIDs(ctx, []uuid.UUID{uuid.New()})
	require.ErrorContains(t, err, "qdrant delete 1 points")

	require.Error(t, idx.EnsureCollection(ctx))
}

func TestQdrantHealthCache(t *testing.T) {
	idx := newTestQdrantIndex(t)

	idx.storeHealthErr(nil)
	idx.healthAt.Store(time.Now().UnixNano())
	assert.NoError(t, idx.Healthy(context.Background()), "fresh cached success is returned without an RPC")

	cached := errors.New("cached failure")
	idx.storeHealthErr(cached)
	idx.healthAt.Store(time.Now().UnixNano())
	assert.ErrorIs(t, idx.Healthy(context.Background()), cached)
}

func TestQdrantHealthyExpiredCacheChecksAgain(t *testing.T) {
	idx := newTestQdrantIndex(t)
	idx.storeHealthErr(nil)
	idx.healthAt.Store(time.Now().Add(-10 * time.Second).UnixNano())

	err := idx.Healthy(context.Background())
	require.ErrorContains(t, err, "qdrant unhealthy")
}

func TestQdrantHealthyConcurrent(t *testing.T) {
	idx := newTestQdrantIndex(t)
	idx.healthAt.Store(time.Now().Add(-10 * time.Second).UnixNano())

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- idx.Healthy(context.Background())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.Error(t, err)
	}
}
