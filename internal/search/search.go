// Package search provides an optional external vector index for the verse
// corpus. Postgres remains the source of truth: the index returns verse ids
// and scores, and callers hydrate full verses from Postgres.
package search

import (
	"bytes"
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/solacehq/solace/internal/model"
)

// Result holds a verse ID and its raw cosine similarity from the index.
type Result struct {
	VerseID uuid.UUID
	Score   float32
}

// VerseIndex is the interface for external verse vector indexes.
// Implementations must be safe for concurrent use.
type VerseIndex interface {
	// Search returns verses whose similarity to embedding exceeds threshold,
	// most similar first. Results may be over-fetched; callers apply Rank.
	Search(ctx context.Context, embedding []float32, threshold float64, limit int) ([]Result, error)

	// Healthy returns nil if the index is reachable, or an error describing the problem.
	Healthy(ctx context.Context) error
}

// Rank drops results at or below threshold, orders the rest by score
// descending with ties broken by verse id ascending, and truncates to limit.
func Rank(results []Result, threshold float64, limit int) []Result {
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if float64(r.Score) > threshold {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return bytes.Compare(out[i].VerseID[:], out[j].VerseID[:]) < 0
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Hydrate joins ranked results with verses loaded from Postgres, preserving
// result order. Results whose verse no longer exists are dropped.
func Hydrate(results []Result, verses map[uuid.UUID]model.Verse) []model.ScoredVerse {
	out := make([]model.ScoredVerse, 0, len(results))
	for _, r := range results {
		v, ok := verses[r.VerseID]
		if !ok {
			continue
		}
		out = append(out, model.ScoredVerse{Verse: v, Score: float64(r.Score)})
	}
	return out
}

// ResultIDs returns the verse ids of results, in order.
func ResultIDs(results []Result) []uuid.UUID {
	ids := make([]uuid.UUID, len(results))
	for i, r := range results {
		ids[i] = r.VerseID
	}
	return ids
}
