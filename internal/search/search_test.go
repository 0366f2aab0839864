package search

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solacehq/solace/internal/model"
)

func TestRankFiltersStrictlyAboveThreshold(t *testing.T) {
	t.Parallel()
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	got := Rank([]Result{
		{VerseID: a, Score: 0.91},
		{VerseID: b, Score: 0.7},
		{VerseID: c, Score: 0.69},
	}, 0.7, 5)
	require.Len(t, got, 1)
	assert.Equal(t, a, got[0].VerseID)
}

func TestRankOrdersByScoreThenID(t *testing.T) {
	t.Parallel()
	low := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	high := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	best := uuid.MustParse("00000000-0000-0000-0000-000000000003")

	got := Rank([]Result{
		{VerseID: high, Score: 0.8},
		{VerseID: best, Score: 0.95},
		{VerseID: low, Score: 0.8},
	}, 0.7, 5)
	assert.Equal(t, []uuid.UUID{best, low, high}, ResultIDs(got))
}

func TestRankTruncates(t *testing.T) {
	t.Parallel()
	var in []Result
	for range 10 {
		in = append(in, Result{VerseID: uuid.New(), Score: 0.9})
	}
	assert.Len(t, Rank(in, 0.7, 3), 3)
	assert.Empty(t, Rank(nil, 0.7, 3))
}

func TestHydrateDropsMissingAndKeepsOrder(t *testing.T) {
	t.Parallel()
	a, b, gone := uuid.New(), uuid.New(), uuid.New()
	verses := map[uuid.UUID]model.Verse{
		a: {ID: a, Text: "first"},
		b: {ID: b, Text: "second"},
	}
	got := Hydrate([]Result{{VerseID: b, Score: 0.9}, {VerseID: gone, Score: 0.85}, {VerseID: a, Score: 0.8}}, verses)
	require.Len(t, got, 2)
	assert.Equal(t, "second", got[0].Text)
	assert.InDelta(t, 0.9, got[0].Score, 1e-6)
	assert.Equal(t, "first", got[1].Text)
}
