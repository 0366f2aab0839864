package model_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solacehq/solace/internal/model"
)

// ptr is a convenience helper for pointer literals in test cases.
func ptr[T any](v T) *T { return &v }

func TestCleanText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"  plain  ", "plain"},
		{"<b>bold</b> move", "bold move"},
		{"<script>alert(1)</script>", ""},
		{"fish &amp; chips", "fish & chips"},
		{"I can't sleep", "I can't sleep"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, model.CleanText(tt.in), "input %q", tt.in)
	}
}

func TestCreateProblemRequest_Normalize(t *testing.T) {
	t.Parallel()

	got, err := model.CreateProblemRequest{
		Title:       "  Anxiety ",
		Description: "<p>I worry about work</p>",
		Context:     ptr("   "),
		Category:    ptr("stress"),
	}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "Anxiety", got.Title)
	assert.Equal(t, "I worry about work", got.Description)
	assert.Nil(t, got.Context, "whitespace-only optional fields become nil")
	require.NotNil(t, got.Category)
	assert.Equal(t, "stress", *got.Category)
}

func TestCreateProblemRequest_NormalizeRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		req  model.CreateProblemRequest
		want string
	}{
		{"empty title", model.CreateProblemRequest{Title: " ", Description: "d"}, "title and description are required"},
		{"markup only description", model.CreateProblemRequest{Title: "t", Description: "<br/>"}, "title and description are required"},
		{"title too long", model.CreateProblemRequest{Title: strings.Repeat("x", model.MaxTitleLen+1), Description: "d"}, "title"},
		{"description too long", model.CreateProblemRequest{Title: "t", Description: strings.Repeat("x", model.MaxDescriptionLen+1)}, "description"},
		{"context too long", model.CreateProblemRequest{Title: "t", Description: "d", Context: ptr(strings.Repeat("x", model.MaxContextLen+1))}, "context"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.req.Normalize()
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrValidation))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCreateProblemRequest_TitleAtExactMax(t *testing.T) {
	t.Parallel()
	_, err := model.CreateProblemRequest{Title: strings.Repeat("é", model.MaxTitleLen), Description: "d"}.Normalize()
	assert.NoError(t, err, "limit counts runes, not bytes")
}

func TestFeedbackRequest_Normalize(t *testing.T) {
	t.Parallel()
	pid := uuid.New()

	for _, rating := range []int{0, 6, -1} {
		_, err := model.FeedbackRequest{ProblemID: pid, Rating: rating}.Normalize()
		require.ErrorIs(t, err, model.ErrValidation, "rating %d", rating)
	}

	_, err := model.FeedbackRequest{Rating: 3}.Normalize()
	require.ErrorIs(t, err, model.ErrValidation, "missing problem id")

	got, err := model.FeedbackRequest{ProblemID: pid, Rating: 5, FeedbackText: ptr(" <i>thanks</i> ")}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "thanks", *got.FeedbackText)
}

func TestSearchVersesRequest_Normalize(t *testing.T) {
	t.Parallel()

	got, err := model.SearchVersesRequest{Query: " peace "}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "peace", got.Query)
	assert.Equal(t, 10, got.Limit)

	got, err = model.SearchVersesRequest{Query: "peace", Limit: 500}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, 50, got.Limit)

	_, err = model.SearchVersesRequest{Query: "   "}.Normalize()
	require.ErrorIs(t, err, model.ErrValidation)
}

func TestVerseInput_Validate(t *testing.T) {
	t.Parallel()
	assert.NoError(t, model.VerseInput{Book: "John", Chapter: 3, Verse: 16, Text: "For God so loved"}.Validate())
	assert.ErrorIs(t, model.VerseInput{Book: "John", Chapter: 0, Verse: 16, Text: "x"}.Validate(), model.ErrValidation)
	assert.ErrorIs(t, model.VerseInput{Book: "", Chapter: 1, Verse: 1, Text: "x"}.Validate(), model.ErrValidation)
}

func TestRetrievalResultAccessors(t *testing.T) {
	t.Parallel()
	a, b := uuid.New(), uuid.New()
	r := model.RetrievalResult{
		Tier: model.TierSemantic,
		Verses: []model.ScoredVerse{
			{Verse: model.Verse{ID: a, Book: "Psalms", Chapter: 23, Verse: 1, Text: "The Lord is my shepherd"}, Score: 0.9},
			{Verse: model.Verse{ID: b, Book: "John", Chapter: 14, Verse: 27, Text: "Peace I leave with you"}, Score: 0.8},
		},
	}
	assert.Equal(t, []uuid.UUID{a, b}, r.VerseIDs())
	assert.Equal(t, []string{"The Lord is my shepherd", "Peace I leave with you"}, r.Texts())
	assert.Equal(t, "Psalms 23:1", r.Verses[0].Reference())
}
