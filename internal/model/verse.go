package model

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Verse is one passage of the shared reference corpus. Verses are read-only
// to the request path; they are written only by corpus tooling.
type Verse struct {
	ID        uuid.UUID        `json:"id"`
	Book      string           `json:"book"`
	Chapter   int              `json:"chapter"`
	Verse     int              `json:"verse"`
	Text      string           `json:"text"`
	Embedding *pgvector.Vector `json:"-"`
}

// Reference formats the verse as "Book chapter:verse".
func (v Verse) Reference() string {
	return fmt.Sprintf("%s %d:%d", v.Book, v.Chapter, v.Verse)
}

// ScoredVerse pairs a verse with the score that ranked it. For the semantic
// tier the score is cosine similarity; for the lexical tier it is ts_rank.
type ScoredVerse struct {
	Verse
	Score float64 `json:"score"`
}

// RetrievalTier names the search tier that produced a retrieval result.
type RetrievalTier string

const (
	TierSemantic RetrievalTier = "semantic"
	TierLexical  RetrievalTier = "lexical"
	TierNone     RetrievalTier = "none"
)

// RetrievalResult is the ordered output of a retrieval. Verses all come from
// the same tier.
type RetrievalResult struct {
	Verses []ScoredVerse `json:"verses"`
	Tier   RetrievalTier `json:"tier"`
}

// VerseIDs returns the ids of the retrieved verses in retrieval order.
func (r RetrievalResult) VerseIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(r.Verses))
	for i, v := range r.Verses {
		ids[i] = v.ID
	}
	return ids
}

// Texts returns the verse texts in retrieval order.
func (r RetrievalResult) Texts() []string {
	texts := make([]string, len(r.Verses))
	for i, v := range r.Verses {
		texts[i] = v.Text
	}
	return texts
}

// VerseInput is one verse in an import file or admin import request.
type VerseInput struct {
	Book    string `json:"book" yaml:"book"`
	Chapter int    `json:"chapter" yaml:"chapter"`
	Verse   int    `json:"verse" yaml:"verse"`
	Text    string `json:"text" yaml:"text"`
}
