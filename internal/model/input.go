package model

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
)

// Field length limits for user-submitted text. Lengths are counted in runes
// after markup has been stripped.
const (
	MaxTitleLen        = 200
	MaxDescriptionLen  = 5000
	MaxContextLen      = 2000
	MaxCategoryLen     = 100
	MaxFeedbackTextLen = 2000
	MaxQueryLen        = 1000
)

// strictPolicy strips every tag. bluemonday policies are safe for concurrent use.
var strictPolicy = bluemonday.StrictPolicy()

// CleanText strips markup from untrusted input, decodes the entities the
// sanitizer leaves behind, and trims surrounding whitespace.
func CleanText(s string) string {
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(s)))
}

func cleanOptional(s *string) *string {
	if s == nil {
		return nil
	}
	c := CleanText(*s)
	if c == "" {
		return nil
	}
	return &c
}

func tooLong(field string, s string, limit int) error {
	if utf8.RuneCountInString(s) > limit {
		return fmt.Errorf("%w: %s exceeds maximum length of %d characters", ErrValidation, field, limit)
	}
	return nil
}

// CreateProblemRequest is the request body for POST /v1/problems.
type CreateProblemRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Context     *string `json:"context,omitempty"`
	Category    *string `json:"category,omitempty"`
}

// Normalize returns a cleaned copy of the request, or an error wrapping
// ErrValidation when a required field is empty or a field is too long.
func (r CreateProblemRequest) Normalize() (CreateProblemRequest, error) {
	out := CreateProblemRequest{
		Title:       CleanText(r.Title),
		Description: CleanText(r.Description),
		Context:     cleanOptional(r.Context),
		Category:    cleanOptional(r.Category),
	}
	if out.Title == "" || out.Description == "" {
		return CreateProblemRequest{}, fmt.Errorf("%w: title and description are required", ErrValidation)
	}
	if err := tooLong("title", out.Title, MaxTitleLen); err != nil {
		return CreateProblemRequest{}, err
	}
	if err := tooLong("description", out.Description, MaxDescriptionLen); err != nil {
		return CreateProblemRequest{}, err
	}
	if out.Context != nil {
		if err := tooLong("context", *out.Context, MaxContextLen); err != nil {
			return CreateProblemRequest{}, err
		}
	}
	if out.Category != nil {
		if err := tooLong("category", *out.Category, MaxCategoryLen); err != nil {
			return CreateProblemRequest{}, err
		}
	}
	return out, nil
}

// FeedbackRequest is the request body for POST /v1/feedback.
type FeedbackRequest struct {
	ProblemID    uuid.UUID `json:"problem_id"`
	Rating       int       `json:"rating"`
	FeedbackText *string   `json:"feedback_text,omitempty"`
	IsHelpful    *bool     `json:"is_helpful,omitempty"`
}

// Normalize validates the rating range and cleans the free-text field.
func (r FeedbackRequest) Normalize() (FeedbackRequest, error) {
	if r.ProblemID == uuid.Nil || r.Rating < 1 || r.Rating > 5 {
		return FeedbackRequest{}, fmt.Errorf("%w: problem_id and rating (1-5) are required", ErrValidation)
	}
	r.FeedbackText = cleanOptional(r.FeedbackText)
	if r.FeedbackText != nil {
		if err := tooLong("feedback_text", *r.FeedbackText, MaxFeedbackTextLen); err != nil {
			return FeedbackRequest{}, err
		}
	}
	return r, nil
}

// CreatePlanRequest is the request body for POST /v1/reading-plans.
type CreatePlanRequest struct {
	ProblemID uuid.UUID   `json:"problem_id"`
	VerseIDs  []uuid.UUID `json:"verse_ids"`
}

// UpdatePlanItemRequest is the request body for PATCH /v1/reading-plans/{id}/items.
type UpdatePlanItemRequest struct {
	ItemID uuid.UUID `json:"item_id"`
	IsRead *bool     `json:"is_read"`
}

// SearchVersesRequest is the request body for POST /v1/verses/search.
type SearchVersesRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// Normalize cleans the query and applies the search endpoint's default limit.
func (r SearchVersesRequest) Normalize() (SearchVersesRequest, error) {
	r.Query = CleanText(r.Query)
	if r.Query == "" {
		return SearchVersesRequest{}, fmt.Errorf("%w: query is required", ErrValidation)
	}
	if err := tooLong("query", r.Query, MaxQueryLen); err != nil {
		return SearchVersesRequest{}, err
	}
	if r.Limit <= 0 {
		r.Limit = 10
	}
	if r.Limit > 50 {
		r.Limit = 50
	}
	return r, nil
}

// ImportVersesRequest is the request body for POST /v1/admin/verses.
type ImportVersesRequest struct {
	Verses []VerseInput `json:"verses"`
}

// Validate checks that a verse has a book, positive coordinates and text.
func (v VerseInput) Validate() error {
	if strings.TrimSpace(v.Book) == "" || v.Chapter <= 0 || v.Verse <= 0 || strings.TrimSpace(v.Text) == "" {
		return fmt.Errorf("%w: verse requires book, positive chapter and verse, and text", ErrValidation)
	}
	return nil
}
