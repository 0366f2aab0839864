package model

import (
	"time"

	"github.com/google/uuid"
)

// Problem is a user's submitted description of a personal struggle together
// with the advice generated for it. It is owned by exactly one user.
type Problem struct {
	ID          uuid.UUID    `json:"id"`
	UserID      uuid.UUID    `json:"user_id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Context     *string      `json:"context,omitempty"`
	Category    *string      `json:"category,omitempty"`
	Advice      *string      `json:"advice"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	ReadingPlan *ReadingPlan `json:"reading_plan,omitempty"`
}

// ReadingPlan is the ordered list of verses assigned to a problem.
// A problem has at most one plan.
type ReadingPlan struct {
	ID        uuid.UUID         `json:"id"`
	ProblemID uuid.UUID         `json:"problem_id"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Items     []ReadingPlanItem `json:"items"`
}

// ReadingPlanItem is one verse within a plan. ItemOrder is 1-based and dense.
type ReadingPlanItem struct {
	ID            uuid.UUID `json:"id"`
	ReadingPlanID uuid.UUID `json:"reading_plan_id"`
	VerseID       uuid.UUID `json:"verse_id"`
	ItemOrder     int       `json:"item_order"`
	IsRead        bool      `json:"is_read"`
	UpdatedAt     time.Time `json:"updated_at"`
	Verse         *Verse    `json:"verse,omitempty"`
}

// AdviceFeedback is a user's rating of the advice given for a problem.
// One row exists per (problem, user).
type AdviceFeedback struct {
	ID           uuid.UUID `json:"id"`
	ProblemID    uuid.UUID `json:"problem_id"`
	UserID       uuid.UUID `json:"user_id"`
	Rating       int       `json:"rating"`
	FeedbackText *string   `json:"feedback_text,omitempty"`
	IsHelpful    *bool     `json:"is_helpful,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
