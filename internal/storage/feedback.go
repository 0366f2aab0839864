package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/solacehq/solace/internal/model"
)

// UpsertFeedback records the user's rating of a problem's advice, replacing
// any earlier rating by the same user. The problem must be owned by the user;
// otherwise nothing is written and ErrNotFound is returned.
func (db *DB) UpsertFeedback(ctx context.Context, f model.AdviceFeedback) (model.AdviceFeedback, error) {
	var out model.AdviceFeedback
	err := db.pool.QueryRow(ctx,
		`INSERT INTO advice_feedback (problem_id, user_id, rating, feedback_text, is_helpful)
		 SELECT pr.id, pr.user_id, $3, $4, $5
		 FROM problems pr
		 WHERE pr.id = $1 AND pr.user_id = $2
		 ON CONFLICT (problem_id, user_id) DO UPDATE
		 SET rating = EXCLUDED.rating,
		     feedback_text = EXCLUDED.feedback_text,
		     is_helpful = EXCLUDED.is_helpful,
		     updated_at = now()
		 RETURNING id, problem_id, user_id, rating, feedback_text, is_helpful, created_at, updated_at`,
		f.ProblemID, f.UserID, f.Rating, f.FeedbackText, f.IsHelpful,
	).Scan(&out.ID, &out.ProblemID, &out.UserID, &out.Rating, &out.FeedbackText, &out.IsHelpful,
		&out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.AdviceFeedback{}, ErrNotFound
		}
		return model.AdviceFeedback{}, fmt.Errorf("storage: upsert feedback: %w", err)
	}
	return out, nil
}
