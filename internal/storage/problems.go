package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/solacehq/solace/internal/model"
)

const problemColumns = `id, user_id, title, description, context, category, advice, created_at, updated_at`

func scanProblem(row pgx.Row) (model.Problem, error) {
	var p model.Problem
	err := row.Scan(&p.ID, &p.UserID, &p.Title, &p.Description, &p.Context, &p.Category,
		&p.Advice, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// CreateProblem inserts a problem with no advice and returns the stored row.
func (db *DB) CreateProblem(ctx context.Context, p model.Problem) (model.Problem, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	stored, err := scanProblem(db.pool.QueryRow(ctx,
		`INSERT INTO problems (id, user_id, title, description, context, category)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+problemColumns,
		p.ID, p.UserID, p.Title, p.Description, p.Context, p.Category,
	))
	if err != nil {
		return model.Problem{}, fmt.Errorf("storage: create problem: %w", err)
	}
	return stored, nil
}

// GetProblem returns the bare problem row if it exists and is owned by userID.
func (db *DB) GetProblem(ctx context.Context, userID, id uuid.UUID) (model.Problem, error) {
	p, err := scanProblem(db.pool.QueryRow(ctx,
		`SELECT `+problemColumns+` FROM problems WHERE id = $1 AND user_id = $2`, id, userID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Problem{}, ErrNotFound
		}
		return model.Problem{}, fmt.Errorf("storage: get problem: %w", err)
	}
	return p, nil
}

// GetProblemWithPlan returns the problem joined with its reading plan, the
// plan's items in order, and each item's verse.
func (db *DB) GetProblemWithPlan(ctx context.Context, userID, id uuid.UUID) (model.Problem, error) {
	p, err := db.GetProblem(ctx, userID, id)
	if err != nil {
		return model.Problem{}, err
	}

	var plan model.ReadingPlan
	err = db.pool.QueryRow(ctx,
		`SELECT id, problem_id, created_at, updated_at FROM reading_plans WHERE problem_id = $1`, id,
	).Scan(&plan.ID, &plan.ProblemID, &plan.CreatedAt, &plan.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, nil
	}
	if err != nil {
		return model.Problem{}, fmt.Errorf("storage: get plan for problem: %w", err)
	}

	items, err := db.planItemsWithVerses(ctx, plan.ID)
	if err != nil {
		return model.Problem{}, err
	}
	plan.Items = items
	p.ReadingPlan = &plan
	return p, nil
}

// ListProblems returns the user's problems, newest first.
func (db *DB) ListProblems(ctx context.Context, userID uuid.UUID, limit, offset int) ([]model.Problem, error) {
	limit = clampLimit(limit, 20, 100)
	if offset < 0 {
		offset = 0
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+problemColumns+` FROM problems
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list problems: %w", err)
	}
	defer rows.Close()

	var out []model.Problem
	for rows.Next() {
		p, err := scanProblem(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan problem: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProblemAdvice overwrites the advice of an owned problem.
func (db *DB) UpdateProblemAdvice(ctx context.Context, userID, id uuid.UUID, advice string) error {
	return db.retryWrite(ctx, "update advice", func() error {
		tag, err := db.pool.Exec(ctx,
			`UPDATE problems SET advice = $3, updated_at = now() WHERE id = $1 AND user_id = $2`,
			id, userID, advice,
		)
		if err != nil {
			return fmt.Errorf("storage: update advice: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// DeleteProblem removes an owned problem. Its plan, plan items and feedback
// go with it via ON DELETE CASCADE.
func (db *DB) DeleteProblem(ctx context.Context, userID, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM problems WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("storage: delete problem: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
