package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/solacehq/solace/internal/model"
)

// PlanExistsForProblem reports whether the problem already has a reading plan.
func (db *DB) PlanExistsForProblem(ctx context.Context, problemID uuid.UUID) (bool, error) {
	var exists bool
	if err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM reading_plans WHERE problem_id = $1)`, problemID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("storage: check plan exists: %w", err)
	}
	return exists, nil
}

// InsertPlan creates the plan row for a problem. A second plan for the same
// problem fails with ErrConflict.
func (db *DB) InsertPlan(ctx context.Context, problemID uuid.UUID) (model.ReadingPlan, error) {
	var plan model.ReadingPlan
	err := db.pool.QueryRow(ctx,
		`INSERT INTO reading_plans (problem_id) VALUES ($1)
		 RETURNING id, problem_id, created_at, updated_at`, problemID,
	).Scan(&plan.ID, &plan.ProblemID, &plan.CreatedAt, &plan.UpdatedAt)
	if err != nil {
		switch pgCode(err) {
		case codeUniqueViolation:
			return model.ReadingPlan{}, fmt.Errorf("%w: reading plan already exists for problem %s", ErrConflict, problemID)
		case codeForeignKeyViolation:
			return model.ReadingPlan{}, ErrNotFound
		}
		return model.ReadingPlan{}, fmt.Errorf("storage: insert plan: %w", err)
	}
	return plan, nil
}

// InsertPlanItems inserts all items for a plan in one statement. Item order
// follows the slice, starting at 1. Either every item is written or none is.
func (db *DB) InsertPlanItems(ctx context.Context, planID uuid.UUID, verseIDs []uuid.UUID) ([]model.ReadingPlanItem, error) {
	rows, err := db.pool.Query(ctx,
		`INSERT INTO reading_plan_items (reading_plan_id, verse_id, item_order)
		 SELECT $1, t.verse_id, t.ord
		 FROM unnest($2::uuid[]) WITH ORDINALITY AS t(verse_id, ord)
		 RETURNING id, reading_plan_id, verse_id, item_order, is_read, updated_at`,
		planID, verseIDs,
	)
	if err != nil {
		return nil, planItemsError(err)
	}
	defer rows.Close()

	var items []model.ReadingPlanItem
	for rows.Next() {
		var it model.ReadingPlanItem
		if err := rows.Scan(&it.ID, &it.ReadingPlanID, &it.VerseID, &it.ItemOrder, &it.IsRead, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan plan item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, planItemsError(err)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ItemOrder < items[j].ItemOrder })
	return items, nil
}

func planItemsError(err error) error {
	if pgCode(err) == codeForeignKeyViolation {
		return fmt.Errorf("storage: insert plan items: %w: unknown verse id", model.ErrValidation)
	}
	return fmt.Errorf("storage: insert plan items: %w", err)
}

// DeletePlan removes a plan and, by cascade, its items.
func (db *DB) DeletePlan(ctx context.Context, planID uuid.UUID) error {
	if _, err := db.pool.Exec(ctx, `DELETE FROM reading_plans WHERE id = $1`, planID); err != nil {
		return fmt.Errorf("storage: delete plan: %w", err)
	}
	return nil
}

// GetPlan returns a plan with its items and verses if the plan's problem is
// owned by userID.
func (db *DB) GetPlan(ctx context.Context, userID, planID uuid.UUID) (model.ReadingPlan, error) {
	var plan model.ReadingPlan
	err := db.pool.QueryRow(ctx,
		`SELECT rp.id, rp.problem_id, rp.created_at, rp.updated_at
		 FROM reading_plans rp
		 JOIN problems pr ON pr.id = rp.problem_id
		 WHERE rp.id = $1 AND pr.user_id = $2`, planID, userID,
	).Scan(&plan.ID, &plan.ProblemID, &plan.CreatedAt, &plan.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ReadingPlan{}, ErrNotFound
		}
		return model.ReadingPlan{}, fmt.Errorf("storage: get plan: %w", err)
	}
	items, err := db.planItemsWithVerses(ctx, plan.ID)
	if err != nil {
		return model.ReadingPlan{}, err
	}
	plan.Items = items
	return plan, nil
}

// UpdatePlanItem sets is_read on one item. The update only matches when the
// item belongs to planID and the plan's problem is owned by userID, so a
// foreign or missing item yields ErrNotFound. Repeating the same update is a
// no-op that returns the same item.
func (db *DB) UpdatePlanItem(ctx context.Context, userID, planID, itemID uuid.UUID, isRead bool) (model.ReadingPlanItem, error) {
	var it model.ReadingPlanItem
	err := db.retryWrite(ctx, "update plan item", func() error {
		return db.pool.QueryRow(ctx,
			`UPDATE reading_plan_items i
			 SET is_read = $4, updated_at = now()
			 FROM reading_plans rp
			 JOIN problems pr ON pr.id = rp.problem_id
			 WHERE i.id = $1
			   AND i.reading_plan_id = $2
			   AND rp.id = i.reading_plan_id
			   AND pr.user_id = $3
			 RETURNING i.id, i.reading_plan_id, i.verse_id, i.item_order, i.is_read, i.updated_at`,
			itemID, planID, userID, isRead,
		).Scan(&it.ID, &it.ReadingPlanID, &it.VerseID, &it.ItemOrder, &it.IsRead, &it.UpdatedAt)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ReadingPlanItem{}, ErrNotFound
		}
		return model.ReadingPlanItem{}, fmt.Errorf("storage: update plan item: %w", err)
	}

	var v model.Verse
	err = db.pool.QueryRow(ctx,
		`SELECT id, book, chapter, verse, text FROM verses WHERE id = $1`, it.VerseID,
	).Scan(&v.ID, &v.Book, &v.Chapter, &v.Verse, &v.Text)
	if err != nil {
		return model.ReadingPlanItem{}, fmt.Errorf("storage: load item verse: %w", err)
	}
	it.Verse = &v
	return it, nil
}

func (db *DB) planItemsWithVerses(ctx context.Context, planID uuid.UUID) ([]model.ReadingPlanItem, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT i.id, i.reading_plan_id, i.verse_id, i.item_order, i.is_read, i.updated_at,
		        v.id, v.book, v.chapter, v.verse, v.text
		 FROM reading_plan_items i
		 JOIN verses v ON v.id = i.verse_id
		 WHERE i.reading_plan_id = $1
		 ORDER BY i.item_order`, planID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get plan items: %w", err)
	}
	defer rows.Close()

	items := []model.ReadingPlanItem{}
	for rows.Next() {
		var it model.ReadingPlanItem
		var v model.Verse
		if err := rows.Scan(&it.ID, &it.ReadingPlanID, &it.VerseID, &it.ItemOrder, &it.IsRead, &it.UpdatedAt,
			&v.ID, &v.Book, &v.Chapter, &v.Verse, &v.Text); err != nil {
			return nil, fmt.Errorf("storage: scan plan item: %w", err)
		}
		it.Verse = &v
		items = append(items, it)
	}
	return items, rows.Err()
}
