// Package readingplan creates reading plans and records progress through them.
package readingplan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/solacehq/solace/internal/model"
)

// Store is the row-level persistence the Builder needs.
type Store interface {
	PlanExistsForProblem(ctx context.Context, problemID uuid.UUID) (bool, error)
	InsertPlan(ctx context.Context, problemID uuid.UUID) (model.ReadingPlan, error)
	InsertPlanItems(ctx context.Context, planID uuid.UUID, verseIDs []uuid.UUID) ([]model.ReadingPlanItem, error)
	DeletePlan(ctx context.Context, planID uuid.UUID) error
	GetPlan(ctx context.Context, userID, planID uuid.UUID) (model.ReadingPlan, error)
	UpdatePlanItem(ctx context.Context, userID, planID, itemID uuid.UUID, isRead bool) (model.ReadingPlanItem, error)
}

// rollbackTimeout bounds the compensating delete after a failed item insert.
const rollbackTimeout = 5 * time.Second

// Builder creates plans and updates plan items.
type Builder struct {
	store  Store
	logger *slog.Logger
}

// New creates a Builder.
func New(store Store, logger *slog.Logger) *Builder {
	return &Builder{store: store, logger: logger}
}

// CreatePlan creates a plan for problemID with one unread item per verse, in
// the given order starting at 1. The caller is responsible for checking that
// the acting user owns the problem.
//
// A problem that already has a plan yields model.ErrConflict. If the items
// cannot be written the plan row is deleted again and the item error is
// returned, so no plan is ever left without items.
func (b *Builder) CreatePlan(ctx context.Context, problemID uuid.UUID, verseIDs []uuid.UUID) (model.ReadingPlan, error) {
	if len(verseIDs) == 0 {
		return model.ReadingPlan{}, fmt.Errorf("readingplan: %w: at least one verse is required", model.ErrValidation)
	}

	exists, err := b.store.PlanExistsForProblem(ctx, problemID)
	if err != nil {
		return model.ReadingPlan{}, fmt.Errorf("readingplan: %w", err)
	}
	if exists {
		return model.ReadingPlan{}, fmt.Errorf("readingplan: %w: problem %s already has a reading plan", model.ErrConflict, problemID)
	}

	// The UNIQUE constraint on problem_id settles concurrent creations; the
	// loser gets ErrConflict from InsertPlan.
	plan, err := b.store.InsertPlan(ctx, problemID)
	if err != nil {
		return model.ReadingPlan{}, fmt.Errorf("readingplan: %w", err)
	}

	items, err := b.store.InsertPlanItems(ctx, plan.ID, verseIDs)
	if err != nil {
		b.rollback(ctx, plan.ID)
		return model.ReadingPlan{}, fmt.Errorf("readingplan: %w", err)
	}
	plan.Items = items
	return plan, nil
}

func (b *Builder) rollback(ctx context.Context, planID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	if err := b.store.DeletePlan(ctx, planID); err != nil {
		b.logger.Error("readingplan: rollback of partial plan failed", "plan_id", planID, "error", err)
	}
}

// GetPlan returns the plan with ordered items and verses if its problem is owned by userID.
func (b *Builder) GetPlan(ctx context.Context, userID, planID uuid.UUID) (model.ReadingPlan, error) {
	plan, err := b.store.GetPlan(ctx, userID, planID)
	if err != nil {
		return model.ReadingPlan{}, fmt.Errorf("readingplan: %w", err)
	}
	return plan, nil
}

// UpdateItem sets the read flag of one item. Items of plans the user does
// not own are reported as model.ErrNotFound. The update is idempotent.
func (b *Builder) UpdateItem(ctx context.Context, userID, planID, itemID uuid.UUID, isRead bool) (model.ReadingPlanItem, error) {
	item, err := b.store.UpdatePlanItem(ctx, userID, planID, itemID, isRead)
	if err != nil {
		return model.ReadingPlanItem{}, fmt.Errorf("readingplan: %w", err)
	}
	return item, nil
}
