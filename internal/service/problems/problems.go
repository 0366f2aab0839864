// Package problems orchestrates the problem lifecycle: submission, verse
// retrieval, advice generation, reading plan creation and the owner-scoped
// reads and writes that follow.
package problems

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/solacehq/solace/internal/model"
	"github.com/solacehq/solace/internal/service/advice"
	"github.com/solacehq/solace/internal/telemetry"
)

// Store is the row-level persistence for problems and feedback. Every method
// taking a userID only matches rows owned by that user.
type Store interface {
	CreateProblem(ctx context.Context, p model.Problem) (model.Problem, error)
	GetProblem(ctx context.Context, userID, id uuid.UUID) (model.Problem, error)
	GetProblemWithPlan(ctx context.Context, userID, id uuid.UUID) (model.Problem, error)
	ListProblems(ctx context.Context, userID uuid.UUID, limit, offset int) ([]model.Problem, error)
	UpdateProblemAdvice(ctx context.Context, userID, id uuid.UUID, advice string) error
	DeleteProblem(ctx context.Context, userID, id uuid.UUID) error
	UpsertFeedback(ctx context.Context, f model.AdviceFeedback) (model.AdviceFeedback, error)
}

// Retriever finds verses relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, limit int) (model.RetrievalResult, error)
}

// Synthesizer generates advice grounded in verse texts.
type Synthesizer interface {
	Synthesize(ctx context.Context, problemText string, verseTexts []string) (string, error)
}

// PlanBuilder creates and updates reading plans.
type PlanBuilder interface {
	CreatePlan(ctx context.Context, problemID uuid.UUID, verseIDs []uuid.UUID) (model.ReadingPlan, error)
	GetPlan(ctx context.Context, userID, planID uuid.UUID) (model.ReadingPlan, error)
	UpdateItem(ctx context.Context, userID, planID, itemID uuid.UUID, isRead bool) (model.ReadingPlanItem, error)
}

// adviceRetrievalLimit is how many verses ground a problem's advice and plan.
const adviceRetrievalLimit = 5

type stage string

const (
	stageInsert        stage = "insert"
	stageRetrieve      stage = "retrieve"
	stageSynthesize    stage = "synthesize"
	stagePersistAdvice stage = "persist_advice"
	stageCreatePlan    stage = "create_plan"
	stageReload        stage = "reload"
)

// policy says what a failed stage does to the operation: absorbed failures
// are logged at level and the operation carries on degraded.
type policy struct {
	absorb bool
	level  slog.Level
}

var propagate = policy{}

// stagePolicy is the degrade policy for each operation, by stage.
var stagePolicy = map[string]map[stage]policy{
	"create": {
		stageInsert:        propagate,
		stageRetrieve:      {absorb: true, level: slog.LevelWarn},
		stageSynthesize:    {absorb: true, level: slog.LevelWarn},
		stagePersistAdvice: {absorb: true, level: slog.LevelError},
		stageCreatePlan:    {absorb: true, level: slog.LevelError},
		stageReload:        propagate,
	},
	"regenerate": {
		stageRetrieve:      {absorb: true, level: slog.LevelWarn},
		stageSynthesize:    propagate,
		stagePersistAdvice: propagate,
		stageReload:        propagate,
	},
}

// Orchestrator runs problem operations on behalf of an authenticated user.
type Orchestrator struct {
	store     Store
	retriever Retriever
	advisor   Synthesizer
	plans     PlanBuilder
	logger    *slog.Logger

	degraded metric.Int64Counter
}

// New creates an Orchestrator.
func New(store Store, retriever Retriever, advisor Synthesizer, plans PlanBuilder, logger *slog.Logger) *Orchestrator {
	degraded, _ := telemetry.Meter("solace/problems").Int64Counter("solace.problems.degraded",
		metric.WithDescription("Absorbed stage failures by operation and stage"),
	)
	return &Orchestrator{
		store:     store,
		retriever: retriever,
		advisor:   advisor,
		plans:     plans,
		logger:    logger,
		degraded:  degraded,
	}
}

// handle applies the stage policy of op to err. It returns nil when the
// failure is absorbed and the wrapped error when it propagates.
func (o *Orchestrator) handle(ctx context.Context, op string, s stage, problemID uuid.UUID, err error) error {
	if err == nil {
		return nil
	}
	p := stagePolicy[op][s]
	if !p.absorb {
		return fmt.Errorf("problems: %s: %s: %w", op, s, err)
	}
	o.logger.Log(ctx, p.level, "problems: stage failed, continuing",
		"operation", op, "stage", string(s), "problem_id", problemID, "error", err)
	o.degraded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("stage", string(s)),
	))
	return nil
}

// CreateProblem stores a new problem and, as far as the providers allow,
// gives it advice and a reading plan. Only validation, the initial insert
// and the final reload can fail the call; retrieval, generation and the
// follow-up writes degrade per stagePolicy.
func (o *Orchestrator) CreateProblem(ctx context.Context, userID uuid.UUID, req model.CreateProblemRequest) (model.Problem, error) {
	const op = "create"
	req, err := req.Normalize()
	if err != nil {
		return model.Problem{}, fmt.Errorf("problems: %w", err)
	}

	p, err := o.store.CreateProblem(ctx, model.Problem{
		UserID:      userID,
		Title:       req.Title,
		Description: req.Description,
		Context:     req.Context,
		Category:    req.Category,
	})
	if err := o.handle(ctx, op, stageInsert, uuid.Nil, err); err != nil {
		return model.Problem{}, err
	}

	result, err := o.retriever.Retrieve(ctx, p.Description, adviceRetrievalLimit)
	_ = o.handle(ctx, op, stageRetrieve, p.ID, err)

	text := advice.NoVersesMessage
	if len(result.Verses) > 0 {
		generated, err := o.advisor.Synthesize(ctx, p.Description, result.Texts())
		if err != nil {
			_ = o.handle(ctx, op, stageSynthesize, p.ID, err)
			generated = advice.UnavailableMessage
		}
		text = generated
	}

	err = o.store.UpdateProblemAdvice(ctx, userID, p.ID, text)
	_ = o.handle(ctx, op, stagePersistAdvice, p.ID, err)

	if len(result.Verses) > 0 {
		_, err = o.plans.CreatePlan(ctx, p.ID, result.VerseIDs())
		_ = o.handle(ctx, op, stageCreatePlan, p.ID, err)
	}

	full, err := o.store.GetProblemWithPlan(ctx, userID, p.ID)
	if err := o.handle(ctx, op, stageReload, p.ID, err); err != nil {
		return model.Problem{}, err
	}
	o.logger.Info("problems: created", "problem_id", p.ID, "verses", len(result.Verses), "tier", result.Tier)
	return full, nil
}

// RegenerateAdvice replaces the advice of an owned problem with a fresh
// generation. Unlike CreateProblem, a generation failure is returned to the
// caller (model.ErrUpstream) and the stored advice is left unchanged. The
// reading plan is never touched.
func (o *Orchestrator) RegenerateAdvice(ctx context.Context, userID, problemID uuid.UUID) (model.Problem, error) {
	const op = "regenerate"
	p, err := o.store.GetProblem(ctx, userID, problemID)
	if err != nil {
		return model.Problem{}, fmt.Errorf("problems: %s: %w", op, err)
	}

	result, err := o.retriever.Retrieve(ctx, p.Description, adviceRetrievalLimit)
	_ = o.handle(ctx, op, stageRetrieve, p.ID, err)

	text := advice.NoVersesMessage
	if len(result.Verses) > 0 {
		text, err = o.advisor.Synthesize(ctx, p.Description, result.Texts())
		if err := o.handle(ctx, op, stageSynthesize, p.ID, err); err != nil {
			if !errors.Is(err, model.ErrUpstream) {
				err = fmt.Errorf("%w: %w", model.ErrUpstream, err)
			}
			return model.Problem{}, err
		}
	}

	err = o.store.UpdateProblemAdvice(ctx, userID, p.ID, text)
	if err := o.handle(ctx, op, stagePersistAdvice, p.ID, err); err != nil {
		return model.Problem{}, err
	}

	full, err := o.store.GetProblemWithPlan(ctx, userID, p.ID)
	if err := o.handle(ctx, op, stageReload, p.ID, err); err != nil {
		return model.Problem{}, err
	}
	return full, nil
}

// GetProblem returns an owned problem joined with its reading plan.
func (o *Orchestrator) GetProblem(ctx context.Context, userID, problemID uuid.UUID) (model.Problem, error) {
	p, err := o.store.GetProblemWithPlan(ctx, userID, problemID)
	if err != nil {
		return model.Problem{}, fmt.Errorf("problems: get: %w", err)
	}
	return p, nil
}

// ListProblems returns the user's problems, newest first.
func (o *Orchestrator) ListProblems(ctx context.Context, userID uuid.UUID, limit, offset int) ([]model.Problem, error) {
	ps, err := o.store.ListProblems(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("problems: list: %w", err)
	}
	if ps == nil {
		ps = []model.Problem{}
	}
	return ps, nil
}

// DeleteProblem removes an owned problem together with its plan and feedback.
func (o *Orchestrator) DeleteProblem(ctx context.Context, userID, problemID uuid.UUID) error {
	if err := o.store.DeleteProblem(ctx, userID, problemID); err != nil {
		return fmt.Errorf("problems: delete: %w", err)
	}
	o.logger.Info("problems: deleted", "problem_id", problemID)
	return nil
}

// SubmitFeedback records the user's rating of a problem's advice. A second
// submission for the same problem replaces the first.
func (o *Orchestrator) SubmitFeedback(ctx context.Context, userID uuid.UUID, req model.FeedbackRequest) (model.AdviceFeedback, error) {
	req, err := req.Normalize()
	if err != nil {
		return model.AdviceFeedback{}, fmt.Errorf("problems: %w", err)
	}
	f, err := o.store.UpsertFeedback(ctx, model.AdviceFeedback{
		ProblemID:    req.ProblemID,
		UserID:       userID,
		Rating:       req.Rating,
		FeedbackText: req.FeedbackText,
		IsHelpful:    req.IsHelpful,
	})
	if err != nil {
		return model.AdviceFeedback{}, fmt.Errorf("problems: feedback: %w", err)
	}
	return f, nil
}

// CreatePlan creates a reading plan for an owned problem and returns it with verses.
func (o *Orchestrator) CreatePlan(ctx context.Context, userID uuid.UUID, req model.CreatePlanRequest) (model.ReadingPlan, error) {
	if req.ProblemID == uuid.Nil || len(req.VerseIDs) == 0 {
		return model.ReadingPlan{}, fmt.Errorf("problems: %w: problem_id and verse_ids are required", model.ErrValidation)
	}
	if _, err := o.store.GetProblem(ctx, userID, req.ProblemID); err != nil {
		return model.ReadingPlan{}, fmt.Errorf("problems: create plan: %w", err)
	}
	plan, err := o.plans.CreatePlan(ctx, req.ProblemID, req.VerseIDs)
	if err != nil {
		return model.ReadingPlan{}, fmt.Errorf("problems: create plan: %w", err)
	}
	return o.GetPlan(ctx, userID, plan.ID)
}

// GetPlan returns a plan whose problem the user owns.
func (o *Orchestrator) GetPlan(ctx context.Context, userID, planID uuid.UUID) (model.ReadingPlan, error) {
	plan, err := o.plans.GetPlan(ctx, userID, planID)
	if err != nil {
		return model.ReadingPlan{}, fmt.Errorf("problems: get plan: %w", err)
	}
	return plan, nil
}

// UpdatePlanItem marks one item of an owned plan as read or unread.
func (o *Orchestrator) UpdatePlanItem(ctx context.Context, userID, planID uuid.UUID, req model.UpdatePlanItemRequest) (model.ReadingPlanItem, error) {
	if req.ItemID == uuid.Nil || req.IsRead == nil {
		return model.ReadingPlanItem{}, fmt.Errorf("problems: %w: item_id and is_read are required", model.ErrValidation)
	}
	item, err := o.plans.UpdateItem(ctx, userID, planID, req.ItemID, *req.IsRead)
	if err != nil {
		return model.ReadingPlanItem{}, fmt.Errorf("problems: update plan item: %w", err)
	}
	return item, nil
}
