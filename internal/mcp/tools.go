package mcp

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/solacehq/solace/internal/model"
)

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 50
	defaultListLimit   = 10
	maxListLimit       = 100
	maxChapterVerses   = 200
)

func (s *Server) registerTools() {
	// solace_search_verses: retrieve verses for a situation.
	s.mcpServer.AddTool(
		mcplib.NewTool("solace_search_verses",
			mcplib.WithDescription(`Find verses that speak to a situation or feeling.

The query is matched by meaning first. When no verse is close enough the
search falls back to keyword matching, and the "tier" field in the response
says which one produced the results ("semantic", "lexical" or "none").

EXAMPLE: query="I feel anxious about losing my job"`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("query",
				mcplib.Description("Natural language description of the situation"),
				mcplib.Required(),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum number of verses to return"),
				mcplib.Min(1),
				mcplib.Max(maxSearchLimit),
				mcplib.DefaultNumber(defaultSearchLimit),
			),
		),
		s.handleSearchVerses,
	)

	// solace_browse_chapter: read a chapter in order.
	s.mcpServer.AddTool(
		mcplib.NewTool("solace_browse_chapter",
			mcplib.WithDescription("Read the verses of one chapter in canonical order. Useful for reading a retrieved verse in context."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("book", mcplib.Description("Book name, e.g. Psalms"), mcplib.Required()),
			mcplib.WithNumber("chapter", mcplib.Description("Chapter number"), mcplib.Required(), mcplib.Min(1)),
		),
		s.handleBrowseChapter,
	)

	// solace_list_problems: the caller's problems, newest first.
	s.mcpServer.AddTool(
		mcplib.NewTool("solace_list_problems",
			mcplib.WithDescription("List the problems the user has shared, newest first."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum number of problems to return"),
				mcplib.Min(1),
				mcplib.Max(maxListLimit),
				mcplib.DefaultNumber(defaultListLimit),
			),
		),
		s.handleListProblems,
	)

	// solace_get_problem: one problem with advice and reading plan.
	s.mcpServer.AddTool(
		mcplib.NewTool("solace_get_problem",
			mcplib.WithDescription("Get one of the user's problems with its advice and reading plan."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("problem_id", mcplib.Description("Problem UUID"), mcplib.Required()),
		),
		s.handleGetProblem,
	)

	// solace_mark_read: update read progress on a plan item.
	s.mcpServer.AddTool(
		mcplib.NewTool("solace_mark_read",
			mcplib.WithDescription("Mark a verse in the user's reading plan as read or unread."),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("plan_id", mcplib.Description("Reading plan UUID"), mcplib.Required()),
			mcplib.WithString("item_id", mcplib.Description("Reading plan item UUID"), mcplib.Required()),
			mcplib.WithBoolean("is_read", mcplib.Description("Read state to set"), mcplib.DefaultBool(true)),
		),
		s.handleMarkRead,
	)
}

func (s *Server) handleSearchVerses(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if _, err := callerID(ctx); err != nil {
		return errorResult("authentication required"), nil
	}

	query := model.CleanText(request.GetString("query", ""))
	if query == "" {
		return errorResult("query is required"), nil
	}
	limit := min(max(request.GetInt("limit", defaultSearchLimit), 1), maxSearchLimit)

	res, err := s.retriever.Retrieve(ctx, query, limit)
	if err != nil {
		return s.toolError("solace_search_verses", err), nil
	}
	return jsonResult(model.VerseSearchResponse{
		Verses: res.Verses,
		Tier:   res.Tier,
		Query:  query,
	})
}

func (s *Server) handleBrowseChapter(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if _, err := callerID(ctx); err != nil {
		return errorResult("authentication required"), nil
	}

	book := strings.TrimSpace(request.GetString("book", ""))
	if book == "" {
		return errorResult("book is required"), nil
	}
	chapter := request.GetInt("chapter", 0)
	if chapter < 1 {
		return errorResult("chapter must be a positive number"), nil
	}

	verses, err := s.verses.BrowseVerses(ctx, book, &chapter, maxChapterVerses)
	if err != nil {
		return s.toolError("solace_browse_chapter", err), nil
	}
	if len(verses) == 0 {
		return errorResult("no verses found for " + book), nil
	}
	return jsonResult(verses)
}

func (s *Server) handleListProblems(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return errorResult("authentication required"), nil
	}

	limit := min(max(request.GetInt("limit", defaultListLimit), 1), maxListLimit)
	problems, err := s.problems.ListProblems(ctx, userID, limit, 0)
	if err != nil {
		return s.toolError("solace_list_problems", err), nil
	}
	if problems == nil {
		problems = []model.Problem{}
	}
	return jsonResult(map[string]any{
		"problems": problems,
		"count":    len(problems),
	})
}

func (s *Server) handleGetProblem(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return errorResult("authentication required"), nil
	}

	problemID, err := uuid.Parse(request.GetString("problem_id", ""))
	if err != nil {
		return errorResult("problem_id must be a valid UUID"), nil
	}

	p, err := s.problems.GetProblem(ctx, userID, problemID)
	if err != nil {
		return s.toolError("solace_get_problem", err), nil
	}
	return jsonResult(p)
}

func (s *Server) handleMarkRead(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return errorResult("authentication required"), nil
	}

	planID, err := uuid.Parse(request.GetString("plan_id", ""))
	if err != nil {
		return errorResult("plan_id must be a valid UUID"), nil
	}
	itemID, err := uuid.Parse(request.GetString("item_id", ""))
	if err != nil {
		return errorResult("item_id must be a valid UUID"), nil
	}
	isRead := request.GetBool("is_read", true)

	item, err := s.problems.UpdatePlanItem(ctx, userID, planID, model.UpdatePlanItemRequest{
		ItemID: itemID,
		IsRead: &isRead,
	})
	if err != nil {
		return s.toolError("solace_mark_read", err), nil
	}
	return jsonResult(item)
}

// toolError turns a service error into a tool error result. Caller-facing
// failures keep their message; anything else is logged and reported
// generically.
func (s *Server) toolError(tool string, err error) *mcplib.CallToolResult {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return errorResult("not found")
	case errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrConflict):
		return errorResult(err.Error())
	case errors.Is(err, model.ErrUpstream):
		return errorResult("advice provider unavailable")
	default:
		s.logger.Error("mcp tool failed", "tool", tool, "error", err)
		return errorResult("internal error")
	}
}
