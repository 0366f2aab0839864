package mcp

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/solacehq/solace/internal/service/advice"
)

func (s *Server) registerPrompts() {
	// find-comfort: walks the assistant through searching for verses.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("find-comfort",
			mcplib.WithPromptDescription("Find verses for a situation and reflect on them with the user"),
			mcplib.WithArgument("situation",
				mcplib.ArgumentDescription("What the user is going through, in their own words"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleFindComfortPrompt,
	)

	// reflect-on-problem: the counselling prompt for a stored problem,
	// grounded in the verses of its reading plan.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("reflect-on-problem",
			mcplib.WithPromptDescription("Counselling prompt for one of the user's problems, grounded in its reading plan"),
			mcplib.WithArgument("problem_id",
				mcplib.ArgumentDescription("Problem UUID"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleReflectPrompt,
	)
}

func (s *Server) handleFindComfortPrompt(_ context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	situation := request.Params.Arguments["situation"]
	if situation == "" {
		return nil, fmt.Errorf("situation argument is required")
	}

	return &mcplib.GetPromptResult{
		Description: "Find verses for the user's situation",
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`The user shared this: %q

1. CALL solace_search_verses with the user's words as the query.
2. If the tier is "none", ask the user to say a little more and search again.
3. For the most relevant verse, CALL solace_browse_chapter to read it in context.
4. Reply with two or three verses and a short, gentle reflection on how they
   speak to the situation. Offer hope rather than judgement.`, situation),
				},
			},
		},
	}, nil
}

func (s *Server) handleReflectPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	problemID, err := uuid.Parse(request.Params.Arguments["problem_id"])
	if err != nil {
		return nil, fmt.Errorf("problem_id argument must be a valid UUID")
	}

	p, err := s.problems.GetProblem(ctx, userID, problemID)
	if err != nil {
		return nil, fmt.Errorf("mcp: reflect prompt: %w", err)
	}

	var verseTexts []string
	if p.ReadingPlan != nil {
		for _, item := range p.ReadingPlan.Items {
			if item.Verse != nil {
				verseTexts = append(verseTexts, item.Verse.Reference()+" "+item.Verse.Text)
			}
		}
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Reflect on %q", p.Title),
		Messages: []mcplib.PromptMessage{
			{
				Role:    mcplib.RoleUser,
				Content: mcplib.TextContent{Type: "text", Text: advice.BuildPrompt(p.Description, verseTexts)},
			},
		},
	}, nil
}
