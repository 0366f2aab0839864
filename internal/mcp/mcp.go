// Package mcp implements the Model Context Protocol server for Solace.
//
// The MCP server exposes a read-mostly slice of the HTTP API as MCP tools,
// resources and prompts so that MCP-compatible assistants can search the
// verse corpus and work through a user's problems and reading plans. Every
// call runs as the user whose bearer token authenticated the /mcp request.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/solacehq/solace/internal/ctxutil"
	"github.com/solacehq/solace/internal/model"
)

// Problems is the owner-scoped subset of the problem service used over MCP.
type Problems interface {
	GetProblem(ctx context.Context, userID, problemID uuid.UUID) (model.Problem, error)
	ListProblems(ctx context.Context, userID uuid.UUID, limit, offset int) ([]model.Problem, error)
	UpdatePlanItem(ctx context.Context, userID, planID uuid.UUID, req model.UpdatePlanItemRequest) (model.ReadingPlanItem, error)
}

// Retriever finds verses relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, limit int) (model.RetrievalResult, error)
}

// VerseBrowser lists verses in canonical order.
type VerseBrowser interface {
	BrowseVerses(ctx context.Context, book string, chapter *int, limit int) ([]model.Verse, error)
}

// Server wraps the MCP server with Solace's service layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	problems  Problems
	retriever Retriever
	verses    VerseBrowser
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources, tools and prompts.
func New(problems Problems, retriever Retriever, verses VerseBrowser, logger *slog.Logger, version string) *Server {
	s := &Server{
		problems:  problems,
		retriever: retriever,
		verses:    verses,
		logger:    logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"solace",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
		mcpserver.WithInstructions(`Solace pairs personal struggles with scripture.

Use solace_search_verses to find verses for a situation and
solace_browse_chapter to read them in context. A user's own problems,
the advice written for them and their reading plans are available through
solace_list_problems and solace_get_problem. Mark verses as read with
solace_mark_read once the user has gone through them.`),
	)

	s.registerResources()
	s.registerTools()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// callerID returns the authenticated user for an MCP call. The HTTP auth
// middleware runs before the MCP transport, so a missing identity means the
// server was mounted without it.
func callerID(ctx context.Context) (uuid.UUID, error) {
	id := ctxutil.UserIDFromContext(ctx)
	if id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("mcp: %w: no authenticated user", model.ErrUnauthorized)
	}
	return id, nil
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal result: %w", err)
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
