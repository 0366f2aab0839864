package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const (
	recentProblemsURI = "solace://problems/recent"
	problemURIPrefix  = "solace://problems/"
)

func (s *Server) registerResources() {
	// solace://problems/recent: the caller's most recent problems.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			recentProblemsURI,
			"Recent Problems",
			mcplib.WithResourceDescription("The user's ten most recent problems with their advice"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleRecentProblems,
	)

	// solace://problems/{id}: one problem with its reading plan.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			problemURIPrefix+"{id}",
			"Problem",
			mcplib.WithTemplateDescription("A single problem with its advice and reading plan"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleProblemResource,
	)
}

func (s *Server) handleRecentProblems(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	problems, err := s.problems.ListProblems(ctx, userID, 10, 0)
	if err != nil {
		return nil, fmt.Errorf("mcp: recent problems: %w", err)
	}
	return jsonResource(request.Params.URI, problems)
}

func (s *Server) handleProblemResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	uri := request.Params.URI
	problemID, err := parseProblemURI(uri)
	if err != nil {
		return nil, err
	}
	p, err := s.problems.GetProblem(ctx, userID, problemID)
	if err != nil {
		return nil, fmt.Errorf("mcp: problem resource: %w", err)
	}
	return jsonResource(uri, p)
}

// parseProblemURI extracts the problem id from "solace://problems/{id}".
func parseProblemURI(uri string) (uuid.UUID, error) {
	raw, ok := strings.CutPrefix(uri, problemURIPrefix)
	if !ok || raw == "" || strings.Contains(raw, "/") {
		return uuid.Nil, fmt.Errorf("mcp: invalid problem URI: %s", uri)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("mcp: invalid problem id in URI: %s", raw)
	}
	return id, nil
}

func jsonResource(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal resource: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
