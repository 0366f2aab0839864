package advice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// OllamaGenerator completes prompts with a local Ollama chat model.
type OllamaGenerator struct {
	client *api.Client
	model  string
}

// NewOllamaGenerator creates a generator talking to the Ollama server at baseURL.
func NewOllamaGenerator(baseURL, model string) (*OllamaGenerator, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("ollama: invalid base URL: %w", err)
	}
	return &OllamaGenerator{client: api.NewClient(u, http.DefaultClient), model: model}, nil
}

// Complete runs one non-streaming chat turn.
func (g *OllamaGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	req := &api.ChatRequest{
		Model:    g.model,
		Messages: []api.Message{{Role: "user", Content: prompt}},
		Stream:   new(bool),
		Options: map[string]any{
			"temperature": Temperature,
			"num_predict": MaxTokens,
		},
	}
	var out strings.Builder
	err := g.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		out.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama: chat: %w", err)
	}
	if out.Len() == 0 {
		return "", errors.New("ollama: empty completion")
	}
	return out.String(), nil
}
