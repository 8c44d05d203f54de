// Package llm adapts upstream completion providers to a single streaming
// chat interface.
package llm

import (
	"context"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"chat-relay/internal/config"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type ChatResponse struct {
	Content      string
	Model        string
	FinishReason string
}

// StreamHandler receives each text delta in arrival order.
type StreamHandler func(delta string) error

// Client is the outbound completion capability. ChatStream returns whatever
// content was accumulated even when it also returns an error.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	ChatStream(ctx context.Context, req ChatRequest, handle StreamHandler) (ChatResponse, error)
}

// New builds the client selected by cfg.Type.
func New(cfg config.LLMConfig) (Client, error) {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	var (
		client Client
		err    error
	)
	switch strings.TrimSpace(cfg.Type) {
	case "", "openai":
		client, err = NewOpenAIClient(OpenAIConfig{
			BaseURL:    cfg.URL,
			Token:      cfg.Token,
			Model:      cfg.Model,
			MaxTokens:  cfg.MaxTokens,
			HTTPClient: httpClient,
		})
	case "anthropics":
		client, err = NewAnthropicClient(AnthropicConfig{
			BaseURL:    cfg.URL,
			Token:      cfg.Token,
			Model:      cfg.Model,
			MaxTokens:  cfg.MaxTokens,
			HTTPClient: httpClient,
		})
	case "gemini":
		client, err = NewGeminiClient(context.Background(), GeminiConfig{
			BaseURL:    cfg.URL,
			Token:      cfg.Token,
			Model:      cfg.Model,
			MaxTokens:  cfg.MaxTokens,
			HTTPClient: httpClient,
		})
	default:
		return nil, errors.Errorf("unsupported llm.type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return client, nil
}

func resolveModel(override, fallback string) string {
	if strings.TrimSpace(override) == "" {
		return fallback
	}
	return override
}

// splitSystem lifts system messages out of the conversation for providers
// that take the directive as a separate parameter.
func splitSystem(messages []Message) ([]Message, string) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			if s := strings.TrimSpace(m.Content); s != "" {
				system = append(system, s)
			}
			continue
		}
		rest = append(rest, m)
	}
	return rest, strings.Join(system, "\n\n")
}
