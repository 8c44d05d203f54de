package llm

import (
	"context"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkg/errors"
)

const (
	defaultAnthropicBaseURL   = "https://api.anthropic.com"
	defaultAnthropicMaxTokens = 1024
)

type AnthropicConfig struct {
	BaseURL    string
	Token      string
	Model      string
	MaxTokens  int
	HTTPClient *http.Client
}

type AnthropicClient struct {
	client    anthropic.Client
	model     string
	maxTokens int
}

func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("anthropic token is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, errors.New("anthropic model is required")
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	client := anthropic.NewClient(
		option.WithAPIKey(token),
		option.WithBaseURL(anthropicBaseURL(baseURL)),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	)
	return &AnthropicClient{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

func (c *AnthropicClient) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return ChatResponse{}, err
	}
	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return ChatResponse{}, errors.Wrap(err, "anthropic request")
	}
	var content strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			content.WriteString(tb.Text)
		}
	}
	return ChatResponse{
		Content:      content.String(),
		Model:        string(msg.Model),
		FinishReason: string(msg.StopReason),
	}, nil
}

func (c *AnthropicClient) ChatStream(ctx context.Context, req ChatRequest, handle StreamHandler) (ChatResponse, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return ChatResponse{}, err
	}
	stream := c.client.Messages.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	var content strings.Builder
	var finishReason string
	var model string
	partial := func() ChatResponse {
		return ChatResponse{Content: content.String(), Model: model, FinishReason: finishReason}
	}

	for stream.Next() {
		switch event := stream.Current().AsAny().(type) {
		case anthropic.MessageStartEvent:
			model = string(event.Message.Model)
		case anthropic.MessageDeltaEvent:
			if sr := string(event.Delta.StopReason); sr != "" {
				finishReason = sr
			}
		case anthropic.ContentBlockDeltaEvent:
			td, ok := event.Delta.AsAny().(anthropic.TextDelta)
			if !ok || td.Text == "" {
				continue
			}
			content.WriteString(td.Text)
			if handle != nil {
				if err := handle(td.Text); err != nil {
					return partial(), err
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return partial(), errors.Wrap(err, "read anthropic stream")
	}
	return partial(), nil
}

func (c *AnthropicClient) buildParams(req ChatRequest) (anthropic.MessageNewParams, error) {
	rest, system := splitSystem(req.Messages)
	if len(rest) == 0 {
		return anthropic.MessageNewParams{}, errors.New("at least one user or assistant message is required")
	}
	messages := make([]anthropic.MessageParam, 0, len(rest))
	for _, msg := range rest {
		switch strings.ToLower(strings.TrimSpace(msg.Role)) {
		case "user":
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case "assistant":
			// Empty text blocks are rejected upstream; a failed turn may be stored empty.
			if strings.TrimSpace(msg.Content) == "" {
				continue
			}
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			return anthropic.MessageNewParams{}, errors.Errorf("unsupported role: %s", msg.Role)
		}
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(resolveModel(req.Model, c.model)),
		MaxTokens: int64(c.maxTokens),
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return params, nil
}

// anthropicBaseURL strips a trailing /v1 since the SDK adds it per request.
func anthropicBaseURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	base = strings.TrimSuffix(base, "/v1")
	return base + "/"
}
