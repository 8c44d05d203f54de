package llm

import (
	"context"
	"iter"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"google.golang.org/genai"
)

type GeminiConfig struct {
	BaseURL    string
	Token      string
	Model      string
	MaxTokens  int
	HTTPClient *http.Client
}

// geminiModels is the slice of *genai.Models the client uses.
type geminiModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

type GeminiClient struct {
	models    geminiModels
	model     string
	maxTokens int
}

func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("gemini token is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, errors.New("gemini model is required")
	}
	clientCfg := &genai.ClientConfig{
		APIKey:     token,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, errors.Wrap(err, "create gemini client")
	}
	return newGeminiClient(client.Models, model, cfg.MaxTokens), nil
}

func newGeminiClient(models geminiModels, model string, maxTokens int) *GeminiClient {
	return &GeminiClient{models: models, model: model, maxTokens: maxTokens}
}

func (c *GeminiClient) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	model, contents, cfg, err := c.buildRequest(req)
	if err != nil {
		return ChatResponse{}, err
	}
	resp, err := c.models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return ChatResponse{}, errors.Wrap(err, "gemini request")
	}
	return ChatResponse{
		Content:      geminiText(resp),
		Model:        firstNonEmpty(resp.ModelVersion, model),
		FinishReason: geminiFinishReason(resp),
	}, nil
}

func (c *GeminiClient) ChatStream(ctx context.Context, req ChatRequest, handle StreamHandler) (ChatResponse, error) {
	model, contents, cfg, err := c.buildRequest(req)
	if err != nil {
		return ChatResponse{}, err
	}

	var content strings.Builder
	out := ChatResponse{Model: model}
	for resp, err := range c.models.GenerateContentStream(ctx, model, contents, cfg) {
		if err != nil {
			out.Content = content.String()
			return out, errors.Wrap(err, "read gemini stream")
		}
		if resp.ModelVersion != "" {
			out.Model = resp.ModelVersion
		}
		if fr := geminiFinishReason(resp); fr != "" {
			out.FinishReason = fr
		}
		delta := geminiText(resp)
		if delta == "" {
			continue
		}
		content.WriteString(delta)
		if handle != nil {
			if err := handle(delta); err != nil {
				out.Content = content.String()
				return out, err
			}
		}
	}
	out.Content = content.String()
	return out, nil
}

func (c *GeminiClient) buildRequest(req ChatRequest) (string, []*genai.Content, *genai.GenerateContentConfig, error) {
	rest, system := splitSystem(req.Messages)
	contents := make([]*genai.Content, 0, len(rest))
	for _, msg := range rest {
		role := genai.RoleUser
		switch strings.ToLower(strings.TrimSpace(msg.Role)) {
		case "user":
		case "assistant":
			if strings.TrimSpace(msg.Content) == "" {
				continue
			}
			role = genai.RoleModel
		default:
			return "", nil, nil, errors.Errorf("unsupported role: %s", msg.Role)
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}
	if len(contents) == 0 {
		return "", nil, nil, errors.New("at least one user or assistant message is required")
	}

	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if c.maxTokens > 0 {
		cfg.MaxOutputTokens = int32(c.maxTokens)
	}
	return resolveModel(req.Model, c.model), contents, cfg, nil
}

func geminiText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		b.WriteString(part.Text)
	}
	return b.String()
}

func geminiFinishReason(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return ""
	}
	return string(resp.Candidates[0].FinishReason)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
