package llm

import (
	"context"
	"errors"
	"iter"
	"strings"
	"testing"

	"google.golang.org/genai"
)

type stubGeminiModels struct {
	lastModel    string
	lastContents []*genai.Content
	lastConfig   *genai.GenerateContentConfig

	response *genai.GenerateContentResponse
	chunks   []*genai.GenerateContentResponse
	err      error
}

func (s *stubGeminiModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	s.lastModel = model
	s.lastContents = contents
	s.lastConfig = config
	if s.err != nil {
		return nil, s.err
	}
	return s.response, nil
}

func (s *stubGeminiModels) GenerateContentStream(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	s.lastModel = model
	s.lastContents = contents
	s.lastConfig = config
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, chunk := range s.chunks {
			if !yield(chunk, nil) {
				return
			}
		}
		if s.err != nil {
			yield(nil, s.err)
		}
	}
}

func geminiChunk(text string, finish genai.FinishReason) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: text}}},
			FinishReason: finish,
		}},
	}
}

func TestGeminiChat(t *testing.T) {
	stub := &stubGeminiModels{response: geminiChunk("hello", genai.FinishReasonStop)}
	client := newGeminiClient(stub, "gemini-test", 64)

	resp, err := client.Chat(context.Background(), ChatRequest{
		Messages: []Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hey"},
			{Role: "user", Content: "again"},
		},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "hello" {
		t.Fatalf("unexpected content: %s", resp.Content)
	}
	if resp.Model != "gemini-test" {
		t.Fatalf("unexpected model: %s", resp.Model)
	}
	if resp.FinishReason != string(genai.FinishReasonStop) {
		t.Fatalf("unexpected finish reason: %s", resp.FinishReason)
	}
	if len(stub.lastContents) != 3 {
		t.Fatalf("unexpected content count: %d", len(stub.lastContents))
	}
	if stub.lastContents[1].Role != genai.RoleModel {
		t.Fatalf("assistant turn not mapped to model role: %s", stub.lastContents[1].Role)
	}
	if stub.lastConfig.SystemInstruction == nil || stub.lastConfig.SystemInstruction.Parts[0].Text != "be brief" {
		t.Fatalf("system instruction not set")
	}
	if stub.lastConfig.MaxOutputTokens != 64 {
		t.Fatalf("unexpected max output tokens: %d", stub.lastConfig.MaxOutputTokens)
	}
}

func TestGeminiChatStream(t *testing.T) {
	stub := &stubGeminiModels{chunks: []*genai.GenerateContentResponse{
		geminiChunk("he", ""),
		{Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{{Text: "thinking", Thought: true}}}}}},
		geminiChunk("llo", genai.FinishReasonStop),
	}}
	client := newGeminiClient(stub, "gemini-test", 0)

	var streamed []string
	resp, err := client.ChatStream(context.Background(), ChatRequest{
		Model:    "gemini-override",
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, func(delta string) error {
		streamed = append(streamed, delta)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if strings.Join(streamed, "|") != "he|llo" {
		t.Fatalf("unexpected deltas: %q", streamed)
	}
	if resp.Content != "hello" {
		t.Fatalf("unexpected content: %s", resp.Content)
	}
	if stub.lastModel != "gemini-override" {
		t.Fatalf("request model not used: %s", stub.lastModel)
	}
}

func TestGeminiChatStreamKeepsPartialContentOnError(t *testing.T) {
	stub := &stubGeminiModels{
		chunks: []*genai.GenerateContentResponse{geminiChunk("Par", "")},
		err:    errors.New("connection reset"),
	}
	client := newGeminiClient(stub, "gemini-test", 0)

	resp, err := client.ChatStream(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if resp.Content != "Par" {
		t.Fatalf("unexpected partial content: %q", resp.Content)
	}
}

func TestGeminiChatStreamStopsOnHandlerError(t *testing.T) {
	stub := &stubGeminiModels{chunks: []*genai.GenerateContentResponse{
		geminiChunk("one", ""),
		geminiChunk("two", ""),
	}}
	client := newGeminiClient(stub, "gemini-test", 0)

	stop := errors.New("stop")
	resp, err := client.ChatStream(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, func(string) error { return stop })
	if !errors.Is(err, stop) {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "one" {
		t.Fatalf("unexpected content: %q", resp.Content)
	}
}

func TestNewGeminiClientRequiresToken(t *testing.T) {
	if _, err := NewGeminiClient(context.Background(), GeminiConfig{Model: "gemini-test"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestGeminiSkipsEmptyAssistantTurns(t *testing.T) {
	stub := &stubGeminiModels{response: geminiChunk("ok", genai.FinishReasonStop)}
	client := newGeminiClient(stub, "gemini-test", 0)

	_, err := client.Chat(context.Background(), ChatRequest{
		Messages: []Message{
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "  "},
			{Role: "user", Content: "again"},
		},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if len(stub.lastContents) != 2 {
		t.Fatalf("unexpected contents: %d", len(stub.lastContents))
	}
	for _, content := range stub.lastContents {
		if content.Role != genai.RoleUser || content.Parts[0].Text == "" {
			t.Fatalf("unexpected content: %+v", content)
		}
	}
}
