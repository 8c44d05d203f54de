// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"strings"
	"sync"

	"chat-relay/internal/llm"
)

// Client replays Fragments and then fails with Err, if set. Every request is
// recorded.
type Client struct {
	Fragments []string
	Err       error
	// Panic, when set, is raised after the fragments are delivered.
	Panic any
	// Gate, when non-nil, is received from before every fragment.
	Gate <-chan struct{}

	mu       sync.Mutex
	requests []llm.ChatRequest
}

var _ llm.Client = &Client{}

func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	resp, err := c.ChatStream(ctx, req, nil)
	return resp, err
}

func (c *Client) ChatStream(ctx context.Context, req llm.ChatRequest, handle llm.StreamHandler) (llm.ChatResponse, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	var content strings.Builder
	for _, fragment := range c.Fragments {
		if c.Gate != nil {
			select {
			case <-c.Gate:
			case <-ctx.Done():
				return llm.ChatResponse{Content: content.String()}, ctx.Err()
			}
		}
		content.WriteString(fragment)
		if handle != nil {
			if err := handle(fragment); err != nil {
				return llm.ChatResponse{Content: content.String()}, err
			}
		}
	}
	if c.Panic != nil {
		panic(c.Panic)
	}
	return llm.ChatResponse{Content: content.String(), Model: req.Model, FinishReason: "stop"}, c.Err
}

// Requests returns a copy of every request seen so far.
func (c *Client) Requests() []llm.ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.ChatRequest, len(c.requests))
	copy(out, c.requests)
	return out
}
