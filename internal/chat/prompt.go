package chat

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"chat-relay/internal/llm"
	"chat-relay/internal/store"
)

// BuildPrompt returns the directive followed by the full stored history of the
// conversation, in store order. An unknown conversation yields a
// directive-only prompt.
func BuildPrompt(ctx context.Context, s store.Store, directive string, conversationID uuid.UUID) ([]llm.Message, error) {
	history, err := s.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, errors.Wrap(err, "load history")
	}
	prompt := make([]llm.Message, 0, len(history)+1)
	prompt = append(prompt, llm.Message{Role: string(store.RoleSystem), Content: directive})
	for _, m := range history {
		prompt = append(prompt, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return prompt, nil
}
