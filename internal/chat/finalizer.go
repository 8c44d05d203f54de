package chat

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"chat-relay/internal/store"
)

// Finalize appends the assistant message holding result.Text, which may be
// empty. It runs on a context detached from the caller.
func Finalize(ctx context.Context, s store.Store, conversationID uuid.UUID, result StreamResult) (store.Message, error) {
	msg := store.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Role:           store.RoleAssistant,
		Content:        result.Text,
	}
	if err := s.AppendMessage(context.WithoutCancel(ctx), msg); err != nil {
		return store.Message{}, errors.Wrap(err, "persist assistant message")
	}
	return msg, nil
}
