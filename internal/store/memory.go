package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// MemoryStore keeps everything in process memory with no eviction.
type MemoryStore struct {
	mu            sync.RWMutex
	titleLength   int
	conversations []Conversation
	index         map[uuid.UUID]int
	messages      map[uuid.UUID][]Message
}

var _ Store = &MemoryStore{}

func NewMemoryStore(titleLength int) *MemoryStore {
	return &MemoryStore{
		titleLength: titleLength,
		index:       map[uuid.UUID]int{},
		messages:    map[uuid.UUID][]Message{},
	}
}

func (s *MemoryStore) ListConversations(ctx context.Context) ([]Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Conversation, len(s.conversations))
	copy(out, s.conversations)
	return out, nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[conversationID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStore) EnsureConversation(ctx context.Context, conversationID uuid.UUID, seedTitle string) (Conversation, bool, error) {
	if conversationID == uuid.Nil {
		return Conversation{}, false, errors.New("memory store: nil conversation id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.index[conversationID]; ok {
		return s.conversations[i], false, nil
	}
	conv := Conversation{ID: conversationID, Title: DeriveTitle(seedTitle, s.titleLength)}
	s.index[conversationID] = len(s.conversations)
	s.conversations = append(s.conversations, conv)
	return conv, true, nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, msg Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[msg.ConversationID]; !ok {
		return errors.Wrapf(ErrUnknownConversation, "%s", msg.ConversationID)
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
