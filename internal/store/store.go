// Package store holds conversations and their ordered messages for the
// lifetime of the serving process.
package store

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// UntitledTitle is used when a conversation is seeded with blank content.
const UntitledTitle = "Untitled"

var (
	ErrUnknownConversation = errors.New("unknown conversation")
	ErrInvalidRole         = errors.New("invalid role")
)

func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleSystem, RoleUser, RoleAssistant:
		return r, nil
	default:
		return "", errors.Wrapf(ErrInvalidRole, "%q", s)
	}
}

func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

type Conversation struct {
	ID    uuid.UUID `json:"id"`
	Title string    `json:"title"`
}

type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversationId"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
}

// Store is safe for concurrent use. EnsureConversation and AppendMessage are
// atomic with respect to each other.
type Store interface {
	// ListConversations returns conversations in insertion order.
	ListConversations(ctx context.Context) ([]Conversation, error)
	// ListMessages returns messages in append order, or an empty slice for an
	// unknown conversation.
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]Message, error)
	// EnsureConversation returns the existing conversation or creates it with a
	// title derived from seedTitle. created reports whether this call created it.
	EnsureConversation(ctx context.Context, conversationID uuid.UUID, seedTitle string) (conv Conversation, created bool, err error)
	AppendMessage(ctx context.Context, msg Message) error
	Close() error
}

// DeriveTitle trims seed and truncates it to limit runes.
func DeriveTitle(seed string, limit int) string {
	title := strings.Join(strings.Fields(seed), " ")
	if title == "" {
		return UntitledTitle
	}
	if limit > 0 && utf8.RuneCountInString(title) > limit {
		title = strings.TrimSpace(string([]rune(title)[:limit]))
	}
	return title
}

func validateMessage(msg Message) error {
	if !msg.Role.Valid() {
		return errors.Wrapf(ErrInvalidRole, "%q", msg.Role)
	}
	if msg.ConversationID == uuid.Nil {
		return errors.Wrap(ErrUnknownConversation, "nil conversation id")
	}
	return nil
}

// Open builds the backend named by driver.
func Open(driver, dsn string, titleLength int) (Store, error) {
	switch driver {
	case "", "memory":
		return NewMemoryStore(titleLength), nil
	case "sqlite":
		s, err := NewSQLiteStore(dsn, titleLength)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, errors.Errorf("unknown store driver: %s", driver)
	}
}
