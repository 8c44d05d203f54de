package chat

import (
	"strings"

	"github.com/google/uuid"
)

// ConversationRef names the conversation a request targets. It is either a
// ClientID or ServerGenerated and is resolved to a concrete id exactly once,
// before any store access.
type ConversationRef interface {
	resolve() uuid.UUID
}

// ClientID is a conversation id supplied by the caller.
type ClientID uuid.UUID

// ServerGenerated asks the service to mint a new conversation id.
type ServerGenerated struct{}

func (c ClientID) resolve() uuid.UUID { return uuid.UUID(c) }
func (ServerGenerated) resolve() uuid.UUID { return uuid.New() }

func (c ClientID) String() string { return uuid.UUID(c).String() }

// ParseConversationRef reads the wire form of a conversation id. Empty,
// "new" and "null" select a server generated id.
func ParseConversationRef(raw string) (ConversationRef, error) {
	s := strings.TrimSpace(raw)
	switch strings.ToLower(s) {
	case "", "new", "null":
		return ServerGenerated{}, nil
	}
	id, err := uuid.Parse(s)
	if err != nil || id == uuid.Nil {
		return nil, invalid("conversationId", "must be a uuid")
	}
	return ClientID(id), nil
}

// Resolve returns the concrete id for ref. A nil ref is ServerGenerated.
func Resolve(ref ConversationRef) uuid.UUID {
	if ref == nil {
		return uuid.New()
	}
	return ref.resolve()
}

func parseMessageID(raw string) (uuid.UUID, bool, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return uuid.Nil, false, nil
	}
	id, err := uuid.Parse(s)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false, invalid("messageId", "must be a uuid")
	}
	return id, true, nil
}
