// Package chat runs the completion pipeline: it records user messages,
// assembles history, relays the upstream stream and persists the assistant
// reply exactly once.
package chat

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"chat-relay/internal/config"
	"chat-relay/internal/llm"
	"chat-relay/internal/store"
)

// Notifier is told about every persisted message.
type Notifier interface {
	PublishMessage(ctx context.Context, msg store.Message) error
}

type Options struct {
	SystemPrompt string
	Model        string
	Notifier     Notifier
	Tokens       *llm.TokenCounter
	Logger       zerolog.Logger
}

// Service owns the store for the lifetime of the process and is shared by
// every request handler.
type Service struct {
	store     store.Store
	relay     *Relay
	directive string
	notifier  Notifier
	tokens    *llm.TokenCounter
	logger    zerolog.Logger
}

func NewService(s store.Store, client llm.Client, opts Options) *Service {
	directive := opts.SystemPrompt
	if strings.TrimSpace(directive) == "" {
		directive = config.DefaultSystemPrompt
	}
	logger := opts.Logger.With().Str("component", "chat").Logger()
	return &Service{
		store:     s,
		relay:     NewRelay(client, opts.Model, logger),
		directive: directive,
		notifier:  opts.Notifier,
		tokens:    opts.Tokens,
		logger:    logger,
	}
}

func (s *Service) Store() store.Store { return s.store }

func (s *Service) ListConversations(ctx context.Context) ([]store.Conversation, error) {
	return s.store.ListConversations(ctx)
}

func (s *Service) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]store.Message, error) {
	return s.store.ListMessages(ctx, conversationID)
}

func (s *Service) BuildPrompt(ctx context.Context, conversationID uuid.UUID) ([]llm.Message, error) {
	return BuildPrompt(ctx, s.store, s.directive, conversationID)
}

type SendInput struct {
	Conversation ConversationRef
	MessageID    string
	Role         string
	Content      string
}

type SendResult struct {
	Conversation store.Conversation
	Created      bool
	Message      store.Message
}

// Send records one user message, creating the conversation on first use.
func (s *Service) Send(ctx context.Context, in SendInput) (SendResult, error) {
	msg, err := newUserMessage(in.MessageID, in.Role, in.Content)
	if err != nil {
		return SendResult{}, err
	}
	return s.recordUserMessage(ctx, Resolve(in.Conversation), msg)
}

type CompleteInput struct {
	Conversation ConversationRef
	// Content is the new user turn. When empty, MessageID must name a user
	// message already recorded in the conversation.
	Content   string
	MessageID string
}

type CompleteResult struct {
	Conversation store.Conversation
	Created      bool
	// User is the message the completion answers; it was recorded by this
	// call only when Recorded is true.
	User      store.Message
	Recorded  bool
	Assistant store.Message
	Stream    StreamResult
}

// validate runs before any store access and resolves the conversation id.
func (in CompleteInput) validate() (uuid.UUID, uuid.UUID, bool, error) {
	messageID, hasID, err := parseMessageID(in.MessageID)
	if err != nil {
		return uuid.Nil, uuid.Nil, false, err
	}
	if strings.TrimSpace(in.Content) == "" {
		if !hasID {
			return uuid.Nil, uuid.Nil, false, invalid("content", "content or messageId is required")
		}
		if _, ok := in.Conversation.(ClientID); !ok {
			return uuid.Nil, uuid.Nil, false, invalid("conversationId", "required when completing an existing message")
		}
	}
	return Resolve(in.Conversation), messageID, hasID, nil
}

// Complete records or locates the user turn, streams the reply through emit
// and persists it. An upstream failure is not returned as an error; it is
// reported in CompleteResult.Stream.Cause after the partial text was saved.
func (s *Service) Complete(ctx context.Context, in CompleteInput, emit Emitter) (CompleteResult, error) {
	c, err := s.Prepare(ctx, in)
	if err != nil {
		return CompleteResult{}, err
	}
	return c.Run(ctx, emit)
}

// Completion is a validated request whose user turn is already in the store.
// Run streams and persists the reply; it may be called once.
type Completion struct {
	svc    *Service
	logger zerolog.Logger
	out    CompleteResult
	ran    bool
}

// Prepare validates in, resolves the conversation and records the user turn
// unless it names one already stored. Nothing is mutated when it fails.
func (s *Service) Prepare(ctx context.Context, in CompleteInput) (*Completion, error) {
	conversationID, messageID, hasID, err := in.validate()
	if err != nil {
		return nil, err
	}
	c := &Completion{
		svc:    s,
		logger: s.logger.With().Str("conversation", conversationID.String()).Logger(),
	}
	c.logger.Debug().Str("state", "RECEIVED").Msg("completion")

	existing, found, err := s.findUserMessage(ctx, conversationID, messageID, hasID)
	if err != nil {
		return nil, err
	}
	switch {
	case found:
		c.out.User = existing
		if c.out.Conversation, err = s.lookupConversation(ctx, conversationID); err != nil {
			return nil, err
		}
	case strings.TrimSpace(in.Content) == "":
		return nil, errors.Wrapf(ErrMessageNotFound, "%s", messageID)
	default:
		msg, err := newUserMessage(in.MessageID, "", in.Content)
		if err != nil {
			return nil, err
		}
		sent, err := s.recordUserMessage(ctx, conversationID, msg)
		if err != nil {
			return nil, err
		}
		c.out.User, c.out.Recorded = sent.Message, true
		c.out.Conversation, c.out.Created = sent.Conversation, sent.Created
	}
	return c, nil
}

func (c *Completion) Conversation() store.Conversation { return c.out.Conversation }

func (c *Completion) Run(ctx context.Context, emit Emitter) (CompleteResult, error) {
	if c.ran {
		return c.out, errors.New("completion already ran")
	}
	c.ran = true
	s, out, logger := c.svc, c.out, c.logger
	conversationID := out.Conversation.ID
	// The user turn is already stored; from here on only emission follows ctx.
	detached := context.WithoutCancel(ctx)

	prompt, err := s.BuildPrompt(detached, conversationID)
	if err != nil {
		return out, err
	}
	ev := logger.Debug().Str("state", "HISTORY_BUILT").Int("messages", len(prompt))
	if s.tokens != nil {
		ev = ev.Int("prompt_tokens", s.tokens.Count(prompt))
	}
	ev.Msg("completion")

	logger.Debug().Str("state", "STREAMING").Msg("completion")
	out.Stream = s.relay.Stream(ctx, prompt, emit)
	if out.Stream.Partial() {
		logger.Debug().Str("state", "STREAM_FAILED").Err(out.Stream.Cause).Msg("completion")
	} else {
		logger.Debug().Str("state", "STREAM_COMPLETE").Msg("completion")
	}

	out.Assistant, err = Finalize(detached, s.store, conversationID, out.Stream)
	if err != nil {
		logger.Error().Err(err).Msg("completion not persisted")
		return out, err
	}
	logger.Debug().Str("state", "PERSISTED").Str("message", out.Assistant.ID.String()).Msg("completion")
	s.notify(ctx, out.Assistant)
	logger.Debug().Str("state", "DONE").Msg("completion")
	return out, nil
}

func (s *Service) recordUserMessage(ctx context.Context, conversationID uuid.UUID, msg store.Message) (SendResult, error) {
	conv, created, err := s.store.EnsureConversation(ctx, conversationID, msg.Content)
	if err != nil {
		return SendResult{}, errors.Wrap(err, "ensure conversation")
	}
	msg.ConversationID = conv.ID
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return SendResult{}, errors.Wrap(err, "append user message")
	}
	if created {
		s.logger.Info().Str("conversation", conv.ID.String()).Str("title", conv.Title).Msg("conversation created")
	}
	s.notify(ctx, msg)
	return SendResult{Conversation: conv, Created: created, Message: msg}, nil
}

func (s *Service) findUserMessage(ctx context.Context, conversationID, messageID uuid.UUID, hasID bool) (store.Message, bool, error) {
	if !hasID {
		return store.Message{}, false, nil
	}
	history, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return store.Message{}, false, errors.Wrap(err, "load history")
	}
	for _, m := range history {
		if m.ID == messageID && m.Role == store.RoleUser {
			return m, true, nil
		}
	}
	return store.Message{}, false, nil
}

func (s *Service) lookupConversation(ctx context.Context, conversationID uuid.UUID) (store.Conversation, error) {
	convs, err := s.store.ListConversations(ctx)
	if err != nil {
		return store.Conversation{}, errors.Wrap(err, "list conversations")
	}
	for _, c := range convs {
		if c.ID == conversationID {
			return c, nil
		}
	}
	return store.Conversation{}, errors.Wrapf(store.ErrUnknownConversation, "%s", conversationID)
}

func (s *Service) notify(ctx context.Context, msg store.Message) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.PublishMessage(context.WithoutCancel(ctx), msg); err != nil {
		s.logger.Warn().Err(err).Str("message", msg.ID.String()).Msg("publish message event")
	}
}

func newUserMessage(rawID, rawRole, content string) (store.Message, error) {
	if strings.TrimSpace(content) == "" {
		return store.Message{}, invalid("content", "must not be empty")
	}
	role := store.RoleUser
	if strings.TrimSpace(rawRole) != "" {
		r, err := store.ParseRole(rawRole)
		if err != nil {
			return store.Message{}, invalid("role", "must be one of system, user, assistant")
		}
		role = r
	}
	if role != store.RoleUser {
		return store.Message{}, invalid("role", "only user messages can be sent")
	}
	id, ok, err := parseMessageID(rawID)
	if err != nil {
		return store.Message{}, err
	}
	if !ok {
		id = uuid.New()
	}
	return store.Message{ID: id, Role: role, Content: content}, nil
}
