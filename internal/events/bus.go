// Package events publishes a notification for every persisted chat message
// on a watermill topic, either in process or over Redis Streams.
package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"chat-relay/internal/config"
	"chat-relay/internal/store"
)

const DefaultTopic = "chat.messages"

// MessagePersisted is the payload published after a message reaches the store.
type MessagePersisted struct {
	MessageID      uuid.UUID  `json:"messageId"`
	ConversationID uuid.UUID  `json:"conversationId"`
	Role           store.Role `json:"role"`
	Content        string     `json:"content"`
	PersistedAt    time.Time  `json:"persistedAt"`
}

type Bus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	topic      string
	logger     zerolog.Logger
	closers    []func() error
}

// New builds the bus for cfg.Driver. The "none" driver returns a nil bus.
func New(ctx context.Context, cfg config.EventsConfig, logger zerolog.Logger) (*Bus, error) {
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		topic = DefaultTopic
	}
	logger = logger.With().Str("component", "events").Str("topic", topic).Logger()
	wmLogger := NewWatermillLogger(logger)

	switch cfg.Driver {
	case "none":
		return nil, nil
	case "", "gochannel":
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, wmLogger)
		return &Bus{
			publisher:  ch,
			subscriber: ch,
			topic:      topic,
			logger:     logger,
			closers:    []func() error{ch.Close},
		}, nil
	case "redis":
		return newRedisBus(ctx, cfg, topic, logger, wmLogger)
	default:
		return nil, errors.Errorf("unknown events driver: %s", cfg.Driver)
	}
}

func newRedisBus(ctx context.Context, cfg config.EventsConfig, topic string, logger zerolog.Logger, wmLogger watermill.LoggerAdapter) (*Bus, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "redis ping %s", cfg.RedisAddr)
	}
	if err := ensureGroupAtTail(ctx, client, topic, cfg.RedisGroup); err != nil {
		_ = client.Close()
		return nil, err
	}

	marshaller := rstream.DefaultMarshallerUnmarshaller{}
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaller,
	}, wmLogger)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis publisher")
	}
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaller,
		ConsumerGroup: cfg.RedisGroup,
		Consumer:      cfg.RedisConsumer,
	}, wmLogger)
	if err != nil {
		_ = pub.Close()
		_ = client.Close()
		return nil, errors.Wrap(err, "redis subscriber")
	}
	logger.Info().Str("addr", cfg.RedisAddr).Str("group", cfg.RedisGroup).Msg("redis event bus ready")
	return &Bus{
		publisher:  pub,
		subscriber: sub,
		topic:      topic,
		logger:     logger,
		closers:    []func() error{sub.Close, pub.Close, client.Close},
	}, nil
}

// ensureGroupAtTail creates the consumer group at "$" so a fresh group does
// not replay the whole stream.
func ensureGroupAtTail(ctx context.Context, client *redis.Client, stream, group string) error {
	if strings.TrimSpace(group) == "" {
		return nil
	}
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return errors.Wrapf(err, "create consumer group %s", group)
	}
	return nil
}

func (b *Bus) Topic() string { return b.topic }

// PublishMessage implements chat.Notifier.
func (b *Bus) PublishMessage(ctx context.Context, msg store.Message) error {
	payload, err := json.Marshal(MessagePersisted{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		Role:           msg.Role,
		Content:        msg.Content,
		PersistedAt:    time.Now().UTC(),
	})
	if err != nil {
		return errors.Wrap(err, "encode message event")
	}
	wm := message.NewMessage(watermill.NewUUID(), payload)
	wm.Metadata.Set("conversation_id", msg.ConversationID.String())
	wm.Metadata.Set("role", string(msg.Role))
	wm.SetContext(ctx)
	if err := b.publisher.Publish(b.topic, wm); err != nil {
		return errors.Wrap(err, "publish message event")
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	ch, err := b.subscriber.Subscribe(ctx, b.topic)
	if err != nil {
		return nil, errors.Wrap(err, "subscribe")
	}
	return ch, nil
}

func Decode(msg *message.Message) (MessagePersisted, error) {
	var ev MessagePersisted
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return ev, errors.Wrap(err, "decode message event")
	}
	return ev, nil
}

// RunAudit logs every event on the topic until ctx is done.
func (b *Bus) RunAudit(ctx context.Context) error {
	ch, err := b.Subscribe(ctx)
	if err != nil {
		return err
	}
	b.logger.Debug().Msg("audit consumer started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, err := Decode(msg)
			if err != nil {
				b.logger.Warn().Err(err).Str("uuid", msg.UUID).Msg("dropping malformed event")
				msg.Ack()
				continue
			}
			b.logger.Info().
				Str("conversation", ev.ConversationID.String()).
				Str("message", ev.MessageID.String()).
				Str("role", string(ev.Role)).
				Int("chars", len(ev.Content)).
				Msg("message persisted")
			msg.Ack()
		}
	}
}

func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	var first error
	for _, c := range b.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
