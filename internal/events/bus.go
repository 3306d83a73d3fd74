// Package events carries session state changes to whoever needs to react to
// them, in-process or across processes sharing a Redis.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"signaldesk/internal/session"
)

const TopicSessionChanged = "signaldesk.session.changed"

// SessionChanged is published after every Store Set or Clear.
type SessionChanged struct {
	Authenticated bool      `json:"authenticated"`
	At            time.Time `json:"at"`
}

type Bus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *zap.Logger
	now        func() time.Time
}

// NewLocalBus keeps events inside the process.
func NewLocalBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16}, newZapAdapter(logger.Named("watermill")))
	return &Bus{publisher: pubsub, subscriber: pubsub, logger: logger, now: time.Now}
}

// NewRedisBus shares events through a Redis stream so every process using the
// same session slot hears about a logout.
func NewRedisBus(client redis.UniversalClient, logger *zap.Logger) (*Bus, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	wmLogger := newZapAdapter(logger.Named("watermill"))

	publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: client}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("create redis publisher: %w", err)
	}
	subscriber, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{Client: client}, wmLogger)
	if err != nil {
		_ = publisher.Close()
		return nil, fmt.Errorf("create redis subscriber: %w", err)
	}
	return &Bus{publisher: publisher, subscriber: subscriber, logger: logger, now: time.Now}, nil
}

func (b *Bus) Publish(ev SessionChanged) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := b.publisher.Publish(TopicSessionChanged, message.NewMessage(uuid.NewString(), payload)); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Listener adapts the bus to session.Store change notifications.
func (b *Bus) Listener() session.Listener {
	return func(p session.Pair) {
		if err := b.Publish(SessionChanged{Authenticated: p.Authenticated(), At: b.now()}); err != nil {
			b.logger.Warn("publish session change", zap.Error(err))
		}
	}
}

// Watch subscribes and calls fn for every event published after the call,
// until ctx is done. Older events still sitting in a shared stream are skipped.
func (b *Bus) Watch(ctx context.Context, fn func(SessionChanged)) error {
	since := b.now()
	messages, err := b.subscriber.Subscribe(ctx, TopicSessionChanged)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicSessionChanged, err)
	}

	go func() {
		for msg := range messages {
			var ev SessionChanged
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				b.logger.Warn("drop malformed session event", zap.String("uuid", msg.UUID), zap.Error(err))
				msg.Ack()
				continue
			}
			msg.Ack()
			if ev.At.Before(since) {
				continue
			}
			fn(ev)
		}
	}()
	return nil
}

func (b *Bus) Close() error {
	return errors.Join(b.publisher.Close(), b.subscriber.Close())
}
