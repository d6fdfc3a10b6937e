package realtime

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-frontdesk/pkg/logging"
)

const DefaultChannel = "clinic-queue:changed"

// RedisBroker publishes clinic change events on a Redis pub/sub channel.
type RedisBroker struct {
	client  *redis.Client
	channel string
	logger  *logging.Logger
}

func NewRedisBroker(client *redis.Client, channel string, logger *logging.Logger) *RedisBroker {
	if client == nil {
		panic("realtime: redis client cannot be nil")
	}
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisBroker{client: client, channel: channel, logger: logger}
}

func (b *RedisBroker) Publish(ctx context.Context, clinicID string) error {
	if err := b.client.Publish(ctx, b.channel, clinicID).Err(); err != nil {
		return fmt.Errorf("realtime: failed to publish change for %s: %w", clinicID, err)
	}
	return nil
}

// Subscribe blocks, calling fn for every change event, until ctx is done.
func (b *RedisBroker) Subscribe(ctx context.Context, fn func(ctx context.Context, clinicID string)) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("realtime: failed to subscribe to %s: %w", b.channel, err)
	}
	b.logger.Info("realtime: subscribed to queue changes", "channel", b.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if msg.Payload == "" {
				continue
			}
			fn(ctx, msg.Payload)
		}
	}
}

var _ Broker = (*RedisBroker)(nil)
