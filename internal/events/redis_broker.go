package events

import (
	"context"
	"fmt"

	roomcast_errors "roomcast/pkg/errors"

	"github.com/redis/go-redis/v9"
)

// RedisBroker implements Broker using Redis Pub/Sub
type RedisBroker struct {
	client *redis.Client
}

func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %v: %w", channel, err, roomcast_errors.ErrBrokerUnavailable)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, channel string, handler func([]byte)) error {
	pubsub := b.client.Subscribe(ctx, channel)
	defer pubsub.Close()

	// wait for the subscription confirmation so errors surface here
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe to %s: %v: %w", channel, err, roomcast_errors.ErrBrokerUnavailable)
	}

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive from %s: %v: %w", channel, err, roomcast_errors.ErrBrokerUnavailable)
		}
		handler([]byte(msg.Payload))
	}
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
