package events

import "context"

// Broker is the cross-instance pub/sub transport. It carries notifications
// only; nothing published is stored.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe delivers every payload on channel to handler until ctx is
	// done (returns nil) or the subscription is lost (returns the cause).
	Subscribe(ctx context.Context, channel string, handler func([]byte)) error
	Ping(ctx context.Context) error
	Close() error
}
