package events

import (
	"context"
	"fmt"
	"time"

	roomcast_errors "roomcast/pkg/errors"

	"github.com/nats-io/nats.go"
)

const natsClosedPollInterval = 500 * time.Millisecond

// NatsBroker implements Broker on a core NATS subject.
type NatsBroker struct {
	conn *nats.Conn
}

// ConnectNats dials url and keeps reconnecting forever in the background.
func ConnectNats(url, name string) (*NatsBroker, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return NewNatsBroker(conn), nil
}

func NewNatsBroker(conn *nats.Conn) *NatsBroker {
	return &NatsBroker{conn: conn}
}

func (b *NatsBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if b.conn.IsClosed() {
		return fmt.Errorf("publish to %s: %w", channel, roomcast_errors.ErrBrokerUnavailable)
	}
	if err := b.conn.Publish(channel, payload); err != nil {
		return fmt.Errorf("publish to %s: %v: %w", channel, err, roomcast_errors.ErrBrokerUnavailable)
	}
	return nil
}

func (b *NatsBroker) Subscribe(ctx context.Context, channel string, handler func([]byte)) error {
	msgs := make(chan *nats.Msg, 256)
	sub, err := b.conn.ChanSubscribe(channel, msgs)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %v: %w", channel, err, roomcast_errors.ErrBrokerUnavailable)
	}
	defer func() { _ = sub.Unsubscribe() }()

	ticker := time.NewTicker(natsClosedPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-msgs:
			handler(msg.Data)
		case <-ticker.C:
			if b.conn.IsClosed() {
				return fmt.Errorf("nats connection closed: %w", roomcast_errors.ErrBrokerUnavailable)
			}
		}
	}
}

func (b *NatsBroker) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return b.conn.FlushWithContext(ctx)
}

func (b *NatsBroker) Close() error {
	b.conn.Close()
	return nil
}
