package events

import (
	"context"
	"sync"

	roomcast_errors "roomcast/pkg/errors"
)

const memorySubscriptionBuffer = 1024

type memorySubscription struct {
	msgs chan []byte
	lost chan struct{}
}

// MemoryBroker is an in-process Broker for single-instance runs and tests.
// Fail simulates an outage: publishes error and live subscriptions end until
// Restore is called.
type MemoryBroker struct {
	mu     sync.Mutex
	subs   map[string]map[*memorySubscription]struct{}
	down   bool
	closed bool
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[*memorySubscription]struct{})}
}

func (b *MemoryBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down || b.closed {
		return roomcast_errors.ErrBrokerUnavailable
	}
	for sub := range b.subs[channel] {
		select {
		case sub.msgs <- append([]byte(nil), payload...):
		default:
			// slow subscriber, same as a dropped pub/sub message
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, channel string, handler func([]byte)) error {
	sub := &memorySubscription{
		msgs: make(chan []byte, memorySubscriptionBuffer),
		lost: make(chan struct{}),
	}

	b.mu.Lock()
	if b.down || b.closed {
		b.mu.Unlock()
		return roomcast_errors.ErrBrokerUnavailable
	}
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*memorySubscription]struct{})
	}
	b.subs[channel][sub] = struct{}{}
	b.mu.Unlock()

	defer b.remove(channel, sub)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.lost:
			return roomcast_errors.ErrBrokerUnavailable
		case msg := <-sub.msgs:
			handler(msg)
		}
	}
}

func (b *MemoryBroker) remove(channel string, sub *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subs[channel]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.subs, channel)
		}
	}
}

// Subscribers returns the number of live subscriptions on channel.
func (b *MemoryBroker) Subscribers(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}

// Fail drops every subscription and rejects traffic until Restore.
func (b *MemoryBroker) Fail() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = true
	b.dropAll()
}

func (b *MemoryBroker) Restore() {
	b.mu.Lock()
	b.down = false
	b.mu.Unlock()
}

func (b *MemoryBroker) Ping(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down || b.closed {
		return roomcast_errors.ErrBrokerUnavailable
	}
	return nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.dropAll()
	return nil
}

func (b *MemoryBroker) dropAll() {
	for channel, subs := range b.subs {
		for sub := range subs {
			close(sub.lost)
		}
		delete(b.subs, channel)
	}
}
