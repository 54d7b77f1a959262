package events

import (
	"context"
	"testing"
	"time"

	roomcast_errors "roomcast/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subscribe(t *testing.T, b Broker, channel string) (<-chan []byte, <-chan error, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan []byte, 16)
	done := make(chan error, 1)
	go func() {
		done <- b.Subscribe(ctx, channel, func(p []byte) { got <- p })
	}()
	return got, done, cancel
}

func TestMemoryBroker_PublishSubscribe(t *testing.T) {
	b := NewMemoryBroker()
	got, done, cancel := subscribe(t, b, "chan")
	require.Eventually(t, func() bool { return b.Subscribers("chan") == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, b.Publish(context.Background(), "chan", []byte("hello")))
	require.NoError(t, b.Publish(context.Background(), "other", []byte("ignored")))

	select {
	case p := <-got:
		assert.Equal(t, "hello", string(p))
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}

	cancel()
	assert.NoError(t, <-done)
	assert.Zero(t, b.Subscribers("chan"))
}

func TestMemoryBroker_FailAndRestore(t *testing.T) {
	b := NewMemoryBroker()
	_, done, cancel := subscribe(t, b, "chan")
	defer cancel()
	require.Eventually(t, func() bool { return b.Subscribers("chan") == 1 }, time.Second, 5*time.Millisecond)

	b.Fail()
	assert.ErrorIs(t, <-done, roomcast_errors.ErrBrokerUnavailable)
	assert.ErrorIs(t, b.Publish(context.Background(), "chan", []byte("x")), roomcast_errors.ErrBrokerUnavailable)
	assert.ErrorIs(t, b.Ping(context.Background()), roomcast_errors.ErrBrokerUnavailable)
	assert.ErrorIs(t, b.Subscribe(context.Background(), "chan", func([]byte) {}), roomcast_errors.ErrBrokerUnavailable)

	b.Restore()
	assert.NoError(t, b.Ping(context.Background()))
	assert.NoError(t, b.Publish(context.Background(), "chan", []byte("x")))
}

func TestDecodeEnvelope(t *testing.T) {
	exclude := "conn-1"
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{"room", `{"target_kind":"room","target_id":"r","origin_instance_id":"i","exclude_connection_id":null,"payload":{"type":"x"}}`, false},
		{"user", `{"target_kind":"user","target_id":"u","origin_instance_id":"i","exclude_connection_id":"conn-1","payload":{}}`, false},
		{"bad kind", `{"target_kind":"org","target_id":"r","origin_instance_id":"i","payload":{}}`, true},
		{"no origin", `{"target_kind":"room","target_id":"r","payload":{}}`, true},
		{"no payload", `{"target_kind":"room","target_id":"r","origin_instance_id":"i"}`, true},
		{"garbage", `not json`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := DecodeEnvelope([]byte(tt.data))
			if tt.wantErr {
				assert.ErrorIs(t, err, roomcast_errors.ErrProtocol)
				return
			}
			require.NoError(t, err)
			if tt.name == "user" {
				assert.Equal(t, exclude, env.Exclude())
			} else {
				assert.Empty(t, env.Exclude())
			}
		})
	}
}
