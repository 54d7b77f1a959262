package events

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisBroker(t *testing.T) *RedisBroker {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redis not available at %s: %v", addr, err)
	}
	b := NewRedisBroker(client)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestRedisBroker_PublishSubscribe(t *testing.T) {
	b := newTestRedisBroker(t)
	channel := "roomcast:test:" + time.Now().Format("150405.000000")

	got, done, cancel := subscribe(t, b, channel)
	// subscription is asynchronous; publish until the first message lands
	require.Eventually(t, func() bool {
		_ = b.Publish(context.Background(), channel, []byte("hello"))
		select {
		case p := <-got:
			return string(p) == "hello"
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
