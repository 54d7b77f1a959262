package events

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNatsBroker_PublishSubscribe(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url, nats.Timeout(time.Second))
	if err != nil {
		t.Skipf("NATS not available at %s: %v", url, err)
	}
	b := NewNatsBroker(conn)
	defer b.Close()

	require.NoError(t, b.Ping(context.Background()))

	got, done, cancel := subscribe(t, b, "roomcast.test")
	require.Eventually(t, func() bool {
		_ = b.Publish(context.Background(), "roomcast.test", []byte("hello"))
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
