package websocket

import (
	"fmt"
	"sync"
	"testing"

	roomcast_errors "roomcast/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id     string
	userID string

	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func newFakeConn(id, userID string) *fakeConn {
	return &fakeConn{id: id, userID: userID}
}

func (c *fakeConn) ID() string     { return c.id }
func (c *fakeConn) UserID() string { return c.userID }

func (c *fakeConn) Send(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.frames = append(c.frames, payload)
	return true
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		out = append(out, string(f))
	}
	return out
}

func TestRegistry_RegisterAndDuplicate(t *testing.T) {
	r := NewRegistry()
	c := newFakeConn("c1", "u1")

	require.NoError(t, r.Register(c, "u1"))
	err := r.Register(newFakeConn("c1", "u2"), "u2")
	assert.ErrorIs(t, err, roomcast_errors.ErrDuplicateConnection)

	assert.Equal(t, 1, r.Count())
	assert.Equal(t, []string{"c1"}, r.ConnectionsForUser("u1"))
	assert.Empty(t, r.ConnectionsForUser("u2"))
}

func TestRegistry_JoinLeave(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newFakeConn("c1", "u1"), "u1"))

	require.NoError(t, r.JoinRoom("c1", "room-a"))
	require.NoError(t, r.JoinRoom("c1", "room-b"))
	assert.True(t, r.InRoom("c1", "room-a"))
	assert.ElementsMatch(t, []string{"room-a", "room-b"}, r.RoomsOf("c1"))

	assert.True(t, r.LeaveRoom("c1", "room-a"))
	assert.False(t, r.LeaveRoom("c1", "room-a"))
	assert.False(t, r.InRoom("c1", "room-a"))
	assert.Equal(t, 1, r.RoomCount())

	assert.ErrorIs(t, r.JoinRoom("ghost", "room-a"), roomcast_errors.ErrNotFound)
}

func TestRegistry_UnregisterClearsEveryIndex(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newFakeConn("c1", "u1"), "u1"))
	require.NoError(t, r.Register(newFakeConn("c2", "u1"), "u1"))
	require.NoError(t, r.JoinRoom("c1", "room-a"))
	require.NoError(t, r.JoinRoom("c1", "room-b"))
	require.NoError(t, r.JoinRoom("c2", "room-a"))

	assert.True(t, r.Unregister("c1"))
	assert.False(t, r.Unregister("c1"))

	assert.Equal(t, []string{"c2"}, r.ConnectionsInRoom("room-a"))
	assert.Empty(t, r.ConnectionsInRoom("room-b"))
	assert.Equal(t, []string{"c2"}, r.ConnectionsForUser("u1"))
	assert.Nil(t, r.RoomsOf("c1"))
	assert.Equal(t, 1, r.RoomCount())

	assert.True(t, r.Unregister("c2"))
	assert.Zero(t, r.Count())
	assert.Zero(t, r.RoomCount())
	assert.Empty(t, r.ConnectionsForUser("u1"))
}

func TestRegistry_SendTo(t *testing.T) {
	r := NewRegistry()
	c := newFakeConn("c1", "u1")
	require.NoError(t, r.Register(c, "u1"))

	assert.True(t, r.SendTo("c1", []byte("hi")))
	assert.False(t, r.SendTo("missing", []byte("hi")))

	r.Unregister("c1")
	assert.False(t, r.SendTo("c1", []byte("late")))
	assert.Equal(t, []string{"hi"}, c.received())
}

func TestRegistry_ConcurrentMutations(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			user := fmt.Sprintf("u%d", i%5)
			if err := r.Register(newFakeConn(id, user), user); err != nil {
				t.Error(err)
				return
			}
			for j := 0; j < 5; j++ {
				room := fmt.Sprintf("room-%d", j)
				_ = r.JoinRoom(id, room)
				_ = r.roomSnapshot(room, "")
			}
			if i%2 == 0 {
				r.Unregister(id)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 25, r.Count())
	for j := 0; j < 5; j++ {
		conns := r.ConnectionsInRoom(fmt.Sprintf("room-%d", j))
		assert.Len(t, conns, 25)
		for _, id := range conns {
			_, ok := r.Get(id)
			assert.True(t, ok, "room index references unregistered %s", id)
		}
	}
}
