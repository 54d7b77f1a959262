package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"roomcast/internal/domain/message"
	"roomcast/internal/domain/room"
	"roomcast/internal/encryption"
	"roomcast/internal/events"
	"roomcast/internal/redis"
	"roomcast/internal/repository"
	"roomcast/internal/repository/repositorytest"
	"roomcast/internal/services"
	"roomcast/internal/websocket"
	roomcast_errors "roomcast/pkg/errors"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type frame struct {
	Type    string                 `json:"type"`
	Success bool                   `json:"success"`
	Error   *string                `json:"error"`
	Data    map[string]interface{} `json:"data"`
}

type testConn struct {
	id     string
	userID string
	deny   map[string]bool

	mu     sync.Mutex
	frames []frame
	closed bool
}

func (c *testConn) ID() string     { return c.id }
func (c *testConn) UserID() string { return c.userID }

func (c *testConn) Send(payload []byte) bool {
	var f frame
	if err := json.Unmarshal(payload, &f); err != nil {
		panic(err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return true
}

func (c *testConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *testConn) Allow(class string) bool {
	return !c.deny[class]
}

func (c *testConn) received() []frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]frame(nil), c.frames...)
}

func (c *testConn) ofType(typ string) []frame {
	var out []frame
	for _, f := range c.received() {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

func (c *testConn) last(t *testing.T) frame {
	t.Helper()
	got := c.received()
	require.NotEmpty(t, got, "connection %s received nothing", c.id)
	return got[len(got)-1]
}

func (c *testConn) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

type fakeLimiter struct {
	allowed bool
	err     error
	calls   int
}

func (l *fakeLimiter) AllowMessage(ctx context.Context, userID string) (*redis.RateLimitResult, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return &redis.RateLimitResult{Allowed: l.allowed, Limit: 1, ResetIn: 30 * time.Second}, nil
}

type protocolFixture struct {
	db       *gorm.DB
	store    *services.ChatStore
	registry *websocket.Registry
	protocol *Protocol
	room     room.Room
	owner    uuid.UUID
	alice    uuid.UUID
	bob      uuid.UUID
	carol    uuid.UUID
}

func newProtocolFixture(t *testing.T, cfg Config, limiter MessageLimiter) *protocolFixture {
	t.Helper()
	db := repositorytest.NewDB(t)
	codec, err := encryption.NewCodec(strings.Repeat("k", 32))
	require.NoError(t, err)

	store := services.NewChatStore(
		repository.NewRoomRepository(db),
		repository.NewMessageRepository(db),
		codec,
		nil,
		services.ChatStoreConfig{MaxBodyLength: 20, HistoryDefaultLimit: 10, HistoryMaxLimit: 10},
	)
	registry := websocket.NewRegistry()
	bus := websocket.NewBus(registry, events.NewMemoryBroker(), websocket.BusConfig{Channel: "test", InstanceID: "i1"}, nil, nil)
	if cfg.MaxBodyLength == 0 {
		cfg.MaxBodyLength = 20
	}

	f := &protocolFixture{
		db:       db,
		store:    store,
		registry: registry,
		owner:    uuid.New(),
		alice:    uuid.New(),
		bob:      uuid.New(),
		carol:    uuid.New(),
	}
	f.protocol = NewProtocol(store, registry, bus, limiter, cfg, nil, nil)
	f.room, err = store.CreateRoom(context.Background(), room.KindGroup, "general", f.owner, []room.MemberSpec{
		{UserID: f.alice},
		{UserID: f.bob},
	}, nil)
	require.NoError(t, err)
	return f
}

func (f *protocolFixture) connect(t *testing.T, userID uuid.UUID) *testConn {
	t.Helper()
	c := &testConn{id: uuid.NewString(), userID: userID.String()}
	require.NoError(t, f.registry.Register(c, c.userID))
	return c
}

func (f *protocolFixture) send(c *testConn, command string, data interface{}) {
	f.sendTo(c, command, f.room.ID.String(), data)
}

func (f *protocolFixture) sendTo(c *testConn, command, roomID string, data interface{}) {
	env := map[string]interface{}{"command": command, "room_id": roomID}
	if data != nil {
		env["data"] = data
	}
	raw, err := json.Marshal(env)
	if err != nil {
		panic(err)
	}
	f.protocol.Dispatch(context.Background(), c, raw)
}

func (f *protocolFixture) joined(t *testing.T, userID uuid.UUID) *testConn {
	t.Helper()
	c := f.connect(t, userID)
	f.send(c, "join_room", nil)
	ack := c.last(t)
	require.Equal(t, "join_room_ack", ack.Type)
	require.True(t, ack.Success, "join failed: %v", ack.Error)
	c.reset()
	return c
}

func (f *protocolFixture) messageCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&message.Message{}).Count(&n).Error)
	return n
}

func errorCode(f frame) string {
	code, _ := f.Data["code"].(string)
	return code
}

func TestProtocol_EveryKindIsRouted(t *testing.T) {
	f := newProtocolFixture(t, Config{}, nil)
	for _, k := range Kinds() {
		_, ok := f.protocol.routes[k]
		assert.True(t, ok, "no route for %s", k)

		parsed, ok := ParseKind(k.String())
		assert.True(t, ok)
		assert.Equal(t, k, parsed)
	}
	_, ok := ParseKind("dance")
	assert.False(t, ok)
}

func TestProtocol_JoinRequiresMembership(t *testing.T) {
	f := newProtocolFixture(t, Config{}, nil)
	carol := f.connect(t, f.carol)

	f.send(carol, "join_room", nil)

	ack := carol.last(t)
	assert.Equal(t, "join_room_ack", ack.Type)
	assert.False(t, ack.Success)
	assert.Equal(t, roomcast_errors.CodeAuthorization, errorCode(ack))
	assert.False(t, f.registry.InRoom(carol.ID(), f.room.ID.String()))
}

func TestProtocol_SendMessageBroadcastsToRoom(t *testing.T) {
	f := newProtocolFixture(t, Config{}, nil)
	alice := f.joined(t, f.alice)
	bob := f.joined(t, f.bob)

	f.send(alice, "send_message", map[string]interface{}{"content": "hello", "metadata": map[string]interface{}{"reply_to": "x"}})

	for _, c := range []*testConn{alice, bob} {
		got := c.ofType(events.EventMessageReceived)
		require.Len(t, got, 1, "connection %s", c.ID())
		msg := got[0].Data["message"].(map[string]interface{})
		assert.Equal(t, "hello", msg["content"])
		assert.Equal(t, f.alice.String(), msg["sender_id"])
		assert.Equal(t, message.KindText, msg["kind"])
	}
	acks := alice.ofType("send_message_ack")
	require.Len(t, acks, 1)
	assert.True(t, acks[0].Success)
	assert.Empty(t, bob.ofType("send_message_ack"))
}

func TestProtocol_NonMemberSendCreatesNothing(t *testing.T) {
	f := newProtocolFixture(t, Config{}, nil)
	bob := f.joined(t, f.bob)
	carol := f.connect(t, f.carol)

	f.send(carol, "send_message", map[string]interface{}{"content": "let me in"})

	ack := carol.last(t)
	assert.Equal(t, "send_message_ack", ack.Type)
	assert.False(t, ack.Success)
	require.NotNil(t, ack.Error)
	assert.Equal(t, roomcast_errors.CodeAuthorization, errorCode(ack))
	assert.Zero(t, f.messageCount(t))
	assert.Empty(t, bob.received())
}

func TestProtocol_StructuralValidationPrecedesAuthorization(t *testing.T) {
	f := newProtocolFixture(t, Config{}, nil)
	carol := f.connect(t, f.carol)

	tests := []struct {
		name    string
		command string
		roomID  string
		data    interface{}
		code    string
	}{
		{"body too long", "send_message", f.room.ID.String(), map[string]interface{}{"content": strings.Repeat("a", 21)}, roomcast_errors.CodeValidation},
		{"blank body", "send_message", f.room.ID.String(), map[string]interface{}{"content": "   "}, roomcast_errors.CodeValidation},
		{"bad room id", "join_room", "not-a-uuid", nil, roomcast_errors.CodeProtocol},
		{"missing room id", "fetch_history", "", nil, roomcast_errors.CodeProtocol},
		{"missing message id", "delete_message", f.room.ID.String(), map[string]interface{}{}, roomcast_errors.CodeProtocol},
		{"client system message", "send_message", f.room.ID.String(), map[string]interface{}{"content": "server restarting", "kind": message.KindSystem}, roomcast_errors.CodeValidation},
		{"reaction too long", "add_reaction", f.room.ID.String(), map[string]interface{}{"message_id": uuid.NewString(), "reaction": strings.Repeat("x", 33)}, roomcast_errors.CodeValidation},
		{"malformed data", "edit_message", f.room.ID.String(), "not an object", roomcast_errors.CodeProtocol},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			carol.reset()
			if tt.roomID == "" {
				raw := []byte(fmt.Sprintf(`{"command":%q}`, tt.command))
				f.protocol.Dispatch(context.Background(), carol, raw)
			} else {
				f.sendTo(carol, tt.command, tt.roomID, tt.data)
			}
			ack := carol.last(t)
			assert.Equal(t, tt.command+"_ack", ack.Type)
			assert.False(t, ack.Success)
			assert.Equal(t, tt.code, errorCode(ack))
		})
	}
	assert.Zero(t, f.messageCount(t))
}

func TestProtocol_MemberCannotSpoofSystemMessage(t *testing.T) {
	f := newProtocolFixture(t, Config{}, nil)
	alice := f.joined(t, f.alice)
	bob := f.joined(t, f.bob)

	f.send(alice, "send_message", map[string]interface{}{"content": "maintenance", "kind": message.KindSystem})

	ack := alice.last(t)
	assert.False(t, ack.Success)
	assert.Equal(t, roomcast_errors.CodeValidation, errorCode(ack))
	assert.Zero(t, f.messageCount(t))
	assert.Empty(t, bob.received())
}

func TestProtocol_InternalErrorsHideDetail(t *testing.T) {
	f := newProtocolFixture(t, Config{}, nil)
	alice := f.joined(t, f.alice)

	sqlDB, err := f.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	f.send(alice, "send_message", map[string]interface{}{"content": "hello"})

	ack := alice.last(t)
	assert.False(t, ack.Success)
	assert.Equal(t, roomcast_errors.CodeInternal, errorCode(ack))
	require.NotNil(t, ack.Error)
	assert.Equal(t, internalErrorMessage, *ack.Error)
}

func TestErrorFrame_KeepsClientErrorText(t *testing.T) {
	var f frame
	raw := errorFrame("edit_message_ack", "edit_message", fmt.Errorf("content too long: %w", roomcast_errors.ErrInvalidInput))
	require.NoError(t, json.Unmarshal(raw, &f))
	require.NotNil(t, f.Error)
	assert.Contains(t, *f.Error, "content too long")

	raw = errorFrame("edit_message_ack", "edit_message", errors.New("sqlite: disk I/O error"))
	require.NoError(t, json.Unmarshal(raw, &f))
	assert.Equal(t, internalErrorMessage, *f.Error)
	assert.Equal(t, roomcast_errors.CodeInternal, errorCode(f))
}

func TestProtocol_UnknownAndUndecodableFramesKeepConnectionOpen(t *testing.T) {
	f := newProtocolFixture(t, Config{}, nil)
	c := f.connect(t, f.alice)

	f.send(c, "dance", nil)
	got := c.last(t)
	assert.Equal(t, events.EventError, got.Type)
	assert.Equal(t, roomcast_errors.CodeProtocol, errorCode(got))

	f.protocol.Dispatch(context.Background(), c, []byte("{nope"))
	got = c.last(t)
	assert.Equal(t, events.EventError, got.Type)
	assert.Equal(t, roomcast_errors.CodeProtocol, errorCode(got))

	assert.False(t, c.closed)
	f.protocol.Dispatch(context.Background(), c, []byte(`{"command":"ping"}`))
	assert.Equal(t, events.EventPong, c.last(t).Type)
}

func TestProtocol_EditBroadcastsAndHistoryReflectsIt(t *testing.T) {
	f := newProtocolFixture(t, Config{}, nil)
	alice := f.joined(t, f.alice)
	bob := f.joined(t, f.bob)

	f.send(alice, "send_message", map[string]interface{}{"content": "helo"})
	msgID := alice.ofType("send_message_ack")[0].Data["message_id"].(string)

	f.send(bob, "edit_message", map[string]interface{}{"message_id": msgID, "content": "hijack"})
	assert.Equal(t, roomcast_errors.CodeAuthorization, errorCode(bob.last(t)))

	f.send(alice, "edit_message", map[string]interface{}{"message_id": msgID, "content": "hello"})
	edited := bob.ofType(events.EventMessageEdited)
	require.Len(t, edited, 1)
	assert.Equal(t, "hello", edited[0].Data["message"].(map[string]interface{})["content"])

	bob.reset()
	f.send(bob, "fetch_history", nil)
	page := bob.last(t)
	require.Equal(t, events.EventHistory, page.Type)
	msgs := page.Data["messages"].([]interface{})
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].(map[string]interface{})["content"])
}

func TestProtocol_DeleteByModerator(t *testing.T) {
	f := newProtocolFixture(t, Config{}, nil)
	alice := f.joined(t, f.alice)
	bob := f.joined(t, f.bob)
	owner := f.joined(t, f.owner)

	f.send(alice, "send_message", map[string]interface{}{"content": "oops"})
	msgID := alice.ofType("send_message_ack")[0].Data["message_id"].(string)

	f.send(bob, "delete_message", map[string]interface{}{"message_id": msgID})
	assert.Equal(t, roomcast_errors.CodeAuthorization, errorCode(bob.last(t)))

	f.send(owner, "delete_message", map[string]interface{}{"message_id": msgID})
	deleted := alice.ofType(events.EventMessageDeleted)
	require.Len(t, deleted, 1)
	assert.Equal(t, msgID, deleted[0].Data["message_id"])
	assert.Equal(t, f.owner.String(), deleted[0].Data["deleted_by"])

	f.send(owner, "delete_message", map[string]interface{}{"message_id": msgID})
	assert.Equal(t, roomcast_errors.CodeNotFound, errorCode(owner.last(t)))
}

func TestProtocol_ReactionsAreIdempotent(t *testing.T) {
	f := newProtocolFixture(t, Config{}, nil)
	alice := f.joined(t, f.alice)
	bob := f.joined(t, f.bob)

	f.send(alice, "send_message", map[string]interface{}{"content": "vote"})
	msgID := alice.ofType("send_message_ack")[0].Data["message_id"].(string)
	react := map[string]interface{}{"message_id": msgID, "reaction": "👍"}

	f.send(bob, "add_reaction", react)
	f.send(bob, "add_reaction", react)

	changes := alice.ofType(events.EventReactionChanged)
	require.Len(t, changes, 1)
	tally := changes[0].Data["reactions"].([]interface{})
	require.Len(t, tally, 1)
	assert.Equal(t, float64(1), tally[0].(map[string]interface{})["count"])

	acks := bob.ofType("add_reaction_ack")
	require.Len(t, acks, 2)
	assert.Equal(t, true, acks[0].Data["changed"])
	assert.Equal(t, false, acks[1].Data["changed"])

	f.send(bob, "remove_reaction", react)
	changes = alice.ofType(events.EventReactionChanged)
	require.Len(t, changes, 2)
	assert.Equal(t, reactionRemoved, changes[1].Data["action"])
	assert.Empty(t, changes[1].Data["reactions"])
}

func TestProtocol_TypingExcludesSender(t *testing.T) {
	f := newProtocolFixture(t, Config{}, nil)
	alice := f.joined(t, f.alice)
	bob := f.joined(t, f.bob)

	f.send(alice, "typing_start", nil)

	assert.Empty(t, alice.received(), "typing is not acked or echoed")
	got := bob.ofType(events.EventTypingStarted)
	require.Len(t, got, 1)
	assert.Equal(t, f.alice.String(), got[0].Data["user_id"])

	outsider := f.connect(t, f.alice)
	f.send(outsider, "typing_stop", nil)
	assert.Equal(t, roomcast_errors.CodeNotFound, errorCode(outsider.last(t)))
}

func TestProtocol_LeaveRoomStopsDelivery(t *testing.T) {
	f := newProtocolFixture(t, Config{}, nil)
	alice := f.joined(t, f.alice)
	bob := f.joined(t, f.bob)

	f.send(bob, "leave_room", nil)
	assert.True(t, bob.last(t).Success)
	bob.reset()

	f.send(alice, "send_message", map[string]interface{}{"content": "anyone?"})
	assert.Empty(t, bob.received())

	f.send(bob, "leave_room", nil)
	assert.Equal(t, roomcast_errors.CodeNotFound, errorCode(bob.last(t)))
}

func TestProtocol_ReadMessagesAndUnreadCount(t *testing.T) {
	f := newProtocolFixture(t, Config{ReadReceipts: true}, nil)
	alice := f.joined(t, f.alice)

	for _, text := range []string{"one", "two", "three"} {
		f.send(alice, "send_message", map[string]interface{}{"content": text})
	}
	ids := alice.ofType("send_message_ack")
	require.Len(t, ids, 3)

	bob := f.connect(t, f.bob)
	f.send(bob, "join_room", nil)
	assert.Equal(t, float64(3), bob.last(t).Data["unread_count"])

	f.send(bob, "read_messages", map[string]interface{}{"message_id": ids[1].Data["message_id"]})
	receipts := alice.ofType(events.EventMessagesRead)
	require.Len(t, receipts, 1)
	assert.Equal(t, f.bob.String(), receipts[0].Data["user_id"])
	assert.Empty(t, bob.ofType(events.EventMessagesRead), "reader is excluded")

	unread, err := f.store.UnreadCount(context.Background(), f.room.ID, f.bob)
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)
}

func TestProtocol_ReadReceiptsDisabled(t *testing.T) {
	f := newProtocolFixture(t, Config{}, nil)
	alice := f.joined(t, f.alice)
	bob := f.joined(t, f.bob)

	f.send(alice, "send_message", map[string]interface{}{"content": "hi"})
	msgID := alice.ofType("send_message_ack")[0].Data["message_id"]

	f.send(bob, "read_messages", map[string]interface{}{"message_id": msgID})
	assert.True(t, bob.last(t).Success)
	assert.Empty(t, alice.ofType(events.EventMessagesRead))
}

func TestProtocol_ThrottledClass(t *testing.T) {
	f := newProtocolFixture(t, Config{}, nil)
	c := f.connect(t, f.alice)
	c.deny = map[string]bool{websocket.ClassPing: true}

	f.protocol.Dispatch(context.Background(), c, []byte(`{"command":"ping"}`))

	ack := c.last(t)
	assert.Equal(t, "ping_ack", ack.Type)
	assert.Equal(t, roomcast_errors.CodeRateLimited, errorCode(ack))
}

func TestProtocol_MessageLimiter(t *testing.T) {
	t.Run("denied", func(t *testing.T) {
		limiter := &fakeLimiter{allowed: false}
		f := newProtocolFixture(t, Config{}, limiter)
		alice := f.joined(t, f.alice)

		f.send(alice, "send_message", map[string]interface{}{"content": "spam"})

		assert.Equal(t, roomcast_errors.CodeRateLimited, errorCode(alice.last(t)))
		assert.Zero(t, f.messageCount(t))
	})

	t.Run("limiter error fails open", func(t *testing.T) {
		limiter := &fakeLimiter{err: errors.New("redis down")}
		f := newProtocolFixture(t, Config{}, limiter)
		alice := f.joined(t, f.alice)

		f.send(alice, "send_message", map[string]interface{}{"content": "still here"})

		assert.Equal(t, 1, limiter.calls)
		assert.Equal(t, int64(1), f.messageCount(t))
	})
}

func TestProtocol_FetchHistoryPages(t *testing.T) {
	f := newProtocolFixture(t, Config{}, nil)
	alice := f.joined(t, f.alice)
	for i := 0; i < 4; i++ {
		f.send(alice, "send_message", map[string]interface{}{"content": fmt.Sprintf("m%d", i)})
	}

	alice.reset()
	f.send(alice, "fetch_history", map[string]interface{}{"limit": 2})
	page := alice.last(t)
	msgs := page.Data["messages"].([]interface{})
	require.Len(t, msgs, 2)
	assert.Equal(t, "m2", msgs[0].(map[string]interface{})["content"])
	assert.Equal(t, "m3", msgs[1].(map[string]interface{})["content"])

	f.send(alice, "fetch_history", map[string]interface{}{"limit": 2, "before_message_id": page.Data["next_before_message_id"]})
	msgs = alice.last(t).Data["messages"].([]interface{})
	require.Len(t, msgs, 2)
	assert.Equal(t, "m0", msgs[0].(map[string]interface{})["content"])
}

func TestProtocol_AckSkippedAfterDisconnect(t *testing.T) {
	f := newProtocolFixture(t, Config{}, nil)
	alice := f.joined(t, f.alice)
	f.registry.Unregister(alice.ID())

	f.send(alice, "send_message", map[string]interface{}{"content": "parting"})

	assert.Empty(t, alice.received())
	assert.Equal(t, int64(1), f.messageCount(t), "persistence completes without the connection")
}
