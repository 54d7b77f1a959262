package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"roomcast/internal/domain/message"
	"roomcast/internal/events"
	"roomcast/internal/redis"
	"roomcast/internal/services"
	"roomcast/internal/telemetry"
	"roomcast/internal/websocket"
	roomcast_errors "roomcast/pkg/errors"
	"roomcast/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the slice of the chat store the protocol drives.
type Store interface {
	EnsureMember(ctx context.Context, userID, roomID uuid.UUID) error
	PostMessage(ctx context.Context, roomID, senderID uuid.UUID, kind, plaintext string, metadata map[string]interface{}) (message.Message, error)
	EditMessage(ctx context.Context, roomID, messageID, callerID uuid.UUID, plaintext string) (message.Message, error)
	DeleteMessage(ctx context.Context, roomID, messageID, callerID uuid.UUID) (bool, error)
	AddReaction(ctx context.Context, roomID, messageID, userID uuid.UUID, reaction string) (bool, error)
	RemoveReaction(ctx context.Context, roomID, messageID, userID uuid.UUID, reaction string) (bool, error)
	Reactions(ctx context.Context, messageID uuid.UUID) ([]services.ReactionSummary, error)
	FetchHistory(ctx context.Context, roomID uuid.UUID, before uuid.NullUUID, limit int) ([]message.Message, error)
	MarkRead(ctx context.Context, roomID, userID, messageID uuid.UUID) error
	UnreadCount(ctx context.Context, roomID, userID uuid.UUID) (int64, error)
}

// Broadcaster fans a frame out to a room on every instance.
type Broadcaster interface {
	Deliver(ctx context.Context, roomID string, payload []byte, excludeConnID string) int
}

// MessageLimiter caps send_message per user across instances.
type MessageLimiter interface {
	AllowMessage(ctx context.Context, userID string) (*redis.RateLimitResult, error)
}

type Config struct {
	MaxBodyLength int
	ReadReceipts  bool
}

// Call is one decoded inbound command bound to its connection.
type Call struct {
	Conn   websocket.Conn
	UserID uuid.UUID
	Kind   Kind
	RoomID uuid.UUID
	Data   json.RawMessage
}

type handlerFunc func(ctx context.Context, call *Call) error

type route struct {
	needsRoom bool
	class     string
	run       handlerFunc
}

// Protocol decodes inbound frames, authorizes them against the store and
// hands the resulting events to the broadcaster.
type Protocol struct {
	store    Store
	registry *websocket.Registry
	bus      Broadcaster
	limiter  MessageLimiter
	cfg      Config
	log      *logger.Logger
	metrics  *telemetry.Metrics
	routes   map[Kind]route
}

// NewProtocol creates a command protocol with its route table
func NewProtocol(store Store, registry *websocket.Registry, bus Broadcaster, limiter MessageLimiter, cfg Config, log *logger.Logger, metrics *telemetry.Metrics) *Protocol {
	if cfg.MaxBodyLength <= 0 {
		cfg.MaxBodyLength = 4000
	}
	if log == nil {
		log = logger.NewNop()
	}
	p := &Protocol{
		store:    store,
		registry: registry,
		bus:      bus,
		limiter:  limiter,
		cfg:      cfg,
		log:      log.Named("commands"),
		metrics:  metrics,
	}
	l := limits{maxBodyLength: cfg.MaxBodyLength}
	p.routes = map[Kind]route{
		KindJoinRoom:       {needsRoom: true, run: bind(l, p.joinRoom)},
		KindLeaveRoom:      {needsRoom: true, run: bind(l, p.leaveRoom)},
		KindSendMessage:    {needsRoom: true, run: bind(l, p.sendMessage)},
		KindEditMessage:    {needsRoom: true, run: bind(l, p.editMessage)},
		KindDeleteMessage:  {needsRoom: true, run: bind(l, p.deleteMessage)},
		KindAddReaction:    {needsRoom: true, run: bind(l, p.addReaction)},
		KindRemoveReaction: {needsRoom: true, run: bind(l, p.removeReaction)},
		KindReadMessages:   {needsRoom: true, class: websocket.ClassRead, run: bind(l, p.readMessages)},
		KindTypingStart:    {needsRoom: true, class: websocket.ClassTyping, run: bind(l, p.typingStart)},
		KindTypingStop:     {needsRoom: true, class: websocket.ClassTyping, run: bind(l, p.typingStop)},
		KindFetchHistory:   {needsRoom: true, run: bind(l, p.fetchHistory)},
		KindPing:           {class: websocket.ClassPing, run: bind(l, p.ping)},
	}
	for _, k := range Kinds() {
		if _, ok := p.routes[k]; !ok {
			panic(fmt.Sprintf("commands: no handler registered for %s", k))
		}
	}
	return p
}

// bind decodes and validates the command data before calling h, so
// structural failures surface before any authorization check.
func bind[T payload](l limits, h func(ctx context.Context, call *Call, data T) error) handlerFunc {
	return func(ctx context.Context, call *Call) error {
		var data T
		if len(call.Data) > 0 && string(call.Data) != "null" {
			if err := json.Unmarshal(call.Data, &data); err != nil {
				return fmt.Errorf("malformed data for %s: %w", call.Kind, roomcast_errors.ErrProtocol)
			}
		}
		if err := data.validate(l); err != nil {
			return err
		}
		return h(ctx, call, data)
	}
}

// Dispatch handles one inbound frame from conn. Every outcome is reported
// to the caller; nothing here closes the connection.
func (p *Protocol) Dispatch(ctx context.Context, conn websocket.Conn, frame []byte) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		p.reject(ctx, conn, "", fmt.Errorf("undecodable frame: %w", roomcast_errors.ErrProtocol))
		return
	}
	kind, ok := ParseKind(env.Command)
	if !ok {
		p.reject(ctx, conn, env.Command, fmt.Errorf("unknown command %q: %w", env.Command, roomcast_errors.ErrProtocol))
		return
	}
	rt := p.routes[kind]

	if rt.class != "" {
		if limited, ok := conn.(websocket.Limited); ok && !limited.Allow(rt.class) {
			p.fail(ctx, conn, kind, uuid.Nil, fmt.Errorf("%s throttled: %w", kind, roomcast_errors.ErrRateLimited))
			return
		}
	}

	userID, err := uuid.Parse(conn.UserID())
	if err != nil {
		p.fail(ctx, conn, kind, uuid.Nil, fmt.Errorf("connection user %q: %w", conn.UserID(), roomcast_errors.ErrUnauthorized))
		return
	}

	call := &Call{Conn: conn, UserID: userID, Kind: kind, Data: env.Data}
	if rt.needsRoom {
		if env.RoomID == nil {
			p.fail(ctx, conn, kind, uuid.Nil, fmt.Errorf("room_id required: %w", roomcast_errors.ErrProtocol))
			return
		}
		if call.RoomID, err = parseID("room_id", *env.RoomID); err != nil {
			p.fail(ctx, conn, kind, uuid.Nil, err)
			return
		}
	}

	if err := rt.run(ctx, call); err != nil {
		p.fail(ctx, conn, kind, call.RoomID, err)
		return
	}
	p.metrics.Command(ctx, kind.String(), "ok")
}

// reply sends a frame to the caller only. A connection that closed while
// the command ran is skipped.
func (p *Protocol) reply(conn websocket.Conn, frame []byte) {
	p.registry.SendTo(conn.ID(), frame)
}

func (p *Protocol) reject(ctx context.Context, conn websocket.Conn, command string, err error) {
	p.metrics.Command(ctx, "unknown", roomcast_errors.Code(err))
	p.log.WithContext(ctx).Info("rejected frame", zap.String("command", command), zap.Error(err))
	p.reply(conn, errorFrame(events.EventError, command, err))
}

func (p *Protocol) fail(ctx context.Context, conn websocket.Conn, kind Kind, roomID uuid.UUID, err error) {
	code := roomcast_errors.Code(err)
	p.metrics.Command(ctx, kind.String(), code)

	fields := []zap.Field{
		zap.String("command", kind.String()),
		zap.String("user_id", conn.UserID()),
		zap.String("room_id", roomID.String()),
		zap.Error(err),
	}
	log := p.log.WithContext(ctx)
	switch {
	case errors.Is(err, roomcast_errors.ErrUnauthorized):
		log.Warn("command not authorized", fields...)
	case code == roomcast_errors.CodeInternal:
		log.Error("command failed", fields...)
	default:
		log.Debug("command rejected", fields...)
	}
	p.reply(conn, errorFrame(kind.String()+events.AckSuffix, kind.String(), err))
}
