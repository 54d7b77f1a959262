package websocket

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// Throttle classes for inbound commands.
const (
	ClassTyping = "typing"
	ClassRead   = "read"
	ClassPing   = "ping"
)

// Rate limits per minute
type RateLimits struct {
	MaxTypingEvents int
	MaxReadReceipts int
	MaxPingMessages int
}

var DefaultRateLimits = RateLimits{
	MaxTypingEvents: 60,
	MaxReadReceipts: 120,
	MaxPingMessages: 60,
}

// ClientRateLimiter tracks per-minute token buckets for one connection
type ClientRateLimiter struct {
	limits     RateLimits
	tokens     map[string]int
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// NewClientRateLimiter creates a rate limiter with full buckets
func NewClientRateLimiter(limits RateLimits) *ClientRateLimiter {
	return newClientRateLimiter(limits, time.Now)
}

func newClientRateLimiter(limits RateLimits, now func() time.Time) *ClientRateLimiter {
	rl := &ClientRateLimiter{limits: limits, now: now}
	rl.lastRefill = now()
	rl.refillTokens()
	return rl
}

// Allow spends one token of class. Unknown classes are never throttled.
func (rl *ClientRateLimiter) Allow(class string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastRefill) >= time.Minute {
		rl.refillTokens()
		rl.lastRefill = now
	}

	remaining, limited := rl.tokens[class]
	if !limited {
		return true
	}
	if remaining <= 0 {
		return false
	}
	rl.tokens[class] = remaining - 1
	return true
}

func (rl *ClientRateLimiter) refillTokens() {
	rl.tokens = map[string]int{
		ClassTyping: rl.limits.MaxTypingEvents,
		ClassRead:   rl.limits.MaxReadReceipts,
		ClassPing:   rl.limits.MaxPingMessages,
	}
}

// Dispatcher processes one inbound frame for a connection.
type Dispatcher interface {
	Dispatch(ctx context.Context, conn Conn, frame []byte)
}

// Limited is implemented by connections that throttle inbound commands.
type Limited interface {
	Allow(class string) bool
}

// Client is one upgraded WebSocket connection. Frames are read and
// dispatched sequentially by ReadPump; WritePump drains the send queue.
type Client struct {
	id           string
	userID       string
	conn         *websocket.Conn
	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	rateLimiter  *ClientRateLimiter
	connectedAt  time.Time
	lastActivity atomic.Int64
	logger       *WebSocketLogger
}

func NewClient(conn *websocket.Conn, userID string, limits RateLimits, logger *WebSocketLogger) *Client {
	now := time.Now()
	c := &Client{
		id:          uuid.New().String(),
		userID:      userID,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		done:        make(chan struct{}),
		rateLimiter: NewClientRateLimiter(limits),
		connectedAt: now,
		logger:      logger,
	}
	c.lastActivity.Store(now.UnixNano())
	return c
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) UserID() string {
	return c.userID
}

func (c *Client) Allow(class string) bool {
	return c.rateLimiter.Allow(class)
}

// Send queues payload for the write pump. A full queue drops the frame.
func (c *Client) Send(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	case <-c.done:
		return false
	default:
		c.logger.Warn("send queue full, frame dropped", c.userID, c.id)
		return false
	}
}

// Close stops both pumps. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

// ReadPump reads frames until the socket fails or the client is closed,
// handing each one to d before reading the next.
func (c *Client) ReadPump(ctx context.Context, d Dispatcher) {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.lastActivity.Store(time.Now().UnixNano())
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket unexpected close", c.userID, c.id, err)
			}
			return
		}
		c.lastActivity.Store(time.Now().UnixNano())
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		d.Dispatch(ctx, c, bytes.TrimSpace(frame))
	}
}

// WritePump writes queued frames, one per WebSocket message, and keeps the
// connection alive with pings. It closes the socket when it exits.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Close()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			c.flush()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// flush writes whatever is still queued when the client closes.
func (c *Client) flush() {
	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}
