package websocket

import (
	"context"
	"errors"
	"net/http"

	"roomcast/internal/services"
	"roomcast/internal/telemetry"
	"roomcast/internal/transport/httpdto"
	roomcast_errors "roomcast/pkg/errors"
	"roomcast/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Handler struct {
	registry   *Registry
	dispatcher Dispatcher
	limits     RateLimits
	upgrader   websocket.Upgrader
	logger     *WebSocketLogger
	metrics    *telemetry.Metrics
}

func NewHandler(registry *Registry, dispatcher Dispatcher, log *logger.Logger, metrics *telemetry.Metrics) *Handler {
	return &Handler{
		registry:   registry,
		dispatcher: dispatcher,
		limits:     DefaultRateLimits,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  NewWebSocketLogger(log),
		metrics: metrics,
	}
}

// Connect upgrades an authenticated handshake and serves the connection
// until it closes. It must run behind middleware.AuthMiddleware.
func (h *Handler) Connect(c *gin.Context) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", roomcast_errors.CodeAuthorization))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", userID.String(), "", err)
		return
	}

	client := NewClient(conn, userID.String(), h.limits, h.logger)
	h.register(client)

	// commands still in flight when the socket closes must run to completion
	ctx := logger.WithValues(context.WithoutCancel(c.Request.Context()), "", client.UserID(), client.ID())

	h.metrics.ConnectionOpened(ctx)
	h.logger.Info("connected", client.UserID(), client.ID())

	go client.WritePump()
	client.ReadPump(ctx, h.dispatcher)

	h.registry.Unregister(client.ID())
	h.metrics.ConnectionClosed(ctx)
	h.logger.Info("disconnected", client.UserID(), client.ID(), zap.Int("open_connections", h.registry.Count()))
}

// register adds client, evicting a stale registration under the same id.
func (h *Handler) register(client *Client) {
	err := h.registry.Register(client, client.UserID())
	if err == nil {
		return
	}
	if errors.Is(err, roomcast_errors.ErrDuplicateConnection) {
		h.logger.Error("duplicate connection id, replacing stale registration", client.UserID(), client.ID(), err)
		if old, ok := h.registry.Get(client.ID()); ok {
			old.Close()
		}
		h.registry.Unregister(client.ID())
		if err := h.registry.Register(client, client.UserID()); err == nil {
			return
		}
	}
	h.logger.Error("register connection failed", client.UserID(), client.ID(), err)
}
