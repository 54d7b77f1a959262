package websocket

import (
	"roomcast/pkg/logger"

	"go.uber.org/zap"
)

// WebSocketLogger provides structured logging for connection events
type WebSocketLogger struct {
	logger *zap.Logger
}

func NewWebSocketLogger(base *logger.Logger) *WebSocketLogger {
	if base == nil {
		base = logger.NewNop()
	}
	return &WebSocketLogger{
		logger: base.Named("websocket").Logger,
	}
}

func (l *WebSocketLogger) Info(event, userID, connectionID string, fields ...zap.Field) {
	l.logger.Info("websocket_event", l.fields(event, userID, connectionID, fields)...)
}

func (l *WebSocketLogger) Warn(event, userID, connectionID string, fields ...zap.Field) {
	l.logger.Warn("websocket_warning", l.fields(event, userID, connectionID, fields)...)
}

func (l *WebSocketLogger) Error(event, userID, connectionID string, err error, fields ...zap.Field) {
	l.logger.Error("websocket_error", l.fields(event, userID, connectionID, append(fields, zap.Error(err)))...)
}

func (l *WebSocketLogger) fields(event, userID, connectionID string, extra []zap.Field) []zap.Field {
	return append([]zap.Field{
		zap.String("event", event),
		zap.String("user_id", userID),
		zap.String("connection_id", connectionID),
	}, extra...)
}
