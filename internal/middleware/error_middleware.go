package middleware

import (
	"roomcast/internal/transport/httpdto"
	roomcast_errors "roomcast/pkg/errors"
	"roomcast/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandler renders the last error attached to the gin context.
func ErrorHandler(l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		if l != nil {
			l.WithContext(c.Request.Context()).Error("request error", zap.Error(err))
		}
		c.JSON(roomcast_errors.HTTPStatus(err), httpdto.FromError(err))
	}
}
