package middleware

import (
	"net/http"
	"strings"

	"roomcast/internal/services"
	"roomcast/internal/transport/httpdto"
	roomcast_errors "roomcast/pkg/errors"
	"roomcast/pkg/logger"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware verifies the access token from the Authorization header or,
// for browser WebSocket handshakes, the token query parameter.
func AuthMiddleware(service *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := service.Authenticate(extractToken(c))
		if err != nil {
			c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", roomcast_errors.CodeAuthorization))
			c.Abort()
			return
		}

		ctx := services.WithUserContext(c.Request.Context(), userID)
		ctx = logger.WithValues(ctx, "", userID.String(), "")
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func extractToken(c *gin.Context) string {
	if token := extractBearer(c); token != "" {
		return token
	}
	return strings.TrimSpace(c.Query("token"))
}

func extractBearer(c *gin.Context) string {
	value := c.GetHeader("Authorization")
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
