package middlewares

import (
	"net/http"
	"strings"

	"clarify/internal/ratelimit"
	"clarify/utils"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware verifies the session JWT and sets the user id in context. The
// request context charges store calls to that user's budget. Browsers cannot set headers on WebSocket upgrades, so a "token" query
// parameter is accepted as well.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		var token string
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid Authorization token format"})
				return
			}
			token = parts[1]
		}
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing Authorization token"})
			return
		}

		userID, err := utils.GetUserIDFromToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set("userID", userID)
		c.Request = c.Request.WithContext(ratelimit.WithCaller(c.Request.Context(), userID))
		c.Next()
	}
}

// UserID returns the session user set by AuthMiddleware.
func UserID(c *gin.Context) string {
	return c.GetString("userID")
}
