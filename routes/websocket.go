package routes

import (
	"clarify/websocket"

	"github.com/gin-gonic/gin"
)

// SetupWebsocketRoutes sets up the live notification and conversation view sockets
func SetupWebsocketRoutes(router *gin.RouterGroup, h *websocket.Handler) {
	ws := router.Group("/ws")
	{
		ws.GET("/notifications", h.Notifications)
		ws.GET("/conversations/:id", h.ConversationView)
	}
}
