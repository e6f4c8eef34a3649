package routes

import (
	"clarify/controllers"

	"github.com/gin-gonic/gin"
)

// SetupConversationRoutes sets up the conversation lifecycle routes
func SetupConversationRoutes(router *gin.RouterGroup, ctl *controllers.Controller) {
	router.GET("/invitations", ctl.GetInvitations)

	conversations := router.Group("/conversations/:id")
	{
		conversations.GET("", ctl.GetConversation)
		conversations.POST("/accept", ctl.AcceptInvitation)
		conversations.POST("/reject", ctl.RejectInvitation)

		// Messages
		conversations.GET("/messages", ctl.GetMessages)
		conversations.POST("/messages", ctl.SendMessage)
		conversations.POST("/messages/:mid/score", ctl.RescoreMessage)

		// Completion
		conversations.POST("/completion", ctl.RequestCompletion)
		conversations.POST("/completion/accept", ctl.AcceptCompletion)
		conversations.POST("/completion/reject", ctl.RejectCompletion)
		conversations.POST("/feedback", ctl.SubmitFeedback)
	}
}
