package routes

import (
	"clarify/controllers"

	"github.com/gin-gonic/gin"
)

// SetupMatchingRoutes sets up partner matching and opinion routes
func SetupMatchingRoutes(router *gin.RouterGroup, ctl *controllers.Controller) {
	matches := router.Group("/matches")
	{
		matches.GET("", ctl.GetMatches)
		matches.POST("/invite", ctl.InviteMatch)
	}
	router.PUT("/opinions", ctl.UpsertOpinion)
}
