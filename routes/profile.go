package routes

import (
	"clarify/controllers"

	"github.com/gin-gonic/gin"
)

func SetupProfileRoutes(router *gin.RouterGroup, ctl *controllers.Controller) {
	router.GET("/profile", ctl.GetProfile)
}
