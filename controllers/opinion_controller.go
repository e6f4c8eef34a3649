package controllers

import (
	"net/http"

	"clarify/middlewares"
	"clarify/services"

	"github.com/gin-gonic/gin"
)

// UpsertOpinion records the user's stance on a topic.
func (ctl *Controller) UpsertOpinion(c *gin.Context) {
	var in services.OpinionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	opinion, err := ctl.Opinions.Upsert(c.Request.Context(), middlewares.UserID(c), in)
	if err != nil {
		ctl.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, opinion)
}
