package controllers

import (
	"net/http"
	"time"

	"clarify/middlewares"
	"clarify/services"

	"github.com/gin-gonic/gin"
)

type inviteRequest struct {
	TopicID      string `json:"topic_id" binding:"required"`
	PartnerID    string `json:"partner_id" binding:"required"`
	TimerMinutes int    `json:"timer_minutes"`
}

// GetMatches lists partners for the current user, filtered by ?type= and ?tag=.
func (ctl *Controller) GetMatches(c *gin.Context) {
	matchType, err := services.ParseMatchType(c.Query("type"))
	if err != nil {
		ctl.respondError(c, err)
		return
	}
	matches, err := ctl.Matchmaker.FindMatches(c.Request.Context(), middlewares.UserID(c), services.MatchQuery{
		Type: matchType,
		Tag:  c.DefaultQuery("tag", services.TagAll),
	})
	if err != nil {
		ctl.respondError(c, err)
		return
	}
	if matches == nil {
		matches = []services.Match{}
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches, "count": len(matches)})
}

// InviteMatch sends an invitation to a matched partner.
func (ctl *Controller) InviteMatch(c *gin.Context) {
	var req inviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	conv, err := ctl.Matchmaker.Invite(c.Request.Context(), middlewares.UserID(c), services.InviteRequest{
		TopicID:   req.TopicID,
		PartnerID: req.PartnerID,
		Timer:     time.Duration(req.TimerMinutes) * time.Minute,
	})
	if err != nil {
		ctl.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}
