package controllers

import (
	"net/http"

	"clarify/middlewares"
	"clarify/models"

	"github.com/gin-gonic/gin"
)

type badgeView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Earned      bool   `json:"earned"`
}

// GetProfile returns the current user's progression, creating the profile on first access.
func (ctl *Controller) GetProfile(c *gin.Context) {
	profile, err := ctl.Progression.Profile(c.Request.Context(), middlewares.UserID(c))
	if err != nil {
		ctl.respondError(c, err)
		return
	}

	badges := make([]badgeView, 0, len(models.BadgeTable))
	for _, b := range models.BadgeTable {
		badges = append(badges, badgeView{ID: b.ID, Name: b.Name, Description: b.Description, Earned: profile.HasBadge(b.ID)})
	}
	intoLevel := profile.TotalPoints % models.PointsPerLevel
	c.JSON(http.StatusOK, gin.H{
		"profile":           profile,
		"badges":            badges,
		"points_into_level": intoLevel,
		"points_to_next":    models.PointsPerLevel - intoLevel,
	})
}
