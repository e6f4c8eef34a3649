package controllers

import (
	"net/http"

	"clarify/middlewares"
	"clarify/models"

	"github.com/gin-gonic/gin"
)

type feedbackRequest struct {
	Feedback string `json:"feedback"`
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

func (ctl *Controller) GetConversation(c *gin.Context) {
	conv, err := ctl.Lifecycle.Get(c.Request.Context(), c.Param("id"), middlewares.UserID(c))
	if err != nil {
		ctl.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (ctl *Controller) GetMessages(c *gin.Context) {
	msgs, err := ctl.Lifecycle.Messages(c.Request.Context(), c.Param("id"), middlewares.UserID(c))
	if err != nil {
		ctl.respondError(c, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// GetInvitations lists open invitations addressed to the current user.
func (ctl *Controller) GetInvitations(c *gin.Context) {
	convs, err := ctl.Lifecycle.Invitations(c.Request.Context(), middlewares.UserID(c))
	if err != nil {
		ctl.respondError(c, err)
		return
	}
	if convs == nil {
		convs = []models.Conversation{}
	}
	c.JSON(http.StatusOK, gin.H{"invitations": convs})
}

func (ctl *Controller) AcceptInvitation(c *gin.Context) {
	conv, err := ctl.Lifecycle.AcceptInvitation(c.Request.Context(), c.Param("id"), middlewares.UserID(c))
	if err != nil {
		ctl.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (ctl *Controller) RejectInvitation(c *gin.Context) {
	conv, err := ctl.Lifecycle.RejectInvitation(c.Request.Context(), c.Param("id"), middlewares.UserID(c))
	if err != nil {
		ctl.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// SendMessage posts a message. A stored message whose analysis failed is
// still a success; the response then carries the analysis error.
func (ctl *Controller) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	res, err := ctl.Lifecycle.SendMessage(c.Request.Context(), c.Param("id"), middlewares.UserID(c), req.Content)
	if err != nil {
		ctl.respondError(c, err)
		return
	}

	body := gin.H{
		"conversation": res.Conversation,
		"message":      res.Message,
	}
	if res.Score != nil {
		body["score"] = res.Score.Score
		body["metrics"] = res.Score.Metrics
		body["spam_penalty"] = res.Score.SpamPenalty
		body["points_awarded"] = res.Score.Award.Applied
		body["leveled_up"] = res.Score.Award.LeveledUp
	}
	if res.AnalysisErr != nil {
		body["analysis_error"] = "Message analysis failed"
		body["retryable"] = true
	}
	c.JSON(http.StatusCreated, body)
}

// RescoreMessage retries the analysis of a message that has none.
func (ctl *Controller) RescoreMessage(c *gin.Context) {
	res, err := ctl.Lifecycle.Rescore(c.Request.Context(), c.Param("id"), c.Param("mid"), middlewares.UserID(c))
	if err != nil {
		ctl.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":        res.Message,
		"score":          res.Score,
		"spam_penalty":   res.SpamPenalty,
		"already_scored": res.AlreadyScored,
	})
}

func (ctl *Controller) RequestCompletion(c *gin.Context) {
	var req feedbackRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	conv, err := ctl.Lifecycle.RequestCompletion(c.Request.Context(), c.Param("id"), middlewares.UserID(c), req.Feedback)
	if err != nil {
		ctl.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (ctl *Controller) AcceptCompletion(c *gin.Context) {
	ctl.respondCompletion(c, true)
}

func (ctl *Controller) RejectCompletion(c *gin.Context) {
	ctl.respondCompletion(c, false)
}

func (ctl *Controller) respondCompletion(c *gin.Context, accept bool) {
	var req feedbackRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	conv, err := ctl.Lifecycle.RespondCompletion(c.Request.Context(), c.Param("id"), middlewares.UserID(c), accept, req.Feedback)
	if err != nil {
		ctl.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// SubmitFeedback records closing feedback; the second participant's feedback completes the conversation.
func (ctl *Controller) SubmitFeedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	conv, err := ctl.Lifecycle.SubmitFeedback(c.Request.Context(), c.Param("id"), middlewares.UserID(c), req.Feedback)
	if err != nil {
		ctl.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}
