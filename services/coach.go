package services

import (
	"context"
	"fmt"

	"clarify/internal/logger"
	"clarify/models"
	"clarify/store"
)

// ScoreResult is the outcome of scoring one message.
type ScoreResult struct {
	Message          models.Message
	Score            models.ParticipantScore
	Metrics          models.MessageMetrics
	ConsecutiveCount int
	SpamPenalty      bool
	AlreadyScored    bool
	Award            AwardResult
}

// Coach runs the per-message scoring pipeline: heuristics, oracle assessment,
// conversation score aggregation, profile progression and message annotation.
type Coach struct {
	gw          *store.Gateway
	oracle      Oracle
	progression *Progression
	msgLocks    *keyedMutex
	convLocks   *keyedMutex
	log         *logger.Logger
}

func NewCoach(gw *store.Gateway, oracle Oracle, progression *Progression, log *logger.Logger) *Coach {
	return &Coach{
		gw:          gw,
		oracle:      oracle,
		progression: progression,
		msgLocks:    newKeyedMutex(),
		convLocks:   newKeyedMutex(),
		log:         log.With("service", "Coach"),
	}
}

// ScoreMessage scores a user message that has no analysis yet. A message that
// already carries analysis is returned unchanged. Nothing is written unless the
// oracle returns a complete assessment.
//
// The annotation is written last and marks the message as done. The conversation
// score and the profile award are keyed by the message, so a call that failed
// after either of them can be repeated without counting the change twice.
func (c *Coach) ScoreMessage(ctx context.Context, messageID string) (ScoreResult, error) {
	unlock := c.msgLocks.Lock(messageID)
	defer unlock()

	msg, err := c.gw.Messages.Get(ctx, messageID)
	if err != nil {
		return ScoreResult{}, fmt.Errorf("failed to load message: %w", err)
	}
	if msg.Analyzed() {
		return ScoreResult{Message: msg, AlreadyScored: true}, nil
	}
	if msg.IsSystem() {
		return ScoreResult{}, models.NewValidationError("message", "system messages are not scored")
	}

	conv, err := c.gw.Conversations.Get(ctx, msg.ConversationID)
	if err != nil {
		return ScoreResult{}, fmt.Errorf("failed to load conversation: %w", err)
	}
	if !AcceptsMessages(conv.Status) {
		return ScoreResult{}, fmt.Errorf("cannot score messages of a %s conversation: %w", conv.Status, models.ErrInvalidTransition)
	}

	topic, err := c.gw.Topics.Get(ctx, conv.TopicID)
	if err != nil {
		c.log.Warn("scoring without topic details", "topic", conv.TopicID, "error", err)
		topic = models.Topic{ID: conv.TopicID}
	}

	history, err := c.gw.Messages.Filter(ctx, store.Filter{"conversation_id": conv.ID}, "sent_at", 0)
	if err != nil {
		return ScoreResult{}, fmt.Errorf("failed to load conversation messages: %w", err)
	}

	req := models.AssessmentRequest{
		Topic:            topic,
		Message:          msg,
		Context:          RecentContext(history, msg),
		Metrics:          AnalyzeContent(msg.Content),
		ConsecutiveCount: ConsecutiveCount(upTo(history, msg), msg.SenderID),
	}
	req.SpamPenalty = req.ConsecutiveCount > SpamThreshold

	raw, err := c.oracle.Invoke(ctx, OracleRequest{Prompt: BuildAssessmentPrompt(req), Schema: AssessmentSchema()})
	if err != nil {
		return ScoreResult{}, fmt.Errorf("scoring oracle failed: %w", err)
	}
	assessment, err := ParseAssessment(raw)
	if err != nil {
		c.log.Warn("rejected oracle response", "message", msg.ID, "error", err)
		return ScoreResult{}, err
	}

	change := *assessment.Scores
	if req.SpamPenalty {
		change = models.ScoreChange{}
	}

	score, change, err := c.aggregate(ctx, conv.ID, msg.ID, msg.SenderID, change)
	if err != nil {
		return ScoreResult{}, err
	}

	result := ScoreResult{
		Message:          msg,
		Score:            score,
		Metrics:          req.Metrics,
		ConsecutiveCount: req.ConsecutiveCount,
		SpamPenalty:      req.SpamPenalty,
	}
	result.Award, err = c.progression.AwardPoints(ctx, Award{
		UserID: msg.SenderID,
		Key:    "message:" + msg.ID,
		Points: change.Sum(),
		Highest: map[string]int{
			models.CategoryEmpathy:        score.Empathy,
			models.CategoryClarity:        score.Clarity,
			models.CategoryOpenMindedness: score.OpenMindedness,
		},
		Action: "message_scored",
	})
	if err != nil {
		return result, fmt.Errorf("failed to award points: %w", err)
	}

	annotated, err := c.gw.Messages.Update(ctx, msg.ID, store.Fields{
		"score_change":       change,
		"biases_detected":    assessment.DetectedBiases,
		"consistency_issues": assessment.ConsistencyIssues,
		"analysis_feedback":  assessment.Feedback,
		"analysis_tips":      assessment.ImprovementTips,
		"score_explanation":  assessment.ScoreExplanation,
	})
	if err != nil {
		return result, fmt.Errorf("failed to save analysis: %w", err)
	}
	result.Message = annotated

	c.log.Debug("message scored",
		"message", msg.ID,
		"sender", msg.SenderID,
		"delta", change.Sum(),
		"consecutive", req.ConsecutiveCount,
		"spam", req.SpamPenalty,
	)
	return result, nil
}

// aggregate adds change to the sender's running conversation score once per
// message. When the message was already counted the recorded change is
// returned instead of the new one.
func (c *Coach) aggregate(ctx context.Context, convID, msgID, senderID string, change models.ScoreChange) (models.ParticipantScore, models.ScoreChange, error) {
	unlock := c.convLocks.Lock(convID)
	defer unlock()

	conv, err := c.gw.Conversations.Get(ctx, convID)
	if err != nil {
		return models.ParticipantScore{}, change, fmt.Errorf("failed to reload conversation: %w", err)
	}
	if !conv.IsParticipant(senderID) {
		return models.ParticipantScore{}, change, models.ErrNotParticipant
	}
	if prev, ok := conv.ScoredMessages[msgID]; ok {
		c.log.Debug("message already counted", "conversation", convID, "message", msgID)
		return conv.ScoreOf(senderID), prev, nil
	}

	scored := make(map[string]models.ScoreChange, len(conv.ScoredMessages)+1)
	for k, v := range conv.ScoredMessages {
		scored[k] = v
	}
	scored[msgID] = change
	score := conv.ScoreOf(senderID).Add(change)
	if _, err := c.gw.Conversations.Update(ctx, convID, store.Fields{
		conv.ScoreField(senderID): score,
		"scored_messages":         scored,
	}); err != nil {
		return models.ParticipantScore{}, change, fmt.Errorf("failed to update conversation score: %w", err)
	}
	return score, change, nil
}
