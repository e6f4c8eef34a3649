package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"clarify/internal/logger"
	"clarify/models"
	"clarify/store"
)

// OpinionInput is a user's submitted stance on a topic.
type OpinionInput struct {
	TopicID          string        `json:"topic_id"`
	Stance           models.Stance `json:"stance"`
	Reasoning        string        `json:"reasoning"`
	WillingToDiscuss bool          `json:"willing_to_discuss"`
}

// Validate rejects input before any store call.
func (in OpinionInput) Validate() error {
	if strings.TrimSpace(in.TopicID) == "" {
		return models.NewValidationError("topic_id", "topic is required")
	}
	if !in.Stance.Valid() {
		return models.NewValidationError("stance", fmt.Sprintf("unknown stance %q", in.Stance))
	}
	if len([]rune(strings.TrimSpace(in.Reasoning))) < models.MinReasoningLength {
		return models.NewValidationError("reasoning", fmt.Sprintf("reasoning must be at least %d characters", models.MinReasoningLength))
	}
	return nil
}

type OpinionService struct {
	gw  *store.Gateway
	log *logger.Logger
	now func() time.Time
}

func NewOpinionService(gw *store.Gateway, log *logger.Logger) *OpinionService {
	return &OpinionService{gw: gw, log: log.With("service", "OpinionService"), now: defaultNow}
}

// Upsert updates the user's opinion on the topic or creates it.
func (s *OpinionService) Upsert(ctx context.Context, userID string, in OpinionInput) (models.TopicOpinion, error) {
	if userID == "" {
		return models.TopicOpinion{}, models.ErrUnauthenticated
	}
	if err := in.Validate(); err != nil {
		return models.TopicOpinion{}, err
	}
	if _, err := s.gw.Topics.Get(ctx, in.TopicID); err != nil {
		return models.TopicOpinion{}, fmt.Errorf("failed to load topic: %w", err)
	}

	now := s.now()
	existing, err := s.Find(ctx, userID, in.TopicID)
	if err != nil {
		return models.TopicOpinion{}, err
	}
	if existing != nil {
		return s.gw.Opinions.Update(ctx, existing.ID, store.Fields{
			"stance":             in.Stance,
			"reasoning":          strings.TrimSpace(in.Reasoning),
			"willing_to_discuss": in.WillingToDiscuss,
			"updated_date":       now,
		})
	}
	return s.gw.Opinions.Create(ctx, models.TopicOpinion{
		UserID:           userID,
		TopicID:          in.TopicID,
		Stance:           in.Stance,
		Reasoning:        strings.TrimSpace(in.Reasoning),
		WillingToDiscuss: in.WillingToDiscuss,
		CreatedDate:      now,
		UpdatedDate:      now,
	})
}

// Find returns the user's opinion on a topic, or nil when there is none.
func (s *OpinionService) Find(ctx context.Context, userID, topicID string) (*models.TopicOpinion, error) {
	found, err := s.gw.Opinions.Filter(ctx, store.Filter{"user_id": userID, "topic_id": topicID}, "-updated_date", 1)
	if err != nil {
		return nil, fmt.Errorf("failed to load opinion: %w", err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

// RecordCompletion bumps the completed_conversations counter of the user's opinion on the topic.
func (s *OpinionService) RecordCompletion(ctx context.Context, userID, topicID string) error {
	op, err := s.Find(ctx, userID, topicID)
	if err != nil || op == nil {
		return err
	}
	_, err = s.gw.Opinions.Update(ctx, op.ID, store.Fields{
		"completed_conversations": op.CompletedConversations + 1,
		"updated_date":            s.now(),
	})
	return err
}
