package models

import "time"

type ConversationStatus string

const (
	StatusInvited             ConversationStatus = "invited"
	StatusWaiting             ConversationStatus = "waiting"
	StatusActive              ConversationStatus = "active"
	StatusCompletionRequested ConversationStatus = "completion_requested"
	StatusWaitingCompletion   ConversationStatus = "waiting_completion"
	StatusCompleted           ConversationStatus = "completed"
	StatusRejected            ConversationStatus = "rejected"
	StatusAbandoned           ConversationStatus = "abandoned"
)

// Terminal reports whether no further transition is possible from s.
func (s ConversationStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusAbandoned:
		return true
	default:
		return false
	}
}

// Blocking reports whether a conversation in status s keeps its (topic, partner) pair out of matching.
func (s ConversationStatus) Blocking() bool {
	switch s {
	case StatusActive, StatusWaiting, StatusInvited:
		return true
	default:
		return false
	}
}

// ScoreChange is a per-message delta for each scoring category.
type ScoreChange struct {
	Empathy        int `bson:"empathy" json:"empathy"`
	Clarity        int `bson:"clarity" json:"clarity"`
	OpenMindedness int `bson:"open_mindedness" json:"open_mindedness"`
}

// Sum is the total of the three categories.
func (c ScoreChange) Sum() int {
	return c.Empathy + c.Clarity + c.OpenMindedness
}

// Categories returns the change keyed by category name.
func (c ScoreChange) Categories() map[string]int {
	return map[string]int{
		CategoryEmpathy:        c.Empathy,
		CategoryClarity:        c.Clarity,
		CategoryOpenMindedness: c.OpenMindedness,
	}
}

const (
	CategoryEmpathy        = "empathy"
	CategoryClarity        = "clarity"
	CategoryOpenMindedness = "open_mindedness"
)

// ParticipantScore is a participant's running score in one conversation.
// Total is always derived from the three categories.
type ParticipantScore struct {
	Empathy        int `bson:"empathy" json:"empathy"`
	Clarity        int `bson:"clarity" json:"clarity"`
	OpenMindedness int `bson:"open_mindedness" json:"open_mindedness"`
	Total          int `bson:"total" json:"total"`
}

// Add applies a delta and recomputes Total.
func (p ParticipantScore) Add(c ScoreChange) ParticipantScore {
	out := ParticipantScore{
		Empathy:        p.Empathy + c.Empathy,
		Clarity:        p.Clarity + c.Clarity,
		OpenMindedness: p.OpenMindedness + c.OpenMindedness,
	}
	out.Total = out.Empathy + out.Clarity + out.OpenMindedness
	return out
}

type CompletionRequest struct {
	RequestedBy string    `bson:"requested_by" json:"requested_by"`
	RequestedAt time.Time `bson:"requested_at" json:"requested_at"`
	Feedback    string    `bson:"feedback" json:"feedback"`
}

type CompletionFeedback struct {
	UserID    string    `bson:"user_id" json:"user_id"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
	Feedback  string    `bson:"feedback" json:"feedback"`
}

// Conversation pairs an inviter (participant 1) and an invitee (participant 2) on a topic.
type Conversation struct {
	ID                 string                 `bson:"_id" json:"id"`
	TopicID            string                 `bson:"topic_id" json:"topic_id"`
	Participant1ID     string                 `bson:"participant1_id" json:"participant1_id"`
	Participant2ID     string                 `bson:"participant2_id" json:"participant2_id"`
	Status             ConversationStatus     `bson:"status" json:"status"`
	TimerDuration      int                    `bson:"timer_duration" json:"timer_duration"` // minutes
	StartedAt          *time.Time             `bson:"started_at" json:"started_at"`
	ExpiresAt          *time.Time             `bson:"expires_at" json:"expires_at"`
	Participant1Score  ParticipantScore       `bson:"participant1_score" json:"participant1_score"`
	Participant2Score  ParticipantScore       `bson:"participant2_score" json:"participant2_score"`
	CompletionRequest  *CompletionRequest     `bson:"completion_request" json:"completion_request"`
	CompletionFeedback []CompletionFeedback   `bson:"completion_feedback" json:"completion_feedback"`
	AutoCompleted      bool                   `bson:"auto_completed" json:"auto_completed"`
	ScoredMessages     map[string]ScoreChange `bson:"scored_messages" json:"scored_messages,omitempty"`
	CreatedDate        time.Time              `bson:"created_date" json:"created_date"`
}

// IsParticipant reports whether userID is one of the two participants.
func (c Conversation) IsParticipant(userID string) bool {
	return userID != "" && (c.Participant1ID == userID || c.Participant2ID == userID)
}

// OtherParticipant returns the partner of userID.
func (c Conversation) OtherParticipant(userID string) string {
	if c.Participant1ID == userID {
		return c.Participant2ID
	}
	return c.Participant1ID
}

// ScoreOf returns the running score of the given participant.
func (c Conversation) ScoreOf(userID string) ParticipantScore {
	if c.Participant2ID == userID {
		return c.Participant2Score
	}
	return c.Participant1Score
}

// ScoreField is the stored field name holding userID's running score.
func (c Conversation) ScoreField(userID string) string {
	if c.Participant2ID == userID {
		return "participant2_score"
	}
	return "participant1_score"
}

// Expired reports whether the timer has run out at now.
func (c Conversation) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// HasFeedbackFrom reports whether userID already left completion feedback.
func (c Conversation) HasFeedbackFrom(userID string) bool {
	for _, f := range c.CompletionFeedback {
		if f.UserID == userID {
			return true
		}
	}
	return false
}
