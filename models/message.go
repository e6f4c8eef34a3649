package models

import "time"

type MessageType string

const (
	MessageTypeUser   MessageType = "user"
	MessageTypeSystem MessageType = "system"
)

// SystemSender is the sender id of messages authored by the service.
const SystemSender = "system"

// Message is one chat turn. Analysis fields stay empty until the scoring pipeline fills them.
type Message struct {
	ID                string            `bson:"_id" json:"id"`
	ConversationID    string            `bson:"conversation_id" json:"conversation_id"`
	SenderID          string            `bson:"sender_id" json:"sender_id"`
	Content           string            `bson:"content" json:"content"`
	MessageType       MessageType       `bson:"message_type" json:"message_type"`
	SentAt            time.Time         `bson:"sent_at" json:"sent_at"`
	ScoreChange       *ScoreChange      `bson:"score_change,omitempty" json:"score_change,omitempty"`
	BiasesDetected    []string          `bson:"biases_detected,omitempty" json:"biases_detected,omitempty"`
	ConsistencyIssues []string          `bson:"consistency_issues,omitempty" json:"consistency_issues,omitempty"`
	AnalysisFeedback  string            `bson:"analysis_feedback,omitempty" json:"analysis_feedback,omitempty"`
	AnalysisTips      string            `bson:"analysis_tips,omitempty" json:"analysis_tips,omitempty"`
	ScoreExplanation  map[string]string `bson:"score_explanation,omitempty" json:"score_explanation,omitempty"`
}

// Analyzed reports whether the scoring pipeline already ran for this message.
func (m Message) Analyzed() bool {
	return m.AnalysisFeedback != ""
}

// IsSystem reports whether the message was authored by the service.
func (m Message) IsSystem() bool {
	return m.MessageType == MessageTypeSystem || m.SenderID == SystemSender
}
