package models

import "time"

const (
	NotifyInvitation            = "invitation"
	NotifyInvitationAccepted    = "invitation_accepted"
	NotifyInvitationRejected    = "invitation_rejected"
	NotifyMessage               = "message"
	NotifyCompletionRequested   = "completion_requested"
	NotifyCompletionRejected    = "completion_rejected"
	NotifyConversationCompleted = "conversation_completed"
	NotifyLevelUp               = "level_up"
	NotifyBadgeAwarded          = "badge_awarded"
)

// Notification is a fire-and-forget push to one user.
type Notification struct {
	UserID    string            `json:"userId"`
	Type      string            `json:"type"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}
