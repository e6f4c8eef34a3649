package models

import "time"

// PointsPerLevel is the number of points separating consecutive levels.
const PointsPerLevel = 100

// LevelForPoints derives the level from total points: floor(points/100)+1.
func LevelForPoints(points int) int {
	if points < 0 {
		points = 0
	}
	return points/PointsPerLevel + 1
}

// UserProfile holds per-user gamification state. RecentAwards holds the keys of
// the most recent point awards so each award is applied once.
type UserProfile struct {
	ID                     string         `bson:"_id" json:"id"`
	UserID                 string         `bson:"user_id" json:"user_id"`
	Level                  int            `bson:"level" json:"level"`
	TotalPoints            int            `bson:"total_points" json:"total_points"`
	ConversationsCompleted int            `bson:"conversations_completed" json:"conversations_completed"`
	Badges                 []string       `bson:"badges" json:"badges"`
	HighestScores          map[string]int `bson:"highest_scores" json:"highest_scores"`
	AvatarColor            string         `bson:"avatar_color" json:"avatar_color"`
	RecentAwards           []string       `bson:"recent_awards" json:"-"`
	UpdatedDate            time.Time      `bson:"updated_date" json:"updated_date"`
}

// HasBadge reports whether the badge is already on the profile.
func (p UserProfile) HasBadge(id string) bool {
	for _, b := range p.Badges {
		if b == id {
			return true
		}
	}
	return false
}

// Badge is an entry in the fixed badge table.
type Badge struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Qualifies   func(UserProfile) bool `json:"-"`
}

const (
	BadgeFirstConversation = "first_conversation"
	BadgeConversations5    = "conversations_5"
	BadgeConversations10   = "conversations_10"
	BadgeLevel5            = "level_5"
	BadgeLevel10           = "level_10"
)

// BadgeTable lists every badge that can be earned, in evaluation order.
var BadgeTable = []Badge{
	{
		ID: BadgeFirstConversation, Name: "First Conversation", Description: "Completed a first conversation",
		Qualifies: func(p UserProfile) bool { return p.ConversationsCompleted >= 1 },
	},
	{
		ID: BadgeConversations5, Name: "Conversationalist", Description: "Completed 5 conversations",
		Qualifies: func(p UserProfile) bool { return p.ConversationsCompleted >= 5 },
	},
	{
		ID: BadgeConversations10, Name: "Bridge Builder", Description: "Completed 10 conversations",
		Qualifies: func(p UserProfile) bool { return p.ConversationsCompleted >= 10 },
	},
	{
		ID: BadgeLevel5, Name: "Rising Voice", Description: "Reached level 5",
		Qualifies: func(p UserProfile) bool { return p.Level >= 5 },
	},
	{
		ID: BadgeLevel10, Name: "Clear Thinker", Description: "Reached level 10",
		Qualifies: func(p UserProfile) bool { return p.Level >= 10 },
	},
}

// GamificationEvent is broadcast when points, levels or badges change.
type GamificationEvent struct {
	Type      string    `json:"type"` // "score_updated", "level_up", "badge_awarded"
	UserID    string    `json:"userId"`
	BadgeName string    `json:"badgeName,omitempty"`
	Points    int       `json:"points,omitempty"`
	NewScore  int       `json:"newScore,omitempty"`
	NewLevel  int       `json:"newLevel,omitempty"`
	Action    string    `json:"action,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
