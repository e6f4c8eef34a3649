package models

import "time"

type Stance string

const (
	StanceStronglyAgree    Stance = "strongly_agree"
	StanceAgree            Stance = "agree"
	StanceNeutral          Stance = "neutral"
	StanceDisagree         Stance = "disagree"
	StanceStronglyDisagree Stance = "strongly_disagree"
)

var stanceValues = map[Stance]int{
	StanceStronglyAgree:    5,
	StanceAgree:            4,
	StanceNeutral:          3,
	StanceDisagree:         2,
	StanceStronglyDisagree: 1,
}

// Value returns the numeric encoding of the stance (5 for strongly_agree down to 1).
func (s Stance) Value() (int, bool) {
	v, ok := stanceValues[s]
	return v, ok
}

func (s Stance) Valid() bool {
	_, ok := stanceValues[s]
	return ok
}

// Label is the human readable form used in system messages and prompts.
func (s Stance) Label() string {
	switch s {
	case StanceStronglyAgree:
		return "strongly agrees"
	case StanceAgree:
		return "agrees"
	case StanceNeutral:
		return "is neutral"
	case StanceDisagree:
		return "disagrees"
	case StanceStronglyDisagree:
		return "strongly disagrees"
	default:
		return "has no recorded stance"
	}
}

// StanceDistance is |value(a) - value(b)|, in the range 0..4.
// Unknown stances are treated as neutral.
func StanceDistance(a, b Stance) int {
	av, ok := a.Value()
	if !ok {
		av = 3
	}
	bv, ok := b.Value()
	if !ok {
		bv = 3
	}
	d := av - bv
	if d < 0 {
		d = -d
	}
	return d
}

// MinReasoningLength is the shortest reasoning accepted on an opinion.
const MinReasoningLength = 10

// TopicOpinion is one user's stance on one topic.
type TopicOpinion struct {
	ID                     string    `bson:"_id" json:"id"`
	UserID                 string    `bson:"user_id" json:"user_id"`
	TopicID                string    `bson:"topic_id" json:"topic_id"`
	Stance                 Stance    `bson:"stance" json:"stance"`
	Reasoning              string    `bson:"reasoning" json:"reasoning"`
	WillingToDiscuss       bool      `bson:"willing_to_discuss" json:"willing_to_discuss"`
	CompletedConversations int       `bson:"completed_conversations" json:"completed_conversations"`
	CreatedDate            time.Time `bson:"created_date" json:"created_date"`
	UpdatedDate            time.Time `bson:"updated_date" json:"updated_date"`
}
