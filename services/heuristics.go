package services

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"clarify/models"
)

const (
	// ContextWindow bounds how far back conversation context reaches.
	ContextWindow = 5 * time.Minute
	// ContextLimit bounds how many earlier messages are sent as context.
	ContextLimit = 10
	// SpamThreshold is the number of unanswered messages above which a message scores zero.
	SpamThreshold = 3
)

var (
	justificationMarkers = []string{
		"because", "since", "therefore", "thus", "evidence", "research", "study", "studies",
		"data", "for example", "for instance", "according to", "shows that", "due to",
		"as a result", "the reason",
	}
	reasoningMarkers = []string{
		"which means", "this means", "this suggests", "it follows", "consequently",
		"on the other hand", "however", "this implies", "leads to", "in contrast",
		"whereas", "that is why",
	}
	qualifierMarkers = []string{
		"perhaps", "maybe", "might", "could", "probably", "possibly", "i think",
		"i believe", "it seems", "in my view", "likely", "generally", "often",
		"sometimes", "tend to", "in some cases",
	}
	conditionalPattern = regexp.MustCompile(`\bif\b.+\bthen\b`)
)

// AnalyzeContent computes the local quality heuristics of a message.
func AnalyzeContent(content string) models.MessageMetrics {
	lower := strings.ToLower(content)
	tokens := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	normalized := " " + strings.Join(tokens, " ") + " "

	m := models.MessageMetrics{
		WordCount:        len(strings.Fields(content)),
		HasJustification: containsMarker(normalized, justificationMarkers),
		HasReasoning:     containsMarker(normalized, reasoningMarkers) || conditionalPattern.MatchString(lower),
		HasQualifiers:    containsMarker(normalized, qualifierMarkers),
	}
	if m.HasJustification {
		m.SubstanceScore += 3
	}
	if m.HasReasoning {
		m.SubstanceScore += 2
	}
	if m.HasQualifiers {
		m.SubstanceScore++
	}
	return m
}

func containsMarker(normalized string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(normalized, " "+marker+" ") {
			return true
		}
	}
	return false
}

// ConsecutiveCount counts senderID's trailing messages, newest first, until a
// different non-system sender appears. messages must be in sent_at order.
func ConsecutiveCount(messages []models.Message, senderID string) int {
	count := 0
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.IsSystem() {
			continue
		}
		if m.SenderID != senderID {
			break
		}
		count++
	}
	return count
}

// RecentContext returns at most ContextLimit messages sent before target and
// no earlier than ContextWindow before it, oldest first.
func RecentContext(messages []models.Message, target models.Message) []models.Message {
	since := target.SentAt.Add(-ContextWindow)
	var out []models.Message
	for _, m := range messages {
		if m.ID == target.ID || m.SentAt.After(target.SentAt) || m.SentAt.Before(since) {
			continue
		}
		out = append(out, m)
	}
	if len(out) > ContextLimit {
		out = out[len(out)-ContextLimit:]
	}
	return out
}

// upTo returns the prefix of messages ending at target, inclusive.
func upTo(messages []models.Message, target models.Message) []models.Message {
	for i, m := range messages {
		if m.ID == target.ID {
			return messages[:i+1]
		}
	}
	return append(append([]models.Message(nil), messages...), target)
}
