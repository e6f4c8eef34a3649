package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"clarify/models"
)

// OracleRequest is one structured call to the scoring model.
type OracleRequest struct {
	Prompt string
	Schema map[string]interface{}
}

// Oracle evaluates a prompt and returns a JSON document satisfying the request schema.
type Oracle interface {
	Invoke(ctx context.Context, req OracleRequest) (json.RawMessage, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context, req OracleRequest) (json.RawMessage, error)

func (f OracleFunc) Invoke(ctx context.Context, req OracleRequest) (json.RawMessage, error) {
	return f(ctx, req)
}

// AssessmentSchema is the response contract for message assessments.
func AssessmentSchema() map[string]interface{} {
	intField := map[string]interface{}{"type": "integer"}
	textField := map[string]interface{}{"type": "string"}
	textList := map[string]interface{}{"type": "array", "items": textField}
	return map[string]interface{}{
		"type":     "object",
		"required": []string{"feedback", "improvement_tips", "scores"},
		"properties": map[string]interface{}{
			"feedback":         textField,
			"improvement_tips": textField,
			"scores": map[string]interface{}{
				"type":     "object",
				"required": []string{"empathy", "clarity", "open_mindedness"},
				"properties": map[string]interface{}{
					"empathy":         intField,
					"clarity":         intField,
					"open_mindedness": intField,
				},
			},
			"detected_biases":    textList,
			"consistency_issues": textList,
			"score_explanation": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"empathy":         textField,
					"clarity":         textField,
					"open_mindedness": textField,
				},
			},
		},
	}
}

type rawAssessment struct {
	Feedback        *string `json:"feedback"`
	ImprovementTips *string `json:"improvement_tips"`
	Scores          *struct {
		Empathy        *int `json:"empathy"`
		Clarity        *int `json:"clarity"`
		OpenMindedness *int `json:"open_mindedness"`
	} `json:"scores"`
	DetectedBiases    []string          `json:"detected_biases"`
	ConsistencyIssues []string          `json:"consistency_issues"`
	ScoreExplanation  map[string]string `json:"score_explanation"`
}

// ParseAssessment decodes an oracle response and enforces the contract:
// feedback, improvement tips and all three scores are required.
func ParseAssessment(raw []byte) (models.Assessment, error) {
	var ra rawAssessment
	if err := json.Unmarshal([]byte(cleanModelOutput(string(raw))), &ra); err != nil {
		return models.Assessment{}, fmt.Errorf("%w: invalid JSON: %v", models.ErrContractViolation, err)
	}
	if ra.Feedback == nil || strings.TrimSpace(*ra.Feedback) == "" {
		return models.Assessment{}, fmt.Errorf("%w: missing feedback", models.ErrContractViolation)
	}
	if ra.ImprovementTips == nil || strings.TrimSpace(*ra.ImprovementTips) == "" {
		return models.Assessment{}, fmt.Errorf("%w: missing improvement_tips", models.ErrContractViolation)
	}
	if ra.Scores == nil || ra.Scores.Empathy == nil || ra.Scores.Clarity == nil || ra.Scores.OpenMindedness == nil {
		return models.Assessment{}, fmt.Errorf("%w: missing scores", models.ErrContractViolation)
	}
	return models.Assessment{
		Feedback:        strings.TrimSpace(*ra.Feedback),
		ImprovementTips: strings.TrimSpace(*ra.ImprovementTips),
		Scores: &models.ScoreChange{
			Empathy:        *ra.Scores.Empathy,
			Clarity:        *ra.Scores.Clarity,
			OpenMindedness: *ra.Scores.OpenMindedness,
		},
		DetectedBiases:    ra.DetectedBiases,
		ConsistencyIssues: ra.ConsistencyIssues,
		ScoreExplanation:  ra.ScoreExplanation,
	}, nil
}

// BuildAssessmentPrompt renders the coaching prompt for one message.
func BuildAssessmentPrompt(req models.AssessmentRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Act as a conversation coach for a discussion between people who hold different views on the topic %q.\n", req.Topic.Title)
	if req.Topic.Description != "" {
		fmt.Fprintf(&b, "Topic description: %s\n", req.Topic.Description)
	}
	b.WriteString("\nRecent conversation (oldest first):\n")
	if len(req.Context) == 0 {
		b.WriteString("(no recent messages)\n")
	}
	for _, m := range req.Context {
		who := "Partner"
		switch {
		case m.IsSystem():
			who = "System"
		case m.SenderID == req.Message.SenderID:
			who = "Author"
		}
		fmt.Fprintf(&b, "- %s: %s\n", who, m.Content)
	}

	fmt.Fprintf(&b, "\nMessage to evaluate (from Author): %q\n", req.Message.Content)
	fmt.Fprintf(&b, `
Local analysis:
- word count: %d
- gives justification: %t
- uses reasoning patterns: %t
- uses qualifiers: %t
- substance score (0-6): %d
- consecutive messages from the author without a reply: %d
`,
		req.Metrics.WordCount,
		req.Metrics.HasJustification,
		req.Metrics.HasReasoning,
		req.Metrics.HasQualifiers,
		req.Metrics.SubstanceScore,
		req.ConsecutiveCount,
	)
	if req.ConsecutiveCount >= 3 {
		b.WriteString("The author is sending several messages in a row without waiting for a reply; mention pacing in the tips.\n")
	}
	if req.SpamPenalty {
		b.WriteString("The author has sent more than 3 consecutive messages. Score every category 0 for this message.\n")
	}

	b.WriteString(`
Score the message from -5 to 5 in each category:
1. empathy: acknowledges and engages with the partner's perspective.
2. clarity: states a position clearly with support.
3. open_mindedness: shows willingness to reconsider and avoids dismissiveness.

List any cognitive biases you detect and any inconsistencies with the author's earlier messages.

Required Output Format (JSON):
{
  "feedback": "what the message did well and what it did poorly",
  "improvement_tips": "one or two concrete suggestions",
  "scores": {"empathy": 0, "clarity": 0, "open_mindedness": 0},
  "detected_biases": [],
  "consistency_issues": [],
  "score_explanation": {"empathy": "", "clarity": "", "open_mindedness": ""}
}

Provide ONLY the JSON output without additional text or markdown formatting.`)
	return b.String()
}
