package models

// Assessment is the structured response of the scoring oracle for one message.
type Assessment struct {
	Feedback          string            `json:"feedback"`
	ImprovementTips   string            `json:"improvement_tips"`
	Scores            *ScoreChange      `json:"scores"`
	DetectedBiases    []string          `json:"detected_biases,omitempty"`
	ConsistencyIssues []string          `json:"consistency_issues,omitempty"`
	ScoreExplanation  map[string]string `json:"score_explanation,omitempty"`
}

// MessageMetrics are the locally computed heuristics fed to the oracle.
type MessageMetrics struct {
	WordCount        int  `json:"word_count"`
	HasJustification bool `json:"has_justification"`
	HasReasoning     bool `json:"has_reasoning"`
	HasQualifiers    bool `json:"has_qualifiers"`
	SubstanceScore   int  `json:"substance_score"` // 0..6
}

// AssessmentRequest is everything the oracle sees about one message.
type AssessmentRequest struct {
	Topic            Topic
	Message          Message
	Context          []Message
	Metrics          MessageMetrics
	ConsecutiveCount int
	SpamPenalty      bool
}
