package interview

import "time"

// QuestionSpec is one planned question. Specs are append-only: adaptation may
// add follow-ups or mark specs skipped, but never removes or reorders them.
type QuestionSpec struct {
	ID             string   `json:"id"`
	OrderIndex     int      `json:"order_index"`
	Text           string   `json:"text"`
	TopicTag       string   `json:"topic_tag"`
	Difficulty     int      `json:"difficulty"`
	SourceChunkIDs []string `json:"source_chunk_ids,omitempty"`
	Skipped        bool     `json:"skipped,omitempty"`
	FollowUp       bool     `json:"follow_up,omitempty"`
}

// Turn records one asked-and-answered exchange.
type Turn struct {
	QuestionID   string    `json:"question_id"`
	QuestionText string    `json:"question_text"`
	AnswerText   string    `json:"answer_text"`
	Score        float64   `json:"score"`
	FeedbackText string    `json:"feedback_text"`
	Confidence   float64   `json:"confidence,omitempty"`
	AskedAt      time.Time `json:"asked_at"`
	AnsweredAt   time.Time `json:"answered_at"`
}

// Evaluation is the analyzer's verdict on a single answer.
type Evaluation struct {
	Score      float64 `json:"score"`
	Feedback   string  `json:"feedback"`
	Confidence float64 `json:"confidence"`
}

// Adaptation is the planner's verdict after a scored turn. The zero value
// leaves the plan unchanged.
type Adaptation struct {
	// FollowUp, when set, is appended to the end of the plan.
	FollowUp *QuestionSpec
	// SkipNext marks the next unanswered spec skipped.
	SkipNext bool
}

// TopicScore aggregates the turns sharing a topic tag.
type TopicScore struct {
	Topic        string  `json:"topic"`
	AverageScore float64 `json:"average_score"`
	Turns        int     `json:"turns"`
}

// Report is the final interview summary. It is synthesized exactly once per
// session and never regenerated.
type Report struct {
	SessionID       string       `json:"session_id"`
	SummaryText     string       `json:"summary_text"`
	PerTopicScores  []TopicScore `json:"per_topic_scores"`
	OverallScore    float64      `json:"overall_score"`
	Recommendations []string     `json:"recommendations"`
	GeneratedAt     time.Time    `json:"generated_at"`
}
