package interview

import (
	"time"

	"github.com/vivacli/viva/internal/rag"
)

// Session is the single authority on interview progress. It is persisted
// after every state transition so a crashed process resumes from the last
// recorded state.
type Session struct {
	ID        string         `json:"session_id"`
	Owner     string         `json:"owner,omitempty"`
	Status    State          `json:"status"`
	Settings  Settings       `json:"settings"`
	Documents []rag.Document `json:"documents"`
	// ContextHash fingerprints the retrieval store so a resumed session can
	// rebuild or reuse it.
	ContextHash string `json:"context_hash,omitempty"`

	Plan                []QuestionSpec `json:"plan"`
	CurrentIndex        int            `json:"current_index"`
	History             []Turn         `json:"history"`
	RunningAverageScore float64        `json:"running_average_score"`

	// PendingAnswer buffers a submitted answer across the transition into
	// scoring, so a crash between accepting and scoring loses nothing.
	PendingAnswer *string `json:"pending_answer,omitempty"`
	// PausedFrom records where a paused session resumes.
	PausedFrom State `json:"paused_from,omitempty"`

	LastAskedAt time.Time `json:"last_asked_at"`
	LastError   string    `json:"last_error,omitempty"`
	FinalReport *Report   `json:"final_report,omitempty"`

	// Version increments on every persisted write and backs optimistic
	// locking in the stores.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NextQuestion returns the pending spec with the lowest order index, or nil
// when every spec is answered or skipped.
func (s *Session) NextQuestion() *QuestionSpec {
	answered := s.answeredIDs()

	var next *QuestionSpec
	for i := range s.Plan {
		spec := &s.Plan[i]
		if spec.Skipped || answered[spec.ID] {
			continue
		}
		if next == nil || spec.OrderIndex < next.OrderIndex {
			next = spec
		}
	}
	return next
}

// SpecByID resolves a plan entry by question id.
func (s *Session) SpecByID(id string) *QuestionSpec {
	for i := range s.Plan {
		if s.Plan[i].ID == id {
			return &s.Plan[i]
		}
	}
	return nil
}

// AppendTurn records a scored exchange and refreshes the derived fields.
// CurrentIndex always equals the number of recorded turns.
func (s *Session) AppendTurn(turn Turn) {
	s.History = append(s.History, turn)
	s.CurrentIndex = len(s.History)
	s.RunningAverageScore = s.recomputeAverage()
}

// UncoveredTopics lists topic tags of specs not yet answered or skipped.
func (s *Session) UncoveredTopics() []string {
	answered := s.answeredIDs()
	seen := make(map[string]bool)

	var topics []string
	for _, spec := range s.Plan {
		if spec.Skipped || answered[spec.ID] || seen[spec.TopicTag] {
			continue
		}
		seen[spec.TopicTag] = true
		topics = append(topics, spec.TopicTag)
	}
	return topics
}

// Concluded reports whether the session finished asking questions, in any of
// the completion or reporting stages.
func (s *Session) Concluded() bool {
	return s.Status == StateCompleted || s.Status == StateReporting || s.Status == StateDone
}

// Clone returns a deep copy safe to hand outside the engine.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}

	clone := *s
	clone.Documents = append([]rag.Document(nil), s.Documents...)
	clone.Plan = make([]QuestionSpec, len(s.Plan))
	for i, spec := range s.Plan {
		spec.SourceChunkIDs = append([]string(nil), spec.SourceChunkIDs...)
		clone.Plan[i] = spec
	}
	clone.History = append([]Turn(nil), s.History...)
	if s.PendingAnswer != nil {
		answer := *s.PendingAnswer
		clone.PendingAnswer = &answer
	}
	if s.FinalReport != nil {
		report := *s.FinalReport
		report.PerTopicScores = append([]TopicScore(nil), s.FinalReport.PerTopicScores...)
		report.Recommendations = append([]string(nil), s.FinalReport.Recommendations...)
		clone.FinalReport = &report
	}
	return &clone
}

func (s *Session) answeredIDs() map[string]bool {
	answered := make(map[string]bool, len(s.History))
	for _, turn := range s.History {
		answered[turn.QuestionID] = true
	}
	return answered
}

func (s *Session) recomputeAverage() float64 {
	if len(s.History) == 0 {
		return 0
	}
	var sum float64
	for _, turn := range s.History {
		sum += turn.Score
	}
	return sum / float64(len(s.History))
}

func (s *Session) maxOrderIndex() int {
	max := -1
	for _, spec := range s.Plan {
		if spec.OrderIndex > max {
			max = spec.OrderIndex
		}
	}
	return max
}

func (s *Session) markSkipped(id string) bool {
	for i := range s.Plan {
		if s.Plan[i].ID == id && !s.Plan[i].Skipped {
			s.Plan[i].Skipped = true
			return true
		}
	}
	return false
}
