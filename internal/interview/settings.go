package interview

import (
	"fmt"
	"time"
)

// Defaults applied by Settings.WithDefaults for knobs left at their zero
// value.
const (
	DefaultMaxQuestions      = 5
	DefaultChunkSize         = 500
	DefaultChunkOverlap      = 50
	DefaultRagK              = 3
	DefaultFollowUpThreshold = 50.0
	DefaultEarlyExitAverage  = 85.0
	DefaultEarlyExitMinTurns = 2
	DefaultPlanningTimeout   = 30 * time.Second
	DefaultScoringTimeout    = 30 * time.Second
	DefaultReportTimeout     = 30 * time.Second
	DefaultEmbedTimeout      = 10 * time.Second
	DefaultMaxRetries        = 3
)

// Settings configure a single interview session. They are immutable once the
// session starts.
type Settings struct {
	MaxQuestions int     `json:"max_questions"`
	ModelName    string  `json:"model_name,omitempty"`
	Temperature  float64 `json:"temperature"`
	ChunkSize    int     `json:"chunk_size"`
	ChunkOverlap int     `json:"chunk_overlap"`
	RagK         int     `json:"rag_k"`

	// Adaptation policy. Zero values take the documented defaults.
	FollowUpThreshold float64 `json:"follow_up_threshold,omitempty"`
	EarlyExitAverage  float64 `json:"early_exit_average,omitempty"`
	EarlyExitMinTurns int     `json:"early_exit_min_turns,omitempty"`

	// External call timeouts.
	PlanningTimeout time.Duration `json:"planning_timeout,omitempty"`
	ScoringTimeout  time.Duration `json:"scoring_timeout,omitempty"`
	ReportTimeout   time.Duration `json:"report_timeout,omitempty"`
	EmbedTimeout    time.Duration `json:"embed_timeout,omitempty"`
	MaxRetries      int           `json:"max_retries,omitempty"`
}

// DefaultSettings returns a fully populated settings value.
func DefaultSettings() Settings {
	return Settings{}.WithDefaults()
}

// WithDefaults fills knobs left at their zero value. Negative or otherwise
// invalid values are left for Validate to reject.
func (s Settings) WithDefaults() Settings {
	if s.MaxQuestions == 0 {
		s.MaxQuestions = DefaultMaxQuestions
	}
	if s.ChunkSize == 0 {
		s.ChunkSize = DefaultChunkSize
	}
	if s.ChunkOverlap == 0 && s.ChunkSize > DefaultChunkOverlap {
		s.ChunkOverlap = DefaultChunkOverlap
	}
	if s.RagK == 0 {
		s.RagK = DefaultRagK
	}
	if s.FollowUpThreshold == 0 {
		s.FollowUpThreshold = DefaultFollowUpThreshold
	}
	if s.EarlyExitAverage == 0 {
		s.EarlyExitAverage = DefaultEarlyExitAverage
	}
	if s.EarlyExitMinTurns == 0 {
		s.EarlyExitMinTurns = DefaultEarlyExitMinTurns
	}
	if s.PlanningTimeout == 0 {
		s.PlanningTimeout = DefaultPlanningTimeout
	}
	if s.ScoringTimeout == 0 {
		s.ScoringTimeout = DefaultScoringTimeout
	}
	if s.ReportTimeout == 0 {
		s.ReportTimeout = DefaultReportTimeout
	}
	if s.EmbedTimeout == 0 {
		s.EmbedTimeout = DefaultEmbedTimeout
	}
	if s.MaxRetries == 0 {
		s.MaxRetries = DefaultMaxRetries
	}
	return s
}

// Validate rejects settings an interview cannot run with. All failures wrap
// ErrConfig.
func (s Settings) Validate() error {
	if s.MaxQuestions < 1 {
		return fmt.Errorf("%w: max questions %d must be at least 1", ErrConfig, s.MaxQuestions)
	}
	if s.Temperature < 0 || s.Temperature > 1 {
		return fmt.Errorf("%w: temperature %.2f must be within [0, 1]", ErrConfig, s.Temperature)
	}
	if s.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size %d must be positive", ErrConfig, s.ChunkSize)
	}
	if s.ChunkOverlap < 0 {
		return fmt.Errorf("%w: chunk overlap %d must not be negative", ErrConfig, s.ChunkOverlap)
	}
	if s.ChunkOverlap >= s.ChunkSize {
		return fmt.Errorf("%w: chunk overlap %d must be smaller than chunk size %d", ErrConfig, s.ChunkOverlap, s.ChunkSize)
	}
	if s.RagK < 1 {
		return fmt.Errorf("%w: rag k %d must be at least 1", ErrConfig, s.RagK)
	}
	if s.FollowUpThreshold < 0 || s.FollowUpThreshold > 100 {
		return fmt.Errorf("%w: follow-up threshold %.1f must be within [0, 100]", ErrConfig, s.FollowUpThreshold)
	}
	if s.EarlyExitAverage < 0 || s.EarlyExitAverage > 100 {
		return fmt.Errorf("%w: early-exit average %.1f must be within [0, 100]", ErrConfig, s.EarlyExitAverage)
	}
	if s.EarlyExitMinTurns < 0 {
		return fmt.Errorf("%w: early-exit minimum turns %d must not be negative", ErrConfig, s.EarlyExitMinTurns)
	}
	if s.MaxRetries < 1 {
		return fmt.Errorf("%w: max retries %d must be at least 1", ErrConfig, s.MaxRetries)
	}
	return nil
}
