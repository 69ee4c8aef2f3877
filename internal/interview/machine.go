package interview

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vivacli/viva/internal/logger"
	"github.com/vivacli/viva/internal/rag"
)

var now = time.Now

// Planner drafts and adapts question plans.
type Planner interface {
	// Plan drafts the initial plan from the retrieval store.
	Plan(ctx context.Context, store *rag.Store, sess *Session) ([]QuestionSpec, error)
	// Adapt decides how the plan changes after a scored turn.
	Adapt(ctx context.Context, store *rag.Store, sess *Session, last Turn) (Adaptation, error)
	// Fallback returns the canned question bank used when drafting is
	// impossible.
	Fallback(maxQuestions int) []QuestionSpec
}

// Analyzer scores one answer against the session's context.
type Analyzer interface {
	Analyze(ctx context.Context, store *rag.Store, sess *Session, spec QuestionSpec, answer string) (Evaluation, error)
}

// Reporter synthesizes the final report for a concluded session.
type Reporter interface {
	Synthesize(ctx context.Context, sess *Session) (*Report, error)
}

// SessionStore persists sessions and their reports. Implementations must not
// lose updates on concurrent writes to one session; optimistic versioning via
// Session.Version is the expected mechanism.
type SessionStore interface {
	GetSession(ctx context.Context, id string) (*Session, error)
	PutSession(ctx context.Context, sess *Session) error
	AppendReport(ctx context.Context, report *Report) error
	GetReport(ctx context.Context, sessionID string) (*Report, error)
	ListSessions(ctx context.Context) ([]*Session, error)
}

// StoreProvider resolves the retrieval store for a session, building it or
// reusing a cached one.
type StoreProvider interface {
	StoreFor(ctx context.Context, sess *Session) (*rag.Store, error)
}

// Deps bundles everything the machine needs to advance sessions.
type Deps struct {
	Sessions SessionStore
	Stores   StoreProvider
	Planner  Planner
	Analyzer Analyzer
	Reporter Reporter
	Logger   *zap.Logger
}

// Machine drives sessions through the interview lifecycle. Methods expect the
// caller to serialize access per session.
type Machine struct {
	deps Deps
}

// NewMachine returns a machine over the given dependencies.
func NewMachine(deps Deps) *Machine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Machine{deps: deps}
}

// Advance moves the session forward until it blocks waiting for an answer,
// completes, pauses or fails.
func (m *Machine) Advance(ctx context.Context, sess *Session) error {
	for {
		var err error
		switch sess.Status {
		case StateSetup:
			err = m.setup(ctx, sess)
		case StatePlanning:
			err = m.planning(ctx, sess)
		case StateAsking:
			err = m.asking(ctx, sess)
		case StateScoring:
			err = m.scoring(ctx, sess)
		case StateAdapting:
			err = m.adapting(ctx, sess)
		case StateCompleted:
			err = m.transition(ctx, sess, StateReporting)
		case StateReporting:
			err = m.reporting(ctx, sess)
		default:
			// AwaitingAnswer, Paused, Done and Failed wait on the caller.
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// transition moves the session to the target state and persists it. The
// in-memory session keeps the new state even when the write fails, so the
// caller can retry persistence without losing progress.
func (m *Machine) transition(ctx context.Context, sess *Session, to State) error {
	from := sess.Status
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: cannot move from %s to %s", ErrPrecondition, from, to)
	}

	sess.Status = to
	m.deps.Logger.Debug("state transition",
		zap.String(logger.FieldSession, sess.ID),
		zap.String("from", string(from)),
		zap.String(logger.FieldState, string(to)),
	)

	return m.persist(ctx, sess)
}

func (m *Machine) persist(ctx context.Context, sess *Session) error {
	sess.UpdatedAt = now()
	sess.Version++
	if err := m.deps.Sessions.PutSession(ctx, sess); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

func (m *Machine) setup(ctx context.Context, sess *Session) error {
	if len(sess.Documents) == 0 {
		return m.fail(ctx, sess, fmt.Errorf("%w: session has no documents", ErrConfig))
	}

	store, err := m.deps.Stores.StoreFor(ctx, sess)
	if err != nil {
		return m.fail(ctx, sess, fmt.Errorf("building context store: %w", err))
	}
	sess.ContextHash = store.Fingerprint()

	return m.transition(ctx, sess, StatePlanning)
}

func (m *Machine) planning(ctx context.Context, sess *Session) error {
	store, err := m.deps.Stores.StoreFor(ctx, sess)
	if err != nil {
		return m.fail(ctx, sess, fmt.Errorf("building context store: %w", err))
	}

	planCtx, cancel := context.WithTimeout(ctx, sess.Settings.PlanningTimeout)
	specs, err := m.deps.Planner.Plan(planCtx, store, sess)
	cancel()
	if err != nil {
		m.deps.Logger.Warn("planning failed, using fallback question bank",
			zap.String(logger.FieldSession, sess.ID),
			zap.Error(err),
		)
		specs = m.deps.Planner.Fallback(sess.Settings.MaxQuestions)
	}

	if len(specs) == 0 {
		return m.fail(ctx, sess, fmt.Errorf("%w: empty question plan", ErrPlannerUnavailable))
	}

	sess.Plan = specs
	m.deps.Logger.Info("plan drafted",
		zap.String(logger.FieldSession, sess.ID),
		zap.Int("questions", len(specs)),
	)

	return m.transition(ctx, sess, StateAsking)
}

func (m *Machine) asking(ctx context.Context, sess *Session) error {
	next := sess.NextQuestion()
	if next == nil {
		return m.fail(ctx, sess, fmt.Errorf("%w: no question left to ask", ErrPrecondition))
	}

	sess.LastAskedAt = now()
	m.deps.Logger.Info("question emitted",
		zap.String(logger.FieldSession, sess.ID),
		zap.Int("order_index", next.OrderIndex),
		zap.String("topic", next.TopicTag),
		zap.Int("difficulty", next.Difficulty),
		zap.Bool("follow_up", next.FollowUp),
	)

	return m.transition(ctx, sess, StateAwaitingAnswer)
}

func (m *Machine) scoring(ctx context.Context, sess *Session) error {
	spec := sess.NextQuestion()
	if spec == nil {
		return m.fail(ctx, sess, fmt.Errorf("%w: no question pending an answer", ErrPrecondition))
	}

	var answer string
	if sess.PendingAnswer != nil {
		answer = *sess.PendingAnswer
	}

	evaluation := m.evaluate(ctx, sess, *spec, answer)

	sess.AppendTurn(Turn{
		QuestionID:   spec.ID,
		QuestionText: spec.Text,
		AnswerText:   answer,
		Score:        evaluation.Score,
		FeedbackText: evaluation.Feedback,
		Confidence:   evaluation.Confidence,
		AskedAt:      sess.LastAskedAt,
		AnsweredAt:   now(),
	})
	sess.PendingAnswer = nil

	m.deps.Logger.Info("answer scored",
		zap.String(logger.FieldSession, sess.ID),
		zap.String("question_id", spec.ID),
		zap.Float64("score", evaluation.Score),
		zap.Float64("running_average", sess.RunningAverageScore),
	)

	return m.transition(ctx, sess, StateAdapting)
}

// evaluate never fails: an unanswerable or unanalyzable turn degrades to a
// recorded fallback score instead of stalling the interview.
func (m *Machine) evaluate(ctx context.Context, sess *Session, spec QuestionSpec, answer string) Evaluation {
	if strings.TrimSpace(answer) == "" {
		return Evaluation{Score: 0, Feedback: "no answer provided"}
	}

	store, err := m.deps.Stores.StoreFor(ctx, sess)
	if err != nil {
		m.deps.Logger.Warn("context store unavailable for scoring",
			zap.String(logger.FieldSession, sess.ID),
			zap.Error(err),
		)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		scoreCtx, cancel := context.WithTimeout(ctx, sess.Settings.ScoringTimeout)
		evaluation, err := m.deps.Analyzer.Analyze(scoreCtx, store, sess, spec, answer)
		cancel()
		if err == nil {
			return evaluation
		}
		lastErr = err
		m.deps.Logger.Warn("analysis attempt failed",
			zap.String(logger.FieldSession, sess.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	fallback := Evaluation{
		Score:    50,
		Feedback: "auto-estimated: analysis was unavailable for this answer",
	}
	if len(sess.History) > 0 {
		fallback.Score = sess.RunningAverageScore
	}
	m.deps.Logger.Warn("scoring degraded to auto-estimate",
		zap.String(logger.FieldSession, sess.ID),
		zap.Float64("score", fallback.Score),
		zap.Error(lastErr),
	)
	return fallback
}

func (m *Machine) adapting(ctx context.Context, sess *Session) error {
	last := sess.History[len(sess.History)-1]

	store, err := m.deps.Stores.StoreFor(ctx, sess)
	if err != nil {
		m.deps.Logger.Warn("context store unavailable for adaptation",
			zap.String(logger.FieldSession, sess.ID),
			zap.Error(err),
		)
	}

	adaptCtx, cancel := context.WithTimeout(ctx, sess.Settings.PlanningTimeout)
	adaptation, err := m.deps.Planner.Adapt(adaptCtx, store, sess, last)
	cancel()
	if err != nil {
		m.deps.Logger.Warn("adaptation failed, keeping plan unchanged",
			zap.String(logger.FieldSession, sess.ID),
			zap.Error(err),
		)
		adaptation = Adaptation{}
	}

	if adaptation.FollowUp != nil {
		followUp := *adaptation.FollowUp
		followUp.OrderIndex = sess.maxOrderIndex() + 1
		followUp.FollowUp = true
		sess.Plan = append(sess.Plan, followUp)
		m.deps.Logger.Info("follow-up appended",
			zap.String(logger.FieldSession, sess.ID),
			zap.String("topic", followUp.TopicTag),
			zap.Int("order_index", followUp.OrderIndex),
		)
	}

	if adaptation.SkipNext {
		if next := sess.NextQuestion(); next != nil {
			sess.markSkipped(next.ID)
			m.deps.Logger.Info("question skipped by early-termination policy",
				zap.String(logger.FieldSession, sess.ID),
				zap.String("question_id", next.ID),
				zap.String("topic", next.TopicTag),
			)
		}
	}

	if len(sess.History) < sess.Settings.MaxQuestions && sess.NextQuestion() != nil {
		return m.transition(ctx, sess, StateAsking)
	}
	return m.transition(ctx, sess, StateCompleted)
}

func (m *Machine) reporting(ctx context.Context, sess *Session) error {
	if sess.FinalReport == nil {
		reportCtx, cancel := context.WithTimeout(ctx, sess.Settings.ReportTimeout)
		report, err := m.deps.Reporter.Synthesize(reportCtx, sess)
		cancel()
		if err != nil {
			return m.fail(ctx, sess, fmt.Errorf("synthesizing report: %w", err))
		}
		sess.FinalReport = report

		m.deps.Logger.Info("report synthesized",
			zap.String(logger.FieldSession, sess.ID),
			zap.Float64("overall_score", report.OverallScore),
			zap.Int("topics", len(report.PerTopicScores)),
		)
	}

	// AppendReport is idempotent, so retrying after a failed write is safe.
	if err := m.deps.Sessions.AppendReport(ctx, sess.FinalReport); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	return m.transition(ctx, sess, StateDone)
}

// fail moves the session to Failed and returns the original cause, so callers
// see what went wrong even when persisting the failed state also fails.
func (m *Machine) fail(ctx context.Context, sess *Session, cause error) error {
	sess.LastError = cause.Error()
	m.deps.Logger.Error("session failed",
		zap.String(logger.FieldSession, sess.ID),
		zap.String("from", string(sess.Status)),
		zap.Error(cause),
	)

	if err := m.transition(ctx, sess, StateFailed); err != nil {
		m.deps.Logger.Warn("persisting failed state",
			zap.String(logger.FieldSession, sess.ID),
			zap.Error(err),
		)
	}
	return cause
}
