package interview

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vivacli/viva/internal/logger"
	"github.com/vivacli/viva/internal/rag"
)

// IndexFactory builds the vector index backing one retrieval store. A nil
// factory, or a factory error, selects the in-memory index.
type IndexFactory func(ctx context.Context, fingerprint string) (rag.Index, error)

// EngineDeps wires the engine's collaborators.
type EngineDeps struct {
	Sessions SessionStore
	Planner  Planner
	Analyzer Analyzer
	Reporter Reporter
	Embedder rag.Embedder
	// IndexFactory is optional; when set, retrieval stores index into it
	// instead of the in-memory index.
	IndexFactory IndexFactory
	Logger       *zap.Logger
}

// Engine is the public face of the interview lifecycle. It owns the session
// cache, serializes access per session and retries failed persistence on the
// next call, so callers only ever see a settled session.
type Engine struct {
	deps    EngineDeps
	machine *Machine
	cache   *rag.Cache
	logger  *zap.Logger

	mu      sync.Mutex
	entries map[string]*sessionEntry
}

// sessionEntry is the in-memory authority for one session. dirty marks a
// session whose last write failed and must be flushed before further work.
type sessionEntry struct {
	mu    sync.Mutex
	sess  *Session
	dirty bool
}

// NewEngine returns an engine over the given dependencies.
func NewEngine(deps EngineDeps) *Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	e := &Engine{
		deps:    deps,
		cache:   rag.NewCache(),
		logger:  log,
		entries: make(map[string]*sessionEntry),
	}
	e.machine = NewMachine(Deps{
		Sessions: deps.Sessions,
		Stores:   e,
		Planner:  deps.Planner,
		Analyzer: deps.Analyzer,
		Reporter: deps.Reporter,
		Logger:   log,
	})
	return e
}

// StoreFor builds or reuses the retrieval store for the session's documents.
// Stores are cached by content fingerprint, so sessions over the same
// documents and chunking share one store.
func (e *Engine) StoreFor(ctx context.Context, sess *Session) (*rag.Store, error) {
	params := rag.ChunkParams{Size: sess.Settings.ChunkSize, Overlap: sess.Settings.ChunkOverlap}
	fingerprint := rag.Fingerprint(sess.Documents, params)
	if store, ok := e.cache.Get(fingerprint); ok {
		return store, nil
	}

	cfg := rag.BuildConfig{
		Chunking:     params,
		EmbedTimeout: sess.Settings.EmbedTimeout,
		MaxAttempts:  sess.Settings.MaxRetries,
	}
	if e.deps.IndexFactory != nil {
		index, err := e.deps.IndexFactory(ctx, fingerprint)
		if err != nil {
			e.logger.Warn("vector index unavailable, falling back to in-memory index",
				zap.String(logger.FieldSession, sess.ID),
				zap.Error(err),
			)
		} else {
			cfg.Index = index
		}
	}

	store, err := rag.Build(ctx, sess.Documents, e.deps.Embedder, cfg, e.logger)
	if err != nil {
		return nil, err
	}
	return e.cache.Add(store), nil
}

// StartSession validates the settings, persists a fresh session and drives it
// until the first question is awaiting an answer. The session id is returned
// even when the drive fails, so the caller can inspect the failed session.
func (e *Engine) StartSession(ctx context.Context, owner string, docs []rag.Document, settings Settings) (string, error) {
	settings = settings.WithDefaults()
	if err := settings.Validate(); err != nil {
		return "", err
	}
	if err := requireDocuments(docs); err != nil {
		return "", err
	}

	created := now()
	sess := &Session{
		ID:        uuid.NewString(),
		Owner:     owner,
		Status:    StateSetup,
		Settings:  settings,
		Documents: docs,
		CreatedAt: created,
		UpdatedAt: created,
	}

	if err := e.machine.persist(ctx, sess); err != nil {
		return "", err
	}

	entry := &sessionEntry{sess: sess}
	e.mu.Lock()
	e.entries[sess.ID] = entry
	e.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()

	err := e.machine.Advance(ctx, sess)
	if errors.Is(err, ErrPersistence) {
		entry.dirty = true
	}
	return sess.ID, err
}

// SubmitAnswer records the answer for the question currently awaiting one,
// scores it and advances until the session settles again. The scored turn is
// returned together with any error from advancing past it.
func (e *Engine) SubmitAnswer(ctx context.Context, sessionID, answer string) (Turn, error) {
	entry, err := e.entry(ctx, sessionID)
	if err != nil {
		return Turn{}, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := e.settle(ctx, entry); err != nil {
		return Turn{}, err
	}

	sess := entry.sess
	switch sess.Status {
	case StateAwaitingAnswer:
	case StatePaused:
		return Turn{}, fmt.Errorf("%w: session %s is paused, resume it first", ErrPrecondition, sess.ID)
	default:
		return Turn{}, fmt.Errorf("%w: session %s is %s, not awaiting an answer", ErrPrecondition, sess.ID, sess.Status)
	}

	sess.PendingAnswer = &answer
	if err := e.machine.transition(ctx, sess, StateScoring); err != nil {
		if errors.Is(err, ErrPersistence) {
			entry.dirty = true
		}
		return Turn{}, err
	}

	turnsBefore := len(sess.History)
	err = e.machine.Advance(ctx, sess)
	if errors.Is(err, ErrPersistence) {
		entry.dirty = true
	}

	if len(sess.History) > turnsBefore {
		return sess.History[len(sess.History)-1], err
	}
	return Turn{}, err
}

// Settle flushes deferred writes, finishes mid-flight work left over from a
// crash or failed call, and returns the settled session. A session stored
// mid-scoring still carries its buffered answer, so the answer is scored
// rather than lost.
func (e *Engine) Settle(ctx context.Context, sessionID string) (*Session, error) {
	entry, err := e.entry(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	err = e.settle(ctx, entry)
	return entry.sess.Clone(), err
}

// Status returns a snapshot of the session.
func (e *Engine) Status(ctx context.Context, sessionID string) (*Session, error) {
	entry, err := e.entry(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.sess.Clone(), nil
}

// Report returns the final report, finishing synthesis first when the
// session has concluded but the report is not written yet. Repeated calls
// return the same stored report.
func (e *Engine) Report(ctx context.Context, sessionID string) (*Report, error) {
	entry, err := e.entry(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := e.settle(ctx, entry); err != nil {
		return nil, err
	}

	sess := entry.sess
	if sess.FinalReport != nil {
		return cloneReport(sess.FinalReport), nil
	}
	if !sess.Concluded() {
		return nil, fmt.Errorf("%w: session %s is %s", ErrReportPending, sess.ID, sess.Status)
	}

	// Concluded with no in-memory report: an earlier run may have written it.
	report, err := e.deps.Sessions.GetReport(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	sess.FinalReport = report
	return cloneReport(report), nil
}

// Pause suspends a running session. The pre-pause state is recorded so
// Resume can pick up exactly where the session stopped.
func (e *Engine) Pause(ctx context.Context, sessionID string) error {
	entry, err := e.entry(ctx, sessionID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := e.flush(ctx, entry); err != nil {
		return err
	}

	sess := entry.sess
	if sess.Status.Terminal() {
		return fmt.Errorf("%w: session %s is %s and cannot be paused", ErrPrecondition, sess.ID, sess.Status)
	}
	if sess.Status == StatePaused {
		return nil
	}

	sess.PausedFrom = sess.Status
	if err := e.machine.transition(ctx, sess, StatePaused); err != nil {
		if errors.Is(err, ErrPersistence) {
			entry.dirty = true
		}
		return err
	}
	return nil
}

// Resume restores a paused session to its pre-pause state and advances it
// until it settles. A session paused while awaiting an answer re-emits the
// same question rather than moving on.
func (e *Engine) Resume(ctx context.Context, sessionID string) (*Session, error) {
	entry, err := e.entry(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := e.flush(ctx, entry); err != nil {
		return nil, err
	}

	sess := entry.sess
	if sess.Status != StatePaused {
		return nil, fmt.Errorf("%w: session %s is %s, not paused", ErrPrecondition, sess.ID, sess.Status)
	}

	target := sess.PausedFrom
	if target == "" {
		target = StateAsking
	}
	sess.PausedFrom = ""
	if err := e.machine.transition(ctx, sess, target); err != nil {
		if errors.Is(err, ErrPersistence) {
			entry.dirty = true
		}
		return nil, err
	}

	err = e.machine.Advance(ctx, sess)
	if errors.Is(err, ErrPersistence) {
		entry.dirty = true
	}
	return sess.Clone(), err
}

// entry loads the in-memory entry for a session, reading it from the store
// on first touch.
func (e *Engine) entry(ctx context.Context, sessionID string) (*sessionEntry, error) {
	e.mu.Lock()
	if entry, ok := e.entries[sessionID]; ok {
		e.mu.Unlock()
		return entry, nil
	}
	e.mu.Unlock()

	sess, err := e.deps.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if entry, ok := e.entries[sessionID]; ok {
		return entry, nil
	}
	entry := &sessionEntry{sess: sess}
	e.entries[sessionID] = entry
	return entry, nil
}

// flush retries the last failed write. The in-memory session already carries
// the target version, so the write is repeated as-is.
func (e *Engine) flush(ctx context.Context, entry *sessionEntry) error {
	if !entry.dirty {
		return nil
	}
	if err := e.deps.Sessions.PutSession(ctx, entry.sess); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	entry.dirty = false
	e.logger.Info("deferred session write flushed",
		zap.String(logger.FieldSession, entry.sess.ID),
		zap.String(logger.FieldState, string(entry.sess.Status)),
	)
	return nil
}

// settle flushes deferred writes and finishes any mid-flight work, so the
// caller observes the session in a stable state.
func (e *Engine) settle(ctx context.Context, entry *sessionEntry) error {
	if err := e.flush(ctx, entry); err != nil {
		return err
	}

	switch entry.sess.Status {
	case StateAwaitingAnswer, StatePaused, StateDone, StateFailed:
		return nil
	}

	err := e.machine.Advance(ctx, entry.sess)
	if errors.Is(err, ErrPersistence) {
		entry.dirty = true
	}
	return err
}

func requireDocuments(docs []rag.Document) error {
	var resume, job bool
	for _, doc := range docs {
		switch doc.Kind {
		case rag.KindResume:
			resume = true
		case rag.KindJobDescription:
			job = true
		}
	}
	if !resume {
		return fmt.Errorf("%w: a resume document is required", ErrConfig)
	}
	if !job {
		return fmt.Errorf("%w: a job description document is required", ErrConfig)
	}
	return nil
}

func cloneReport(r *Report) *Report {
	if r == nil {
		return nil
	}
	clone := *r
	clone.PerTopicScores = append([]TopicScore(nil), r.PerTopicScores...)
	clone.Recommendations = append([]string(nil), r.Recommendations...)
	return &clone
}
