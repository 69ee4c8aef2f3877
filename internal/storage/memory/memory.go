// Package memory provides an in-process session store, used when no durable
// backend is configured and as the reference for the store contract.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vivacli/viva/internal/interview"
)

// Store keeps sessions and reports in maps. All values are deep-copied on
// the way in and out, so callers never share state with the store.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*interview.Session
	reports  map[string]*interview.Report
}

func New() *Store {
	return &Store{
		sessions: make(map[string]*interview.Session),
		reports:  make(map[string]*interview.Report),
	}
}

func (s *Store) GetSession(_ context.Context, id string) (*interview.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", interview.ErrNotFound, id)
	}
	return sess.Clone(), nil
}

// PutSession writes the session if its version is exactly one ahead of the
// stored one. A fresh session must arrive with version 1.
func (s *Store) PutSession(_ context.Context, sess *interview.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[sess.ID]
	if !ok {
		if sess.Version != 1 {
			return fmt.Errorf("session %s does not exist, cannot write version %d", sess.ID, sess.Version)
		}
	} else if sess.Version != stored.Version+1 {
		return fmt.Errorf("session %s version conflict: stored %d, incoming %d", sess.ID, stored.Version, sess.Version)
	}

	s.sessions[sess.ID] = sess.Clone()
	return nil
}

// AppendReport stores the report unless one already exists for the session;
// the first written report wins, keeping reports immutable.
func (s *Store) AppendReport(_ context.Context, report *interview.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reports[report.SessionID]; ok {
		return nil
	}
	s.reports[report.SessionID] = cloneReport(report)
	return nil
}

func (s *Store) GetReport(_ context.Context, sessionID string) (*interview.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report, ok := s.reports[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: report for session %s", interview.ErrNotFound, sessionID)
	}
	return cloneReport(report), nil
}

func (s *Store) ListSessions(_ context.Context) ([]*interview.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]*interview.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess.Clone())
	}
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
		}
		return sessions[i].ID < sessions[j].ID
	})
	return sessions, nil
}

func cloneReport(r *interview.Report) *interview.Report {
	clone := *r
	clone.PerTopicScores = append([]interview.TopicScore(nil), r.PerTopicScores...)
	clone.Recommendations = append([]string(nil), r.Recommendations...)
	return &clone
}
