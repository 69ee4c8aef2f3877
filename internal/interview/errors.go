// Package interview owns the session model and the state machine that drives
// a mock interview from document intake to the final report.
package interview

import "errors"

// Sentinel errors for the failure classes callers branch on. They are wrapped
// with context at the failure site and matched with errors.Is.
var (
	// ErrConfig marks invalid settings, rejected before a session starts.
	ErrConfig = errors.New("invalid configuration")
	// ErrServiceUnavailable marks an external backend that stayed down
	// through all retries.
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrPlannerUnavailable marks a planner that could not produce a
	// parseable plan.
	ErrPlannerUnavailable = errors.New("planner unavailable")
	// ErrAnalysisParse marks an analyzer response without a usable score.
	ErrAnalysisParse = errors.New("analysis response unusable")
	// ErrPrecondition marks an operation invoked in a state that does not
	// permit it.
	ErrPrecondition = errors.New("operation not allowed in current state")
	// ErrPersistence marks a session store write that did not land. The
	// in-memory session stays authoritative and the write is retried on the
	// next call.
	ErrPersistence = errors.New("session persistence failed")
	// ErrNotFound marks a session id unknown to the store.
	ErrNotFound = errors.New("session not found")
	// ErrReportPending marks a report requested before the interview
	// finished.
	ErrReportPending = errors.New("report not ready")
)
