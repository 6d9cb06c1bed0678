// Package metastore provides the durable JSON metadata documents that make
// the per-source pipeline and graph builds resumable. Each document is
// rewritten atomically on every transition; stage accessors treat unvisited
// keys as not started.
package metastore

import "time"

// Status is the lifecycle state of one pipeline stage.
type Status string

// Stage status values. The only legal transitions are
// not_started → in_progress → {stable, failed, broken}. A failed stage may
// be retried after the operator clears it; a broken stage is permanent.
const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusStable     Status = "stable"
	StatusFailed     Status = "failed"
	StatusBroken     Status = "broken"
)

// Terminal reports whether no further automatic work is possible.
func (s Status) Terminal() bool {
	return s == StatusStable || s == StatusBroken
}

// StageState records one stage's status with its last transition time and
// error message, when any.
type StageState struct {
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
	Error     string    `json:"error,omitempty"`
}

// Effective returns the recorded status, defaulting to not_started for a
// zero-valued state.
func (s StageState) Effective() Status {
	if s.Status == "" {
		return StatusNotStarted
	}

	return s.Status
}

// mark updates the state in place with the current time.
func (s *StageState) mark(status Status, errMsg string) {
	s.Status = status
	s.UpdatedAt = time.Now().UTC()
	s.Error = errMsg
}

// clearFailed resets a failed stage to its initial state. Broken stages are
// left alone: those require a new source or parser version, not a retry.
func (s *StageState) clearFailed() bool {
	if s.Status != StatusFailed {
		return false
	}

	*s = StageState{}

	return true
}
