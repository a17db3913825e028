// Package holistic defines the collective review covering a batch of
// governed tasks created together in one session, plus the per-session
// settle marker that drives the debounce state machine.
package holistic

import (
	"time"

	"github.com/wardenhq/warden/internal/domain/review"
)

// SessionState is the settle state machine for a session.
type SessionState string

const (
	StateCollecting SessionState = "collecting"
	StateSettling   SessionState = "settling"
	StateReviewed   SessionState = "reviewed"
)

// Record is one collective review covering a batch of governed tasks.
// Created only when the batch size is >= 2; a single task proceeds straight
// to its individual review.
type Record struct {
	ID                string           `json:"id"`
	SessionID         string           `json:"session_id"`
	TaskIDs           []string         `json:"task_ids"`
	Subjects          []string         `json:"subjects"`
	Intent            string           `json:"intent,omitempty"`
	Verdict           review.Verdict   `json:"verdict"`
	Findings          []review.Finding `json:"findings,omitempty"`
	Guidance          string           `json:"guidance,omitempty"`
	StandardsVerified []string         `json:"standards_verified,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	ResolvedAt        *time.Time       `json:"resolved_at,omitempty"`
}

// Marker is the durable per-session coordination record. It replaces any
// in-process flag: a restart simply re-reads it. LastActivity is the
// atomically-compared timestamp that decides which settle checker proceeds.
type Marker struct {
	SessionID    string       `json:"session_id"`
	State        SessionState `json:"state"`
	Pending      bool         `json:"pending"`
	Guidance     string       `json:"guidance,omitempty"`
	LastActivity time.Time    `json:"last_activity"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// StaleAfter reports whether the marker has passed the given ceiling age at
// time now. Stale pending markers are treated as abandoned by a crashed
// settle checker and cleared defensively.
func (m *Marker) StaleAfter(ceiling time.Duration, now time.Time) bool {
	return m.Pending && now.Sub(m.UpdatedAt) > ceiling
}

// Outstanding reports whether the marker currently forbids execution for
// its session.
func (m *Marker) Outstanding() bool {
	return m.Pending
}
