// Package oracle defines the reviewer oracle port (interface).
package oracle

import (
	"context"

	"github.com/wardenhq/warden/internal/domain/review"
)

// RequestKind tells the oracle what it is reviewing.
type RequestKind string

const (
	KindDecision   RequestKind = "decision"
	KindPlan       RequestKind = "plan"
	KindCompletion RequestKind = "completion"
	KindHolistic   RequestKind = "holistic"
)

// Request carries one checkpoint (or one batch, for holistic reviews) plus
// the standards context to review it against.
type Request struct {
	Kind    RequestKind
	TaskID  string
	Agent   string
	Summary string
	Detail  string
	// Components lists the components a decision or plan touches.
	Components []string
	// Files lists the files a completion report claims to have changed.
	Files []string
	// Decisions carries the summaries of the task's prior decisions when a
	// plan is reviewed against its trail.
	Decisions []string
	// Subjects carries the per-task subjects of a holistic batch; empty for
	// single-item reviews.
	Subjects  []string
	Standards []review.Standard
}

// Result is the structured verdict parsed from the oracle's response.
type Result struct {
	Verdict           review.Verdict   `json:"verdict"`
	Findings          []review.Finding `json:"findings"`
	Guidance          string           `json:"guidance"`
	Intent            string           `json:"intent,omitempty"`
	StandardsVerified []string         `json:"standards_verified"`
	Reviewer          string           `json:"-"`
}

// Oracle invokes the external advisory reviewer synchronously. The call is
// the only network suspension point inside a checkpoint and must be bounded
// by a timeout; a timeout or unparsable response surfaces as an error, never
// as an implicit verdict.
type Oracle interface {
	Evaluate(ctx context.Context, req Request) (*Result, error)
}
