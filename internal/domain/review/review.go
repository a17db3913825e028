// Package review defines the verdict model shared by every checkpoint:
// decision reviews, plan reviews, completion reviews, and holistic reviews.
package review

import (
	"errors"
	"time"
)

// Verdict is the outcome of a review.
type Verdict string

const (
	VerdictApproved   Verdict = "approved"
	VerdictBlocked    Verdict = "blocked"
	VerdictNeedsHuman Verdict = "needs-human-review"
)

// Valid reports whether v is one of the known verdicts.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictApproved, VerdictBlocked, VerdictNeedsHuman:
		return true
	}
	return false
}

// Kind discriminates what a Review covers.
type Kind string

const (
	KindDecision   Kind = "decision"
	KindPlan       Kind = "plan"
	KindCompletion Kind = "completion"
)

// Finding is a single reviewer observation attached to a verdict.
type Finding struct {
	Tier        string `json:"tier,omitempty"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion,omitempty"`
}

// Review is the immutable verdict record for exactly one checkpoint request.
// Exactly one of DecisionID / the (TaskID, Kind) pair identifies the subject:
// decision reviews set DecisionID, plan and completion reviews are keyed by
// task.
type Review struct {
	ID                string    `json:"id"`
	Kind              Kind      `json:"kind"`
	TaskID            string    `json:"task_id"`
	DecisionID        string    `json:"decision_id,omitempty"`
	Verdict           Verdict   `json:"verdict"`
	Findings          []Finding `json:"findings"`
	Guidance          string    `json:"guidance,omitempty"`
	StandardsVerified []string  `json:"standards_verified,omitempty"`
	Reviewer          string    `json:"reviewer"`
	CreatedAt         time.Time `json:"created_at"`
}

// Standard is one policy standard fetched from the knowledge base and
// included in the review context.
type Standard struct {
	ID      string `json:"id"`
	Tier    string `json:"tier"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

var ErrInvalidVerdict = errors.New("invalid verdict")

// Resolved reports whether the review no longer blocks forward progress.
// A blocked review stays unresolved until a corrected request is approved.
func (r *Review) Resolved() bool {
	return r.Verdict == VerdictApproved
}
