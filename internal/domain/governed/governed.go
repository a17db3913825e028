// Package governed defines the paired review/implementation work item and
// its blocker-set semantics.
package governed

import (
	"fmt"
	"time"

	"github.com/wardenhq/warden/internal/domain"
	"github.com/wardenhq/warden/internal/domain/review"
)

// Status is the lifecycle state of a governed task.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusBlocked  Status = "blocked"
	StatusReleased Status = "released"
)

// Task is a paired unit of work: one review item gating one implementation
// item, sharing a session identity. The implementation item is eligible for
// execution only when its blocker set is empty and no holistic review for
// its session is outstanding.
type Task struct {
	ID                string           `json:"id"`
	Subject           string           `json:"subject"`
	Description       string           `json:"description,omitempty"`
	Context           string           `json:"context,omitempty"`
	ReviewType        string           `json:"review_type"`
	ReviewItemID      string           `json:"review_item_id"`
	ImplItemID        string           `json:"impl_item_id"`
	SessionID         string           `json:"session_id"`
	Status            Status           `json:"status"`
	Blockers          []string         `json:"blockers"`
	LastVerdict       review.Verdict   `json:"last_verdict,omitempty"`
	Guidance          string           `json:"guidance,omitempty"`
	Findings          []review.Finding `json:"findings,omitempty"`
	StandardsVerified []string         `json:"standards_verified,omitempty"`
	// HolisticSettled is set once a settle pass has covered this task, so a
	// later batch in the same session never re-reviews it.
	HolisticSettled bool      `json:"holistic_settled"`
	Version         int       `json:"version"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// HasBlocker reports whether reviewID is still in the task's blocker set.
func (t *Task) HasBlocker(reviewID string) bool {
	for _, b := range t.Blockers {
		if b == reviewID {
			return true
		}
	}
	return false
}

// CreateRequest holds the fields for creating a governed task pair.
type CreateRequest struct {
	Subject     string `json:"subject"`
	Description string `json:"description,omitempty"`
	Context     string `json:"context,omitempty"`
	ReviewType  string `json:"review_type"`
	SessionID   string `json:"session_id"`
}

// Validate checks the create request for correctness.
func (r *CreateRequest) Validate() error {
	if r.Subject == "" {
		return fmt.Errorf("%w: subject is required", domain.ErrValidation)
	}
	if r.ReviewType == "" {
		return fmt.Errorf("%w: review_type is required", domain.ErrValidation)
	}
	if r.SessionID == "" {
		return fmt.Errorf("%w: session_id is required", domain.ErrValidation)
	}
	return nil
}

// ReviewStatus is the answer to a task-status query: whether execution is
// currently permitted and which blockers remain.
type ReviewStatus struct {
	ImplItemID string         `json:"impl_item_id"`
	Status     Status         `json:"status"`
	CanExecute bool           `json:"can_execute"`
	Blockers   []string       `json:"blockers"`
	Verdict    review.Verdict `json:"verdict,omitempty"`
	Guidance   string         `json:"guidance,omitempty"`
}

// ReviewItemStatus is the lifecycle state of a single review item.
type ReviewItemStatus string

const (
	ReviewItemPending   ReviewItemStatus = "pending"
	ReviewItemCompleted ReviewItemStatus = "completed"
)

// ReviewItem is one review requirement attached to an implementation item.
// The initial pair creation makes the first one; AddReviewBlocker stacks
// more. Each outstanding item is a blocker until its review is approved.
type ReviewItem struct {
	ID          string           `json:"id"`
	ImplItemID  string           `json:"impl_item_id"`
	ReviewType  string           `json:"review_type"`
	Context     string           `json:"context,omitempty"`
	Status      ReviewItemStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// PendingReview is one outstanding review item awaiting a verdict.
type PendingReview struct {
	ReviewItemID string    `json:"review_item_id"`
	ImplItemID   string    `json:"impl_item_id"`
	Subject      string    `json:"subject"`
	ReviewType   string    `json:"review_type"`
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
}
