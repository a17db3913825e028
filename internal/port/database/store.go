// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/wardenhq/warden/internal/domain/decision"
	"github.com/wardenhq/warden/internal/domain/governed"
	"github.com/wardenhq/warden/internal/domain/holistic"
	"github.com/wardenhq/warden/internal/domain/review"
)

// DecisionFilter narrows decision history queries. Zero values mean "any".
type DecisionFilter struct {
	TaskID  string
	Agent   string
	Verdict review.Verdict
}

// VerdictTotals aggregates review counts by verdict.
type VerdictTotals struct {
	Approved   int `json:"approved"`
	Blocked    int `json:"blocked"`
	NeedsHuman int `json:"needs_human_review"`
}

// Store is the port interface for all durable state. It is the single
// source of truth: no component holds authoritative state in memory across
// calls.
type Store interface {
	// Decisions. CreateDecision assigns the next gapless per-task sequence
	// number inside a transaction and fills d.ID, d.Seq, d.CreatedAt.
	CreateDecision(ctx context.Context, d *decision.Decision) error
	GetDecision(ctx context.Context, id string) (*decision.Decision, error)
	ListDecisions(ctx context.Context, f DecisionFilter) ([]decision.Decision, error)
	ListDecisionsByTask(ctx context.Context, taskID string) ([]decision.Decision, error)

	// Reviews.
	CreateReview(ctx context.Context, r *review.Review) error
	GetReviewByDecision(ctx context.Context, decisionID string) (*review.Review, error)
	ListReviewsByTask(ctx context.Context, taskID string) ([]review.Review, error)
	CountReviewsByVerdict(ctx context.Context) (VerdictTotals, error)
	ListRecentReviews(ctx context.Context, limit int) ([]review.Review, error)

	// Governed tasks. CreateGovernedTask inserts the pair and its initial
	// review item in one transaction, with the implementation item blocked
	// by that item.
	CreateGovernedTask(ctx context.Context, t *governed.Task, initial *governed.ReviewItem) error
	GetGovernedTask(ctx context.Context, id string) (*governed.Task, error)
	GetGovernedTaskByImpl(ctx context.Context, implItemID string) (*governed.Task, error)
	GetGovernedTaskByReview(ctx context.Context, reviewItemID string) (*governed.Task, error)
	// ListUnsettledTasksBySession returns the session's tasks that no settle
	// pass has covered yet; MarkTasksSettled takes them out of future batches.
	ListUnsettledTasksBySession(ctx context.Context, sessionID string) ([]governed.Task, error)
	MarkTasksSettled(ctx context.Context, taskIDs []string) error
	ListPendingReviews(ctx context.Context) ([]governed.PendingReview, error)
	// AddReviewItem inserts a stacked review item and appends it to the
	// implementation item's blocker set in one transaction.
	AddReviewItem(ctx context.Context, item *governed.ReviewItem) error
	GetReviewItem(ctx context.Context, id string) (*governed.ReviewItem, error)
	CompleteReviewItem(ctx context.Context, id string, at time.Time) error
	// RemoveBlocker removes one blocker from the implementation item's set
	// with an atomic conditional update and returns the remaining set, so
	// concurrent removals of different blockers never lose an update.
	RemoveBlocker(ctx context.Context, implItemID, reviewItemID string) (remaining []string, err error)
	UpdateGovernedVerdict(ctx context.Context, id string, verdict review.Verdict, guidance string, findings []review.Finding, standards []string, status governed.Status) error

	// Holistic reviews and session markers.
	CreateHolisticReview(ctx context.Context, r *holistic.Record) error
	GetHolisticReview(ctx context.Context, id string) (*holistic.Record, error)
	ListHolisticReviewsBySession(ctx context.Context, sessionID string) ([]holistic.Record, error)
	ResolveHolisticReview(ctx context.Context, id string, at time.Time) error
	// TouchSessionMarker upserts the marker to the settling state with a new
	// last-activity timestamp.
	TouchSessionMarker(ctx context.Context, sessionID string, at time.Time) error
	GetSessionMarker(ctx context.Context, sessionID string) (*holistic.Marker, error)
	// ClaimSessionSettle transitions the marker to reviewed only if its
	// last-activity still equals observed (compare-and-set); it reports
	// whether this caller won the claim.
	ClaimSessionSettle(ctx context.Context, sessionID string, observed time.Time) (bool, error)
	SetSessionPending(ctx context.Context, sessionID string, pending bool, guidance string) error
	ClearSessionMarker(ctx context.Context, sessionID string) error
}
