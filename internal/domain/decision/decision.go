// Package decision defines the Decision entity and the category-based
// auto-escalation rule.
package decision

import (
	"fmt"
	"time"

	"github.com/wardenhq/warden/internal/domain"
	"github.com/wardenhq/warden/internal/domain/review"
)

// Category classifies what kind of choice the agent is proposing.
type Category string

const (
	CategoryPatternChoice   Category = "pattern-choice"
	CategoryComponentDesign Category = "component-design"
	CategoryAPIDesign       Category = "api-design"
	CategoryDeviation       Category = "deviation"
	CategoryScopeChange     Category = "scope-change"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryPatternChoice, CategoryComponentDesign, CategoryAPIDesign,
		CategoryDeviation, CategoryScopeChange:
		return true
	}
	return false
}

// AutoEscalates reports whether the category must always be routed to a
// human. Deviations and scope changes are definitionally ambiguous and are
// never silently auto-approved, regardless of what the oracle would say.
func (c Category) AutoEscalates() bool {
	return c == CategoryDeviation || c == CategoryScopeChange
}

// EscalationVerdict returns the forced verdict for auto-escalating
// categories, or ("", false) when the category goes through the oracle.
func (c Category) EscalationVerdict() (review.Verdict, bool) {
	if c.AutoEscalates() {
		return review.VerdictNeedsHuman, true
	}
	return "", false
}

// Decision is an agent's proposed choice. Immutable once created: a revised
// proposal is submitted as a new Decision with the next sequence number.
type Decision struct {
	ID                     string    `json:"id"`
	TaskID                 string    `json:"task_id"`
	Seq                    int       `json:"seq"`
	Agent                  string    `json:"agent"`
	Category               Category  `json:"category"`
	Summary                string    `json:"summary"`
	Detail                 string    `json:"detail,omitempty"`
	ComponentsAffected     []string  `json:"components_affected,omitempty"`
	AlternativesConsidered []string  `json:"alternatives_considered,omitempty"`
	Confidence             float64   `json:"confidence"`
	CreatedAt              time.Time `json:"created_at"`
}

// SubmitRequest holds the fields for submitting a decision checkpoint.
type SubmitRequest struct {
	TaskID                 string   `json:"task_id"`
	Agent                  string   `json:"agent"`
	Category               Category `json:"category"`
	Summary                string   `json:"summary"`
	Detail                 string   `json:"detail,omitempty"`
	ComponentsAffected     []string `json:"components_affected,omitempty"`
	AlternativesConsidered []string `json:"alternatives_considered,omitempty"`
	Confidence             float64  `json:"confidence,omitempty"`
}

// Validate checks the submit request for correctness.
func (r *SubmitRequest) Validate() error {
	if r.TaskID == "" {
		return fmt.Errorf("%w: task_id is required", domain.ErrValidation)
	}
	if r.Agent == "" {
		return fmt.Errorf("%w: agent is required", domain.ErrValidation)
	}
	if !r.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", domain.ErrValidation, r.Category)
	}
	if r.Summary == "" {
		return fmt.Errorf("%w: summary is required", domain.ErrValidation)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("%w: confidence must be in [0,1]", domain.ErrValidation)
	}
	return nil
}
