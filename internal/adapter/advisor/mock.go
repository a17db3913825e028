package advisor

import (
	"context"

	"github.com/wardenhq/warden/internal/domain/review"
	"github.com/wardenhq/warden/internal/port/oracle"
)

// Mock is a deterministic reviewer for development and environments without
// a reachable gateway. It approves everything with no findings so downstream
// flows stay exercisable.
type Mock struct{}

var _ oracle.Oracle = (*Mock)(nil)

// NewMock creates a mock reviewer.
func NewMock() *Mock {
	return &Mock{}
}

// Evaluate always approves.
func (m *Mock) Evaluate(_ context.Context, req oracle.Request) (*oracle.Result, error) {
	return &oracle.Result{
		Verdict:  review.VerdictApproved,
		Findings: []review.Finding{},
		Intent:   req.Summary,
		Reviewer: "mock",
	}, nil
}
