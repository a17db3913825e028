package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wardenhq/warden/internal/adapter/otel"
	"github.com/wardenhq/warden/internal/domain"
	"github.com/wardenhq/warden/internal/port/database"
)

// GateService is the enforcement point agents (and their harnesses) call
// before executing an implementation item.
type GateService struct {
	store    database.Store
	holistic *HolisticService
	metrics  *otel.Metrics
}

// NewGateService creates a GateService.
func NewGateService(store database.Store, holistic *HolisticService, metrics *otel.Metrics) *GateService {
	return &GateService{store: store, holistic: holistic, metrics: metrics}
}

// GateDecision is the outcome of one execution check.
type GateDecision struct {
	ImplItemID string   `json:"impl_item_id"`
	Allowed    bool     `json:"allowed"`
	Feedback   string   `json:"feedback"`
	Blockers   []string `json:"blockers,omitempty"`
}

// CheckExecution decides whether the implementation item may run. An item
// warden has never seen is not governed and passes; a governed item passes
// only with an empty blocker set and no outstanding holistic marker for its
// session.
func (g *GateService) CheckExecution(ctx context.Context, implItemID string) (*GateDecision, error) {
	ctx, span := otel.StartGateSpan(ctx, implItemID)
	defer span.End()

	t, err := g.store.GetGovernedTaskByImpl(ctx, implItemID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			d := &GateDecision{
				ImplItemID: implItemID,
				Allowed:    true,
				Feedback:   "task is not governed; no review gate applies",
			}
			g.metrics.CountGateCheck(ctx, true)
			return d, nil
		}
		return nil, fmt.Errorf("check execution: %w", err)
	}

	d := &GateDecision{ImplItemID: implItemID}

	if len(t.Blockers) > 0 {
		d.Blockers = t.Blockers
		d.Feedback = fmt.Sprintf("execution blocked: %d review(s) outstanding [%s]; complete each review before running this task",
			len(t.Blockers), strings.Join(t.Blockers, ", "))
		if t.Guidance != "" {
			d.Feedback += "; latest reviewer guidance: " + t.Guidance
		}
		g.metrics.CountGateCheck(ctx, false)
		return d, nil
	}

	if g.holistic != nil {
		outstanding, guidance, err := g.holistic.OutstandingGuidance(ctx, t.SessionID)
		if err != nil {
			return nil, err
		}
		if outstanding {
			d.Feedback = "execution blocked: the session's collective review is unresolved"
			if guidance != "" {
				d.Feedback += "; " + guidance
			}
			g.metrics.CountGateCheck(ctx, false)
			return d, nil
		}
	}

	d.Allowed = true
	d.Feedback = "all reviews resolved; execution permitted"
	g.metrics.CountGateCheck(ctx, true)
	return d, nil
}

// Require is CheckExecution with error semantics: a denial comes back as
// domain.ErrExecutionBlocked carrying the gate feedback.
func (g *GateService) Require(ctx context.Context, implItemID string) error {
	d, err := g.CheckExecution(ctx, implItemID)
	if err != nil {
		return err
	}
	if !d.Allowed {
		return fmt.Errorf("%w: %s", domain.ErrExecutionBlocked, d.Feedback)
	}
	return nil
}
