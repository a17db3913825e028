// Package service implements warden's core behavior: synchronous review
// checkpoints, governed task pairing, holistic batch settlement, and the
// execution gate.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wardenhq/warden/internal/adapter/otel"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/domain"
	"github.com/wardenhq/warden/internal/domain/decision"
	"github.com/wardenhq/warden/internal/domain/governed"
	"github.com/wardenhq/warden/internal/domain/review"
	"github.com/wardenhq/warden/internal/port/database"
	"github.com/wardenhq/warden/internal/port/messagequeue"
	"github.com/wardenhq/warden/internal/port/oracle"
	"github.com/wardenhq/warden/internal/port/standards"
)

// policyReviewer marks verdicts issued by warden's own rules rather than the
// advisory reviewer (auto-escalation, the completion consistency gate).
const policyReviewer = "policy"

// CheckpointService runs the synchronous review checkpoints: every decision,
// plan, and completion an agent submits blocks until a verdict exists.
type CheckpointService struct {
	store       database.Store
	oracle      oracle.Oracle
	standards   standards.Provider
	queue       messagequeue.Queue
	metrics     *otel.Metrics
	defaultTier string
	recentLimit int
}

// NewCheckpointService creates a CheckpointService with all dependencies.
// queue, standards, and metrics may be nil; the checkpoint flow itself never
// depends on them.
func NewCheckpointService(
	store database.Store,
	orc oracle.Oracle,
	std standards.Provider,
	queue messagequeue.Queue,
	metrics *otel.Metrics,
	cfg config.Config,
) *CheckpointService {
	return &CheckpointService{
		store:       store,
		oracle:      orc,
		standards:   std,
		queue:       queue,
		metrics:     metrics,
		defaultTier: cfg.Standards.DefaultTier,
		recentLimit: cfg.Governance.RecentActivityLimit,
	}
}

// SubmitDecision records the decision with the next sequence number and
// returns its review. Deviation and scope-change categories are escalated to
// a human verdict without consulting the oracle.
func (s *CheckpointService) SubmitDecision(ctx context.Context, req decision.SubmitRequest) (*decision.Decision, *review.Review, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, fmt.Errorf("validate decision: %w", err)
	}

	ctx, span := otel.StartCheckpointSpan(ctx, string(review.KindDecision), req.TaskID, req.Agent)
	defer span.End()
	s.metrics.CountCheckpoint(ctx, string(review.KindDecision))

	d := &decision.Decision{
		TaskID:                 req.TaskID,
		Agent:                  req.Agent,
		Category:               req.Category,
		Summary:                req.Summary,
		Detail:                 req.Detail,
		ComponentsAffected:     req.ComponentsAffected,
		AlternativesConsidered: req.AlternativesConsidered,
		Confidence:             req.Confidence,
	}
	if err := s.store.CreateDecision(ctx, d); err != nil {
		return nil, nil, fmt.Errorf("create decision: %w", err)
	}

	rev := &review.Review{
		Kind:       review.KindDecision,
		TaskID:     d.TaskID,
		DecisionID: d.ID,
	}

	if verdict, forced := req.Category.EscalationVerdict(); forced {
		rev.Verdict = verdict
		rev.Findings = []review.Finding{}
		rev.Guidance = fmt.Sprintf("category %q always requires human sign-off; do not proceed until a human has reviewed this decision", req.Category)
		rev.Reviewer = policyReviewer
	} else {
		result, err := s.evaluate(ctx, oracle.Request{
			Kind:       oracle.KindDecision,
			TaskID:     d.TaskID,
			Agent:      d.Agent,
			Summary:    d.Summary,
			Detail:     d.Detail,
			Components: d.ComponentsAffected,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("evaluate decision %s: %w", d.ID, err)
		}
		rev.Verdict = result.Verdict
		rev.Findings = result.Findings
		rev.Guidance = result.Guidance
		rev.StandardsVerified = result.StandardsVerified
		rev.Reviewer = result.Reviewer
	}

	if err := s.store.CreateReview(ctx, rev); err != nil {
		return nil, nil, fmt.Errorf("create decision review: %w", err)
	}

	s.finishReview(ctx, rev, d.Summary)
	slog.Info("decision reviewed",
		"decision_id", d.ID, "task_id", d.TaskID, "seq", d.Seq,
		"category", d.Category, "verdict", rev.Verdict)
	return d, rev, nil
}

// PlanSubmission is a plan checkpoint request.
type PlanSubmission struct {
	TaskID             string   `json:"task_id"`
	Agent              string   `json:"agent"`
	Summary            string   `json:"summary"`
	Detail             string   `json:"detail,omitempty"`
	ComponentsAffected []string `json:"components_affected,omitempty"`
}

// PlanResult is the plan checkpoint outcome. DecisionsReviewed lists the
// task's decision ids that were given to the reviewer as trail context.
type PlanResult struct {
	Review            *review.Review `json:"review"`
	DecisionsReviewed []string       `json:"decisions_reviewed"`
}

// SubmitPlan reviews a proposed implementation plan before work starts. The
// task's decision trail is handed to the reviewer so the plan is judged
// against choices already made.
func (s *CheckpointService) SubmitPlan(ctx context.Context, req PlanSubmission) (*PlanResult, error) {
	if req.TaskID == "" {
		return nil, fmt.Errorf("%w: task_id is required", domain.ErrValidation)
	}
	if req.Summary == "" {
		return nil, fmt.Errorf("%w: summary is required", domain.ErrValidation)
	}

	ctx, span := otel.StartCheckpointSpan(ctx, string(review.KindPlan), req.TaskID, req.Agent)
	defer span.End()
	s.metrics.CountCheckpoint(ctx, string(review.KindPlan))

	trail, err := s.store.ListDecisionsByTask(ctx, req.TaskID)
	if err != nil {
		return nil, fmt.Errorf("list decisions for task %s: %w", req.TaskID, err)
	}
	reviewed := make([]string, 0, len(trail))
	history := make([]string, 0, len(trail))
	for i := range trail {
		reviewed = append(reviewed, trail[i].ID)
		history = append(history, trail[i].Summary)
	}

	result, err := s.evaluate(ctx, oracle.Request{
		Kind:       oracle.KindPlan,
		TaskID:     req.TaskID,
		Agent:      req.Agent,
		Summary:    req.Summary,
		Detail:     req.Detail,
		Components: req.ComponentsAffected,
		Decisions:  history,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate plan for task %s: %w", req.TaskID, err)
	}

	rev := &review.Review{
		Kind:              review.KindPlan,
		TaskID:            req.TaskID,
		Verdict:           result.Verdict,
		Findings:          result.Findings,
		Guidance:          result.Guidance,
		StandardsVerified: result.StandardsVerified,
		Reviewer:          result.Reviewer,
	}
	if err := s.store.CreateReview(ctx, rev); err != nil {
		return nil, fmt.Errorf("create plan review: %w", err)
	}

	s.finishReview(ctx, rev, req.Summary)
	slog.Info("plan reviewed", "task_id", req.TaskID, "verdict", rev.Verdict)
	return &PlanResult{Review: rev, DecisionsReviewed: reviewed}, nil
}

// CompletionSubmission is a completion checkpoint request.
type CompletionSubmission struct {
	TaskID       string   `json:"task_id"`
	Agent        string   `json:"agent"`
	Summary      string   `json:"summary"`
	Detail       string   `json:"detail,omitempty"`
	FilesChanged []string `json:"files_changed,omitempty"`
}

// CompletionResult is the completion checkpoint outcome. UnreviewedDecisions
// names the decisions that forced a blocked verdict, if any.
type CompletionResult struct {
	Review              *review.Review `json:"review"`
	UnreviewedDecisions []string       `json:"unreviewed_decisions"`
}

// SubmitCompletion reviews a completion report. Before the oracle sees it,
// the task's decision trail is checked: any decision without a review, or
// whose latest review is an unresolved block, forces a blocked verdict
// naming the offending decisions.
func (s *CheckpointService) SubmitCompletion(ctx context.Context, req CompletionSubmission) (*CompletionResult, error) {
	if req.TaskID == "" {
		return nil, fmt.Errorf("%w: task_id is required", domain.ErrValidation)
	}
	if req.Summary == "" {
		return nil, fmt.Errorf("%w: summary is required", domain.ErrValidation)
	}

	ctx, span := otel.StartCheckpointSpan(ctx, string(review.KindCompletion), req.TaskID, req.Agent)
	defer span.End()
	s.metrics.CountCheckpoint(ctx, string(review.KindCompletion))

	offending, err := s.unresolvedDecisions(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}

	rev := &review.Review{
		Kind:   review.KindCompletion,
		TaskID: req.TaskID,
	}

	if len(offending) > 0 {
		rev.Verdict = review.VerdictBlocked
		rev.Findings = []review.Finding{{
			Severity:    "high",
			Description: fmt.Sprintf("decision trail is not clean: decisions [%s] are unreviewed or blocked", strings.Join(offending, ", ")),
			Suggestion:  "resolve each listed decision with an approved review, then resubmit the completion",
		}}
		rev.Guidance = "completion cannot be approved while the task has unresolved decisions"
		rev.Reviewer = policyReviewer
	} else {
		result, err := s.evaluate(ctx, oracle.Request{
			Kind:    oracle.KindCompletion,
			TaskID:  req.TaskID,
			Agent:   req.Agent,
			Summary: req.Summary,
			Detail:  req.Detail,
			Files:   req.FilesChanged,
		})
		if err != nil {
			return nil, fmt.Errorf("evaluate completion for task %s: %w", req.TaskID, err)
		}
		rev.Verdict = result.Verdict
		rev.Findings = result.Findings
		rev.Guidance = result.Guidance
		rev.StandardsVerified = result.StandardsVerified
		rev.Reviewer = result.Reviewer
	}

	if err := s.store.CreateReview(ctx, rev); err != nil {
		return nil, fmt.Errorf("create completion review: %w", err)
	}

	s.finishReview(ctx, rev, req.Summary)
	slog.Info("completion reviewed", "task_id", req.TaskID, "verdict", rev.Verdict)
	if offending == nil {
		offending = []string{}
	}
	return &CompletionResult{Review: rev, UnreviewedDecisions: offending}, nil
}

// DecisionHistory returns decisions matching the filter, newest first.
func (s *CheckpointService) DecisionHistory(ctx context.Context, f database.DecisionFilter) ([]decision.Decision, error) {
	return s.store.ListDecisions(ctx, f)
}

// GovernanceStatus is a summary of review activity for status queries.
type GovernanceStatus struct {
	Totals         database.VerdictTotals   `json:"totals"`
	PendingReviews []governed.PendingReview `json:"pending_reviews"`
	RecentReviews  []review.Review          `json:"recent_reviews"`
}

// GovernanceStatus aggregates verdict totals, outstanding review items, and
// recent review activity.
func (s *CheckpointService) GovernanceStatus(ctx context.Context) (*GovernanceStatus, error) {
	totals, err := s.store.CountReviewsByVerdict(ctx)
	if err != nil {
		return nil, fmt.Errorf("count verdicts: %w", err)
	}
	pending, err := s.store.ListPendingReviews(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending reviews: %w", err)
	}
	recent, err := s.store.ListRecentReviews(ctx, s.recentLimit)
	if err != nil {
		return nil, fmt.Errorf("list recent reviews: %w", err)
	}
	return &GovernanceStatus{
		Totals:         totals,
		PendingReviews: pending,
		RecentReviews:  recent,
	}, nil
}

// evaluate fetches standards context and calls the oracle, timing the call.
func (s *CheckpointService) evaluate(ctx context.Context, req oracle.Request) (*oracle.Result, error) {
	req.Standards = s.lookupStandards(ctx)

	start := time.Now()
	result, err := s.oracle.Evaluate(ctx, req)
	s.metrics.RecordOracleCall(ctx, string(req.Kind), time.Since(start).Seconds(), err != nil)
	return result, err
}

// lookupStandards loads the default-tier standards for review context. The
// knowledge base being down degrades the review context, it does not block
// the checkpoint.
func (s *CheckpointService) lookupStandards(ctx context.Context) []review.Standard {
	if s.standards == nil {
		return nil
	}
	stds, err := s.standards.StandardsByTier(ctx, s.defaultTier)
	if err != nil {
		slog.Warn("standards lookup failed, reviewing without standards context",
			"tier", s.defaultTier, "error", err)
		return nil
	}
	return stds
}

// unresolvedDecisions returns the ids of decisions whose trail blocks
// completion: no review on record, or a latest review that is still blocked.
func (s *CheckpointService) unresolvedDecisions(ctx context.Context, taskID string) ([]string, error) {
	decisions, err := s.store.ListDecisionsByTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("list decisions for task %s: %w", taskID, err)
	}

	var offending []string
	for i := range decisions {
		d := &decisions[i]
		rev, err := s.store.GetReviewByDecision(ctx, d.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				offending = append(offending, d.ID)
				continue
			}
			return nil, fmt.Errorf("get review for decision %s: %w", d.ID, err)
		}
		if rev.Verdict == review.VerdictBlocked {
			offending = append(offending, d.ID)
		}
	}
	return offending, nil
}

// finishReview handles everything that happens after a verdict is durable:
// metrics, the governance event, and the async knowledge-base mirror. None
// of these can fail the checkpoint.
func (s *CheckpointService) finishReview(ctx context.Context, rev *review.Review, summary string) {
	s.metrics.CountVerdict(ctx, string(rev.Kind), string(rev.Verdict))

	if s.queue != nil {
		data, err := json.Marshal(rev)
		if err == nil {
			if err := s.queue.Publish(ctx, messagequeue.SubjectVerdictIssued, data); err != nil {
				slog.Warn("publish verdict event failed", "review_id", rev.ID, "error", err)
			}
		}
	}

	if s.standards != nil {
		rec := standards.MirrorRecord{
			ReviewID: rev.ID,
			TaskID:   rev.TaskID,
			Kind:     string(rev.Kind),
			Verdict:  rev.Verdict,
			Summary:  summary,
			Guidance: rev.Guidance,
		}
		go func() {
			mirrorCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.standards.MirrorReview(mirrorCtx, rec); err != nil {
				slog.Warn("mirror review to knowledge base failed", "review_id", rec.ReviewID, "error", err)
			}
		}()
	}
}
