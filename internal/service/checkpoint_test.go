package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/domain"
	"github.com/wardenhq/warden/internal/domain/decision"
	"github.com/wardenhq/warden/internal/domain/review"
	"github.com/wardenhq/warden/internal/port/database"
	"github.com/wardenhq/warden/internal/port/messagequeue"
	"github.com/wardenhq/warden/internal/port/oracle"
)

func newCheckpointHarness(orc *fakeOracle) (*CheckpointService, *mockStore, *fakeStandards, *fakeQueue) {
	store := newMockStore()
	std := newFakeStandards()
	queue := newFakeQueue()
	svc := NewCheckpointService(store, orc, std, queue, nil, config.Defaults())
	return svc, store, std, queue
}

func submitDecision(t *testing.T, svc *CheckpointService, taskID string, cat decision.Category) (*decision.Decision, *review.Review) {
	t.Helper()
	d, rev, err := svc.SubmitDecision(context.Background(), decision.SubmitRequest{
		TaskID:   taskID,
		Agent:    "agent-1",
		Category: cat,
		Summary:  "use a worker pool",
	})
	if err != nil {
		t.Fatalf("SubmitDecision: %v", err)
	}
	return d, rev
}

func TestSubmitDecisionSequenceIsGapless(t *testing.T) {
	svc, _, _, _ := newCheckpointHarness(approvingOracle())

	for want := 1; want <= 3; want++ {
		d, _ := submitDecision(t, svc, "task-1", decision.CategoryPatternChoice)
		if d.Seq != want {
			t.Fatalf("seq = %d, want %d", d.Seq, want)
		}
	}

	// A different task starts its own sequence.
	d, _ := submitDecision(t, svc, "task-2", decision.CategoryPatternChoice)
	if d.Seq != 1 {
		t.Fatalf("seq for new task = %d, want 1", d.Seq)
	}
}

func TestSubmitDecisionAutoEscalatesWithoutOracle(t *testing.T) {
	orc := approvingOracle()
	svc, _, _, _ := newCheckpointHarness(orc)

	for _, cat := range []decision.Category{decision.CategoryDeviation, decision.CategoryScopeChange} {
		_, rev := submitDecision(t, svc, "task-1", cat)
		if rev.Verdict != review.VerdictNeedsHuman {
			t.Errorf("category %s: verdict = %s, want needs-human-review", cat, rev.Verdict)
		}
		if rev.Reviewer != policyReviewer {
			t.Errorf("category %s: reviewer = %q, want policy", cat, rev.Reviewer)
		}
	}
	if orc.callCount() != 0 {
		t.Fatalf("oracle was consulted %d times for auto-escalating categories", orc.callCount())
	}
}

func TestSubmitDecisionUsesOracleVerdict(t *testing.T) {
	orc := &fakeOracle{result: &oracle.Result{
		Verdict:  review.VerdictBlocked,
		Findings: []review.Finding{{Severity: "high", Description: "violates layering"}},
		Guidance: "keep adapters out of domain",
		Reviewer: "fake",
	}}
	svc, _, _, queue := newCheckpointHarness(orc)

	_, rev := submitDecision(t, svc, "task-1", decision.CategoryComponentDesign)
	if rev.Verdict != review.VerdictBlocked {
		t.Fatalf("verdict = %s, want blocked", rev.Verdict)
	}
	if orc.callCount() != 1 {
		t.Fatalf("oracle calls = %d, want 1", orc.callCount())
	}
	if len(orc.lastRequest().Standards) == 0 {
		t.Fatal("expected standards context on the oracle request")
	}
	if queue.count(messagequeue.SubjectVerdictIssued) != 1 {
		t.Fatalf("verdict events = %d, want 1", queue.count(messagequeue.SubjectVerdictIssued))
	}
}

func TestSubmitDecisionOracleFailurePropagates(t *testing.T) {
	orc := &fakeOracle{err: domain.ErrOracleUnavailable}
	svc, _, _, _ := newCheckpointHarness(orc)

	_, _, err := svc.SubmitDecision(context.Background(), decision.SubmitRequest{
		TaskID:   "task-1",
		Agent:    "agent-1",
		Category: decision.CategoryAPIDesign,
		Summary:  "expose gRPC",
	})
	if !errors.Is(err, domain.ErrOracleUnavailable) {
		t.Fatalf("expected ErrOracleUnavailable, got %v", err)
	}
}

func TestSubmitDecisionValidation(t *testing.T) {
	svc, _, _, _ := newCheckpointHarness(approvingOracle())

	_, _, err := svc.SubmitDecision(context.Background(), decision.SubmitRequest{
		TaskID:   "task-1",
		Agent:    "agent-1",
		Category: "guesswork",
		Summary:  "something",
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestSubmitPlanCarriesDecisionTrail(t *testing.T) {
	orc := approvingOracle()
	svc, _, _, _ := newCheckpointHarness(orc)

	d, _ := submitDecision(t, svc, "task-1", decision.CategoryPatternChoice)

	res, err := svc.SubmitPlan(context.Background(), PlanSubmission{
		TaskID:  "task-1",
		Agent:   "agent-1",
		Summary: "three-step rollout",
	})
	if err != nil {
		t.Fatalf("SubmitPlan: %v", err)
	}
	if res.Review.Verdict != review.VerdictApproved {
		t.Fatalf("verdict = %s, want approved", res.Review.Verdict)
	}
	if len(res.DecisionsReviewed) != 1 || res.DecisionsReviewed[0] != d.ID {
		t.Fatalf("decisions reviewed = %v, want [%s]", res.DecisionsReviewed, d.ID)
	}
	if len(orc.lastRequest().Decisions) != 1 {
		t.Fatalf("oracle request decisions = %v, want the trail summary", orc.lastRequest().Decisions)
	}
}

func TestSubmitCompletionBlockedByUnresolvedDecisions(t *testing.T) {
	orc := approvingOracle()
	svc, store, _, _ := newCheckpointHarness(orc)

	// One decision with no review at all.
	unreviewed := &decision.Decision{TaskID: "task-1", Agent: "agent-1", Category: decision.CategoryPatternChoice, Summary: "silent change"}
	if err := store.CreateDecision(context.Background(), unreviewed); err != nil {
		t.Fatal(err)
	}

	res, err := svc.SubmitCompletion(context.Background(), CompletionSubmission{
		TaskID:  "task-1",
		Agent:   "agent-1",
		Summary: "all done",
	})
	if err != nil {
		t.Fatalf("SubmitCompletion: %v", err)
	}
	if res.Review.Verdict != review.VerdictBlocked {
		t.Fatalf("verdict = %s, want blocked", res.Review.Verdict)
	}
	if res.Review.Reviewer != policyReviewer {
		t.Fatalf("reviewer = %q, want policy", res.Review.Reviewer)
	}
	if len(res.Review.Findings) != 1 {
		t.Fatalf("findings = %+v, want one naming the decision", res.Review.Findings)
	}
	if len(res.UnreviewedDecisions) != 1 || res.UnreviewedDecisions[0] != unreviewed.ID {
		t.Fatalf("unreviewed decisions = %v, want [%s]", res.UnreviewedDecisions, unreviewed.ID)
	}
	if orc.callCount() != 0 {
		t.Fatal("oracle must not be consulted when the decision trail is dirty")
	}
}

func TestSubmitCompletionWithCleanTrail(t *testing.T) {
	orc := approvingOracle()
	svc, _, _, _ := newCheckpointHarness(orc)

	submitDecision(t, svc, "task-1", decision.CategoryPatternChoice)

	res, err := svc.SubmitCompletion(context.Background(), CompletionSubmission{
		TaskID:  "task-1",
		Agent:   "agent-1",
		Summary: "all done",
	})
	if err != nil {
		t.Fatalf("SubmitCompletion: %v", err)
	}
	if res.Review.Verdict != review.VerdictApproved {
		t.Fatalf("verdict = %s, want approved", res.Review.Verdict)
	}
	if len(res.UnreviewedDecisions) != 0 {
		t.Fatalf("unreviewed decisions = %v, want none", res.UnreviewedDecisions)
	}
	// One call for the decision, one for the completion.
	if orc.callCount() != 2 {
		t.Fatalf("oracle calls = %d, want 2", orc.callCount())
	}
}

func TestMirrorFailureDoesNotFailCheckpoint(t *testing.T) {
	svc, _, std, _ := newCheckpointHarness(approvingOracle())
	std.mirrorErr = errors.New("knowledge base down")

	_, rev := submitDecision(t, svc, "task-1", decision.CategoryPatternChoice)
	if rev.Verdict != review.VerdictApproved {
		t.Fatalf("verdict = %s, want approved", rev.Verdict)
	}

	select {
	case rec := <-std.mirrored:
		if rec.ReviewID != rev.ID {
			t.Fatalf("mirrored review id = %s, want %s", rec.ReviewID, rev.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("mirror was never attempted")
	}
}

func TestGovernanceStatusAggregates(t *testing.T) {
	svc, _, _, _ := newCheckpointHarness(approvingOracle())

	submitDecision(t, svc, "task-1", decision.CategoryPatternChoice)
	submitDecision(t, svc, "task-1", decision.CategoryDeviation)

	status, err := svc.GovernanceStatus(context.Background())
	if err != nil {
		t.Fatalf("GovernanceStatus: %v", err)
	}
	if status.Totals.Approved != 1 || status.Totals.NeedsHuman != 1 {
		t.Fatalf("totals = %+v", status.Totals)
	}
	if len(status.RecentReviews) != 2 {
		t.Fatalf("recent reviews = %d, want 2", len(status.RecentReviews))
	}

	history, err := svc.DecisionHistory(context.Background(), database.DecisionFilter{TaskID: "task-1"})
	if err != nil {
		t.Fatalf("DecisionHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %d, want 2", len(history))
	}
}
