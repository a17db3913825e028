package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/domain"
	"github.com/wardenhq/warden/internal/domain/governed"
	"github.com/wardenhq/warden/internal/domain/review"
	"github.com/wardenhq/warden/internal/port/messagequeue"
)

// manualScheduler collects settle callbacks so tests fire them explicitly.
type manualScheduler struct {
	mu  sync.Mutex
	fns []func()
}

func (s *manualScheduler) schedule(_ time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fns = append(s.fns, fn)
}

// runAll fires every collected callback in arming order.
func (s *manualScheduler) runAll() {
	s.mu.Lock()
	fns := s.fns
	s.fns = nil
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type governanceHarness struct {
	store    *mockStore
	oracle   *fakeOracle
	queue    *fakeQueue
	sched    *manualScheduler
	clock    *fakeClock
	holistic *HolisticService
	governed *GovernedService
	gate     *GateService
}

func newGovernanceHarness(orc *fakeOracle) *governanceHarness {
	h := &governanceHarness{
		store:  newMockStore(),
		oracle: orc,
		queue:  newFakeQueue(),
		sched:  &manualScheduler{},
		clock:  newFakeClock(),
	}
	h.holistic = NewHolisticService(h.store, orc, newFakeStandards(), h.queue, nil, config.Defaults())
	h.holistic.now = h.clock.Now
	h.holistic.schedule = h.sched.schedule
	h.governed = NewGovernedService(h.store, h.holistic, h.queue, nil)
	h.gate = NewGateService(h.store, h.holistic, nil)
	return h
}

func (h *governanceHarness) createTask(t *testing.T, subject, sessionID string) *governed.Task {
	t.Helper()
	task, err := h.governed.CreateGovernedTask(context.Background(), governed.CreateRequest{
		Subject:    subject,
		ReviewType: "code-review",
		SessionID:  sessionID,
	})
	if err != nil {
		t.Fatalf("CreateGovernedTask: %v", err)
	}
	return task
}

func TestCreateGovernedTaskPair(t *testing.T) {
	h := newGovernanceHarness(approvingOracle())

	task := h.createTask(t, "add retry logic", "sess-1")
	if task.ReviewItemID == "" || task.ImplItemID == "" {
		t.Fatalf("pair ids missing: %+v", task)
	}
	if task.Status != governed.StatusPending {
		t.Fatalf("status = %s, want pending", task.Status)
	}
	if len(task.Blockers) != 1 || task.Blockers[0] != task.ReviewItemID {
		t.Fatalf("blockers = %v, want [%s]", task.Blockers, task.ReviewItemID)
	}

	// Creation must have armed the session's settle machinery.
	if _, err := h.store.GetSessionMarker(context.Background(), "sess-1"); err != nil {
		t.Fatalf("expected session marker after creation: %v", err)
	}

	pending, err := h.governed.PendingReviews(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ReviewItemID != task.ReviewItemID {
		t.Fatalf("pending = %+v", pending)
	}
}

func TestCreateGovernedTaskValidation(t *testing.T) {
	h := newGovernanceHarness(approvingOracle())

	_, err := h.governed.CreateGovernedTask(context.Background(), governed.CreateRequest{
		Subject:    "missing session",
		ReviewType: "code-review",
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestStackedBlockersReleaseOnlyWhenAllApproved(t *testing.T) {
	h := newGovernanceHarness(approvingOracle())
	ctx := context.Background()

	task := h.createTask(t, "migrate schema", "sess-1")
	second, err := h.governed.AddReviewBlocker(ctx, task.ImplItemID, "security-review", "touches credentials")
	if err != nil {
		t.Fatalf("AddReviewBlocker: %v", err)
	}

	got, err := h.store.GetGovernedTaskByImpl(ctx, task.ImplItemID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Blockers) != 2 {
		t.Fatalf("blockers = %v, want 2", got.Blockers)
	}

	// Approving the first review leaves the second blocker standing.
	updated, err := h.governed.CompleteTaskReview(ctx, task.ReviewItemID, review.VerdictApproved, "", nil, nil)
	if err != nil {
		t.Fatalf("CompleteTaskReview: %v", err)
	}
	if updated.Status != governed.StatusApproved {
		t.Fatalf("status = %s, want approved", updated.Status)
	}
	if len(updated.Blockers) != 1 || updated.Blockers[0] != second.ID {
		t.Fatalf("blockers = %v, want [%s]", updated.Blockers, second.ID)
	}
	if h.queue.count(messagequeue.SubjectTaskReleased) != 0 {
		t.Fatal("release event published while a blocker remains")
	}

	// Approving the stacked review empties the set and releases the item.
	updated, err = h.governed.CompleteTaskReview(ctx, second.ID, review.VerdictApproved, "", nil, nil)
	if err != nil {
		t.Fatalf("CompleteTaskReview: %v", err)
	}
	if updated.Status != governed.StatusReleased {
		t.Fatalf("status = %s, want released", updated.Status)
	}
	if len(updated.Blockers) != 0 {
		t.Fatalf("blockers = %v, want empty", updated.Blockers)
	}
	if h.queue.count(messagequeue.SubjectTaskReleased) != 1 {
		t.Fatalf("release events = %d, want 1", h.queue.count(messagequeue.SubjectTaskReleased))
	}
}

func TestBlockedVerdictKeepsBlocker(t *testing.T) {
	h := newGovernanceHarness(approvingOracle())
	ctx := context.Background()

	task := h.createTask(t, "rewrite parser", "sess-1")
	updated, err := h.governed.CompleteTaskReview(ctx, task.ReviewItemID, review.VerdictBlocked,
		"error handling is missing", []review.Finding{{Severity: "high", Description: "no error paths"}}, nil)
	if err != nil {
		t.Fatalf("CompleteTaskReview: %v", err)
	}
	if updated.Status != governed.StatusBlocked {
		t.Fatalf("status = %s, want blocked", updated.Status)
	}
	if len(updated.Blockers) != 1 {
		t.Fatalf("blockers = %v, want the review item kept", updated.Blockers)
	}
	if updated.Guidance != "error handling is missing" {
		t.Fatalf("guidance = %q", updated.Guidance)
	}
}

func TestCompleteTaskReviewIdempotent(t *testing.T) {
	h := newGovernanceHarness(approvingOracle())
	ctx := context.Background()

	task := h.createTask(t, "add caching", "sess-1")
	first, err := h.governed.CompleteTaskReview(ctx, task.ReviewItemID, review.VerdictApproved, "", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	again, err := h.governed.CompleteTaskReview(ctx, task.ReviewItemID, review.VerdictApproved, "", nil, nil)
	if err != nil {
		t.Fatalf("repeat completion: %v", err)
	}
	if again.Status != first.Status || len(again.Blockers) != len(first.Blockers) {
		t.Fatalf("repeat changed state: first %+v, again %+v", first, again)
	}
	if h.queue.count(messagequeue.SubjectTaskReleased) != 1 {
		t.Fatalf("release events = %d, want exactly 1", h.queue.count(messagequeue.SubjectTaskReleased))
	}
}

func TestCompleteTaskReviewRejectsInvalidVerdict(t *testing.T) {
	h := newGovernanceHarness(approvingOracle())

	_, err := h.governed.CompleteTaskReview(context.Background(), "ri-1", "perhaps", "", nil, nil)
	if !errors.Is(err, review.ErrInvalidVerdict) {
		t.Fatalf("expected ErrInvalidVerdict, got %v", err)
	}
}

func TestTaskReviewStatusHoldsOnPendingHolistic(t *testing.T) {
	h := newGovernanceHarness(approvingOracle())
	ctx := context.Background()

	task := h.createTask(t, "split module", "sess-1")
	if _, err := h.governed.CompleteTaskReview(ctx, task.ReviewItemID, review.VerdictApproved, "", nil, nil); err != nil {
		t.Fatal(err)
	}

	status, err := h.governed.TaskReviewStatus(ctx, task.ImplItemID)
	if err != nil {
		t.Fatal(err)
	}
	if !status.CanExecute {
		t.Fatalf("expected executable with empty blockers, got %+v", status)
	}

	// A pending holistic marker overrides the empty blocker set.
	if err := h.store.SetSessionPending(ctx, "sess-1", true, "batch looks incoherent"); err != nil {
		t.Fatal(err)
	}
	status, err = h.governed.TaskReviewStatus(ctx, task.ImplItemID)
	if err != nil {
		t.Fatal(err)
	}
	if status.CanExecute {
		t.Fatal("expected execution held by pending holistic review")
	}
	if status.Guidance != "batch looks incoherent" {
		t.Fatalf("guidance = %q", status.Guidance)
	}
}
