package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/wardenhq/warden/internal/adapter/otel"
	"github.com/wardenhq/warden/internal/domain"
	"github.com/wardenhq/warden/internal/domain/governed"
	"github.com/wardenhq/warden/internal/domain/review"
	"github.com/wardenhq/warden/internal/port/database"
	"github.com/wardenhq/warden/internal/port/messagequeue"
)

// GovernedService manages review/implementation task pairs and the blocker
// sets that keep implementation items from executing early.
type GovernedService struct {
	store    database.Store
	holistic *HolisticService
	queue    messagequeue.Queue
	metrics  *otel.Metrics
}

// NewGovernedService creates a GovernedService with all dependencies.
func NewGovernedService(store database.Store, holistic *HolisticService, queue messagequeue.Queue, metrics *otel.Metrics) *GovernedService {
	return &GovernedService{
		store:    store,
		holistic: holistic,
		queue:    queue,
		metrics:  metrics,
	}
}

// CreateGovernedTask creates the review/implementation pair. The
// implementation item starts blocked by its review item, and the session's
// holistic coordinator is notified so batch detection can run.
func (s *GovernedService) CreateGovernedTask(ctx context.Context, req governed.CreateRequest) (*governed.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validate governed task: %w", err)
	}

	t := &governed.Task{
		Subject:     req.Subject,
		Description: req.Description,
		Context:     req.Context,
		ReviewType:  req.ReviewType,
		SessionID:   req.SessionID,
	}
	initial := &governed.ReviewItem{
		Context: req.Context,
	}
	if err := s.store.CreateGovernedTask(ctx, t, initial); err != nil {
		return nil, fmt.Errorf("create governed task: %w", err)
	}

	if s.holistic != nil {
		if err := s.holistic.NoteActivity(ctx, t.SessionID); err != nil {
			// The pair exists and is safely blocked by its review item; batch
			// detection degrades but correctness does not.
			slog.Warn("holistic activity note failed", "session_id", t.SessionID, "error", err)
		}
	}

	slog.Info("governed task created",
		"task_id", t.ID, "review_item_id", t.ReviewItemID,
		"impl_item_id", t.ImplItemID, "session_id", t.SessionID)
	return t, nil
}

// AddReviewBlocker stacks another review item onto an implementation item.
// The new item joins the blocker set atomically, so the implementation
// cannot execute until this review is approved too.
func (s *GovernedService) AddReviewBlocker(ctx context.Context, implItemID, reviewType, reviewContext string) (*governed.ReviewItem, error) {
	if reviewType == "" {
		return nil, fmt.Errorf("%w: review_type is required", domain.ErrValidation)
	}
	if _, err := s.store.GetGovernedTaskByImpl(ctx, implItemID); err != nil {
		return nil, fmt.Errorf("add review blocker: %w", err)
	}

	item := &governed.ReviewItem{
		ImplItemID: implItemID,
		ReviewType: reviewType,
		Context:    reviewContext,
	}
	if err := s.store.AddReviewItem(ctx, item); err != nil {
		return nil, fmt.Errorf("add review blocker: %w", err)
	}

	slog.Info("review blocker added", "impl_item_id", implItemID, "review_item_id", item.ID)
	return item, nil
}

// CompleteTaskReview records the verdict of one review item. Approval
// removes exactly that blocker; the implementation item is released only
// when its blocker set is empty. A blocked or needs-human verdict keeps the
// blocker in place. Completing an already-completed item again with the same
// verdict is a no-op.
func (s *GovernedService) CompleteTaskReview(ctx context.Context, reviewItemID string, verdict review.Verdict, guidance string, findings []review.Finding, standardsVerified []string) (*governed.Task, error) {
	if !verdict.Valid() {
		return nil, fmt.Errorf("%w: %q", review.ErrInvalidVerdict, verdict)
	}

	item, err := s.store.GetReviewItem(ctx, reviewItemID)
	if err != nil {
		return nil, fmt.Errorf("complete task review: %w", err)
	}
	task, err := s.store.GetGovernedTaskByReview(ctx, reviewItemID)
	if err != nil {
		return nil, fmt.Errorf("complete task review: %w", err)
	}

	if item.Status == governed.ReviewItemCompleted {
		return task, nil
	}

	switch verdict {
	case review.VerdictApproved:
		if err := s.store.CompleteReviewItem(ctx, item.ID, time.Now().UTC()); err != nil {
			return nil, fmt.Errorf("complete review item %s: %w", item.ID, err)
		}
		remaining, err := s.store.RemoveBlocker(ctx, task.ImplItemID, item.ID)
		if err != nil {
			return nil, fmt.Errorf("remove blocker %s: %w", item.ID, err)
		}

		status := governed.StatusApproved
		if len(remaining) == 0 {
			status = governed.StatusReleased
		}
		if err := s.store.UpdateGovernedVerdict(ctx, task.ID, verdict, guidance, findings, standardsVerified, status); err != nil {
			return nil, fmt.Errorf("update governed task %s: %w", task.ID, err)
		}
		if status == governed.StatusReleased {
			s.publishReleased(ctx, task.ID, task.ImplItemID)
		}

	default:
		// blocked or needs-human-review: the blocker stays until a corrected
		// submission is approved.
		if err := s.store.UpdateGovernedVerdict(ctx, task.ID, verdict, guidance, findings, standardsVerified, governed.StatusBlocked); err != nil {
			return nil, fmt.Errorf("update governed task %s: %w", task.ID, err)
		}
	}

	updated, err := s.store.GetGovernedTask(ctx, task.ID)
	if err != nil {
		return nil, fmt.Errorf("reload governed task %s: %w", task.ID, err)
	}
	slog.Info("task review completed",
		"review_item_id", reviewItemID, "task_id", task.ID,
		"verdict", verdict, "status", updated.Status)
	return updated, nil
}

// TaskReviewStatus answers whether an implementation item may execute right
// now, and why not if it may not. Both the blocker set and the session's
// holistic marker are consulted live.
func (s *GovernedService) TaskReviewStatus(ctx context.Context, implItemID string) (*governed.ReviewStatus, error) {
	t, err := s.store.GetGovernedTaskByImpl(ctx, implItemID)
	if err != nil {
		return nil, fmt.Errorf("task review status: %w", err)
	}

	status := &governed.ReviewStatus{
		ImplItemID: t.ImplItemID,
		Status:     t.Status,
		CanExecute: len(t.Blockers) == 0,
		Blockers:   t.Blockers,
		Verdict:    t.LastVerdict,
		Guidance:   t.Guidance,
	}

	if s.holistic != nil {
		outstanding, guidance, err := s.holistic.OutstandingGuidance(ctx, t.SessionID)
		if err != nil {
			return nil, err
		}
		if outstanding {
			status.CanExecute = false
			if guidance != "" {
				status.Guidance = guidance
			}
		}
	}
	return status, nil
}

// PendingReviews lists every review item still awaiting a verdict.
func (s *GovernedService) PendingReviews(ctx context.Context) ([]governed.PendingReview, error) {
	return s.store.ListPendingReviews(ctx)
}

func (s *GovernedService) publishReleased(ctx context.Context, taskID, implItemID string) {
	if s.queue == nil {
		return
	}
	data, err := json.Marshal(map[string]string{
		"task_id":      taskID,
		"impl_item_id": implItemID,
	})
	if err != nil {
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectTaskReleased, data); err != nil {
		slog.Warn("publish task released event failed", "task_id", taskID, "error", err)
	}
}
