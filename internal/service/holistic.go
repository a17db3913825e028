package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wardenhq/warden/internal/adapter/otel"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/domain"
	"github.com/wardenhq/warden/internal/domain/governed"
	"github.com/wardenhq/warden/internal/domain/holistic"
	"github.com/wardenhq/warden/internal/domain/review"
	"github.com/wardenhq/warden/internal/port/database"
	"github.com/wardenhq/warden/internal/port/messagequeue"
	"github.com/wardenhq/warden/internal/port/oracle"
	"github.com/wardenhq/warden/internal/port/standards"
)

// HolisticService batches governed tasks created together in one session and
// runs one collective review over the batch once the session goes quiet.
// All coordination state lives in the session marker row; the only in-process
// piece is the timer that fires the settle check.
type HolisticService struct {
	store       database.Store
	oracle      oracle.Oracle
	standards   standards.Provider
	queue       messagequeue.Queue
	metrics     *otel.Metrics
	debounce    time.Duration
	ceiling     time.Duration
	defaultTier string

	// now and schedule are injectable so tests drive settlement without
	// wall-clock waits.
	now      func() time.Time
	schedule func(d time.Duration, fn func())
}

// NewHolisticService creates a HolisticService with all dependencies.
func NewHolisticService(
	store database.Store,
	orc oracle.Oracle,
	std standards.Provider,
	queue messagequeue.Queue,
	metrics *otel.Metrics,
	cfg config.Config,
) *HolisticService {
	return &HolisticService{
		store:       store,
		oracle:      orc,
		standards:   std,
		queue:       queue,
		metrics:     metrics,
		debounce:    cfg.Governance.DebounceWindow,
		ceiling:     cfg.Governance.StalenessCeiling,
		defaultTier: cfg.Standards.DefaultTier,
		now:         time.Now,
		schedule: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
	}
}

// NoteActivity records that a governed task was just created in the session:
// the marker's last-activity timestamp moves forward and a settle check is
// armed for one debounce window later. Every new task pushes the window out,
// because only the checker whose observed timestamp is still current
// proceeds.
func (s *HolisticService) NoteActivity(ctx context.Context, sessionID string) error {
	at := s.now().UTC()
	if err := s.store.TouchSessionMarker(ctx, sessionID, at); err != nil {
		return fmt.Errorf("touch session %s: %w", sessionID, err)
	}

	s.schedule(s.debounce, func() {
		s.settleCheck(context.Background(), sessionID, at)
	})
	return nil
}

// settleCheck fires one debounce window after the activity it observed. The
// compare-and-set claim makes checkers self-eliminating: a checker whose
// timestamp was superseded by newer activity loses the claim and exits.
func (s *HolisticService) settleCheck(ctx context.Context, sessionID string, observed time.Time) {
	claimed, err := s.store.ClaimSessionSettle(ctx, sessionID, observed)
	if err != nil {
		slog.Error("claim session settle failed", "session_id", sessionID, "error", err)
		return
	}
	if !claimed {
		return
	}

	tasks, err := s.store.ListUnsettledTasksBySession(ctx, sessionID)
	if err != nil {
		slog.Error("list unsettled session tasks failed", "session_id", sessionID, "error", err)
		return
	}

	switch len(tasks) {
	case 0:
		s.releaseMarkerUnlessPending(ctx, sessionID)
		return
	case 1:
		// A batch of one has no collective coherence to judge: the task
		// proceeds straight to its individual review.
		if err := s.store.MarkTasksSettled(ctx, []string{tasks[0].ID}); err != nil {
			slog.Error("mark tasks settled failed", "session_id", sessionID, "error", err)
			return
		}
		s.releaseMarkerUnlessPending(ctx, sessionID)
		slog.Debug("session settled with single task, skipping holistic review",
			"session_id", sessionID, "task_id", tasks[0].ID)
		return
	}

	s.reviewBatch(ctx, sessionID, tasks)
}

// reviewBatch runs one collective review over the settled batch and records
// exactly one holistic review for it.
func (s *HolisticService) reviewBatch(ctx context.Context, sessionID string, tasks []governed.Task) {
	ctx, span := otel.StartHolisticSpan(ctx, sessionID, len(tasks))
	defer span.End()

	taskIDs := make([]string, len(tasks))
	subjects := make([]string, len(tasks))
	for i := range tasks {
		taskIDs[i] = tasks[i].ID
		subjects[i] = tasks[i].Subject
	}

	req := oracle.Request{
		Kind:     oracle.KindHolistic,
		Summary:  fmt.Sprintf("collective review of %d tasks created together in session %s", len(tasks), sessionID),
		Subjects: subjects,
	}
	if s.standards != nil {
		stds, err := s.standards.StandardsByTier(ctx, s.defaultTier)
		if err != nil {
			slog.Warn("standards lookup failed for holistic review", "session_id", sessionID, "error", err)
		} else {
			req.Standards = stds
		}
	}

	start := s.now()
	result, err := s.oracle.Evaluate(ctx, req)
	s.metrics.RecordOracleCall(ctx, string(oracle.KindHolistic), time.Since(start).Seconds(), err != nil)
	if err != nil {
		// Fail safe: the session stays pending so the gate keeps holding its
		// tasks, and guidance tells operators why.
		slog.Error("holistic review failed", "session_id", sessionID, "error", err)
		if err := s.store.SetSessionPending(ctx, sessionID, true,
			"collective review could not be completed; the reviewer was unavailable"); err != nil {
			slog.Error("set session pending failed", "session_id", sessionID, "error", err)
		}
		return
	}

	rec := &holistic.Record{
		SessionID:         sessionID,
		TaskIDs:           taskIDs,
		Subjects:          subjects,
		Intent:            result.Intent,
		Verdict:           result.Verdict,
		Findings:          result.Findings,
		Guidance:          result.Guidance,
		StandardsVerified: result.StandardsVerified,
	}
	if err := s.store.CreateHolisticReview(ctx, rec); err != nil {
		slog.Error("create holistic review failed", "session_id", sessionID, "error", err)
		return
	}
	// The batch is reviewed whatever the verdict; these tasks never join a
	// later batch.
	if err := s.store.MarkTasksSettled(ctx, taskIDs); err != nil {
		slog.Error("mark tasks settled failed", "session_id", sessionID, "error", err)
	}
	s.metrics.CountHolisticBatch(ctx, len(tasks))
	s.metrics.CountVerdict(ctx, string(oracle.KindHolistic), string(rec.Verdict))

	switch rec.Verdict {
	case review.VerdictApproved:
		// The batch is coherent: each member continues into its own
		// individual review, and the session no longer gates anything.
		if err := s.store.ResolveHolisticReview(ctx, rec.ID, s.now().UTC()); err != nil {
			slog.Error("resolve holistic review failed", "review_id", rec.ID, "error", err)
		}
		s.clearMarker(ctx, sessionID)
		s.publishResolved(ctx, rec)
	default:
		// blocked or needs-human-review: the marker stays pending with the
		// reviewer's guidance until a human intervenes.
		if err := s.store.SetSessionPending(ctx, sessionID, true, rec.Guidance); err != nil {
			slog.Error("set session pending failed", "session_id", sessionID, "error", err)
		}
	}

	slog.Info("holistic batch reviewed",
		"session_id", sessionID, "batch_size", len(tasks), "verdict", rec.Verdict)
}

// OutstandingGuidance reports whether an unresolved holistic marker blocks
// the session, along with the reviewer's guidance. Markers pending past the
// staleness ceiling are cleared here: that state only arises when a settle
// run died mid-flight, and holding every task in the session forever is
// worse than re-reviewing.
func (s *HolisticService) OutstandingGuidance(ctx context.Context, sessionID string) (bool, string, error) {
	m, err := s.store.GetSessionMarker(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, "", nil
		}
		return false, "", fmt.Errorf("get session marker %s: %w", sessionID, err)
	}

	if m.StaleAfter(s.ceiling, s.now()) {
		slog.Warn("clearing stale holistic marker",
			"session_id", sessionID, "age", s.now().Sub(m.UpdatedAt).String())
		if err := s.store.ClearSessionMarker(ctx, sessionID); err != nil {
			return false, "", fmt.Errorf("clear stale marker %s: %w", sessionID, err)
		}
		return false, "", nil
	}

	if !m.Outstanding() {
		return false, "", nil
	}
	return true, m.Guidance, nil
}

// SessionReviews returns the holistic review history for a session.
func (s *HolisticService) SessionReviews(ctx context.Context, sessionID string) ([]holistic.Record, error) {
	return s.store.ListHolisticReviewsBySession(ctx, sessionID)
}

// releaseMarkerUnlessPending removes the session marker after a settle that
// produced no collective verdict. A marker left pending by an earlier
// blocked or needs-human review stands: only a new verdict (or the staleness
// ceiling) may lift it.
func (s *HolisticService) releaseMarkerUnlessPending(ctx context.Context, sessionID string) {
	m, err := s.store.GetSessionMarker(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.Error("get session marker failed", "session_id", sessionID, "error", err)
		}
		return
	}
	if m.Pending {
		return
	}
	s.clearMarker(ctx, sessionID)
}

func (s *HolisticService) clearMarker(ctx context.Context, sessionID string) {
	if err := s.store.ClearSessionMarker(ctx, sessionID); err != nil {
		slog.Error("clear session marker failed", "session_id", sessionID, "error", err)
	}
}

func (s *HolisticService) publishResolved(ctx context.Context, rec *holistic.Record) {
	if s.queue == nil {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectHolisticResolved, data); err != nil {
		slog.Warn("publish holistic resolved event failed", "review_id", rec.ID, "error", err)
	}
}
