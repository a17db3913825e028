package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wardenhq/warden/internal/domain"
	"github.com/wardenhq/warden/internal/domain/decision"
	"github.com/wardenhq/warden/internal/domain/governed"
	"github.com/wardenhq/warden/internal/domain/holistic"
	"github.com/wardenhq/warden/internal/domain/review"
	"github.com/wardenhq/warden/internal/port/database"
	"github.com/wardenhq/warden/internal/port/messagequeue"
	"github.com/wardenhq/warden/internal/port/oracle"
	"github.com/wardenhq/warden/internal/port/standards"
)

// mockStore is an in-memory database.Store for service tests.
type mockStore struct {
	mu        sync.Mutex
	decisions map[string]*decision.Decision
	reviews   map[string]*review.Review
	tasks     map[string]*governed.Task
	items     map[string]*governed.ReviewItem
	holistics map[string]*holistic.Record
	markers   map[string]*holistic.Marker
	idSeq     int
	timeSeq   int64
	base      time.Time
}

var _ database.Store = (*mockStore)(nil)

func newMockStore() *mockStore {
	return &mockStore{
		decisions: make(map[string]*decision.Decision),
		reviews:   make(map[string]*review.Review),
		tasks:     make(map[string]*governed.Task),
		items:     make(map[string]*governed.ReviewItem),
		holistics: make(map[string]*holistic.Record),
		markers:   make(map[string]*holistic.Marker),
		base:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

// nextID and nextTime must be called with mu held.
func (m *mockStore) nextID(prefix string) string {
	m.idSeq++
	return fmt.Sprintf("%s-%d", prefix, m.idSeq)
}

func (m *mockStore) nextTime() time.Time {
	m.timeSeq++
	return m.base.Add(time.Duration(m.timeSeq) * time.Millisecond)
}

// --- Decisions ---

func (m *mockStore) CreateDecision(_ context.Context, d *decision.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq := 0
	for _, existing := range m.decisions {
		if existing.TaskID == d.TaskID && existing.Seq > seq {
			seq = existing.Seq
		}
	}
	d.ID = m.nextID("dec")
	d.Seq = seq + 1
	d.CreatedAt = m.nextTime()
	cp := *d
	m.decisions[d.ID] = &cp
	return nil
}

func (m *mockStore) GetDecision(_ context.Context, id string) (*decision.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.decisions[id]
	if !ok {
		return nil, fmt.Errorf("decision %s: %w", id, domain.ErrNotFound)
	}
	cp := *d
	return &cp, nil
}

func (m *mockStore) ListDecisions(_ context.Context, f database.DecisionFilter) ([]decision.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []decision.Decision
	for _, d := range m.decisions {
		if f.TaskID != "" && d.TaskID != f.TaskID {
			continue
		}
		if f.Agent != "" && d.Agent != f.Agent {
			continue
		}
		if f.Verdict != "" {
			matched := false
			for _, r := range m.reviews {
				if r.DecisionID == d.ID && r.Verdict == f.Verdict {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *mockStore) ListDecisionsByTask(_ context.Context, taskID string) ([]decision.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []decision.Decision
	for _, d := range m.decisions {
		if d.TaskID == taskID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// --- Reviews ---

func (m *mockStore) CreateReview(_ context.Context, r *review.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = m.nextID("rev")
	}
	r.CreatedAt = m.nextTime()
	cp := *r
	m.reviews[r.ID] = &cp
	return nil
}

func (m *mockStore) GetReviewByDecision(_ context.Context, decisionID string) (*review.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *review.Review
	for _, r := range m.reviews {
		if r.DecisionID != decisionID {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("review for decision %s: %w", decisionID, domain.ErrNotFound)
	}
	cp := *latest
	return &cp, nil
}

func (m *mockStore) ListReviewsByTask(_ context.Context, taskID string) ([]review.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []review.Review
	for _, r := range m.reviews {
		if r.TaskID == taskID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *mockStore) CountReviewsByVerdict(_ context.Context) (database.VerdictTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var totals database.VerdictTotals
	for _, r := range m.reviews {
		switch r.Verdict {
		case review.VerdictApproved:
			totals.Approved++
		case review.VerdictBlocked:
			totals.Blocked++
		case review.VerdictNeedsHuman:
			totals.NeedsHuman++
		}
	}
	return totals, nil
}

func (m *mockStore) ListRecentReviews(_ context.Context, limit int) ([]review.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []review.Review
	for _, r := range m.reviews {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Governed tasks ---

func (m *mockStore) CreateGovernedTask(_ context.Context, t *governed.Task, initial *governed.ReviewItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = m.nextID("gt")
	t.ReviewItemID = m.nextID("ri")
	t.ImplItemID = m.nextID("impl")
	t.Status = governed.StatusPending
	t.Blockers = []string{t.ReviewItemID}
	t.Version = 1
	t.CreatedAt = m.nextTime()
	t.UpdatedAt = t.CreatedAt

	initial.ID = t.ReviewItemID
	initial.ImplItemID = t.ImplItemID
	initial.ReviewType = t.ReviewType
	initial.Status = governed.ReviewItemPending
	initial.CreatedAt = t.CreatedAt

	tc, ic := *t, *initial
	m.tasks[t.ID] = &tc
	m.items[initial.ID] = &ic
	return nil
}

func (m *mockStore) GetGovernedTask(_ context.Context, id string) (*governed.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("governed task %s: %w", id, domain.ErrNotFound)
	}
	return copyTask(t), nil
}

func (m *mockStore) GetGovernedTaskByImpl(_ context.Context, implItemID string) (*governed.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.ImplItemID == implItemID {
			return copyTask(t), nil
		}
	}
	return nil, fmt.Errorf("impl item %s: %w", implItemID, domain.ErrNotFound)
}

func (m *mockStore) GetGovernedTaskByReview(_ context.Context, reviewItemID string) (*governed.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[reviewItemID]
	if !ok {
		return nil, fmt.Errorf("review item %s: %w", reviewItemID, domain.ErrNotFound)
	}
	for _, t := range m.tasks {
		if t.ImplItemID == item.ImplItemID {
			return copyTask(t), nil
		}
	}
	return nil, fmt.Errorf("task for review item %s: %w", reviewItemID, domain.ErrNotFound)
}

func (m *mockStore) ListUnsettledTasksBySession(_ context.Context, sessionID string) ([]governed.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []governed.Task
	for _, t := range m.tasks {
		if t.SessionID != sessionID || t.HolisticSettled {
			continue
		}
		out = append(out, *copyTask(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *mockStore) MarkTasksSettled(_ context.Context, taskIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range taskIDs {
		if t, ok := m.tasks[id]; ok {
			t.HolisticSettled = true
			t.Version++
			t.UpdatedAt = m.nextTime()
		}
	}
	return nil
}

func (m *mockStore) ListPendingReviews(_ context.Context) ([]governed.PendingReview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []governed.PendingReview
	for _, item := range m.items {
		if item.Status != governed.ReviewItemPending {
			continue
		}
		for _, t := range m.tasks {
			if t.ImplItemID == item.ImplItemID {
				out = append(out, governed.PendingReview{
					ReviewItemID: item.ID,
					ImplItemID:   item.ImplItemID,
					Subject:      t.Subject,
					ReviewType:   item.ReviewType,
					SessionID:    t.SessionID,
					CreatedAt:    item.CreatedAt,
				})
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *mockStore) AddReviewItem(_ context.Context, item *governed.ReviewItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item.ID = m.nextID("ri")
	item.Status = governed.ReviewItemPending
	item.CreatedAt = m.nextTime()
	for _, t := range m.tasks {
		if t.ImplItemID == item.ImplItemID {
			t.Blockers = append(t.Blockers, item.ID)
			t.Status = governed.StatusPending
			t.Version++
			t.UpdatedAt = m.nextTime()
			cp := *item
			m.items[item.ID] = &cp
			return nil
		}
	}
	return fmt.Errorf("impl item %s: %w", item.ImplItemID, domain.ErrNotFound)
}

func (m *mockStore) GetReviewItem(_ context.Context, id string) (*governed.ReviewItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("review item %s: %w", id, domain.ErrNotFound)
	}
	cp := *item
	return &cp, nil
}

func (m *mockStore) CompleteReviewItem(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return fmt.Errorf("review item %s: %w", id, domain.ErrNotFound)
	}
	item.Status = governed.ReviewItemCompleted
	item.CompletedAt = &at
	return nil
}

func (m *mockStore) RemoveBlocker(_ context.Context, implItemID, reviewItemID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.ImplItemID != implItemID {
			continue
		}
		remaining := make([]string, 0, len(t.Blockers))
		for _, b := range t.Blockers {
			if b != reviewItemID {
				remaining = append(remaining, b)
			}
		}
		t.Blockers = remaining
		t.Version++
		t.UpdatedAt = m.nextTime()
		return append([]string{}, remaining...), nil
	}
	return nil, fmt.Errorf("impl item %s: %w", implItemID, domain.ErrNotFound)
}

func (m *mockStore) UpdateGovernedVerdict(_ context.Context, id string, verdict review.Verdict, guidance string, findings []review.Finding, stds []string, status governed.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("governed task %s: %w", id, domain.ErrNotFound)
	}
	t.LastVerdict = verdict
	t.Guidance = guidance
	t.Findings = findings
	t.StandardsVerified = stds
	t.Status = status
	t.Version++
	t.UpdatedAt = m.nextTime()
	return nil
}

// --- Holistic reviews and markers ---

func (m *mockStore) CreateHolisticReview(_ context.Context, r *holistic.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = m.nextID("hol")
	}
	r.CreatedAt = m.nextTime()
	cp := *r
	m.holistics[r.ID] = &cp
	return nil
}

func (m *mockStore) GetHolisticReview(_ context.Context, id string) (*holistic.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.holistics[id]
	if !ok {
		return nil, fmt.Errorf("holistic review %s: %w", id, domain.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (m *mockStore) ListHolisticReviewsBySession(_ context.Context, sessionID string) ([]holistic.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []holistic.Record
	for _, r := range m.holistics {
		if r.SessionID == sessionID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *mockStore) ResolveHolisticReview(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.holistics[id]
	if !ok || r.ResolvedAt != nil {
		return fmt.Errorf("holistic review %s: %w", id, domain.ErrNotFound)
	}
	r.ResolvedAt = &at
	return nil
}

func (m *mockStore) TouchSessionMarker(_ context.Context, sessionID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mk, ok := m.markers[sessionID]
	if !ok {
		mk = &holistic.Marker{SessionID: sessionID}
		m.markers[sessionID] = mk
	}
	mk.State = holistic.StateSettling
	mk.LastActivity = at
	mk.UpdatedAt = m.nextTime()
	return nil
}

func (m *mockStore) GetSessionMarker(_ context.Context, sessionID string) (*holistic.Marker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mk, ok := m.markers[sessionID]
	if !ok {
		return nil, fmt.Errorf("session marker %s: %w", sessionID, domain.ErrNotFound)
	}
	cp := *mk
	return &cp, nil
}

func (m *mockStore) ClaimSessionSettle(_ context.Context, sessionID string, observed time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mk, ok := m.markers[sessionID]
	if !ok || mk.State != holistic.StateSettling || !mk.LastActivity.Equal(observed) {
		return false, nil
	}
	mk.State = holistic.StateReviewed
	mk.UpdatedAt = m.nextTime()
	return true, nil
}

func (m *mockStore) SetSessionPending(_ context.Context, sessionID string, pending bool, guidance string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mk, ok := m.markers[sessionID]
	if !ok {
		return fmt.Errorf("session marker %s: %w", sessionID, domain.ErrNotFound)
	}
	mk.Pending = pending
	mk.Guidance = guidance
	mk.UpdatedAt = m.nextTime()
	return nil
}

func (m *mockStore) ClearSessionMarker(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.markers, sessionID)
	return nil
}

func copyTask(t *governed.Task) *governed.Task {
	cp := *t
	cp.Blockers = append([]string{}, t.Blockers...)
	return &cp
}

// --- Fakes for the other ports ---

// fakeOracle returns scripted results and counts calls.
type fakeOracle struct {
	mu      sync.Mutex
	calls   int
	last    oracle.Request
	result  *oracle.Result
	respond func(req oracle.Request) (*oracle.Result, error)
	err     error
}

func approvingOracle() *fakeOracle {
	return &fakeOracle{result: &oracle.Result{
		Verdict:  review.VerdictApproved,
		Findings: []review.Finding{},
		Reviewer: "fake",
	}}
}

func (f *fakeOracle) Evaluate(_ context.Context, req oracle.Request) (*oracle.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	if f.respond != nil {
		return f.respond(req)
	}
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.result
	return &cp, nil
}

func (f *fakeOracle) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeOracle) lastRequest() oracle.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// fakeStandards serves fixed standards and records mirror calls on a channel.
type fakeStandards struct {
	stds      []review.Standard
	mirrorErr error
	mirrored  chan standards.MirrorRecord
}

func newFakeStandards() *fakeStandards {
	return &fakeStandards{
		stds:     []review.Standard{{ID: "std-1", Tier: "mandatory", Title: "Testing", Content: "All code ships with tests."}},
		mirrored: make(chan standards.MirrorRecord, 16),
	}
}

func (f *fakeStandards) StandardsByTier(context.Context, string) ([]review.Standard, error) {
	return f.stds, nil
}

func (f *fakeStandards) Search(context.Context, string) ([]review.Standard, error) {
	return f.stds, nil
}

func (f *fakeStandards) MirrorReview(_ context.Context, rec standards.MirrorRecord) error {
	f.mirrored <- rec
	return f.mirrorErr
}

// fakeQueue records published events.
type fakeQueue struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{published: make(map[string][][]byte)}
}

func (q *fakeQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published[subject] = append(q.published[subject], data)
	return nil
}

func (q *fakeQueue) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *fakeQueue) Close() error { return nil }

func (q *fakeQueue) count(subject string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.published[subject])
}
