package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wardenhq/warden/internal/domain/governed"
	"github.com/wardenhq/warden/internal/domain/review"
)

const governedColumns = `id, subject, description, context, review_type,
	 review_item_id, impl_item_id, session_id, status, blockers, last_verdict,
	 guidance, findings, standards_verified, holistic_settled, version,
	 created_at, updated_at`

func scanGovernedTask(row scannable) (governed.Task, error) {
	var (
		t            governed.Task
		findingsJSON []byte
	)
	err := row.Scan(&t.ID, &t.Subject, &t.Description, &t.Context, &t.ReviewType,
		&t.ReviewItemID, &t.ImplItemID, &t.SessionID, &t.Status, &t.Blockers,
		&t.LastVerdict, &t.Guidance, &findingsJSON, &t.StandardsVerified,
		&t.HolisticSettled, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return governed.Task{}, err
	}
	if err := json.Unmarshal(findingsJSON, &t.Findings); err != nil {
		return governed.Task{}, fmt.Errorf("unmarshal findings: %w", err)
	}
	t.Blockers = orEmpty(t.Blockers)
	t.Findings = orEmpty(t.Findings)
	t.StandardsVerified = orEmpty(t.StandardsVerified)
	return t, nil
}

func scanReviewItem(row scannable) (governed.ReviewItem, error) {
	var item governed.ReviewItem
	err := row.Scan(&item.ID, &item.ImplItemID, &item.ReviewType, &item.Context,
		&item.Status, &item.CreatedAt, &item.CompletedAt)
	if err != nil {
		return governed.ReviewItem{}, err
	}
	return item, nil
}

// CreateGovernedTask inserts the task pair and its initial review item in one
// transaction. The implementation item starts blocked by the initial item.
func (s *Store) CreateGovernedTask(ctx context.Context, t *governed.Task, initial *governed.ReviewItem) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.ReviewItemID == "" {
		t.ReviewItemID = uuid.New().String()
	}
	if t.ImplItemID == "" {
		t.ImplItemID = uuid.New().String()
	}
	t.Status = governed.StatusPending
	t.Blockers = []string{t.ReviewItemID}
	t.Version = 1

	initial.ID = t.ReviewItemID
	initial.ImplItemID = t.ImplItemID
	initial.ReviewType = t.ReviewType
	initial.Status = governed.ReviewItemPending

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("create governed task: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`INSERT INTO governed_tasks (id, subject, description, context, review_type,
		   review_item_id, impl_item_id, session_id, status, blockers)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING created_at, updated_at`,
		t.ID, t.Subject, t.Description, t.Context, t.ReviewType,
		t.ReviewItemID, t.ImplItemID, t.SessionID, t.Status, pgTextArray(t.Blockers))
	if err := row.Scan(&t.CreatedAt, &t.UpdatedAt); err != nil {
		return fmt.Errorf("create governed task: %w", err)
	}

	itemRow := tx.QueryRow(ctx,
		`INSERT INTO review_items (id, impl_item_id, review_type, context, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		initial.ID, initial.ImplItemID, initial.ReviewType, initial.Context, initial.Status)
	if err := itemRow.Scan(&initial.CreatedAt); err != nil {
		return fmt.Errorf("create governed task: initial review item: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("create governed task: commit: %w", err)
	}
	return nil
}

func (s *Store) GetGovernedTask(ctx context.Context, id string) (*governed.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+governedColumns+` FROM governed_tasks WHERE id = $1`, id)

	t, err := scanGovernedTask(row)
	if err != nil {
		return nil, notFoundWrap(err, "get governed task %s", id)
	}
	return &t, nil
}

func (s *Store) GetGovernedTaskByImpl(ctx context.Context, implItemID string) (*governed.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+governedColumns+` FROM governed_tasks WHERE impl_item_id = $1`, implItemID)

	t, err := scanGovernedTask(row)
	if err != nil {
		return nil, notFoundWrap(err, "get governed task for impl item %s", implItemID)
	}
	return &t, nil
}

// GetGovernedTaskByReview resolves through the review_items table so stacked
// blockers resolve to the same task as the initial item.
func (s *Store) GetGovernedTaskByReview(ctx context.Context, reviewItemID string) (*governed.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT gt.id, gt.subject, gt.description, gt.context, gt.review_type,
		   gt.review_item_id, gt.impl_item_id, gt.session_id, gt.status, gt.blockers,
		   gt.last_verdict, gt.guidance, gt.findings, gt.standards_verified,
		   gt.holistic_settled, gt.version, gt.created_at, gt.updated_at
		 FROM governed_tasks gt
		 JOIN review_items ri ON ri.impl_item_id = gt.impl_item_id
		 WHERE ri.id = $1`, reviewItemID)

	t, err := scanGovernedTask(row)
	if err != nil {
		return nil, notFoundWrap(err, "get governed task for review item %s", reviewItemID)
	}
	return &t, nil
}

func (s *Store) ListUnsettledTasksBySession(ctx context.Context, sessionID string) ([]governed.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+governedColumns+` FROM governed_tasks
		 WHERE session_id = $1 AND NOT holistic_settled
		 ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list unsettled tasks for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var tasks []governed.Task
	for rows.Next() {
		t, err := scanGovernedTask(rows)
		if err != nil {
			return nil, fmt.Errorf("list unsettled tasks for session %s: %w", sessionID, err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *Store) MarkTasksSettled(ctx context.Context, taskIDs []string) error {
	if len(taskIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE governed_tasks
		 SET holistic_settled = true, version = version + 1, updated_at = now()
		 WHERE id = ANY($1)`, taskIDs)
	if err != nil {
		return fmt.Errorf("mark tasks settled: %w", err)
	}
	return nil
}

func (s *Store) ListPendingReviews(ctx context.Context) ([]governed.PendingReview, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ri.id, ri.impl_item_id, gt.subject, ri.review_type, gt.session_id, ri.created_at
		 FROM review_items ri
		 JOIN governed_tasks gt ON gt.impl_item_id = ri.impl_item_id
		 WHERE ri.status = 'pending'
		 ORDER BY ri.created_at`)
	if err != nil {
		return nil, fmt.Errorf("list pending reviews: %w", err)
	}
	defer rows.Close()

	var pending []governed.PendingReview
	for rows.Next() {
		var p governed.PendingReview
		if err := rows.Scan(&p.ReviewItemID, &p.ImplItemID, &p.Subject, &p.ReviewType,
			&p.SessionID, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("list pending reviews: %w", err)
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

// AddReviewItem inserts a stacked review item and appends it to the
// implementation item's blocker set in one transaction.
func (s *Store) AddReviewItem(ctx context.Context, item *governed.ReviewItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	item.Status = governed.ReviewItemPending

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("add review item: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`INSERT INTO review_items (id, impl_item_id, review_type, context, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		item.ID, item.ImplItemID, item.ReviewType, item.Context, item.Status)
	if err := row.Scan(&item.CreatedAt); err != nil {
		return fmt.Errorf("add review item: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE governed_tasks
		 SET blockers = array_append(blockers, $2), status = 'pending',
		     version = version + 1, updated_at = now()
		 WHERE impl_item_id = $1`,
		item.ImplItemID, item.ID)
	if err := execExpectOne(tag, err, "add review item: block impl item %s", item.ImplItemID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("add review item: commit: %w", err)
	}
	return nil
}

func (s *Store) GetReviewItem(ctx context.Context, id string) (*governed.ReviewItem, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, impl_item_id, review_type, context, status, created_at, completed_at
		 FROM review_items WHERE id = $1`, id)

	item, err := scanReviewItem(row)
	if err != nil {
		return nil, notFoundWrap(err, "get review item %s", id)
	}
	return &item, nil
}

func (s *Store) CompleteReviewItem(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE review_items SET status = 'completed', completed_at = $2 WHERE id = $1`,
		id, at)
	return execExpectOne(tag, err, "complete review item %s", id)
}

// RemoveBlocker removes one blocker in a single atomic update and returns the
// remaining set. array_remove on a no-longer-present blocker is a no-op, so
// retries and concurrent removals of different blockers are both safe.
func (s *Store) RemoveBlocker(ctx context.Context, implItemID, reviewItemID string) ([]string, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE governed_tasks
		 SET blockers = array_remove(blockers, $2), version = version + 1, updated_at = now()
		 WHERE impl_item_id = $1
		 RETURNING blockers`,
		implItemID, reviewItemID)

	var remaining []string
	if err := row.Scan(&remaining); err != nil {
		return nil, notFoundWrap(err, "remove blocker from impl item %s", implItemID)
	}
	return orEmpty(remaining), nil
}

func (s *Store) UpdateGovernedVerdict(ctx context.Context, id string, verdict review.Verdict, guidance string, findings []review.Finding, standards []string, status governed.Status) error {
	findingsJSON, err := json.Marshal(orEmpty(findings))
	if err != nil {
		return fmt.Errorf("marshal findings: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE governed_tasks
		 SET last_verdict = $2, guidance = $3, findings = $4, standards_verified = $5,
		     status = $6, version = version + 1, updated_at = now()
		 WHERE id = $1`,
		id, verdict, guidance, findingsJSON, pgTextArray(standards), status)
	return execExpectOne(tag, err, "update verdict for governed task %s", id)
}
