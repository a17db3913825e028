package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/wardenhq/warden/internal/domain/review"
	"github.com/wardenhq/warden/internal/port/database"
)

const reviewColumns = `id, kind, task_id, decision_id, verdict, findings,
	 guidance, standards_verified, reviewer, created_at`

func scanReview(row scannable) (review.Review, error) {
	var (
		r            review.Review
		decisionID   *string
		findingsJSON []byte
	)
	err := row.Scan(&r.ID, &r.Kind, &r.TaskID, &decisionID, &r.Verdict,
		&findingsJSON, &r.Guidance, &r.StandardsVerified, &r.Reviewer, &r.CreatedAt)
	if err != nil {
		return review.Review{}, err
	}
	if decisionID != nil {
		r.DecisionID = *decisionID
	}
	if err := json.Unmarshal(findingsJSON, &r.Findings); err != nil {
		return review.Review{}, fmt.Errorf("unmarshal findings: %w", err)
	}
	r.Findings = orEmpty(r.Findings)
	r.StandardsVerified = orEmpty(r.StandardsVerified)
	return r, nil
}

func (s *Store) CreateReview(ctx context.Context, r *review.Review) error {
	findingsJSON, err := json.Marshal(orEmpty(r.Findings))
	if err != nil {
		return fmt.Errorf("marshal findings: %w", err)
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO reviews (id, kind, task_id, decision_id, verdict, findings,
		   guidance, standards_verified, reviewer)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING created_at`,
		r.ID, r.Kind, r.TaskID, nullIfEmpty(r.DecisionID), r.Verdict, findingsJSON,
		r.Guidance, pgTextArray(r.StandardsVerified), r.Reviewer)
	if err := row.Scan(&r.CreatedAt); err != nil {
		return fmt.Errorf("create review: %w", err)
	}
	return nil
}

func (s *Store) GetReviewByDecision(ctx context.Context, decisionID string) (*review.Review, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+reviewColumns+` FROM reviews
		 WHERE decision_id = $1 ORDER BY created_at DESC LIMIT 1`, decisionID)

	r, err := scanReview(row)
	if err != nil {
		return nil, notFoundWrap(err, "get review for decision %s", decisionID)
	}
	return &r, nil
}

func (s *Store) ListReviewsByTask(ctx context.Context, taskID string) ([]review.Review, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+reviewColumns+` FROM reviews WHERE task_id = $1 ORDER BY created_at`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list reviews for task %s: %w", taskID, err)
	}
	defer rows.Close()

	var reviews []review.Review
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("list reviews for task %s: %w", taskID, err)
		}
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}

func (s *Store) CountReviewsByVerdict(ctx context.Context) (database.VerdictTotals, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT verdict, COUNT(*) FROM reviews GROUP BY verdict`)
	if err != nil {
		return database.VerdictTotals{}, fmt.Errorf("count reviews by verdict: %w", err)
	}
	defer rows.Close()

	var totals database.VerdictTotals
	for rows.Next() {
		var (
			verdict review.Verdict
			count   int
		)
		if err := rows.Scan(&verdict, &count); err != nil {
			return database.VerdictTotals{}, fmt.Errorf("count reviews by verdict: %w", err)
		}
		switch verdict {
		case review.VerdictApproved:
			totals.Approved = count
		case review.VerdictBlocked:
			totals.Blocked = count
		case review.VerdictNeedsHuman:
			totals.NeedsHuman = count
		}
	}
	return totals, rows.Err()
}

func (s *Store) ListRecentReviews(ctx context.Context, limit int) ([]review.Review, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+reviewColumns+` FROM reviews ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent reviews: %w", err)
	}
	defer rows.Close()

	var reviews []review.Review
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("list recent reviews: %w", err)
		}
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}
