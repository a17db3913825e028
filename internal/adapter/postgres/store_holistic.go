package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wardenhq/warden/internal/domain/holistic"
)

const holisticColumns = `id, session_id, task_ids, subjects, intent, verdict,
	 findings, guidance, standards_verified, created_at, resolved_at`

func scanHolisticReview(row scannable) (holistic.Record, error) {
	var (
		r            holistic.Record
		findingsJSON []byte
	)
	err := row.Scan(&r.ID, &r.SessionID, &r.TaskIDs, &r.Subjects, &r.Intent,
		&r.Verdict, &findingsJSON, &r.Guidance, &r.StandardsVerified,
		&r.CreatedAt, &r.ResolvedAt)
	if err != nil {
		return holistic.Record{}, err
	}
	if err := json.Unmarshal(findingsJSON, &r.Findings); err != nil {
		return holistic.Record{}, fmt.Errorf("unmarshal findings: %w", err)
	}
	r.TaskIDs = orEmpty(r.TaskIDs)
	r.Subjects = orEmpty(r.Subjects)
	r.Findings = orEmpty(r.Findings)
	r.StandardsVerified = orEmpty(r.StandardsVerified)
	return r, nil
}

func (s *Store) CreateHolisticReview(ctx context.Context, r *holistic.Record) error {
	findingsJSON, err := json.Marshal(orEmpty(r.Findings))
	if err != nil {
		return fmt.Errorf("marshal findings: %w", err)
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO holistic_reviews (id, session_id, task_ids, subjects, intent,
		   verdict, findings, guidance, standards_verified)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING created_at`,
		r.ID, r.SessionID, pgTextArray(r.TaskIDs), pgTextArray(r.Subjects), r.Intent,
		r.Verdict, findingsJSON, r.Guidance, pgTextArray(r.StandardsVerified))
	if err := row.Scan(&r.CreatedAt); err != nil {
		return fmt.Errorf("create holistic review: %w", err)
	}
	return nil
}

func (s *Store) GetHolisticReview(ctx context.Context, id string) (*holistic.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+holisticColumns+` FROM holistic_reviews WHERE id = $1`, id)

	r, err := scanHolisticReview(row)
	if err != nil {
		return nil, notFoundWrap(err, "get holistic review %s", id)
	}
	return &r, nil
}

func (s *Store) ListHolisticReviewsBySession(ctx context.Context, sessionID string) ([]holistic.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+holisticColumns+` FROM holistic_reviews
		 WHERE session_id = $1 ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list holistic reviews for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var records []holistic.Record
	for rows.Next() {
		r, err := scanHolisticReview(rows)
		if err != nil {
			return nil, fmt.Errorf("list holistic reviews for session %s: %w", sessionID, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *Store) ResolveHolisticReview(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE holistic_reviews SET resolved_at = $2 WHERE id = $1 AND resolved_at IS NULL`,
		id, at)
	return execExpectOne(tag, err, "resolve holistic review %s", id)
}

// TouchSessionMarker upserts the session marker into the settling state with
// a fresh last-activity timestamp. Every touch pushes the debounce window out.
func (s *Store) TouchSessionMarker(ctx context.Context, sessionID string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO holistic_sessions (session_id, state, last_activity)
		 VALUES ($1, 'settling', $2)
		 ON CONFLICT (session_id) DO UPDATE
		 SET state = 'settling', last_activity = EXCLUDED.last_activity, updated_at = now()`,
		sessionID, at)
	if err != nil {
		return fmt.Errorf("touch session marker %s: %w", sessionID, err)
	}
	return nil
}

func (s *Store) GetSessionMarker(ctx context.Context, sessionID string) (*holistic.Marker, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT session_id, state, pending, guidance, last_activity, updated_at
		 FROM holistic_sessions WHERE session_id = $1`, sessionID)

	var m holistic.Marker
	err := row.Scan(&m.SessionID, &m.State, &m.Pending, &m.Guidance, &m.LastActivity, &m.UpdatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get session marker %s", sessionID)
	}
	return &m, nil
}

// ClaimSessionSettle transitions the marker to reviewed only if last_activity
// still equals the timestamp the caller observed when the window was armed.
// Losing the compare-and-set means new activity arrived or another scheduler
// run already claimed the batch.
func (s *Store) ClaimSessionSettle(ctx context.Context, sessionID string, observed time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE holistic_sessions
		 SET state = 'reviewed', updated_at = now()
		 WHERE session_id = $1 AND last_activity = $2 AND state = 'settling'`,
		sessionID, observed)
	if err != nil {
		return false, fmt.Errorf("claim settle for session %s: %w", sessionID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) SetSessionPending(ctx context.Context, sessionID string, pending bool, guidance string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE holistic_sessions
		 SET pending = $2, guidance = $3, updated_at = now()
		 WHERE session_id = $1`,
		sessionID, pending, guidance)
	return execExpectOne(tag, err, "set pending for session %s", sessionID)
}

// ClearSessionMarker deletes the marker. Clearing an absent marker is a no-op
// so staleness sweeps stay idempotent.
func (s *Store) ClearSessionMarker(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM holistic_sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("clear session marker %s: %w", sessionID, err)
	}
	return nil
}
