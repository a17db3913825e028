package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/wardenhq/warden/internal/domain/decision"
	"github.com/wardenhq/warden/internal/port/database"
)

const decisionColumns = `id, task_id, seq, agent, category, summary, detail,
	 components_affected, alternatives_considered, confidence, created_at`

func scanDecision(row scannable) (decision.Decision, error) {
	var d decision.Decision
	err := row.Scan(&d.ID, &d.TaskID, &d.Seq, &d.Agent, &d.Category, &d.Summary,
		&d.Detail, &d.ComponentsAffected, &d.AlternativesConsidered, &d.Confidence,
		&d.CreatedAt)
	if err != nil {
		return decision.Decision{}, err
	}
	d.ComponentsAffected = orEmpty(d.ComponentsAffected)
	d.AlternativesConsidered = orEmpty(d.AlternativesConsidered)
	return d, nil
}

// CreateDecision inserts a decision with the next per-task sequence number.
// A transaction-scoped advisory lock on the task ID serializes concurrent
// submissions so the sequence stays gapless, backed by the unique
// (task_id, seq) constraint.
func (s *Store) CreateDecision(ctx context.Context, d *decision.Decision) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("create decision: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, d.TaskID); err != nil {
		return fmt.Errorf("create decision: lock task %s: %w", d.TaskID, err)
	}

	var seq int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM decisions WHERE task_id = $1`,
		d.TaskID).Scan(&seq); err != nil {
		return fmt.Errorf("create decision: next seq for task %s: %w", d.TaskID, err)
	}

	d.ID = uuid.New().String()
	d.Seq = seq

	row := tx.QueryRow(ctx,
		`INSERT INTO decisions (id, task_id, seq, agent, category, summary, detail,
		   components_affected, alternatives_considered, confidence)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING created_at`,
		d.ID, d.TaskID, d.Seq, d.Agent, d.Category, d.Summary, d.Detail,
		pgTextArray(d.ComponentsAffected), pgTextArray(d.AlternativesConsidered),
		d.Confidence)
	if err := row.Scan(&d.CreatedAt); err != nil {
		return fmt.Errorf("create decision: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("create decision: commit: %w", err)
	}
	return nil
}

func (s *Store) GetDecision(ctx context.Context, id string) (*decision.Decision, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+decisionColumns+` FROM decisions WHERE id = $1`, id)

	d, err := scanDecision(row)
	if err != nil {
		return nil, notFoundWrap(err, "get decision %s", id)
	}
	return &d, nil
}

// ListDecisions returns decisions matching the filter, newest first. The
// verdict filter joins the review issued for each decision.
func (s *Store) ListDecisions(ctx context.Context, f database.DecisionFilter) ([]decision.Decision, error) {
	query := `SELECT DISTINCT d.id, d.task_id, d.seq, d.agent, d.category, d.summary, d.detail,
		 d.components_affected, d.alternatives_considered, d.confidence, d.created_at
	 FROM decisions d`
	var (
		conds []string
		args  []any
	)
	if f.Verdict != "" {
		query += ` JOIN reviews r ON r.decision_id = d.id`
		args = append(args, f.Verdict)
		conds = append(conds, fmt.Sprintf("r.verdict = $%d", len(args)))
	}
	if f.TaskID != "" {
		args = append(args, f.TaskID)
		conds = append(conds, fmt.Sprintf("d.task_id = $%d", len(args)))
	}
	if f.Agent != "" {
		args = append(args, f.Agent)
		conds = append(conds, fmt.Sprintf("d.agent = $%d", len(args)))
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += ` ORDER BY d.created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var decisions []decision.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("list decisions: %w", err)
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

func (s *Store) ListDecisionsByTask(ctx context.Context, taskID string) ([]decision.Decision, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+decisionColumns+` FROM decisions WHERE task_id = $1 ORDER BY seq`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list decisions for task %s: %w", taskID, err)
	}
	defer rows.Close()

	var decisions []decision.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("list decisions for task %s: %w", taskID, err)
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}
