package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PlanRecord is a stored plan. Payload is the plan's JSON document.
type PlanRecord struct {
	ID          string
	PlanDate    string
	ProjectID   string
	AuthorEmail string
	Payload     []byte
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SavePlan inserts or updates a plan.
func (r *Repository) SavePlan(ctx context.Context, p *PlanRecord) error {
	now := r.now().UTC()
	query := `
	INSERT INTO plans (id, plan_date, project_id, author_email, payload, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		plan_date = excluded.plan_date,
		project_id = excluded.project_id,
		author_email = excluded.author_email,
		payload = excluded.payload,
		updated_at = excluded.updated_at`

	if _, err := r.db.ExecContext(ctx, query, p.ID, p.PlanDate, p.ProjectID, p.AuthorEmail, string(p.Payload), now, now); err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}
	return nil
}

// GetPlan returns the plan with id, or nil if there is none.
func (r *Repository) GetPlan(ctx context.Context, id string) (*PlanRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, plan_date, project_id, author_email, payload, created_at, updated_at
	FROM plans WHERE id = ?`, id)

	var (
		p       PlanRecord
		payload string
	)
	if err := row.Scan(&p.ID, &p.PlanDate, &p.ProjectID, &p.AuthorEmail, &payload, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	p.Payload = []byte(payload)
	return &p, nil
}

// ListPlans returns the most recent plans, newest plan date first.
func (r *Repository) ListPlans(ctx context.Context, limit int) ([]PlanRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id, plan_date, project_id, author_email, payload, created_at, updated_at
	FROM plans ORDER BY plan_date DESC, updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var plans []PlanRecord
	for rows.Next() {
		var (
			p       PlanRecord
			payload string
		)
		if err := rows.Scan(&p.ID, &p.PlanDate, &p.ProjectID, &p.AuthorEmail, &payload, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		p.Payload = []byte(payload)
		plans = append(plans, p)
	}
	return plans, rows.Err()
}
