package db

import (
	"context"
	"fmt"
	"time"
)

// SchedulerRun is one pass of the due-note processor.
type SchedulerRun struct {
	ID         int64     `json:"id"`
	Trigger    string    `json:"trigger"`
	AsOf       string    `json:"as_of"`
	Due        int       `json:"due"`
	Posted     int       `json:"posted"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// InsertSchedulerRun records a finished pass.
func (r *Repository) InsertSchedulerRun(ctx context.Context, run *SchedulerRun) error {
	res, err := r.db.ExecContext(ctx, `INSERT INTO scheduler_runs (kind, as_of, due, posted, failed, started_at, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.Trigger, run.AsOf, run.Due, run.Posted, run.Failed, run.StartedAt.UTC(), run.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert scheduler run: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		run.ID = id
	}
	return nil
}

// ListSchedulerRuns returns the most recent passes first.
func (r *Repository) ListSchedulerRuns(ctx context.Context, limit int) ([]SchedulerRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id, kind, as_of, due, posted, failed, started_at, finished_at
	FROM scheduler_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduler runs: %w", err)
	}
	defer rows.Close()

	var runs []SchedulerRun
	for rows.Next() {
		var run SchedulerRun
		if err := rows.Scan(&run.ID, &run.Trigger, &run.AsOf, &run.Due, &run.Posted, &run.Failed, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan scheduler run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
