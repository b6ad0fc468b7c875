package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DateLayout is the storage format of calendar dates.
const DateLayout = "2006-01-02"

// ErrNotFound is returned by updates that matched no row.
var ErrNotFound = errors.New("not found")

// ErrSuperseded is returned when a note was re-enqueued or already settled
// after the caller read it.
var ErrSuperseded = errors.New("note superseded")

// Repository handles data access
type Repository struct {
	db  *DB
	now func() time.Time
}

// NewRepository creates a new Repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// WithClock replaces the clock used for created/updated timestamps.
func (r *Repository) WithClock(now func() time.Time) *Repository {
	r.now = now
	return r
}

// FormatDate renders t as a calendar date in its own location.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// NoteStatus is the lifecycle state of a pending note.
type NoteStatus string

const (
	StatusPending NoteStatus = "pending"
	StatusPosted  NoteStatus = "posted"
	StatusFailed  NoteStatus = "failed"
)

// PendingNote is a note that must be posted to a project's log on
// ScheduledDate.
type PendingNote struct {
	ID             int64      `json:"id"`
	PlanID         string     `json:"plan_id"`
	ProjectID      string     `json:"project_id"`
	CompanyID      string     `json:"company_id"`
	UserEmail      string     `json:"user_email,omitempty"`
	ScheduledDate  string     `json:"scheduled_date"`
	Subject        string     `json:"subject"`
	CommentBody    string     `json:"comment_body"`
	Revision       int64      `json:"revision"`
	AccessToken    string     `json:"-"`
	RefreshToken   string     `json:"-"`
	TokenExpiresAt time.Time  `json:"token_expires_at"`
	Status         NoteStatus `json:"status"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	PostedAt       *time.Time `json:"posted_at,omitempty"`
}

const noteColumns = `id, plan_id, project_id, company_id, user_email, scheduled_date, subject, comment_body, revision,
	access_token, refresh_token, token_expires_at, status, error, created_at, posted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (*PendingNote, error) {
	var (
		n         PendingNote
		expiresAt sql.NullTime
		errMsg    sql.NullString
		postedAt  sql.NullTime
	)
	err := row.Scan(&n.ID, &n.PlanID, &n.ProjectID, &n.CompanyID, &n.UserEmail, &n.ScheduledDate,
		&n.Subject, &n.CommentBody, &n.Revision, &n.AccessToken, &n.RefreshToken, &expiresAt, &n.Status,
		&errMsg, &n.CreatedAt, &postedAt)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		n.TokenExpiresAt = expiresAt.Time
	}
	n.Error = errMsg.String
	if postedAt.Valid {
		t := postedAt.Time
		n.PostedAt = &t
	}
	return &n, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// EnqueueNote inserts a pending note or replaces the one already queued for
// the same plan and date. A replaced note is reset to pending with its posted
// time and error cleared, and its revision is bumped. It returns the row id.
func (r *Repository) EnqueueNote(ctx context.Context, n *PendingNote) (int64, error) {
	if _, err := time.Parse(DateLayout, n.ScheduledDate); err != nil {
		return 0, fmt.Errorf("invalid scheduled date %q: %w", n.ScheduledDate, err)
	}

	query := `
	INSERT INTO pending_notes (plan_id, project_id, company_id, user_email, scheduled_date, subject,
		comment_body, access_token, refresh_token, token_expires_at, status, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?)
	ON CONFLICT (plan_id, scheduled_date) DO UPDATE SET
		project_id = excluded.project_id,
		company_id = excluded.company_id,
		user_email = excluded.user_email,
		subject = excluded.subject,
		comment_body = excluded.comment_body,
		revision = pending_notes.revision + 1,
		access_token = excluded.access_token,
		refresh_token = excluded.refresh_token,
		token_expires_at = excluded.token_expires_at,
		status = 'pending',
		error = NULL,
		posted_at = NULL,
		created_at = excluded.created_at
	RETURNING id`

	var id int64
	err := r.db.QueryRowContext(ctx, query, n.PlanID, n.ProjectID, n.CompanyID, n.UserEmail,
		n.ScheduledDate, n.Subject, n.CommentBody, n.AccessToken, n.RefreshToken,
		nullTime(n.TokenExpiresAt), r.now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue note: %w", err)
	}
	return id, nil
}

// ListDueOn returns pending notes scheduled exactly on date.
func (r *Repository) ListDueOn(ctx context.Context, date string) ([]PendingNote, error) {
	query := `SELECT ` + noteColumns + ` FROM pending_notes
	WHERE status = 'pending' AND scheduled_date = ?
	ORDER BY id ASC`
	return r.queryNotes(ctx, query, date)
}

// ListDueThrough returns pending notes scheduled on or before date, oldest
// date first.
func (r *Repository) ListDueThrough(ctx context.Context, date string) ([]PendingNote, error) {
	query := `SELECT ` + noteColumns + ` FROM pending_notes
	WHERE status = 'pending' AND scheduled_date <= ?
	ORDER BY scheduled_date ASC, id ASC`
	return r.queryNotes(ctx, query, date)
}

// ListNotes returns every note ordered by scheduled date, newest entry first
// within a date.
func (r *Repository) ListNotes(ctx context.Context) ([]PendingNote, error) {
	query := `SELECT ` + noteColumns + ` FROM pending_notes
	ORDER BY scheduled_date ASC, created_at DESC, id DESC`
	return r.queryNotes(ctx, query)
}

// ListNotesByStatus returns notes in any of the given states, ordered like
// ListNotes.
func (r *Repository) ListNotesByStatus(ctx context.Context, statuses ...NoteStatus) ([]PendingNote, error) {
	all, err := r.ListNotes(ctx)
	if err != nil {
		return nil, err
	}
	var out []PendingNote
	for _, n := range all {
		for _, s := range statuses {
			if n.Status == s {
				out = append(out, n)
				break
			}
		}
	}
	return out, nil
}

func (r *Repository) queryNotes(ctx context.Context, query string, args ...any) ([]PendingNote, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", err)
	}
	defer rows.Close()

	var notes []PendingNote
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, *n)
	}
	return notes, rows.Err()
}

// GetNote returns the note with id, or nil if there is none.
func (r *Repository) GetNote(ctx context.Context, id int64) (*PendingNote, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM pending_notes WHERE id = ?`, id)
	n, err := scanNote(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get note: %w", err)
	}
	return n, nil
}

// MarkPosted records a successful post of the given revision. It returns
// ErrSuperseded when the note is no longer that pending revision.
func (r *Repository) MarkPosted(ctx context.Context, id, revision int64, at time.Time) error {
	return r.settleNote(ctx, "mark posted", id,
		`UPDATE pending_notes SET status = 'posted', posted_at = ?, error = NULL
		WHERE id = ? AND revision = ? AND status = 'pending'`,
		at.UTC(), id, revision)
}

// MarkFailed records a failed attempt of the given revision with its error
// message. It returns ErrSuperseded like MarkPosted.
func (r *Repository) MarkFailed(ctx context.Context, id, revision int64, msg string) error {
	return r.settleNote(ctx, "mark failed", id,
		`UPDATE pending_notes SET status = 'failed', error = ?
		WHERE id = ? AND revision = ? AND status = 'pending'`,
		msg, id, revision)
}

func (r *Repository) settleNote(ctx context.Context, op string, id int64, query string, args ...any) error {
	err := r.updateNote(ctx, op, query, args...)
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	n, gerr := r.GetNote(ctx, id)
	if gerr != nil {
		return gerr
	}
	if n != nil {
		return fmt.Errorf("failed to %s: %w", op, ErrSuperseded)
	}
	return err
}

// UpdateCredentialSnapshot replaces the note's token triple without touching
// its status.
func (r *Repository) UpdateCredentialSnapshot(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt time.Time) error {
	return r.updateNote(ctx, "update credential snapshot",
		`UPDATE pending_notes SET access_token = ?, refresh_token = ?, token_expires_at = ? WHERE id = ?`,
		accessToken, refreshToken, nullTime(expiresAt), id)
}

func (r *Repository) updateNote(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("failed to %s: note %w", op, ErrNotFound)
	}
	return nil
}

// DeletePending cancels a note that is still pending. It reports whether a
// row was removed.
func (r *Repository) DeletePending(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM pending_notes WHERE id = ? AND status = 'pending'`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete note: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete note: %w", err)
	}
	return n > 0, nil
}
