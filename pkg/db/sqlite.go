package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the sql.DB connection
type DB struct {
	*sql.DB
}

// NewDB creates a new SQLite database connection
func NewDB(dbPath string) (*DB, error) {
	memory := dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory")

	dsn := dbPath
	if !memory {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
		dsn = "file:" + dbPath + "?_busy_timeout=5000&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// An in-memory database lives only as long as its connection; a file
	// database still wants a single writer.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{db}, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.DB.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS pending_notes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	plan_id TEXT NOT NULL,
	project_id TEXT NOT NULL,
	company_id TEXT NOT NULL DEFAULT '',
	user_email TEXT NOT NULL DEFAULT '',
	scheduled_date TEXT NOT NULL,
	subject TEXT NOT NULL DEFAULT '',
	comment_body TEXT NOT NULL,
	revision INTEGER NOT NULL DEFAULT 1,
	access_token TEXT NOT NULL DEFAULT '',
	refresh_token TEXT NOT NULL DEFAULT '',
	token_expires_at DATETIME,
	status TEXT NOT NULL DEFAULT 'pending',
	error TEXT,
	created_at DATETIME NOT NULL,
	posted_at DATETIME,
	UNIQUE (plan_id, scheduled_date)
);

CREATE INDEX IF NOT EXISTS idx_pending_notes_due ON pending_notes (status, scheduled_date);

CREATE TABLE IF NOT EXISTS credentials (
	user_email TEXT PRIMARY KEY,
	access_token TEXT NOT NULL,
	refresh_token TEXT NOT NULL DEFAULT '',
	expires_at DATETIME,
	company_id TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS plans (
	id TEXT PRIMARY KEY,
	plan_date TEXT NOT NULL,
	project_id TEXT NOT NULL,
	author_email TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS scheduler_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	as_of TEXT NOT NULL,
	due INTEGER NOT NULL DEFAULT 0,
	posted INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	started_at DATETIME NOT NULL,
	finished_at DATETIME NOT NULL
);
`

// InitSchema initializes the database schema
func (d *DB) InitSchema() error {
	return d.InitSchemaContext(context.Background())
}

// InitSchemaContext is InitSchema bound to ctx.
func (d *DB) InitSchemaContext(ctx context.Context) error {
	if _, err := d.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}
	return nil
}
