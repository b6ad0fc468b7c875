package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Credential is the shared token triple of one user.
type Credential struct {
	UserEmail    string    `json:"user_email"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"`
	CompanyID    string    `json:"company_id"`
	UpdatedAt    time.Time `json:"updated_at"`
}

const credentialColumns = `user_email, access_token, refresh_token, expires_at, company_id, updated_at`

func scanCredential(row rowScanner) (*Credential, error) {
	var (
		c         Credential
		expiresAt sql.NullTime
	)
	if err := row.Scan(&c.UserEmail, &c.AccessToken, &c.RefreshToken, &expiresAt, &c.CompanyID, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		c.ExpiresAt = expiresAt.Time
	}
	return &c, nil
}

// UpsertCredential stores the user's credential. An empty refresh token or
// company id keeps the stored value.
func (r *Repository) UpsertCredential(ctx context.Context, c *Credential) error {
	query := `
	INSERT INTO credentials (user_email, access_token, refresh_token, expires_at, company_id, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT (user_email) DO UPDATE SET
		access_token = excluded.access_token,
		refresh_token = COALESCE(NULLIF(excluded.refresh_token, ''), credentials.refresh_token),
		expires_at = excluded.expires_at,
		company_id = COALESCE(NULLIF(excluded.company_id, ''), credentials.company_id),
		updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query, c.UserEmail, c.AccessToken, c.RefreshToken,
		nullTime(c.ExpiresAt), c.CompanyID, r.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	return nil
}

// GetCredential returns the user's credential, or nil if there is none.
func (r *Repository) GetCredential(ctx context.Context, email string) (*Credential, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE user_email = ?`, email)
	c, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return c, nil
}

// LatestCredential returns the credential that stays valid the longest, or
// nil if none is stored.
func (r *Repository) LatestCredential(ctx context.Context) (*Credential, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM credentials
	ORDER BY expires_at IS NULL, expires_at DESC, updated_at DESC LIMIT 1`)
	c, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest credential: %w", err)
	}
	return c, nil
}
