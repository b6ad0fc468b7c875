// Package credential keeps directory-service tokens usable: it refreshes a
// token close to expiry and writes the result back to the queued note and the
// user's shared credential.
package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mklimuk/siteplan/pkg/db"
	"github.com/mklimuk/siteplan/pkg/logger"
)

// DefaultMargin is how long a token must remain valid to be used without a
// refresh.
const DefaultMargin = 5 * time.Minute

var (
	// ErrNoCredential is returned when no stored credential exists for a user.
	ErrNoCredential = errors.New("no stored credential")
	// ErrNoRefreshToken is returned when a stale token cannot be refreshed.
	ErrNoRefreshToken = errors.New("token expired and no refresh token is available")
)

// Token is an access/refresh token pair with the access token's expiry.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Store is the persistence the refresher reads and updates.
type Store interface {
	GetCredential(ctx context.Context, email string) (*db.Credential, error)
	LatestCredential(ctx context.Context) (*db.Credential, error)
	UpsertCredential(ctx context.Context, c *db.Credential) error
	UpdateCredentialSnapshot(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt time.Time) error
}

// Exchanger trades a refresh token for a new token.
type Exchanger interface {
	Refresh(ctx context.Context, refreshToken string) (Token, error)
}

// Refresher hands out tokens that stay valid for at least its margin.
type Refresher struct {
	store     Store
	exchanger Exchanger
	margin    time.Duration
	now       func() time.Time

	// Refresh tokens may rotate on use; one exchange at a time keeps two
	// callers from spending the same refresh token.
	mu sync.Mutex
}

// NewRefresher creates a Refresher with DefaultMargin.
func NewRefresher(store Store, exchanger Exchanger) *Refresher {
	return &Refresher{
		store:     store,
		exchanger: exchanger,
		margin:    DefaultMargin,
		now:       time.Now,
	}
}

// WithClock replaces the refresher's clock.
func (r *Refresher) WithClock(now func() time.Time) *Refresher {
	r.now = now
	return r
}

// WithMargin replaces the validity margin.
func (r *Refresher) WithMargin(d time.Duration) *Refresher {
	r.margin = d
	return r
}

// NeedsRefresh reports whether tok expires within the margin. A token with
// no known expiry always needs a refresh.
func (r *Refresher) NeedsRefresh(tok Token) bool {
	if tok.AccessToken == "" || tok.ExpiresAt.IsZero() {
		return true
	}
	return !tok.ExpiresAt.After(r.now().Add(r.margin))
}

// EnsureFresh returns a usable token for note. The shared credential of the
// note's user is preferred when it expires later than the note's own
// snapshot. A refreshed token is written to the note and the shared
// credential.
func (r *Refresher) EnsureFresh(ctx context.Context, note *db.PendingNote) (Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := Token{
		AccessToken:  note.AccessToken,
		RefreshToken: note.RefreshToken,
		ExpiresAt:    note.TokenExpiresAt,
	}

	email := note.UserEmail
	shared, err := r.shared(ctx, email)
	if err != nil {
		logger.Warn(ctx, "shared credential lookup failed, using note snapshot", "note_id", note.ID, "error", err)
	}
	if shared != nil {
		if email == "" {
			email = shared.UserEmail
		}
		if shared.ExpiresAt.After(current.ExpiresAt) {
			current = Token{AccessToken: shared.AccessToken, RefreshToken: shared.RefreshToken, ExpiresAt: shared.ExpiresAt}
			if current.RefreshToken == "" {
				current.RefreshToken = note.RefreshToken
			}
		}
	}

	if !r.NeedsRefresh(current) {
		return current, nil
	}

	tok, err := r.exchange(ctx, current.RefreshToken)
	if err != nil {
		return Token{}, err
	}

	if err := r.store.UpdateCredentialSnapshot(ctx, note.ID, tok.AccessToken, tok.RefreshToken, tok.ExpiresAt); err != nil {
		logger.Error(ctx, "failed to store refreshed token on note", "note_id", note.ID, "error", err)
	} else {
		note.AccessToken, note.RefreshToken, note.TokenExpiresAt = tok.AccessToken, tok.RefreshToken, tok.ExpiresAt
	}
	r.saveShared(ctx, email, note.CompanyID, tok)

	logger.Info(ctx, "refreshed token for pending note", "note_id", note.ID, "expires_at", tok.ExpiresAt)
	return tok, nil
}

// EnsureUserFresh returns a usable token from the user's shared credential,
// refreshing and storing it when needed.
func (r *Refresher) EnsureUserFresh(ctx context.Context, email string) (Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	shared, err := r.shared(ctx, email)
	if err != nil {
		return Token{}, err
	}
	if shared == nil {
		return Token{}, ErrNoCredential
	}

	current := Token{AccessToken: shared.AccessToken, RefreshToken: shared.RefreshToken, ExpiresAt: shared.ExpiresAt}
	if !r.NeedsRefresh(current) {
		return current, nil
	}

	tok, err := r.exchange(ctx, current.RefreshToken)
	if err != nil {
		return Token{}, err
	}
	r.saveShared(ctx, shared.UserEmail, shared.CompanyID, tok)
	return tok, nil
}

func (r *Refresher) shared(ctx context.Context, email string) (*db.Credential, error) {
	if email != "" {
		return r.store.GetCredential(ctx, email)
	}
	return r.store.LatestCredential(ctx)
}

func (r *Refresher) exchange(ctx context.Context, refreshToken string) (Token, error) {
	if refreshToken == "" {
		return Token{}, ErrNoRefreshToken
	}
	tok, err := r.exchanger.Refresh(ctx, refreshToken)
	if err != nil {
		return Token{}, fmt.Errorf("token refresh failed: %w", err)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return tok, nil
}

func (r *Refresher) saveShared(ctx context.Context, email, companyID string, tok Token) {
	if email == "" {
		return
	}
	err := r.store.UpsertCredential(ctx, &db.Credential{
		UserEmail:    email,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.ExpiresAt,
		CompanyID:    companyID,
	})
	if err != nil {
		logger.Error(ctx, "failed to store refreshed shared credential", "user", email, "error", err)
	}
}
