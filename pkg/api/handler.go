package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mklimuk/siteplan/pkg/config"
	"github.com/mklimuk/siteplan/pkg/contract"
	"github.com/mklimuk/siteplan/pkg/credential"
	"github.com/mklimuk/siteplan/pkg/db"
	"github.com/mklimuk/siteplan/pkg/integration/gmail"
	"github.com/mklimuk/siteplan/pkg/integration/procore"
	"github.com/mklimuk/siteplan/pkg/logger"
	"github.com/mklimuk/siteplan/pkg/middleware"
	"github.com/mklimuk/siteplan/pkg/plan"
	"github.com/mklimuk/siteplan/pkg/scheduler"
)

// Directory is the directory service as seen by one user.
type Directory interface {
	contract.Directory
	ListProjects(ctx context.Context) ([]procore.Project, error)
	ListSubJobs(ctx context.Context, projectID string) ([]contract.SubUnit, error)
}

// DirectoryFactory returns a Directory authorised with accessToken.
type DirectoryFactory func(ctx context.Context, accessToken, companyID string) Directory

// TokenSource hands out a fresh token of a user's shared credential.
type TokenSource interface {
	EnsureUserFresh(ctx context.Context, email string) (credential.Token, error)
}

// OAuthFlow is the authorization-code flow of the directory service.
type OAuthFlow interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (credential.Token, error)
}

// Processor runs due-note passes.
type Processor interface {
	ProcessDue(ctx context.Context, trigger scheduler.Trigger) (scheduler.Result, error)
	Today() string
}

// Mailer sends plan emails.
type Mailer interface {
	Send(ctx context.Context, m gmail.Message) (string, error)
}

// Archiver keeps a copy of every sent plan.
type Archiver interface {
	Store(ctx context.Context, p *plan.Plan, msg plan.Message, recipients []string) (string, error)
}

// Handler holds dependencies for API handlers. Mailer, Archive and OAuth are
// optional.
type Handler struct {
	Config    *config.Config
	Repo      *db.Repository
	Tokens    TokenSource
	OAuth     OAuthFlow
	Directory DirectoryFactory
	Extractor *contract.Extractor
	Contracts *contract.Cache
	Scheduler Processor
	Poster    scheduler.Poster
	Composer  *plan.Composer
	Mailer    Mailer
	Archive   Archiver

	// states maps one-time OAuth state values to the user who asked to connect.
	states *expirable.LRU[string, string]
}

func (h *Handler) init() {
	if h.states == nil {
		h.states = expirable.NewLRU[string, string](1024, nil, 10*time.Minute)
	}
	if h.Composer == nil {
		h.Composer = plan.NewComposer(nil)
	}
	if h.Extractor == nil {
		h.Extractor = contract.NewExtractor(h.Config.Contractor.Names...)
	}
}

// companyID is the directory company a request acts on.
func (h *Handler) companyID(c *gin.Context) string {
	if id := c.Query("company_id"); id != "" {
		return id
	}
	return h.Config.Procore.CompanyID
}

// directory returns the caller's directory client, writing the error
// response itself when the caller has no usable credential.
func (h *Handler) directory(c *gin.Context) (Directory, bool) {
	ctx := c.Request.Context()
	tok, err := h.Tokens.EnsureUserFresh(ctx, middleware.GetUserEmail(c))
	if err != nil {
		if errors.Is(err, credential.ErrNoCredential) {
			c.JSON(http.StatusPreconditionFailed, gin.H{"error": "account is not connected"})
			return nil, false
		}
		logger.Warn(ctx, "token refresh failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to refresh access token"})
		return nil, false
	}
	return h.Directory(ctx, tok.AccessToken, h.companyID(c)), true
}

func parseIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func parseLimit(c *gin.Context, def int) int {
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		return v
	}
	return def
}

func internalError(c *gin.Context, msg string, err error) {
	logger.Error(c.Request.Context(), msg, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
