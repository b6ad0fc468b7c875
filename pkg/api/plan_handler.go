package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mklimuk/siteplan/pkg/db"
	"github.com/mklimuk/siteplan/pkg/integration/gmail"
	"github.com/mklimuk/siteplan/pkg/logger"
	"github.com/mklimuk/siteplan/pkg/middleware"
	"github.com/mklimuk/siteplan/pkg/plan"
)

// Note outcomes of a send.
const (
	NoteSkipped = "skipped"
	NoteQueued  = "queued"
	NotePosted  = "posted"
	NoteFailed  = "failed"
)

// SavePlan handles POST /api/plans. A plan with a known id is updated.
func (h *Handler) SavePlan(c *gin.Context) {
	var p plan.Plan
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if err := p.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p.EnsureID()
	if p.AuthorEmail == "" {
		p.AuthorEmail = middleware.GetUserEmail(c)
	}
	if p.CompanyID == "" {
		p.CompanyID = h.companyID(c)
	}

	rec, err := p.ToRecord()
	if err != nil {
		internalError(c, "failed to encode plan", err)
		return
	}
	if err := h.Repo.SavePlan(c.Request.Context(), rec); err != nil {
		internalError(c, "failed to save plan", err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// GetPlan handles GET /api/plans/:id
func (h *Handler) GetPlan(c *gin.Context) {
	p, ok := h.loadPlan(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, p)
}

// ListPlans handles GET /api/plans
func (h *Handler) ListPlans(c *gin.Context) {
	recs, err := h.Repo.ListPlans(c.Request.Context(), parseLimit(c, 50))
	if err != nil {
		internalError(c, "failed to list plans", err)
		return
	}
	plans := make([]*plan.Plan, 0, len(recs))
	for i := range recs {
		p, err := plan.FromRecord(&recs[i])
		if err != nil {
			logger.Warn(c.Request.Context(), "skipping undecodable plan", "plan_id", recs[i].ID, "error", err)
			continue
		}
		plans = append(plans, p)
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

func (h *Handler) loadPlan(c *gin.Context) (*plan.Plan, bool) {
	rec, err := h.Repo.GetPlan(c.Request.Context(), c.Param("id"))
	if err != nil {
		internalError(c, "failed to load plan", err)
		return nil, false
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "plan not found"})
		return nil, false
	}
	p, err := plan.FromRecord(rec)
	if err != nil {
		internalError(c, "failed to decode plan", err)
		return nil, false
	}
	return p, true
}

type SendRequest struct {
	Recipients []string `json:"recipients"`
	Cc         []string `json:"cc"`
	PostNote   bool     `json:"post_note"`
}

type SendResponse struct {
	Subject       string `json:"subject"`
	Emailed       bool   `json:"emailed"`
	MessageID     string `json:"message_id,omitempty"`
	ArchivePath   string `json:"archive_path,omitempty"`
	Note          string `json:"note"`
	PendingNoteID int64  `json:"pending_note_id,omitempty"`
	NoteError     string `json:"note_error,omitempty"`
}

// SendPlan handles POST /api/plans/:id/send. The plan is emailed and
// archived; with post_note a future-dated plan is queued for the scheduler
// and any other plan is posted to the project notes log right away.
func (h *Handler) SendPlan(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	req.Recipients = cleanAddresses(req.Recipients)
	req.Cc = cleanAddresses(req.Cc)
	if len(req.Recipients) > 0 && h.Mailer == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mail is not configured"})
		return
	}

	p, ok := h.loadPlan(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	email := middleware.GetUserEmail(c)

	var queuedCred *db.Credential
	if req.PostNote && p.Date > h.Scheduler.Today() {
		cred, err := h.Repo.GetCredential(ctx, email)
		if err != nil {
			internalError(c, "failed to load credential", err)
			return
		}
		if cred == nil {
			c.JSON(http.StatusPreconditionFailed, gin.H{"error": "account is not connected"})
			return
		}
		queuedCred = cred
	}

	msg := h.Composer.Compose(ctx, p)
	resp := SendResponse{Subject: msg.Subject, Note: NoteSkipped}

	if len(req.Recipients) > 0 {
		id, err := h.Mailer.Send(ctx, gmail.Message{
			To:      req.Recipients,
			Cc:      req.Cc,
			Subject: msg.Subject,
			Body:    msg.Body,
		})
		if err != nil {
			logger.Error(ctx, "failed to email plan", "plan_id", p.ID, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to send email"})
			return
		}
		resp.Emailed, resp.MessageID = true, id
	}

	if h.Archive != nil {
		path, err := h.Archive.Store(ctx, p, msg, append(req.Recipients, req.Cc...))
		if err != nil {
			logger.Warn(ctx, "failed to archive plan", "plan_id", p.ID, "error", err)
		}
		resp.ArchivePath = path
	}

	switch {
	case !req.PostNote:
	case queuedCred != nil:
		id, err := h.enqueue(ctx, p, msg, queuedCred)
		if err != nil {
			internalError(c, "failed to queue note", err)
			return
		}
		resp.Note, resp.PendingNoteID = NoteQueued, id
	default:
		if err := h.postNow(ctx, p, msg, email); err != nil {
			logger.Warn(ctx, "immediate note post failed", "plan_id", p.ID, "project_id", p.ProjectID, "error", err)
			resp.Note, resp.NoteError = NoteFailed, err.Error()
			break
		}
		resp.Note = NotePosted
	}

	logger.Info(ctx, "plan sent", "plan_id", p.ID, "emailed", resp.Emailed, "note", resp.Note)
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) enqueue(ctx context.Context, p *plan.Plan, msg plan.Message, cred *db.Credential) (int64, error) {
	company := p.CompanyID
	if company == "" {
		company = cred.CompanyID
	}
	return h.Repo.EnqueueNote(ctx, &db.PendingNote{
		PlanID:         p.ID,
		ProjectID:      p.ProjectID,
		CompanyID:      company,
		UserEmail:      cred.UserEmail,
		ScheduledDate:  p.Date,
		Subject:        msg.Subject,
		CommentBody:    msg.Comment,
		AccessToken:    cred.AccessToken,
		RefreshToken:   cred.RefreshToken,
		TokenExpiresAt: cred.ExpiresAt,
	})
}

func (h *Handler) postNow(ctx context.Context, p *plan.Plan, msg plan.Message, email string) error {
	tok, err := h.Tokens.EnsureUserFresh(ctx, email)
	if err != nil {
		return err
	}
	if h.Poster == nil {
		return errors.New("note posting is not configured")
	}
	return h.Poster.PostNote(ctx, db.PendingNote{
		PlanID:        p.ID,
		ProjectID:     p.ProjectID,
		CompanyID:     p.CompanyID,
		UserEmail:     email,
		ScheduledDate: p.Date,
		Subject:       msg.Subject,
		CommentBody:   msg.Comment,
	}, tok)
}

func cleanAddresses(in []string) []string {
	var out []string
	for _, a := range in {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
