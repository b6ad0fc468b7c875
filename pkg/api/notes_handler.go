package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mklimuk/siteplan/pkg/db"
	"github.com/mklimuk/siteplan/pkg/scheduler"
)

// ListPendingNotes handles GET /api/pending-notes?status=pending,failed
func (h *Handler) ListPendingNotes(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		notes []db.PendingNote
		err   error
	)
	if raw := c.Query("status"); raw != "" {
		var statuses []db.NoteStatus
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				statuses = append(statuses, db.NoteStatus(s))
			}
		}
		notes, err = h.Repo.ListNotesByStatus(ctx, statuses...)
	} else {
		notes, err = h.Repo.ListNotes(ctx)
	}
	if err != nil {
		internalError(c, "failed to list pending notes", err)
		return
	}
	if notes == nil {
		notes = []db.PendingNote{}
	}
	c.JSON(http.StatusOK, gin.H{"notes": notes})
}

// CancelPendingNote handles DELETE /api/pending-notes/:id. Only pending
// notes can be cancelled.
func (h *Handler) CancelPendingNote(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	note, err := h.Repo.GetNote(ctx, id)
	if err != nil {
		internalError(c, "failed to load pending note", err)
		return
	}
	if note == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "pending note not found"})
		return
	}

	removed, err := h.Repo.DeletePending(ctx, id)
	if err != nil {
		internalError(c, "failed to cancel pending note", err)
		return
	}
	if !removed {
		c.JSON(http.StatusConflict, gin.H{"error": "note is " + string(note.Status), "status": note.Status})
		return
	}
	c.Status(http.StatusNoContent)
}

// ProcessPendingNotes handles POST /api/pending-notes/process. The pass
// outlives the request so a disconnecting client cannot fail its notes.
func (h *Handler) ProcessPendingNotes(c *gin.Context) {
	ctx := context.WithoutCancel(c.Request.Context())
	res, err := h.Scheduler.ProcessDue(ctx, scheduler.TriggerManual)
	if err != nil {
		internalError(c, "failed to process pending notes", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListSchedulerRuns handles GET /api/scheduler/runs
func (h *Handler) ListSchedulerRuns(c *gin.Context) {
	runs, err := h.Repo.ListSchedulerRuns(c.Request.Context(), parseLimit(c, 20))
	if err != nil {
		internalError(c, "failed to list scheduler runs", err)
		return
	}
	if runs == nil {
		runs = []db.SchedulerRun{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}
