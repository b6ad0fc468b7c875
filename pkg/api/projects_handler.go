package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mklimuk/siteplan/pkg/contract"
	"github.com/mklimuk/siteplan/pkg/integration/procore"
	"github.com/mklimuk/siteplan/pkg/logger"
)

// ListProjects handles GET /api/projects
func (h *Handler) ListProjects(c *gin.Context) {
	dir, ok := h.directory(c)
	if !ok {
		return
	}
	projects, err := dir.ListProjects(c.Request.Context())
	if err != nil && !errors.Is(err, procore.ErrNotFound) {
		logger.Warn(c.Request.Context(), "failed to list projects", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to list projects"})
		return
	}
	if projects == nil {
		projects = []procore.Project{}
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

// ListSubJobs handles GET /api/projects/:id/sub-jobs
func (h *Handler) ListSubJobs(c *gin.Context) {
	dir, ok := h.directory(c)
	if !ok {
		return
	}
	projectID := c.Param("id")
	subJobs, err := dir.ListSubJobs(c.Request.Context(), projectID)
	if err != nil && !errors.Is(err, procore.ErrNotFound) {
		logger.Warn(c.Request.Context(), "failed to list sub jobs", "project_id", projectID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to list sub jobs"})
		return
	}
	if subJobs == nil {
		subJobs = []contract.SubUnit{}
	}
	c.JSON(http.StatusOK, gin.H{"sub_jobs": subJobs})
}

// ResolveClient handles GET /api/projects/:id/client?sub_job_code=. An
// unresolved client is a 200 with resolved=false.
func (h *Handler) ResolveClient(c *gin.Context) {
	dir, ok := h.directory(c)
	if !ok {
		return
	}
	resolver := contract.NewResolver(dir, h.Extractor, h.Contracts, h.companyID(c), h.Config.Procore.DetailConcurrency)
	if c.Query("refresh") == "true" {
		resolver.Forget(c.Param("id"))
	}
	res := resolver.Resolve(c.Request.Context(), c.Param("id"), c.Query("sub_job_code"))
	c.JSON(http.StatusOK, res)
}
