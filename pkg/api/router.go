package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mklimuk/siteplan/pkg/middleware"
)

// NewRouter creates the HTTP router.
func NewRouter(h *Handler) *gin.Engine {
	h.init()

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	api := router.Group("/api")
	{
		api.POST("/auth/login", middleware.RateLimit(1, 10), h.Login)
		api.GET("/oauth/callback", h.OAuthCallback)
	}

	protected := api.Group("/")
	protected.Use(middleware.Auth(&h.Config.Auth))
	{
		protected.GET("/auth/me", h.Me)
		protected.GET("/oauth/connect", h.OAuthConnect)
		protected.PUT("/credentials", h.PutCredentials)

		protected.GET("/projects", h.ListProjects)
		protected.GET("/projects/:id/sub-jobs", h.ListSubJobs)
		protected.GET("/projects/:id/client", h.ResolveClient)

		protected.POST("/plans", h.SavePlan)
		protected.GET("/plans", h.ListPlans)
		protected.GET("/plans/:id", h.GetPlan)
		protected.POST("/plans/:id/send", h.SendPlan)

		protected.GET("/pending-notes", h.ListPendingNotes)
		protected.DELETE("/pending-notes/:id", h.CancelPendingNote)
		protected.POST("/pending-notes/process", h.ProcessPendingNotes)
		protected.GET("/scheduler/runs", h.ListSchedulerRuns)
	}

	return router
}
