package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mklimuk/siteplan/pkg/db"
	"github.com/mklimuk/siteplan/pkg/logger"
	"github.com/mklimuk/siteplan/pkg/middleware"
)

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
}

// Login handles POST /api/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	user := h.Config.FindUser(req.Email)
	if user == nil || user.Password != req.Password {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	token, expiresAt, err := middleware.GenerateToken(user.Email, user.Name, &h.Config.Auth)
	if err != nil {
		internalError(c, "failed to generate token", err)
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt.Format(time.RFC3339),
		Email:     user.Email,
		Name:      user.Name,
	})
}

// Me handles GET /api/auth/me
func (h *Handler) Me(c *gin.Context) {
	email := middleware.GetUserEmail(c)
	cred, err := h.Repo.GetCredential(c.Request.Context(), email)
	if err != nil {
		internalError(c, "failed to load credential", err)
		return
	}

	resp := gin.H{"email": email, "connected": cred != nil}
	if cred != nil {
		resp["credential"] = cred
	}
	c.JSON(http.StatusOK, resp)
}

// OAuthConnect handles GET /api/oauth/connect by redirecting to the
// authorization page with a one-time state bound to the caller.
func (h *Handler) OAuthConnect(c *gin.Context) {
	if h.OAuth == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "oauth is not configured"})
		return
	}
	state := uuid.New().String()
	h.states.Add(state, middleware.GetUserEmail(c))
	c.Redirect(http.StatusFound, h.OAuth.AuthCodeURL(state))
}

// OAuthCallback handles GET /api/oauth/callback
func (h *Handler) OAuthCallback(c *gin.Context) {
	if h.OAuth == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "oauth is not configured"})
		return
	}
	ctx := c.Request.Context()

	if msg := c.Query("error"); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "authorization denied: " + msg})
		return
	}

	state, code := c.Query("state"), c.Query("code")
	email, ok := h.states.Get(state)
	if !ok || code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired state"})
		return
	}
	h.states.Remove(state)

	tok, err := h.OAuth.Exchange(ctx, code)
	if err != nil {
		logger.Warn(ctx, "authorization code exchange failed", "user", email, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to exchange authorization code"})
		return
	}

	cred := &db.Credential{
		UserEmail:    email,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.ExpiresAt,
		CompanyID:    h.Config.Procore.CompanyID,
	}
	if err := h.Repo.UpsertCredential(ctx, cred); err != nil {
		internalError(c, "failed to store credential", err)
		return
	}

	logger.Info(ctx, "account connected", "user", email, "expires_at", tok.ExpiresAt)
	c.JSON(http.StatusOK, gin.H{"status": "connected", "email": email})
}

type credentialRequest struct {
	AccessToken  string    `json:"access_token" binding:"required"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	ExpiresIn    int64     `json:"expires_in"`
	CompanyID    string    `json:"company_id"`
}

// PutCredentials handles PUT /api/credentials for front ends that run the
// authorization flow themselves.
func (h *Handler) PutCredentials(c *gin.Context) {
	var req credentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "access_token is required"})
		return
	}

	expiresAt := req.ExpiresAt
	if expiresAt.IsZero() && req.ExpiresIn > 0 {
		expiresAt = time.Now().Add(time.Duration(req.ExpiresIn) * time.Second)
	}

	email := middleware.GetUserEmail(c)
	cred := &db.Credential{
		UserEmail:    email,
		AccessToken:  strings.TrimSpace(req.AccessToken),
		RefreshToken: strings.TrimSpace(req.RefreshToken),
		ExpiresAt:    expiresAt,
		CompanyID:    req.CompanyID,
	}
	if err := h.Repo.UpsertCredential(c.Request.Context(), cred); err != nil {
		internalError(c, "failed to store credential", err)
		return
	}

	stored, err := h.Repo.GetCredential(c.Request.Context(), email)
	if err != nil {
		internalError(c, "failed to load credential", err)
		return
	}
	c.JSON(http.StatusOK, stored)
}
