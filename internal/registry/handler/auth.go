package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/resolutionconsent/digipin/internal/identity"
	"github.com/resolutionconsent/digipin/internal/users"
)

// userSvc is the interface expected by AuthHandler, satisfied by *users.UserService.
type userSvc interface {
	Signup(ctx context.Context, req users.SignupRequest) (*users.User, error)
	Login(ctx context.Context, emailOrPhone, password string) (*users.User, error)
	VerifyIdentity(ctx context.Context, userID uuid.UUID, documentNumber, dateOfBirth string) (*users.User, error)
	ResetPasswordWithIdentity(ctx context.Context, req users.ResetPasswordRequest) error
	Profile(ctx context.Context, userID uuid.UUID) (*users.Profile, error)
}

// AuthHandler handles account and session routes.
type AuthHandler struct {
	base
	users  userSvc
	tokens *identity.UserTokenIssuer
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(userSvc userSvc, tokens *identity.UserTokenIssuer, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{base: base{logger: logger}, users: userSvc, tokens: tokens}
}

// Register mounts all auth routes on the provided router group.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	auth := rg.Group("/auth")
	{
		auth.POST("/signup", h.Signup)
		auth.POST("/login", h.Login)
		auth.POST("/reset-password", h.ResetPassword)
		auth.POST("/verify-identity", identity.RequireUserToken(h.tokens), h.VerifyIdentity)
		auth.GET("/me", identity.RequireUserToken(h.tokens), h.Me)
	}
}

type loginRequest struct {
	EmailOrPhone string `json:"email_or_phone" binding:"required"`
	Password     string `json:"password"       binding:"required"`
}

type verifyIdentityRequest struct {
	DocumentNumber string `json:"document_number" binding:"required"`
	DateOfBirth    string `json:"date_of_birth"   binding:"required"`
}

// tokenResponse is returned by signup and login.
type tokenResponse struct {
	Token     string      `json:"token"`
	TokenType string      `json:"token_type"`
	ExpiresIn int         `json:"expires_in"`
	User      *users.User `json:"user"`
}

func (h *AuthHandler) issue(c *gin.Context, status int, u *users.User) {
	tok, err := h.tokens.Issue(u.ID, u.Username)
	if err != nil {
		h.logger.Error("issue user token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	c.JSON(status, tokenResponse{
		Token:     tok,
		TokenType: "Bearer",
		ExpiresIn: int(h.tokens.TTL().Seconds()),
		User:      u,
	})
}

// Signup handles POST /auth/signup.
func (h *AuthHandler) Signup(c *gin.Context) {
	var req users.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u, err := h.users.Signup(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, "signup", err, nil)
		return
	}
	h.issue(c, http.StatusCreated, u)
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u, err := h.users.Login(c.Request.Context(), req.EmailOrPhone, req.Password)
	if err != nil {
		h.writeError(c, "login", err, nil)
		return
	}
	h.issue(c, http.StatusOK, u)
}

// VerifyIdentity handles POST /auth/verify-identity for the authenticated user.
func (h *AuthHandler) VerifyIdentity(c *gin.Context) {
	var req verifyIdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u, err := h.users.VerifyIdentity(c.Request.Context(), identity.UserIDFromCtx(c), req.DocumentNumber, req.DateOfBirth)
	if err != nil {
		h.writeError(c, "verify identity", err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"identity_verified": u.IdentityVerified,
		"masked_document":   u.MaskedDocument,
	})
}

// ResetPassword handles POST /auth/reset-password. The caller proves
// ownership with the identity document the account was verified with.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req users.ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.users.ResetPasswordWithIdentity(c.Request.Context(), req); err != nil {
		h.writeError(c, "reset password", err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password updated"})
}

// Me handles GET /auth/me.
func (h *AuthHandler) Me(c *gin.Context) {
	p, err := h.users.Profile(c.Request.Context(), identity.UserIDFromCtx(c))
	if err != nil {
		h.writeError(c, "get profile", err, nil)
		return
	}
	c.JSON(http.StatusOK, p)
}
