package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/throwlytics/backend/internal/models"
	"github.com/throwlytics/backend/pkg/response"
	"github.com/throwlytics/backend/pkg/utils"
)

// SignupRequest is the body for POST /api/auth/signup.
type SignupRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

// LoginRequest is the body for POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse is the auth response with JWT.
type TokenResponse struct {
	Token string            `json:"token"`
	Type  string            `json:"type"`
	User  models.UserPublic `json:"user"`
}

// UserStore is the persistence the handler needs.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, name, email, passwordHash string) (*models.User, error)
}

// Handler handles auth HTTP endpoints.
type Handler struct {
	repo   UserStore
	jwt    *JWTService
	logger *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(repo UserStore, jwt *JWTService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, jwt: jwt, logger: logger}
}

// Signup handles POST /api/auth/signup.
func (h *Handler) Signup(c *gin.Context) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	if _, err := h.repo.GetByEmail(c.Request.Context(), email); err == nil {
		response.BadRequest(c, "email already registered")
		return
	} else if !errors.Is(err, ErrUserNotFound) {
		h.logger.Error("lookup user failed", zap.Error(err))
		response.Internal(c, "failed to create user")
		return
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		response.Internal(c, "failed to hash password")
		return
	}

	user, err := h.repo.Create(c.Request.Context(), strings.TrimSpace(req.Name), email, hash)
	if errors.Is(err, ErrEmailTaken) {
		response.BadRequest(c, "email already registered")
		return
	}
	if err != nil {
		h.logger.Error("create user failed", zap.Error(err))
		response.Internal(c, "failed to create user")
		return
	}

	token, err := h.jwt.Generate(user.ID, user.Email, user.Name, string(user.PlanType))
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}
	h.logger.Info("user signed up", zap.String("user_id", user.ID.String()))
	response.Created(c, TokenResponse{Token: token, Type: "Bearer", User: user.ToPublic()})
}

// Login handles POST /api/auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	user, err := h.repo.GetByEmail(c.Request.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			h.logger.Error("lookup user failed", zap.Error(err))
		}
		response.Unauthorized(c, "invalid email or password")
		return
	}

	if !utils.CheckPassword(req.Password, user.Password) {
		response.Unauthorized(c, "invalid email or password")
		return
	}

	token, err := h.jwt.Generate(user.ID, user.Email, user.Name, string(user.PlanType))
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}

	response.OK(c, TokenResponse{Token: token, Type: "Bearer", User: user.ToPublic()})
}

// Health handles GET /api/auth/health.
func (h *Handler) Health(c *gin.Context) {
	response.OK(c, gin.H{"status": "UP", "service": "auth"})
}
