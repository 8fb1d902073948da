package auth

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Infix8/qrflow-backend/internal/models"
	"github.com/Infix8/qrflow-backend/pkg/response"
	"github.com/Infix8/qrflow-backend/pkg/utils"
)

// Context keys written by the JWT middleware and read by Logout.
const (
	ContextTokenID     = "token_id"
	ContextTokenExpiry = "token_expiry"
	ContextOperatorID  = "operator_id"
)

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse is the auth response with JWT.
type TokenResponse struct {
	Token    string                `json:"token"`
	Operator models.OperatorPublic `json:"operator"`
}

// OperatorFinder loads operators for login and /me.
type OperatorFinder interface {
	GetByID(ctx context.Context, id int64) (*models.Operator, error)
	GetByUsername(ctx context.Context, login string) (*models.Operator, error)
}

// Revoker records logged-out sessions.
type Revoker interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
}

// Handler handles auth HTTP endpoints.
type Handler struct {
	repo    OperatorFinder
	jwt     *JWTService
	revoker Revoker
	logger  *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(repo OperatorFinder, jwt *JWTService, revoker Revoker, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, jwt: jwt, revoker: revoker, logger: logger}
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	op, err := h.repo.GetByUsername(c.Request.Context(), req.Username)
	if err != nil || !op.IsActive {
		response.Unauthorized(c, "invalid username or password")
		return
	}
	if !utils.CheckPassword(req.Password, op.Password) {
		response.Unauthorized(c, "invalid username or password")
		return
	}

	token, err := h.jwt.Generate(op)
	if err != nil {
		h.logger.Error("generate token", zap.Error(err))
		response.Internal(c, "failed to generate token")
		return
	}
	response.OK(c, TokenResponse{Token: token, Operator: op.ToPublic()})
}

// Logout handles POST /auth/logout by revoking the presented session.
func (h *Handler) Logout(c *gin.Context) {
	jti := c.GetString(ContextTokenID)
	exp, _ := c.Get(ContextTokenExpiry)
	expiresAt, _ := exp.(time.Time)
	if jti == "" {
		response.Unauthorized(c, "missing session")
		return
	}
	if err := h.revoker.Revoke(c.Request.Context(), jti, expiresAt); err != nil {
		h.logger.Error("revoke session", zap.Error(err))
		response.ServiceUnavailable(c, "could not log out, try again")
		return
	}
	response.OK(c, gin.H{"logged_out": true})
}

// Me handles GET /auth/me.
func (h *Handler) Me(c *gin.Context) {
	id := c.GetInt64(ContextOperatorID)
	op, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.NotFound(c, "operator not found")
		return
	}
	response.OK(c, op.ToPublic())
}
