// Package clubs manages the clubs that own events and the organizer accounts scoped to them.
package clubs

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Infix8/qrflow-backend/internal/models"
	"github.com/Infix8/qrflow-backend/pkg/database"
	"github.com/Infix8/qrflow-backend/pkg/response"
	"github.com/Infix8/qrflow-backend/pkg/utils"
)

// Store persists clubs.
type Store interface {
	Create(ctx context.Context, club *models.Club) error
	GetByID(ctx context.Context, id int64) (*models.Club, error)
	List(ctx context.Context) ([]models.Club, error)
}

// OperatorStore persists the operators belonging to a club.
type OperatorStore interface {
	Create(ctx context.Context, o *models.Operator, passwordHash string) error
	ListByClub(ctx context.Context, clubID int64) ([]models.Operator, error)
}

// Handler serves admin-only club endpoints.
type Handler struct {
	repo      Store
	operators OperatorStore
	logger    *zap.Logger
}

// NewHandler creates a clubs handler.
func NewHandler(repo Store, operators OperatorStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, operators: operators, logger: logger}
}

// CreateClubRequest is the body for POST /clubs.
type CreateClubRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// CreateOperatorRequest is the body for POST /clubs/:id/operators.
type CreateOperatorRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	FullName string `json:"full_name"`
}

// List handles GET /clubs.
func (h *Handler) List(c *gin.Context) {
	list, err := h.repo.List(c.Request.Context())
	if err != nil {
		h.logger.Error("list clubs", zap.Error(err))
		response.Internal(c, "failed to list clubs")
		return
	}
	if list == nil {
		list = []models.Club{}
	}
	response.OK(c, list)
}

// Create handles POST /clubs.
func (h *Handler) Create(c *gin.Context) {
	var body CreateClubRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "name required")
		return
	}
	body.Name = strings.TrimSpace(body.Name)
	if body.Name == "" || len(body.Name) > 255 {
		response.BadRequest(c, "name must be 1-255 characters")
		return
	}
	club := &models.Club{Name: body.Name, Description: strings.TrimSpace(body.Description)}
	if err := h.repo.Create(c.Request.Context(), club); err != nil {
		if database.IsUniqueViolation(err) {
			response.Conflict(c, "a club with this name already exists")
			return
		}
		h.logger.Error("create club", zap.Error(err))
		response.Internal(c, "failed to create club")
		return
	}
	response.Created(c, club)
}

// ListOperators handles GET /clubs/:id/operators.
func (h *Handler) ListOperators(c *gin.Context) {
	club, ok := h.load(c)
	if !ok {
		return
	}
	list, err := h.operators.ListByClub(c.Request.Context(), club.ID)
	if err != nil {
		h.logger.Error("list club operators", zap.Int64("club_id", club.ID), zap.Error(err))
		response.Internal(c, "failed to load operators")
		return
	}
	out := make([]models.OperatorPublic, 0, len(list))
	for i := range list {
		out = append(out, list[i].ToPublic())
	}
	response.OK(c, out)
}

// CreateOperator handles POST /clubs/:id/operators. New operators are organizers of the club.
func (h *Handler) CreateOperator(c *gin.Context) {
	club, ok := h.load(c)
	if !ok {
		return
	}
	var body CreateOperatorRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	hash, err := utils.HashPassword(body.Password)
	if err != nil {
		h.logger.Error("hash password", zap.Error(err))
		response.Internal(c, "failed to create operator")
		return
	}
	clubID := club.ID
	op := &models.Operator{
		Username: strings.TrimSpace(body.Username),
		Email:    strings.ToLower(strings.TrimSpace(body.Email)),
		FullName: strings.TrimSpace(body.FullName),
		Role:     models.RoleOrganizer,
		ClubID:   &clubID,
	}
	if err := h.operators.Create(c.Request.Context(), op, hash); err != nil {
		if database.IsUniqueViolation(err) {
			response.Conflict(c, "username or email already taken")
			return
		}
		h.logger.Error("create operator", zap.Int64("club_id", club.ID), zap.Error(err))
		response.Internal(c, "failed to create operator")
		return
	}
	response.Created(c, op.ToPublic())
}

func (h *Handler) load(c *gin.Context) (*models.Club, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "invalid club id")
		return nil, false
	}
	club, err := h.repo.GetByID(c.Request.Context(), id)
	if errors.Is(err, models.ErrNotFound) {
		response.NotFound(c, "club not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("load club", zap.Int64("club_id", id), zap.Error(err))
		response.Internal(c, "failed to load club")
		return nil, false
	}
	return club, true
}
