package events

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Infix8/qrflow-backend/internal/middleware"
	"github.com/Infix8/qrflow-backend/internal/models"
	"github.com/Infix8/qrflow-backend/pkg/response"
)

// Store lists and creates the events visible to an operator.
type Store interface {
	ListForActor(ctx context.Context, actor models.Actor) ([]models.Event, error)
	Create(ctx context.Context, e *models.Event) error
}

// Handler serves event endpoints for gate operators.
type Handler struct {
	repo   Store
	logger *zap.Logger
}

// NewHandler creates an events handler.
func NewHandler(repo Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// CreateRequest is the body for POST /events. Organizers always create in
// their own club; admins must name one.
type CreateRequest struct {
	ClubID      int64     `json:"club_id"`
	Name        string    `json:"name" binding:"required"`
	Description string    `json:"description"`
	Date        time.Time `json:"date" binding:"required"`
	Venue       string    `json:"venue"`
}

// List handles GET /events.
func (h *Handler) List(c *gin.Context) {
	actor, _ := middleware.ActorFrom(c)
	list, err := h.repo.ListForActor(c.Request.Context(), actor)
	if err != nil {
		h.logger.Error("list events", zap.Error(err))
		response.Internal(c, "failed to list events")
		return
	}
	if list == nil {
		list = []models.Event{}
	}
	response.OK(c, list)
}

// Get handles GET /events/:id. RequireEventAccess has already loaded the event.
func (h *Handler) Get(c *gin.Context) {
	response.OK(c, FromContext(c))
}

// Create handles POST /events.
func (h *Handler) Create(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		response.Unauthorized(c, "missing operator context")
		return
	}
	var body CreateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	name := strings.TrimSpace(body.Name)
	if name == "" {
		response.BadRequest(c, "name required")
		return
	}
	clubID := body.ClubID
	if actor.Role != models.RoleAdmin {
		if actor.ClubID == nil {
			response.Forbidden(c, "operator has no club")
			return
		}
		if clubID != 0 && clubID != *actor.ClubID {
			response.Forbidden(c, "not authorized for this club")
			return
		}
		clubID = *actor.ClubID
	}
	if clubID <= 0 {
		response.BadRequest(c, "club_id required")
		return
	}
	creator := actor.OperatorID
	e := &models.Event{
		ClubID:      clubID,
		Name:        name,
		Description: strings.TrimSpace(body.Description),
		Date:        body.Date,
		Venue:       strings.TrimSpace(body.Venue),
		CreatedBy:   &creator,
	}
	if err := h.repo.Create(c.Request.Context(), e); err != nil {
		h.logger.Error("create event", zap.Int64("club_id", clubID), zap.Error(err))
		response.Internal(c, "failed to create event")
		return
	}
	response.Created(c, e)
}
