package payments

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Infix8/qrflow-backend/internal/events"
	"github.com/Infix8/qrflow-backend/internal/middleware"
	"github.com/Infix8/qrflow-backend/internal/models"
	"github.com/Infix8/qrflow-backend/pkg/response"
)

// Reader is the read side of the payment store.
type Reader interface {
	GetByID(ctx context.Context, id int64) (*models.Payment, error)
	ListByEvent(ctx context.Context, eventID int64) ([]models.Payment, error)
}

// Handler serves payment lookups.
type Handler struct {
	repo   Reader
	events events.Finder
	logger *zap.Logger
}

// NewHandler creates a payments handler.
func NewHandler(repo Reader, eventFinder events.Finder, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, events: eventFinder, logger: logger}
}

// ListByEvent handles GET /events/:id/payments (behind RequireEventAccess).
func (h *Handler) ListByEvent(c *gin.Context) {
	e := events.FromContext(c)
	list, err := h.repo.ListByEvent(c.Request.Context(), e.ID)
	if err != nil {
		h.logger.Error("list payments", zap.Int64("event_id", e.ID), zap.Error(err))
		response.Internal(c, "failed to list payments")
		return
	}
	if list == nil {
		list = []models.Payment{}
	}
	response.OK(c, list)
}

// Get handles GET /payments/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "invalid payment id")
		return
	}
	p, err := h.repo.GetByID(c.Request.Context(), id)
	if errors.Is(err, models.ErrNotFound) {
		response.NotFound(c, "payment not found")
		return
	}
	if err != nil {
		h.logger.Error("get payment", zap.Int64("payment_id", id), zap.Error(err))
		response.Internal(c, "failed to load payment")
		return
	}
	e, err := h.events.GetByID(c.Request.Context(), p.EventID)
	if err != nil {
		h.logger.Error("get payment event", zap.Int64("event_id", p.EventID), zap.Error(err))
		response.Internal(c, "failed to load payment")
		return
	}
	actor, _ := middleware.ActorFrom(c)
	if !actor.CanAccess(e) {
		response.Forbidden(c, "not authorized for this event")
		return
	}
	response.OK(c, p)
}
