package analytics

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Infix8/qrflow-backend/internal/events"
	"github.com/Infix8/qrflow-backend/internal/models"
	"github.com/Infix8/qrflow-backend/pkg/response"
)

// AttendeeLister lists an event's attendees.
type AttendeeLister interface {
	ListByEvent(ctx context.Context, eventID int64) ([]models.Attendee, error)
}

// PaymentLister lists an event's payments.
type PaymentLister interface {
	ListByEvent(ctx context.Context, eventID int64) ([]models.Payment, error)
}

// Handler handles GET /events/:id/dashboard.
type Handler struct {
	attendees AttendeeLister
	payments  PaymentLister
	logger    *zap.Logger
}

// NewHandler creates a dashboard handler.
func NewHandler(attendees AttendeeLister, payments PaymentLister, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{attendees: attendees, payments: payments, logger: logger}
}

// GetByEvent handles GET /events/:id/dashboard. Event access is enforced by route middleware.
func (h *Handler) GetByEvent(c *gin.Context) {
	ev := events.FromContext(c)
	ctx := c.Request.Context()

	list, err := h.attendees.ListByEvent(ctx, ev.ID)
	if err != nil {
		h.logger.Error("dashboard: list attendees", zap.Int64("event_id", ev.ID), zap.Error(err))
		response.Internal(c, "failed to load attendees")
		return
	}
	pays, err := h.payments.ListByEvent(ctx, ev.ID)
	if err != nil {
		h.logger.Error("dashboard: list payments", zap.Int64("event_id", ev.ID), zap.Error(err))
		response.Internal(c, "failed to load payments")
		return
	}
	response.OK(c, BuildDashboard(ev, list, pays))
}
