package deliverylogs

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/Infix8/qrflow-backend/internal/events"
	"github.com/Infix8/qrflow-backend/internal/models"
	"github.com/Infix8/qrflow-backend/pkg/response"
)

// Lister reads delivery logs.
type Lister interface {
	ListByEvent(ctx context.Context, eventID int64) ([]models.DeliveryLog, error)
}

// Handler handles delivery log HTTP endpoints.
type Handler struct {
	repo Lister
}

// NewHandler creates a delivery logs handler.
func NewHandler(repo Lister) *Handler {
	return &Handler{repo: repo}
}

// ListByEvent handles GET /events/:id/deliveries.
// Call after RequireEventAccess so access is already validated.
func (h *Handler) ListByEvent(c *gin.Context) {
	e := events.FromContext(c)
	logs, err := h.repo.ListByEvent(c.Request.Context(), e.ID)
	if err != nil {
		response.Internal(c, "failed to load delivery logs")
		return
	}
	if logs == nil {
		logs = []models.DeliveryLog{}
	}
	response.OK(c, logs)
}
