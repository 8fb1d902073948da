package events

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Infix8/qrflow-backend/internal/middleware"
	"github.com/Infix8/qrflow-backend/internal/models"
	"github.com/Infix8/qrflow-backend/pkg/response"
)

// ContextEvent is the context key for the event loaded by RequireEventAccess.
const ContextEvent = "event"

// Finder loads an event by id.
type Finder interface {
	GetByID(ctx context.Context, id int64) (*models.Event, error)
}

// RequireEventAccess loads the :id event and rejects operators outside its club.
// Call after JWT.
func RequireEventAccess(repo Finder) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			response.BadRequest(c, "invalid event id")
			c.Abort()
			return
		}
		e, err := repo.GetByID(c.Request.Context(), id)
		if errors.Is(err, models.ErrNotFound) {
			response.NotFound(c, "event not found")
			c.Abort()
			return
		}
		if err != nil {
			response.Internal(c, "failed to load event")
			c.Abort()
			return
		}
		actor, ok := middleware.ActorFrom(c)
		if !ok {
			response.Unauthorized(c, "missing operator context")
			c.Abort()
			return
		}
		if !actor.CanAccess(e) {
			response.Forbidden(c, "not authorized for this event")
			c.Abort()
			return
		}
		c.Set(ContextEvent, e)
		c.Next()
	}
}

// FromContext returns the event stored by RequireEventAccess.
func FromContext(c *gin.Context) *models.Event {
	v, ok := c.Get(ContextEvent)
	if !ok {
		return nil
	}
	e, _ := v.(*models.Event)
	return e
}
