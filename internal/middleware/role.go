package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/Infix8/qrflow-backend/internal/models"
	"github.com/Infix8/qrflow-backend/pkg/response"
)

// RequireRole admits only operators whose session role is one of roles.
// Club scoping is left to the handlers; this only gates admin-only routes
// such as club setup and manual reconciliation.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	allowed := make(map[models.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		if !ok {
			response.Unauthorized(c, "missing operator context")
			c.Abort()
			return
		}
		if !allowed[actor.Role] {
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}
