package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Infix8/qrflow-backend/internal/auth"
	"github.com/Infix8/qrflow-backend/internal/models"
	"github.com/Infix8/qrflow-backend/pkg/response"
)

const (
	// ContextOperatorID is the key for operator ID in gin context.
	ContextOperatorID = auth.ContextOperatorID
	// ContextOperatorRole is the key for operator role in gin context.
	ContextOperatorRole = "operator_role"
	// ContextActor holds the models.Actor for the request.
	ContextActor = "actor"
)

// RevocationChecker reports whether a session id has been logged out.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// JWT returns a middleware that validates the session JWT, rejects revoked
// sessions and sets operator claims in context. revoked may be nil.
func JWT(jwtService *auth.JWTService, revoked RevocationChecker, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := Authenticate(c.Request.Context(), jwtService, revoked, parts[1])
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrTokenRevoked) {
				response.Unauthorized(c, "invalid or expired token")
			} else {
				logger.Error("session check failed", zap.Error(err))
				response.ServiceUnavailable(c, "session check unavailable")
			}
			c.Abort()
			return
		}
		SetClaims(c, claims)
		c.Next()
	}
}

// Authenticate validates a raw session token and checks revocation.
func Authenticate(ctx context.Context, jwtService *auth.JWTService, revoked RevocationChecker, raw string) (*auth.Claims, error) {
	claims, err := jwtService.Validate(raw)
	if err != nil {
		return nil, auth.ErrInvalidToken
	}
	if revoked != nil {
		isRevoked, err := revoked.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, err
		}
		if isRevoked {
			return nil, auth.ErrTokenRevoked
		}
	}
	return claims, nil
}

// SetClaims stores the session claims on the request context.
func SetClaims(c *gin.Context, claims *auth.Claims) {
	c.Set(ContextOperatorID, claims.OperatorID)
	c.Set(ContextOperatorRole, claims.Role)
	c.Set(ContextActor, claims.Actor())
	c.Set(auth.ContextTokenID, claims.ID)
	if claims.ExpiresAt != nil {
		c.Set(auth.ContextTokenExpiry, claims.ExpiresAt.Time)
	}
}

// ActorFrom returns the authenticated operator identity.
func ActorFrom(c *gin.Context) (models.Actor, bool) {
	v, ok := c.Get(ContextActor)
	if !ok {
		return models.Actor{}, false
	}
	actor, ok := v.(models.Actor)
	return actor, ok
}
