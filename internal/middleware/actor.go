// Package middleware holds the gin middleware of the phonedesk API.
package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/goatkit/phonedesk/internal/apierrors"
	"github.com/goatkit/phonedesk/internal/auth"
	"github.com/goatkit/phonedesk/internal/models"
)

const actorKey = "phonedesk.actor"

// TokenParser turns a bearer token into an actor.
type TokenParser interface {
	Parse(token string) (models.Actor, error)
}

// RequireActor authenticates the bearer token and stores the actor on the context.
func RequireActor(parser TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			apierrors.SendError(c, apierrors.CodeUnauthorized)
			c.Abort()
			return
		}
		actor, err := parser.Parse(token)
		if err != nil {
			if errors.Is(err, auth.ErrTokenExpired) {
				apierrors.SendError(c, apierrors.CodeTokenExpired)
			} else {
				apierrors.SendError(c, apierrors.CodeInvalidToken)
			}
			c.Abort()
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

// ActorFrom returns the authenticated actor, if any.
func ActorFrom(c *gin.Context) (models.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return models.Actor{}, false
	}
	actor, ok := v.(models.Actor)
	return actor, ok
}

// SetActor stores an actor on the context.
func SetActor(c *gin.Context, actor models.Actor) {
	c.Set(actorKey, actor)
}

func extractToken(c *gin.Context) string {
	h := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
