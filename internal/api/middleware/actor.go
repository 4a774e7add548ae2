package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tripnest/booking-payments/internal/domain/actor"
)

// Headers set by the upstream authentication layer
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

const actorKey = "actor"

// RequireActor reads the caller identity asserted upstream and rejects
// requests without one.
func RequireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(strings.TrimSpace(c.GetHeader(HeaderActorID)))
		role := actor.Role(strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderActorRole))))
		if err != nil || !role.Valid() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing or invalid actor headers",
				"code":  "UNAUTHORIZED",
			})
			return
		}

		c.Set(actorKey, actor.Actor{ID: id, Role: role})
		c.Next()
	}
}

// ActorFrom returns the actor stored by RequireActor
func ActorFrom(c *gin.Context) (actor.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return actor.Actor{}, false
	}
	a, ok := v.(actor.Actor)
	return a, ok
}
