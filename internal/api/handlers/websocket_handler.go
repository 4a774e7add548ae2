package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tripnest/booking-payments/internal/domain/actor"
	"github.com/tripnest/booking-payments/internal/domain/booking"
	apperrors "github.com/tripnest/booking-payments/pkg/errors"
	"github.com/tripnest/booking-payments/pkg/logger"
	"github.com/tripnest/booking-payments/pkg/websocket"
)

// HandleWebSocket handles GET /v1/ws. Browsers cannot set headers on an
// upgrade, so the actor may also arrive as user_id and role query params.
func (h *Handlers) HandleWebSocket(c *gin.Context) {
	userID := c.Query("user_id")
	role := c.Query("role")
	if a, ok := actorFromHeaders(c); ok {
		userID, role = a.ID.String(), string(a.Role)
	}

	if _, err := uuid.Parse(userID); err != nil || !actor.Role(role).Valid() {
		h.logger.Warn("Rejected WebSocket connection without valid actor")
		h.respondError(c, errMissingActor)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade to WebSocket", logger.Err(err))
		return
	}

	client := websocket.NewClient(h.hub, conn, userID, role, h.logger)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

// BookingSubscriptions lets a websocket client follow only bookings its
// user is a party to
func BookingSubscriptions(bookings booking.Repository) websocket.Authorizer {
	return func(ctx context.Context, userID, role, bookingID string) error {
		uid, err := uuid.Parse(userID)
		if err != nil {
			return err
		}
		id, err := uuid.Parse(bookingID)
		if err != nil {
			return err
		}
		b, err := bookings.Get(ctx, id)
		if err != nil {
			return err
		}
		if !b.IsParty(actor.Actor{ID: uid, Role: actor.Role(role)}) {
			return apperrors.ErrForbidden
		}
		return nil
	}
}
