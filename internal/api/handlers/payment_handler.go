package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tripnest/booking-payments/internal/api/dto"
	apperrors "github.com/tripnest/booking-payments/pkg/errors"
	"github.com/tripnest/booking-payments/pkg/logger"
)

const maxWebhookBody = 1 << 20

// PaymentReturn handles GET /v1/payments/return?booking_id=
func (h *Handlers) PaymentReturn(c *gin.Context) {
	a, ok := h.currentActor(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Query("booking_id"))
	if err != nil {
		h.respondError(c, apperrors.InvalidInput("Invalid booking_id", err))
		return
	}

	ctx := c.Request.Context()
	b, err := h.bookings.Get(ctx, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !b.IsParty(a) {
		h.respondError(c, apperrors.ErrBookingNotFound)
		return
	}

	rec, err := h.reconciler.HandleReturn(ctx, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if rec.Pending {
		c.JSON(http.StatusOK, dto.PendingResponse{
			Status:    "pending",
			Message:   rec.Message,
			BookingID: id,
		})
		return
	}

	c.JSON(http.StatusOK, rec)
}

// PaymentWebhook handles POST /v1/payments/webhook. The gateway always gets
// a 200 so it stops redelivering; failed deliveries are parked internally.
func (h *Handlers) PaymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		h.logger.Warn("Failed to read webhook body", logger.Err(err))
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	ack := h.reconciler.HandleWebhook(c.Request.Context(), body, c.Request.Header)
	if ack.Dropped || ack.Parked {
		h.logger.Info("Webhook acknowledged without processing",
			logger.Bool("dropped", ack.Dropped),
			logger.Bool("parked", ack.Parked),
		)
	}

	c.JSON(http.StatusOK, ack)
}
