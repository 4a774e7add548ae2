package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tripnest/booking-payments/internal/api/dto"
	apperrors "github.com/tripnest/booking-payments/pkg/errors"
	"github.com/tripnest/booking-payments/pkg/logger"
)

// CreateBooking handles POST /v1/bookings
func (h *Handlers) CreateBooking(c *gin.Context) {
	a, ok := h.currentActor(c)
	if !ok {
		return
	}

	var req dto.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	h.logger.Info("Creating booking",
		logger.String("actor_id", a.ID.String()),
		logger.String("role", string(a.Role)),
		logger.String("tour_package_id", req.TourPackageID),
		logger.Int("travelers", len(req.Travelers)),
	)

	checkout, err := h.orchestrator.CreateBooking(c.Request.Context(), a, req.ToOrchestrator())
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.NewCheckoutResponse(checkout))
}

// GetBooking handles GET /v1/bookings/:id
func (h *Handlers) GetBooking(c *gin.Context) {
	a, ok := h.currentActor(c)
	if !ok {
		return
	}
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	b, err := h.bookings.Get(ctx, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !b.IsParty(a) {
		// not found rather than forbidden so ids cannot be probed
		h.respondError(c, apperrors.ErrBookingNotFound)
		return
	}

	payments, err := h.bookings.ListPayments(ctx, id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.BookingDetailResponse{Booking: b, Payments: payments})
}

// ResumePayment handles POST /v1/bookings/:id/payment
func (h *Handlers) ResumePayment(c *gin.Context) {
	a, ok := h.currentActor(c)
	if !ok {
		return
	}
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	var req dto.ResumePaymentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.badRequest(c, err)
			return
		}
	}

	checkout, err := h.orchestrator.ResumePayment(c.Request.Context(), a, id, req.Contact.ToGateway())
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewCheckoutResponse(checkout))
}

// CancelBooking handles POST /v1/bookings/:id/cancel
func (h *Handlers) CancelBooking(c *gin.Context) {
	a, ok := h.currentActor(c)
	if !ok {
		return
	}
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	var req dto.CancelBookingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.badRequest(c, err)
			return
		}
	}

	b, refund, err := h.cancellation.RequestCancellation(c.Request.Context(), id, a, req.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.CancellationResponse{Booking: b, Refund: refund})
}

// ListRefunds handles GET /v1/bookings/:id/refunds
func (h *Handlers) ListRefunds(c *gin.Context) {
	a, ok := h.currentActor(c)
	if !ok {
		return
	}
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	refunds, err := h.cancellation.ListRefunds(c.Request.Context(), id, a)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"refunds": refunds})
}

// ResolveRefund handles POST /v1/refunds/:id/resolve
func (h *Handlers) ResolveRefund(c *gin.Context) {
	a, ok := h.currentActor(c)
	if !ok {
		return
	}
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	var req dto.ResolveRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	b, refund, err := h.cancellation.ResolveRefund(c.Request.Context(), id, a, *req.Approve, req.Note)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.CancellationResponse{Booking: b, Refund: refund})
}
