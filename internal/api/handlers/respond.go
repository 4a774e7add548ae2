package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tripnest/booking-payments/internal/api/dto"
	"github.com/tripnest/booking-payments/internal/api/middleware"
	"github.com/tripnest/booking-payments/internal/domain/actor"
	"github.com/tripnest/booking-payments/internal/service/orchestrator"
	apperrors "github.com/tripnest/booking-payments/pkg/errors"
	"github.com/tripnest/booking-payments/pkg/logger"
)

// respondError writes err as a JSON error. Failures after a booking was
// stored carry its id so the client can resume payment.
func (h *Handlers) respondError(c *gin.Context, err error) {
	appErr := apperrors.GetAppError(err)
	body := dto.ErrorResponse{Error: appErr.Message, Code: appErr.Code}

	var checkoutErr *orchestrator.CheckoutError
	if apperrors.As(err, &checkoutErr) {
		body.BookingID = checkoutErr.BookingID.String()
	}
	if appErr.Retryable() {
		c.Header("Retry-After", "5")
	}

	if appErr.Status >= 500 {
		logger.FromContext(c.Request.Context(), h.logger).Error("Request failed",
			logger.String("path", c.FullPath()),
			logger.String("code", appErr.Code),
			logger.Err(err),
		)
	}
	c.JSON(appErr.Status, body)
}

func (h *Handlers) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{
		Error:   "Invalid request payload",
		Code:    apperrors.CodeInvalidInput,
		Details: err.Error(),
	})
}

// currentActor returns the actor set by middleware.RequireActor
func (h *Handlers) currentActor(c *gin.Context) (actor.Actor, bool) {
	a, ok := middleware.ActorFrom(c)
	if !ok {
		h.respondError(c, errMissingActor)
	}
	return a, ok
}

func (h *Handlers) uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		h.respondError(c, apperrors.InvalidInput("Invalid "+name, err))
		return uuid.Nil, false
	}
	return id, true
}

var errMissingActor = apperrors.Unauthorized("Missing or invalid actor", nil)

// actorFromHeaders parses the actor headers without requiring them
func actorFromHeaders(c *gin.Context) (actor.Actor, bool) {
	id, err := uuid.Parse(c.GetHeader(middleware.HeaderActorID))
	role := actor.Role(c.GetHeader(middleware.HeaderActorRole))
	if err != nil || !role.Valid() {
		return actor.Actor{}, false
	}
	return actor.Actor{ID: id, Role: role}, true
}
