package cancellation

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/tripnest/booking-payments/internal/domain/actor"
	"github.com/tripnest/booking-payments/internal/domain/booking"
	"github.com/tripnest/booking-payments/internal/domain/refund"
	apperrors "github.com/tripnest/booking-payments/pkg/errors"
	"github.com/tripnest/booking-payments/pkg/logger"
	"github.com/tripnest/booking-payments/pkg/monitoring"
)

// Notifier tells the parties about cancellations and refund decisions
type Notifier interface {
	CancellationRequested(ctx context.Context, b *booking.Booking, rr *refund.Request)
	RefundResolved(ctx context.Context, b *booking.Booking, rr *refund.Request)
}

// Service handles cancellations and the refund requests they raise
type Service struct {
	bookings booking.Repository
	notifier Notifier
	metrics  *monitoring.NewRelicApp
	logger   *logger.Logger
}

// NewService creates a new cancellation service
func NewService(bookings booking.Repository, notifier Notifier, metrics *monitoring.NewRelicApp, log *logger.Logger) *Service {
	return &Service{
		bookings: bookings,
		notifier: notifier,
		metrics:  metrics,
		logger:   log.Named("cancellation"),
	}
}

// RequestCancellation cancels a booking on behalf of its customer, its
// agency or an admin and opens a refund request. The refund covers the
// deposit for partial bookings and the full price otherwise.
func (s *Service) RequestCancellation(ctx context.Context, bookingID uuid.UUID, a actor.Actor, reason string) (*booking.Booking, *refund.Request, error) {
	b, err := s.bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}
	if !b.IsParty(a) {
		return nil, nil, apperrors.Forbidden("actor is not a party to this booking", nil)
	}

	updated, rr, err := s.bookings.RequestCancellation(ctx, bookingID, booking.CancellationRequest{
		Reason:      strings.TrimSpace(reason),
		RequestedBy: a.ID,
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("Booking cancelled",
		logger.String("booking_id", updated.ID.String()),
		logger.String("refund_id", rr.ID.String()),
		logger.Float64("refund_amount", rr.Amount),
		logger.String("requested_by", a.ID.String()),
		logger.String("role", string(a.Role)),
	)
	s.metrics.RecordCancellationRequested(updated.ID.String(), rr.Amount)
	s.notifier.CancellationRequested(ctx, updated, rr)

	return updated, rr, nil
}

// ResolveRefund approves or rejects a pending refund. Only admins may
// resolve refunds.
func (s *Service) ResolveRefund(ctx context.Context, refundID uuid.UUID, a actor.Actor, approve bool, note string) (*booking.Booking, *refund.Request, error) {
	if !a.IsAdmin() {
		return nil, nil, apperrors.Forbidden("only admins can resolve refunds", nil)
	}

	b, rr, err := s.bookings.ResolveRefund(ctx, refundID, approve, a.ID, strings.TrimSpace(note))
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("Refund resolved",
		logger.String("booking_id", b.ID.String()),
		logger.String("refund_id", rr.ID.String()),
		logger.String("status", string(rr.Status)),
	)
	s.notifier.RefundResolved(ctx, b, rr)
	return b, rr, nil
}

// ListRefunds returns the refund requests of a booking visible to a
func (s *Service) ListRefunds(ctx context.Context, bookingID uuid.UUID, a actor.Actor) ([]*refund.Request, error) {
	b, err := s.bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.IsParty(a) {
		return nil, apperrors.Forbidden("actor is not a party to this booking", nil)
	}
	return s.bookings.ListRefundRequests(ctx, bookingID)
}
