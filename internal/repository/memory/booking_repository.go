package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tripnest/booking-payments/internal/domain/booking"
	"github.com/tripnest/booking-payments/internal/domain/payment"
	"github.com/tripnest/booking-payments/internal/domain/refund"
	apperrors "github.com/tripnest/booking-payments/pkg/errors"
)

// BookingRepository keeps bookings in process memory. Each method runs under
// one lock, which stands in for a storage transaction.
type BookingRepository struct {
	mu          sync.Mutex
	bookings    map[uuid.UUID]*booking.Booking
	byOrder     map[string]uuid.UUID
	payments    map[uuid.UUID][]*payment.Payment
	paymentKeys map[string]bool
	refunds     map[uuid.UUID]*refund.Request
	refundOrder []uuid.UUID
	now         func() time.Time
}

// NewBookingRepository creates an empty repository
func NewBookingRepository() *BookingRepository {
	return &BookingRepository{
		bookings:    make(map[uuid.UUID]*booking.Booking),
		byOrder:     make(map[string]uuid.UUID),
		payments:    make(map[uuid.UUID][]*payment.Payment),
		paymentKeys: make(map[string]bool),
		refunds:     make(map[uuid.UUID]*refund.Request),
		now:         time.Now,
	}
}

// SetClock overrides the time source
func (r *BookingRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func (r *BookingRepository) CreateDraft(ctx context.Context, b *booking.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.bookings[b.ID]; ok {
		return apperrors.DuplicateRequest("booking already exists", nil)
	}
	now := r.now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	b.Version = 1
	for i := range b.Travelers {
		if b.Travelers[i].ID == uuid.Nil {
			b.Travelers[i].ID = uuid.New()
		}
		b.Travelers[i].BookingID = b.ID
	}
	r.bookings[b.ID] = b.Clone()
	if b.GatewayOrderID != "" {
		r.byOrder[b.GatewayOrderID] = b.ID
	}
	return nil
}

func (r *BookingRepository) AttachOrder(ctx context.Context, bookingID uuid.UUID, orderID, sessionID string) (*booking.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.bookings[bookingID]
	if !ok {
		return nil, apperrors.ErrBookingNotFound
	}
	next := stored.Clone()
	previous := next.GatewayOrderID
	if err := next.AttachOrder(orderID, sessionID, r.now()); err != nil {
		return nil, err
	}
	r.save(next)
	if previous != "" && previous != orderID {
		delete(r.byOrder, previous)
	}
	r.byOrder[orderID] = bookingID
	return next.Clone(), nil
}

func (r *BookingRepository) ApplyTerminalOutcome(ctx context.Context, bookingID uuid.UUID, outcome booking.Outcome) (*booking.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.bookings[bookingID]
	if !ok {
		return nil, apperrors.ErrBookingNotFound
	}
	next := stored.Clone()
	transition, row, err := next.ApplyOutcome(outcome, r.now())
	if err != nil {
		return nil, err
	}
	if !transition.Changed() {
		return &booking.Result{Booking: stored.Clone(), Transition: booking.TransitionNone}, nil
	}
	if row != nil && r.paymentKeys[row.Key()] {
		// ledger already holds this attempt
		row = nil
	}

	r.save(next)
	if row != nil {
		r.paymentKeys[row.Key()] = true
		r.payments[bookingID] = append(r.payments[bookingID], row)
	}
	return &booking.Result{Booking: next.Clone(), Transition: transition, Payment: row}, nil
}

func (r *BookingRepository) RequestCancellation(ctx context.Context, bookingID uuid.UUID, req booking.CancellationRequest) (*booking.Booking, *refund.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.bookings[bookingID]
	if !ok {
		return nil, nil, apperrors.ErrBookingNotFound
	}
	next := stored.Clone()
	rr, err := next.RequestCancellation(req, r.now())
	if err != nil {
		return nil, nil, err
	}
	r.save(next)
	r.refunds[rr.ID] = rr
	r.refundOrder = append(r.refundOrder, rr.ID)

	out := *rr
	return next.Clone(), &out, nil
}

func (r *BookingRepository) ResolveRefund(ctx context.Context, refundID uuid.UUID, approve bool, resolvedBy uuid.UUID, note string) (*booking.Booking, *refund.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.refunds[refundID]
	if !ok {
		return nil, nil, apperrors.ErrRefundNotFound
	}
	b, ok := r.bookings[stored.BookingID]
	if !ok {
		return nil, nil, apperrors.ErrBookingNotFound
	}

	now := r.now()
	rr := *stored
	if err := rr.Resolve(approve, resolvedBy, note, now); err != nil {
		return nil, nil, err
	}
	next := b.Clone()
	next.MirrorRefund(&rr, now)

	r.save(next)
	r.refunds[refundID] = &rr

	out := rr
	return next.Clone(), &out, nil
}

func (r *BookingRepository) Get(ctx context.Context, id uuid.UUID) (*booking.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[id]
	if !ok {
		return nil, apperrors.ErrBookingNotFound
	}
	return b.Clone(), nil
}

func (r *BookingRepository) GetByOrderID(ctx context.Context, orderID string) (*booking.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byOrder[orderID]
	if !ok {
		return nil, apperrors.ErrBookingNotFound
	}
	return r.bookings[id].Clone(), nil
}

func (r *BookingRepository) GetRefundRequest(ctx context.Context, id uuid.UUID) (*refund.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rr, ok := r.refunds[id]
	if !ok {
		return nil, apperrors.ErrRefundNotFound
	}
	out := *rr
	return &out, nil
}

func (r *BookingRepository) ListPayments(ctx context.Context, bookingID uuid.UUID) ([]*payment.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows := r.payments[bookingID]
	out := make([]*payment.Payment, 0, len(rows))
	for _, p := range rows {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (r *BookingRepository) ListRefundRequests(ctx context.Context, bookingID uuid.UUID) ([]*refund.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*refund.Request
	for _, id := range r.refundOrder {
		if rr := r.refunds[id]; rr.BookingID == bookingID {
			cp := *rr
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *BookingRepository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*booking.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*booking.Booking
	for _, b := range r.bookings {
		if b.Status.IsAwaitingPayment() && b.GatewayOrderID != "" && b.UpdatedAt.Before(olderThan) {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// save stores next and bumps its version. Callers hold the lock.
func (r *BookingRepository) save(next *booking.Booking) {
	next.Version++
	r.bookings[next.ID] = next.Clone()
}

var _ booking.Repository = (*BookingRepository)(nil)
