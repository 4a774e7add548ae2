package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tripnest/booking-payments/internal/domain/payment"
	"github.com/tripnest/booking-payments/internal/domain/refund"
)

// Repository defines booking persistence. Every method that changes more than
// one field runs in a single storage transaction, and writes to one booking
// are serialized through its version.
type Repository interface {
	// CreateDraft persists a new booking together with its travelers
	CreateDraft(ctx context.Context, b *Booking) error

	// AttachOrder stores the gateway order id and session for a pending booking
	AttachOrder(ctx context.Context, bookingID uuid.UUID, orderID, sessionID string) (*Booking, error)

	// ApplyTerminalOutcome applies a gateway verdict idempotently and appends
	// the matching ledger row in the same transaction
	ApplyTerminalOutcome(ctx context.Context, bookingID uuid.UUID, outcome Outcome) (*Result, error)

	// RequestCancellation cancels the booking and creates its refund request
	RequestCancellation(ctx context.Context, bookingID uuid.UUID, req CancellationRequest) (*Booking, *refund.Request, error)

	// ResolveRefund approves or rejects a refund and mirrors it on the booking
	ResolveRefund(ctx context.Context, refundID uuid.UUID, approve bool, resolvedBy uuid.UUID, note string) (*Booking, *refund.Request, error)

	// Get retrieves a booking by ID
	Get(ctx context.Context, id uuid.UUID) (*Booking, error)

	// GetByOrderID retrieves the booking currently holding a gateway order id
	GetByOrderID(ctx context.Context, orderID string) (*Booking, error)

	// GetRefundRequest retrieves a refund request by ID
	GetRefundRequest(ctx context.Context, id uuid.UUID) (*refund.Request, error)

	// ListPayments returns the ledger rows of a booking, oldest first
	ListPayments(ctx context.Context, bookingID uuid.UUID) ([]*payment.Payment, error)

	// ListRefundRequests returns the refund requests of a booking, oldest first
	ListRefundRequests(ctx context.Context, bookingID uuid.UUID) ([]*refund.Request, error)

	// ListStalePending returns pending bookings with an order attached that
	// have not changed since before olderThan
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*Booking, error)
}
