package booking

import (
	"time"

	"github.com/google/uuid"
	"github.com/tripnest/booking-payments/internal/domain/payment"
	"github.com/tripnest/booking-payments/internal/domain/refund"
	apperrors "github.com/tripnest/booking-payments/pkg/errors"
)

// OutcomeKind is the verdict of a gateway payment
type OutcomeKind string

const (
	OutcomeSucceeded OutcomeKind = "SUCCEEDED"
	OutcomeFailed    OutcomeKind = "FAILED"
)

// Outcome is a terminal payment result to apply to a booking
type Outcome struct {
	Kind             OutcomeKind
	PaymentStatus    PaymentStatus
	GatewayOrderID   string
	GatewayPaymentID string
	Amount           float64
	Currency         string
	Message          string
}

// Transition describes what ApplyOutcome changed
type Transition string

const (
	TransitionNone        Transition = "NONE"
	TransitionConfirmed   Transition = "CONFIRMED"
	TransitionFailed      Transition = "FAILED"
	TransitionLateCapture Transition = "LATE_CAPTURE"
)

// Changed reports whether the booking row was modified
func (t Transition) Changed() bool {
	return t != TransitionNone
}

// Result is returned by Repository.ApplyTerminalOutcome
type Result struct {
	Booking    *Booking
	Transition Transition
	Payment    *payment.Payment
}

// CancellationRequest carries who cancels and why
type CancellationRequest struct {
	Reason      string
	RequestedBy uuid.UUID
}

// Enter moves a DRAFT booking into its initial pending state
func (b *Booking) Enter(now time.Time) error {
	if b.Status != StatusDraft {
		return apperrors.InvalidState("booking is not a draft", nil)
	}
	b.Status = InitialStatus(b.PaymentMode, b.Channel)
	b.PaymentStatus = PaymentNotAttempted
	b.UpdatedAt = now
	return nil
}

// AttachOrder records the gateway order created for the amount due
func (b *Booking) AttachOrder(orderID, sessionID string, now time.Time) error {
	if orderID == "" {
		return apperrors.InvalidInput("order id is required", nil)
	}
	if !b.Status.IsAwaitingPayment() {
		return apperrors.InvalidState("cannot attach an order to a "+string(b.Status)+" booking", nil)
	}
	b.GatewayOrderID = orderID
	b.PaymentSessionID = sessionID
	b.PaymentStatus = PaymentPending
	b.UpdatedAt = now
	return nil
}

// ApplyOutcome applies a gateway verdict. It is idempotent: repeating an
// outcome that is already reflected returns TransitionNone and no ledger row.
func (b *Booking) ApplyOutcome(o Outcome, now time.Time) (Transition, *payment.Payment, error) {
	switch o.Kind {
	case OutcomeSucceeded:
		return b.applySuccess(o, now)
	case OutcomeFailed:
		return b.applyFailure(o, now)
	}
	return TransitionNone, nil, apperrors.InvalidInput("unknown outcome kind "+string(o.Kind), nil)
}

func (b *Booking) applySuccess(o Outcome, now time.Time) (Transition, *payment.Payment, error) {
	switch b.Status {
	case StatusConfirmed, StatusCompleted:
		return TransitionNone, nil, nil

	case StatusCancelled:
		// Money arrived after cancellation. Keep the booking cancelled and
		// record the capture so the refund covers it.
		if o.GatewayPaymentID == "" || b.TransactionID == o.GatewayPaymentID {
			return TransitionNone, nil, nil
		}
		b.TransactionID = o.GatewayPaymentID
		b.PaymentStatus = PaymentSuccess
		b.UpdatedAt = now
		return TransitionLateCapture, b.ledgerRow(o, payment.StatusSuccess, now), nil
	}

	b.Status = StatusConfirmed
	b.PaymentStatus = PaymentSuccess
	b.TransactionID = o.GatewayPaymentID
	b.FailureReason = ""
	if o.GatewayOrderID != "" {
		b.GatewayOrderID = o.GatewayOrderID
	}
	switch b.PaymentMode {
	case ModeFull:
		b.AgencyApproval = true
	case ModePartial:
		b.PartialAmountPaid = true
	}
	b.UpdatedAt = now

	var row *payment.Payment
	if o.GatewayPaymentID != "" {
		row = b.ledgerRow(o, payment.StatusSuccess, now)
	}
	return TransitionConfirmed, row, nil
}

func (b *Booking) applyFailure(o Outcome, now time.Time) (Transition, *payment.Payment, error) {
	if b.Status.IsTerminal() {
		return TransitionNone, nil, nil
	}

	status := o.PaymentStatus
	if status == "" {
		status = PaymentFailed
	}
	b.Status = StatusFailed
	b.PaymentStatus = status
	b.FailureReason = o.Message
	b.UpdatedAt = now

	var row *payment.Payment
	if o.GatewayPaymentID != "" {
		row = b.ledgerRow(o, payment.Status(status), now)
	}
	return TransitionFailed, row, nil
}

func (b *Booking) ledgerRow(o Outcome, status payment.Status, now time.Time) *payment.Payment {
	amount := o.Amount
	if amount == 0 {
		amount = b.AmountDueNow
	}
	currency := o.Currency
	if currency == "" {
		currency = b.Currency
	}
	orderID := o.GatewayOrderID
	if orderID == "" {
		orderID = b.GatewayOrderID
	}
	return &payment.Payment{
		ID:               uuid.New(),
		BookingID:        b.ID,
		GatewayOrderID:   orderID,
		GatewayPaymentID: o.GatewayPaymentID,
		Amount:           amount,
		Currency:         currency,
		Status:           status,
		PaymentType:      string(b.PaymentMode),
		Message:          o.Message,
		CreatedAt:        now,
	}
}

// RequestCancellation cancels the booking and raises its refund request
func (b *Booking) RequestCancellation(req CancellationRequest, now time.Time) (*refund.Request, error) {
	if b.RefundRequested {
		return nil, apperrors.DuplicateRequest("a refund has already been requested for this booking", nil)
	}
	if !b.Status.IsCancellable() {
		return nil, apperrors.InvalidState("cannot cancel a "+string(b.Status)+" booking", nil)
	}

	b.RefundRequested = true
	b.RefundStatus = refund.StatusPending
	b.Status = StatusCancelled
	b.UpdatedAt = now

	return &refund.Request{
		ID:          uuid.New(),
		BookingID:   b.ID,
		Amount:      b.RefundAmount(),
		Reason:      req.Reason,
		Status:      refund.StatusPending,
		RequestedBy: req.RequestedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// MirrorRefund copies a resolved refund status onto the booking
func (b *Booking) MirrorRefund(r *refund.Request, now time.Time) {
	b.RefundStatus = r.Status
	b.UpdatedAt = now
}
