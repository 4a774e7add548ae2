package reconciliation

import (
	"context"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tripnest/booking-payments/internal/domain/booking"
	"github.com/tripnest/booking-payments/internal/gateway"
	"github.com/tripnest/booking-payments/internal/service/dispatch"
	apperrors "github.com/tripnest/booking-payments/pkg/errors"
	"github.com/tripnest/booking-payments/pkg/logger"
	"github.com/tripnest/booking-payments/pkg/monitoring"
)

// PendingMessage is reported while the payment outcome is not known yet
const PendingMessage = "payment status pending, check back"

// Source names what triggered a reconciliation
type Source string

const (
	SourceReturn  Source = "return"
	SourceWebhook Source = "webhook"
	SourceParked  Source = "parked"
	SourceSweep   Source = "sweep"
)

// SideEffects is notified after committed transitions
type SideEffects interface {
	BookingConfirmed(ctx context.Context, b *booking.Booking)
	BookingFailed(ctx context.Context, b *booking.Booking)
	LateCapture(ctx context.Context, b *booking.Booking)
	ParkOrder(ctx context.Context, p dispatch.ReconcilePayload) error
}

// Claimer suppresses duplicate webhook deliveries
type Claimer interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Reconciliation is the state of a booking after it was checked against the
// gateway. Pending is true while the outcome is still unknown.
type Reconciliation struct {
	Booking    *booking.Booking   `json:"booking"`
	Transition booking.Transition `json:"transition"`
	Pending    bool               `json:"pending"`
	Message    string             `json:"message,omitempty"`
}

// Ack is the response to a webhook delivery. Deliveries are always
// acknowledged; the flags only describe what happened.
type Ack struct {
	Received  bool `json:"received"`
	Duplicate bool `json:"-"`
	Dropped   bool `json:"-"`
	Parked    bool `json:"-"`
	// Unsettled means the booking does not reflect the delivery yet, so a
	// redelivery will be processed again
	Unsettled bool `json:"-"`
}

// SweepReport summarizes one sweep run
type SweepReport struct {
	Scanned   int `json:"scanned"`
	Confirmed int `json:"confirmed"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
	Errors    int `json:"errors"`
}

// Engine converges bookings to the outcome the gateway reports, whatever
// order return redirects, webhooks and sweeps arrive in. All writes go
// through Repository.ApplyTerminalOutcome, so replays are harmless.
type Engine struct {
	bookings booking.Repository
	gateway  gateway.Client
	effects  SideEffects
	claims   Claimer
	metrics  *monitoring.NewRelicApp
	logger   *logger.Logger
	now      func() time.Time
}

// NewEngine creates an engine. claims may be nil to disable webhook dedupe.
func NewEngine(
	bookings booking.Repository,
	gw gateway.Client,
	effects SideEffects,
	claims Claimer,
	metrics *monitoring.NewRelicApp,
	log *logger.Logger,
) *Engine {
	return &Engine{
		bookings: bookings,
		gateway:  gw,
		effects:  effects,
		claims:   claims,
		metrics:  metrics,
		logger:   log.Named("reconciliation"),
		now:      time.Now,
	}
}

// HandleReturn reconciles a booking when the customer comes back from the
// checkout page. Gateway errors are reported as pending, not as failures.
func (e *Engine) HandleReturn(ctx context.Context, bookingID uuid.UUID) (*Reconciliation, error) {
	b, err := e.bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	rec, err := e.reconcile(ctx, b, SourceReturn)
	if apperrors.Is(err, apperrors.ErrGatewayUnavailable) || apperrors.Is(err, apperrors.ErrGatewayRejected) {
		e.logger.Warn("Gateway check failed on return, reporting pending",
			logger.String("booking_id", bookingID.String()),
			logger.Err(err),
		)
		return &Reconciliation{Booking: b, Transition: booking.TransitionNone, Pending: true, Message: PendingMessage}, nil
	}
	return rec, err
}

// ReconcileOrder reconciles the booking holding orderID. Errors are
// returned so parked tasks can be retried.
func (e *Engine) ReconcileOrder(ctx context.Context, orderID string) (*Reconciliation, error) {
	b, err := e.bookings.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return e.reconcile(ctx, b, SourceParked)
}

// HandleWebhook verifies and processes a gateway delivery. It never fails:
// malformed or unsigned payloads are dropped, and deliveries that cannot be
// processed now are parked for a later attempt.
func (e *Engine) HandleWebhook(ctx context.Context, body []byte, headers http.Header) Ack {
	event, err := e.gateway.ParseWebhook(body, headers)
	if err != nil || event.OrderID == "" {
		e.logger.Warn("Dropping webhook delivery",
			logger.Int("body_bytes", len(body)),
			logger.Err(err),
		)
		return Ack{Received: true, Dropped: true}
	}

	key := event.DedupeKey()
	if e.claims != nil {
		claimed, err := e.claims.Claim(ctx, key)
		if err != nil {
			// dedupe is an optimization; process anyway
			e.logger.Warn("Webhook claim failed", logger.String("key", key), logger.Err(err))
		} else if !claimed {
			e.logger.Debug("Duplicate webhook delivery", logger.String("key", key))
			return Ack{Received: true, Duplicate: true}
		}
	}

	rec, err := e.processWebhook(ctx, event)
	if err == nil {
		if webhookSettled(event, rec) {
			return Ack{Received: true}
		}
		e.logger.Info("Webhook not reflected by gateway yet, awaiting redelivery",
			logger.String("order_id", event.OrderID),
			logger.String("key", key),
		)
		e.releaseClaim(ctx, key)
		return Ack{Received: true, Unsettled: true}
	}

	e.releaseClaim(ctx, key)
	if perr := e.effects.ParkOrder(ctx, dispatch.ReconcilePayload{OrderID: event.OrderID, Reason: err.Error()}); perr != nil {
		e.logger.Error("Webhook could not be processed or parked",
			logger.String("order_id", event.OrderID),
			logger.Err(err),
			logger.String("park_error", perr.Error()),
		)
		return Ack{Received: true}
	}
	return Ack{Received: true, Parked: true}
}

func (e *Engine) releaseClaim(ctx context.Context, key string) {
	if e.claims == nil {
		return
	}
	if err := e.claims.Release(ctx, key); err != nil {
		e.logger.Warn("Failed to release webhook claim", logger.String("key", key), logger.Err(err))
	}
}

// webhookSettled reports whether the booking now reflects what the delivery
// announced. A success is settled only once the booking records it.
func webhookSettled(event *gateway.WebhookEvent, rec *Reconciliation) bool {
	if rec == nil || rec.Pending {
		return false
	}
	if event.Payment != nil && event.Payment.Status == gateway.PaymentSuccess {
		return rec.Booking.PaymentStatus == booking.PaymentSuccess
	}
	return true
}

func (e *Engine) processWebhook(ctx context.Context, event *gateway.WebhookEvent) (*Reconciliation, error) {
	b, err := e.bookings.GetByOrderID(ctx, event.OrderID)
	if err != nil {
		return nil, err
	}
	e.logger.Info("Webhook received",
		logger.String("booking_id", b.ID.String()),
		logger.String("order_id", event.OrderID),
		logger.String("type", event.Type),
	)
	return e.reconcile(ctx, b, SourceWebhook)
}

// Sweep reconciles pending bookings that have not moved for olderThan
func (e *Engine) Sweep(ctx context.Context, olderThan time.Duration, limit int) (*SweepReport, error) {
	stale, err := e.bookings.ListStalePending(ctx, e.now().Add(-olderThan), limit)
	if err != nil {
		return nil, err
	}

	report := &SweepReport{Scanned: len(stale)}
	for _, b := range stale {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		rec, err := e.reconcile(ctx, b, SourceSweep)
		if err != nil {
			report.Errors++
			e.logger.Warn("Sweep could not reconcile booking",
				logger.String("booking_id", b.ID.String()),
				logger.Err(err),
			)
			continue
		}
		switch {
		case rec.Transition == booking.TransitionConfirmed:
			report.Confirmed++
		case rec.Transition == booking.TransitionFailed:
			report.Failed++
		case rec.Pending:
			report.Pending++
		}
	}

	e.logger.Info("Sweep finished",
		logger.Int("scanned", report.Scanned),
		logger.Int("confirmed", report.Confirmed),
		logger.Int("failed", report.Failed),
		logger.Int("pending", report.Pending),
		logger.Int("errors", report.Errors),
	)
	return report, nil
}

func (e *Engine) reconcile(ctx context.Context, b *booking.Booking, source Source) (*Reconciliation, error) {
	if b.Status == booking.StatusConfirmed || b.Status == booking.StatusCompleted {
		return &Reconciliation{Booking: b, Transition: booking.TransitionNone}, nil
	}
	if b.GatewayOrderID == "" {
		return &Reconciliation{
			Booking:    b,
			Transition: booking.TransitionNone,
			Pending:    b.Status.IsAwaitingPayment(),
			Message:    "no payment has been started for this booking",
		}, nil
	}

	events, err := e.gateway.FetchPayments(ctx, b.GatewayOrderID)
	if err != nil {
		return nil, err
	}

	ev := gateway.SelectAuthoritative(events)
	if ev == nil || !(ev.Status == gateway.PaymentSuccess || ev.Status.IsFailure()) {
		if source == SourceSweep && b.Status.IsAwaitingPayment() {
			return e.expireIfClosed(ctx, b)
		}
		return e.pending(b), nil
	}

	if ev.Status == gateway.PaymentSuccess && ev.Amount > 0 && math.Abs(ev.Amount-b.AmountDueNow) > 0.005 {
		e.logger.Warn("Captured amount differs from amount due",
			logger.String("booking_id", b.ID.String()),
			logger.Float64("captured", ev.Amount),
			logger.Float64("due", b.AmountDueNow),
		)
	}

	return e.apply(ctx, b.ID, outcomeFor(ev, b.GatewayOrderID), source)
}

// expireIfClosed fails a stale booking whose order closed without a payment
func (e *Engine) expireIfClosed(ctx context.Context, b *booking.Booking) (*Reconciliation, error) {
	state, err := e.gateway.FetchOrderStatus(ctx, b.GatewayOrderID)
	if err != nil {
		return nil, err
	}
	if state.Status != gateway.OrderExpired && state.Status != gateway.OrderTerminated {
		return e.pending(b), nil
	}
	return e.apply(ctx, b.ID, booking.Outcome{
		Kind:           booking.OutcomeFailed,
		PaymentStatus:  booking.PaymentUserDropped,
		GatewayOrderID: b.GatewayOrderID,
		Message:        "order " + string(state.Status),
	}, SourceSweep)
}

func (e *Engine) apply(ctx context.Context, bookingID uuid.UUID, outcome booking.Outcome, source Source) (*Reconciliation, error) {
	res, err := e.bookings.ApplyTerminalOutcome(ctx, bookingID, outcome)
	if err != nil {
		return nil, err
	}
	b := res.Booking

	if res.Transition.Changed() {
		e.logger.Info("Booking reconciled",
			logger.String("booking_id", b.ID.String()),
			logger.String("transition", string(res.Transition)),
			logger.String("source", string(source)),
			logger.String("payment_id", outcome.GatewayPaymentID),
		)
		e.metrics.RecordPaymentReconciled(b.ID.String(), string(res.Transition), string(source), outcome.Amount)
	}

	switch res.Transition {
	case booking.TransitionConfirmed:
		e.effects.BookingConfirmed(ctx, b)
	case booking.TransitionFailed:
		e.effects.BookingFailed(ctx, b)
	case booking.TransitionLateCapture:
		e.effects.LateCapture(ctx, b)
	}

	return &Reconciliation{
		Booking:    b,
		Transition: res.Transition,
		Pending:    b.Status.IsAwaitingPayment(),
	}, nil
}

func (e *Engine) pending(b *booking.Booking) *Reconciliation {
	rec := &Reconciliation{
		Booking:    b,
		Transition: booking.TransitionNone,
		Pending:    b.Status.IsAwaitingPayment(),
	}
	if rec.Pending {
		rec.Message = PendingMessage
	}
	return rec
}

func outcomeFor(ev *gateway.PaymentEvent, orderID string) booking.Outcome {
	out := booking.Outcome{
		GatewayOrderID:   orderID,
		GatewayPaymentID: ev.PaymentID,
		Amount:           ev.Amount,
		Currency:         ev.Currency,
		Message:          ev.Message,
	}
	switch ev.Status {
	case gateway.PaymentSuccess:
		out.Kind = booking.OutcomeSucceeded
		out.PaymentStatus = booking.PaymentSuccess
	case gateway.PaymentUserDropped:
		out.Kind = booking.OutcomeFailed
		out.PaymentStatus = booking.PaymentUserDropped
	default:
		out.Kind = booking.OutcomeFailed
		out.PaymentStatus = booking.PaymentFailed
	}
	return out
}
