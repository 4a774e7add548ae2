package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/tripnest/booking-payments/internal/domain/actor"
	"github.com/tripnest/booking-payments/internal/domain/booking"
	"github.com/tripnest/booking-payments/internal/domain/refund"
	"github.com/tripnest/booking-payments/pkg/logger"
)

// Enqueuer is the part of *asynq.Client the dispatcher uses
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type Config struct {
	MaxRetry  int
	ParkDelay time.Duration
}

// Dispatcher turns committed booking transitions into background tasks.
// Every method except ParkOrder is best effort: failures are logged and
// never reach the caller, whose state change is already durable.
type Dispatcher struct {
	enqueuer Enqueuer
	config   Config
	logger   *logger.Logger
	now      func() time.Time
}

// NewDispatcher creates a dispatcher
func NewDispatcher(enqueuer Enqueuer, cfg Config, log *logger.Logger) *Dispatcher {
	if cfg.ParkDelay <= 0 {
		cfg.ParkDelay = time.Minute
	}
	return &Dispatcher{enqueuer: enqueuer, config: cfg, logger: log.Named("dispatch"), now: time.Now}
}

// BookingConfirmed schedules the invoice and tells both parties
func (d *Dispatcher) BookingConfirmed(ctx context.Context, b *booking.Booking) {
	task, opts, err := NewInvoiceTask(InvoicePayload{BookingID: b.ID}, d.config.MaxRetry)
	if err == nil {
		err = d.enqueue(ctx, task, opts)
	}
	if err != nil {
		d.logger.Error("Failed to schedule invoice",
			logger.String("booking_id", b.ID.String()),
			logger.Err(err),
		)
	}

	d.notify(ctx, Notification{
		Event:      EventBookingConfirmed,
		BookingID:  b.ID,
		Recipients: parties(b),
		Title:      "Booking confirmed",
		Body:       fmt.Sprintf("Payment of %.2f %s received", b.AmountDueNow, b.Currency),
		Status:     string(b.Status),
	})
}

func (d *Dispatcher) BookingFailed(ctx context.Context, b *booking.Booking) {
	body := "Payment was not completed"
	if b.FailureReason != "" {
		body = body + ": " + b.FailureReason
	}
	d.notify(ctx, Notification{
		Event:      EventBookingFailed,
		BookingID:  b.ID,
		Recipients: []Recipient{{UserID: b.CustomerID, Role: actor.RoleCustomer}},
		Title:      "Payment failed",
		Body:       body,
		Status:     string(b.Status),
	})
}

// LateCapture alerts admins that money arrived for a cancelled booking
func (d *Dispatcher) LateCapture(ctx context.Context, b *booking.Booking) {
	d.notify(ctx, Notification{
		Event:      EventLateCapture,
		BookingID:  b.ID,
		Recipients: []Recipient{{UserID: b.CustomerID, Role: actor.RoleCustomer}, {Role: actor.RoleAdmin}},
		Title:      "Payment received after cancellation",
		Body:       fmt.Sprintf("Transaction %s will be covered by the refund", b.TransactionID),
		Status:     string(b.Status),
	})
}

func (d *Dispatcher) CancellationRequested(ctx context.Context, b *booking.Booking, rr *refund.Request) {
	d.notify(ctx, Notification{
		Event:      EventCancellationRequested,
		BookingID:  b.ID,
		Recipients: parties(b),
		Title:      "Booking cancelled",
		Body:       fmt.Sprintf("Refund of %.2f %s requested", rr.Amount, b.Currency),
		Status:     string(b.Status),
	})
}

func (d *Dispatcher) RefundResolved(ctx context.Context, b *booking.Booking, rr *refund.Request) {
	d.notify(ctx, Notification{
		Event:      EventRefundResolved,
		BookingID:  b.ID,
		Recipients: parties(b),
		Title:      "Refund " + string(rr.Status),
		Body:       rr.ResolutionNote,
		Status:     string(rr.Status),
	})
}

// ParkOrder schedules a later reconciliation of orderID. Unlike the
// notification methods it returns its error so the caller can log the lost
// webhook.
func (d *Dispatcher) ParkOrder(ctx context.Context, p ReconcilePayload) error {
	if p.ParkedAt.IsZero() {
		p.ParkedAt = d.now()
	}
	task, opts, err := NewReconcileTask(p, d.config.ParkDelay, d.config.MaxRetry)
	if err != nil {
		return err
	}
	if err := d.enqueue(ctx, task, opts); err != nil {
		return fmt.Errorf("failed to park order %s: %w", p.OrderID, err)
	}
	d.logger.Info("Order parked for reconciliation",
		logger.String("order_id", p.OrderID),
		logger.String("reason", p.Reason),
		logger.Duration("delay", d.config.ParkDelay),
	)
	return nil
}

func (d *Dispatcher) notify(ctx context.Context, n Notification) {
	task, opts, err := NewNotifyTask(n, d.config.MaxRetry)
	if err == nil {
		err = d.enqueue(ctx, task, opts)
	}
	if err != nil {
		d.logger.Error("Failed to schedule notification",
			logger.String("event", n.Event),
			logger.String("booking_id", n.BookingID.String()),
			logger.Err(err),
		)
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, task *asynq.Task, opts []asynq.Option) error {
	info, err := d.enqueuer.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		d.logger.Debug("Task already queued", logger.String("type", task.Type()))
		return nil
	}
	if err != nil {
		return err
	}
	d.logger.Debug("Task enqueued",
		logger.String("type", task.Type()),
		logger.String("task_id", info.ID),
		logger.String("queue", info.Queue),
	)
	return nil
}

func parties(b *booking.Booking) []Recipient {
	return []Recipient{
		{UserID: b.CustomerID, Role: actor.RoleCustomer},
		{UserID: b.AgencyID, Role: actor.RoleAgency},
	}
}
