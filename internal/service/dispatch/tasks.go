package dispatch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/tripnest/booking-payments/internal/domain/actor"
)

// Task types handled by the worker
const (
	TypeGenerateInvoice = "booking:invoice"
	TypeNotify          = "booking:notify"
	TypeReconcileOrder  = "payment:reconcile"
	TypeSweep           = "payment:sweep"
)

// Queue names, highest priority first
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// Notification events
const (
	EventBookingConfirmed      = "booking.confirmed"
	EventBookingFailed         = "booking.failed"
	EventCancellationRequested = "booking.cancellation_requested"
	EventRefundResolved        = "refund.resolved"
	EventLateCapture           = "payment.late_capture"
)

type InvoicePayload struct {
	BookingID uuid.UUID `json:"booking_id"`
}

// Recipient is a user who should hear about a booking event
type Recipient struct {
	UserID uuid.UUID  `json:"user_id"`
	Role   actor.Role `json:"role"`
}

// Notification is the body of a notify task and of the websocket message
// pushed to each recipient.
type Notification struct {
	Event      string      `json:"event"`
	BookingID  uuid.UUID   `json:"booking_id"`
	Recipients []Recipient `json:"recipients"`
	Title      string      `json:"title"`
	Body       string      `json:"body"`
	Status     string      `json:"status"`
}

type ReconcilePayload struct {
	OrderID   string    `json:"order_id"`
	BookingID uuid.UUID `json:"booking_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	ParkedAt  time.Time `json:"parked_at"`
}

// NewInvoiceTask builds an invoice task. The task id is derived from the
// booking so a booking is invoiced once even if confirmation is replayed.
func NewInvoiceTask(p InvoicePayload, maxRetry int) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypeGenerateInvoice, b)
	opts := []asynq.Option{
		asynq.TaskID("invoice:" + p.BookingID.String()),
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(maxRetry),
	}
	return task, opts, nil
}

func NewNotifyTask(n Notification, maxRetry int) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(n)
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypeNotify, b)
	opts := []asynq.Option{
		asynq.Queue(QueueLow),
		asynq.MaxRetry(maxRetry),
	}
	return task, opts, nil
}

// NewReconcileTask parks an order for a later reconciliation attempt. Parks
// of the same order within one delay window share a task id; a later window
// gets a fresh id so an archived task never blocks a new park.
func NewReconcileTask(p ReconcilePayload, delay time.Duration, maxRetry int) (*asynq.Task, []asynq.Option, error) {
	if p.OrderID == "" {
		return nil, nil, fmt.Errorf("order id is required")
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypeReconcileOrder, b)
	opts := []asynq.Option{
		asynq.TaskID(reconcileTaskID(p, delay)),
		asynq.Queue(QueueCritical),
		asynq.ProcessIn(delay),
		asynq.MaxRetry(maxRetry),
	}
	return task, opts, nil
}

func reconcileTaskID(p ReconcilePayload, delay time.Duration) string {
	window := max(delay, time.Minute)
	return fmt.Sprintf("reconcile:%s:%d", p.OrderID, p.ParkedAt.Truncate(window).Unix())
}

// SweepPayload bounds one scheduled sweep run
type SweepPayload struct {
	OlderThan time.Duration `json:"older_than"`
	Limit     int           `json:"limit"`
}

// NewSweepTask builds the periodic sweep task. Runs never overlap and are
// not retried; the next tick picks up whatever was missed.
func NewSweepTask(p SweepPayload, interval time.Duration) (*asynq.Task, []asynq.Option, error) {
	if p.OlderThan <= 0 || p.Limit <= 0 {
		return nil, nil, fmt.Errorf("sweep needs a positive age and limit")
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypeSweep, b)
	opts := []asynq.Option{
		asynq.Queue(QueueLow),
		asynq.MaxRetry(0),
		asynq.Unique(interval),
		asynq.Timeout(interval),
	}
	return task, opts, nil
}
