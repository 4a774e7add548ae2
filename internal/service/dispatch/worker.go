package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/tripnest/booking-payments/internal/domain/booking"
	apperrors "github.com/tripnest/booking-payments/pkg/errors"
	"github.com/tripnest/booking-payments/pkg/logger"
)

// BookingReader loads bookings for task handlers
type BookingReader interface {
	Get(ctx context.Context, id uuid.UUID) (*booking.Booking, error)
}

// ReconcileFunc re-reads the gateway for a parked order
type ReconcileFunc func(ctx context.Context, orderID string) error

// SweepFunc reconciles pending bookings untouched for olderThan
type SweepFunc func(ctx context.Context, olderThan time.Duration, limit int) error

type WorkerConfig struct {
	Concurrency int
}

// Handlers groups the collaborators a worker calls into
type Handlers struct {
	Bookings  BookingReader
	Invoices  InvoiceGenerator
	Notifier  Notifier
	Reconcile ReconcileFunc
	// Sweep is optional; scheduled sweeps are only handled when set
	Sweep SweepFunc
}

// Worker consumes booking side-effect tasks
type Worker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	handlers Handlers
	logger   *logger.Logger
}

// NewWorker builds a worker on the given redis connection. Call Start to
// begin processing.
func NewWorker(redis asynq.RedisConnOpt, cfg WorkerConfig, h Handlers, log *logger.Logger) *Worker {
	log = log.Named("worker")
	w := &Worker{handlers: h, logger: log}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	w.server = asynq.NewServer(redis, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			QueueCritical: 6,
			QueueDefault:  3,
			QueueLow:      1,
		},
		Logger: NewAsynqLogger(log),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			log.Warn("Task failed",
				logger.String("type", task.Type()),
				logger.Int("retry", retried),
				logger.Int("max_retry", maxRetry),
				logger.Err(err),
			)
		}),
	})
	w.mux = w.routes()
	return w
}

// Start begins processing in background goroutines
func (w *Worker) Start() error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	w.logger.Info("Worker started")
	return nil
}

// Shutdown waits for in-flight tasks and stops the worker
func (w *Worker) Shutdown() {
	w.server.Shutdown()
	w.logger.Info("Worker stopped")
}

// Handler exposes the task router, mainly for tests
func (w *Worker) Handler() asynq.Handler {
	return w.mux
}

func (w *Worker) routes() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeGenerateInvoice, w.handleInvoice)
	mux.HandleFunc(TypeNotify, w.handleNotify)
	mux.HandleFunc(TypeReconcileOrder, w.handleReconcile)
	if w.handlers.Sweep != nil {
		mux.HandleFunc(TypeSweep, w.handleSweep)
	}
	return mux
}

func (w *Worker) handleInvoice(ctx context.Context, task *asynq.Task) error {
	var p InvoicePayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("invalid invoice payload: %v: %w", err, asynq.SkipRetry)
	}

	b, err := w.handlers.Bookings.Get(ctx, p.BookingID)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return fmt.Errorf("booking %s: %v: %w", p.BookingID, err, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}
	if b.Status != booking.StatusConfirmed {
		w.logger.Info("Skipping invoice for unconfirmed booking",
			logger.String("booking_id", b.ID.String()),
			logger.String("status", string(b.Status)),
		)
		return nil
	}

	_, err = w.handlers.Invoices.GenerateInvoice(ctx, b)
	return err
}

func (w *Worker) handleNotify(ctx context.Context, task *asynq.Task) error {
	var n Notification
	if err := json.Unmarshal(task.Payload(), &n); err != nil {
		return fmt.Errorf("invalid notification payload: %v: %w", err, asynq.SkipRetry)
	}
	return w.handlers.Notifier.Notify(ctx, n)
}

func (w *Worker) handleReconcile(ctx context.Context, task *asynq.Task) error {
	var p ReconcilePayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("invalid reconcile payload: %v: %w", err, asynq.SkipRetry)
	}

	err := w.handlers.Reconcile(ctx, p.OrderID)
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if apperrors.As(err, &appErr) && !appErr.Retryable() {
		return fmt.Errorf("order %s: %v: %w", p.OrderID, err, asynq.SkipRetry)
	}
	return err
}

func (w *Worker) handleSweep(ctx context.Context, task *asynq.Task) error {
	var p SweepPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("invalid sweep payload: %v: %w", err, asynq.SkipRetry)
	}
	return w.handlers.Sweep(ctx, p.OlderThan, p.Limit)
}
