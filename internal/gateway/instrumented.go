package gateway

import (
	"context"
	"net/http"
	"time"

	apperrors "github.com/tripnest/booking-payments/pkg/errors"
	"github.com/tripnest/booking-payments/pkg/logger"
)

// Recorder receives gateway call metrics
type Recorder interface {
	RecordGatewayError(operation, code string)
	RecordGatewayLatency(operation string, d time.Duration)
}

// Instrumented wraps a Client with latency and error reporting
type Instrumented struct {
	next    Client
	metrics Recorder
	logger  *logger.Logger
}

// NewInstrumented wraps next
func NewInstrumented(next Client, metrics Recorder, log *logger.Logger) *Instrumented {
	return &Instrumented{next: next, metrics: metrics, logger: log.With(logger.String("gateway", next.Name()))}
}

func (i *Instrumented) Name() string { return i.next.Name() }

func (i *Instrumented) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	start := time.Now()
	order, err := i.next.CreateOrder(ctx, req)
	i.observe("create_order", req.OrderID, start, err)
	return order, err
}

func (i *Instrumented) FetchOrderStatus(ctx context.Context, orderID string) (*OrderState, error) {
	start := time.Now()
	state, err := i.next.FetchOrderStatus(ctx, orderID)
	i.observe("fetch_order", orderID, start, err)
	return state, err
}

func (i *Instrumented) FetchPayments(ctx context.Context, orderID string) ([]PaymentEvent, error) {
	start := time.Now()
	events, err := i.next.FetchPayments(ctx, orderID)
	i.observe("fetch_payments", orderID, start, err)
	return events, err
}

func (i *Instrumented) ParseWebhook(body []byte, headers http.Header) (*WebhookEvent, error) {
	event, err := i.next.ParseWebhook(body, headers)
	if err != nil {
		i.metrics.RecordGatewayError("parse_webhook", apperrors.GetAppError(err).Code)
	}
	return event, err
}

func (i *Instrumented) observe(op, orderID string, start time.Time, err error) {
	elapsed := time.Since(start)
	i.metrics.RecordGatewayLatency(op, elapsed)
	if err == nil {
		i.logger.Debug("Gateway call succeeded",
			logger.String("operation", op),
			logger.String("order_id", orderID),
			logger.Duration("elapsed", elapsed),
		)
		return
	}

	code := apperrors.GetAppError(err).Code
	i.metrics.RecordGatewayError(op, code)
	i.logger.Warn("Gateway call failed",
		logger.String("operation", op),
		logger.String("order_id", orderID),
		logger.String("code", code),
		logger.Duration("elapsed", elapsed),
		logger.Err(err),
	)
}
