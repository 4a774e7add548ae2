// Package gatewaytest provides an in-memory gateway.Client for tests.
package gatewaytest

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/tripnest/booking-payments/internal/gateway"
	apperrors "github.com/tripnest/booking-payments/pkg/errors"
)

// SignatureHeader must be "valid" for ParseWebhook to accept a body
const SignatureHeader = "X-Test-Signature"

// WebhookBody is the payload format ParseWebhook understands
type WebhookBody struct {
	Type      string `json:"type"`
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id,omitempty"`
	Status    string `json:"status,omitempty"`
}

// Fake records created orders and serves scripted payments
type Fake struct {
	mu       sync.Mutex
	orders   map[string]*gateway.OrderState
	payments map[string][]gateway.PaymentEvent
	requests []gateway.OrderRequest

	// CreateErr, FetchErr and StatusErr are returned by the matching calls when set
	CreateErr error
	FetchErr  error
	StatusErr error
}

// New returns an empty fake gateway
func New() *Fake {
	return &Fake{
		orders:   make(map[string]*gateway.OrderState),
		payments: make(map[string][]gateway.PaymentEvent),
	}
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) CreateOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	f.orders[req.OrderID] = &gateway.OrderState{
		OrderID:          req.OrderID,
		Status:           gateway.OrderActive,
		Amount:           req.Amount,
		Currency:         req.Currency,
		PaymentSessionID: "session_" + req.OrderID,
	}
	return &gateway.Order{
		OrderID:          req.OrderID,
		PaymentSessionID: "session_" + req.OrderID,
		PaymentURL:       "https://pay.example.test/" + req.OrderID,
	}, nil
}

func (f *Fake) FetchOrderStatus(ctx context.Context, orderID string) (*gateway.OrderState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.StatusErr != nil {
		return nil, f.StatusErr
	}
	state, ok := f.orders[orderID]
	if !ok {
		return nil, apperrors.GatewayRejected("order not found", nil)
	}
	out := *state
	return &out, nil
}

func (f *Fake) FetchPayments(ctx context.Context, orderID string) ([]gateway.PaymentEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FetchErr != nil {
		return nil, f.FetchErr
	}
	return append([]gateway.PaymentEvent(nil), f.payments[orderID]...), nil
}

func (f *Fake) ParseWebhook(body []byte, headers http.Header) (*gateway.WebhookEvent, error) {
	if headers.Get(SignatureHeader) != "valid" {
		return nil, apperrors.Unauthorized("invalid webhook signature", nil)
	}
	var w WebhookBody
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, apperrors.InvalidInput("malformed webhook payload", err)
	}

	event := &gateway.WebhookEvent{Type: w.Type, OrderID: w.OrderID}
	if w.PaymentID != "" {
		status, err := gateway.ParsePaymentStatus(w.Status)
		if err != nil {
			return nil, apperrors.InvalidInput("malformed webhook payload", err)
		}
		event.Payment = &gateway.PaymentEvent{OrderID: w.OrderID, PaymentID: w.PaymentID, Status: status}
	}
	return event, nil
}

// AddPayment scripts a payment attempt for orderID. A SUCCESS also marks
// the order paid.
func (f *Fake) AddPayment(orderID, paymentID string, status gateway.PaymentStatus, amount float64, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.payments[orderID] = append(f.payments[orderID], gateway.PaymentEvent{
		OrderID:   orderID,
		PaymentID: paymentID,
		Status:    status,
		Amount:    amount,
		Currency:  "INR",
		Time:      at,
	})
	if state, ok := f.orders[orderID]; ok && status == gateway.PaymentSuccess {
		state.Status = gateway.OrderPaid
	}
}

// SetOrderStatus overrides the status of a known order
func (f *Fake) SetOrderStatus(orderID string, status gateway.OrderStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if state, ok := f.orders[orderID]; ok {
		state.Status = status
		return
	}
	f.orders[orderID] = &gateway.OrderState{OrderID: orderID, Status: status}
}

// Requests returns every CreateOrder request seen so far
func (f *Fake) Requests() []gateway.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.OrderRequest(nil), f.requests...)
}

// SignedHeaders returns headers ParseWebhook accepts
func SignedHeaders() http.Header {
	h := http.Header{}
	h.Set(SignatureHeader, "valid")
	h.Set("Content-Type", "application/json")
	return h
}

var _ gateway.Client = (*Fake)(nil)
