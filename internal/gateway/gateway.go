package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Client is a hosted-checkout payment gateway. Errors are *errors.AppError
// values: GATEWAY_UNAVAILABLE means the outcome is unknown, GATEWAY_REJECTED
// is a definitive business refusal.
type Client interface {
	// Name identifies the provider in logs and metrics
	Name() string
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
	FetchOrderStatus(ctx context.Context, orderID string) (*OrderState, error)
	FetchPayments(ctx context.Context, orderID string) ([]PaymentEvent, error)
	// ParseWebhook verifies the signature and decodes a webhook delivery
	ParseWebhook(body []byte, headers http.Header) (*WebhookEvent, error)
}

// Customer is the payer as the gateway needs it
type Customer struct {
	ID    string
	Name  string
	Email string
	Phone string
}

// OrderRequest asks the gateway for a checkout session
type OrderRequest struct {
	OrderID   string
	BookingID string
	Amount    float64
	Currency  string
	Customer  Customer
	ReturnURL string
	NotifyURL string
	Note      string
}

// Order is a created checkout session
type Order struct {
	OrderID          string `json:"order_id"`
	PaymentSessionID string `json:"payment_session_id"`
	PaymentURL       string `json:"payment_url,omitempty"`
}

// OrderStatus is the lifecycle state of a gateway order
type OrderStatus string

const (
	OrderActive     OrderStatus = "ACTIVE"
	OrderPaid       OrderStatus = "PAID"
	OrderExpired    OrderStatus = "EXPIRED"
	OrderTerminated OrderStatus = "TERMINATED"
)

// ParseOrderStatus validates a provider value
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch st := OrderStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case OrderActive, OrderPaid, OrderExpired, OrderTerminated:
		return st, nil
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

// OrderState is the typed view of an order
type OrderState struct {
	OrderID          string
	Status           OrderStatus
	Amount           float64
	Currency         string
	PaymentSessionID string
}

// PaymentStatus is the status of one payment attempt
type PaymentStatus string

const (
	PaymentSuccess      PaymentStatus = "SUCCESS"
	PaymentFailed       PaymentStatus = "FAILED"
	PaymentUserDropped  PaymentStatus = "USER_DROPPED"
	PaymentPending      PaymentStatus = "PENDING"
	PaymentNotAttempted PaymentStatus = "NOT_ATTEMPTED"
	PaymentCancelled    PaymentStatus = "CANCELLED"
)

// ParsePaymentStatus validates a provider value
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch st := PaymentStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case PaymentSuccess, PaymentFailed, PaymentUserDropped, PaymentPending, PaymentNotAttempted, PaymentCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown payment status %q", s)
}

// IsFailure reports whether the attempt definitively did not capture money
func (s PaymentStatus) IsFailure() bool {
	return s == PaymentFailed || s == PaymentUserDropped || s == PaymentCancelled
}

// PaymentEvent is one payment attempt against an order
type PaymentEvent struct {
	OrderID   string
	PaymentID string
	Status    PaymentStatus
	Amount    float64
	Currency  string
	Message   string
	Time      time.Time
}

// WebhookEvent is a verified webhook delivery
type WebhookEvent struct {
	Type    string
	OrderID string
	// Payment is set when the delivery carries a payment attempt
	Payment *PaymentEvent
}

// DedupeKey identifies the delivery for duplicate suppression
func (e *WebhookEvent) DedupeKey() string {
	if e.Payment == nil {
		return e.OrderID + ":" + e.Type
	}
	return e.OrderID + ":" + e.Payment.PaymentID + ":" + string(e.Payment.Status)
}

// SelectAuthoritative picks the event reconciliation acts on: any SUCCESS
// wins, otherwise the most recent attempt. It returns nil for no events.
func SelectAuthoritative(events []PaymentEvent) *PaymentEvent {
	if len(events) == 0 {
		return nil
	}
	for i := range events {
		if events[i].Status == PaymentSuccess {
			e := events[i]
			return &e
		}
	}
	sorted := append([]PaymentEvent(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.After(sorted[j].Time)
	})
	return &sorted[0]
}

// NewOrderID mints a correlation id of the form order_{unixMillis}_{random}
func NewOrderID(now time.Time) string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("gateway: crypto/rand failed: %v", err))
	}
	return fmt.Sprintf("order_%d_%s", now.UnixMilli(), hex.EncodeToString(b))
}
