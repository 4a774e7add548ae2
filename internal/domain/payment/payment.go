package payment

import (
	"time"

	"github.com/google/uuid"
)

// Status is the gateway-reported status of a single payment attempt
type Status string

const (
	StatusSuccess     Status = "SUCCESS"
	StatusFailed      Status = "FAILED"
	StatusUserDropped Status = "USER_DROPPED"
)

// Payment is an immutable ledger row. Rows are unique on
// (BookingID, GatewayPaymentID, Status) and never updated.
type Payment struct {
	ID               uuid.UUID `json:"id"`
	BookingID        uuid.UUID `json:"booking_id"`
	GatewayOrderID   string    `json:"gateway_order_id"`
	GatewayPaymentID string    `json:"gateway_payment_id"`
	Amount           float64   `json:"amount"`
	Currency         string    `json:"currency"`
	Status           Status    `json:"status"`
	PaymentType      string    `json:"payment_type"` // FULL or PARTIAL
	Message          string    `json:"message,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Key is the ledger uniqueness key
func (p *Payment) Key() string {
	return p.BookingID.String() + "|" + p.GatewayPaymentID + "|" + string(p.Status)
}
