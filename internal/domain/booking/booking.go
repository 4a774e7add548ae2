package booking

import (
	"time"

	"github.com/google/uuid"
	"github.com/tripnest/booking-payments/internal/domain/actor"
	"github.com/tripnest/booking-payments/internal/domain/refund"
)

// Status represents booking status
type Status string

const (
	StatusDraft           Status = "DRAFT"
	StatusPending         Status = "PENDING"
	StatusPendingPayment  Status = "PENDING_PAYMENT"
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusConfirmed       Status = "CONFIRMED"
	StatusFailed          Status = "FAILED"
	StatusCancelled       Status = "CANCELLED"
	StatusCompleted       Status = "COMPLETED"
)

// IsTerminal reports whether no further payment-driven transition applies
func (s Status) IsTerminal() bool {
	switch s {
	case StatusConfirmed, StatusFailed, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// IsAwaitingPayment reports whether the booking still waits on the gateway
func (s Status) IsAwaitingPayment() bool {
	switch s {
	case StatusPending, StatusPendingPayment, StatusPendingApproval:
		return true
	}
	return false
}

// IsCancellable reports whether a cancellation may be requested
func (s Status) IsCancellable() bool {
	return s.IsAwaitingPayment() || s == StatusConfirmed
}

// PaymentMode decides how much is charged up front
type PaymentMode string

const (
	ModeFull    PaymentMode = "FULL"
	ModePartial PaymentMode = "PARTIAL"
)

func (m PaymentMode) Valid() bool {
	return m == ModeFull || m == ModePartial
}

// Channel records who entered the booking
type Channel string

const (
	ChannelCustomer      Channel = "CUSTOMER"
	ChannelAgencyOffline Channel = "AGENCY_OFFLINE"
)

func (c Channel) Valid() bool {
	return c == ChannelCustomer || c == ChannelAgencyOffline
}

// PaymentStatus mirrors the last gateway-reported payment status
type PaymentStatus string

const (
	PaymentNotAttempted PaymentStatus = "NOT_ATTEMPTED"
	PaymentPending      PaymentStatus = "PENDING"
	PaymentSuccess      PaymentStatus = "SUCCESS"
	PaymentFailed       PaymentStatus = "FAILED"
	PaymentUserDropped  PaymentStatus = "USER_DROPPED"
)

// Traveler is owned by its booking
type Traveler struct {
	ID        uuid.UUID `json:"id"`
	BookingID uuid.UUID `json:"booking_id"`
	Name      string    `json:"name"`
	Age       int       `json:"age"`
	Gender    string    `json:"gender"`
	IDType    string    `json:"id_type"`
	IDNumber  string    `json:"id_number"`
	IDFileRef string    `json:"id_file_ref,omitempty"`
}

// Booking is a trip reservation and its payment lifecycle
type Booking struct {
	ID                 uuid.UUID     `json:"id"`
	TourPackageID      uuid.UUID     `json:"tour_package_id"`
	AgencyID           uuid.UUID     `json:"agency_id"`
	CustomerID         uuid.UUID     `json:"customer_id"`
	Travelers          []Traveler    `json:"travelers"`
	StartDate          time.Time     `json:"start_date"`
	EndDate            time.Time     `json:"end_date"`
	NumberOfPeople     int           `json:"number_of_people"`
	TotalPrice         float64       `json:"total_price"`
	PlatformFee        float64       `json:"platform_fee"`
	AgencyPayoutAmount float64       `json:"agency_payout_amount"`
	AmountDueNow       float64       `json:"amount_due_now"`
	Currency           string        `json:"currency"`
	PaymentMode        PaymentMode   `json:"payment_mode"`
	Channel            Channel       `json:"channel"`
	Status             Status        `json:"status"`
	PaymentStatus      PaymentStatus `json:"payment_status"`
	GatewayOrderID     string        `json:"gateway_order_id,omitempty"`
	PaymentSessionID   string        `json:"payment_session_id,omitempty"`
	TransactionID      string        `json:"transaction_id,omitempty"`
	AgencyApproval     bool          `json:"agency_approval"`
	PartialAmountPaid  bool          `json:"partial_amount_paid"`
	RefundRequested    bool          `json:"refund_requested"`
	RefundStatus       refund.Status `json:"refund_status,omitempty"`
	FailureReason      string        `json:"failure_reason,omitempty"`
	Notes              string        `json:"notes,omitempty"`
	Version            int           `json:"version"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// Clone returns a deep copy so state methods can run without touching the
// stored value until the write succeeds.
func (b *Booking) Clone() *Booking {
	c := *b
	c.Travelers = append([]Traveler(nil), b.Travelers...)
	return &c
}

// IsParty reports whether a may act on the booking: its customer, its
// agency, or an admin.
func (b *Booking) IsParty(a actor.Actor) bool {
	switch a.Role {
	case actor.RoleAdmin:
		return true
	case actor.RoleCustomer:
		return a.ID == b.CustomerID
	case actor.RoleAgency:
		return a.ID == b.AgencyID
	}
	return false
}

// InitialStatus picks the pending state a new booking enters
func InitialStatus(mode PaymentMode, channel Channel) Status {
	if mode == ModeFull || channel == ChannelAgencyOffline {
		return StatusPendingPayment
	}
	return StatusPendingApproval
}

// RefundAmount is what a cancellation refunds: the deposit for partial
// bookings, the whole price otherwise.
func (b *Booking) RefundAmount() float64 {
	if b.PaymentMode == ModePartial {
		return b.PlatformFee
	}
	return b.TotalPrice
}
