package dto

import (
	"github.com/google/uuid"
	"github.com/tripnest/booking-payments/internal/domain/booking"
	"github.com/tripnest/booking-payments/internal/domain/payment"
	"github.com/tripnest/booking-payments/internal/domain/refund"
	"github.com/tripnest/booking-payments/internal/gateway"
	"github.com/tripnest/booking-payments/internal/service/orchestrator"
)

// TravelerRequest is one traveler on a new booking
type TravelerRequest struct {
	Name      string `json:"name" binding:"required,max=120"`
	Age       int    `json:"age" binding:"gte=0,lte=120"`
	Gender    string `json:"gender" binding:"omitempty,max=20"`
	IDType    string `json:"id_type" binding:"required,max=40"`
	IDNumber  string `json:"id_number" binding:"required,max=60"`
	IDFileRef string `json:"id_file_ref" binding:"omitempty,max=255"`
}

// ContactRequest carries the payer details forwarded to the gateway
type ContactRequest struct {
	Name  string `json:"name" binding:"omitempty,max=120"`
	Email string `json:"email" binding:"omitempty,email"`
	Phone string `json:"phone" binding:"omitempty,max=20"`
}

// CreateBookingRequest represents a request to book a tour package
type CreateBookingRequest struct {
	TourPackageID string            `json:"tour_package_id" binding:"required,uuid"`
	CustomerID    string            `json:"customer_id" binding:"omitempty,uuid"`
	PaymentMode   string            `json:"payment_mode" binding:"required,oneof=FULL PARTIAL"`
	Travelers     []TravelerRequest `json:"travelers" binding:"required,min=1,dive"`
	Contact       ContactRequest    `json:"contact"`
	Notes         string            `json:"notes" binding:"max=1000"`
}

// ResumePaymentRequest optionally refreshes the payer contact
type ResumePaymentRequest struct {
	Contact ContactRequest `json:"contact"`
}

// CancelBookingRequest represents a cancellation with its refund request
type CancelBookingRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

// ResolveRefundRequest represents an admin decision on a refund
type ResolveRefundRequest struct {
	Approve *bool  `json:"approve" binding:"required"`
	Note    string `json:"note" binding:"max=500"`
}

// ToOrchestrator converts the request into service input
func (r CreateBookingRequest) ToOrchestrator() orchestrator.CreateBookingRequest {
	out := orchestrator.CreateBookingRequest{
		TourPackageID: uuid.MustParse(r.TourPackageID),
		PaymentMode:   booking.PaymentMode(r.PaymentMode),
		Contact:       r.Contact.ToGateway(),
		Notes:         r.Notes,
	}
	if r.CustomerID != "" {
		out.CustomerID = uuid.MustParse(r.CustomerID)
	}
	for _, t := range r.Travelers {
		out.Travelers = append(out.Travelers, orchestrator.TravelerInput{
			Name:      t.Name,
			Age:       t.Age,
			Gender:    t.Gender,
			IDType:    t.IDType,
			IDNumber:  t.IDNumber,
			IDFileRef: t.IDFileRef,
		})
	}
	return out
}

// ToGateway converts contact details for the gateway
func (c ContactRequest) ToGateway() gateway.Customer {
	return gateway.Customer{Name: c.Name, Email: c.Email, Phone: c.Phone}
}

// CheckoutResponse is returned when a payment session is open
type CheckoutResponse struct {
	Booking          *booking.Booking `json:"booking"`
	OrderID          string           `json:"order_id,omitempty"`
	PaymentSessionID string           `json:"payment_session_id,omitempty"`
	PaymentURL       string           `json:"payment_url,omitempty"`
	AlreadyPaid      bool             `json:"already_paid,omitempty"`
}

// NewCheckoutResponse builds the response for a checkout
func NewCheckoutResponse(c *orchestrator.Checkout) CheckoutResponse {
	return CheckoutResponse{
		Booking:          c.Booking,
		OrderID:          c.OrderID,
		PaymentSessionID: c.PaymentSessionID,
		PaymentURL:       c.PaymentURL,
		AlreadyPaid:      c.AlreadyPaid,
	}
}

// BookingDetailResponse is a booking with its payment ledger
type BookingDetailResponse struct {
	Booking  *booking.Booking   `json:"booking"`
	Payments []*payment.Payment `json:"payments"`
}

// CancellationResponse is returned after a cancellation
type CancellationResponse struct {
	Booking *booking.Booking `json:"booking"`
	Refund  *refund.Request  `json:"refund"`
}

// PendingResponse tells the customer the outcome is not known yet
type PendingResponse struct {
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	BookingID uuid.UUID `json:"booking_id"`
}

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Details   string `json:"details,omitempty"`
	BookingID string `json:"booking_id,omitempty"`
}
