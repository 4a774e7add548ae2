package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tripnest/booking-payments/internal/domain/actor"
	"github.com/tripnest/booking-payments/internal/domain/booking"
	"github.com/tripnest/booking-payments/internal/domain/catalog"
	"github.com/tripnest/booking-payments/internal/gateway"
	"github.com/tripnest/booking-payments/internal/service/pricing"
	"github.com/tripnest/booking-payments/internal/service/reconciliation"
	apperrors "github.com/tripnest/booking-payments/pkg/errors"
	"github.com/tripnest/booking-payments/pkg/logger"
	"github.com/tripnest/booking-payments/pkg/monitoring"
)

// Config holds the URLs handed to the gateway. ReturnURL may contain a
// {booking_id} placeholder.
type Config struct {
	ReturnURL string
	NotifyURL string
}

// Reconciler settles a booking whose order turns out to be paid already
type Reconciler interface {
	HandleReturn(ctx context.Context, bookingID uuid.UUID) (*reconciliation.Reconciliation, error)
}

// TravelerInput is one traveler on a new booking
type TravelerInput struct {
	Name      string
	Age       int
	Gender    string
	IDType    string
	IDNumber  string
	IDFileRef string
}

// CreateBookingRequest is what a caller submits to book a package.
// CustomerID is required when an agency or admin books on a customer's
// behalf and must match the actor for customers.
type CreateBookingRequest struct {
	TourPackageID uuid.UUID
	CustomerID    uuid.UUID
	PaymentMode   booking.PaymentMode
	Travelers     []TravelerInput
	Contact       gateway.Customer
	Notes         string
}

// Checkout is returned once the booking exists and a payment session is open
type Checkout struct {
	Booking          *booking.Booking `json:"booking"`
	OrderID          string           `json:"order_id,omitempty"`
	PaymentSessionID string           `json:"payment_session_id,omitempty"`
	PaymentURL       string           `json:"payment_url,omitempty"`
	// AlreadyPaid is set when a resume found the order paid and reconciled it
	AlreadyPaid bool `json:"already_paid,omitempty"`
}

// CheckoutError reports a failure after the booking was persisted, so the
// caller can resume payment for BookingID.
type CheckoutError struct {
	BookingID uuid.UUID
	Err       error
}

func (e *CheckoutError) Error() string {
	return fmt.Sprintf("booking %s: %v", e.BookingID, e.Err)
}

func (e *CheckoutError) Unwrap() error {
	return e.Err
}

// Service creates bookings and opens their payment sessions
type Service struct {
	bookings   booking.Repository
	catalog    catalog.Catalog
	pricing    *pricing.Service
	gateway    gateway.Client
	reconciler Reconciler
	metrics    *monitoring.NewRelicApp
	config     Config
	logger     *logger.Logger
	now        func() time.Time
}

// NewService creates a new orchestrator
func NewService(
	bookings booking.Repository,
	cat catalog.Catalog,
	pricingSvc *pricing.Service,
	gw gateway.Client,
	reconciler Reconciler,
	metrics *monitoring.NewRelicApp,
	config Config,
	log *logger.Logger,
) *Service {
	return &Service{
		bookings:   bookings,
		catalog:    cat,
		pricing:    pricingSvc,
		gateway:    gw,
		reconciler: reconciler,
		metrics:    metrics,
		config:     config,
		logger:     log.Named("orchestrator"),
		now:        time.Now,
	}
}

// CreateBooking prices and persists a booking, then opens a gateway order for
// the amount due now. Errors after the booking is stored are *CheckoutError.
func (s *Service) CreateBooking(ctx context.Context, a actor.Actor, req CreateBookingRequest) (*Checkout, error) {
	if len(req.Travelers) == 0 {
		return nil, apperrors.InvalidInput("at least one traveler is required", nil)
	}
	for _, t := range req.Travelers {
		if strings.TrimSpace(t.Name) == "" || t.Age < 0 {
			return nil, apperrors.InvalidInput("every traveler needs a name and a valid age", nil)
		}
	}

	pkg, err := s.catalog.GetPackage(ctx, req.TourPackageID)
	if err != nil {
		return nil, err
	}

	customerID, channel, err := resolveParties(a, pkg, req.CustomerID)
	if err != nil {
		return nil, err
	}
	exists, err := s.catalog.CustomerExists(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperrors.NotFound("Customer not found", nil)
	}

	quote, err := s.pricing.Calculate(pricing.Input{
		RatePerPerson: pkg.RatePerPerson,
		TravelerCount: len(req.Travelers),
		Mode:          req.PaymentMode,
		Channel:       channel,
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	b := &booking.Booking{
		ID:                 uuid.New(),
		TourPackageID:      pkg.ID,
		AgencyID:           pkg.AgencyID,
		CustomerID:         customerID,
		StartDate:          pkg.StartDate,
		EndDate:            pkg.EndDate,
		NumberOfPeople:     len(req.Travelers),
		TotalPrice:         quote.TotalPrice,
		PlatformFee:        quote.PlatformFee,
		AgencyPayoutAmount: quote.AgencyPayoutAmount,
		AmountDueNow:       quote.AmountDueNow,
		Currency:           quote.Currency,
		PaymentMode:        req.PaymentMode,
		Channel:            channel,
		Status:             booking.StatusDraft,
		Notes:              req.Notes,
		CreatedAt:          now,
	}
	for _, t := range req.Travelers {
		b.Travelers = append(b.Travelers, booking.Traveler{
			ID:        uuid.New(),
			Name:      strings.TrimSpace(t.Name),
			Age:       t.Age,
			Gender:    t.Gender,
			IDType:    t.IDType,
			IDNumber:  t.IDNumber,
			IDFileRef: t.IDFileRef,
		})
	}
	if err := b.Enter(now); err != nil {
		return nil, err
	}
	if err := s.bookings.CreateDraft(ctx, b); err != nil {
		return nil, err
	}

	s.logger.Info("Booking created",
		logger.String("booking_id", b.ID.String()),
		logger.String("status", string(b.Status)),
		logger.String("payment_mode", string(b.PaymentMode)),
		logger.String("channel", string(b.Channel)),
		logger.Float64("amount_due_now", b.AmountDueNow),
	)
	s.metrics.RecordBookingCreated(string(b.PaymentMode), string(b.Channel), b.AmountDueNow)

	return s.openOrder(ctx, b, req.Contact)
}

// ResumePayment reopens payment for a pending booking. An order that is
// still active is returned as is, a paid one is reconciled, and an expired
// or missing one is replaced with a fresh order id.
func (s *Service) ResumePayment(ctx context.Context, a actor.Actor, bookingID uuid.UUID, contact gateway.Customer) (*Checkout, error) {
	b, err := s.bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.IsParty(a) {
		return nil, apperrors.Forbidden("actor is not a party to this booking", nil)
	}
	if !b.Status.IsAwaitingPayment() {
		return nil, apperrors.InvalidState("cannot resume payment for a "+string(b.Status)+" booking", nil)
	}

	if b.GatewayOrderID != "" {
		state, err := s.gateway.FetchOrderStatus(ctx, b.GatewayOrderID)
		if err != nil {
			return nil, &CheckoutError{BookingID: b.ID, Err: err}
		}

		switch state.Status {
		case gateway.OrderActive:
			return &Checkout{
				Booking:          b,
				OrderID:          b.GatewayOrderID,
				PaymentSessionID: b.PaymentSessionID,
			}, nil

		case gateway.OrderPaid:
			rec, err := s.reconciler.HandleReturn(ctx, b.ID)
			if err != nil {
				return nil, &CheckoutError{BookingID: b.ID, Err: err}
			}
			return &Checkout{Booking: rec.Booking, OrderID: b.GatewayOrderID, AlreadyPaid: !rec.Pending}, nil
		}

		s.logger.Info("Replacing closed order",
			logger.String("booking_id", b.ID.String()),
			logger.String("order_id", b.GatewayOrderID),
			logger.String("order_status", string(state.Status)),
		)
	}

	return s.openOrder(ctx, b, contact)
}

// openOrder mints a correlation id and creates the gateway order. It is
// never retried automatically: an unknown outcome leaves the booking pending
// without an order for the caller to resume.
func (s *Service) openOrder(ctx context.Context, b *booking.Booking, contact gateway.Customer) (*Checkout, error) {
	orderID := gateway.NewOrderID(s.now())
	contact.ID = b.CustomerID.String()

	order, err := s.gateway.CreateOrder(ctx, gateway.OrderRequest{
		OrderID:   orderID,
		BookingID: b.ID.String(),
		Amount:    b.AmountDueNow,
		Currency:  b.Currency,
		Customer:  contact,
		ReturnURL: strings.ReplaceAll(s.config.ReturnURL, "{booking_id}", b.ID.String()),
		NotifyURL: s.config.NotifyURL,
		Note:      fmt.Sprintf("%s booking for %d traveler(s)", b.PaymentMode, b.NumberOfPeople),
	})
	if err != nil {
		return nil, s.orderFailed(ctx, b, orderID, err)
	}

	updated, err := s.bookings.AttachOrder(ctx, b.ID, order.OrderID, order.PaymentSessionID)
	if err != nil {
		s.logger.Error("Gateway order created but not attached",
			logger.String("booking_id", b.ID.String()),
			logger.String("order_id", order.OrderID),
			logger.Err(err),
		)
		return nil, &CheckoutError{BookingID: b.ID, Err: err}
	}

	s.logger.Info("Payment session opened",
		logger.String("booking_id", b.ID.String()),
		logger.String("order_id", order.OrderID),
		logger.String("gateway", s.gateway.Name()),
	)
	return &Checkout{
		Booking:          updated,
		OrderID:          order.OrderID,
		PaymentSessionID: order.PaymentSessionID,
		PaymentURL:       order.PaymentURL,
	}, nil
}

func (s *Service) orderFailed(ctx context.Context, b *booking.Booking, orderID string, cause error) error {
	if !apperrors.Is(cause, apperrors.ErrGatewayRejected) {
		s.logger.Warn("Order creation outcome unknown, booking left pending",
			logger.String("booking_id", b.ID.String()),
			logger.String("order_id", orderID),
			logger.Err(cause),
		)
		return &CheckoutError{BookingID: b.ID, Err: cause}
	}

	_, err := s.bookings.ApplyTerminalOutcome(ctx, b.ID, booking.Outcome{
		Kind:          booking.OutcomeFailed,
		PaymentStatus: booking.PaymentFailed,
		Message:       apperrors.GetAppError(cause).Message,
	})
	if err != nil {
		s.logger.Error("Failed to mark rejected booking as failed",
			logger.String("booking_id", b.ID.String()),
			logger.Err(err),
		)
	}
	s.logger.Warn("Gateway rejected order",
		logger.String("booking_id", b.ID.String()),
		logger.String("order_id", orderID),
		logger.Err(cause),
	)
	return &CheckoutError{BookingID: b.ID, Err: cause}
}

// resolveParties decides who the booking is for and through which channel.
// Agencies book offline for their own packages only.
func resolveParties(a actor.Actor, pkg *catalog.Package, requested uuid.UUID) (uuid.UUID, booking.Channel, error) {
	switch a.Role {
	case actor.RoleCustomer:
		if requested != uuid.Nil && requested != a.ID {
			return uuid.Nil, "", apperrors.Forbidden("customers can only book for themselves", nil)
		}
		return a.ID, booking.ChannelCustomer, nil

	case actor.RoleAgency:
		if pkg.AgencyID != a.ID {
			return uuid.Nil, "", apperrors.Forbidden("agency does not own this package", nil)
		}
		if requested == uuid.Nil {
			return uuid.Nil, "", apperrors.InvalidInput("customer_id is required for agency bookings", nil)
		}
		return requested, booking.ChannelAgencyOffline, nil

	case actor.RoleAdmin:
		if requested == uuid.Nil {
			return uuid.Nil, "", apperrors.InvalidInput("customer_id is required", nil)
		}
		return requested, booking.ChannelCustomer, nil
	}
	return uuid.Nil, "", apperrors.Forbidden("unknown actor role", nil)
}
