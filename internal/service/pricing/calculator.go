package pricing

import (
	"math"

	"github.com/tripnest/booking-payments/internal/domain/booking"
	"github.com/tripnest/booking-payments/internal/domain/payment"
	apperrors "github.com/tripnest/booking-payments/pkg/errors"
)

// Config holds pricing configuration
type Config struct {
	PlatformFeePercent float64
	Currency           string
}

// Service splits a trip price between platform and agency
type Service struct {
	config Config
}

// Input is what a quote is computed from
type Input struct {
	RatePerPerson float64
	TravelerCount int
	Mode          booking.PaymentMode
	Channel       booking.Channel
}

// Quote represents the breakdown of a booking price
type Quote struct {
	TotalPrice         float64 `json:"total_price"`
	PlatformFee        float64 `json:"platform_fee"`
	AgencyPayoutAmount float64 `json:"agency_payout_amount"`
	AmountDueNow       float64 `json:"amount_due_now"`
	Currency           string  `json:"currency"`
}

// NewService creates a new pricing service
func NewService(config Config) *Service {
	return &Service{config: config}
}

// Calculate computes the price split. It is pure and performs no I/O.
func (s *Service) Calculate(in Input) (*Quote, error) {
	if in.RatePerPerson <= 0 || math.IsNaN(in.RatePerPerson) || math.IsInf(in.RatePerPerson, 0) {
		return nil, apperrors.InvalidInput("rate per person must be positive", nil)
	}
	if in.TravelerCount <= 0 {
		return nil, apperrors.InvalidInput("traveler count must be positive", nil)
	}
	if !in.Mode.Valid() {
		return nil, apperrors.InvalidInput("unknown payment mode "+string(in.Mode), nil)
	}
	if !in.Channel.Valid() {
		return nil, apperrors.InvalidInput("unknown booking channel "+string(in.Channel), nil)
	}

	exp := payment.MinorUnitExponent(s.config.Currency)
	total := roundTo(in.RatePerPerson*float64(in.TravelerCount), exp)
	if total <= 0 {
		return nil, apperrors.InvalidInput("total price rounds to zero", nil)
	}

	var fee float64
	switch in.Channel {
	case booking.ChannelAgencyOffline:
		// Offline bookings are billed in full as platform fee.
		fee = total
	default:
		fee = roundTo(total*s.config.PlatformFeePercent/100, exp)
	}

	due := total
	if in.Mode == booking.ModePartial {
		due = fee
	}
	if due <= 0 {
		return nil, apperrors.InvalidInput("amount due now rounds to zero", nil)
	}

	return &Quote{
		TotalPrice:         total,
		PlatformFee:        fee,
		AgencyPayoutAmount: roundTo(total-fee, exp),
		AmountDueNow:       due,
		Currency:           s.config.Currency,
	}, nil
}

// roundTo rounds v to exp decimal places
func roundTo(v float64, exp int) float64 {
	scale := math.Pow10(exp)
	return math.Round(v*scale) / scale
}
