package refund

import (
	"time"

	"github.com/google/uuid"
	apperrors "github.com/tripnest/booking-payments/pkg/errors"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// IsTerminal reports whether the request has been resolved
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Request is a refund raised by a cancellation
type Request struct {
	ID             uuid.UUID  `json:"id"`
	BookingID      uuid.UUID  `json:"booking_id"`
	Amount         float64    `json:"amount"`
	Reason         string     `json:"reason"`
	Status         Status     `json:"status"`
	RequestedBy    uuid.UUID  `json:"requested_by"`
	ResolvedBy     *uuid.UUID `json:"resolved_by,omitempty"`
	ResolutionNote string     `json:"resolution_note,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Resolve approves or rejects a pending request
func (r *Request) Resolve(approve bool, by uuid.UUID, note string, now time.Time) error {
	if r.Status != StatusPending {
		return apperrors.InvalidState("refund request is already "+string(r.Status), nil)
	}
	r.Status = StatusRejected
	if approve {
		r.Status = StatusApproved
	}
	r.ResolvedBy = &by
	r.ResolutionNote = note
	r.UpdatedAt = now
	return nil
}
