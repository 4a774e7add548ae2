package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Package is the subset of a tour package the booking core needs
type Package struct {
	ID            uuid.UUID `json:"id"`
	AgencyID      uuid.UUID `json:"agency_id"`
	Title         string    `json:"title"`
	RatePerPerson float64   `json:"rate_per_person"`
	StartDate     time.Time `json:"start_date"`
	EndDate       time.Time `json:"end_date"`
}

// Catalog answers existence and pricing lookups for packages and customers.
// GetPackage returns apperrors.ErrPackageNotFound for unknown ids.
type Catalog interface {
	GetPackage(ctx context.Context, id uuid.UUID) (*Package, error)
	CustomerExists(ctx context.Context, id uuid.UUID) (bool, error)
}
