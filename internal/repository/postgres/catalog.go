package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tripnest/booking-payments/internal/domain/catalog"
	apperrors "github.com/tripnest/booking-payments/pkg/errors"
)

// Catalog reads tour packages and customers owned by other services
type Catalog struct {
	db *sql.DB
}

// NewCatalog creates a catalog backed by db
func NewCatalog(db *sql.DB) *Catalog {
	return &Catalog{db: db}
}

func (c *Catalog) GetPackage(ctx context.Context, id uuid.UUID) (*catalog.Package, error) {
	var p catalog.Package
	err := c.db.QueryRowContext(ctx, `SELECT id, agency_id, title, rate_per_person, start_date, end_date
		FROM tour_packages WHERE id = $1`, id).
		Scan(&p.ID, &p.AgencyID, &p.Title, &p.RatePerPerson, &p.StartDate, &p.EndDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrPackageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tour package: %w", err)
	}
	return &p, nil
}

func (c *Catalog) CustomerExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := c.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM customers WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check customer: %w", err)
	}
	return exists, nil
}

var _ catalog.Catalog = (*Catalog)(nil)
