package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/tripnest/booking-payments/internal/domain/catalog"
	apperrors "github.com/tripnest/booking-payments/pkg/errors"
)

// Catalog is an in-memory package and customer directory
type Catalog struct {
	mu        sync.RWMutex
	packages  map[uuid.UUID]catalog.Package
	customers map[uuid.UUID]bool
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{
		packages:  make(map[uuid.UUID]catalog.Package),
		customers: make(map[uuid.UUID]bool),
	}
}

// AddPackage registers a tour package
func (c *Catalog) AddPackage(p catalog.Package) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.packages[p.ID] = p
}

// AddCustomer registers a customer id
func (c *Catalog) AddCustomer(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.customers[id] = true
}

func (c *Catalog) GetPackage(ctx context.Context, id uuid.UUID) (*catalog.Package, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.packages[id]
	if !ok {
		return nil, apperrors.ErrPackageNotFound
	}
	return &p, nil
}

func (c *Catalog) CustomerExists(ctx context.Context, id uuid.UUID) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.customers[id], nil
}

var _ catalog.Catalog = (*Catalog)(nil)
