package inventory

import (
	"context"

	"github.com/fekuna/omnipos-reservation-service/internal/inventory/dto"
	"github.com/fekuna/omnipos-reservation-service/internal/model"
)

// Ledger is the raw field-mutation surface of the stock ledger. It is only
// reachable inside an atomic unit; all availability decisions belong to the caller.
type Ledger interface {
	// LockStock takes row locks on the given products in ascending product_id
	// order and returns the rows that exist, keyed by product id.
	LockStock(ctx context.Context, productIDs []string) (map[string]*model.Stock, error)
	UpdateStock(ctx context.Context, stock *model.Stock) error
	DeleteStock(ctx context.Context, productID string) error
	LogMovement(ctx context.Context, movement *model.InventoryMovement) error
}

type Repository interface {
	// GetStock reads outside any atomic unit; nil when the product has no row.
	GetStock(ctx context.Context, productID string) (*model.Stock, error)
	ListMovements(ctx context.Context, filters *dto.MovementFilters) ([]model.InventoryMovement, int, error)

	// WithinLedger runs fn in one atomic unit; a non-nil error rolls it back.
	WithinLedger(ctx context.Context, fn func(ctx context.Context, ledger Ledger) error) error
}
