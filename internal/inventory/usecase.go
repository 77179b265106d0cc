package inventory

import (
	"context"

	"github.com/fekuna/omnipos-reservation-service/internal/inventory/dto"
	"github.com/fekuna/omnipos-reservation-service/internal/model"
)

type UseCase interface {
	GetStock(ctx context.Context, productID string) (*model.Stock, error)
	GetAvailable(ctx context.Context, productID string) (int64, error)
	SetTotalStock(ctx context.Context, input *dto.SetStockInput) (*model.Stock, error)
	RemoveStock(ctx context.Context, productID string) error
	ListMovements(ctx context.Context, filters *dto.MovementFilters) ([]model.InventoryMovement, int, error)
}
