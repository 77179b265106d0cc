package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/fekuna/omnipos-reservation-service/internal/inventory"
	invcache "github.com/fekuna/omnipos-reservation-service/internal/inventory/cache"
	"github.com/fekuna/omnipos-reservation-service/internal/inventory/dto"
	"github.com/fekuna/omnipos-reservation-service/internal/model"
	"github.com/fekuna/omnipos-reservation-service/internal/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Locker is the distributed lock used to serialize admin adjustments per product.
type Locker interface {
	AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, value string) error
}

const (
	lockTTL      = 5 * time.Second
	lockAttempts = 3
	lockWait     = 100 * time.Millisecond
)

type inventoryUseCase struct {
	repo     inventory.Repository
	cache    *invcache.StockCache
	locker   Locker
	observer inventory.StockObserver
	logger   logger.ZapLogger
	now      func() time.Time
}

// NewInventoryUseCase wires the stock read and admin paths. cache, locker and
// observer are optional.
func NewInventoryUseCase(repo inventory.Repository, cache *invcache.StockCache, locker Locker, observer inventory.StockObserver, log logger.ZapLogger) inventory.UseCase {
	return &inventoryUseCase{
		repo:     repo,
		cache:    cache,
		locker:   locker,
		observer: observer,
		logger:   log,
		now:      time.Now,
	}
}

func (uc *inventoryUseCase) GetStock(ctx context.Context, productID string) (*model.Stock, error) {
	if productID == "" {
		return nil, inventory.ErrProductIDRequired
	}

	if s, err := uc.cache.Get(ctx, productID); err != nil {
		uc.logger.Warn("stock cache read failed", zap.String("product_id", productID), zap.Error(err))
	} else if s != nil {
		return s, nil
	}

	s, err := uc.repo.GetStock(ctx, productID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		// Unknown products read as zero stock.
		s = &model.Stock{ProductID: productID}
	}

	if _, err := uc.cache.Set(ctx, s); err != nil {
		uc.logger.Warn("stock cache write failed", zap.String("product_id", productID), zap.Error(err))
	}
	return s, nil
}

func (uc *inventoryUseCase) GetAvailable(ctx context.Context, productID string) (int64, error) {
	s, err := uc.GetStock(ctx, productID)
	if err != nil {
		return 0, err
	}
	return s.Available(), nil
}

func (uc *inventoryUseCase) SetTotalStock(ctx context.Context, input *dto.SetStockInput) (*model.Stock, error) {
	if input.ProductID == "" {
		return nil, inventory.ErrProductIDRequired
	}
	if input.TotalStock < 0 {
		return nil, inventory.ErrInvalidQuantity
	}

	release, err := uc.lock(ctx, input.ProductID)
	if err != nil {
		return nil, err
	}
	defer release()

	var (
		result *model.Stock
		change inventory.StockChange
	)
	err = uc.repo.WithinLedger(ctx, func(ctx context.Context, ledger inventory.Ledger) error {
		rows, err := ledger.LockStock(ctx, []string{input.ProductID})
		if err != nil {
			return err
		}

		now := uc.now()
		s, ok := rows[input.ProductID]
		if !ok {
			s = &model.Stock{ProductID: input.ProductID}
		}
		if input.TotalStock < s.ReservedStock {
			return fmt.Errorf("%w: product %s has %d reserved", inventory.ErrStockBelowReserved, s.ProductID, s.ReservedStock)
		}

		before := s.Available()
		totalChange := input.TotalStock - s.TotalStock
		s.TotalStock = input.TotalStock
		s.UpdatedAt = now
		if err := ledger.UpdateStock(ctx, s); err != nil {
			return err
		}

		if err := ledger.LogMovement(ctx, uc.adjustment(s.ProductID, totalChange, before, s.Available(), input, now)); err != nil {
			return err
		}

		result = s
		change = inventory.ChangeOf(before, s)
		return nil
	})
	if err != nil {
		return nil, err
	}

	uc.notify(ctx, change)
	uc.logger.Info("stock total set",
		zap.String("product_id", result.ProductID),
		zap.Int64("total_stock", result.TotalStock),
		zap.Int64("reserved_stock", result.ReservedStock),
	)
	return result, nil
}

func (uc *inventoryUseCase) RemoveStock(ctx context.Context, productID string) error {
	if productID == "" {
		return inventory.ErrProductIDRequired
	}

	release, err := uc.lock(ctx, productID)
	if err != nil {
		return err
	}
	defer release()

	var change *inventory.StockChange
	err = uc.repo.WithinLedger(ctx, func(ctx context.Context, ledger inventory.Ledger) error {
		rows, err := ledger.LockStock(ctx, []string{productID})
		if err != nil {
			return err
		}
		s, ok := rows[productID]
		if !ok {
			return nil
		}
		if s.ReservedStock > 0 {
			return fmt.Errorf("%w: product %s has %d reserved", inventory.ErrOpenReservations, productID, s.ReservedStock)
		}

		if err := ledger.DeleteStock(ctx, productID); err != nil {
			return err
		}
		c := inventory.ChangeOf(s.Available(), &model.Stock{ProductID: productID, UpdatedAt: uc.now()})
		c.Removed = true
		change = &c
		return nil
	})
	if err != nil {
		return err
	}

	if change != nil {
		uc.notify(ctx, *change)
		uc.logger.Info("stock removed", zap.String("product_id", productID))
	}
	return nil
}

func (uc *inventoryUseCase) ListMovements(ctx context.Context, filters *dto.MovementFilters) ([]model.InventoryMovement, int, error) {
	return uc.repo.ListMovements(ctx, filters)
}

func (uc *inventoryUseCase) adjustment(productID string, totalChange, before, after int64, input *dto.SetStockInput, now time.Time) *model.InventoryMovement {
	var refType, refID *string
	if input.UserID != "" {
		t := "user"
		refType = &t
		refID = &input.UserID
	}
	return &model.InventoryMovement{
		ID:              uuid.New().String(),
		ProductID:       productID,
		MovementType:    model.MovementAdjustment,
		TotalChange:     totalChange,
		AvailableBefore: before,
		AvailableAfter:  after,
		ReferenceType:   refType,
		ReferenceID:     refID,
		Notes:           input.Reason,
		CreatedAt:       now,
	}
}

// lock takes lock:inventory:{product_id} when a locker is configured. The row
// lock inside the ledger unit still guards correctness without it.
func (uc *inventoryUseCase) lock(ctx context.Context, productID string) (func(), error) {
	if uc.locker == nil {
		return func() {}, nil
	}

	key := "lock:inventory:" + productID
	value := uuid.New().String()

	for i := 0; i < lockAttempts; i++ {
		ok, err := uc.locker.AcquireLock(ctx, key, value, lockTTL)
		if err != nil {
			uc.logger.Error("failed to acquire inventory lock", zap.String("key", key), zap.Error(err))
		}
		if ok {
			return func() {
				if err := uc.locker.ReleaseLock(context.WithoutCancel(ctx), key, value); err != nil {
					uc.logger.Warn("failed to release inventory lock", zap.String("key", key), zap.Error(err))
				}
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockWait):
		}
	}
	return nil, fmt.Errorf("%w: inventory lock busy for product %s", inventory.ErrStorageUnavailable, productID)
}

func (uc *inventoryUseCase) notify(ctx context.Context, change inventory.StockChange) {
	if uc.observer == nil {
		return
	}
	uc.observer.StockChanged(ctx, []inventory.StockChange{change})
}
