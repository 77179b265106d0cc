package inventory

import (
	"context"

	"github.com/fekuna/omnipos-reservation-service/internal/model"
)

// StockChange describes one product's availability across a committed atomic unit.
type StockChange struct {
	ProductID       string
	AvailableBefore int64
	AvailableAfter  int64
	// Stock is the row as committed. For a removed product it is a zero row
	// stamped with the removal time.
	Stock   *model.Stock
	Removed bool
}

// ChangeOf snapshots s as committed by the unit.
func ChangeOf(before int64, s *model.Stock) StockChange {
	row := *s
	return StockChange{
		ProductID:       row.ProductID,
		AvailableBefore: before,
		AvailableAfter:  row.Available(),
		Stock:           &row,
	}
}

// StockObserver is notified after commit. Implementations must not block the caller.
type StockObserver interface {
	StockChanged(ctx context.Context, changes []StockChange)
}

// Observers fans a change set out to every observer in order.
type Observers []StockObserver

func (o Observers) StockChanged(ctx context.Context, changes []StockChange) {
	if len(changes) == 0 {
		return
	}
	for _, obs := range o {
		if obs != nil {
			obs.StockChanged(ctx, changes)
		}
	}
}
