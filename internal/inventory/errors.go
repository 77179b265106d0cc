package inventory

import "errors"

var (
	ErrInvalidQuantity    = errors.New("stock quantity must not be negative")
	ErrProductIDRequired  = errors.New("product id is required")
	ErrStockBelowReserved = errors.New("total stock cannot drop below reserved stock")
	ErrOpenReservations   = errors.New("product has open reservations")
	ErrLedgerInconsistent = errors.New("stock ledger inconsistent")

	// ErrStorageUnavailable marks transient store faults; the whole call is safe to retry.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
