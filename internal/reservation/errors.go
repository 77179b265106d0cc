package reservation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fekuna/omnipos-reservation-service/internal/inventory"
)

var (
	ErrNotFound                = errors.New("reservation not found")
	ErrInvalidTransition       = errors.New("invalid reservation state transition")
	ErrValidation              = errors.New("validation error")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrIdempotencyKeyReused    = errors.New("idempotency key already used with different items")

	// ErrStorageUnavailable is the only error the coordinator retries.
	ErrStorageUnavailable = inventory.ErrStorageUnavailable
)

// InsufficientStockError names the first line that could not be covered.
type InsufficientStockError struct {
	ProductID string
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// ValidationError lists every problem found in a request. It matches ErrValidation
// and unwraps to Cause when one is set.
type ValidationError struct {
	Problems []string
	Cause    error
}

func (e *ValidationError) Error() string {
	return "validation error: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// Outcome labels an operation result for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	}
	return "error"
}
