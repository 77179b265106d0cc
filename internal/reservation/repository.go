package reservation

import (
	"context"
	"time"

	"github.com/fekuna/omnipos-reservation-service/internal/inventory"
	"github.com/fekuna/omnipos-reservation-service/internal/model"
)

// Tx is one atomic unit spanning stock rows and reservation rows.
type Tx interface {
	inventory.Ledger

	// FindByIdempotencyKey returns nil when no reservation carries key.
	FindByIdempotencyKey(ctx context.Context, key string) (*model.Reservation, error)
	// LockReservation locks the reservation row and loads its lines; nil when absent.
	LockReservation(ctx context.Context, id string) (*model.Reservation, error)
	// CreateReservation fails with ErrDuplicateIdempotencyKey when the key is taken.
	CreateReservation(ctx context.Context, r *model.Reservation) error
	UpdateState(ctx context.Context, id string, state model.ReservationState, updatedAt time.Time) error
}

type Repository interface {
	// WithinTx runs fn in one atomic unit; a non-nil error rolls it back.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	FindByID(ctx context.Context, id string) (*model.Reservation, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*model.Reservation, error)
	// ListExpiredIDs returns HELD reservations with expires_at <= now, oldest first.
	ListExpiredIDs(ctx context.Context, now time.Time, limit int) ([]string, error)
}
