package reservation

import (
	"context"

	"github.com/fekuna/omnipos-reservation-service/internal/model"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation/dto"
)

type UseCase interface {
	Reserve(ctx context.Context, input *dto.ReserveInput) (*dto.ReserveResult, error)
	Confirm(ctx context.Context, id string) (*model.Reservation, error)
	Cancel(ctx context.Context, id string) (*model.Reservation, error)
	// Expire reports whether the reservation moved to EXPIRED.
	Expire(ctx context.Context, id string) (bool, error)
	Get(ctx context.Context, id string) (*model.Reservation, error)
}
