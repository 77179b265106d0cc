package reservation

import (
	"context"
	"time"

	"github.com/fekuna/omnipos-reservation-service/internal/model"
)

type LifecycleEventType string

const (
	ReservationHeld      LifecycleEventType = "ReservationHeld"
	ReservationConfirmed LifecycleEventType = "ReservationConfirmed"
	ReservationCancelled LifecycleEventType = "ReservationCancelled"
	ReservationExpired   LifecycleEventType = "ReservationExpired"
)

func LifecycleEventFor(state model.ReservationState) LifecycleEventType {
	switch state {
	case model.ReservationConfirmed:
		return ReservationConfirmed
	case model.ReservationCancelled:
		return ReservationCancelled
	case model.ReservationExpired:
		return ReservationExpired
	}
	return ReservationHeld
}

type LifecycleEvent struct {
	Type           LifecycleEventType      `json:"type"`
	ReservationID  string                  `json:"reservation_id"`
	IdempotencyKey string                  `json:"idempotency_key"`
	State          model.ReservationState  `json:"state"`
	Lines          []model.ReservationLine `json:"lines"`
	ExpiresAt      time.Time               `json:"expires_at"`
	OccurredAt     time.Time               `json:"occurred_at"`
}

func NewLifecycleEvent(r *model.Reservation, at time.Time) LifecycleEvent {
	return LifecycleEvent{
		Type:           LifecycleEventFor(r.State),
		ReservationID:  r.ID,
		IdempotencyKey: r.IdempotencyKey,
		State:          r.State,
		Lines:          r.Lines,
		ExpiresAt:      r.ExpiresAt,
		OccurredAt:     at,
	}
}

// EventPublisher delivers lifecycle events after commit. Delivery is best effort.
type EventPublisher interface {
	Publish(ctx context.Context, event LifecycleEvent) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, LifecycleEvent) error { return nil }
