package reservation

import (
	"fmt"

	"github.com/fekuna/omnipos-reservation-service/internal/inventory"
	"github.com/fekuna/omnipos-reservation-service/internal/model"
)

type Event string

const (
	EventConfirm Event = "confirm"
	EventCancel  Event = "cancel"
	EventExpire  Event = "expire"
)

// Transition resolves ev against a reservation in state from. apply is false
// for an idempotent repeat, in which case nothing must be written.
func Transition(from model.ReservationState, ev Event) (to model.ReservationState, apply bool, err error) {
	if from == model.ReservationHeld {
		switch ev {
		case EventConfirm:
			return model.ReservationConfirmed, true, nil
		case EventCancel:
			return model.ReservationCancelled, true, nil
		case EventExpire:
			return model.ReservationExpired, true, nil
		}
	} else if from.Terminal() && settles(from, ev) {
		return from, false, nil
	}
	return from, false, fmt.Errorf("%w: cannot %s a %s reservation", ErrInvalidTransition, ev, from)
}

// settles reports whether ev is already satisfied by the terminal state.
// An expired reservation is as released as a cancelled one.
func settles(state model.ReservationState, ev Event) bool {
	switch state {
	case model.ReservationConfirmed:
		return ev == EventConfirm
	case model.ReservationCancelled:
		return ev == EventCancel
	case model.ReservationExpired:
		return ev == EventCancel || ev == EventExpire
	}
	return false
}

// MovementType is the audit movement recorded for a line released by ev.
func (ev Event) MovementType() string {
	switch ev {
	case EventConfirm:
		return model.MovementConfirm
	case EventCancel:
		return model.MovementCancel
	}
	return model.MovementExpire
}

// Release applies the ledger effect of ev for one line of quantity q.
// Confirm consumes the hold from both totals; cancel and expire return it.
func Release(s *model.Stock, ev Event, q int64) (totalChange, reservedChange int64, err error) {
	if s == nil || s.ReservedStock < q {
		var reserved int64
		if s != nil {
			reserved = s.ReservedStock
		}
		return 0, 0, fmt.Errorf("%w: releasing %d with %d reserved", inventory.ErrLedgerInconsistent, q, reserved)
	}

	reservedChange = -q
	if ev == EventConfirm {
		totalChange = -q
	}
	s.ReservedStock += reservedChange
	s.TotalStock += totalChange
	return totalChange, reservedChange, nil
}
