package model

import "time"

type ReservationState string

const (
	ReservationHeld      ReservationState = "HELD"
	ReservationConfirmed ReservationState = "CONFIRMED"
	ReservationCancelled ReservationState = "CANCELLED"
	ReservationExpired   ReservationState = "EXPIRED"
)

func (s ReservationState) Terminal() bool {
	switch s {
	case ReservationConfirmed, ReservationCancelled, ReservationExpired:
		return true
	}
	return false
}

type Reservation struct {
	BaseModel
	IdempotencyKey string            `db:"idempotency_key" json:"idempotency_key"`
	State          ReservationState  `db:"state" json:"state"`
	ExpiresAt      time.Time         `db:"expires_at" json:"expires_at"`
	Lines          []ReservationLine `db:"-" json:"lines"`
}

type ReservationLine struct {
	ReservationID string `db:"reservation_id" json:"-"`
	LineNo        int    `db:"line_no" json:"-"`
	ProductID     string `db:"product_id" json:"product_id"`
	Quantity      int64  `db:"quantity" json:"quantity"`
}

// ProductIDs returns the line products in line order.
func (r *Reservation) ProductIDs() []string {
	ids := make([]string, len(r.Lines))
	for i, l := range r.Lines {
		ids[i] = l.ProductID
	}
	return ids
}

// Clone returns a deep copy, lines included.
func (r *Reservation) Clone() *Reservation {
	if r == nil {
		return nil
	}
	c := *r
	c.Lines = append([]ReservationLine(nil), r.Lines...)
	return &c
}
