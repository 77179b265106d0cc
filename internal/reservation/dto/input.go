package dto

import "github.com/fekuna/omnipos-reservation-service/internal/model"

type LineInput struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

type ReserveInput struct {
	IdempotencyKey string
	Lines          []LineInput
}

type ReserveResult struct {
	Reservation *model.Reservation
	// Replayed is set when the idempotency key matched an earlier reservation.
	Replayed bool
}
