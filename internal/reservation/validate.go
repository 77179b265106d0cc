package reservation

import (
	"fmt"

	"github.com/fekuna/omnipos-reservation-service/internal/model"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation/dto"
)

const maxIdempotencyKeyLen = 255

func ValidateReserve(in *dto.ReserveInput) error {
	var problems []string
	if in.IdempotencyKey == "" {
		problems = append(problems, "idempotency_key is required")
	} else if len(in.IdempotencyKey) > maxIdempotencyKeyLen {
		problems = append(problems, fmt.Sprintf("idempotency_key must be at most %d characters", maxIdempotencyKeyLen))
	}
	if len(in.Lines) == 0 {
		problems = append(problems, "items must not be empty")
	}

	seen := make(map[string]bool, len(in.Lines))
	for i, l := range in.Lines {
		if l.ProductID == "" {
			problems = append(problems, fmt.Sprintf("items[%d].product_id is required", i))
		} else if seen[l.ProductID] {
			problems = append(problems, fmt.Sprintf("items[%d].product_id %s is duplicated", i, l.ProductID))
		}
		seen[l.ProductID] = true
		if l.Quantity <= 0 {
			problems = append(problems, fmt.Sprintf("items[%d].quantity must be greater than 0", i))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// SameLines reports whether a replayed request carries the lines r was created with.
func SameLines(r *model.Reservation, lines []dto.LineInput) bool {
	if len(r.Lines) != len(lines) {
		return false
	}
	for i, l := range lines {
		if r.Lines[i].ProductID != l.ProductID || r.Lines[i].Quantity != l.Quantity {
			return false
		}
	}
	return true
}
