package model

import "time"

// Stock is the ledger row for a product. Available stock is derived, never stored.
type Stock struct {
	ProductID     string    `db:"product_id" json:"product_id"`
	TotalStock    int64     `db:"total_stock" json:"total_stock"`
	ReservedStock int64     `db:"reserved_stock" json:"reserved_stock"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

func (s *Stock) Available() int64 {
	if s == nil {
		return 0
	}
	return s.TotalStock - s.ReservedStock
}

// Valid reports whether 0 <= reserved <= total holds.
func (s *Stock) Valid() bool {
	return s.TotalStock >= 0 && s.ReservedStock >= 0 && s.ReservedStock <= s.TotalStock
}

const (
	MovementReserve    = "reserve"
	MovementConfirm    = "confirm"
	MovementCancel     = "cancel"
	MovementExpire     = "expire"
	MovementAdjustment = "adjustment"
)

type InventoryMovement struct {
	ID              string    `db:"id" json:"id"`
	ProductID       string    `db:"product_id" json:"product_id"`
	MovementType    string    `db:"movement_type" json:"movement_type"`
	TotalChange     int64     `db:"total_change" json:"total_change"`
	ReservedChange  int64     `db:"reserved_change" json:"reserved_change"`
	AvailableBefore int64     `db:"available_before" json:"available_before"`
	AvailableAfter  int64     `db:"available_after" json:"available_after"`
	ReferenceType   *string   `db:"reference_type" json:"reference_type,omitempty"`
	ReferenceID     *string   `db:"reference_id" json:"reference_id,omitempty"`
	Notes           string    `db:"notes" json:"notes"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}
