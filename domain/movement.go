package domain

import "time"

type MovementType string

const (
	MovementIn         MovementType = "in"
	MovementOut        MovementType = "out"
	MovementAdjustment MovementType = "adjustment"
)

func (t MovementType) Valid() bool {
	switch t {
	case MovementIn, MovementOut, MovementAdjustment:
		return true
	}
	return false
}

// StockMovement is an append-only audit entry for one change to a lot.
// Quantity is always positive; QuantityBefore and QuantityAfter give the
// direction of adjustments.
type StockMovement struct {
	ID             int64        `db:"id" json:"id"`
	LotID          int64        `db:"lot_id" json:"lot_id"`
	MovementType   MovementType `db:"movement_type" json:"movement_type"`
	Quantity       int64        `db:"quantity" json:"quantity"`
	QuantityBefore int64        `db:"quantity_before" json:"quantity_before"`
	QuantityAfter  int64        `db:"quantity_after" json:"quantity_after"`
	Source         string       `db:"source" json:"source"`
	MovementDate   time.Time    `db:"movement_date" json:"movement_date"`
	Comment        string       `db:"comment" json:"comment"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
}
