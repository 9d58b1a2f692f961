package ledger

import "pharmaledger/m/domain"

// AdjustRemaining returns the lot's remaining quantity after delta, or an
// *AdjustmentError if the result would leave [0, lot.Quantity].
func AdjustRemaining(lot domain.Lot, delta int64) (int64, error) {
	next := lot.RemainingQuantity + delta
	if next < 0 || next > lot.Quantity {
		return lot.RemainingQuantity, &AdjustmentError{
			LotID:     lot.ID,
			Remaining: lot.RemainingQuantity,
			Quantity:  lot.Quantity,
			Delta:     delta,
		}
	}
	return next, nil
}

// CheckDirection validates that delta moves stock the way typ says:
// in adds, out removes, adjustment may do either.
func CheckDirection(typ domain.MovementType, delta int64) error {
	switch {
	case !typ.Valid():
		return Invalid("movement_type", "must be in, out or adjustment")
	case delta == 0:
		return Invalid("quantity", "must not be zero")
	case typ == domain.MovementIn && delta < 0:
		return Invalid("quantity", "an in movement must add stock")
	case typ == domain.MovementOut && delta > 0:
		return Invalid("quantity", "an out movement must remove stock")
	}
	return nil
}
