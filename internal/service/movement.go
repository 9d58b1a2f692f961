package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"pharmaledger/m/domain"
	"pharmaledger/m/internal/ledger"
	"pharmaledger/m/internal/repository"
)

// MovementInput describes one signed change to a lot.
type MovementInput struct {
	Delta   int64
	Type    domain.MovementType
	Source  string
	Comment string
	Date    time.Time
	// ApplyToLot false only records the movement. Receipts use it: the
	// lot is created already holding the received quantity.
	ApplyToLot bool
}

// applyLotMovement adjusts the lot and appends its audit entry as one
// unit. lot must have been read, locked, in tx; it is updated in place.
func applyLotMovement(ctx context.Context, tx *sqlx.Tx, st *txState, lot *domain.Lot, in MovementInput) (domain.StockMovement, error) {
	if err := ledger.CheckDirection(in.Type, in.Delta); err != nil {
		return domain.StockMovement{}, err
	}

	before, after := lot.RemainingQuantity-in.Delta, lot.RemainingQuantity
	if in.ApplyToLot {
		next, err := ledger.AdjustRemaining(*lot, in.Delta)
		if err != nil {
			return domain.StockMovement{}, err
		}
		if err := repository.UpdateLotRemaining(ctx, tx, lot.ID, next); err != nil {
			return domain.StockMovement{}, fmt.Errorf("update lot %d: %w", lot.ID, err)
		}
		before, after = lot.RemainingQuantity, next
		lot.RemainingQuantity = next
	}

	m := domain.StockMovement{
		LotID:          lot.ID,
		MovementType:   in.Type,
		Quantity:       abs(in.Delta),
		QuantityBefore: before,
		QuantityAfter:  after,
		Source:         in.Source,
		MovementDate:   in.Date,
		Comment:        in.Comment,
	}
	if err := repository.InsertStockMovement(ctx, tx, &m); err != nil {
		return domain.StockMovement{}, fmt.Errorf("record movement for lot %d: %w", lot.ID, err)
	}
	st.moved(in.Type, lot.ProductID)
	return m, nil
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
