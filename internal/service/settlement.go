package service

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"pharmaledger/m/internal/ledger"
	"pharmaledger/m/internal/repository"
)

// recomputeTotals re-derives the settlement columns of a sale from its
// current items and payments. Every command that touches either calls it
// before committing.
func recomputeTotals(ctx context.Context, tx *sqlx.Tx, saleID int64) (ledger.Totals, error) {
	sale, err := repository.GetSale(ctx, tx, saleID, true)
	if err != nil {
		return ledger.Totals{}, err
	}
	items, err := repository.ListSaleItems(ctx, tx, saleID)
	if err != nil {
		return ledger.Totals{}, fmt.Errorf("load items of sale %d: %w", saleID, err)
	}
	payments, err := repository.ListPayments(ctx, tx, saleID)
	if err != nil {
		return ledger.Totals{}, fmt.Errorf("load payments of sale %d: %w", saleID, err)
	}

	itemsSubtotal, paid := decimal.Zero, decimal.Zero
	for _, it := range items {
		itemsSubtotal = itemsSubtotal.Add(it.LineTotal)
	}
	for _, p := range payments {
		paid = paid.Add(p.Amount)
	}

	totals, err := ledger.Settle(itemsSubtotal, sale.DiscountType, sale.DiscountValue, sale.TaxAmount, paid)
	if err != nil {
		return ledger.Totals{}, err
	}
	if err := repository.UpdateSaleTotals(ctx, tx, saleID, totals); err != nil {
		return ledger.Totals{}, fmt.Errorf("store totals of sale %d: %w", saleID, err)
	}
	return totals, nil
}

// recomputeCustomerCredit sets each named customer's credit balance to
// the sum of the positive balances of their sales. Nil ids are skipped.
func recomputeCustomerCredit(ctx context.Context, tx *sqlx.Tx, customerIDs ...*int64) error {
	seen := make(map[int64]bool, len(customerIDs))
	for _, id := range customerIDs {
		if id == nil || seen[*id] {
			continue
		}
		seen[*id] = true
		if err := refreshCredit(ctx, tx, *id); err != nil {
			return err
		}
	}
	return nil
}

func refreshCredit(ctx context.Context, tx *sqlx.Tx, customerID int64) error {
	if _, err := repository.GetCustomer(ctx, tx, customerID, true); err != nil {
		return err
	}
	balances, err := repository.SaleBalances(ctx, tx, customerID)
	if err != nil {
		return fmt.Errorf("load balances of customer %d: %w", customerID, err)
	}
	return repository.SetCustomerCredit(ctx, tx, customerID, ledger.CreditBalance(balances))
}

// RecalculateCredit rebuilds credit balances from the sales table, for one
// customer or, with a nil id, for all of them. It returns how many were
// refreshed.
func (s *Sales) RecalculateCredit(ctx context.Context, customerID *int64) (int, error) {
	var n int
	err := s.run(ctx, "recalculate_credit", func(tx *sqlx.Tx, _ *txState) error {
		ids := []int64{}
		if customerID != nil {
			ids = append(ids, *customerID)
		} else {
			var err error
			if ids, err = repository.ListCustomerIDs(ctx, tx); err != nil {
				return err
			}
		}
		for _, id := range ids {
			if err := refreshCredit(ctx, tx, id); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}
