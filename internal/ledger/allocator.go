package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"pharmaledger/m/domain"
	"pharmaledger/m/internal/money"
)

// Draw is the quantity taken from one lot at that lot's sale price.
type Draw struct {
	Lot       domain.Lot
	Quantity  int64
	UnitPrice decimal.Decimal
}

func (d Draw) Total() decimal.Decimal {
	return d.UnitPrice.Mul(decimal.NewFromInt(d.Quantity))
}

// Allocation is the FEFO plan for one sale line. LineTotal is the exact sum
// of the draws; UnitPrice is LineTotal / Quantity rounded for display.
type Allocation struct {
	ProductID int64
	Quantity  int64
	Draws     []Draw
	LineTotal decimal.Decimal
	UnitPrice decimal.Decimal
}

// Candidates returns the lots available on asOf, soonest expiration first,
// then earliest created, then lowest id.
func Candidates(lots []domain.Lot, asOf time.Time) []domain.Lot {
	out := make([]domain.Lot, 0, len(lots))
	for _, l := range lots {
		if l.IsAvailable(asOf) {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		ea, eb := domain.DateOf(a.ExpirationDate), domain.DateOf(b.ExpirationDate)
		if !ea.Equal(eb) {
			return ea.Before(eb)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}

// Available is the sellable quantity across lots on asOf.
func Available(lots []domain.Lot, asOf time.Time) int64 {
	var total int64
	for _, l := range lots {
		if l.IsAvailable(asOf) {
			total += l.RemainingQuantity
		}
	}
	return total
}

// Expired is the quantity left on expired lots, active or not.
func Expired(lots []domain.Lot, asOf time.Time) int64 {
	var total int64
	for _, l := range lots {
		if l.RemainingQuantity > 0 && l.IsExpired(asOf) {
			total += l.RemainingQuantity
		}
	}
	return total
}

// ExpiredOnShelf is the quantity left on active lots that have expired.
// Deactivated lots are already off the shelf and are not counted.
func ExpiredOnShelf(lots []domain.Lot, asOf time.Time) int64 {
	var total int64
	for _, l := range lots {
		if l.IsActive && l.RemainingQuantity > 0 && l.IsExpired(asOf) {
			total += l.RemainingQuantity
		}
	}
	return total
}

// CurrentSalePrice is the sale price of the most recently received active
// lot, expired or not, or zero when the product has no active lot.
func CurrentSalePrice(lots []domain.Lot) decimal.Decimal {
	var latest *domain.Lot
	for i := range lots {
		l := &lots[i]
		if !l.IsActive {
			continue
		}
		if latest == nil || l.CreatedAt.After(latest.CreatedAt) ||
			(l.CreatedAt.Equal(latest.CreatedAt) && l.ID > latest.ID) {
			latest = l
		}
	}
	if latest == nil {
		return decimal.Zero
	}
	return latest.SalePrice
}

// Allocate plans a draw of quantity units of a product from lots using
// FEFO. It does not modify lots. When the available lots cannot cover the
// request it returns an *InsufficientStockError and no plan.
func Allocate(productID int64, lots []domain.Lot, quantity int64, asOf time.Time) (Allocation, error) {
	if quantity <= 0 {
		return Allocation{}, Invalid("quantity", "must be greater than zero")
	}

	candidates := Candidates(lots, asOf)
	var available int64
	for _, l := range candidates {
		available += l.RemainingQuantity
	}
	if available < quantity {
		return Allocation{}, &InsufficientStockError{ProductID: productID, Requested: quantity, Available: available}
	}

	alloc := Allocation{ProductID: productID, Quantity: quantity, LineTotal: decimal.Zero}
	needed := quantity
	for _, l := range candidates {
		if needed == 0 {
			break
		}
		take := min(l.RemainingQuantity, needed)
		d := Draw{Lot: l, Quantity: take, UnitPrice: l.SalePrice}
		alloc.Draws = append(alloc.Draws, d)
		alloc.LineTotal = alloc.LineTotal.Add(d.Total())
		needed -= take
	}
	alloc.UnitPrice = money.Round(alloc.LineTotal.Div(decimal.NewFromInt(quantity)))
	return alloc, nil
}
