package ledger

import (
	"github.com/shopspring/decimal"

	"pharmaledger/m/domain"
	"pharmaledger/m/internal/money"
)

var hundred = decimal.NewFromInt(100)

// Totals is the settled state of a sale.
type Totals struct {
	ItemsSubtotal decimal.Decimal
	Discount      decimal.Decimal
	Subtotal      decimal.Decimal
	Tax           decimal.Decimal
	Total         decimal.Decimal
	Paid          decimal.Decimal
	BalanceDue    decimal.Decimal
	Status        domain.SaleStatus
}

// DiscountAmount is the effective discount on the raw items subtotal.
// Invoices call this to print the same figure the sale was settled with.
func DiscountAmount(typ domain.DiscountType, value, itemsSubtotal decimal.Decimal) decimal.Decimal {
	if typ == domain.DiscountPercentage {
		return money.Round(money.Percent(itemsSubtotal, value))
	}
	return money.Round(value)
}

// ValidateDiscountInput checks what can be checked without the items:
// a known type, a non-negative value and a percentage no higher than 100.
func ValidateDiscountInput(typ domain.DiscountType, value decimal.Decimal) error {
	if !typ.Valid() {
		return Invalid("discount_type", "must be amount or percentage")
	}
	if value.IsNegative() {
		return Invalid("discount_value", "must not be negative")
	}
	if typ == domain.DiscountPercentage && value.GreaterThan(hundred) {
		return Invalid("discount_value", "percentage must be between 0 and 100")
	}
	return nil
}

// ValidateDiscount also bounds an amount discount by the raw items subtotal.
func ValidateDiscount(typ domain.DiscountType, value, itemsSubtotal decimal.Decimal) error {
	if err := ValidateDiscountInput(typ, value); err != nil {
		return err
	}
	if typ == domain.DiscountAmount && value.GreaterThan(itemsSubtotal) {
		return Invalid("discount_value", "must not exceed the items subtotal of "+money.Format(itemsSubtotal))
	}
	return nil
}

// DeriveStatus is paid when paid covers total, partial when something but
// not everything is paid, draft otherwise.
func DeriveStatus(paid, total decimal.Decimal) domain.SaleStatus {
	switch {
	case paid.GreaterThanOrEqual(total):
		return domain.SalePaid
	case paid.IsPositive():
		return domain.SalePartial
	default:
		return domain.SaleDraft
	}
}

// Settle derives a sale's totals from its raw items subtotal, discount,
// tax and payments. It rejects discounts that are out of bounds or that
// would make the subtotal negative.
func Settle(itemsSubtotal decimal.Decimal, typ domain.DiscountType, value, tax, paid decimal.Decimal) (Totals, error) {
	if err := ValidateDiscount(typ, value, itemsSubtotal); err != nil {
		return Totals{}, err
	}
	if tax.IsNegative() {
		return Totals{}, Invalid("tax_amount", "must not be negative")
	}

	discount := DiscountAmount(typ, value, itemsSubtotal)
	subtotal := money.Round(itemsSubtotal.Sub(discount))
	if subtotal.IsNegative() {
		return Totals{}, Invalid("discount_value", "discount exceeds the items subtotal")
	}
	tax = money.Round(tax)
	paid = money.Round(paid)
	total := subtotal.Add(tax)

	return Totals{
		ItemsSubtotal: money.Round(itemsSubtotal),
		Discount:      discount,
		Subtotal:      subtotal,
		Tax:           tax,
		Total:         total,
		Paid:          paid,
		BalanceDue:    total.Sub(paid),
		Status:        DeriveStatus(paid, total),
	}, nil
}

// CreditBalance sums the positive balances.
func CreditBalance(balances []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, b := range balances {
		if b.IsPositive() {
			total = total.Add(b)
		}
	}
	return total
}
