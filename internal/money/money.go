// Package money holds the fixed-point helpers used for every monetary value.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Places is the number of decimal places money is persisted and displayed with.
const Places = 2

var (
	hundred = decimal.NewFromInt(100)

	// Cent is the smallest payable amount.
	Cent = decimal.New(1, -Places)
)

// Round rounds half away from zero to Places.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Parse reads a decimal amount such as "12.50". Empty input is zero.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	return d, nil
}

// Percent returns pct percent of base without rounding.
func Percent(base, pct decimal.Decimal) decimal.Decimal {
	return base.Mul(pct).Div(hundred)
}

// Sum adds values; the sum of nothing is zero.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Format renders d with exactly Places decimals.
func Format(d decimal.Decimal) string {
	return Round(d).StringFixed(Places)
}
