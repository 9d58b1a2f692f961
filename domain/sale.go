package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type SaleStatus string

const (
	SaleDraft   SaleStatus = "draft"
	SalePartial SaleStatus = "partial"
	SalePaid    SaleStatus = "paid"
)

type DiscountType string

const (
	DiscountAmount     DiscountType = "amount"
	DiscountPercentage DiscountType = "percentage"
)

func (d DiscountType) Valid() bool {
	return d == DiscountAmount || d == DiscountPercentage
}

type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "cash"
	PaymentCard         PaymentMethod = "card"
	PaymentMobileMoney  PaymentMethod = "mobile_money"
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentOther        PaymentMethod = "other"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentMobileMoney, PaymentBankTransfer, PaymentOther:
		return true
	}
	return false
}

// Customer.CreditBalance is derived from the customer's unpaid sales and is
// never written from input.
type Customer struct {
	ID            int64           `db:"id" json:"id"`
	Name          string          `db:"name" json:"name"`
	Phone         string          `db:"phone" json:"phone"`
	Email         string          `db:"email" json:"email"`
	Address       string          `db:"address" json:"address"`
	CreditBalance decimal.Decimal `db:"credit_balance" json:"credit_balance"`
	IsAnonymous   bool            `db:"is_anonymous" json:"is_anonymous"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// Sale totals, balance and status are recomputed from items and payments
// on every change and never set directly.
type Sale struct {
	ID            int64           `db:"id" json:"id"`
	CustomerID    *int64          `db:"customer_id" json:"customer_id,omitempty"`
	UserID        int64           `db:"user_id" json:"user_id"`
	SaleDate      time.Time       `db:"sale_date" json:"sale_date"`
	Subtotal      decimal.Decimal `db:"subtotal" json:"subtotal"`
	TaxAmount     decimal.Decimal `db:"tax_amount" json:"tax_amount"`
	DiscountType  DiscountType    `db:"discount_type" json:"discount_type"`
	DiscountValue decimal.Decimal `db:"discount_value" json:"discount_value"`
	TotalAmount   decimal.Decimal `db:"total_amount" json:"total_amount"`
	AmountPaid    decimal.Decimal `db:"amount_paid" json:"amount_paid"`
	BalanceDue    decimal.Decimal `db:"balance_due" json:"balance_due"`
	Status        SaleStatus      `db:"status" json:"status"`
	Notes         string          `db:"notes" json:"notes"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
	Items         []SaleItem      `db:"-" json:"items,omitempty"`
	Payments      []Payment       `db:"-" json:"payments,omitempty"`
}

// SaleItem is the priced line for one product of a sale. UnitPrice is the
// weighted average over Lots; LineTotal is the exact sum of the lot draws.
type SaleItem struct {
	ID          int64           `db:"id" json:"id"`
	SaleID      int64           `db:"sale_id" json:"sale_id"`
	ProductID   int64           `db:"product_id" json:"product_id"`
	ProductName string          `db:"product_name" json:"product_name"`
	Quantity    int64           `db:"quantity" json:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	LineTotal   decimal.Decimal `db:"line_total" json:"line_total"`
	Lots        []SaleItemLot   `db:"-" json:"lots,omitempty"`
}

// SaleItemLot records what a sale line took from one lot, so the draw can
// be restored exactly.
type SaleItemLot struct {
	ID          int64           `db:"id" json:"id"`
	SaleItemID  int64           `db:"sale_item_id" json:"sale_item_id"`
	LotID       int64           `db:"lot_id" json:"lot_id"`
	BatchNumber string          `db:"batch_number" json:"batch_number"`
	Quantity    int64           `db:"quantity" json:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
}

type Payment struct {
	ID          int64           `db:"id" json:"id"`
	SaleID      int64           `db:"sale_id" json:"sale_id"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	Method      PaymentMethod   `db:"method" json:"method"`
	PaymentDate time.Time       `db:"payment_date" json:"payment_date"`
	Reference   string          `db:"reference" json:"reference"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}
