package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type POStatus string

const (
	PODraft     POStatus = "draft"
	POReceived  POStatus = "received"
	POCancelled POStatus = "cancelled"
)

type PurchaseOrder struct {
	ID          int64      `db:"id" json:"id"`
	SupplierID  int64      `db:"supplier_id" json:"supplier_id"`
	Status      POStatus   `db:"status" json:"status"`
	OrderDate   time.Time  `db:"order_date" json:"order_date"`
	ReceiptDate *time.Time `db:"receipt_date" json:"receipt_date,omitempty"`
	Notes       string     `db:"notes" json:"notes"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
	Lots        []Lot      `db:"-" json:"lots,omitempty"`
}

// Lot is a received batch of a product and the unit of truth for
// quantity on hand. Quantity never changes after creation;
// RemainingQuantity stays within [0, Quantity].
type Lot struct {
	ID                int64           `db:"id" json:"id"`
	ProductID         int64           `db:"product_id" json:"product_id"`
	PurchaseOrderID   int64           `db:"purchase_order_id" json:"purchase_order_id"`
	BatchNumber       string          `db:"batch_number" json:"batch_number"`
	Quantity          int64           `db:"quantity" json:"quantity"`
	RemainingQuantity int64           `db:"remaining_quantity" json:"remaining_quantity"`
	ExpirationDate    time.Time       `db:"expiration_date" json:"expiration_date"`
	PurchasePrice     decimal.Decimal `db:"purchase_price" json:"purchase_price"`
	SalePrice         decimal.Decimal `db:"sale_price" json:"sale_price"`
	IsActive          bool            `db:"is_active" json:"is_active"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// IsExpired reports whether the lot's expiration date is on or before asOf's day.
func (l Lot) IsExpired(asOf time.Time) bool {
	return !DateOf(l.ExpirationDate).After(DateOf(asOf))
}

// IsAvailable reports whether the lot can be allocated to a sale on asOf.
func (l Lot) IsAvailable(asOf time.Time) bool {
	return l.IsActive && l.RemainingQuantity > 0 && !l.IsExpired(asOf)
}

// DateOf truncates t to its calendar day, expressed as midnight UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ExpiringLot is a lot row joined with its product name, used by alerts.
type ExpiringLot struct {
	LotID             int64     `db:"id" json:"lot_id"`
	ProductID         int64     `db:"product_id" json:"product_id"`
	ProductName       string    `db:"product_name" json:"product_name"`
	BatchNumber       string    `db:"batch_number" json:"batch_number"`
	RemainingQuantity int64     `db:"remaining_quantity" json:"remaining_quantity"`
	ExpirationDate    time.Time `db:"expiration_date" json:"expiration_date"`
	IsExpired         bool      `db:"-" json:"is_expired"`
}
