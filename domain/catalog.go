package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Category struct {
	ID          int64  `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Code        string `db:"code" json:"code"`
	Description string `db:"description" json:"description"`
}

type DosageForm struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

type Supplier struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Contact   string    `db:"contact" json:"contact"`
	Phone     string    `db:"phone" json:"phone"`
	Email     string    `db:"email" json:"email"`
	Address   string    `db:"address" json:"address"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Product identifies a sellable item. Price and quantity live on its lots.
type Product struct {
	ID             int64     `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	Barcode        *string   `db:"barcode" json:"barcode,omitempty"`
	Description    string    `db:"description" json:"description"`
	CategoryID     *int64    `db:"category_id" json:"category_id,omitempty"`
	DosageFormID   *int64    `db:"dosage_form_id" json:"dosage_form_id,omitempty"`
	SupplierID     *int64    `db:"supplier_id" json:"supplier_id,omitempty"`
	StockThreshold int64     `db:"stock_threshold" json:"stock_threshold"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// ProductSummary is a product with its sellable stock as of today.
type ProductSummary struct {
	Product
	SalePrice       decimal.Decimal `json:"sale_price"`
	Sellable        int64           `json:"sellable"`
	BelowThreshold  bool            `json:"below_threshold"`
	Expired         int64           `json:"expired_stock"`
	HasExpiredStock bool            `json:"has_expired_stock"`
}

// LotStock is one line of a product's stock breakdown.
type LotStock struct {
	LotID             int64           `json:"lot_id"`
	BatchNumber       string          `json:"batch_number"`
	ExpirationDate    time.Time       `json:"expiration_date"`
	RemainingQuantity int64           `json:"remaining_quantity"`
	SalePrice         decimal.Decimal `json:"sale_price"`
	IsActive          bool            `json:"is_active"`
	IsExpired         bool            `json:"is_expired"`
}

// StockInfo splits a product's stock into sellable and dead stock.
type StockInfo struct {
	ProductID      int64           `json:"product_id"`
	ProductName    string          `json:"product_name"`
	SalePrice      decimal.Decimal `json:"sale_price"`
	Sellable       int64           `json:"sellable"`
	Expired        int64           `json:"expired"`
	StockThreshold int64           `json:"stock_threshold"`
	BelowThreshold bool            `json:"below_threshold"`
	Lots           []LotStock      `json:"lots"`
}
