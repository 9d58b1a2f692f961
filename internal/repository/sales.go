package repository

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"pharmaledger/m/domain"
	"pharmaledger/m/internal/ledger"
)

const saleColumns = `id, customer_id, user_id, sale_date, subtotal, tax_amount, discount_type, discount_value,
	total_amount, amount_paid, balance_due, status, notes, created_at, updated_at`

func InsertSale(ctx context.Context, q sqlx.ExtContext, s *domain.Sale) error {
	s.CreatedAt = now()
	s.UpdatedAt = s.CreatedAt
	s.SaleDate = domain.DateOf(s.SaleDate)
	if s.Status == "" {
		s.Status = domain.SaleDraft
	}
	id, err := insertReturningID(ctx, q,
		`INSERT INTO sales (customer_id, user_id, sale_date, subtotal, tax_amount, discount_type, discount_value,
		 total_amount, amount_paid, balance_due, status, notes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.CustomerID, s.UserID, dateArg(s.SaleDate), s.Subtotal, s.TaxAmount, s.DiscountType, s.DiscountValue,
		s.TotalAmount, s.AmountPaid, s.BalanceDue, s.Status, s.Notes, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return err
	}
	s.ID = id
	return nil
}

func GetSale(ctx context.Context, q sqlx.ExtContext, id int64, lock bool) (domain.Sale, error) {
	var s domain.Sale
	err := get(ctx, q, &s, "sale", id, `SELECT `+saleColumns+` FROM sales WHERE id = ?`+lockClause(q, lock), id)
	return s, err
}

// UpdateSaleHeader writes the caller-controlled fields of a sale. Totals
// are written only by UpdateSaleTotals.
func UpdateSaleHeader(ctx context.Context, q sqlx.ExtContext, s *domain.Sale) error {
	s.UpdatedAt = now()
	_, err := exec(ctx, q,
		`UPDATE sales SET customer_id = ?, sale_date = ?, tax_amount = ?, discount_type = ?, discount_value = ?, notes = ?, updated_at = ?
		 WHERE id = ?`,
		s.CustomerID, dateArg(s.SaleDate), s.TaxAmount, s.DiscountType, s.DiscountValue, s.Notes, s.UpdatedAt, s.ID)
	return err
}

// UpdateSaleTotals stores the derived columns produced by settlement.
func UpdateSaleTotals(ctx context.Context, q sqlx.ExtContext, id int64, t ledger.Totals) error {
	_, err := exec(ctx, q,
		`UPDATE sales SET subtotal = ?, tax_amount = ?, total_amount = ?, amount_paid = ?, balance_due = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		t.Subtotal, t.Tax, t.Total, t.Paid, t.BalanceDue, t.Status, now(), id)
	return err
}

func DeleteSale(ctx context.Context, q sqlx.ExtContext, id int64) error {
	n, err := exec(ctx, q, `DELETE FROM sales WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return notFoundErr("sale", id)
	}
	return nil
}

// SaleFilter narrows ListSales; zero values match everything.
type SaleFilter struct {
	From       *time.Time
	To         *time.Time
	CustomerID *int64
	Status     domain.SaleStatus
	Limit      int
}

func ListSales(ctx context.Context, q sqlx.ExtContext, f SaleFilter) ([]domain.Sale, error) {
	var (
		clauses []string
		args    []any
	)
	if f.From != nil {
		clauses = append(clauses, "sale_date >= ?")
		args = append(args, dateArg(*f.From))
	}
	if f.To != nil {
		clauses = append(clauses, "sale_date <= ?")
		args = append(args, dateArg(*f.To))
	}
	if f.CustomerID != nil {
		clauses = append(clauses, "customer_id = ?")
		args = append(args, *f.CustomerID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + saleColumns + ` FROM sales`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY sale_date DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	out := []domain.Sale{}
	err := selectAll(ctx, q, &out, query, args...)
	return out, err
}

// ListSalesWithoutInvoice feeds batch invoice generation.
func ListSalesWithoutInvoice(ctx context.Context, q sqlx.ExtContext) ([]int64, error) {
	var ids []int64
	err := selectAll(ctx, q, &ids,
		`SELECT s.id FROM sales s WHERE NOT EXISTS (SELECT 1 FROM invoices i WHERE i.sale_id = s.id) ORDER BY s.id`)
	return ids, err
}

const saleItemColumns = `si.id, si.sale_id, si.product_id, p.name AS product_name, si.quantity, si.unit_price, si.line_total`

func InsertSaleItem(ctx context.Context, q sqlx.ExtContext, it *domain.SaleItem) error {
	id, err := insertReturningID(ctx, q,
		`INSERT INTO sale_items (sale_id, product_id, quantity, unit_price, line_total) VALUES (?, ?, ?, ?, ?)`,
		it.SaleID, it.ProductID, it.Quantity, it.UnitPrice, it.LineTotal)
	if err != nil {
		if IsUniqueViolation(err) {
			return ledger.Conflictf("product %d is already on sale %d", it.ProductID, it.SaleID)
		}
		return err
	}
	it.ID = id
	return nil
}

// UpdateSaleItemPricing stores a line's quantity and the prices of its
// latest allocation.
func UpdateSaleItemPricing(ctx context.Context, q sqlx.ExtContext, it *domain.SaleItem) error {
	_, err := exec(ctx, q, `UPDATE sale_items SET quantity = ?, unit_price = ?, line_total = ? WHERE id = ?`,
		it.Quantity, it.UnitPrice, it.LineTotal, it.ID)
	return err
}

func GetSaleItem(ctx context.Context, q sqlx.ExtContext, saleID, itemID int64) (domain.SaleItem, error) {
	var it domain.SaleItem
	err := get(ctx, q, &it, "sale item", itemID,
		`SELECT `+saleItemColumns+` FROM sale_items si JOIN products p ON p.id = si.product_id WHERE si.id = ? AND si.sale_id = ?`,
		itemID, saleID)
	return it, err
}

func ListSaleItems(ctx context.Context, q sqlx.ExtContext, saleID int64) ([]domain.SaleItem, error) {
	out := []domain.SaleItem{}
	err := selectAll(ctx, q, &out,
		`SELECT `+saleItemColumns+` FROM sale_items si JOIN products p ON p.id = si.product_id WHERE si.sale_id = ? ORDER BY si.id`, saleID)
	return out, err
}

// ListSaleItemsForSales loads the lines of many sales at once.
func ListSaleItemsForSales(ctx context.Context, q sqlx.ExtContext, saleIDs []int64) ([]domain.SaleItem, error) {
	out := []domain.SaleItem{}
	if len(saleIDs) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(
		`SELECT `+saleItemColumns+` FROM sale_items si JOIN products p ON p.id = si.product_id WHERE si.sale_id IN (?) ORDER BY si.sale_id, si.id`, saleIDs)
	if err != nil {
		return nil, err
	}
	err = selectAll(ctx, q, &out, query, args...)
	return out, err
}

func DeleteSaleItem(ctx context.Context, q sqlx.ExtContext, id int64) error {
	_, err := exec(ctx, q, `DELETE FROM sale_items WHERE id = ?`, id)
	return err
}

func InsertSaleItemLot(ctx context.Context, q sqlx.ExtContext, sil *domain.SaleItemLot) error {
	id, err := insertReturningID(ctx, q,
		`INSERT INTO sale_item_lots (sale_item_id, lot_id, quantity, unit_price) VALUES (?, ?, ?, ?)`,
		sil.SaleItemID, sil.LotID, sil.Quantity, sil.UnitPrice)
	if err != nil {
		return err
	}
	sil.ID = id
	return nil
}

func ListSaleItemLots(ctx context.Context, q sqlx.ExtContext, saleItemID int64) ([]domain.SaleItemLot, error) {
	out := []domain.SaleItemLot{}
	err := selectAll(ctx, q, &out,
		`SELECT sil.id, sil.sale_item_id, sil.lot_id, l.batch_number, sil.quantity, sil.unit_price
		 FROM sale_item_lots sil
		 JOIN lots l ON l.id = sil.lot_id
		 WHERE sil.sale_item_id = ? ORDER BY sil.id`, saleItemID)
	return out, err
}

func DeleteSaleItemLots(ctx context.Context, q sqlx.ExtContext, saleItemID int64) error {
	_, err := exec(ctx, q, `DELETE FROM sale_item_lots WHERE sale_item_id = ?`, saleItemID)
	return err
}
