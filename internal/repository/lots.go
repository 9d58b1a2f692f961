package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"pharmaledger/m/domain"
)

const purchaseOrderColumns = `id, supplier_id, status, order_date, receipt_date, notes, created_at, updated_at`

func InsertPurchaseOrder(ctx context.Context, q sqlx.ExtContext, po *domain.PurchaseOrder) error {
	po.CreatedAt = now()
	po.UpdatedAt = po.CreatedAt
	if po.Status == "" {
		po.Status = domain.PODraft
	}
	id, err := insertReturningID(ctx, q,
		`INSERT INTO purchase_orders (supplier_id, status, order_date, notes, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		po.SupplierID, po.Status, dateArg(po.OrderDate), po.Notes, po.CreatedAt, po.UpdatedAt)
	if err != nil {
		return err
	}
	po.ID = id
	return nil
}

func GetPurchaseOrder(ctx context.Context, q sqlx.ExtContext, id int64, lock bool) (domain.PurchaseOrder, error) {
	var po domain.PurchaseOrder
	err := get(ctx, q, &po, "purchase order", id,
		`SELECT `+purchaseOrderColumns+` FROM purchase_orders WHERE id = ?`+lockClause(q, lock), id)
	return po, err
}

func ListPurchaseOrders(ctx context.Context, q sqlx.ExtContext, status domain.POStatus) ([]domain.PurchaseOrder, error) {
	out := []domain.PurchaseOrder{}
	if status != "" {
		err := selectAll(ctx, q, &out, `SELECT `+purchaseOrderColumns+` FROM purchase_orders WHERE status = ? ORDER BY id DESC`, status)
		return out, err
	}
	err := selectAll(ctx, q, &out, `SELECT `+purchaseOrderColumns+` FROM purchase_orders ORDER BY id DESC`)
	return out, err
}

// SetPurchaseOrderStatus moves a purchase order to status, stamping the
// receipt date when one is given.
func SetPurchaseOrderStatus(ctx context.Context, q sqlx.ExtContext, id int64, status domain.POStatus, receiptDate *time.Time) error {
	var receipt any
	if receiptDate != nil {
		receipt = dateArg(*receiptDate)
	}
	_, err := exec(ctx, q,
		`UPDATE purchase_orders SET status = ?, receipt_date = COALESCE(?, receipt_date), updated_at = ? WHERE id = ?`,
		status, receipt, now(), id)
	return err
}

const lotColumns = `id, product_id, purchase_order_id, batch_number, quantity, remaining_quantity, expiration_date,
	purchase_price, sale_price, is_active, created_at, updated_at`

// InsertLot creates a lot with its remaining quantity equal to its quantity.
func InsertLot(ctx context.Context, q sqlx.ExtContext, l *domain.Lot) error {
	l.CreatedAt = now()
	l.UpdatedAt = l.CreatedAt
	l.RemainingQuantity = l.Quantity
	l.ExpirationDate = domain.DateOf(l.ExpirationDate)
	id, err := insertReturningID(ctx, q,
		`INSERT INTO lots (product_id, purchase_order_id, batch_number, quantity, remaining_quantity, expiration_date,
		 purchase_price, sale_price, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ProductID, l.PurchaseOrderID, l.BatchNumber, l.Quantity, l.RemainingQuantity, dateArg(l.ExpirationDate),
		l.PurchasePrice, l.SalePrice, l.IsActive, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return err
	}
	l.ID = id
	return nil
}

func GetLot(ctx context.Context, q sqlx.ExtContext, id int64, lock bool) (domain.Lot, error) {
	var l domain.Lot
	err := get(ctx, q, &l, "lot", id, `SELECT `+lotColumns+` FROM lots WHERE id = ?`+lockClause(q, lock), id)
	return l, err
}

// ListLotsByProduct returns every lot of a product. With lock set the rows
// stay locked until the surrounding transaction ends, so the caller's FEFO
// plan cannot be invalidated by a concurrent sale.
func ListLotsByProduct(ctx context.Context, q sqlx.ExtContext, productID int64, lock bool) ([]domain.Lot, error) {
	out := []domain.Lot{}
	err := selectAll(ctx, q, &out,
		`SELECT `+lotColumns+` FROM lots WHERE product_id = ? ORDER BY expiration_date, created_at, id`+lockClause(q, lock), productID)
	return out, err
}

func ListLotsByPurchaseOrder(ctx context.Context, q sqlx.ExtContext, poID int64) ([]domain.Lot, error) {
	out := []domain.Lot{}
	err := selectAll(ctx, q, &out, `SELECT `+lotColumns+` FROM lots WHERE purchase_order_id = ? ORDER BY id`, poID)
	return out, err
}

// ListAllLots feeds stock reports.
func ListAllLots(ctx context.Context, q sqlx.ExtContext) ([]domain.Lot, error) {
	out := []domain.Lot{}
	err := selectAll(ctx, q, &out, `SELECT `+lotColumns+` FROM lots ORDER BY product_id, expiration_date, id`)
	return out, err
}

// UpdateLotRemaining stores a new remaining quantity. Only the lot
// movement primitive calls it.
func UpdateLotRemaining(ctx context.Context, q sqlx.ExtContext, id, remaining int64) error {
	n, err := exec(ctx, q, `UPDATE lots SET remaining_quantity = ?, updated_at = ? WHERE id = ?`, remaining, now(), id)
	if err != nil {
		return err
	}
	if n == 0 {
		return notFoundErr("lot", id)
	}
	return nil
}

func SetLotActive(ctx context.Context, q sqlx.ExtContext, id int64, active bool) error {
	n, err := exec(ctx, q, `UPDATE lots SET is_active = ?, updated_at = ? WHERE id = ?`, active, now(), id)
	if err != nil {
		return err
	}
	if n == 0 {
		return notFoundErr("lot", id)
	}
	return nil
}

// ListExpiringLots returns lots with stock left that expire on or before
// the given day, soonest first.
func ListExpiringLots(ctx context.Context, q sqlx.ExtContext, before time.Time) ([]domain.ExpiringLot, error) {
	out := []domain.ExpiringLot{}
	err := selectAll(ctx, q, &out,
		`SELECT l.id, l.product_id, p.name AS product_name, l.batch_number, l.remaining_quantity, l.expiration_date
		 FROM lots l
		 JOIN products p ON p.id = l.product_id
		 WHERE l.remaining_quantity > 0 AND l.expiration_date <= ?
		 ORDER BY l.expiration_date, l.id`, dateArg(before))
	return out, err
}

const movementColumns = `id, lot_id, movement_type, quantity, quantity_before, quantity_after, source, movement_date, comment, created_at`

func InsertStockMovement(ctx context.Context, q sqlx.ExtContext, m *domain.StockMovement) error {
	m.CreatedAt = now()
	m.MovementDate = domain.DateOf(m.MovementDate)
	id, err := insertReturningID(ctx, q,
		`INSERT INTO stock_movements (lot_id, movement_type, quantity, quantity_before, quantity_after, source, movement_date, comment, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.LotID, m.MovementType, m.Quantity, m.QuantityBefore, m.QuantityAfter, m.Source, dateArg(m.MovementDate), m.Comment, m.CreatedAt)
	if err != nil {
		return err
	}
	m.ID = id
	return nil
}

func ListMovementsByLot(ctx context.Context, q sqlx.ExtContext, lotID int64) ([]domain.StockMovement, error) {
	out := []domain.StockMovement{}
	err := selectAll(ctx, q, &out, `SELECT `+movementColumns+` FROM stock_movements WHERE lot_id = ? ORDER BY id`, lotID)
	return out, err
}

func CountMovements(ctx context.Context, q sqlx.ExtContext) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, q, &n, `SELECT COUNT(*) FROM stock_movements`)
	return n, err
}
