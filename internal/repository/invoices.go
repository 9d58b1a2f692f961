package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"pharmaledger/m/domain"
)

const invoiceColumns = `id, sale_id, number, invoice_date, file_path, sent_email, sent_sms, created_at`

func InsertInvoice(ctx context.Context, q sqlx.ExtContext, inv *domain.Invoice) error {
	inv.CreatedAt = now()
	id, err := insertReturningID(ctx, q,
		`INSERT INTO invoices (sale_id, number, invoice_date, file_path, sent_email, sent_sms, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inv.SaleID, inv.Number, inv.InvoiceDate, inv.FilePath, inv.SentEmail, inv.SentSMS, inv.CreatedAt)
	if err != nil {
		return uniqueConflict(err, "invoice "+inv.Number)
	}
	inv.ID = id
	return nil
}

func ListInvoicesBySale(ctx context.Context, q sqlx.ExtContext, saleID int64) ([]domain.Invoice, error) {
	out := []domain.Invoice{}
	err := selectAll(ctx, q, &out, `SELECT `+invoiceColumns+` FROM invoices WHERE sale_id = ? ORDER BY id DESC`, saleID)
	return out, err
}

// LatestInvoice returns the most recent invoice of a sale, or nil.
func LatestInvoice(ctx context.Context, q sqlx.ExtContext, saleID int64) (*domain.Invoice, error) {
	var inv domain.Invoice
	err := sqlx.GetContext(ctx, q, &inv, q.Rebind(`SELECT `+invoiceColumns+` FROM invoices WHERE sale_id = ? ORDER BY id DESC LIMIT 1`), saleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func SetInvoiceFile(ctx context.Context, q sqlx.ExtContext, id int64, path string) error {
	_, err := exec(ctx, q, `UPDATE invoices SET file_path = ? WHERE id = ?`, path, id)
	return err
}
