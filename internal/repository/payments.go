package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"pharmaledger/m/domain"
)

const paymentColumns = `id, sale_id, amount, method, payment_date, reference, created_at`

func InsertPayment(ctx context.Context, q sqlx.ExtContext, p *domain.Payment) error {
	p.CreatedAt = now()
	p.PaymentDate = domain.DateOf(p.PaymentDate)
	id, err := insertReturningID(ctx, q,
		`INSERT INTO payments (sale_id, amount, method, payment_date, reference, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		p.SaleID, p.Amount, p.Method, dateArg(p.PaymentDate), p.Reference, p.CreatedAt)
	if err != nil {
		return err
	}
	p.ID = id
	return nil
}

func GetPayment(ctx context.Context, q sqlx.ExtContext, saleID, paymentID int64) (domain.Payment, error) {
	var p domain.Payment
	err := get(ctx, q, &p, "payment", paymentID,
		`SELECT `+paymentColumns+` FROM payments WHERE id = ? AND sale_id = ?`, paymentID, saleID)
	return p, err
}

func ListPayments(ctx context.Context, q sqlx.ExtContext, saleID int64) ([]domain.Payment, error) {
	out := []domain.Payment{}
	err := selectAll(ctx, q, &out, `SELECT `+paymentColumns+` FROM payments WHERE sale_id = ? ORDER BY id`, saleID)
	return out, err
}

func DeletePayment(ctx context.Context, q sqlx.ExtContext, id int64) error {
	_, err := exec(ctx, q, `DELETE FROM payments WHERE id = ?`, id)
	return err
}

func DeletePaymentsBySale(ctx context.Context, q sqlx.ExtContext, saleID int64) error {
	_, err := exec(ctx, q, `DELETE FROM payments WHERE sale_id = ?`, saleID)
	return err
}
