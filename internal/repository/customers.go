package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"pharmaledger/m/domain"
)

const customerColumns = `id, name, phone, email, address, credit_balance, is_anonymous, created_at, updated_at`

func InsertCustomer(ctx context.Context, q sqlx.ExtContext, c *domain.Customer) error {
	c.CreatedAt = now()
	c.UpdatedAt = c.CreatedAt
	c.CreditBalance = decimal.Zero
	id, err := insertReturningID(ctx, q,
		`INSERT INTO customers (name, phone, email, address, credit_balance, is_anonymous, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Name, c.Phone, c.Email, c.Address, c.CreditBalance, c.IsAnonymous, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return err
	}
	c.ID = id
	return nil
}

// UpdateCustomerContact rewrites the editable fields; credit is left alone.
func UpdateCustomerContact(ctx context.Context, q sqlx.ExtContext, c *domain.Customer) error {
	c.UpdatedAt = now()
	n, err := exec(ctx, q,
		`UPDATE customers SET name = ?, phone = ?, email = ?, address = ?, is_anonymous = ?, updated_at = ? WHERE id = ?`,
		c.Name, c.Phone, c.Email, c.Address, c.IsAnonymous, c.UpdatedAt, c.ID)
	if err != nil {
		return err
	}
	if n == 0 {
		return notFoundErr("customer", c.ID)
	}
	return nil
}

func GetCustomer(ctx context.Context, q sqlx.ExtContext, id int64, lock bool) (domain.Customer, error) {
	var c domain.Customer
	err := get(ctx, q, &c, "customer", id, `SELECT `+customerColumns+` FROM customers WHERE id = ?`+lockClause(q, lock), id)
	return c, err
}

func ListCustomers(ctx context.Context, q sqlx.ExtContext, includeAnonymous bool) ([]domain.Customer, error) {
	out := []domain.Customer{}
	if includeAnonymous {
		err := selectAll(ctx, q, &out, `SELECT `+customerColumns+` FROM customers ORDER BY name`)
		return out, err
	}
	err := selectAll(ctx, q, &out, `SELECT `+customerColumns+` FROM customers WHERE is_anonymous = ? ORDER BY name`, false)
	return out, err
}

func ListCustomerIDs(ctx context.Context, q sqlx.ExtContext) ([]int64, error) {
	var ids []int64
	err := selectAll(ctx, q, &ids, `SELECT id FROM customers ORDER BY id`)
	return ids, err
}

// SaleBalances returns balance_due of every sale of the customer.
func SaleBalances(ctx context.Context, q sqlx.ExtContext, customerID int64) ([]decimal.Decimal, error) {
	var out []decimal.Decimal
	err := selectAll(ctx, q, &out, `SELECT balance_due FROM sales WHERE customer_id = ?`, customerID)
	return out, err
}

// SetCustomerCredit stores a credit balance computed by the settlement step.
func SetCustomerCredit(ctx context.Context, q sqlx.ExtContext, id int64, credit decimal.Decimal) error {
	_, err := exec(ctx, q, `UPDATE customers SET credit_balance = ?, updated_at = ? WHERE id = ?`, credit, now(), id)
	return err
}
