package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"pharmaledger/m/domain"
)

func InsertCategory(ctx context.Context, q sqlx.ExtContext, c *domain.Category) error {
	id, err := insertReturningID(ctx, q,
		`INSERT INTO categories (name, code, description) VALUES (?, ?, ?)`,
		c.Name, c.Code, c.Description)
	if err != nil {
		return uniqueConflict(err, "category "+c.Name)
	}
	c.ID = id
	return nil
}

func ListCategories(ctx context.Context, q sqlx.ExtContext) ([]domain.Category, error) {
	out := []domain.Category{}
	err := selectAll(ctx, q, &out, `SELECT id, name, code, description FROM categories ORDER BY name`)
	return out, err
}

func InsertDosageForm(ctx context.Context, q sqlx.ExtContext, f *domain.DosageForm) error {
	id, err := insertReturningID(ctx, q, `INSERT INTO dosage_forms (name) VALUES (?)`, f.Name)
	if err != nil {
		return uniqueConflict(err, "dosage form "+f.Name)
	}
	f.ID = id
	return nil
}

func ListDosageForms(ctx context.Context, q sqlx.ExtContext) ([]domain.DosageForm, error) {
	out := []domain.DosageForm{}
	err := selectAll(ctx, q, &out, `SELECT id, name FROM dosage_forms ORDER BY name`)
	return out, err
}

func InsertSupplier(ctx context.Context, q sqlx.ExtContext, s *domain.Supplier) error {
	s.CreatedAt = now()
	id, err := insertReturningID(ctx, q,
		`INSERT INTO suppliers (name, contact, phone, email, address, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		s.Name, s.Contact, s.Phone, s.Email, s.Address, s.CreatedAt)
	if err != nil {
		return err
	}
	s.ID = id
	return nil
}

func GetSupplier(ctx context.Context, q sqlx.ExtContext, id int64) (domain.Supplier, error) {
	var s domain.Supplier
	err := get(ctx, q, &s, "supplier", id,
		`SELECT id, name, contact, phone, email, address, created_at FROM suppliers WHERE id = ?`, id)
	return s, err
}

func ListSuppliers(ctx context.Context, q sqlx.ExtContext) ([]domain.Supplier, error) {
	out := []domain.Supplier{}
	err := selectAll(ctx, q, &out, `SELECT id, name, contact, phone, email, address, created_at FROM suppliers ORDER BY name`)
	return out, err
}

// EnsureNamed returns the id of the row in table whose name matches,
// inserting one when absent. Only the seed loader uses it.
func EnsureNamed(ctx context.Context, q sqlx.ExtContext, table, name string) (int64, error) {
	var id int64
	switch table {
	case "categories", "dosage_forms", "suppliers":
	default:
		return 0, fmt.Errorf("ensure named: unsupported table %q", table)
	}
	err := sqlx.GetContext(ctx, q, &id, q.Rebind(`SELECT id FROM `+table+` WHERE name = ?`), name)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	switch table {
	case "categories":
		c := domain.Category{Name: name}
		err = InsertCategory(ctx, q, &c)
		id = c.ID
	case "dosage_forms":
		f := domain.DosageForm{Name: name}
		err = InsertDosageForm(ctx, q, &f)
		id = f.ID
	case "suppliers":
		s := domain.Supplier{Name: name}
		err = InsertSupplier(ctx, q, &s)
		id = s.ID
	}
	return id, err
}

const productColumns = `id, name, barcode, description, category_id, dosage_form_id, supplier_id, stock_threshold, created_at, updated_at`

func InsertProduct(ctx context.Context, q sqlx.ExtContext, p *domain.Product) error {
	p.CreatedAt = now()
	p.UpdatedAt = p.CreatedAt
	id, err := insertReturningID(ctx, q,
		`INSERT INTO products (name, barcode, description, category_id, dosage_form_id, supplier_id, stock_threshold, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.Barcode, p.Description, p.CategoryID, p.DosageFormID, p.SupplierID, p.StockThreshold, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return uniqueConflict(err, "product with this name or barcode")
	}
	p.ID = id
	return nil
}

// InsertProductIfAbsent inserts p unless its name or barcode is taken and
// reports whether a row was written.
func InsertProductIfAbsent(ctx context.Context, q sqlx.ExtContext, p *domain.Product) (bool, error) {
	p.CreatedAt = now()
	p.UpdatedAt = p.CreatedAt
	n, err := exec(ctx, q,
		`INSERT INTO products (name, barcode, description, category_id, dosage_form_id, supplier_id, stock_threshold, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`,
		p.Name, p.Barcode, p.Description, p.CategoryID, p.DosageFormID, p.SupplierID, p.StockThreshold, p.CreatedAt, p.UpdatedAt)
	return n > 0, err
}

func UpdateProduct(ctx context.Context, q sqlx.ExtContext, p *domain.Product) error {
	p.UpdatedAt = now()
	n, err := exec(ctx, q,
		`UPDATE products SET name = ?, barcode = ?, description = ?, category_id = ?, dosage_form_id = ?,
		 supplier_id = ?, stock_threshold = ?, updated_at = ? WHERE id = ?`,
		p.Name, p.Barcode, p.Description, p.CategoryID, p.DosageFormID, p.SupplierID, p.StockThreshold, p.UpdatedAt, p.ID)
	if err != nil {
		return uniqueConflict(err, "product with this name or barcode")
	}
	if n == 0 {
		return notFoundErr("product", p.ID)
	}
	return nil
}

func GetProduct(ctx context.Context, q sqlx.ExtContext, id int64) (domain.Product, error) {
	var p domain.Product
	err := get(ctx, q, &p, "product", id, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	return p, err
}

// SearchProducts matches term against name (case-insensitive, substring)
// or barcode (exact). An empty term lists everything.
func SearchProducts(ctx context.Context, q sqlx.ExtContext, term string, limit int) ([]domain.Product, error) {
	if limit <= 0 {
		limit = 50
	}
	out := []domain.Product{}
	term = strings.TrimSpace(term)
	if term == "" {
		err := selectAll(ctx, q, &out, `SELECT `+productColumns+` FROM products ORDER BY name LIMIT ?`, limit)
		return out, err
	}
	err := selectAll(ctx, q, &out,
		`SELECT `+productColumns+` FROM products WHERE LOWER(name) LIKE ? OR barcode = ? ORDER BY name LIMIT ?`,
		"%"+strings.ToLower(term)+"%", term, limit)
	return out, err
}

func ListProducts(ctx context.Context, q sqlx.ExtContext) ([]domain.Product, error) {
	out := []domain.Product{}
	err := selectAll(ctx, q, &out, `SELECT `+productColumns+` FROM products ORDER BY name`)
	return out, err
}

// ProductInUse reports whether any lot or sale line references the product.
func ProductInUse(ctx context.Context, q sqlx.ExtContext, id int64) (bool, error) {
	var n int
	err := sqlx.GetContext(ctx, q, &n, q.Rebind(
		`SELECT (SELECT COUNT(*) FROM lots WHERE product_id = ?) + (SELECT COUNT(*) FROM sale_items WHERE product_id = ?)`), id, id)
	return n > 0, err
}

func DeleteProduct(ctx context.Context, q sqlx.ExtContext, id int64) error {
	n, err := exec(ctx, q, `DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return notFoundErr("product", id)
	}
	return nil
}
