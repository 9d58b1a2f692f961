package service

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"pharmaledger/m/domain"
	"pharmaledger/m/internal/ledger"
	"pharmaledger/m/internal/repository"
	"pharmaledger/m/pkg/logger"
)

const defaultStockThreshold = 10

// Catalog owns reference data: categories, dosage forms, suppliers,
// products and customers.
type Catalog struct {
	*Core
}

func NewCatalog(core *Core) *Catalog {
	return &Catalog{Core: core}
}

func (s *Catalog) CreateCategory(ctx context.Context, c domain.Category) (domain.Category, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return c, ledger.Invalid("name", "is required")
	}
	err := repository.InsertCategory(ctx, s.db, &c)
	return c, err
}

func (s *Catalog) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return repository.ListCategories(ctx, s.db)
}

func (s *Catalog) CreateDosageForm(ctx context.Context, f domain.DosageForm) (domain.DosageForm, error) {
	f.Name = strings.TrimSpace(f.Name)
	if f.Name == "" {
		return f, ledger.Invalid("name", "is required")
	}
	err := repository.InsertDosageForm(ctx, s.db, &f)
	return f, err
}

func (s *Catalog) ListDosageForms(ctx context.Context) ([]domain.DosageForm, error) {
	return repository.ListDosageForms(ctx, s.db)
}

func (s *Catalog) CreateSupplier(ctx context.Context, sup domain.Supplier) (domain.Supplier, error) {
	sup.Name = strings.TrimSpace(sup.Name)
	if sup.Name == "" {
		return sup, ledger.Invalid("name", "is required")
	}
	err := repository.InsertSupplier(ctx, s.db, &sup)
	return sup, err
}

func (s *Catalog) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return repository.ListSuppliers(ctx, s.db)
}

func validateProduct(p *domain.Product) error {
	v := &ledger.ValidationError{}
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		v.Add("name", "is required")
	}
	if p.Barcode != nil {
		if b := strings.TrimSpace(*p.Barcode); b == "" {
			p.Barcode = nil
		} else {
			p.Barcode = &b
		}
	}
	if p.StockThreshold < 0 {
		v.Add("stock_threshold", "must not be negative")
	}
	return v.Err()
}

func productRefError(err error) error {
	if repository.IsForeignKeyViolation(err) {
		return ledger.Invalid("product", "unknown category, dosage form or supplier")
	}
	return err
}

// CreateProduct registers a product. A nil threshold takes the default.
func (s *Catalog) CreateProduct(ctx context.Context, p domain.Product, threshold *int64) (domain.Product, error) {
	p.StockThreshold = defaultStockThreshold
	if threshold != nil {
		p.StockThreshold = *threshold
	}
	if err := validateProduct(&p); err != nil {
		return domain.Product{}, err
	}
	if err := repository.InsertProduct(ctx, s.db, &p); err != nil {
		return domain.Product{}, productRefError(err)
	}
	return p, nil
}

func (s *Catalog) UpdateProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	if err := validateProduct(&p); err != nil {
		return domain.Product{}, err
	}
	if err := repository.UpdateProduct(ctx, s.db, &p); err != nil {
		return domain.Product{}, productRefError(err)
	}
	if err := s.cache.Invalidate(ctx, p.ID); err != nil {
		logger.Log.Warn().Err(err).Int64("product_id", p.ID).Msg("stock cache invalidation failed")
	}
	return repository.GetProduct(ctx, s.db, p.ID)
}

func (s *Catalog) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	return repository.GetProduct(ctx, s.db, id)
}

// SearchProducts matches names and barcodes and flags products whose
// sellable stock is at or under their threshold or that still hold
// expired units on active lots.
func (s *Catalog) SearchProducts(ctx context.Context, term string, limit int) ([]domain.ProductSummary, error) {
	products, err := repository.SearchProducts(ctx, s.db, term, limit)
	if err != nil {
		return nil, err
	}
	today := s.today()
	out := make([]domain.ProductSummary, 0, len(products))
	for _, p := range products {
		lots, err := repository.ListLotsByProduct(ctx, s.db, p.ID, false)
		if err != nil {
			return nil, err
		}
		sum := domain.ProductSummary{
			Product:   p,
			SalePrice: ledger.CurrentSalePrice(lots),
			Sellable:  ledger.Available(lots, today),
			Expired:   ledger.ExpiredOnShelf(lots, today),
		}
		sum.BelowThreshold = sum.Sellable <= p.StockThreshold
		sum.HasExpiredStock = sum.Expired > 0
		out = append(out, sum)
	}
	return out, nil
}

// DeleteProduct removes a product that no lot or sale line refers to.
func (s *Catalog) DeleteProduct(ctx context.Context, id int64) error {
	return s.run(ctx, "delete_product", func(tx *sqlx.Tx, st *txState) error {
		if _, err := repository.GetProduct(ctx, tx, id); err != nil {
			return err
		}
		inUse, err := repository.ProductInUse(ctx, tx, id)
		if err != nil {
			return err
		}
		if inUse {
			return ledger.Conflictf("product %d has lots or sales and cannot be deleted", id)
		}
		st.touch(id)
		return repository.DeleteProduct(ctx, tx, id)
	})
}

func validateCustomer(c *domain.Customer) error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return ledger.Invalid("name", "is required")
	}
	return nil
}

func (s *Catalog) CreateCustomer(ctx context.Context, c domain.Customer) (domain.Customer, error) {
	if err := validateCustomer(&c); err != nil {
		return domain.Customer{}, err
	}
	if err := repository.InsertCustomer(ctx, s.db, &c); err != nil {
		return domain.Customer{}, err
	}
	return c, nil
}

// UpdateCustomer changes contact fields only. The credit balance is
// derived from sales and is never taken from input.
func (s *Catalog) UpdateCustomer(ctx context.Context, c domain.Customer) (domain.Customer, error) {
	if err := validateCustomer(&c); err != nil {
		return domain.Customer{}, err
	}
	if err := repository.UpdateCustomerContact(ctx, s.db, &c); err != nil {
		return domain.Customer{}, err
	}
	return repository.GetCustomer(ctx, s.db, c.ID, false)
}

func (s *Catalog) GetCustomer(ctx context.Context, id int64) (domain.Customer, error) {
	return repository.GetCustomer(ctx, s.db, id, false)
}

func (s *Catalog) ListCustomers(ctx context.Context, includeAnonymous bool) ([]domain.Customer, error) {
	return repository.ListCustomers(ctx, s.db, includeAnonymous)
}

// CustomerCredit is a customer's outstanding balance with the sales that
// make it up.
type CustomerCredit struct {
	Customer      domain.Customer `json:"customer"`
	CreditBalance decimal.Decimal `json:"credit_balance"`
	OpenSales     []domain.Sale   `json:"open_sales"`
}

func (s *Catalog) CustomerCredit(ctx context.Context, id int64) (CustomerCredit, error) {
	c, err := repository.GetCustomer(ctx, s.db, id, false)
	if err != nil {
		return CustomerCredit{}, err
	}
	sales, err := repository.ListSales(ctx, s.db, repository.SaleFilter{CustomerID: &id})
	if err != nil {
		return CustomerCredit{}, err
	}
	out := CustomerCredit{Customer: c, CreditBalance: c.CreditBalance, OpenSales: []domain.Sale{}}
	for _, sale := range sales {
		if sale.BalanceDue.IsPositive() {
			out.OpenSales = append(out.OpenSales, sale)
		}
	}
	return out, nil
}
