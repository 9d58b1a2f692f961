package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pharmaledger/m/domain"
	"pharmaledger/m/internal/database"
	"pharmaledger/m/internal/invoice"
	"pharmaledger/m/internal/migrations"
	"pharmaledger/m/internal/repository"
	"pharmaledger/m/pkg/logger"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

type testEnv struct {
	db        *database.DB
	clock     *testClock
	inventory *Inventory
	sales     *Sales
	catalog   *Catalog
	invoices  *Invoices
	users     *Users
	reports   *Reports
	user      domain.User
	supplier  domain.Supplier
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	logger.Silence()

	db, err := database.Connect(database.DriverSQLite, database.MemoryDSN, 1)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := migrations.Run(db.DB); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	clock := &testClock{now: time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)}
	core := NewCore(db, append([]Option{WithClock(clock.Now)}, opts...)...)
	env := &testEnv{
		db:        db,
		clock:     clock,
		inventory: NewInventory(core),
		sales:     NewSales(core),
		catalog:   NewCatalog(core),
		invoices:  NewInvoices(core, invoice.XLSXRenderer{}, t.TempDir()),
		users:     NewUsers(core),
		reports:   NewReports(core),
	}

	ctx := context.Background()
	env.user, err = env.users.Create(ctx, "counter", "counter@example.com", "secret", domain.RoleCashier)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	env.supplier, err = env.catalog.CreateSupplier(ctx, domain.Supplier{Name: "Acme Pharma"})
	if err != nil {
		t.Fatalf("create supplier: %v", err)
	}
	return env
}

func (e *testEnv) product(t *testing.T, name string, threshold int64) domain.Product {
	t.Helper()
	p, err := e.catalog.CreateProduct(context.Background(), domain.Product{Name: name}, &threshold)
	if err != nil {
		t.Fatalf("create product %s: %v", name, err)
	}
	return p
}

// receive books the given lots on a new purchase order and returns them
// in input order.
func (e *testEnv) receive(t *testing.T, lots ...LotInput) []domain.Lot {
	t.Helper()
	ctx := context.Background()
	po, err := e.inventory.CreatePurchaseOrder(ctx, e.supplier.ID, nil, "")
	if err != nil {
		t.Fatalf("create purchase order: %v", err)
	}
	po, err = e.inventory.ReceivePurchaseOrder(ctx, po.ID, lots)
	if err != nil {
		t.Fatalf("receive purchase order: %v", err)
	}
	return po.Lots
}

func lotInput(productID int64, batch string, qty int64, expires time.Time, price string) LotInput {
	return LotInput{
		ProductID:      productID,
		BatchNumber:    batch,
		Quantity:       qty,
		ExpirationDate: expires,
		PurchasePrice:  dec("1.00"),
		SalePrice:      dec(price),
	}
}

func (e *testEnv) lot(t *testing.T, id int64) domain.Lot {
	t.Helper()
	l, err := repository.GetLot(context.Background(), e.db, id, false)
	if err != nil {
		t.Fatalf("load lot %d: %v", id, err)
	}
	return l
}

func (e *testEnv) customer(t *testing.T, name string) domain.Customer {
	t.Helper()
	c, err := e.catalog.CreateCustomer(context.Background(), domain.Customer{Name: name})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}
	return c
}

func (e *testEnv) credit(t *testing.T, id int64) decimal.Decimal {
	t.Helper()
	c, err := e.catalog.GetCustomer(context.Background(), id)
	if err != nil {
		t.Fatalf("load customer: %v", err)
	}
	return c.CreditBalance
}

func sell(productID, qty int64) SaleRequest {
	return SaleRequest{Items: []SaleLine{{ProductID: productID, Quantity: qty}}}
}

func assertDecimal(t *testing.T, label string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Fatalf("%s = %s, want %s", label, got.String(), want)
	}
}
