package service

import (
	"context"
	"errors"
	"testing"

	"pharmaledger/m/domain"
	"pharmaledger/m/internal/ledger"
	"pharmaledger/m/internal/repository"
)

// stockedProduct has lot A (5 @ 10.00, expiring first) and lot B
// (10 @ 12.00).
func stockedProduct(t *testing.T, env *testEnv) (domain.Product, domain.Lot, domain.Lot) {
	t.Helper()
	p := env.product(t, "Amlodipine 5mg", 3)
	lots := env.receive(t,
		lotInput(p.ID, "B-LATE", 10, day(2024, 12, 1), "12.00"),
		lotInput(p.ID, "A-SOON", 5, day(2024, 9, 1), "10.00"),
	)
	return p, lots[1], lots[0]
}

func TestCreateSaleAllocatesFEFO(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p, a, b := stockedProduct(t, env)

	sale, err := env.sales.CreateSale(ctx, env.user.ID, sell(p.ID, 8))
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if len(sale.Items) != 1 {
		t.Fatalf("expected one item, got %d", len(sale.Items))
	}
	item := sale.Items[0]
	assertDecimal(t, "line total", item.LineTotal, "86")
	assertDecimal(t, "unit price", item.UnitPrice, "10.75")
	if len(item.Lots) != 2 || item.Lots[0].LotID != a.ID || item.Lots[0].Quantity != 5 || item.Lots[1].LotID != b.ID || item.Lots[1].Quantity != 3 {
		t.Fatalf("unexpected draws %+v", item.Lots)
	}
	if item.Lots[0].BatchNumber != "A-SOON" {
		t.Fatalf("batch number not loaded: %+v", item.Lots[0])
	}

	assertDecimal(t, "total", sale.TotalAmount, "86")
	assertDecimal(t, "balance", sale.BalanceDue, "86")
	if sale.Status != domain.SaleDraft || !sale.SaleDate.Equal(day(2024, 6, 1)) {
		t.Fatalf("unexpected sale header %+v", sale)
	}

	if got := env.lot(t, a.ID).RemainingQuantity; got != 0 {
		t.Fatalf("lot A remaining %d, want 0", got)
	}
	if got := env.lot(t, b.ID).RemainingQuantity; got != 7 {
		t.Fatalf("lot B remaining %d, want 7", got)
	}
	movements, _ := env.inventory.LotMovements(ctx, a.ID)
	last := movements[len(movements)-1]
	if last.MovementType != domain.MovementOut || last.Quantity != 5 || last.Source != "Sale #1" {
		t.Fatalf("unexpected sale movement %+v", last)
	}
}

func TestSaleSkipsExpiredAndInactiveLots(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.product(t, "Aspirin", 0)
	lots := env.receive(t,
		lotInput(p.ID, "EXPIRED", 10, day(2024, 5, 31), "1.00"),
		lotInput(p.ID, "INACTIVE", 10, day(2024, 7, 1), "1.10"),
		lotInput(p.ID, "GOOD", 10, day(2024, 8, 1), "1.50"),
	)
	if _, err := env.inventory.SetLotActive(ctx, lots[1].ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	sale, err := env.sales.CreateSale(ctx, env.user.ID, sell(p.ID, 4))
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if draws := sale.Items[0].Lots; len(draws) != 1 || draws[0].LotID != lots[2].ID {
		t.Fatalf("expected a single draw from GOOD, got %+v", draws)
	}
	assertDecimal(t, "line total", sale.Items[0].LineTotal, "6")
}

func TestCreateSaleInsufficientStockRollsBack(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p, a, b := stockedProduct(t, env)
	other := env.product(t, "Atorvastatin", 0)
	env.receive(t, lotInput(other.ID, "T-1", 10, day(2025, 1, 1), "7.00"))
	before, _ := repository.CountMovements(ctx, env.db)

	req := SaleRequest{Items: []SaleLine{{ProductID: other.ID, Quantity: 2}, {ProductID: p.ID, Quantity: 16}}}
	_, err := env.sales.CreateSale(ctx, env.user.ID, req)

	var lerr *ledger.LineError
	if !errors.As(err, &lerr) || lerr.Field != "items.1.quantity" {
		t.Fatalf("expected error on items.1.quantity, got %v", err)
	}
	var serr *ledger.InsufficientStockError
	if !errors.As(err, &serr) || serr.Requested != 16 || serr.Available != 15 || serr.ProductID != p.ID {
		t.Fatalf("unexpected insufficient stock error %+v", serr)
	}

	sales, _ := env.sales.ListSales(ctx, repository.SaleFilter{})
	if len(sales) != 0 {
		t.Fatalf("failed sale was persisted")
	}
	if env.lot(t, a.ID).RemainingQuantity != 5 || env.lot(t, b.ID).RemainingQuantity != 10 {
		t.Fatalf("failed sale changed lots")
	}
	after, _ := repository.CountMovements(ctx, env.db)
	if after != before {
		t.Fatalf("failed sale wrote %d movements", after-before)
	}
}

func TestCreateSaleValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	zero := int64(0)

	tests := []struct {
		name   string
		req    SaleRequest
		fields []string
	}{
		{"no items", SaleRequest{}, []string{"items"}},
		{"bad line", SaleRequest{Items: []SaleLine{{ProductID: 0, Quantity: 0}}}, []string{"items.0.product_id", "items.0.quantity"}},
		{"duplicate product", SaleRequest{Items: []SaleLine{{1, 1}, {1, 2}}}, []string{"items.1.product_id"}},
		{"bad customer", SaleRequest{CustomerID: &zero, Items: []SaleLine{{1, 1}}}, []string{"customer_id"}},
		{"negative tax", SaleRequest{TaxAmount: dec("-1"), Items: []SaleLine{{1, 1}}}, []string{"tax_amount"}},
		{"discount over 100%", SaleRequest{DiscountType: domain.DiscountPercentage, DiscountValue: dec("101"), Items: []SaleLine{{1, 1}}}, []string{"discount_value"}},
		{"bad payment", SaleRequest{Items: []SaleLine{{1, 1}}, Payments: []PaymentInput{{Amount: dec("0.001"), Method: "cheque"}}}, []string{"payments.0.amount", "payments.0.method"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.sales.CreateSale(ctx, env.user.ID, tt.req)
			var verr *ledger.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			for _, f := range tt.fields {
				if _, ok := verr.Fields[f]; !ok {
					t.Errorf("missing field %s in %v", f, verr.Fields)
				}
			}
		})
	}
}

func TestChangeItemQuantityReallocates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p, a, b := stockedProduct(t, env)

	sale, err := env.sales.CreateSale(ctx, env.user.ID, sell(p.ID, 8))
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	itemID := sale.Items[0].ID

	sale, err = env.sales.ChangeItemQuantity(ctx, sale.ID, itemID, 3)
	if err != nil {
		t.Fatalf("change quantity: %v", err)
	}
	assertDecimal(t, "line total", sale.Items[0].LineTotal, "30")
	assertDecimal(t, "total", sale.TotalAmount, "30")
	if env.lot(t, a.ID).RemainingQuantity != 2 || env.lot(t, b.ID).RemainingQuantity != 10 {
		t.Fatalf("unexpected lots after reallocation: A=%d B=%d", env.lot(t, a.ID).RemainingQuantity, env.lot(t, b.ID).RemainingQuantity)
	}

	movements, _ := env.inventory.LotMovements(ctx, b.ID)
	if len(movements) != 3 {
		t.Fatalf("lot B: expected receipt, draw and reversal, got %d", len(movements))
	}
	if r := movements[2]; r.MovementType != domain.MovementIn || r.Quantity != 3 || r.Source != "Sale #1 (reversal)" {
		t.Fatalf("unexpected reversal %+v", r)
	}

	if _, err := env.sales.ChangeItemQuantity(ctx, sale.ID, itemID, 20); !errors.Is(err, ledger.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if env.lot(t, a.ID).RemainingQuantity != 2 {
		t.Fatalf("failed change must keep the previous draw")
	}
	got, _ := env.sales.GetSale(ctx, sale.ID)
	if got.Items[0].Quantity != 3 {
		t.Fatalf("failed change altered the item: %+v", got.Items[0])
	}
}

func TestAddAndRemoveItems(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p, a, _ := stockedProduct(t, env)
	other := env.product(t, "Losartan", 0)
	o := env.receive(t, lotInput(other.ID, "LO-1", 10, day(2025, 1, 1), "2.00"))[0]

	sale, err := env.sales.CreateSale(ctx, env.user.ID, sell(p.ID, 2))
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	sale, err = env.sales.AddItem(ctx, sale.ID, SaleLine{ProductID: other.ID, Quantity: 4})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	assertDecimal(t, "total", sale.TotalAmount, "28")
	if _, err := env.sales.AddItem(ctx, sale.ID, SaleLine{ProductID: other.ID, Quantity: 1}); !errors.Is(err, ledger.ErrConflict) {
		t.Fatalf("adding the same product twice: expected conflict, got %v", err)
	}

	sale, err = env.sales.RemoveItem(ctx, sale.ID, sale.Items[1].ID)
	if err != nil {
		t.Fatalf("remove item: %v", err)
	}
	assertDecimal(t, "total", sale.TotalAmount, "20")
	if env.lot(t, o.ID).RemainingQuantity != 10 {
		t.Fatalf("removed item did not restore stock")
	}

	if err := env.sales.DeleteSale(ctx, sale.ID); err != nil {
		t.Fatalf("delete sale: %v", err)
	}
	if env.lot(t, a.ID).RemainingQuantity != 5 {
		t.Fatalf("deleted sale did not restore stock")
	}
	if _, err := env.sales.GetSale(ctx, sale.ID); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected deleted sale to be gone, got %v", err)
	}
}

func TestEmptySaleSettlesAsPaid(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p, _, _ := stockedProduct(t, env)

	sale, err := env.sales.CreateSale(ctx, env.user.ID, sell(p.ID, 1))
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	sale, err = env.sales.RemoveItem(ctx, sale.ID, sale.Items[0].ID)
	if err != nil {
		t.Fatalf("remove item: %v", err)
	}
	if sale.Status != domain.SalePaid || !sale.TotalAmount.IsZero() {
		t.Fatalf("zero total with zero paid should be paid, got %s %s", sale.Status, sale.TotalAmount)
	}
}

func TestPaymentsDriveStatusAndCredit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p, _, _ := stockedProduct(t, env)
	c := env.customer(t, "John Doe")

	req := sell(p.ID, 2)
	req.CustomerID = &c.ID
	req.Payments = []PaymentInput{{Amount: dec("5"), Method: domain.PaymentCash}}
	sale, err := env.sales.CreateSale(ctx, env.user.ID, req)
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if sale.Status != domain.SalePartial {
		t.Fatalf("status = %s, want partial", sale.Status)
	}
	assertDecimal(t, "balance", sale.BalanceDue, "15")
	assertDecimal(t, "credit", env.credit(t, c.ID), "15")

	sale, err = env.sales.RecordPayment(ctx, sale.ID, PaymentInput{Amount: dec("15"), Method: domain.PaymentMobileMoney, Reference: "MM-1"})
	if err != nil {
		t.Fatalf("record payment: %v", err)
	}
	if sale.Status != domain.SalePaid || len(sale.Payments) != 2 {
		t.Fatalf("unexpected sale after payment %+v", sale)
	}
	assertDecimal(t, "credit", env.credit(t, c.ID), "0")

	sale, err = env.sales.DeletePayment(ctx, sale.ID, sale.Payments[0].ID)
	if err != nil {
		t.Fatalf("delete payment: %v", err)
	}
	assertDecimal(t, "balance", sale.BalanceDue, "5")
	assertDecimal(t, "credit", env.credit(t, c.ID), "5")

	sale, err = env.sales.RecordPayment(ctx, sale.ID, PaymentInput{Amount: dec("10"), Method: domain.PaymentCard})
	if err != nil {
		t.Fatalf("overpay: %v", err)
	}
	assertDecimal(t, "balance", sale.BalanceDue, "-5")
	assertDecimal(t, "credit", env.credit(t, c.ID), "0")

	if _, err := env.sales.RecordPayment(ctx, sale.ID, PaymentInput{Amount: dec("0"), Method: domain.PaymentCash}); !errors.Is(err, ledger.ErrValidation) {
		t.Fatalf("zero payment: expected validation error, got %v", err)
	}
	if _, err := env.sales.DeletePayment(ctx, sale.ID, 999); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("unknown payment: expected not found, got %v", err)
	}
}

func TestDiscountAndTax(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p, _, _ := stockedProduct(t, env)

	sale, err := env.sales.CreateSale(ctx, env.user.ID, sell(p.ID, 5))
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	before, _ := repository.CountMovements(ctx, env.db)

	sale, err = env.sales.SetDiscount(ctx, sale.ID, domain.DiscountPercentage, dec("10"))
	if err != nil {
		t.Fatalf("set discount: %v", err)
	}
	assertDecimal(t, "subtotal", sale.Subtotal, "45")
	sale, err = env.sales.SetTax(ctx, sale.ID, dec("4.5"))
	if err != nil {
		t.Fatalf("set tax: %v", err)
	}
	assertDecimal(t, "total", sale.TotalAmount, "49.5")

	_, err = env.sales.SetDiscount(ctx, sale.ID, domain.DiscountAmount, dec("60"))
	var verr *ledger.ValidationError
	if !errors.As(err, &verr) || verr.Fields["discount_value"] == "" {
		t.Fatalf("discount over subtotal: expected discount_value error, got %v", err)
	}
	got, _ := env.sales.GetSale(ctx, sale.ID)
	assertDecimal(t, "total after rejected discount", got.TotalAmount, "49.5")

	after, _ := repository.CountMovements(ctx, env.db)
	if after != before {
		t.Fatalf("discount changes must not move stock")
	}
}

func TestChangeCustomerMovesCredit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p, _, _ := stockedProduct(t, env)
	first := env.customer(t, "First")
	second := env.customer(t, "Second")

	req := sell(p.ID, 2)
	req.CustomerID = &first.ID
	sale, err := env.sales.CreateSale(ctx, env.user.ID, req)
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	assertDecimal(t, "first credit", env.credit(t, first.ID), "20")

	if _, err := env.sales.ChangeCustomer(ctx, sale.ID, &second.ID); err != nil {
		t.Fatalf("change customer: %v", err)
	}
	assertDecimal(t, "first credit", env.credit(t, first.ID), "0")
	assertDecimal(t, "second credit", env.credit(t, second.ID), "20")

	if _, err := env.sales.ChangeCustomer(ctx, sale.ID, nil); err != nil {
		t.Fatalf("clear customer: %v", err)
	}
	assertDecimal(t, "second credit", env.credit(t, second.ID), "0")

	missing := int64(999)
	if _, err := env.sales.ChangeCustomer(ctx, sale.ID, &missing); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("unknown customer: expected not found, got %v", err)
	}

	n, err := env.sales.RecalculateCredit(ctx, nil)
	if err != nil || n != 2 {
		t.Fatalf("recalculate: %d, %v", n, err)
	}
}

func TestUpdateSaleRebuilds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p, a, b := stockedProduct(t, env)
	c := env.customer(t, "Walk-in regular")

	req := sell(p.ID, 8)
	req.Payments = []PaymentInput{{Amount: dec("10"), Method: domain.PaymentCash}}
	sale, err := env.sales.CreateSale(ctx, env.user.ID, req)
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	update := sell(p.ID, 2)
	update.CustomerID = &c.ID
	update.Notes = "corrected"
	update.Payments = []PaymentInput{{Amount: dec("20"), Method: domain.PaymentCard}}
	sale, err = env.sales.UpdateSale(ctx, sale.ID, update)
	if err != nil {
		t.Fatalf("update sale: %v", err)
	}
	if len(sale.Items) != 1 || sale.Items[0].Quantity != 2 || len(sale.Payments) != 1 || sale.Status != domain.SalePaid || sale.Notes != "corrected" {
		t.Fatalf("unexpected rebuilt sale %+v", sale)
	}
	if env.lot(t, a.ID).RemainingQuantity != 3 || env.lot(t, b.ID).RemainingQuantity != 10 {
		t.Fatalf("unexpected lots after update: A=%d B=%d", env.lot(t, a.ID).RemainingQuantity, env.lot(t, b.ID).RemainingQuantity)
	}

	if _, err := env.sales.UpdateSale(ctx, sale.ID, sell(p.ID, 100)); !errors.Is(err, ledger.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	got, _ := env.sales.GetSale(ctx, sale.ID)
	if got.Items[0].Quantity != 2 || env.lot(t, a.ID).RemainingQuantity != 3 {
		t.Fatalf("failed update must leave the sale as it was")
	}
}

func TestStockLockOrder(t *testing.T) {
	tests := []struct {
		name string
		in   []int64
		want []int64
	}{
		{"empty", nil, []int64{}},
		{"already ordered", []int64{1, 2, 3}, []int64{1, 2, 3}},
		{"reversed", []int64{9, 4, 2}, []int64{2, 4, 9}},
		{"duplicates", []int64{5, 3, 5, 3, 1}, []int64{1, 3, 5}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := append([]int64(nil), tc.in...)
			got := stockLockOrder(in)
			if len(got) != len(tc.want) {
				t.Fatalf("stockLockOrder(%v) = %v, want %v", tc.in, got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("stockLockOrder(%v) = %v, want %v", tc.in, got, tc.want)
				}
			}
			for i := range in {
				if in[i] != tc.in[i] {
					t.Fatalf("input was modified: %v", in)
				}
			}
		})
	}
}

// The later-received lot expires first, so lot-id order and FEFO order
// disagree; reversal must still restore each lot exactly.
func TestReversalRestoresLotsOutOfIDOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p, soon, late := stockedProduct(t, env)
	if soon.ID <= late.ID {
		t.Fatalf("fixture: expected the sooner lot to have the higher id (soon %d, late %d)", soon.ID, late.ID)
	}

	sale, err := env.sales.CreateSale(ctx, env.user.ID, sell(p.ID, 8))
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if _, err := env.sales.ChangeItemQuantity(ctx, sale.ID, sale.Items[0].ID, 2); err != nil {
		t.Fatalf("change quantity: %v", err)
	}
	if got := env.lot(t, soon.ID).RemainingQuantity; got != 3 {
		t.Fatalf("soon lot remaining = %d, want 3", got)
	}
	if got := env.lot(t, late.ID).RemainingQuantity; got != 10 {
		t.Fatalf("late lot remaining = %d, want 10", got)
	}
}

func TestUpdateSaleWithLinesInReverseProductOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := env.product(t, "Aspirin", 0)
	second := env.product(t, "Zinc", 0)
	env.receive(t,
		lotInput(first.ID, "AS-1", 10, day(2025, 1, 1), "1.00"),
		lotInput(second.ID, "ZN-1", 10, day(2025, 1, 1), "2.00"),
	)

	req := SaleRequest{Items: []SaleLine{{ProductID: second.ID, Quantity: 2}, {ProductID: first.ID, Quantity: 3}}}
	sale, err := env.sales.CreateSale(ctx, env.user.ID, req)
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if sale.Items[0].ProductID != second.ID {
		t.Fatalf("lines must keep request order, got %+v", sale.Items)
	}

	req.Items = []SaleLine{{ProductID: first.ID, Quantity: 1}, {ProductID: second.ID, Quantity: 4}}
	sale, err = env.sales.UpdateSale(ctx, sale.ID, req)
	if err != nil {
		t.Fatalf("update sale: %v", err)
	}
	assertDecimal(t, "total", sale.TotalAmount, "9.00")
}

func TestSaleMovementsUseSaleDate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.product(t, "Loratadine", 0)
	lots := env.receive(t, lotInput(p.ID, "L-1", 10, day(2025, 1, 1), "3.00"))

	backdated := day(2024, 5, 20)
	req := sell(p.ID, 4)
	req.SaleDate = &backdated
	sale, err := env.sales.CreateSale(ctx, env.user.ID, req)
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if err := env.sales.DeleteSale(ctx, sale.ID); err != nil {
		t.Fatalf("delete sale: %v", err)
	}

	movements, err := env.inventory.LotMovements(ctx, lots[0].ID)
	if err != nil {
		t.Fatalf("movements: %v", err)
	}
	if len(movements) != 3 {
		t.Fatalf("movements = %d, want receipt, sale and reversal", len(movements))
	}
	if !movements[0].MovementDate.Equal(day(2024, 6, 1)) {
		t.Errorf("receipt dated %s, want the receipt day", movements[0].MovementDate)
	}
	for _, m := range movements[1:] {
		if !m.MovementDate.Equal(backdated) {
			t.Errorf("%s movement (%s) dated %s, want sale date %s", m.MovementType, m.Source, m.MovementDate, backdated)
		}
	}
}
