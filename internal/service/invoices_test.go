package service

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"pharmaledger/m/internal/invoice"
	"pharmaledger/m/internal/ledger"
)

type failingRenderer struct{}

func (failingRenderer) Render(invoice.Document, string) (string, error) {
	return "", errors.New("disk full")
}

func TestGenerateInvoice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p, _, _ := stockedProduct(t, env)
	sale, err := env.sales.CreateSale(ctx, env.user.ID, sell(p.ID, 2))
	if err != nil {
		t.Fatalf("sale: %v", err)
	}

	inv, err := env.invoices.Generate(ctx, sale.ID, false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(inv.Number, "INV-20240601093000-") {
		t.Fatalf("unexpected number %q", inv.Number)
	}
	if _, err := os.Stat(inv.FilePath); err != nil {
		t.Fatalf("invoice file missing: %v", err)
	}

	again, err := env.invoices.Generate(ctx, sale.ID, false)
	if err != nil || again.ID != inv.ID {
		t.Fatalf("generate without force should return the latest invoice: %+v, %v", again, err)
	}
	forced, err := env.invoices.Generate(ctx, sale.ID, true)
	if err != nil || forced.ID == inv.ID {
		t.Fatalf("forced generate should create a new invoice: %+v, %v", forced, err)
	}

	list, err := env.invoices.List(ctx, sale.ID)
	if err != nil || len(list) != 2 {
		t.Fatalf("list: %d, %v", len(list), err)
	}
	if _, err := env.invoices.Generate(ctx, 999, false); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("unknown sale: expected not found, got %v", err)
	}
}

func TestGenerateInvoiceRenderFailureKeepsMetadata(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.invoices = NewInvoices(env.invoices.Core, failingRenderer{}, t.TempDir())
	p, _, _ := stockedProduct(t, env)
	sale, err := env.sales.CreateSale(ctx, env.user.ID, sell(p.ID, 1))
	if err != nil {
		t.Fatalf("sale: %v", err)
	}

	inv, err := env.invoices.Generate(ctx, sale.ID, false)
	if err != nil {
		t.Fatalf("render failure must not fail the command: %v", err)
	}
	if inv.ID == 0 || inv.FilePath != "" {
		t.Fatalf("unexpected invoice %+v", inv)
	}
}

func TestGenerateMissingInvoices(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p, _, _ := stockedProduct(t, env)
	for i := 0; i < 3; i++ {
		if _, err := env.sales.CreateSale(ctx, env.user.ID, sell(p.ID, 1)); err != nil {
			t.Fatalf("sale: %v", err)
		}
	}
	if _, err := env.invoices.Generate(ctx, 1, false); err != nil {
		t.Fatalf("generate: %v", err)
	}

	n, err := env.invoices.GenerateMissing(ctx)
	if err != nil || n != 2 {
		t.Fatalf("generate missing: %d, %v", n, err)
	}
	n, _ = env.invoices.GenerateMissing(ctx)
	if n != 0 {
		t.Fatalf("second pass generated %d invoices", n)
	}
}
