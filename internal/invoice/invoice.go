// Package invoice renders sale invoices and stock sheets as XLSX files.
package invoice

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"pharmaledger/m/domain"
	"pharmaledger/m/internal/ledger"
	"pharmaledger/m/internal/money"
)

const (
	sheetInvoice = "Invoice"
	sheetStock   = "Stock"
	dateLayout   = "2006-01-02"
)

// Number builds an invoice number such as INV-20240315143005-3FA2B9.
func Number(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("INV-%s-%s", now.UTC().Format("20060102150405"), suffix)
}

// Document is everything printed on one invoice.
type Document struct {
	Invoice       domain.Invoice
	Sale          domain.Sale
	Customer      *domain.Customer
	ItemsSubtotal decimal.Decimal
	Discount      decimal.Decimal
}

// NewDocument prepares a sale for rendering. The discount line uses the
// same calculation the sale was settled with.
func NewDocument(inv domain.Invoice, sale domain.Sale, customer *domain.Customer) Document {
	itemsSubtotal := decimal.Zero
	for _, it := range sale.Items {
		itemsSubtotal = itemsSubtotal.Add(it.LineTotal)
	}
	return Document{
		Invoice:       inv,
		Sale:          sale,
		Customer:      customer,
		ItemsSubtotal: itemsSubtotal,
		Discount:      ledger.DiscountAmount(sale.DiscountType, sale.DiscountValue, itemsSubtotal),
	}
}

// Renderer writes an invoice document somewhere and returns its path.
type Renderer interface {
	Render(doc Document, dir string) (string, error)
}

type XLSXRenderer struct{}

func (XLSXRenderer) Render(doc Document, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create invoice dir: %w", err)
	}
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(f.GetActiveSheetIndex()), sheetInvoice); err != nil {
		return "", err
	}
	if err := writeInvoice(f, doc); err != nil {
		return "", err
	}
	_ = f.SetColWidth(sheetInvoice, "A", "A", 28)
	_ = f.SetColWidth(sheetInvoice, "B", "F", 14)

	path := filepath.Join(dir, doc.Invoice.Number+".xlsx")
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save invoice %s: %w", doc.Invoice.Number, err)
	}
	return path, nil
}

func writeInvoice(f *excelize.File, doc Document) error {
	sale := doc.Sale
	customer := "Walk-in customer"
	if doc.Customer != nil {
		customer = doc.Customer.Name
	}

	rows := [][]interface{}{
		{"Invoice", doc.Invoice.Number},
		{"Invoice date", doc.Invoice.InvoiceDate.Format(dateLayout)},
		{"Sale", fmt.Sprintf("#%d", sale.ID)},
		{"Sale date", sale.SaleDate.Format(dateLayout)},
		{"Customer", customer},
		{},
		{"Product", "Batch", "Quantity", "Unit price", "Line total"},
	}
	for _, it := range sale.Items {
		rows = append(rows, []interface{}{it.ProductName, "", it.Quantity, money.Format(it.UnitPrice), money.Format(it.LineTotal)})
		for _, l := range it.Lots {
			rows = append(rows, []interface{}{"", l.BatchNumber, l.Quantity, money.Format(l.UnitPrice), money.Format(l.UnitPrice.Mul(decimal.NewFromInt(l.Quantity)))})
		}
	}

	discountLabel := "Discount"
	if sale.DiscountType == domain.DiscountPercentage {
		discountLabel = fmt.Sprintf("Discount (%s%%)", sale.DiscountValue.String())
	}
	rows = append(rows,
		[]interface{}{},
		[]interface{}{"Items subtotal", "", "", "", money.Format(doc.ItemsSubtotal)},
		[]interface{}{discountLabel, "", "", "", money.Format(doc.Discount.Neg())},
		[]interface{}{"Subtotal", "", "", "", money.Format(sale.Subtotal)},
		[]interface{}{"Tax", "", "", "", money.Format(sale.TaxAmount)},
		[]interface{}{"Total", "", "", "", money.Format(sale.TotalAmount)},
		[]interface{}{},
		[]interface{}{"Payments"},
	)
	for _, p := range sale.Payments {
		rows = append(rows, []interface{}{p.PaymentDate.Format(dateLayout), string(p.Method), p.Reference, "", money.Format(p.Amount)})
	}
	rows = append(rows,
		[]interface{}{"Amount paid", "", "", "", money.Format(sale.AmountPaid)},
		[]interface{}{"Balance due", "", "", "", money.Format(sale.BalanceDue)},
		[]interface{}{"Status", string(sale.Status)},
	)
	return setRows(f, sheetInvoice, rows)
}

// WriteStockReport writes one row per product with its sellable and
// expired quantities.
func WriteStockReport(w io.Writer, stock []domain.StockInfo) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(f.GetActiveSheetIndex()), sheetStock); err != nil {
		return err
	}
	rows := [][]interface{}{{"product_id", "product_name", "sellable", "expired", "stock_threshold", "below_threshold"}}
	for _, s := range stock {
		rows = append(rows, []interface{}{s.ProductID, s.ProductName, s.Sellable, s.Expired, s.StockThreshold, s.BelowThreshold})
	}
	if err := setRows(f, sheetStock, rows); err != nil {
		return err
	}
	_ = f.SetColWidth(sheetStock, "B", "B", 32)
	return f.Write(w)
}

func setRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	return nil
}
