package service

import (
	"context"

	"github.com/jmoiron/sqlx"

	"pharmaledger/m/domain"
	"pharmaledger/m/internal/invoice"
	"pharmaledger/m/internal/repository"
	"pharmaledger/m/pkg/logger"
)

type Invoices struct {
	*Core
	renderer invoice.Renderer
	dir      string
}

func NewInvoices(core *Core, renderer invoice.Renderer, dir string) *Invoices {
	if renderer == nil {
		renderer = invoice.XLSXRenderer{}
	}
	return &Invoices{Core: core, renderer: renderer, dir: dir}
}

// Generate returns the latest invoice of a sale, creating one when the
// sale has none or force is set. Rendering happens after the metadata is
// committed; a failure there is logged and leaves the file path empty.
func (s *Invoices) Generate(ctx context.Context, saleID int64, force bool) (domain.Invoice, error) {
	var (
		inv      domain.Invoice
		existing bool
	)
	err := s.run(ctx, "generate_invoice", func(tx *sqlx.Tx, _ *txState) error {
		if _, err := repository.GetSale(ctx, tx, saleID, true); err != nil {
			return err
		}
		if !force {
			latest, err := repository.LatestInvoice(ctx, tx, saleID)
			if err != nil {
				return err
			}
			if latest != nil {
				inv, existing = *latest, true
				return nil
			}
		}
		now := s.now()
		inv = domain.Invoice{SaleID: saleID, Number: invoice.Number(now), InvoiceDate: now.UTC()}
		return repository.InsertInvoice(ctx, tx, &inv)
	})
	if err != nil {
		return domain.Invoice{}, err
	}
	if existing && inv.FilePath != "" {
		return inv, nil
	}

	path, err := s.render(ctx, inv)
	if err != nil {
		logger.Log.Error().Err(err).Int64("sale_id", saleID).Str("number", inv.Number).Msg("invoice render failed")
		return inv, nil
	}
	if err := repository.SetInvoiceFile(ctx, s.db, inv.ID, path); err != nil {
		logger.Log.Error().Err(err).Int64("invoice_id", inv.ID).Msg("unable to record invoice file")
		return inv, nil
	}
	inv.FilePath = path
	logger.Log.Info().Int64("sale_id", saleID).Str("number", inv.Number).Str("path", path).Msg("invoice generated")
	return inv, nil
}

func (s *Invoices) render(ctx context.Context, inv domain.Invoice) (string, error) {
	sale, err := loadSale(ctx, s.db, inv.SaleID)
	if err != nil {
		return "", err
	}
	var customer *domain.Customer
	if sale.CustomerID != nil {
		c, err := repository.GetCustomer(ctx, s.db, *sale.CustomerID, false)
		if err != nil {
			return "", err
		}
		customer = &c
	}
	return s.renderer.Render(invoice.NewDocument(inv, sale, customer), s.dir)
}

func (s *Invoices) List(ctx context.Context, saleID int64) ([]domain.Invoice, error) {
	if _, err := repository.GetSale(ctx, s.db, saleID, false); err != nil {
		return nil, err
	}
	return repository.ListInvoicesBySale(ctx, s.db, saleID)
}

// GenerateMissing invoices every sale that has none yet. Failures are
// logged and skipped; it returns how many invoices were created.
func (s *Invoices) GenerateMissing(ctx context.Context) (int, error) {
	ids, err := repository.ListSalesWithoutInvoice(ctx, s.db)
	if err != nil {
		return 0, err
	}
	var n int
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if _, err := s.Generate(ctx, id, false); err != nil {
			logger.Log.Warn().Err(err).Int64("sale_id", id).Msg("invoice generation failed")
			continue
		}
		n++
	}
	return n, nil
}
