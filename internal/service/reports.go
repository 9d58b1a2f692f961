package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"pharmaledger/m/domain"
	"pharmaledger/m/internal/repository"
)

type Reports struct {
	*Core
}

func NewReports(core *Core) *Reports {
	return &Reports{Core: core}
}

// SalesTotals summarizes the sales of a period.
type SalesTotals struct {
	From        time.Time       `json:"from"`
	To          time.Time       `json:"to"`
	Revenue     decimal.Decimal `json:"revenue"`
	SalesCount  int             `json:"sales_count"`
	Outstanding decimal.Decimal `json:"outstanding"`
}

// Daily totals the sales of day, today when day is nil.
func (s *Reports) Daily(ctx context.Context, day *time.Time) (SalesTotals, error) {
	d := s.today()
	if day != nil {
		d = domain.DateOf(*day)
	}
	return s.totals(ctx, d, d)
}

// Monthly totals the calendar month containing day.
func (s *Reports) Monthly(ctx context.Context, day *time.Time) (SalesTotals, error) {
	d := s.today()
	if day != nil {
		d = domain.DateOf(*day)
	}
	first := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
	return s.totals(ctx, first, first.AddDate(0, 1, -1))
}

func (s *Reports) totals(ctx context.Context, from, to time.Time) (SalesTotals, error) {
	sales, err := repository.ListSales(ctx, s.db, repository.SaleFilter{From: &from, To: &to})
	if err != nil {
		return SalesTotals{}, err
	}
	out := SalesTotals{From: from, To: to, Revenue: decimal.Zero, Outstanding: decimal.Zero, SalesCount: len(sales)}
	for _, sale := range sales {
		out.Revenue = out.Revenue.Add(sale.TotalAmount)
		if sale.BalanceDue.IsPositive() {
			out.Outstanding = out.Outstanding.Add(sale.BalanceDue)
		}
	}
	return out, nil
}

// SaleReportEntry is a sale with its lines.
type SaleReportEntry struct {
	domain.Sale
	Items []domain.SaleItem `json:"items"`
}

// SalesReport lists the sales between from and to, both optional, with
// their lines.
func (s *Reports) SalesReport(ctx context.Context, from, to *time.Time) ([]SaleReportEntry, error) {
	sales, err := repository.ListSales(ctx, s.db, repository.SaleFilter{From: from, To: to})
	if err != nil {
		return nil, err
	}
	if len(sales) == 0 {
		return []SaleReportEntry{}, nil
	}

	ids := make([]int64, len(sales))
	for i, sale := range sales {
		ids[i] = sale.ID
	}
	items, err := repository.ListSaleItemsForSales(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	itemsBySale := make(map[int64][]domain.SaleItem)
	for _, it := range items {
		itemsBySale[it.SaleID] = append(itemsBySale[it.SaleID], it)
	}

	report := make([]SaleReportEntry, len(sales))
	for i, sale := range sales {
		lines := itemsBySale[sale.ID]
		if lines == nil {
			lines = []domain.SaleItem{}
		}
		report[i] = SaleReportEntry{Sale: sale, Items: lines}
	}
	return report, nil
}
