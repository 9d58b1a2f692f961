// Package seed loads a product catalog from CSV.
package seed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"pharmaledger/m/domain"
	"pharmaledger/m/internal/database"
	"pharmaledger/m/internal/repository"
	"pharmaledger/m/pkg/logger"
)

const defaultThreshold = 10

// Result counts what a load did.
type Result struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
}

// LoadCatalogFile opens csvPath and loads it with LoadCatalog.
func LoadCatalogFile(ctx context.Context, db *database.DB, csvPath, charset string) (Result, error) {
	file, err := os.Open(csvPath)
	if err != nil {
		return Result{}, fmt.Errorf("unable to open catalog %s: %w", csvPath, err)
	}
	defer file.Close()
	return LoadCatalog(ctx, db, file, charset)
}

// LoadCatalog ingests a product CSV. The header names the columns; name is
// required and barcode, category, dosage_form, supplier, stock_threshold
// and description are optional. Categories, dosage forms and suppliers
// are created on first use. Products whose name or barcode already exist
// are skipped, so loading the same file twice is harmless.
func LoadCatalog(ctx context.Context, db *database.DB, r io.Reader, charset string) (Result, error) {
	if charset != "" && !strings.EqualFold(charset, "utf-8") {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return Result{}, fmt.Errorf("unknown charset %q: %w", charset, err)
		}
		r = transform.NewReader(r, enc.NewDecoder())
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		return Result{}, fmt.Errorf("unable to read catalog header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	if _, ok := cols["name"]; !ok {
		return Result{}, errors.New("catalog header has no name column")
	}

	var res Result
	err = db.WithTx(ctx, func(tx *sqlx.Tx) error {
		line := 1
		for {
			record, err := reader.Read()
			if err == io.EOF {
				return nil
			}
			line++
			if err != nil {
				logger.Log.Warn().Err(err).Int("line", line).Msg("unable to read catalog row")
				res.Skipped++
				continue
			}
			field := func(name string) string {
				i, ok := cols[name]
				if !ok || i >= len(record) {
					return ""
				}
				return strings.TrimSpace(record[i])
			}

			p := domain.Product{Name: field("name"), Description: field("description"), StockThreshold: defaultThreshold}
			if p.Name == "" {
				res.Skipped++
				continue
			}
			if b := field("barcode"); b != "" {
				p.Barcode = &b
			}
			if v := field("stock_threshold"); v != "" {
				n, err := strconv.ParseInt(v, 10, 64)
				if err != nil || n < 0 {
					logger.Log.Warn().Int("line", line).Str("stock_threshold", v).Msg("invalid threshold, using default")
				} else {
					p.StockThreshold = n
				}
			}
			if p.CategoryID, err = ensure(ctx, tx, "categories", field("category")); err != nil {
				return err
			}
			if p.DosageFormID, err = ensure(ctx, tx, "dosage_forms", field("dosage_form")); err != nil {
				return err
			}
			if p.SupplierID, err = ensure(ctx, tx, "suppliers", field("supplier")); err != nil {
				return err
			}

			inserted, err := repository.InsertProductIfAbsent(ctx, tx, &p)
			if err != nil {
				return fmt.Errorf("unable to insert product %s: %w", p.Name, err)
			}
			if inserted {
				res.Inserted++
			} else {
				res.Skipped++
			}
		}
	})
	if err != nil {
		return Result{}, err
	}
	logger.Log.Info().Int("inserted", res.Inserted).Int("skipped", res.Skipped).Msg("seeded product catalog")
	return res, nil
}

func ensure(ctx context.Context, tx *sqlx.Tx, table, name string) (*int64, error) {
	if name == "" {
		return nil, nil
	}
	id, err := repository.EnsureNamed(ctx, tx, table, name)
	if err != nil {
		return nil, fmt.Errorf("unable to resolve %s %q: %w", table, name, err)
	}
	return &id, nil
}
