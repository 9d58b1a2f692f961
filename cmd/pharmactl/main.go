package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"pharmaledger/m/domain"
	"pharmaledger/m/internal/cache"
	"pharmaledger/m/internal/config"
	"pharmaledger/m/internal/database"
	"pharmaledger/m/internal/invoice"
	"pharmaledger/m/internal/migrations"
	"pharmaledger/m/internal/seed"
	"pharmaledger/m/internal/service"
	"pharmaledger/m/pkg/logger"
)

// env is opened by the Before hook and shared by every command.
type env struct {
	cfg  config.Config
	db   *database.DB
	core *service.Core
}

func (e *env) open(c *cli.Context) error {
	e.cfg = config.Load()
	logger.Init(e.cfg.LogLevel, e.cfg.LogPretty)

	db, err := database.Connect(e.cfg.DBDriver, e.cfg.DatabaseDSN, e.cfg.MaxConcurrentTx)
	if err != nil {
		return err
	}
	if err := migrations.Run(db.DB); err != nil {
		_ = db.Close()
		return fmt.Errorf("migrate: %w", err)
	}
	stockCache, err := cache.NewStockCache(e.cfg.RedisURL, e.cfg.CacheTTL)
	if err != nil {
		logger.Log.Warn().Err(err).Msg("stock cache unavailable, invalidation skipped")
		stockCache = cache.NewNoopStockCache()
	}
	e.db = db
	e.core = service.NewCore(db, service.WithStockCache(stockCache))
	return nil
}

func (e *env) close(c *cli.Context) error {
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}

func main() {
	e := &env{}
	app := &cli.App{
		Name:   "pharmactl",
		Usage:  "PharmaLedger administration",
		Before: e.open,
		After:  e.close,
		Commands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "Apply database migrations",
				Action: func(c *cli.Context) error {
					fmt.Fprintln(c.App.Writer, "migrations applied")
					return nil
				},
			},
			{
				Name:  "seed",
				Usage: "Load reference data",
				Subcommands: []*cli.Command{
					{
						Name:  "catalog",
						Usage: "Import products from a CSV file",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "file", Usage: "CSV path", Required: true},
							&cli.StringFlag{Name: "charset", Usage: "utf-8, windows-1252 or iso-8859-1"},
						},
						Action: e.seedCatalog,
					},
				},
			},
			{
				Name:  "users",
				Usage: "Manage users",
				Subcommands: []*cli.Command{
					{
						Name:  "create",
						Usage: "Create a user",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "username", Required: true},
							&cli.StringFlag{Name: "email"},
							&cli.StringFlag{Name: "password", Required: true, EnvVars: []string{"PHARMACTL_PASSWORD"}},
							&cli.StringFlag{Name: "role", Value: string(domain.RoleAdmin)},
						},
						Action: e.createUser,
					},
				},
			},
			{
				Name:  "invoices",
				Usage: "Invoice maintenance",
				Subcommands: []*cli.Command{
					{
						Name:  "generate",
						Usage: "Generate the invoice of one sale, or of every sale without one",
						Flags: []cli.Flag{
							&cli.Int64Flag{Name: "sale-id"},
							&cli.BoolFlag{Name: "force", Usage: "issue a new invoice even if one exists"},
						},
						Action: e.generateInvoices,
					},
				},
			},
			{
				Name:  "credit",
				Usage: "Customer credit maintenance",
				Subcommands: []*cli.Command{
					{
						Name:  "recalc",
						Usage: "Recompute credit balances from sales",
						Flags: []cli.Flag{
							&cli.Int64Flag{Name: "customer-id"},
						},
						Action: e.recalcCredit,
					},
				},
			},
			{
				Name:  "stock",
				Usage: "Stock reporting",
				Subcommands: []*cli.Command{
					{
						Name:  "export",
						Usage: "Write the stock report as an XLSX workbook",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "out", Value: "stock.xlsx"},
						},
						Action: e.exportStock,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Log.Fatal().Err(err).Msg("pharmactl failed")
	}
}

func (e *env) seedCatalog(c *cli.Context) error {
	charset := c.String("charset")
	if charset == "" {
		charset = e.cfg.SeedCharset
	}
	res, err := seed.LoadCatalogFile(c.Context, e.db, c.String("file"), charset)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "inserted %d products, skipped %d\n", res.Inserted, res.Skipped)
	return nil
}

func (e *env) createUser(c *cli.Context) error {
	u, err := service.NewUsers(e.core).Create(c.Context, c.String("username"), c.String("email"), c.String("password"), domain.Role(c.String("role")))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "created %s user %q (id %d)\n", u.Role, u.Username, u.ID)
	return nil
}

func (e *env) generateInvoices(c *cli.Context) error {
	invoices := service.NewInvoices(e.core, invoice.XLSXRenderer{}, e.cfg.InvoiceDir)
	if id := c.Int64("sale-id"); id > 0 {
		inv, err := invoices.Generate(c.Context, id, c.Bool("force"))
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%s %s\n", inv.Number, inv.FilePath)
		return nil
	}
	n, err := invoices.GenerateMissing(c.Context)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "generated %d invoices\n", n)
	return nil
}

func (e *env) recalcCredit(c *cli.Context) error {
	var customerID *int64
	if id := c.Int64("customer-id"); id > 0 {
		customerID = &id
	}
	n, err := service.NewSales(e.core).RecalculateCredit(c.Context, customerID)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "recalculated %d customers\n", n)
	return nil
}

func (e *env) exportStock(c *cli.Context) error {
	stock, err := service.NewInventory(e.core).StockReport(c.Context)
	if err != nil {
		return err
	}
	f, err := os.Create(c.String("out"))
	if err != nil {
		return err
	}
	if err := invoice.WriteStockReport(f, stock); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "wrote %d products to %s\n", len(stock), c.String("out"))
	return nil
}
