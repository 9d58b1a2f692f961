package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pharmaledger/m/internal/api"
	"pharmaledger/m/internal/cache"
	"pharmaledger/m/internal/config"
	"pharmaledger/m/internal/database"
	"pharmaledger/m/internal/invoice"
	"pharmaledger/m/internal/migrations"
	"pharmaledger/m/internal/seed"
	"pharmaledger/m/internal/service"
	"pharmaledger/m/pkg/logger"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogPretty)

	db, err := database.Connect(cfg.DBDriver, cfg.DatabaseDSN, cfg.MaxConcurrentTx)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := migrations.Run(db.DB); err != nil {
		logger.Log.Fatal().Err(err).Msg("failed to run migrations")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.SeedCatalog != "" {
		res, err := seed.LoadCatalogFile(ctx, db, cfg.SeedCatalog, cfg.SeedCharset)
		if err != nil {
			logger.Log.Error().Err(err).Str("file", cfg.SeedCatalog).Msg("catalog seed failed")
		} else {
			logger.Log.Info().Int("inserted", res.Inserted).Int("skipped", res.Skipped).Msg("catalog seeded")
		}
	}

	stockCache, err := cache.NewStockCache(cfg.RedisURL, cfg.CacheTTL)
	if err != nil {
		logger.Log.Warn().Err(err).Msg("stock cache unavailable, continuing without it")
		stockCache = cache.NewNoopStockCache()
	}

	core := service.NewCore(db, service.WithStockCache(stockCache))
	handler := api.New(api.Services{
		Users:     service.NewUsers(core),
		Catalog:   service.NewCatalog(core),
		Inventory: service.NewInventory(core),
		Sales:     service.NewSales(core),
		Invoices:  service.NewInvoices(core, invoice.XLSXRenderer{}, cfg.InvoiceDir),
		Reports:   service.NewReports(core),
	}, api.Options{
		Secret:         cfg.Secret,
		AllowedOrigins: cfg.AllowedOrigins,
		MetricsEnabled: cfg.MetricsEnabled,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Log.Info().Str("port", cfg.HTTPPort).Str("driver", cfg.DBDriver).Msg("PharmaLedger server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	logger.Log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error().Err(err).Msg("server forced to shut down")
	}
}
