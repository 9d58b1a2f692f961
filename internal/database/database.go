package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/semaphore"
	_ "modernc.org/sqlite"

	"pharmaledger/m/pkg/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"

	MemoryDSN = ":memory:?_pragma=foreign_keys(1)&_time_format=sqlite"
)

// DB is the connection pool plus a gate on concurrent transactions.
type DB struct {
	*sqlx.DB
	sem *semaphore.Weighted
}

// Connect opens a SQLite or PostgreSQL database using the provided DSN.
// SQLite is limited to one connection so writers are serialized.
func Connect(driver, dsn string, maxConcurrentTx int64) (*DB, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(10)
	}
	if maxConcurrentTx <= 0 {
		maxConcurrentTx = 1
	}
	return &DB{DB: db, sem: semaphore.NewWeighted(maxConcurrentTx)}, nil
}

// maxTxAttempts bounds how often WithTx reruns a transaction the server
// aborted for a deadlock or serialization failure.
const maxTxAttempts = 3

// WithTx runs fn in a transaction, committing when fn returns nil and
// rolling back on error or panic. A transaction PostgreSQL aborts as a
// deadlock victim or serialization failure is rerun from the start, so fn
// must not keep state across calls.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	if err := db.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("could not acquire transaction slot: %w", err)
	}
	defer db.sem.Release(1)

	for attempt := 1; ; attempt++ {
		err := db.runTx(ctx, fn)
		if err == nil || attempt == maxTxAttempts || !IsRetryable(err) || ctx.Err() != nil {
			return err
		}
		logger.Log.Warn().Err(err).Int("attempt", attempt).Msg("transaction aborted by the database, retrying")
	}
}

func (db *DB) runTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Log.Error().Err(rbErr).Msg("could not rollback transaction")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}
	return nil
}

// IsRetryable reports whether err is a PostgreSQL deadlock (40P01) or
// serialization failure (40001).
func IsRetryable(err error) bool {
	var pe *pgconn.PgError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Code == "40P01" || pe.Code == "40001"
}

// ReadTx runs fn in a transaction that is always rolled back.
func (db *DB) ReadTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	if err := db.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("could not acquire transaction slot: %w", err)
	}
	defer db.sem.Release(1)

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()
	return fn(tx)
}

// IsSQLite reports whether q talks to the SQLite driver.
func IsSQLite(q interface{ DriverName() string }) bool {
	return q.DriverName() == DriverSQLite
}

// ForUpdate is the row-lock clause for q's dialect. SQLite has no row
// locks; its single connection already serializes transactions.
func ForUpdate(q interface{ DriverName() string }) string {
	if IsSQLite(q) {
		return ""
	}
	return " FOR UPDATE"
}
