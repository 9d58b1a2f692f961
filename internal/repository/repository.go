// Package repository holds the SQL for every table. Functions take a
// sqlx.ExtContext so they run the same on the pool and inside a
// transaction; callers pass lock=true only from within one.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"

	"pharmaledger/m/domain"
	"pharmaledger/m/internal/database"
	"pharmaledger/m/internal/ledger"
)

const dateLayout = "2006-01-02"

// sqlite extended result codes
const (
	sqliteConstraintForeignKey = 787
	sqliteConstraintUnique     = 2067
)

func dateArg(t time.Time) string {
	return domain.DateOf(t).Format(dateLayout)
}

func now() time.Time {
	return time.Now().UTC()
}

func lockClause(q sqlx.ExtContext, lock bool) string {
	if !lock {
		return ""
	}
	return database.ForUpdate(q)
}

func insertReturningID(ctx context.Context, q sqlx.ExtContext, query string, args ...any) (int64, error) {
	var id int64
	if err := q.QueryRowxContext(ctx, q.Rebind(query+" RETURNING id"), args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func exec(ctx context.Context, q sqlx.ExtContext, query string, args ...any) (int64, error) {
	res, err := q.ExecContext(ctx, q.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func get(ctx context.Context, q sqlx.ExtContext, dest any, entity string, id int64, query string, args ...any) error {
	err := sqlx.GetContext(ctx, q, dest, q.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return &ledger.NotFoundError{Entity: entity, ID: id}
	}
	if err != nil {
		return fmt.Errorf("load %s %d: %w", entity, id, err)
	}
	return nil
}

func selectAll(ctx context.Context, q sqlx.ExtContext, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, q, dest, q.Rebind(query), args...)
}

// IsUniqueViolation reports whether err is a unique constraint failure on
// either supported driver.
func IsUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqliteConstraintUnique
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	return false
}

// IsForeignKeyViolation reports whether err is a foreign key failure.
func IsForeignKeyViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqliteConstraintForeignKey
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe.Code == "23503"
	}
	return false
}

func uniqueConflict(err error, what string) error {
	if IsUniqueViolation(err) {
		return ledger.Conflictf("%s already exists", what)
	}
	return err
}

func notFoundErr(entity string, id int64) error {
	return &ledger.NotFoundError{Entity: entity, ID: id}
}
