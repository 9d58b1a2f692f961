package migrations

import (
	"embed"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	"pharmaledger/m/internal/database"
	"pharmaledger/m/pkg/logger"
)

//go:embed sql/sqlite/*.sql sql/postgres/*.sql
var migrationsFS embed.FS

type gooseLogger struct{}

func (gooseLogger) Printf(format string, v ...interface{}) {
	logger.Log.Info().Msgf(format, v...)
}

func (gooseLogger) Fatalf(format string, v ...interface{}) {
	logger.Log.Fatal().Msgf(format, v...)
}

// Run applies every pending migration for the database's dialect.
func Run(db *sqlx.DB) error {
	dialect, dir := "postgres", "sql/postgres"
	if database.IsSQLite(db) {
		dialect, dir = "sqlite3", "sql/sqlite"
	}

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(gooseLogger{})
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("migration dialect: %w", err)
	}
	if err := goose.Up(db.DB, dir); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}
