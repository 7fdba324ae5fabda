package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/rafaeljc/heimdall-local/migrations"
)

// migrationsTable is separate from goose's default so the cache schema can
// live in a database that already uses goose.
const migrationsTable = "heimdall_schema_migrations"

// Migrate applies the embedded migrations.
func Migrate(ctx context.Context, logger *slog.Logger, pool *pgxpool.Pool) error {
	if logger == nil {
		logger = slog.Default()
	}

	// goose works on database/sql; the wrapper shares the pool's connections.
	db := stdlib.OpenDBFromPool(pool)
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("failed to close migration handle", slog.Any("error", err))
		}
	}()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(&gooseLogger{logger: logger})
	goose.SetTableName(migrationsTable)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// gooseLogger routes goose's Printf-style output through slog.
type gooseLogger struct {
	logger *slog.Logger
}

func (l *gooseLogger) Fatalf(format string, v ...any) {
	l.logger.Error(fmt.Sprintf(format, v...))
}

func (l *gooseLogger) Printf(format string, v ...any) {
	l.logger.Info(fmt.Sprintf(format, v...))
}
