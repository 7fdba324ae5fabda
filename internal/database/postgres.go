// Package database provides the PostgreSQL connection factory, schema
// migrations and the Postgres-backed definitions cache.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rafaeljc/heimdall-local/internal/config"
	"github.com/rafaeljc/heimdall-local/internal/logger"
)

// NewPostgresPool initializes a PostgreSQL connection pool.
// It returns the pool directly, allowing the caller to manage the lifecycle via Dependency Injection.
func NewPostgresPool(ctx context.Context, cfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config cannot be nil")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// The provider pins one connection for the advisory lock, so MaxConns
	// must leave room for queries.
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection (Ping) with exponential backoff
	maxRetries := max(cfg.PingMaxRetries, 1)
	backoff := cfg.PingBackoff
	log := logger.FromContext(ctx)

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, max(cfg.ConnectTimeout, time.Second))
		lastErr = pool.Ping(pingCtx)
		cancel()

		if lastErr == nil {
			log.Info("connected to postgres", slog.Int("attempt", attempt))
			return pool, nil
		}

		log.Warn("postgres ping failed", slog.Int("attempt", attempt), slog.Any("error", lastErr))
		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				pool.Close()
				return nil, fmt.Errorf("database connection aborted: %w", ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	pool.Close()
	return nil, fmt.Errorf("failed to ping database after %d retries: %w", maxRetries, lastErr)
}
