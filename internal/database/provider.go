package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rafaeljc/heimdall-local/internal/flagdef"
)

const (
	// DefaultNamespace is the row used when none is configured.
	DefaultNamespace = "default"

	// DefaultLockKey is the advisory lock key guarding remote fetches.
	DefaultLockKey int64 = 7220415
)

// PostgresOptions configures a PostgresProvider.
type PostgresOptions struct {
	Namespace string
	LockKey   int64
}

// PostgresProvider implements the coordinator's CacheProvider on PostgreSQL.
// The fetch lock is a session-level advisory lock, held on a connection the
// provider keeps out of the pool until Shutdown.
type PostgresProvider struct {
	logger    *slog.Logger
	pool      *pgxpool.Pool
	namespace string
	lockKey   int64
	now       func() time.Time

	mu       sync.Mutex
	lockConn *pgxpool.Conn
}

// NewPostgresProvider creates a provider backed by pool.
func NewPostgresProvider(logger *slog.Logger, pool *pgxpool.Pool, opts PostgresOptions) *PostgresProvider {
	if pool == nil {
		panic("database: pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Namespace == "" {
		opts.Namespace = DefaultNamespace
	}
	if opts.LockKey == 0 {
		opts.LockKey = DefaultLockKey
	}

	return &PostgresProvider{
		logger:    logger,
		pool:      pool,
		namespace: opts.Namespace,
		lockKey:   opts.LockKey,
		now:       time.Now,
	}
}

// GetFlagDefinitions returns the stored snapshot, or nil when the row does not exist.
func (p *PostgresProvider) GetFlagDefinitions(ctx context.Context) (*flagdef.Snapshot, error) {
	const query = `SELECT definitions FROM heimdall_flag_definitions WHERE namespace = $1`

	var data []byte
	err := p.pool.QueryRow(ctx, query, p.namespace).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	snapshot, err := flagdef.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cached snapshot: %w", err)
	}
	return snapshot, nil
}

// ShouldFetchFlagDefinitions tries to take the advisory lock. Once held, the
// lock is kept for the lifetime of the provider.
func (p *PostgresProvider) ShouldFetchFlagDefinitions(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lockConn != nil {
		// A broken session loses the lock with it.
		if err := p.lockConn.Ping(ctx); err == nil {
			return true, nil
		}
		p.logger.Warn("advisory lock session lost")
		p.discardLockConn(ctx)
	}

	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, p.lockKey).Scan(&acquired); err != nil {
		conn.Release()
		return false, fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return false, nil
	}

	p.logger.Debug("advisory lock acquired", slog.Int64("lock_key", p.lockKey))
	p.lockConn = conn
	return true, nil
}

// discardLockConn closes the lock session before handing it back so the pool
// cannot reuse a session that may still hold the lock.
func (p *PostgresProvider) discardLockConn(ctx context.Context) {
	_ = p.lockConn.Conn().Close(ctx)
	p.lockConn.Release()
	p.lockConn = nil
}

// OnFlagDefinitionsReceived upserts the snapshot unless a newer one is stored.
func (p *PostgresProvider) OnFlagDefinitionsReceived(ctx context.Context, snapshot *flagdef.Snapshot) error {
	const query = `
		INSERT INTO heimdall_flag_definitions (namespace, version, definitions, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (namespace) DO UPDATE
		SET version = EXCLUDED.version,
			definitions = EXCLUDED.definitions,
			updated_at = EXCLUDED.updated_at
		WHERE heimdall_flag_definitions.version <= EXCLUDED.version`

	data, err := snapshot.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	tag, err := p.pool.Exec(ctx, query, p.namespace, p.now().UnixMilli(), data)
	if err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		p.logger.Debug("newer snapshot already stored", slog.String("namespace", p.namespace))
	}
	return nil
}

// Shutdown releases the advisory lock and its connection.
func (p *PostgresProvider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lockConn == nil {
		return nil
	}

	conn := p.lockConn
	p.lockConn = nil

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, p.lockKey); err != nil {
		// Closing the session releases the lock anyway.
		_ = conn.Conn().Close(ctx)
		conn.Release()
		return fmt.Errorf("failed to release advisory lock: %w", err)
	}

	conn.Release()
	p.logger.Info("advisory lock released", slog.Int64("lock_key", p.lockKey))
	return nil
}

// Ping reports whether the shared cache database is reachable.
func (p *PostgresProvider) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}
