//go:build integration

package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/heimdall-local/internal/database"
	"github.com/rafaeljc/heimdall-local/internal/flagdef"
	"github.com/rafaeljc/heimdall-local/internal/testsupport"
)

func snapshotOf(keys ...string) *flagdef.Snapshot {
	s := &flagdef.Snapshot{}
	for i, key := range keys {
		s.Flags = append(s.Flags, flagdef.FlagDefinition{ID: int64(i + 1), Key: key, Active: true})
	}
	return s
}

func TestPostgresProvider_Integration(t *testing.T) {
	// 1. Infrastructure Setup
	ctx := context.Background()
	pgCtr, err := testsupport.StartPostgresContainer(ctx)
	require.NoError(t, err)
	defer pgCtr.Terminate(ctx)

	first := database.NewPostgresProvider(nil, pgCtr.DB, database.PostgresOptions{Namespace: "it"})
	second := database.NewPostgresProvider(nil, pgCtr.DB, database.PostgresOptions{Namespace: "it"})

	t.Run("Should be idempotent when migrating twice", func(t *testing.T) {
		require.NoError(t, database.Migrate(ctx, nil, pgCtr.DB))
	})

	t.Run("Should return nil when the row does not exist", func(t *testing.T) {
		snapshot, err := first.GetFlagDefinitions(ctx)

		require.NoError(t, err)
		assert.Nil(t, snapshot)
	})

	t.Run("Should share stored definitions between providers", func(t *testing.T) {
		require.NoError(t, first.OnFlagDefinitionsReceived(ctx, snapshotOf("alpha", "beta")))

		got, err := second.GetFlagDefinitions(ctx)

		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, 2, got.FlagCount())
	})

	t.Run("Should not overwrite a newer snapshot", func(t *testing.T) {
		_, err := pgCtr.DB.Exec(ctx,
			`UPDATE heimdall_flag_definitions SET version = $1, definitions = $2 WHERE namespace = 'it'`,
			time.Now().Add(time.Hour).UnixMilli(), []byte(`{"flags":[{"id":9,"key":"newer","active":true}]}`))
		require.NoError(t, err)

		require.NoError(t, first.OnFlagDefinitionsReceived(ctx, snapshotOf("older")))

		got, err := first.GetFlagDefinitions(ctx)
		require.NoError(t, err)
		require.Len(t, got.Flags, 1)
		assert.Equal(t, "newer", got.Flags[0].Key)
	})

	t.Run("Should grant the advisory lock to a single provider", func(t *testing.T) {
		ok, err := first.ShouldFetchFlagDefinitions(ctx)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = second.ShouldFetchFlagDefinitions(ctx)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = first.ShouldFetchFlagDefinitions(ctx)
		require.NoError(t, err)
		assert.True(t, ok, "lock holder keeps fetching")
	})

	t.Run("Should hand the lock over after shutdown", func(t *testing.T) {
		require.NoError(t, first.Shutdown(ctx))
		require.NoError(t, first.Shutdown(ctx), "second shutdown is a no-op")

		ok, err := second.ShouldFetchFlagDefinitions(ctx)
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, second.Shutdown(ctx))
	})

	t.Run("Should free the lock when its session fails a health check", func(t *testing.T) {
		const lockKey = 4242
		const heldLocks = `SELECT count(*) FROM pg_locks
			WHERE locktype = 'advisory' AND classid = 0 AND objid = 4242 AND objsubid = 1 AND granted`

		provider := database.NewPostgresProvider(nil, pgCtr.DB, database.PostgresOptions{Namespace: "it", LockKey: lockKey})
		defer provider.Shutdown(ctx)

		ok, err := provider.ShouldFetchFlagDefinitions(ctx)
		require.NoError(t, err)
		require.True(t, ok)

		// A done context fails the ping without breaking the session.
		done, cancel := context.WithCancel(ctx)
		cancel()
		_, err = provider.ShouldFetchFlagDefinitions(done)
		require.Error(t, err)

		require.Eventually(t, func() bool {
			var held int
			return pgCtr.DB.QueryRow(ctx, heldLocks).Scan(&held) == nil && held == 0
		}, 2*time.Second, 10*time.Millisecond, "dropped session must not keep the lock in the pool")

		ok, err = provider.ShouldFetchFlagDefinitions(ctx)
		require.NoError(t, err)
		assert.True(t, ok, "lock can be taken again")
	})
}

func TestPostgres_PoolMonitor_Integration(t *testing.T) {
	ctx := context.Background()
	pgCtr, err := testsupport.StartPostgresContainer(ctx)
	require.NoError(t, err)
	defer pgCtr.Terminate(ctx)

	monitorCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go database.RunPoolMonitor(monitorCtx, pgCtr.DB, 10*time.Millisecond)

	t.Run("Should report pool configuration", func(t *testing.T) {
		require.Eventually(t, func() bool {
			return testsupport.GetMetricValue(t, "heimdall_database_pool_connections", map[string]string{"state": "max"}) == 5
		}, 2*time.Second, 10*time.Millisecond, "metric 'max' connections mismatch")
	})

	t.Run("Should track acquisition counts", func(t *testing.T) {
		initial := testsupport.GetMetricValue(t, "heimdall_database_pool_acquire_count_total", nil)

		for range 5 {
			conn, err := pgCtr.DB.Acquire(ctx)
			require.NoError(t, err)
			conn.Release()
		}

		require.Eventually(t, func() bool {
			return testsupport.GetMetricValue(t, "heimdall_database_pool_acquire_count_total", nil) >= initial+5
		}, 2*time.Second, 10*time.Millisecond, "acquire_count delta mismatch")
	})

	t.Run("Should track in-use connections", func(t *testing.T) {
		conn, err := pgCtr.DB.Acquire(ctx)
		require.NoError(t, err)
		defer conn.Release()

		require.Eventually(t, func() bool {
			return testsupport.GetMetricValue(t, "heimdall_database_pool_connections", map[string]string{"state": "in_use"}) >= 1
		}, 2*time.Second, 10*time.Millisecond, "in_use gauge failed to update")
	})
}
