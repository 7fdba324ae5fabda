package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rafaeljc/heimdall-local/internal/observability"
)

// RunPoolMonitor publishes pool statistics until ctx is cancelled.
func RunPoolMonitor(ctx context.Context, pool *pgxpool.Pool, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		lastAcquires int64
		lastWaits    int64
		lastDuration time.Duration
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stat := pool.Stat()

			observability.DBPoolConnections.WithLabelValues("total").Set(float64(stat.TotalConns()))
			observability.DBPoolConnections.WithLabelValues("idle").Set(float64(stat.IdleConns()))
			observability.DBPoolConnections.WithLabelValues("in_use").Set(float64(stat.AcquiredConns()))
			observability.DBPoolConnections.WithLabelValues("max").Set(float64(stat.MaxConns()))

			acquires := stat.AcquireCount()
			waits := stat.EmptyAcquireCount()
			duration := stat.AcquireDuration()

			observability.DBPoolAcquireCount.Add(float64(acquires - lastAcquires))
			observability.DBPoolWaitCount.Add(float64(waits - lastWaits))
			observability.DBPoolAcquireDuration.Add((duration - lastDuration).Seconds())

			lastAcquires, lastWaits, lastDuration = acquires, waits, duration
		}
	}
}
