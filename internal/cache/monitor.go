package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rafaeljc/heimdall-local/internal/observability"
)

// RunPoolMonitor publishes pool statistics until ctx is cancelled.
// go-redis exposes cumulative counters, so deltas are added to the Prometheus counters.
func RunPoolMonitor(ctx context.Context, client *redis.Client, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last redis.PoolStats
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := client.PoolStats()
			if stats == nil {
				continue
			}
			observability.RedisPoolConnections.WithLabelValues("total").Set(float64(stats.TotalConns))
			observability.RedisPoolConnections.WithLabelValues("idle").Set(float64(stats.IdleConns))
			observability.RedisPoolConnections.WithLabelValues("stale").Set(float64(stats.StaleConns))

			observability.RedisPoolHits.Add(float64(delta(stats.Hits, last.Hits)))
			observability.RedisPoolMisses.Add(float64(delta(stats.Misses, last.Misses)))
			observability.RedisPoolTimeouts.Add(float64(delta(stats.Timeouts, last.Timeouts)))
			last = *stats
		}
	}
}

func delta(current, previous uint32) uint32 {
	if current < previous {
		return current
	}
	return current - previous
}
