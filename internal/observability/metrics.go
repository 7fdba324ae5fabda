package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NOTE: Metrics are global. Several SDK clients in one process share them,
// which is what a scrape of one process should report anyway.

// namespace defines the global prefix for all metrics (e.g., heimdall_...).
const namespace = "heimdall"

// lowLatencyBuckets covers in-process evaluations, which are far below the
// default 5ms first bucket. Range: 50µs to 100ms.
var lowLatencyBuckets = []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .010, .025, .100}

var (
	// -------------------------------------------------------------------------
	// COORDINATOR (refresh cycles)
	// -------------------------------------------------------------------------

	// RefreshTotal counts refresh cycles by the source that produced the data.
	// source: cache, remote, emergency, not_modified, none. status: success, fail.
	// Metric: heimdall_coordinator_refresh_total
	RefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "coordinator",
		Name:      "refresh_total",
		Help:      "Total refresh cycles by data source and outcome",
	}, []string{"source", "status"})

	// RefreshDuration measures one complete refresh cycle.
	// Metric: heimdall_coordinator_refresh_duration_seconds
	RefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "coordinator",
		Name:      "refresh_duration_seconds",
		Help:      "Time taken by a refresh cycle, including provider calls",
		Buckets:   prometheus.DefBuckets,
	})

	// RefreshCoalesced counts Load calls that joined an in-flight cycle.
	RefreshCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "coordinator",
		Name:      "refresh_coalesced_total",
		Help:      "Total load requests served by an already running refresh cycle",
	})

	// ProviderErrorsTotal counts non-fatal cache provider failures per hook.
	// Metric: heimdall_coordinator_provider_errors_total
	ProviderErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "coordinator",
		Name:      "provider_errors_total",
		Help:      "Total cache provider failures by hook",
	}, []string{"hook"})

	// FlagsLoaded is the number of flag definitions currently held in memory.
	FlagsLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "coordinator",
		Name:      "flags_loaded",
		Help:      "Current number of flag definitions held in memory",
	})

	// FlagsCyclic is the number of flags disabled by cycle removal in the current snapshot.
	FlagsCyclic = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "coordinator",
		Name:      "flags_cyclic",
		Help:      "Current number of flags disabled because of cyclic dependencies",
	})

	// -------------------------------------------------------------------------
	// REMOTE (definition fetches)
	// -------------------------------------------------------------------------

	// RemoteFetchTotal counts remote fetch attempts.
	// status: success, not_modified, retry, fail.
	// Metric: heimdall_remote_fetch_total
	RemoteFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "remote",
		Name:      "fetch_total",
		Help:      "Total remote definition fetch attempts by outcome",
	}, []string{"status"})

	// RemoteFetchDuration measures one fetch including retries.
	RemoteFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "remote",
		Name:      "fetch_duration_seconds",
		Help:      "Time taken to fetch flag definitions, including retries",
		Buckets:   prometheus.DefBuckets,
	})

	// -------------------------------------------------------------------------
	// EVALUATION
	// -------------------------------------------------------------------------

	// EvaluationsTotal counts local evaluations by outcome.
	// result: true, false, variant, undefined.
	// Metric: heimdall_evaluation_total
	EvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "evaluation",
		Name:      "total",
		Help:      "Total local flag evaluations by result",
	}, []string{"result"})

	// EvaluationDuration measures a single-flag or all-flags evaluation.
	EvaluationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "evaluation",
		Name:      "duration_seconds",
		Help:      "Time taken to evaluate flags locally",
		Buckets:   lowLatencyBuckets,
	}, []string{"method"})

	// -------------------------------------------------------------------------
	// SIDECAR API (HTTP)
	// -------------------------------------------------------------------------

	// SidecarReqDuration measures the latency of HTTP requests.
	// Metric: heimdall_sidecar_http_handling_seconds
	SidecarReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "sidecar",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle HTTP requests in the sidecar API",
		Buckets:   lowLatencyBuckets,
	}, []string{"method", "path"})

	// SidecarReqTotal counts the total number of HTTP requests.
	// Metric: heimdall_sidecar_http_requests_total
	SidecarReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sidecar",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests in the sidecar API",
	}, []string{"method", "path", "code"})

	// -------------------------------------------------------------------------
	// REPORTER ($feature_flag_called events)
	// -------------------------------------------------------------------------

	// ReporterEventsTotal counts flag-called events. status: sent, deduplicated, fail.
	ReporterEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reporter",
		Name:      "events_total",
		Help:      "Total feature flag called events by outcome",
	}, []string{"status"})

	// ReporterDedupeItems is the number of entries in the dedupe cache.
	ReporterDedupeItems = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "reporter",
		Name:      "dedupe_items_count",
		Help:      "Current number of entries in the event dedupe cache",
	})

	// -------------------------------------------------------------------------
	// SHARED CACHE BACKENDS (connection pools)
	// -------------------------------------------------------------------------

	// RedisPoolConnections reports pool state. state: total, idle, stale.
	// Metric: heimdall_redis_pool_connections
	RedisPoolConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "redis",
		Name:      "pool_connections",
		Help:      "Current number of Redis connections by state",
	}, []string{"state"})

	// RedisPoolHits counts connections reused from the pool.
	RedisPoolHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "redis",
		Name:      "pool_hits_total",
		Help:      "Total times a free connection was found in the pool",
	})

	// RedisPoolMisses counts connections that had to be dialed.
	RedisPoolMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "redis",
		Name:      "pool_misses_total",
		Help:      "Total times a free connection was not found in the pool",
	})

	// RedisPoolTimeouts counts waits for a connection that timed out.
	RedisPoolTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "redis",
		Name:      "pool_timeouts_total",
		Help:      "Total times waiting for a pool connection timed out",
	})

	// DBPoolConnections reports pool state. state: total, idle, in_use, max.
	// Metric: heimdall_database_pool_connections
	DBPoolConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_connections",
		Help:      "Current number of database connections by state",
	}, []string{"state"})

	// DBPoolAcquireCount counts successful connection acquisitions.
	DBPoolAcquireCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_acquire_count_total",
		Help:      "Total successful connection acquisitions",
	})

	// DBPoolAcquireDuration accumulates time spent acquiring connections.
	DBPoolAcquireDuration = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_acquire_duration_seconds_total",
		Help:      "Total time spent acquiring connections",
	})

	// DBPoolWaitCount counts acquisitions that had to wait for a free connection.
	DBPoolWaitCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_wait_count_total",
		Help:      "Total acquisitions that waited for a connection",
	})
)
