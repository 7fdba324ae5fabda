package config

import "time"

// Supported shared cache providers.
const (
	CacheProviderNone     = "none"
	CacheProviderRedis    = "redis"
	CacheProviderPostgres = "postgres"
)

// CacheConfig selects the shared cache used to coordinate fetches between processes.
type CacheConfig struct {
	Provider string `envconfig:"PROVIDER" default:"none" validate:"oneof=none redis postgres"`

	// KeyPrefix namespaces Redis keys.
	KeyPrefix string `envconfig:"KEY_PREFIX" default:"heimdall:definitions"`

	// LockTTL is how long a process keeps the right to fetch. It should
	// exceed the poll interval so the same process keeps fetching.
	LockTTL time.Duration `envconfig:"LOCK_TTL" default:"60s" validate:"min=1s"`

	// LockKey is the Postgres advisory lock key.
	LockKey int64 `envconfig:"LOCK_KEY" default:"7220415"`

	// RunMigrations applies the embedded migrations on startup (postgres only).
	RunMigrations bool `envconfig:"RUN_MIGRATIONS" default:"true"`
}
