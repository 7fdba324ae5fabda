package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/rafaeljc/heimdall-local/internal/coordinator"
	"github.com/rafaeljc/heimdall-local/internal/flagdef"
	"github.com/rafaeljc/heimdall-local/internal/ruleengine"
)

// Public names for the types that cross the SDK boundary.
type (
	// Value is the result of a flag evaluation: a boolean or a variant key.
	Value = flagdef.Value
	// Context carries the distinct id, groups and properties of one check.
	Context = ruleengine.Context
	// Snapshot is a complete set of flag definitions.
	Snapshot = flagdef.Snapshot
	// FlagDefinition is one flag as delivered by the definitions service.
	FlagDefinition = flagdef.FlagDefinition

	// Fetcher retrieves definitions from their source of truth.
	Fetcher = coordinator.Fetcher
	// FetchResult is what a Fetcher returns.
	FetchResult = coordinator.FetchResult
	// CacheProvider shares definitions between cooperating processes.
	CacheProvider = coordinator.CacheProvider

	// Hasher maps (flag, bucketing id, salt) to [0, 1).
	Hasher = ruleengine.Hasher
)

var (
	// ErrCacheProvider matches every error raised by a CacheProvider hook.
	ErrCacheProvider = coordinator.ErrCacheProvider
	// ErrFetch matches failed definition fetches.
	ErrFetch = coordinator.ErrFetch

	// ErrMissingFetcher is returned by New when Options.Fetcher is nil.
	ErrMissingFetcher = errors.New("sdk: fetcher is required")
)

// Reporter is notified of every decided flag check.
type Reporter interface {
	FlagCalled(ctx context.Context, distinctID, key string, value Value, payload json.RawMessage)
}

// Options configures a Client.
type Options struct {
	// Fetcher loads definitions. Required.
	Fetcher Fetcher

	// CacheProvider is optional. Without it every refresh fetches directly.
	CacheProvider CacheProvider

	// PollInterval defaults to 30 seconds.
	PollInterval time.Duration

	// ShutdownTimeout bounds the wait for CacheProvider.Shutdown. Defaults to 5 seconds.
	ShutdownTimeout time.Duration

	// Hasher defaults to the murmur3 bucketing hash.
	Hasher Hasher

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Reporter receives flag-called notifications. Optional.
	Reporter Reporter
}
