package coordinator

import (
	"context"

	"github.com/rafaeljc/heimdall-local/internal/flagdef"
)

// CacheProvider is implemented by the host to share definitions between
// cooperating processes. Every method may block and may fail; failures are
// reported as events and never abort a refresh cycle.
type CacheProvider interface {
	// GetFlagDefinitions reads the shared snapshot. A nil snapshot with a nil
	// error means the cache holds nothing yet.
	GetFlagDefinitions(ctx context.Context) (*flagdef.Snapshot, error)

	// ShouldFetchFlagDefinitions decides whether this process should hit the
	// remote service, typically by acquiring a distributed lock.
	ShouldFetchFlagDefinitions(ctx context.Context) (bool, error)

	// OnFlagDefinitionsReceived persists freshly fetched definitions for
	// other processes.
	OnFlagDefinitionsReceived(ctx context.Context, snapshot *flagdef.Snapshot) error

	// Shutdown releases any coordination resource held by the provider.
	Shutdown(ctx context.Context) error
}

// FetchResult is the logical response of a definitions fetch.
type FetchResult struct {
	Snapshot *flagdef.Snapshot

	// ErrorsWhileComputing is set when the service could not compute some
	// flags. The snapshot is then merged over the current one instead of
	// replacing it.
	ErrorsWhileComputing bool

	// NotModified means the definitions did not change since the last fetch.
	// Snapshot is nil in that case.
	NotModified bool
}

// Fetcher retrieves definitions from their source of truth.
type Fetcher interface {
	Fetch(ctx context.Context) (*FetchResult, error)
}
