package coordinator

import (
	"context"

	"github.com/rafaeljc/heimdall-local/internal/flagdef"
)

// The wrappers below turn every provider call into a plain blocking call with
// an error result, whatever the implementation does, panics included.

func recoverInto(err *error) {
	if r := recover(); r != nil {
		*err = &PanicError{Value: r}
	}
}

func safeGet(ctx context.Context, p CacheProvider) (snapshot *flagdef.Snapshot, err error) {
	defer recoverInto(&err)
	return p.GetFlagDefinitions(ctx)
}

func safeShouldFetch(ctx context.Context, p CacheProvider) (should bool, err error) {
	defer recoverInto(&err)
	return p.ShouldFetchFlagDefinitions(ctx)
}

func safeOnReceived(ctx context.Context, p CacheProvider, snapshot *flagdef.Snapshot) (err error) {
	defer recoverInto(&err)
	return p.OnFlagDefinitionsReceived(ctx, snapshot)
}

func safeShutdown(ctx context.Context, p CacheProvider) (err error) {
	defer recoverInto(&err)
	return p.Shutdown(ctx)
}

func safeFetch(ctx context.Context, f Fetcher) (result *FetchResult, err error) {
	defer recoverInto(&err)
	return f.Fetch(ctx)
}
