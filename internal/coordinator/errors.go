package coordinator

import (
	"errors"
	"fmt"
)

// Cache provider hook names, as reported in errors and metrics.
const (
	HookGetFlagDefinitions         = "getFlagDefinitions"
	HookShouldFetchFlagDefinitions = "shouldFetchFlagDefinitions"
	HookOnFlagDefinitionsReceived  = "onFlagDefinitionsReceived"
	HookShutdown                   = "shutdown"
)

var (
	// ErrCacheProvider matches every error raised by a cache provider hook.
	ErrCacheProvider = errors.New("cache provider failure")

	// ErrFetch matches failed remote fetches.
	ErrFetch = errors.New("failed to fetch flag definitions")
)

// CacheReadError is raised by GetFlagDefinitions. The coordinator falls back to fetching.
type CacheReadError struct {
	Err error
}

func (e *CacheReadError) Error() string {
	return fmt.Sprintf("failed to load from cache (%s): %v", HookGetFlagDefinitions, e.Err)
}

func (e *CacheReadError) Unwrap() error { return e.Err }

func (e *CacheReadError) Is(target error) bool { return target == ErrCacheProvider }

// CoordinationError is raised by ShouldFetchFlagDefinitions. The coordinator
// treats it as permission to fetch.
type CoordinationError struct {
	Err error
}

func (e *CoordinationError) Error() string {
	return fmt.Sprintf("error in cache coordination (%s): %v", HookShouldFetchFlagDefinitions, e.Err)
}

func (e *CoordinationError) Unwrap() error { return e.Err }

func (e *CoordinationError) Is(target error) bool { return target == ErrCacheProvider }

// CacheWriteError is raised by OnFlagDefinitionsReceived. The in-memory
// definitions are kept.
type CacheWriteError struct {
	Err error
}

func (e *CacheWriteError) Error() string {
	return fmt.Sprintf("failed to store in cache (%s): %v", HookOnFlagDefinitionsReceived, e.Err)
}

func (e *CacheWriteError) Unwrap() error { return e.Err }

func (e *CacheWriteError) Is(target error) bool { return target == ErrCacheProvider }

// CacheShutdownError is raised by the provider's Shutdown, including when it
// does not return within the shutdown timeout.
type CacheShutdownError struct {
	Err error
}

func (e *CacheShutdownError) Error() string {
	return fmt.Sprintf("error during cache shutdown (%s): %v", HookShutdown, e.Err)
}

func (e *CacheShutdownError) Unwrap() error { return e.Err }

func (e *CacheShutdownError) Is(target error) bool { return target == ErrCacheProvider }

// FetchError wraps a failed call to the Fetcher.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch flag definitions: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// PanicError is produced when a provider or fetcher panics.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("recovered from panic: %v", e.Value)
}
