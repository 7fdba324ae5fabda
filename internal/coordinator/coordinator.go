// Package coordinator keeps the in-memory flag definitions fresh.
//
// A refresh cycle decides, through an optional CacheProvider, whether to
// reuse definitions shared by another process or to fetch them from the
// remote service. Concurrent refresh requests share one in-flight cycle.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/rafaeljc/heimdall-local/internal/flagdef"
	"github.com/rafaeljc/heimdall-local/internal/observability"
	"github.com/rafaeljc/heimdall-local/internal/store"
)

const (
	// DefaultPollInterval is used when Config.PollInterval is not set.
	DefaultPollInterval = 30 * time.Second
	// DefaultShutdownTimeout bounds the wait for the provider's Shutdown.
	DefaultShutdownTimeout = 5 * time.Second
)

// Data sources reported in metrics and logs.
const (
	sourceCache       = "cache"
	sourceRemote      = "remote"
	sourceEmergency   = "emergency"
	sourceNotModified = "not_modified"
	sourceNone        = "none"
)

var tracer = otel.Tracer("github.com/rafaeljc/heimdall-local/internal/coordinator")

// Config holds the configuration for the Coordinator.
type Config struct {
	// Fetcher retrieves definitions from the remote service. Required.
	Fetcher Fetcher

	// Provider is optional. Without it every cycle fetches directly.
	Provider CacheProvider

	// PollInterval is the duration between proactive refresh cycles.
	PollInterval time.Duration

	// ShutdownTimeout bounds the wait for Provider.Shutdown.
	ShutdownTimeout time.Duration
}

// Coordinator owns the lifecycle of the current definitions.
type Coordinator struct {
	logger *slog.Logger
	cfg    Config
	store  *store.DefinitionStore
	events *emitter

	group singleflight.Group

	ready     atomic.Bool
	readyCh   chan struct{}
	readyOnce sync.Once

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	shutdown bool
}

// New creates a Coordinator writing into s.
func New(logger *slog.Logger, cfg Config, s *store.DefinitionStore) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Fetcher == nil {
		panic("coordinator: fetcher cannot be nil")
	}
	if s == nil {
		panic("coordinator: definition store cannot be nil")
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	return &Coordinator{
		logger:  logger,
		cfg:     cfg,
		store:   s,
		events:  newEmitter(),
		readyCh: make(chan struct{}),
	}
}

// State returns the current evaluation state, nil before the first load.
func (c *Coordinator) State() *store.State {
	return c.store.Current()
}

// Load runs one refresh cycle. Calls made while a cycle is in flight wait for
// that cycle and receive its result. The cycle itself is not cancelled when
// ctx is; only this caller's wait is.
//
// Cache provider failures are reported through OnError and never returned.
// A failed remote fetch is returned as a *FetchError.
func (c *Coordinator) Load(ctx context.Context) error {
	ch := c.group.DoChan("load", func() (any, error) {
		return nil, c.refresh(context.WithoutCancel(ctx))
	})

	return c.await(ctx, ch)
}

// LoadIfEmpty runs a refresh cycle only while no definitions are held. It
// shares the in-flight slot with Load, so a first evaluation racing the
// poller's initial cycle triggers a single remote fetch.
func (c *Coordinator) LoadIfEmpty(ctx context.Context) error {
	ch := c.group.DoChan("load", func() (any, error) {
		if c.store.Current() != nil {
			return nil, nil
		}
		return nil, c.refresh(context.WithoutCancel(ctx))
	})
	return c.await(ctx, ch)
}

func (c *Coordinator) await(ctx context.Context, ch <-chan singleflight.Result) error {
	select {
	case res := <-ch:
		if res.Shared {
			observability.RefreshCoalesced.Inc()
		}
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsReady reports whether definitions were loaded at least once.
// Readiness is never revoked.
func (c *Coordinator) IsReady() bool {
	return c.ready.Load()
}

// WaitUntilReady blocks until the coordinator is ready or ctx is done and
// returns the readiness at that point.
func (c *Coordinator) WaitUntilReady(ctx context.Context) bool {
	select {
	case <-c.readyCh:
	case <-ctx.Done():
	}
	return c.IsReady()
}

// OnDefinitionsLoaded subscribes to successful loads. The handler receives
// the number of flags held. The returned function unsubscribes.
func (c *Coordinator) OnDefinitionsLoaded(fn func(count int)) func() {
	return c.events.onLoaded(fn)
}

// OnError subscribes to non-fatal errors. The returned function unsubscribes.
func (c *Coordinator) OnError(fn func(err error)) func() {
	return c.events.onError(fn)
}

// refresh performs a single refresh cycle.
func (c *Coordinator) refresh(ctx context.Context) error {
	start := time.Now()
	defer func() { observability.RefreshDuration.Observe(time.Since(start).Seconds()) }()

	ctx, span := tracer.Start(ctx, "coordinator.refresh")
	defer span.End()

	provider := c.cfg.Provider
	if provider == nil {
		return c.fetch(ctx, sourceRemote)
	}

	// 1. Coordination: failures fail open toward fetching.
	should, err := safeShouldFetch(ctx, provider)
	if err != nil {
		c.report(ctx, &CoordinationError{Err: err})
		should = true
	}
	if should {
		return c.fetch(ctx, sourceRemote)
	}

	// 2. Another process fetches: read what it shared.
	snapshot, err := safeGet(ctx, provider)
	switch {
	case err != nil:
		c.report(ctx, &CacheReadError{Err: err})
		return c.fetch(ctx, sourceRemote)

	case snapshot != nil:
		span.SetAttributes(attribute.String("source", sourceCache))
		c.adopt(snapshot, sourceCache)
		return nil

	case c.store.FlagCount() > 0:
		// Nothing shared yet; keep serving what we have.
		span.SetAttributes(attribute.String("source", sourceNone))
		observability.RefreshTotal.WithLabelValues(sourceNone, "success").Inc()
		return nil

	default:
		c.logger.Warn("no cached flag definitions and none in memory, fetching anyway")
		return c.fetch(ctx, sourceEmergency)
	}
}

// fetch calls the Fetcher, publishes the result in memory first and only
// then hands it to the provider.
func (c *Coordinator) fetch(ctx context.Context, source string) error {
	ctx, span := tracer.Start(ctx, "coordinator.fetch")
	defer span.End()
	span.SetAttributes(attribute.String("source", source))

	result, err := safeFetch(ctx, c.cfg.Fetcher)
	if err != nil {
		fetchErr := &FetchError{Err: err}
		span.RecordError(fetchErr)
		span.SetStatus(codes.Error, fetchErr.Error())
		observability.RefreshTotal.WithLabelValues(source, "fail").Inc()
		c.logger.Error("failed to fetch flag definitions",
			slog.String("source", source),
			slog.String("error", err.Error()),
		)
		c.events.emitError(fetchErr)
		return fetchErr
	}

	if result == nil || result.NotModified || result.Snapshot == nil {
		observability.RefreshTotal.WithLabelValues(sourceNotModified, "success").Inc()
		if c.store.Current() != nil {
			c.markReady()
		}
		return nil
	}

	snapshot := result.Snapshot
	if result.ErrorsWhileComputing {
		if current := c.store.Current(); current != nil {
			c.logger.Warn("remote reported errors while computing flags, merging over current definitions")
			snapshot = current.Snapshot.Merge(snapshot)
		}
	}

	c.adopt(snapshot, source)

	if provider := c.cfg.Provider; provider != nil {
		if err := safeOnReceived(ctx, provider, snapshot); err != nil {
			c.report(ctx, &CacheWriteError{Err: err})
		}
	}
	return nil
}

// adopt swaps the snapshot in, marks readiness and notifies subscribers.
func (c *Coordinator) adopt(snapshot *flagdef.Snapshot, source string) {
	state := c.store.Swap(snapshot)
	count := state.FlagCount()

	observability.FlagsLoaded.Set(float64(count))
	observability.FlagsCyclic.Set(float64(len(state.Removed)))
	observability.RefreshTotal.WithLabelValues(source, "success").Inc()

	c.logger.Info("flag definitions loaded",
		slog.String("source", source),
		slog.Int("flags", count),
	)

	c.markReady()
	c.events.emitLoaded(count)
}

func (c *Coordinator) markReady() {
	c.readyOnce.Do(func() {
		c.ready.Store(true)
		close(c.readyCh)
	})
}

// report logs and publishes a non-fatal error.
func (c *Coordinator) report(ctx context.Context, err error) {
	hook := hookOf(err)
	observability.ProviderErrorsTotal.WithLabelValues(hook).Inc()
	c.logger.Warn("cache provider failure",
		slog.String("hook", hook),
		slog.String("error", err.Error()),
	)
	trace.SpanFromContext(ctx).RecordError(err)
	c.events.emitError(err)
}

func hookOf(err error) string {
	var (
		readErr     *CacheReadError
		coordErr    *CoordinationError
		writeErr    *CacheWriteError
		shutdownErr *CacheShutdownError
	)
	switch {
	case errors.As(err, &readErr):
		return HookGetFlagDefinitions
	case errors.As(err, &coordErr):
		return HookShouldFetchFlagDefinitions
	case errors.As(err, &writeErr):
		return HookOnFlagDefinitionsReceived
	case errors.As(err, &shutdownErr):
		return HookShutdown
	default:
		return "unknown"
	}
}

// Start launches the poller in the background. It is a no-op when the
// poller already runs or the coordinator was shut down.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil || c.shutdown {
		return
	}

	pollCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done

	go func() {
		defer close(done)
		c.Run(pollCtx)
	}()
}

// Run loads immediately unless definitions are already held, then on every
// tick until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	c.logger.Info("starting definitions poller", slog.String("interval", c.cfg.PollInterval.String()))

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	if err := c.LoadIfEmpty(ctx); err != nil && ctx.Err() == nil {
		c.logger.Error("initial refresh failed", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("definitions poller stopping...")
			return
		case <-ticker.C:
			if err := c.Load(ctx); err != nil && ctx.Err() == nil {
				// Keep serving the last good definitions; retry on next tick.
				c.logger.Error("refresh cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Shutdown stops the poller and releases the provider. The provider gets at
// most ShutdownTimeout to return. Subsequent calls are no-ops.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return nil
	}
	c.shutdown = true
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
		}
	}

	provider := c.cfg.Provider
	if provider == nil {
		return nil
	}

	shutdownCtx, stop := context.WithTimeout(ctx, c.cfg.ShutdownTimeout)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- safeShutdown(shutdownCtx, provider) }()

	var err error
	select {
	case err = <-errCh:
	case <-shutdownCtx.Done():
		err = fmt.Errorf("provider did not shut down within %s: %w", c.cfg.ShutdownTimeout, shutdownCtx.Err())
	}
	if err == nil {
		return nil
	}

	shutdownErr := &CacheShutdownError{Err: err}
	c.report(ctx, shutdownErr)
	return shutdownErr
}
