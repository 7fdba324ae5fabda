// Package sdk is the public entry point for local flag evaluation.
//
// A Client keeps flag definitions fresh in the background and evaluates
// flags in process. The first evaluation (or WaitUntilReady) starts the
// refresh pipeline; later calls read the current definitions without I/O.
package sdk

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/rafaeljc/heimdall-local/internal/coordinator"
	"github.com/rafaeljc/heimdall-local/internal/flagdef"
	"github.com/rafaeljc/heimdall-local/internal/observability"
	"github.com/rafaeljc/heimdall-local/internal/ruleengine"
	"github.com/rafaeljc/heimdall-local/internal/store"
)

// Client evaluates feature flags locally. It is safe for concurrent use.
// Each Client owns its poller; clients never share state.
type Client struct {
	logger   *slog.Logger
	store    *store.DefinitionStore
	coord    *coordinator.Coordinator
	engine   *ruleengine.Engine
	reporter Reporter

	// ctx scopes the poller to the client's lifetime.
	ctx    context.Context
	cancel context.CancelFunc

	startOnce    sync.Once
	shutdownOnce sync.Once
	shutdownErr  error
}

// Status describes the definitions currently held by a Client.
type Status struct {
	Ready       bool      `json:"ready"`
	FlagCount   int       `json:"flag_count"`
	Evaluable   int       `json:"evaluable_count"`
	CyclicFlags []string  `json:"cyclic_flags"`
	LoadedAt    time.Time `json:"loaded_at,omitzero"`
}

// New creates a Client. Nothing is fetched until the client is first used.
func New(opts Options) (*Client, error) {
	if opts.Fetcher == nil {
		return nil, ErrMissingFetcher
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	defs := store.New(logger)
	coord := coordinator.New(logger, coordinator.Config{
		Fetcher:         opts.Fetcher,
		Provider:        opts.CacheProvider,
		PollInterval:    opts.PollInterval,
		ShutdownTimeout: opts.ShutdownTimeout,
	}, defs)

	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		logger:   logger,
		store:    defs,
		coord:    coord,
		engine:   ruleengine.NewEngine(logger, opts.Hasher),
		reporter: opts.Reporter,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start launches the background poller. Calling it is optional: the first
// evaluation starts it too.
func (c *Client) Start() {
	c.startOnce.Do(func() {
		c.coord.Start(c.ctx)
	})
}

// ensureLoaded starts the poller and, while no definitions are held, waits
// for a refresh cycle. Failures leave the client without definitions; they
// are reported through OnError and the poller retries.
func (c *Client) ensureLoaded(ctx context.Context) *store.State {
	c.Start()

	if state := c.coord.State(); state != nil {
		return state
	}
	if err := c.coord.LoadIfEmpty(ctx); err != nil {
		c.logger.Debug("definitions unavailable for evaluation", slog.Any("error", err))
	}
	return c.coord.State()
}

// GetFeatureFlag evaluates key. ok is false when the flag is unknown,
// disabled by a dependency cycle, or cannot be decided locally.
func (c *Client) GetFeatureFlag(ctx context.Context, key string, evalCtx Context) (Value, bool) {
	value, _, ok := c.GetFeatureFlagAndPayload(ctx, key, evalCtx)
	return value, ok
}

// IsFeatureEnabled reports whether key evaluates to an enabled value.
func (c *Client) IsFeatureEnabled(ctx context.Context, key string, evalCtx Context) (bool, bool) {
	value, ok := c.GetFeatureFlag(ctx, key, evalCtx)
	return value.Enabled, ok
}

// GetFeatureFlagPayload returns the payload attached to the evaluated value of key.
func (c *Client) GetFeatureFlagPayload(ctx context.Context, key string, evalCtx Context) (json.RawMessage, bool) {
	_, payload, ok := c.GetFeatureFlagAndPayload(ctx, key, evalCtx)
	if !ok || payload == nil {
		return nil, false
	}
	return payload, true
}

// GetFeatureFlagAndPayload evaluates key once and returns the value together
// with its payload. payload is nil when the value carries none.
func (c *Client) GetFeatureFlagAndPayload(ctx context.Context, key string, evalCtx Context) (Value, json.RawMessage, bool) {
	state := c.ensureLoaded(ctx)

	start := time.Now()
	value, ok := c.engine.Evaluate(state, key, evalCtx)
	observability.EvaluationDuration.WithLabelValues("single").Observe(time.Since(start).Seconds())
	observability.EvaluationsTotal.WithLabelValues(resultLabel(value, ok)).Inc()
	if !ok {
		return value, nil, false
	}

	def, _ := state.Flag(key)
	payload, _ := c.engine.Payload(def, value)
	if c.reporter != nil {
		c.reporter.FlagCalled(ctx, evalCtx.DistinctID, key, value, payload)
	}
	return value, payload, true
}

// GetAllFlags evaluates keys, or every evaluable flag when none are given.
// Flags that cannot be decided locally are left out.
func (c *Client) GetAllFlags(ctx context.Context, evalCtx Context, keys ...string) map[string]Value {
	values, _ := c.evaluateAll(ctx, evalCtx, keys, false)
	return values
}

// GetAllFlagsAndPayloads is GetAllFlags plus the payload of every enabled result.
func (c *Client) GetAllFlagsAndPayloads(ctx context.Context, evalCtx Context, keys ...string) (map[string]Value, map[string]json.RawMessage) {
	return c.evaluateAll(ctx, evalCtx, keys, true)
}

func (c *Client) evaluateAll(ctx context.Context, evalCtx Context, keys []string, withPayloads bool) (map[string]Value, map[string]json.RawMessage) {
	state := c.ensureLoaded(ctx)

	start := time.Now()
	values := c.engine.EvaluateAll(state, keys, evalCtx)
	observability.EvaluationDuration.WithLabelValues("all").Observe(time.Since(start).Seconds())

	var payloads map[string]json.RawMessage
	if withPayloads {
		payloads = make(map[string]json.RawMessage)
	}

	for key, value := range values {
		observability.EvaluationsTotal.WithLabelValues(resultLabel(value, true)).Inc()
		if !withPayloads {
			continue
		}
		def, _ := state.Flag(key)
		if payload, ok := c.engine.Payload(def, value); ok {
			payloads[key] = payload
		}
	}
	return values, payloads
}

// ReloadFeatureFlags runs a refresh cycle now. Concurrent reloads share one cycle.
func (c *Client) ReloadFeatureFlags(ctx context.Context) error {
	return c.coord.Load(ctx)
}

// IsReady reports whether definitions were loaded at least once.
func (c *Client) IsReady() bool {
	return c.coord.IsReady()
}

// WaitUntilReady starts the client if needed and waits up to timeout for
// the first definitions. It returns the readiness at that point.
func (c *Client) WaitUntilReady(timeout time.Duration) bool {
	c.Start()

	ctx, cancel := context.WithTimeout(c.ctx, timeout)
	defer cancel()
	return c.coord.WaitUntilReady(ctx)
}

// OnDefinitionsLoaded subscribes to successful loads. The returned function unsubscribes.
func (c *Client) OnDefinitionsLoaded(fn func(count int)) func() {
	return c.coord.OnDefinitionsLoaded(fn)
}

// OnError subscribes to non-fatal errors, such as cache provider failures.
// The returned function unsubscribes.
func (c *Client) OnError(fn func(err error)) func() {
	return c.coord.OnError(fn)
}

// Status reports what the client currently holds.
func (c *Client) Status() Status {
	state := c.coord.State()
	status := Status{Ready: c.coord.IsReady(), CyclicFlags: []string{}}
	if state == nil {
		return status
	}

	status.FlagCount = state.FlagCount()
	status.Evaluable = len(state.Keys())
	status.LoadedAt = state.LoadedAt
	if len(state.Removed) > 0 {
		status.CyclicFlags = state.Removed
	}
	return status
}

// Shutdown stops polling and releases the cache provider. The provider gets
// at most ShutdownTimeout. Later calls return the first call's result.
func (c *Client) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		c.shutdownErr = c.coord.Shutdown(ctx)
		c.cancel()
		c.engine.Close()
	})
	return c.shutdownErr
}

func resultLabel(value flagdef.Value, ok bool) string {
	switch {
	case !ok:
		return "undefined"
	case value.IsVariant():
		return "variant"
	case value.Enabled:
		return "true"
	default:
		return "false"
	}
}
