// Package main runs heimdall-local, the local flag evaluation daemon.
//
// It is the composition root: it loads configuration, connects the optional
// shared cache, builds the definitions fetcher and the SDK client, and serves
// the sidecar evaluation API next to the observability endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rafaeljc/heimdall-local/internal/cache"
	"github.com/rafaeljc/heimdall-local/internal/config"
	"github.com/rafaeljc/heimdall-local/internal/dataapi"
	"github.com/rafaeljc/heimdall-local/internal/database"
	"github.com/rafaeljc/heimdall-local/internal/logger"
	"github.com/rafaeljc/heimdall-local/internal/observability"
	"github.com/rafaeljc/heimdall-local/internal/remote"
	"github.com/rafaeljc/heimdall-local/internal/reporter"
	"github.com/rafaeljc/heimdall-local/internal/tracing"
	"github.com/rafaeljc/heimdall-local/sdk"
)

// poolMonitorInterval is how often connection pool gauges are refreshed.
const poolMonitorInterval = 15 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// cleanup releases one resource during shutdown.
type cleanup func(ctx context.Context) error

// run executes the service lifecycle.
func run() error {
	// -------------------------------------------------------------------------
	// 1. Configuration & Logging
	// -------------------------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New(&cfg.App)
	slog.SetDefault(log)
	cfg.LogConfig(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Cleanups run in reverse order of registration.
	var cleanups []cleanup
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		for i := len(cleanups) - 1; i >= 0; i-- {
			if err := cleanups[i](shutdownCtx); err != nil {
				log.Error("shutdown step failed", slog.String("error", err.Error()))
			}
		}
		log.Info("service exited")
	}()

	shutdownTracing, err := tracing.Init(ctx, &cfg.App)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	cleanups = append(cleanups, shutdownTracing)

	// -------------------------------------------------------------------------
	// 2. Shared Cache
	// -------------------------------------------------------------------------
	var checkers []observability.Checker

	provider, checker, closeProvider, err := newCacheProvider(ctx, log, cfg)
	if err != nil {
		return err
	}
	if closeProvider != nil {
		cleanups = append(cleanups, closeProvider)
	}
	if checker != nil {
		checkers = append(checkers, checker)
	}

	// -------------------------------------------------------------------------
	// 3. Definitions Source & Client
	// -------------------------------------------------------------------------
	fetcher, fileFetcher, err := newFetcher(log, &cfg.Remote)
	if err != nil {
		return err
	}

	opts := sdk.Options{
		Fetcher:         fetcher,
		CacheProvider:   provider,
		PollInterval:    cfg.Poller.Interval,
		ShutdownTimeout: cfg.Poller.ShutdownTimeout,
		Logger:          logger.Component(log, "sdk"),
	}

	if cfg.Events.Enabled {
		rep, err := reporter.New(log, reporter.NewLogSink(logger.Component(log, "events")), reporter.Options{
			Capacity:       cfg.Events.DedupeSize,
			TTL:            cfg.Events.DedupeTTL,
			IncludePayload: cfg.Events.ReportPayload,
		})
		if err != nil {
			return fmt.Errorf("failed to create event reporter: %w", err)
		}
		opts.Reporter = rep
		cleanups = append(cleanups, func(context.Context) error {
			rep.Close()
			return nil
		})
	}

	client, err := sdk.New(opts)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	cleanups = append(cleanups, client.Shutdown)

	client.OnError(func(err error) {
		log.Warn("definitions pipeline error", slog.String("error", err.Error()))
	})

	client.Start()
	if !client.WaitUntilReady(cfg.Poller.ReadyTimeout) {
		log.Warn("definitions not loaded yet; serving undecided results until the next refresh",
			slog.Duration("ready_timeout", cfg.Poller.ReadyTimeout),
		)
	}

	if fileFetcher != nil && cfg.Remote.WatchFile {
		go func() {
			err := fileFetcher.Watch(ctx, func() {
				if err := client.ReloadFeatureFlags(ctx); err != nil && ctx.Err() == nil {
					log.Error("reload after file change failed", slog.String("error", err.Error()))
				}
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error("definitions file watcher stopped", slog.String("error", err.Error()))
			}
		}()
	}

	// -------------------------------------------------------------------------
	// 4. Servers
	// -------------------------------------------------------------------------
	checkers = append(checkers, observability.NewChecker("definitions", func(context.Context) error {
		if !client.IsReady() {
			return errors.New("flag definitions not loaded")
		}
		return nil
	}))

	obsServer := observability.NewServer(log, &cfg.Observability, checkers...)
	obsServer.Start()
	cleanups = append(cleanups, obsServer.Shutdown)

	api := dataapi.NewAPI(logger.Component(log, "sidecar"), client, &cfg.Server)
	apiServer := dataapi.NewServer(log, api, &cfg.Server)
	serveErr := apiServer.Start()
	cleanups = append(cleanups, apiServer.Shutdown)

	// -------------------------------------------------------------------------
	// 5. Graceful Shutdown
	// -------------------------------------------------------------------------
	select {
	case err, ok := <-serveErr:
		if ok && err != nil {
			return fmt.Errorf("sidecar API failed: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}
	return nil
}

// newCacheProvider connects the configured shared cache. All return values
// except err are nil when no cache is configured.
func newCacheProvider(ctx context.Context, log *slog.Logger, cfg *config.Config) (sdk.CacheProvider, observability.Checker, cleanup, error) {
	switch cfg.Cache.Provider {
	case config.CacheProviderRedis:
		client, err := cache.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		go cache.RunPoolMonitor(ctx, client, poolMonitorInterval)

		provider := cache.NewRedisProvider(logger.Component(log, "redis-cache"), client, cache.RedisOptions{
			KeyPrefix: cfg.Cache.KeyPrefix,
			LockTTL:   cfg.Cache.LockTTL,
		})
		closeFn := func(context.Context) error { return client.Close() }
		return provider, observability.NewChecker("redis", provider.Ping), closeFn, nil

	case config.CacheProviderPostgres:
		pool, err := database.NewPostgresPool(ctx, &cfg.Database)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		if cfg.Cache.RunMigrations {
			if err := database.Migrate(ctx, log, pool); err != nil {
				pool.Close()
				return nil, nil, nil, fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		go database.RunPoolMonitor(ctx, pool, poolMonitorInterval)

		provider := database.NewPostgresProvider(logger.Component(log, "postgres-cache"), pool, database.PostgresOptions{
			Namespace: cfg.Cache.KeyPrefix,
			LockKey:   cfg.Cache.LockKey,
		})
		closeFn := func(context.Context) error {
			pool.Close()
			return nil
		}
		return provider, observability.NewChecker("postgres", provider.Ping), closeFn, nil

	default:
		return nil, nil, nil, nil
	}
}

// newFetcher builds the definitions source. The file fetcher is also
// returned on its own so the caller can watch it.
func newFetcher(log *slog.Logger, cfg *config.RemoteConfig) (sdk.Fetcher, *remote.FileFetcher, error) {
	if cfg.UsesFile() {
		f := remote.NewFileFetcher(logger.Component(log, "file-fetcher"), cfg.DefinitionsFile)
		return f, f, nil
	}

	f, err := remote.NewHTTPFetcher(logger.Component(log, "http-fetcher"), remote.HTTPOptions{
		BaseURL:        cfg.BaseURL,
		ProjectToken:   cfg.ProjectToken,
		PersonalAPIKey: cfg.PersonalAPIKey,
		Timeout:        cfg.RequestTimeout,
		MaxRetries:     cfg.MaxRetries,
		RetryBackoff:   cfg.RetryBackoff,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create definitions fetcher: %w", err)
	}
	return f, nil, nil
}
