package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vk/pipegrid/internal/cache"
	"github.com/vk/pipegrid/internal/config"
	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/engine"
	"github.com/vk/pipegrid/internal/events"
	"github.com/vk/pipegrid/internal/loader"
	"github.com/vk/pipegrid/internal/metrics"
	"github.com/vk/pipegrid/internal/registry"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	ctx    context.Context
	outW   io.Writer
	logger *slog.Logger
	config *Config

	registry *registry.Registry
	loader   *loader.Loader
	engine   *engine.Engine
	store    cache.Store

	metrics  *metrics.Metrics
	promReg  *prometheus.Registry
	hub      *events.Hub
	sinks    events.Multi
	closers  []func() error

	httpServer *http.Server
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance with its own isolated logger, registry, cache
// store and event sinks. Modules default to the core modules.
func NewApp(ctx context.Context, outW io.Writer, appConfig *Config, modules ...registry.Module) (*App, error) {
	logger, err := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	if err != nil {
		return nil, err
	}
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Debug("Logger configured successfully.")

	env := appConfig.Env
	if env == nil {
		if env, err = config.FromLookup(os.LookupEnv); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	a := &App{
		ctx:     ctx,
		outW:    outW,
		logger:  logger,
		config:  appConfig,
		metrics: metrics.New(),
		promReg: prometheus.NewRegistry(),
		hub:     events.NewHub(logger),
	}
	a.metrics.MustRegister(a.promReg)

	// Create and populate the registry with Go handlers.
	a.registry = registry.New()
	if len(modules) == 0 {
		modules = coreModules(outW, env)
	}
	for _, mod := range modules {
		mod.Register(a.registry)
	}
	logger.Debug("All Go modules registered.", "count", len(modules))

	// A mismatch between handler code and its options schema is a
	// programmer error, so it fails startup.
	if err := a.registry.ValidateRegistry(ctx); err != nil {
		return nil, err
	}
	logger.Debug("Registry validation passed.")

	ldr, err := loader.New(loader.Config{
		Root:        appConfig.Root,
		GitHubToken: env.GitHubToken,
		GitLabToken: env.GitLabToken,
	}, a.registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create loader: %w", err)
	}
	a.loader = ldr

	if err := a.openStore(ctx, env); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openSinks(env); err != nil {
		a.Close()
		return nil, err
	}

	a.engine = engine.New(engine.Config{
		Concurrency:      appConfig.Concurrency,
		VersionBatchSize: appConfig.VersionBatchSize,
		OperationTimeout: appConfig.OperationTimeout,
		Cache:            a.store,
		Sink:             a.sinks,
	})
	logger.Debug("Engine configured.", "config", a.engine.Config())
	return a, nil
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Store returns the route cache store, nil when caching is disabled.
func (a *App) Store() cache.Store {
	return a.store
}

// Close releases the cache store and the event sinks.
func (a *App) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}
