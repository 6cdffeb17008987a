package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/florianilch/mcpcreds/internal/companion"
	"github.com/florianilch/mcpcreds/internal/credential"
	"github.com/florianilch/mcpcreds/internal/tokensource"
	"github.com/florianilch/mcpcreds/internal/tokenstore"
	"github.com/florianilch/mcpcreds/internal/trust"
)

// Option configures an App.
type Option func(*options)

type options struct {
	storage   []tokenstore.TieredOption
	lookupEnv func(string) (string, bool)
	relaunch  trust.RelaunchFunc
}

// WithStorageOptions passes options through to the tiered credential store.
func WithStorageOptions(opts ...tokenstore.TieredOption) Option {
	return func(o *options) {
		o.storage = append(o.storage, opts...)
	}
}

// WithLookupEnv replaces os.LookupEnv for the storage and trust overrides.
func WithLookupEnv(lookup func(string) (string, bool)) Option {
	return func(o *options) {
		o.lookupEnv = lookup
	}
}

// WithRelaunchFunc replaces the process relaunch after trust changes.
func WithRelaunchFunc(fn trust.RelaunchFunc) Option {
	return func(o *options) {
		o.relaunch = fn
	}
}

// App wires credential storage, folder trust and the IDE companion endpoint.
type App struct {
	cfg *Config

	registry *prometheus.Registry
	tiered   *tokenstore.TieredStore
	store    tokenstore.CredentialStore

	notifier   *trust.Notifier
	resolver   *trust.Resolver
	relauncher *trust.Relauncher
}

// New creates a new App instance. No storage I/O happens until the first operation.
func New(cfg *Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := tokenstore.NewMetrics(registry)

	fileStore, err := tokenstore.NewFileStore(cfg.Storage.File, cfg.Storage.Service)
	if err != nil {
		return nil, fmt.Errorf("failed to create file store: %w", err)
	}

	storageOpts := []tokenstore.TieredOption{
		tokenstore.WithForceFile(cfg.Storage.ForceFile),
		tokenstore.WithSelectionObserver(metrics.ObserveSelection),
	}
	if o.lookupEnv != nil {
		storageOpts = append(storageOpts, tokenstore.WithLookupEnv(o.lookupEnv))
	}
	tiered, err := tokenstore.NewTieredStore(cfg.Storage.Service, fileStore, append(storageOpts, o.storage...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential store: %w", err)
	}

	folders, err := trust.NewFolders(cfg.Trust.File)
	if err != nil {
		return nil, fmt.Errorf("failed to create trust store: %w", err)
	}
	notifier := trust.NewNotifier()
	resolver, err := trust.NewResolver(folders,
		trust.WithEnabled(cfg.Trust.Enabled),
		trust.WithInheritance(cfg.Trust.Inheritance),
		trust.WithOverride(trust.IDEOverride(notifier, o.lookupEnv)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trust resolver: %w", err)
	}

	var relaunchOpts []trust.RelauncherOption
	if o.relaunch != nil {
		relaunchOpts = append(relaunchOpts, trust.WithRelaunchFunc(o.relaunch))
	}

	return &App{
		cfg:        cfg,
		registry:   registry,
		tiered:     tiered,
		store:      tokenstore.Instrument(tiered, metrics),
		notifier:   notifier,
		resolver:   resolver,
		relauncher: trust.NewRelauncher(cfg.Trust.RelaunchDelay, relaunchOpts...),
	}, nil
}

// Credentials returns the instrumented credential store.
func (a *App) Credentials() tokenstore.CredentialStore {
	return a.store
}

// StorageKind returns the selected backend, running selection if necessary.
func (a *App) StorageKind() tokenstore.Kind {
	return a.tiered.Kind()
}

// ResetStorage forces the next credential operation to re-run backend selection.
func (a *App) ResetStorage() {
	a.tiered.Reset()
}

// Trust returns the folder trust resolver.
func (a *App) Trust() *trust.Resolver {
	return a.resolver
}

// Notifier returns the channel IDE trust changes are published on.
func (a *App) Notifier() *trust.Notifier {
	return a.notifier
}

// Gatherer exposes the application metrics.
func (a *App) Gatherer() prometheus.Gatherer {
	return a.registry
}

// UpdateTrust stores level for folder. When the effective trust changed, a relaunch
// is scheduled and its outcome is delivered on the returned channel; otherwise the
// channel is nil.
func (a *App) UpdateTrust(ctx context.Context, folder string, level trust.Level) (<-chan error, error) {
	restartRequired, err := a.resolver.Update(ctx, folder, level)
	if err != nil {
		return nil, err
	}
	if !restartRequired {
		slog.DebugContext(ctx, "trust level updated, effective trust unchanged", "folder", folder, "level", level)
		return nil, nil
	}

	slog.InfoContext(ctx, "effective trust changed, relaunch scheduled", "folder", folder, "level", level)
	return a.relauncher.Schedule(ctx), nil
}

// TokenSource returns a token source for serverName that refreshes through the
// record's token endpoint and writes refreshed tokens back to the store.
func (a *App) TokenSource(serverName string) (*PersistentTokenSource, error) {
	var tsOpts []tokensource.TokenSourceOption
	if a.cfg.Storage.JSONRefresh {
		tsOpts = append(tsOpts, tokensource.WithJSONRefresh())
	}

	factory := func(c *credential.Credentials) (oauth2.TokenSource, error) {
		return tokensource.NewTokenSource(c, tsOpts...)
	}
	return NewPersistentTokenSource(serverName, factory, a.store)
}

// Serve runs the IDE companion endpoint and blocks until ctx is cancelled or the
// server fails. Uses errgroup for runtime error monitoring and shutdown function
// collection for coordinated cleanup.
func (a *App) Serve(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Companion.Host + ":" + strconv.FormatUint(uint64(a.cfg.Companion.Port), 10)
	var shutdownFuncs []func(context.Context) error

	server, err := companion.New(a.notifier, a.tiered, companion.WithGatherer(a.registry))
	if err != nil {
		return fmt.Errorf("failed to create companion server: %w", err)
	}

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting companion server", "address", address)
	serverErrCh, err := server.Start(gCtx, address)
	if err != nil {
		return fmt.Errorf("companion startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, server.Shutdown)

	unsubscribe := a.notifier.Subscribe(func(trusted bool) {
		slog.InfoContext(gCtx, "IDE workspace trust changed", "trusted", trusted)
	})
	defer unsubscribe()

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-serverErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "companion runtime error", "error", err)
				return fmt.Errorf("companion: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	slog.InfoContext(gCtx, "companion ready", "address", server.Addr().String())

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("companion stopped")
	return nil
}
