package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/Jake-Mok-Nelson/offline-cache/internal/cache"
	"github.com/Jake-Mok-Nelson/offline-cache/internal/config"
	"github.com/Jake-Mok-Nelson/offline-cache/internal/connectivity"
	"github.com/Jake-Mok-Nelson/offline-cache/internal/lifecycle"
	"github.com/Jake-Mok-Nelson/offline-cache/internal/network"
	"github.com/Jake-Mok-Nelson/offline-cache/internal/proxy"
	"github.com/Jake-Mok-Nelson/offline-cache/internal/report"
	"github.com/Jake-Mok-Nelson/offline-cache/internal/router"
	"github.com/Jake-Mok-Nelson/offline-cache/internal/strategy"
	"github.com/Jake-Mok-Nelson/offline-cache/internal/syncqueue"
)

// app holds the components shared by every command.
type app struct {
	cfg      *config.Config
	origin   *url.URL
	cache    *cache.Cache
	client   *network.Client
	reporter *report.LogReporter
}

func newApp(cfg *config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	origin, err := cfg.OriginURL()
	if err != nil {
		return nil, err
	}
	maxEntry, err := cfg.MaxEntryBytes()
	if err != nil {
		return nil, err
	}

	backend, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}

	policy := cache.DefaultPolicy()
	policy.MaxEntrySize = maxEntry

	return &app{
		cfg:    cfg,
		origin: origin,
		cache: cache.NewWithConfig(backend, &cache.Config{
			Policy:  policy,
			Verbose: cfg.Verbose,
		}),
		client: network.NewClientWithConfig(&network.Config{
			Timeout: cfg.NetworkTimeout,
			Verbose: cfg.Verbose,
		}),
		reporter: report.NewLogReporterWithConfig(&report.Config{Verbose: cfg.Verbose}),
	}, nil
}

func newBackend(cfg *config.Config) (cache.Backend, error) {
	switch cfg.Store.Driver {
	case config.DriverSQLite:
		if cfg.Verbose {
			log.Printf("Using SQLite cache at %s", cfg.Store.Path)
		}
		return cache.NewSQLiteBackend(cfg.Store.Path)
	default:
		if cfg.Verbose {
			log.Printf("Using in-memory cache")
		}
		return cache.NewMemoryBackend(), nil
	}
}

func (a *app) Close() error {
	return a.cache.Close()
}

func (a *app) lifecycleConfig(cfg *config.Config) *lifecycle.Config {
	return &lifecycle.Config{
		AppName:  cfg.AppName,
		Version:  cfg.Version,
		Origin:   a.origin,
		Manifest: cfg.Manifest,
		Verbose:  cfg.Verbose,
	}
}

func (a *app) newManager(cfg *config.Config) *lifecycle.Manager {
	return lifecycle.NewManager(a.cache, a.client, a.reporter, a.lifecycleConfig(cfg))
}

// resumeOrInstall adopts a persisted generation or precaches a new one.
// The install report is nil when the generation was resumed.
func resumeOrInstall(ctx context.Context, m *lifecycle.Manager) (*lifecycle.InstallReport, error) {
	resumed, err := m.Resume(ctx)
	if err != nil {
		return nil, err
	}
	if resumed {
		return nil, nil
	}
	return m.Install(ctx)
}

// start brings a manager to the active state. With skip_waiting the
// activation happens as part of install.
func (a *app) start(ctx context.Context, m *lifecycle.Manager) (*lifecycle.InstallReport, *lifecycle.ActivateReport, error) {
	if a.cfg.SkipWaiting {
		if _, err := m.SkipWaiting(ctx); err != nil {
			return nil, nil, err
		}
	}
	installed, err := resumeOrInstall(ctx, m)
	if err != nil {
		return installed, nil, err
	}
	activated, err := m.Activate(ctx)
	return installed, activated, err
}

// stack is the serving side: router, sync queue, connectivity and proxy.
type stack struct {
	slot    *lifecycle.Slot
	router  *router.Router
	swr     *strategy.StaleWhileRevalidate
	queue   *syncqueue.Queue
	monitor *connectivity.Monitor
	proxy   *proxy.Server
}

func (a *app) newStack(slot *lifecycle.Slot) *stack {
	cfg := a.cfg

	r := router.New(&router.Config{
		Origin:         a.origin,
		AllowedOrigins: cfg.AllowedOrigins,
		APIPrefix:      cfg.APIPrefix,
		Verbose:        cfg.Verbose,
	}, slot, a.client, a.reporter)
	swr := r.RegisterDefaults(a.cache, a.origin, router.Defaults{
		OfflinePage:       cfg.OfflinePage,
		StaticStrategy:    cfg.StaticStrategy,
		RevalidateTimeout: cfg.NetworkTimeout,
		Strategy:          &strategy.Config{Verbose: cfg.Verbose},
	})

	queue := syncqueue.New(&syncqueue.Config{
		Capacity:   cfg.Sync.Capacity,
		MaxRetries: cfg.Sync.MaxRetries,
		RetryDelay: cfg.Sync.RetryDelay,
		Verbose:    cfg.Verbose,
	}, a.reporter)

	probe := a.origin.ResolveReference(&url.URL{Path: "/" + strings.TrimPrefix(cfg.Connectivity.ProbePath, "/")})
	monitor := connectivity.New(a.client, &connectivity.Config{
		ProbeURL: probe.String(),
		Interval: cfg.Connectivity.Interval,
		Verbose:  cfg.Verbose,
	})

	p := proxy.New(&proxy.Config{
		Origin:    a.origin,
		APIPrefix: cfg.APIPrefix,
		Verbose:   cfg.Verbose,
	}, proxy.Deps{
		Router:   r,
		Slot:     slot,
		Queue:    queue,
		Monitor:  monitor,
		Fetcher:  a.client,
		Reporter: a.reporter,
	})

	return &stack{slot: slot, router: r, swr: swr, queue: queue, monitor: monitor, proxy: p}
}

// reload installs the generation named by the new configuration and
// hands traffic to it. An unchanged generation is left alone.
func (a *app) reload(ctx context.Context, slot *lifecycle.Slot, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	next := a.newManager(cfg)
	if next.Generation() == slot.Manager().Generation() {
		log.Printf("Reload: generation %s unchanged", next.Generation())
		return nil
	}

	installed, activated, err := slot.Upgrade(ctx, next)
	if err != nil {
		return err
	}
	log.Printf("Reload: %s active, %d assets cached, %d failed, %d generations deleted",
		activated.Generation, len(installed.Cached), len(installed.Failed), len(activated.Deleted))
	return nil
}
