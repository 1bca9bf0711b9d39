package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/tucnak/climax"

	"github.com/Jake-Mok-Nelson/offline-cache/internal/config"
	"github.com/Jake-Mok-Nelson/offline-cache/internal/lifecycle"
	"github.com/Jake-Mok-Nelson/offline-cache/internal/output"
	"github.com/Jake-Mok-Nelson/offline-cache/internal/proxy"
	"github.com/Jake-Mok-Nelson/offline-cache/internal/telemetry"
)

// version is set at build time with -ldflags "-X main.version=..."
var version string

func getVersion() string {
	if version == "" {
		return "dev"
	}
	return version
}

func main() {
	cli := climax.New("offline-cache")
	cli.Brief = "Offline-first caching proxy for web applications"
	cli.Version = getVersion()

	serveCmd := climax.Command{
		Name:  "serve",
		Brief: "Run the caching proxy in front of an origin",
		Usage: `serve [--config <file>] [--listen <addr>] [--verbose]`,
		Help:  `Installs and activates the configured cache generation, then serves requests through the cache. SIGHUP reloads the configuration and upgrades to a new generation when the version changed.`,
		Flags: append(commonFlags(), climax.Flag{
			Name:     "listen",
			Short:    "l",
			Usage:    `--listen <addr>`,
			Help:     `Address to listen on (default :8080)`,
			Variable: true,
		}),
		Handle: handleServe,
	}

	installCmd := climax.Command{
		Name:   "install",
		Brief:  "Precache the manifest into a new generation",
		Usage:  `install [--config <file>] [--json] [--verbose]`,
		Help:   `Fetches every manifest asset into the configured generation without activating it. Only useful with the sqlite store.`,
		Flags:  commonFlags(),
		Handle: handleInstall,
	}

	activateCmd := climax.Command{
		Name:   "activate",
		Brief:  "Activate an installed generation",
		Usage:  `activate [--config <file>] [--json] [--verbose]`,
		Help:   `Activates the configured generation and deletes every other generation in the store.`,
		Flags:  commonFlags(),
		Handle: handleActivate,
	}

	infoCmd := climax.Command{
		Name:   "info",
		Brief:  "Show the entry count and size of the configured generation",
		Usage:  `info [--config <file>] [--json] [--verbose]`,
		Flags:  commonFlags(),
		Handle: handleInfo,
	}

	clearCmd := climax.Command{
		Name:   "clear",
		Brief:  "Empty the configured generation",
		Usage:  `clear [--config <file>] [--json] [--verbose]`,
		Flags:  commonFlags(),
		Handle: handleClear,
	}

	cli.AddCommand(serveCmd)
	cli.AddCommand(installCmd)
	cli.AddCommand(activateCmd)
	cli.AddCommand(infoCmd)
	cli.AddCommand(clearCmd)

	os.Exit(cli.Run())
}

func commonFlags() []climax.Flag {
	return []climax.Flag{
		{
			Name:     "config",
			Short:    "c",
			Usage:    `--config <file>`,
			Help:     `YAML configuration file (OFFLINE_CACHE_* environment variables override it)`,
			Variable: true,
		},
		{
			Name:     "json",
			Short:    "j",
			Usage:    `--json`,
			Help:     `Print the result as JSON`,
			Variable: false,
		},
		{
			Name:     "verbose",
			Short:    "v",
			Usage:    `--verbose`,
			Help:     `Enable verbose logging`,
			Variable: false,
		},
	}
}

func loadConfig(ctx climax.Context) (*config.Config, string, error) {
	path, _ := ctx.Get("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	if ctx.Is("verbose") {
		cfg.Verbose = true
	}
	if listen, ok := ctx.Get("listen"); ok && listen != "" {
		cfg.Listen = listen
	}
	if cfg.Verbose {
		log.Printf("Verbose logging enabled")
	}
	return cfg, path, nil
}

func handleServe(cliCtx climax.Context) int {
	cfg, path, err := loadConfig(cliCtx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		return 1
	}

	a, err := newApp(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, &telemetry.Config{
		Endpoint:       cfg.Telemetry.Endpoint,
		ServiceName:    "offline-cache",
		ServiceVersion: getVersion(),
		Verbose:        cfg.Verbose,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up tracing: %v\n", err)
		return 1
	}
	defer shutdownTracing(context.Background())

	manager := a.newManager(cfg)
	installed, activated, err := a.start(ctx, manager)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting generation %s: %v\n", manager.Generation(), err)
		return 1
	}
	if installed != nil {
		fmt.Printf("Cached %d of %d manifest assets into %s\n", len(installed.Cached), len(installed.Cached)+len(installed.Failed), installed.Generation)
	}
	if activated != nil && len(activated.Deleted) > 0 {
		fmt.Printf("Deleted %d stale generations\n", len(activated.Deleted))
	}

	s := a.newStack(lifecycle.NewSlot(manager))
	go s.monitor.Run(ctx)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				log.Printf("Reloading configuration")
				if err := a.reload(ctx, s.slot, path); err != nil {
					log.Printf("Warning: reload failed: %v", err)
				}
			}
		}
	}()

	err = s.proxy.ListenAndServe(ctx, cfg.Listen, proxy.ServeOptions{
		ReadHeaderTimeout: config.ReadHeader,
		ShutdownTimeout:   config.Shutdown,
	})
	if s.swr != nil {
		s.swr.Wait()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error serving: %v\n", err)
		return 1
	}

	if cfg.Verbose {
		log.Printf("Shutdown complete: %+v", a.reporter.Stats())
	}
	return 0
}

// runCommand loads configuration, builds the app and writes the report
// produced by fn.
func runCommand(cliCtx climax.Context, fn func(context.Context, *app, *lifecycle.Manager) (*output.Report, error)) int {
	cfg, _, err := loadConfig(cliCtx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		return 1
	}
	a, err := newApp(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := fn(ctx, a, a.newManager(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if cliCtx.Is("json") {
		err = output.FormatJSON(result, os.Stdout, true)
	} else {
		err = output.FormatText(result, os.Stdout)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
		return 1
	}
	return 0
}

func handleInstall(cliCtx climax.Context) int {
	return runCommand(cliCtx, func(ctx context.Context, a *app, m *lifecycle.Manager) (*output.Report, error) {
		installed, err := resumeOrInstall(ctx, m)
		if err != nil {
			return nil, err
		}
		if installed == nil {
			fmt.Printf("Generation %s is already installed\n", m.Generation())
		}
		info, err := m.Info()
		if err != nil {
			return nil, err
		}
		return output.BuildReport(a.lifecycleConfig(a.cfg), installed, nil, info), nil
	})
}

func handleActivate(cliCtx climax.Context) int {
	return runCommand(cliCtx, func(ctx context.Context, a *app, m *lifecycle.Manager) (*output.Report, error) {
		resumed, err := m.Resume(ctx)
		if err != nil {
			return nil, err
		}
		if !resumed {
			return nil, fmt.Errorf("generation %s is not installed, run install first", m.Generation())
		}
		activated, err := m.Activate(ctx)
		if err != nil {
			return nil, err
		}
		info, err := m.Info()
		if err != nil {
			return nil, err
		}
		return output.BuildReport(a.lifecycleConfig(a.cfg), nil, activated, info), nil
	})
}

func handleInfo(cliCtx climax.Context) int {
	return runCommand(cliCtx, func(ctx context.Context, a *app, m *lifecycle.Manager) (*output.Report, error) {
		if _, err := m.Resume(ctx); err != nil {
			return nil, err
		}
		info, err := m.Info()
		if err != nil {
			return nil, err
		}
		return output.BuildReport(a.lifecycleConfig(a.cfg), nil, nil, info), nil
	})
}

func handleClear(cliCtx climax.Context) int {
	return runCommand(cliCtx, func(ctx context.Context, a *app, m *lifecycle.Manager) (*output.Report, error) {
		resumed, err := m.Resume(ctx)
		if err != nil {
			return nil, err
		}
		if !resumed {
			return nil, fmt.Errorf("generation %s is not installed", m.Generation())
		}
		if _, err := m.HandleMessage(ctx, lifecycle.Message{Type: lifecycle.MessageClearCache}); err != nil {
			return nil, err
		}
		info, err := m.Info()
		if err != nil {
			return nil, err
		}
		return output.BuildReport(a.lifecycleConfig(a.cfg), nil, nil, info), nil
	})
}
