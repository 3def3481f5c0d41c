package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	cachepurge "github.com/wolfeidau/cache-purge"
	"github.com/wolfeidau/cache-purge/config"
	"github.com/wolfeidau/cache-purge/coordinator"
	"github.com/wolfeidau/cache-purge/credentials"
	"github.com/wolfeidau/cache-purge/enumerate"
	"github.com/wolfeidau/cache-purge/executor"
	"github.com/wolfeidau/cache-purge/notify"
	"github.com/wolfeidau/cache-purge/probe"
	"github.com/wolfeidau/cache-purge/store"
	"github.com/wolfeidau/cache-purge/transport"
	"github.com/wolfeidau/cache-purge/trigger"
	"github.com/wolfeidau/cache-purge/uapi"
)

// App holds the wired components shared by commands.
type App struct {
	cfg    config.Config
	creds  *credentials.Credentials
	logger *slog.Logger

	backend     store.Backend
	prober      *probe.Prober
	executor    *executor.Executor
	panel       *uapi.Client
	slack       *notify.Slack
	coordinator *coordinator.Coordinator
	triggers    *trigger.Dispatcher
}

func newApp(ctx context.Context, g Globals) (*App, error) {
	cfg, err := config.Load(ctx, g.Config)
	if err != nil {
		return nil, err
	}
	if g.LogLevel != "" {
		cfg.Logging.Level = g.LogLevel
	}
	if g.LogFormat != "" {
		cfg.Logging.Format = g.LogFormat
	}

	logger, err := newLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	creds := &credentials.Credentials{}
	if cfg.CredentialsFile != "" {
		resolver := credentials.NewResolver(
			credentials.WithOnePassword(),
			credentials.WithSSM(),
			credentials.WithLogger(logger.With("component", "credentials")),
		)
		creds, err = resolver.ResolveFile(ctx, cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("resolving credentials: %w", err)
		}
	}

	backend, err := store.Open(ctx, cfg.StoreConfig(), logger.With("component", "store"))
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	app := &App{cfg: cfg, creds: creds, logger: logger, backend: backend}
	if err := app.wire(ctx); err != nil {
		_ = backend.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.cfg

	seeded, err := a.backend.SeedSettings(ctx, cachepurge.Settings{
		SelectivePurgeEnabled: cfg.Purge.SelectiveEnabled,
		UpdatedAt:             time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("seeding settings: %w", err)
	}
	if seeded {
		a.logger.Info("settings seeded from config", "selective_purge_enabled", cfg.Purge.SelectiveEnabled)
	}

	tc, err := transport.New(cfg.Purge.Loopback, transport.WithLogger(a.logger))
	if err != nil {
		return err
	}

	a.prober, err = probe.New(tc, a.backend, cfg.Site.URL,
		probe.WithTTL(cfg.Purge.CapabilityTTL),
		probe.WithTimeout(cfg.Purge.ProbeTimeout),
		probe.WithLogger(a.logger),
	)
	if err != nil {
		return err
	}

	enum, err := enumerate.New(cfg.EnumerateSite(), enumerate.WithLogger(a.logger))
	if err != nil {
		return err
	}

	a.executor, err = executor.New(tc, enum, cfg.Site.URL,
		executor.WithWorkers(cfg.Purge.Workers),
		executor.WithTimeout(cfg.Purge.Timeout),
		executor.WithLogger(a.logger),
	)
	if err != nil {
		return err
	}

	var panelCfg uapi.Config
	if cp := a.creds.CPanel; cp != nil {
		panelCfg = uapi.Config{Hostname: cp.Hostname, Username: cp.Username, APIKey: cp.APIKey}
	}
	a.panel = uapi.New(panelCfg, uapi.WithLogger(a.logger))

	a.slack = notify.New(a.creds.SlackWebhookURL(),
		notify.WithSite(siteName(cfg.Site.URL), cfg.Site.URL),
		notify.WithLogger(a.logger),
	)

	a.coordinator = coordinator.New(a.backend, a.prober, a.executor, a.panel,
		coordinator.WithFailureTolerance(cfg.Purge.FailureTolerance),
		coordinator.WithNotifier(a.slack),
		coordinator.WithLogger(a.logger),
	)
	a.triggers = trigger.New(a.coordinator, trigger.WithLogger(a.logger))
	return nil
}

// Close waits for pending failure notifications and releases the storage
// backend.
func (a *App) Close() error {
	if a == nil || a.backend == nil {
		return nil
	}
	if a.coordinator != nil {
		a.coordinator.Wait()
	}
	return a.backend.Close()
}

func siteName(siteURL string) string {
	u, err := url.Parse(siteURL)
	if err != nil || u.Host == "" {
		return siteURL
	}
	return u.Host
}
