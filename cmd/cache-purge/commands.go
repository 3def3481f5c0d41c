package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"

	cachepurge "github.com/wolfeidau/cache-purge"
	"github.com/wolfeidau/cache-purge/coordinator"
	"github.com/wolfeidau/cache-purge/server"
	"github.com/wolfeidau/cache-purge/store/metadb"
	"github.com/wolfeidau/cache-purge/telemetry"
	"github.com/wolfeidau/cache-purge/uapi"
)

var stdout io.Writer = os.Stdout

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printOutcome(out coordinator.Outcome) error {
	if err := printJSON(out); err != nil {
		return err
	}
	if !out.Success {
		return errFailed
	}
	return nil
}

func printAction(res uapi.Result, err error) error {
	if perr := printJSON(map[string]any{"success": err == nil, "message": res.Message}); perr != nil {
		return perr
	}
	if err != nil {
		return errFailed
	}
	return nil
}

// ServeCmd runs the admin API until SIGINT or SIGTERM.
type ServeCmd struct {
	Address string `help:"Address to listen on (overrides config)."`
}

func (c *ServeCmd) Run(ctx context.Context, app *App) error {
	cfg := app.cfg
	logger := app.logger

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:      "cache-purge",
		ServiceVersion:   version,
		OTLPEndpoint:     cfg.Metrics.OTLPEndpoint,
		EnablePrometheus: cfg.Metrics.Prometheus,
	})
	if err != nil {
		return fmt.Errorf("initialising metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownMetrics(shutdownCtx)
	}()

	address := cfg.Server.Address
	if c.Address != "" {
		address = c.Address
	}

	srv, err := server.New(server.Config{
		Address:   address,
		AuthToken: app.creds.AuthToken,
		Logger:    logger,
	}, server.Deps{
		Coordinator: app.coordinator,
		Triggers:    app.triggers,
		Settings:    app.backend,
		Cache:       app.panel,
		Notifier:    app.slack,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if db, ok := app.backend.(*metadb.BoltDB); ok {
		go metadb.NewHistoryReaper(db, metadb.WithReaperLogger(logger.With("component", "reaper"))).Run(ctx)
	}

	// Warm the capability verdict so the first purge does not pay for it.
	go app.prober.Probe(ctx, false)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info("server started", "address", srv.Address(), "site", cfg.Site.URL, "storage", cfg.Storage.Backend)

	select {
	case <-ctx.Done():
		logger.Info("received signal, shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// PurgeCmd groups the manual purge commands.
type PurgeCmd struct {
	All  PurgeAllCmd  `cmd:"" help:"Purge the whole site."`
	URL  PurgeURLCmd  `cmd:"" name:"url" help:"Purge specific URLs (no fallback)."`
	Post PurgePostCmd `cmd:"" help:"Purge every URL affected by a content change."`
}

type PurgeAllCmd struct{}

func (c *PurgeAllCmd) Run(ctx context.Context, app *App) error {
	return printOutcome(app.coordinator.PurgeAll(ctx))
}

type PurgeURLCmd struct {
	URLs []string `arg:"" name:"url" help:"Absolute URLs to purge."`
}

func (c *PurgeURLCmd) Run(ctx context.Context, app *App) error {
	return printOutcome(app.coordinator.PurgeURLs(ctx, c.URLs))
}

type PurgePostCmd struct {
	File string `help:"JSON file describing the content change." type:"existingfile" required:""`
}

func (c *PurgePostCmd) Run(ctx context.Context, app *App) error {
	change, err := readChange(c.File)
	if err != nil {
		return err
	}
	return printOutcome(app.coordinator.PurgePost(ctx, change))
}

func readChange(path string) (cachepurge.ContentChange, error) {
	var change cachepurge.ContentChange
	data, err := os.ReadFile(path) //nolint:gosec // path is supplied by the operator
	if err != nil {
		return change, fmt.Errorf("reading change: %w", err)
	}
	if err := json.Unmarshal(data, &change); err != nil {
		return change, fmt.Errorf("decoding change %s: %w", path, err)
	}
	if err := validator.New().Struct(change); err != nil {
		return change, fmt.Errorf("invalid change %s: %w", path, err)
	}
	return change, nil
}

// ProbeCmd prints the capability verdict.
type ProbeCmd struct {
	Force bool `help:"Ignore the cached verdict and probe now."`
}

func (c *ProbeCmd) Run(ctx context.Context, app *App) error {
	available := app.prober.Probe(ctx, c.Force)
	return printJSON(map[string]any{
		"available":  available,
		"capability": app.prober.Cached(ctx),
	})
}

type StatusCmd struct{}

func (c *StatusCmd) Run(ctx context.Context, app *App) error {
	return printJSON(app.coordinator.Status(ctx))
}

// CacheCmd groups the panel cache switches.
type CacheCmd struct {
	Enable  CacheEnableCmd  `cmd:"" help:"Enable NGINX caching."`
	Disable CacheDisableCmd `cmd:"" help:"Disable NGINX caching."`
	Test    CacheTestCmd    `cmd:"" help:"Test the cPanel API credentials."`
}

type CacheEnableCmd struct{}

func (c *CacheEnableCmd) Run(ctx context.Context, app *App) error {
	return printAction(app.panel.EnableCache(ctx))
}

type CacheDisableCmd struct{}

func (c *CacheDisableCmd) Run(ctx context.Context, app *App) error {
	return printAction(app.panel.DisableCache(ctx))
}

type CacheTestCmd struct{}

func (c *CacheTestCmd) Run(ctx context.Context, app *App) error {
	return printAction(app.panel.TestConnection(ctx))
}

// SettingsCmd groups the settings commands.
type SettingsCmd struct {
	Show SettingsShowCmd `cmd:"" default:"1" help:"Print the stored settings."`
	Set  SettingsSetCmd  `cmd:"" help:"Change the stored settings."`
}

type SettingsShowCmd struct{}

func (c *SettingsShowCmd) Run(ctx context.Context, app *App) error {
	st, err := app.backend.GetSettings(ctx)
	if errors.Is(err, cachepurge.ErrNotFound) {
		st, err = cachepurge.DefaultSettings(), nil
	}
	if err != nil {
		return err
	}
	return printJSON(st)
}

type SettingsSetCmd struct {
	Selective bool `help:"Enable selective purging." required:"" negatable:""`
}

func (c *SettingsSetCmd) Run(ctx context.Context, app *App) error {
	st := cachepurge.Settings{SelectivePurgeEnabled: c.Selective, UpdatedAt: time.Now().UTC()}
	if err := app.backend.PutSettings(ctx, st); err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	return printJSON(st)
}

// HistoryCmd prints recent probe verdicts.
type HistoryCmd struct {
	Limit int `help:"Maximum entries to print." default:"20"`
}

type historyStore interface {
	History(ctx context.Context, limit int) ([]metadb.HistoryEntry, error)
}

func (c *HistoryCmd) Run(ctx context.Context, app *App) error {
	hs, ok := app.backend.(historyStore)
	if !ok {
		return fmt.Errorf("probe history requires the bolt storage backend, have %q", app.cfg.Storage.Backend)
	}
	entries, err := hs.History(ctx, c.Limit)
	if err != nil {
		return err
	}
	return printJSON(entries)
}
