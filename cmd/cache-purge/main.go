// Command cache-purge purges NGINX cache entries for a CMS site, selectively
// through the loopback PURGE module when available and through the cPanel
// API otherwise.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"
)

var version = "dev"

// errFailed marks a command whose purge or panel action did not succeed.
// The result has already been printed.
var errFailed = errors.New("operation failed")

// Globals are shared by every command.
type Globals struct {
	Config    string `help:"Path to YAML config file." type:"path" env:"CACHE_PURGE_CONFIG" short:"c"`
	LogLevel  string `help:"Log level (overrides config)." enum:",debug,info,warn,error" default:""`
	LogFormat string `help:"Log format (overrides config)." enum:",text,json" default:""`
}

// CLI is the command tree.
type CLI struct {
	Globals

	Version  kong.VersionFlag `help:"Print version and exit."`
	Serve    ServeCmd         `cmd:"" help:"Run the admin HTTP API."`
	Purge    PurgeCmd         `cmd:"" help:"Purge cached pages."`
	Probe    ProbeCmd         `cmd:"" help:"Check whether the NGINX purge module answers on loopback."`
	Status   StatusCmd        `cmd:"" help:"Show the purge status report."`
	Cache    CacheCmd         `cmd:"" help:"Turn NGINX caching on or off through the cPanel API."`
	Settings SettingsCmd      `cmd:"" help:"Show or change purge settings."`
	History  HistoryCmd       `cmd:"" help:"Show recent probe verdicts (bolt storage only)."`
}

func main() {
	ctx := context.Background()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("cache-purge"),
		kong.Description("Selective NGINX cache purging with cPanel fallback."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	app, err := newApp(ctx, cli.Globals)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	err = kctx.Run(app)
	if cerr := app.Close(); cerr != nil {
		app.logger.Warn("closing storage", "error", cerr)
	}
	if errors.Is(err, errFailed) {
		os.Exit(1)
	}
	kctx.FatalIfErrorf(err)
}

// newLogger builds the process logger. Text output uses a coloured console
// handler.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info", "":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s", level)
	}

	var handler slog.Handler
	switch format {
	case "text", "":
		handler = tint.NewHandler(w, &tint.Options{Level: lvl, TimeFormat: time.TimeOnly})
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
	return slog.New(handler), nil
}
