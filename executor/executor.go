// Package executor purges URL sets through the loopback PURGE transport and
// aggregates the per-URL outcomes.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	cachepurge "github.com/wolfeidau/cache-purge"
	"github.com/wolfeidau/cache-purge/telemetry"
	"github.com/wolfeidau/cache-purge/transport"
)

const (
	// DefaultWorkers is the number of concurrent PURGE requests in a batch.
	DefaultWorkers = 4
	// MaxWorkers caps batch concurrency against the loopback proxy.
	MaxWorkers = 8
)

// Sender issues a single PURGE request.
type Sender interface {
	Send(ctx context.Context, requestURI, host string, timeout time.Duration) (transport.Response, error)
}

// Enumerator computes the URLs affected by a content change.
type Enumerator interface {
	Enumerate(ctx context.Context, change cachepurge.ContentChange) []string
}

// Executor runs selective and wildcard purges.
type Executor struct {
	sender  Sender
	enum    Enumerator
	host    string
	timeout time.Duration
	workers int
	logger  *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithWorkers sets batch concurrency, clamped to [1, MaxWorkers].
func WithWorkers(n int) Option {
	return func(e *Executor) {
		e.workers = min(max(n, 1), MaxWorkers)
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// New creates an Executor. siteURL supplies the Host header of wildcard purges.
func New(sender Sender, enum Enumerator, siteURL string, opts ...Option) (*Executor, error) {
	site, err := cachepurge.ParseTarget(siteURL)
	if err != nil {
		return nil, fmt.Errorf("parsing site url: %w", err)
	}

	e := &Executor{
		sender:  sender,
		enum:    enum,
		host:    site.Host,
		timeout: transport.DefaultPurgeTimeout,
		workers: DefaultWorkers,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "executor")
	return e, nil
}

// PurgeURL purges every cached variant of rawURL.
func (e *Executor) PurgeURL(ctx context.Context, rawURL string) cachepurge.Result {
	target, err := cachepurge.ParseTarget(rawURL)
	if err != nil {
		telemetry.RecordPurgeURL(ctx, "invalid")
		return cachepurge.Result{Message: err.Error()}
	}

	resp, err := e.sender.Send(ctx, target.RequestURI(), target.Host, e.timeout)
	if err != nil {
		telemetry.RecordPurgeURL(ctx, "error")
		e.logger.Warn("purge failed", "url", rawURL, "error", err)
		return cachepurge.Result{Message: err.Error()}
	}

	outcome := transport.Classify(resp)
	telemetry.RecordPurgeURL(ctx, outcome.String())

	r := resultFor(outcome, resp.StatusCode)
	if r.Success {
		e.logger.Debug("purged", "url", rawURL, "status", resp.StatusCode)
	} else {
		e.logger.Warn("purge failed", "url", rawURL, "status", resp.StatusCode, "outcome", outcome.String())
	}
	return r
}

func resultFor(outcome transport.Outcome, code int) cachepurge.Result {
	switch outcome {
	case transport.OutcomePurged:
		return cachepurge.Result{Success: true, Code: code, Message: "Purged successfully"}
	case transport.OutcomeNotCached:
		return cachepurge.Result{Success: true, Code: code, Message: "Not cached"}
	case transport.OutcomeModuleMissing:
		return cachepurge.Result{Code: code, Message: fmt.Sprintf("Purge module not detected (HTTP %d)", code)}
	case transport.OutcomeMethodNotAllowed:
		return cachepurge.Result{Code: code, Message: fmt.Sprintf("PURGE method not allowed (HTTP %d)", code)}
	}
	if code == http.StatusOK || code == http.StatusPreconditionFailed {
		return cachepurge.Result{Code: code, Message: fmt.Sprintf("Unexpected response: HTTP %d: %v", code, cachepurge.ErrSignatureMismatch)}
	}
	return cachepurge.Result{Code: code, Message: fmt.Sprintf("Unexpected response: HTTP %d", code)}
}

// PurgeURLs purges the deduplicated urls with bounded concurrency. A failing
// URL never stops the rest of the batch. Empty input is a successful no-op.
func (e *Executor) PurgeURLs(ctx context.Context, urls []string) cachepurge.Summary {
	urls = cachepurge.DedupeURLs(urls)
	summary := cachepurge.NewSummary()
	if len(urls) == 0 {
		return summary
	}
	telemetry.RecordPurgeBatch(ctx, len(urls))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(e.workers)
	for _, u := range urls {
		g.Go(func() error {
			r := e.PurgeURL(ctx, u)
			mu.Lock()
			summary.Add(u, r)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	e.logger.Info("purged urls", "purged", summary.Purged, "failed", summary.Failed)
	return summary
}

// PurgeAll issues a single wildcard PURGE for the whole site. Only an exact
// HTTP 200 counts as success.
func (e *Executor) PurgeAll(ctx context.Context) cachepurge.Result {
	resp, err := e.sender.Send(ctx, cachepurge.WildcardSuffix, e.host, e.timeout)
	if err != nil {
		e.logger.Warn("wildcard purge failed", "host", e.host, "error", err)
		return cachepurge.Result{Message: err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		e.logger.Warn("wildcard purge failed", "host", e.host, "status", resp.StatusCode)
		return cachepurge.Result{Code: resp.StatusCode, Message: fmt.Sprintf("Unexpected response: HTTP %d", resp.StatusCode)}
	}
	e.logger.Info("purged all cache via wildcard", "host", e.host)
	return cachepurge.Result{Success: true, Code: resp.StatusCode, Message: "Cache purged successfully"}
}

// Enumerate returns the URLs affected by change.
func (e *Executor) Enumerate(ctx context.Context, change cachepurge.ContentChange) []string {
	return e.enum.Enumerate(ctx, change)
}

// PurgePost purges every URL affected by change.
func (e *Executor) PurgePost(ctx context.Context, change cachepurge.ContentChange) cachepurge.Summary {
	return e.PurgeURLs(ctx, e.Enumerate(ctx, change))
}
