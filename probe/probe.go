// Package probe detects whether the NGINX cache purge module is answering
// PURGE requests on the loopback proxy and caches the verdict.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	cachepurge "github.com/wolfeidau/cache-purge"
	"github.com/wolfeidau/cache-purge/telemetry"
	"github.com/wolfeidau/cache-purge/transport"
)

// DefaultSentinelPath is the path probed on the site.
const DefaultSentinelPath = "/"

// Sender issues a single PURGE request.
type Sender interface {
	Send(ctx context.Context, requestURI, host string, timeout time.Duration) (transport.Response, error)
}

// Store persists the capability verdict. LoadCapability returns the zero
// Capability when nothing has been stored.
type Store interface {
	LoadCapability(ctx context.Context) (cachepurge.Capability, error)
	SaveCapability(ctx context.Context, c cachepurge.Capability) error
}

// Prober is the only writer of capability state.
type Prober struct {
	sender  Sender
	store   Store
	host    string
	path    string
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
	group   singleflight.Group
}

// Option configures a Prober.
type Option func(*Prober)

// WithTTL sets how long a verdict is trusted.
func WithTTL(ttl time.Duration) Option {
	return func(p *Prober) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

// WithTimeout sets the probe request timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithSentinelPath sets the path probed on the site.
func WithSentinelPath(path string) Option {
	return func(p *Prober) {
		p.path = path
	}
}

// WithNow sets the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(p *Prober) {
		p.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Prober) {
		p.logger = logger
	}
}

// New creates a Prober for the site at siteURL.
func New(sender Sender, store Store, siteURL string, opts ...Option) (*Prober, error) {
	target, err := cachepurge.ParseTarget(siteURL)
	if err != nil {
		return nil, fmt.Errorf("parsing site url: %w", err)
	}

	p := &Prober{
		sender:  sender,
		store:   store,
		host:    target.Host,
		path:    DefaultSentinelPath,
		ttl:     cachepurge.DefaultCapabilityTTL,
		timeout: transport.DefaultProbeTimeout,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "probe")
	return p, nil
}

// Probe reports whether the purge module is available. Unless force is set,
// a fresh stored verdict is returned without any network call. Concurrent
// probes share one request. The request outlives a cancelled caller, bounded
// by the probe timeout, so the stored verdict reflects the module and not
// the caller.
func (p *Prober) Probe(ctx context.Context, force bool) bool {
	if !force {
		c, err := p.store.LoadCapability(ctx)
		if err != nil {
			p.logger.Warn("loading capability failed", "error", err)
		} else if c.Fresh(p.now()) {
			telemetry.RecordProbe(ctx, c.Available(), "cache")
			return c.Available()
		}
	}

	v, _, _ := p.group.Do("probe", func() (any, error) {
		return p.probe(context.WithoutCancel(ctx)), nil
	})
	return v.(bool)
}

// Recheck discards the stored verdict and probes again.
func (p *Prober) Recheck(ctx context.Context) bool {
	return p.Probe(ctx, true)
}

// Cached returns the stored verdict without probing, however old it is.
func (p *Prober) Cached(ctx context.Context) cachepurge.Capability {
	c, err := p.store.LoadCapability(ctx)
	if err != nil {
		p.logger.Warn("loading capability failed", "error", err)
		return cachepurge.Capability{}
	}
	return c
}

// TTL returns the verdict lifetime.
func (p *Prober) TTL() time.Duration {
	return p.ttl
}

func (p *Prober) probe(ctx context.Context) bool {
	available := false

	resp, err := p.sender.Send(ctx, p.path, p.host, p.timeout)
	switch {
	case err != nil:
		p.logger.Info("purge module probe failed", "host", p.host, "error", err)
	default:
		outcome := transport.Classify(resp)
		available = outcome.ModulePresent()
		p.logger.Info("purge module probe",
			"host", p.host,
			"status", resp.StatusCode,
			"outcome", outcome.String(),
			"available", available,
		)
	}

	c := cachepurge.NewCapability(available, p.now(), p.ttl)
	if err := p.store.SaveCapability(ctx, c); err != nil {
		p.logger.Warn("saving capability failed", "error", err)
	}
	telemetry.RecordProbe(ctx, available, "network")
	return available
}
