// Package coordinator decides per purge request between selective purging
// and a full cache purge through cPanel, and produces the single message
// reported to the user.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	cachepurge "github.com/wolfeidau/cache-purge"
	"github.com/wolfeidau/cache-purge/notify"
	"github.com/wolfeidau/cache-purge/telemetry"
	"github.com/wolfeidau/cache-purge/uapi"
)

// Request kinds.
const (
	KindAll  = "all"
	KindPost = "post"
	KindPage = "page"
	KindURLs = "urls"
)

// Mode is the purge path that produced the final result.
type Mode string

const (
	ModeSelective Mode = "selective"
	ModeFull      Mode = "full"
)

// Settings reads the selective purge toggle. It is read on every request.
type Settings interface {
	SelectiveEnabled(ctx context.Context) (bool, error)
}

// Prober reports purge module availability.
type Prober interface {
	Probe(ctx context.Context, force bool) bool
	Cached(ctx context.Context) cachepurge.Capability
}

// Executor runs selective purges.
type Executor interface {
	PurgeAll(ctx context.Context) cachepurge.Result
	PurgeURLs(ctx context.Context, urls []string) cachepurge.Summary
	Enumerate(ctx context.Context, change cachepurge.ContentChange) []string
}

// DefaultNotifyTimeout bounds delivery of one failure notification.
const DefaultNotifyTimeout = 30 * time.Second

// FullPurger clears the whole cache through the control plane.
type FullPurger interface {
	ClearCache(ctx context.Context) (uapi.Result, error)
}

// Notifier is told about requests that finally failed.
type Notifier interface {
	PurgeFailed(ctx context.Context, ev notify.Event) error
}

// Outcome is the final result of a top-level purge request.
type Outcome struct {
	RequestID string              `json:"request_id"`
	Kind      string              `json:"kind"`
	Success   bool                `json:"success"`
	Mode      Mode                `json:"mode"`
	FellBack  bool                `json:"fell_back"`
	Message   string              `json:"message"`
	Summary   *cachepurge.Summary `json:"summary,omitempty"`
}

// Coordinator holds its collaborators explicitly; nothing is looked up globally.
type Coordinator struct {
	settings  Settings
	prober    Prober
	executor  Executor
	full      FullPurger
	notifier  Notifier
	tolerance int
	logger    *slog.Logger
	group     singleflight.Group

	notifyTimeout time.Duration
	notifications sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithFailureTolerance sets how many failed URLs a selective batch may have
// before falling back to a full purge. Zero requires every URL to succeed.
// A negative value never falls back for batches; the summary is final.
func WithFailureTolerance(n int) Option {
	return func(c *Coordinator) {
		c.tolerance = n
	}
}

// WithNotifier sets the notifier for failed requests.
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) {
		c.notifier = n
	}
}

// WithNotifyTimeout bounds delivery of each failure notification.
func WithNotifyTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.notifyTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// New creates a Coordinator.
func New(settings Settings, prober Prober, executor Executor, full FullPurger, opts ...Option) *Coordinator {
	c := &Coordinator{
		settings: settings,
		prober:   prober,
		executor: executor,
		full:     full,
		logger:   slog.Default(),

		notifyTimeout: DefaultNotifyTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "coordinator")
	return c
}

// PurgeAll purges the whole site.
func (c *Coordinator) PurgeAll(ctx context.Context) Outcome {
	return c.run(ctx, KindAll, nil, func(ctx context.Context, o *Outcome) bool {
		r := c.executor.PurgeAll(ctx)
		o.Message = r.Message
		return r.Success
	})
}

// PurgePost purges the URLs affected by a published or updated item.
func (c *Coordinator) PurgePost(ctx context.Context, change cachepurge.ContentChange) Outcome {
	return c.purgeChange(ctx, KindPost, change)
}

// PurgePage is the manual "purge this page" action. There is no single-page
// control plane primitive, so its fallback is a full purge.
func (c *Coordinator) PurgePage(ctx context.Context, change cachepurge.ContentChange) Outcome {
	return c.purgeChange(ctx, KindPage, change)
}

func (c *Coordinator) purgeChange(ctx context.Context, kind string, change cachepurge.ContentChange) Outcome {
	urls := c.executor.Enumerate(ctx, change)
	return c.run(ctx, kind, urls, func(ctx context.Context, o *Outcome) bool {
		s := c.executor.PurgeURLs(ctx, urls)
		o.Summary = &s
		o.Message = s.Message()
		return c.batchAccepted(s)
	})
}

// PurgeURLs purges an explicit URL list selectively. There is no fallback:
// the summary is the result.
func (c *Coordinator) PurgeURLs(ctx context.Context, urls []string) Outcome {
	ctx, id := c.requestContext(ctx)
	o := Outcome{RequestID: id, Kind: KindURLs, Mode: ModeSelective}

	if !c.selectiveUsable(ctx) {
		o.Message = "Selective purging is not available"
		telemetry.RecordPurgeRequest(ctx, o.Kind, string(o.Mode), false, false)
		return o
	}

	s := c.executor.PurgeURLs(ctx, urls)
	o.Summary = &s
	o.Success = s.Success()
	o.Message = s.Message()
	telemetry.RecordPurgeRequest(ctx, o.Kind, string(o.Mode), o.Success, false)
	return o
}

func (c *Coordinator) batchAccepted(s cachepurge.Summary) bool {
	if c.tolerance < 0 {
		return true
	}
	return s.Failed <= c.tolerance
}

type selectiveFunc func(ctx context.Context, o *Outcome) bool

// run drives one request through Start → {SelectiveAttempt | FullPurge} → Done.
// A request for the same kind and URL set joins a running one only while
// that one has not sent anything yet.
func (c *Coordinator) run(ctx context.Context, kind string, urls []string, selective selectiveFunc) Outcome {
	ctx, id := c.requestContext(ctx)
	key := cachepurge.FingerprintRequest(kind, urls).String()

	v, _, shared := c.group.Do(key, func() (any, error) {
		return c.execute(context.WithoutCancel(ctx), key, id, kind, selective), nil
	})
	o := v.(Outcome)
	if shared && o.RequestID != id {
		c.logger.Info("purge request coalesced", "request_id", id, "leader", o.RequestID, "kind", kind)
	}
	return o
}

func (c *Coordinator) execute(ctx context.Context, key, id, kind string, selective selectiveFunc) Outcome {
	o := Outcome{RequestID: id, Kind: kind}
	log := c.logger.With("request_id", id, "kind", kind)

	usable := c.selectiveUsable(ctx)
	// Close the join window before the first PURGE or UAPI call.
	c.group.Forget(key)

	if usable {
		o.Mode = ModeSelective
		if selective(ctx, &o) {
			o.Success = true
			log.Info("selective purge succeeded", "message", o.Message)
			c.finish(ctx, o)
			return o
		}
		log.Warn("selective purge failed, falling back to full purge", "message", o.Message)
		o.FellBack = true
	}

	o.Mode = ModeFull
	res, err := c.full.ClearCache(ctx)
	o.Success = err == nil && res.Success
	o.Message = res.Message
	if err != nil {
		log.Error("full purge failed", "error", err)
	} else {
		log.Info("full purge succeeded", "fell_back", o.FellBack)
	}
	c.finish(ctx, o)
	return o
}

func (c *Coordinator) selectiveUsable(ctx context.Context) bool {
	enabled, err := c.settings.SelectiveEnabled(ctx)
	if err != nil {
		c.logger.Warn("reading settings failed, using full purge", "error", err)
		return false
	}
	if !enabled {
		return false
	}
	return c.prober.Probe(ctx, false)
}

// finish records the outcome. Failures are notified in the background.
func (c *Coordinator) finish(ctx context.Context, o Outcome) {
	telemetry.RecordPurgeRequest(ctx, o.Kind, string(o.Mode), o.Success, o.FellBack)
	if o.Success || c.notifier == nil {
		return
	}

	ev := notify.Event{Kind: o.Kind, RequestID: o.RequestID, Message: o.Message, Time: time.Now()}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.notifyTimeout)
	c.notifications.Go(func() {
		defer cancel()
		if err := c.notifier.PurgeFailed(ctx, ev); err != nil {
			c.logger.Warn("failure notification not sent", "request_id", o.RequestID, "error", err)
		}
	})
}

// Wait blocks until pending failure notifications have been delivered or
// have timed out.
func (c *Coordinator) Wait() {
	c.notifications.Wait()
}

func (c *Coordinator) requestContext(ctx context.Context) (context.Context, string) {
	if id := telemetry.RequestIDFromContext(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return telemetry.WithRequestID(ctx, id), id
}
