// Package trigger maps CMS lifecycle events onto purge requests.
package trigger

import (
	"context"
	"log/slog"

	cachepurge "github.com/wolfeidau/cache-purge"
	"github.com/wolfeidau/cache-purge/coordinator"
)

// Post statuses the rules look at.
const (
	StatusPublish = "publish"
	StatusTrash   = "trash"
)

// Purger is the part of the coordinator events are routed to.
type Purger interface {
	PurgeAll(ctx context.Context) coordinator.Outcome
	PurgePost(ctx context.Context, change cachepurge.ContentChange) coordinator.Outcome
}

// PostUpdated is fired when an existing content item is saved.
type PostUpdated struct {
	BeforeStatus string                   `json:"before_status"`
	AfterStatus  string                   `json:"after_status" validate:"required"`
	Change       cachepurge.ContentChange `json:"change"`
}

// StatusTransition is fired whenever a content item changes status,
// including the transition of a brand new item.
type StatusTransition struct {
	OldStatus string                   `json:"old_status"`
	NewStatus string                   `json:"new_status" validate:"required"`
	Change    cachepurge.ContentChange `json:"change"`
}

// PurgeOnUpdate reports whether a save moving a post from before to after
// changes anything a visitor could have cached: the post is live now, or it
// was live and has been unpublished without being trashed.
func PurgeOnUpdate(before, after string) bool {
	return after == StatusPublish || (before == StatusPublish && after != StatusTrash)
}

// PurgeOnTransition reports whether a status change publishes a post.
func PurgeOnTransition(oldStatus, newStatus string) bool {
	return newStatus == StatusPublish && oldStatus != StatusPublish
}

// Dispatcher applies the trigger rules and forwards matching events.
type Dispatcher struct {
	purger Purger
	logger *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// New creates a Dispatcher that forwards matching events to purger.
func New(purger Purger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		purger: purger,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "trigger")
	return d
}

// PostUpdated purges the post when PurgeOnUpdate holds. The bool is false
// when the event was ignored.
func (d *Dispatcher) PostUpdated(ctx context.Context, ev PostUpdated) (coordinator.Outcome, bool) {
	if !PurgeOnUpdate(ev.BeforeStatus, ev.AfterStatus) {
		d.logger.DebugContext(ctx, "post update ignored",
			"post_id", ev.Change.ID,
			"before", ev.BeforeStatus,
			"after", ev.AfterStatus)
		return coordinator.Outcome{}, false
	}
	return d.purger.PurgePost(ctx, ev.Change), true
}

// StatusTransition purges the post when it has just been published.
func (d *Dispatcher) StatusTransition(ctx context.Context, ev StatusTransition) (coordinator.Outcome, bool) {
	if !PurgeOnTransition(ev.OldStatus, ev.NewStatus) {
		d.logger.DebugContext(ctx, "status transition ignored",
			"post_id", ev.Change.ID,
			"old", ev.OldStatus,
			"new", ev.NewStatus)
		return coordinator.Outcome{}, false
	}
	return d.purger.PurgePost(ctx, ev.Change), true
}

// CoreUpdated purges the whole site after a CMS core upgrade.
func (d *Dispatcher) CoreUpdated(ctx context.Context) coordinator.Outcome {
	d.logger.InfoContext(ctx, "core updated, purging site")
	return d.purger.PurgeAll(ctx)
}

// OptionsSaved purges the whole site after site-wide options change.
func (d *Dispatcher) OptionsSaved(ctx context.Context) coordinator.Outcome {
	d.logger.InfoContext(ctx, "options saved, purging site")
	return d.purger.PurgeAll(ctx)
}
