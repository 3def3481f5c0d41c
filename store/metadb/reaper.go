package metadb

import (
	"context"
	"log/slog"
	"time"
)

// HistoryReaper periodically prunes old probe history.
type HistoryReaper struct {
	db        *BoltDB
	interval  time.Duration
	retention time.Duration
	batchSize int
	logger    *slog.Logger
}

// ReaperOption configures a HistoryReaper.
type ReaperOption func(*HistoryReaper)

// WithReaperInterval sets the cleanup interval.
func WithReaperInterval(d time.Duration) ReaperOption {
	return func(r *HistoryReaper) {
		r.interval = d
	}
}

// WithReaperRetention sets how long history entries are kept.
func WithReaperRetention(d time.Duration) ReaperOption {
	return func(r *HistoryReaper) {
		r.retention = d
	}
}

// WithReaperBatchSize sets the maximum entries to delete per cycle.
func WithReaperBatchSize(n int) ReaperOption {
	return func(r *HistoryReaper) {
		r.batchSize = n
	}
}

// WithReaperLogger sets the logger for the reaper.
func WithReaperLogger(logger *slog.Logger) ReaperOption {
	return func(r *HistoryReaper) {
		r.logger = logger
	}
}

// NewHistoryReaper creates a reaper.
// Defaults: interval=1h, retention=7d, batchSize=500.
func NewHistoryReaper(db *BoltDB, opts ...ReaperOption) *HistoryReaper {
	r := &HistoryReaper{
		db:        db,
		interval:  time.Hour,
		retention: 7 * 24 * time.Hour,
		batchSize: 500,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts the reaper loop. It blocks until the context is cancelled.
func (r *HistoryReaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Debug("history reaper started", "interval", r.interval, "retention", r.retention)

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("history reaper stopped")
			return
		case <-ticker.C:
			r.ReapNow(ctx)
		}
	}
}

// ReapNow runs a single reap cycle immediately.
func (r *HistoryReaper) ReapNow(ctx context.Context) {
	deleted, err := r.db.PruneHistory(ctx, r.db.now().Add(-r.retention), r.batchSize)
	if err != nil {
		r.logger.Error("failed to prune probe history", "error", err)
		return
	}
	if deleted > 0 {
		r.logger.Info("probe history pruned", "deleted", deleted)
	}
}
