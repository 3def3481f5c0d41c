package metadb

import (
	"context"
	"fmt"
	"time"

	cachepurge "github.com/wolfeidau/cache-purge"
)

// ErrNotFound is returned when an entry does not exist.
var ErrNotFound = fmt.Errorf("metadb: %w", cachepurge.ErrNotFound)

// MetaDB stores purge state.
type MetaDB interface {
	// Lifecycle
	Open(path string) error
	Close() error

	// Capability verdict, written only by the prober.
	LoadCapability(ctx context.Context) (cachepurge.Capability, error)
	SaveCapability(ctx context.Context, c cachepurge.Capability) error
	History(ctx context.Context, limit int) ([]HistoryEntry, error)
	PruneHistory(ctx context.Context, before time.Time, limit int) (int, error)

	// Settings
	GetSettings(ctx context.Context) (cachepurge.Settings, error)
	PutSettings(ctx context.Context, s cachepurge.Settings) error
	SeedSettings(ctx context.Context, s cachepurge.Settings) (bool, error)
	SelectiveEnabled(ctx context.Context) (bool, error)
}

var _ MetaDB = (*BoltDB)(nil)
