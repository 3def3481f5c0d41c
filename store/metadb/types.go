// Package metadb persists the purge capability verdict, probe history and
// purge settings in bbolt.
package metadb

import (
	"time"

	cachepurge "github.com/wolfeidau/cache-purge"
)

// HistoryEntry is one recorded probe verdict.
type HistoryEntry struct {
	State     cachepurge.CapabilityState `json:"state"`
	CheckedAt time.Time                  `json:"checked_at"`
}
