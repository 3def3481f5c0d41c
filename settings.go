package cachepurge

import "time"

// Settings is process-wide purge configuration. It is read before every
// purge decision and may change between requests.
type Settings struct {
	SelectivePurgeEnabled bool      `json:"selective_purge_enabled"`
	UpdatedAt             time.Time `json:"updated_at,omitzero"`
}

// DefaultSettings enables selective purging.
func DefaultSettings() Settings {
	return Settings{SelectivePurgeEnabled: true}
}
