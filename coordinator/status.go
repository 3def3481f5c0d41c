package coordinator

import (
	"context"
	"time"

	cachepurge "github.com/wolfeidau/cache-purge"
)

// Status messages.
const (
	MessageSelectiveActive   = "Selective purging active — only changed pages are purged for maximum efficiency"
	MessageSelectiveDisabled = "Selective purging available but disabled"
	MessageModuleMissing     = "nginx-module-cache-purge not detected — using full cache purge via cPanel API"
)

// Status describes the current purge configuration for display.
type Status struct {
	Available bool                       `json:"available"`
	Enabled   bool                       `json:"enabled"`
	State     cachepurge.CapabilityState `json:"state"`
	CheckedAt time.Time                  `json:"checked_at,omitzero"`
	ExpiresAt time.Time                  `json:"expires_at,omitzero"`
	Message   string                     `json:"message"`
}

// Status reports availability and settings. A verdict that was never taken
// is probed; an existing verdict is used as is, however old.
func (c *Coordinator) Status(ctx context.Context) Status {
	if c.prober.Cached(ctx).State == cachepurge.CapabilityUnknown {
		c.prober.Probe(ctx, false)
	}
	return c.status(ctx)
}

// Recheck forces a fresh probe and reports the resulting status.
func (c *Coordinator) Recheck(ctx context.Context) Status {
	c.prober.Probe(ctx, true)
	return c.status(ctx)
}

func (c *Coordinator) status(ctx context.Context) Status {
	capability := c.prober.Cached(ctx)

	enabled, err := c.settings.SelectiveEnabled(ctx)
	if err != nil {
		c.logger.Warn("reading settings failed", "error", err)
	}

	s := Status{
		Available: capability.Available(),
		Enabled:   enabled,
		State:     capability.State,
		CheckedAt: capability.CheckedAt,
	}
	if !capability.CheckedAt.IsZero() {
		s.ExpiresAt = capability.ExpiresAt()
	}

	switch {
	case s.Available && s.Enabled:
		s.Message = MessageSelectiveActive
	case s.Available:
		s.Message = MessageSelectiveDisabled
	default:
		s.Message = MessageModuleMissing
	}
	return s
}
