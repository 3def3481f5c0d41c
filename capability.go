package cachepurge

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultCapabilityTTL is how long a probe verdict is trusted.
const DefaultCapabilityTTL = time.Hour

// CapabilityState is the tri-state verdict about the PURGE module.
type CapabilityState int

const (
	CapabilityUnknown CapabilityState = iota
	CapabilityAvailable
	CapabilityUnavailable
)

// String returns the lowercase name of the state.
func (s CapabilityState) String() string {
	switch s {
	case CapabilityAvailable:
		return "available"
	case CapabilityUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// ParseCapabilityState parses the output of String.
func ParseCapabilityState(s string) (CapabilityState, error) {
	switch s {
	case "available":
		return CapabilityAvailable, nil
	case "unavailable":
		return CapabilityUnavailable, nil
	case "unknown", "":
		return CapabilityUnknown, nil
	default:
		return CapabilityUnknown, fmt.Errorf("unknown capability state %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s CapabilityState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *CapabilityState) UnmarshalText(text []byte) error {
	parsed, err := ParseCapabilityState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Capability is the result of probing the upstream proxy. It is written only
// by the prober and superseded, never deleted, by later probes.
type Capability struct {
	State     CapabilityState `json:"state"`
	CheckedAt time.Time       `json:"checked_at"`
	TTL       time.Duration   `json:"ttl"`
}

// NewCapability records a verdict taken at now.
func NewCapability(available bool, now time.Time, ttl time.Duration) Capability {
	state := CapabilityUnavailable
	if available {
		state = CapabilityAvailable
	}
	return Capability{State: state, CheckedAt: now.UTC(), TTL: ttl}
}

// Fresh reports whether the verdict was taken and has not outlived its TTL.
func (c Capability) Fresh(now time.Time) bool {
	if c.State == CapabilityUnknown || c.CheckedAt.IsZero() {
		return false
	}
	return now.Sub(c.CheckedAt) < c.TTL
}

// Effective returns the state to rely on at now: stale verdicts are Unknown.
func (c Capability) Effective(now time.Time) CapabilityState {
	if !c.Fresh(now) {
		return CapabilityUnknown
	}
	return c.State
}

// Available reports whether the recorded state is Available, regardless of
// age. Use it for cheap, best-effort reads only.
func (c Capability) Available() bool {
	return c.State == CapabilityAvailable
}

// ExpiresAt returns when the verdict stops being fresh.
func (c Capability) ExpiresAt() time.Time {
	return c.CheckedAt.Add(c.TTL)
}

type capabilityJSON struct {
	State     CapabilityState `json:"state"`
	CheckedAt time.Time       `json:"checked_at"`
	TTL       string          `json:"ttl"`
}

// MarshalJSON encodes the TTL as a duration string.
func (c Capability) MarshalJSON() ([]byte, error) {
	return json.Marshal(capabilityJSON{State: c.State, CheckedAt: c.CheckedAt, TTL: c.TTL.String()})
}

// UnmarshalJSON decodes the format written by MarshalJSON.
func (c *Capability) UnmarshalJSON(data []byte) error {
	var raw capabilityJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.State = raw.State
	c.CheckedAt = raw.CheckedAt
	c.TTL = 0
	if raw.TTL != "" {
		d, err := time.ParseDuration(raw.TTL)
		if err != nil {
			return fmt.Errorf("parsing capability ttl: %w", err)
		}
		c.TTL = d
	}
	return nil
}
