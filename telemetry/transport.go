package telemetry

import (
	"net/http"
	"time"
)

// Outbound request targets.
const (
	TargetLoopback = "loopback"
	TargetUAPI     = "uapi"
	TargetWebhook  = "webhook"
)

// InstrumentedTransport wraps an http.RoundTripper with outbound request metrics.
type InstrumentedTransport struct {
	base   http.RoundTripper
	target string
}

// NewInstrumentedTransport creates a new instrumented transport for a target.
// If base is nil, http.DefaultTransport is used.
func NewInstrumentedTransport(base http.RoundTripper, target string) *InstrumentedTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &InstrumentedTransport{base: base, target: target}
}

// RoundTrip implements http.RoundTripper with metrics recording.
func (t *InstrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		outcome := "error"
		if req.Context().Err() != nil {
			outcome = "canceled"
		}
		RecordUpstream(req.Context(), t.target, duration, outcome)
		return nil, err
	}

	RecordUpstream(req.Context(), t.target, duration, StatusClass(resp.StatusCode))
	return resp, nil
}
