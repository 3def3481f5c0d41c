package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInstrumentedTransport_Status(t *testing.T) {
	reader := setupTestMetrics(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPreconditionFailed)
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewInstrumentedTransport(nil, TargetLoopback)}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	rm := collectMetrics(t, reader)
	dps := findCounter(rm, "cache_purge_upstream_requests_total")
	require.Len(t, dps, 1)
	require.EqualValues(t, 1, dps[0].Value)
	require.True(t, hasAttr(dps[0].Attributes, "target", "loopback"))
	require.True(t, hasAttr(dps[0].Attributes, "outcome", "4xx"))

	hist := findHistogram(rm, "cache_purge_upstream_duration_seconds")
	require.Len(t, hist, 1)
}

func TestInstrumentedTransport_Error(t *testing.T) {
	reader := setupTestMetrics(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	client := &http.Client{Transport: NewInstrumentedTransport(nil, TargetUAPI)}
	_, err := client.Get(addr)
	require.Error(t, err)

	rm := collectMetrics(t, reader)
	dps := findCounter(rm, "cache_purge_upstream_requests_total")
	require.Len(t, dps, 1)
	require.True(t, hasAttr(dps[0].Attributes, "target", "uapi"))
	require.True(t, hasAttr(dps[0].Attributes, "outcome", "error"))
}

func TestInstrumentedTransport_Canceled(t *testing.T) {
	reader := setupTestMetrics(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	client := &http.Client{Transport: NewInstrumentedTransport(nil, TargetWebhook)}
	_, err = client.Do(req)
	require.Error(t, err)

	rm := collectMetrics(t, reader)
	dps := findCounter(rm, "cache_purge_upstream_requests_total")
	require.Len(t, dps, 1)
	require.True(t, hasAttr(dps[0].Attributes, "outcome", "canceled"))
}
