package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupTestMetrics installs a Metrics instance backed by a ManualReader.
func setupTestMetrics(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := newMetrics(mp.Meter(meterName))
	require.NoError(t, err)
	m.meterProvider = mp
	globalMetrics = m

	t.Cleanup(func() {
		_ = mp.Shutdown(context.Background())
		globalMetrics = nil
	})

	return reader
}

// collectMetrics reads all metrics from the ManualReader.
func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

// findCounter finds a counter metric by name and returns its data points.
func findCounter(rm metricdata.ResourceMetrics, name string) []metricdata.DataPoint[int64] {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
					return sum.DataPoints
				}
			}
		}
	}
	return nil
}

// findHistogram finds a float histogram metric by name and returns its data points.
func findHistogram(rm metricdata.ResourceMetrics, name string) []metricdata.HistogramDataPoint[float64] {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				if hist, ok := m.Data.(metricdata.Histogram[float64]); ok {
					return hist.DataPoints
				}
			}
		}
	}
	return nil
}

// hasAttr checks if a data point's attribute set contains the given key-value pair.
func hasAttr(attrs attribute.Set, key, value string) bool {
	v, ok := attrs.Value(attribute.Key(key))
	return ok && v.Emit() == value
}

func TestRecordHTTP(t *testing.T) {
	reader := setupTestMetrics(t)

	r := httptest.NewRequest(http.MethodPost, "/purge/all", nil)
	r = InjectTags(r)
	SetEndpoint(r, "purge_all")

	RecordHTTP(context.Background(), r, http.StatusOK, 128, 50*time.Millisecond)

	rm := collectMetrics(t, reader)

	dps := findCounter(rm, "cache_purge_http_requests_total")
	require.Len(t, dps, 1)
	require.EqualValues(t, 1, dps[0].Value)
	require.True(t, hasAttr(dps[0].Attributes, "endpoint", "purge_all"))
	require.True(t, hasAttr(dps[0].Attributes, "status_class", "2xx"))

	bytesDps := findCounter(rm, "cache_purge_http_response_bytes_total")
	require.Len(t, bytesDps, 1)
	require.EqualValues(t, 128, bytesDps[0].Value)

	histDps := findHistogram(rm, "cache_purge_http_request_duration_seconds")
	require.Len(t, histDps, 1)
	require.Equal(t, uint64(1), histDps[0].Count)
}

func TestRecordHTTP_DefaultsWhenNoTags(t *testing.T) {
	reader := setupTestMetrics(t)

	r := httptest.NewRequest(http.MethodGet, "/unknown", nil)
	RecordHTTP(context.Background(), r, http.StatusNotFound, 0, time.Millisecond)

	rm := collectMetrics(t, reader)
	dps := findCounter(rm, "cache_purge_http_requests_total")
	require.Len(t, dps, 1)
	require.True(t, hasAttr(dps[0].Attributes, "endpoint", "unknown"))
	require.True(t, hasAttr(dps[0].Attributes, "status_class", "4xx"))
	require.Empty(t, findCounter(rm, "cache_purge_http_response_bytes_total"))
}

func TestRecordPurgeRequest(t *testing.T) {
	reader := setupTestMetrics(t)

	RecordPurgeRequest(context.Background(), "all", "full", true, true)
	RecordPurgeRequest(context.Background(), "post", "selective", false, false)

	rm := collectMetrics(t, reader)
	dps := findCounter(rm, "cache_purge_requests_total")
	require.Len(t, dps, 2)

	var sawFallback, sawFailure bool
	for _, dp := range dps {
		if hasAttr(dp.Attributes, "kind", "all") {
			sawFallback = hasAttr(dp.Attributes, "fallback", "true") && hasAttr(dp.Attributes, "mode", "full")
		}
		if hasAttr(dp.Attributes, "kind", "post") {
			sawFailure = hasAttr(dp.Attributes, "outcome", "failure")
		}
	}
	require.True(t, sawFallback)
	require.True(t, sawFailure)
}

func TestRecordProbeAndURL(t *testing.T) {
	reader := setupTestMetrics(t)

	RecordProbe(context.Background(), true, "network")
	RecordProbe(context.Background(), true, "network")
	RecordPurgeURL(context.Background(), "purged")
	RecordUAPI(context.Background(), "NginxCaching/clear_cache", false)

	rm := collectMetrics(t, reader)

	probes := findCounter(rm, "cache_purge_probe_total")
	require.Len(t, probes, 1)
	require.EqualValues(t, 2, probes[0].Value)
	require.True(t, hasAttr(probes[0].Attributes, "verdict", "available"))

	urls := findCounter(rm, "cache_purge_url_results_total")
	require.Len(t, urls, 1)
	require.True(t, hasAttr(urls[0].Attributes, "outcome", "purged"))

	uapi := findCounter(rm, "cache_purge_uapi_requests_total")
	require.Len(t, uapi, 1)
	require.True(t, hasAttr(uapi[0].Attributes, "outcome", "failure"))
}

func TestRecorders_NilGlobalMetrics(t *testing.T) {
	globalMetrics = nil

	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	r = InjectTags(r)

	// Should not panic
	RecordHTTP(context.Background(), r, http.StatusOK, 0, time.Millisecond)
	RecordPurgeRequest(context.Background(), "all", "full", true, false)
	RecordPurgeURL(context.Background(), "purged")
	RecordPurgeBatch(context.Background(), 3)
	RecordProbe(context.Background(), false, "cache")
	RecordUAPI(context.Background(), "Quota/get_quota_info", true)
	RecordUpstream(context.Background(), TargetLoopback, time.Millisecond, "2xx")
}

func TestPrometheusHandler_NotEnabled(t *testing.T) {
	globalMetrics = nil

	w := httptest.NewRecorder()
	PrometheusHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusClass(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{200, "2xx"},
		{299, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{405, "4xx"},
		{412, "4xx"},
		{500, "5xx"},
		{100, "unknown"},
		{0, "unknown"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, StatusClass(tt.status), "StatusClass(%d)", tt.status)
	}
}
