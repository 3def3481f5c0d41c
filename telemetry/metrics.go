package telemetry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

const (
	meterName = "github.com/wolfeidau/cache-purge"
)

// MetricsConfig configures the metrics system.
type MetricsConfig struct {
	// ServiceName is the name of the service for resource attributes.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317").
	// If empty, OTLP export is disabled.
	OTLPEndpoint string

	// EnablePrometheus enables the Prometheus /metrics endpoint.
	EnablePrometheus bool

	// FlushInterval is how often to export metrics (default: 10s).
	FlushInterval time.Duration
}

// Metrics holds the OpenTelemetry metric instruments.
type Metrics struct {
	requestsTotal      metric.Int64Counter
	requestDuration    metric.Float64Histogram
	responseBytesTotal metric.Int64Counter

	purgeRequestsTotal metric.Int64Counter
	purgeURLResults    metric.Int64Counter
	purgeBatchSize     metric.Int64Histogram
	probeTotal         metric.Int64Counter
	uapiRequestsTotal  metric.Int64Counter

	upstreamDuration metric.Float64Histogram
	upstreamTotal    metric.Int64Counter

	meterProvider *sdkmetric.MeterProvider
	promHandler   http.Handler
}

var (
	globalMetrics *Metrics
	initOnce      sync.Once
	initErr       error
)

// InitMetrics initializes the OpenTelemetry metrics system.
// Returns a shutdown function that should be called on application exit.
// Uses sync.Once to ensure single initialisation.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (shutdown func(context.Context) error, err error) {
	initOnce.Do(func() {
		initErr = doInitMetrics(ctx, cfg)
	})

	if initErr != nil {
		return nil, initErr
	}

	return shutdownMetrics, nil
}

func doInitMetrics(ctx context.Context, cfg MetricsConfig) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "cache-purge"
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return err
	}

	var readers []sdkmetric.Reader
	var promHandler http.Handler

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return err
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(otlpExporter,
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	if cfg.EnablePrometheus {
		promExp, err := promexporter.New()
		if err != nil {
			return err
		}
		readers = append(readers, promExp)
		promHandler = promhttp.Handler()
	}

	// If no exporters configured, use a no-op periodic reader to still collect metrics
	if len(readers) == 0 {
		readers = append(readers, sdkmetric.NewPeriodicReader(noopExporter{},
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	m, err := newMetrics(mp.Meter(meterName))
	if err != nil {
		return err
	}
	m.meterProvider = mp
	m.promHandler = promHandler

	globalMetrics = m
	return nil
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)

	if m.requestsTotal, err = meter.Int64Counter(
		"cache_purge_http_requests_total",
		metric.WithDescription("Total number of admin API requests"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}

	if m.requestDuration, err = meter.Float64Histogram(
		"cache_purge_http_request_duration_seconds",
		metric.WithDescription("Admin API request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	); err != nil {
		return nil, err
	}

	if m.responseBytesTotal, err = meter.Int64Counter(
		"cache_purge_http_response_bytes_total",
		metric.WithDescription("Total bytes sent in admin API responses"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	if m.purgeRequestsTotal, err = meter.Int64Counter(
		"cache_purge_requests_total",
		metric.WithDescription("Top-level purge requests by kind, final mode and outcome"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}

	if m.purgeURLResults, err = meter.Int64Counter(
		"cache_purge_url_results_total",
		metric.WithDescription("Per-URL selective purge results"),
		metric.WithUnit("{url}"),
	); err != nil {
		return nil, err
	}

	if m.purgeBatchSize, err = meter.Int64Histogram(
		"cache_purge_batch_size",
		metric.WithDescription("Number of URLs in a selective purge batch"),
		metric.WithUnit("{url}"),
		metric.WithExplicitBucketBoundaries(0, 1, 5, 10, 20, 50, 100, 250),
	); err != nil {
		return nil, err
	}

	if m.probeTotal, err = meter.Int64Counter(
		"cache_purge_probe_total",
		metric.WithDescription("Capability probe lookups by verdict and source"),
		metric.WithUnit("{probe}"),
	); err != nil {
		return nil, err
	}

	if m.uapiRequestsTotal, err = meter.Int64Counter(
		"cache_purge_uapi_requests_total",
		metric.WithDescription("cPanel UAPI requests by endpoint and outcome"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}

	if m.upstreamDuration, err = meter.Float64Histogram(
		"cache_purge_upstream_duration_seconds",
		metric.WithDescription("Duration of outbound requests to the loopback proxy, UAPI and webhooks"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	); err != nil {
		return nil, err
	}

	if m.upstreamTotal, err = meter.Int64Counter(
		"cache_purge_upstream_requests_total",
		metric.WithDescription("Total outbound requests by target and outcome"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}

	return &m, nil
}

func shutdownMetrics(ctx context.Context) error {
	if globalMetrics == nil || globalMetrics.meterProvider == nil {
		return nil
	}
	return globalMetrics.meterProvider.Shutdown(ctx)
}

// RecordHTTP records admin API request metrics.
func RecordHTTP(ctx context.Context, r *http.Request, status int, bytesSent int64, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	endpoint := "unknown"
	if tags := GetTags(r); tags != nil && tags.Endpoint != "" {
		endpoint = tags.Endpoint
	}

	attrs := metric.WithAttributes(
		attribute.String("method", r.Method),
		attribute.String("endpoint", endpoint),
		attribute.String("status_class", StatusClass(status)),
	)
	globalMetrics.requestsTotal.Add(ctx, 1, attrs)
	globalMetrics.requestDuration.Record(ctx, duration.Seconds(), attrs)
	if bytesSent > 0 {
		globalMetrics.responseBytesTotal.Add(ctx, bytesSent, attrs)
	}
}

// RecordPurgeRequest records one top-level purge request.
// kind is "all", "post" or "page"; mode is "selective" or "full".
func RecordPurgeRequest(ctx context.Context, kind, mode string, success, fellBack bool) {
	if globalMetrics == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	globalMetrics.purgeRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
		attribute.Bool("fallback", fellBack),
	))
}

// RecordPurgeURL records the classification of a single URL purge.
func RecordPurgeURL(ctx context.Context, outcome string) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.purgeURLResults.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordPurgeBatch records the size of a selective purge batch.
func RecordPurgeBatch(ctx context.Context, size int) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.purgeBatchSize.Record(ctx, int64(size))
}

// RecordProbe records a capability lookup. source is "cache" when the
// verdict came from the store and "network" when a PURGE was sent.
func RecordProbe(ctx context.Context, available bool, source string) {
	if globalMetrics == nil {
		return
	}
	verdict := "unavailable"
	if available {
		verdict = "available"
	}
	globalMetrics.probeTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("verdict", verdict),
		attribute.String("source", source),
	))
}

// RecordUAPI records a cPanel UAPI call.
func RecordUAPI(ctx context.Context, endpoint string, success bool) {
	if globalMetrics == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	globalMetrics.uapiRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("outcome", outcome),
	))
}

// RecordUpstream records an outbound request to target.
func RecordUpstream(ctx context.Context, target string, duration time.Duration, outcome string) {
	if globalMetrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("target", target),
		attribute.String("outcome", outcome),
	)
	globalMetrics.upstreamDuration.Record(ctx, duration.Seconds(), attrs)
	globalMetrics.upstreamTotal.Add(ctx, 1, attrs)
}

// PrometheusHandler returns the Prometheus metrics HTTP handler.
// Returns a handler that returns 404 if Prometheus export is not enabled,
// allowing safe registration regardless of initialization order.
func PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if globalMetrics == nil || globalMetrics.promHandler == nil {
			http.NotFound(w, r)
			return
		}
		globalMetrics.promHandler.ServeHTTP(w, r)
	})
}

// StatusClass returns the HTTP status class (2xx, 3xx, 4xx, 5xx).
func StatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// noopExporter is a no-op metrics exporter for when no exporters are configured.
type noopExporter struct{}

func (noopExporter) Temporality(_ sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func (noopExporter) Aggregation(_ sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return nil
}

func (noopExporter) Export(_ context.Context, _ *metricdata.ResourceMetrics) error {
	return nil
}

func (noopExporter) ForceFlush(_ context.Context) error {
	return nil
}

func (noopExporter) Shutdown(_ context.Context) error {
	return nil
}
