// Package observe provides application-wide observability primitives for
// Reservoir: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Reservoir metrics.
const meterName = "github.com/reservoir-ai/reservoir"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// UpstreamDuration tracks the upstream completion round trip.
	UpstreamDuration metric.Float64Histogram

	// EmbeddingDuration tracks embedding endpoint latency.
	EmbeddingDuration metric.Float64Histogram

	// GraphQueryDuration tracks conversation store query latency.
	GraphQueryDuration metric.Float64Histogram

	// --- Counters ---

	// CapturedMessages counts stored messages. Use with attributes:
	//   attribute.String("role", ...)
	CapturedMessages metric.Int64Counter

	// EnrichmentInjected counts history messages injected into prompts. Use
	// with attribute: attribute.String("source", "similar"|"recent")
	EnrichmentInjected metric.Int64Counter

	// PipelineFailures counts classified pipeline failures. Use with
	// attribute: attribute.String("kind", ...)
	PipelineFailures metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// proxy latencies: sub-second store queries up to multi-second completions.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.UpstreamDuration, err = m.Float64Histogram("reservoir.upstream.duration",
		metric.WithDescription("Latency of the upstream completion round trip."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EmbeddingDuration, err = m.Float64Histogram("reservoir.embedding.duration",
		metric.WithDescription("Latency of embedding endpoint calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GraphQueryDuration, err = m.Float64Histogram("reservoir.graph.query.duration",
		metric.WithDescription("Latency of conversation store queries."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.CapturedMessages, err = m.Int64Counter("reservoir.captured.messages",
		metric.WithDescription("Total messages stored in the conversation graph, by role."),
	); err != nil {
		return nil, err
	}
	if met.EnrichmentInjected, err = m.Int64Counter("reservoir.enrichment.injected",
		metric.WithDescription("Total history messages injected into prompts, by source."),
	); err != nil {
		return nil, err
	}
	if met.PipelineFailures, err = m.Int64Counter("reservoir.pipeline.failures",
		metric.WithDescription("Total classified pipeline failures, by kind."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("reservoir.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFailure records a pipeline failure of the given kind.
func (m *Metrics) RecordFailure(ctx context.Context, kind string) {
	m.PipelineFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordCapture records n stored messages of the given role.
func (m *Metrics) RecordCapture(ctx context.Context, role string, n int64) {
	m.CapturedMessages.Add(ctx, n,
		metric.WithAttributes(attribute.String("role", role)),
	)
}

// RecordEnrichment records n injected history messages from the given source.
func (m *Metrics) RecordEnrichment(ctx context.Context, source string, n int64) {
	m.EnrichmentInjected.Add(ctx, n,
		metric.WithAttributes(attribute.String("source", source)),
	)
}
