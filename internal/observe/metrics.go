// Package observe provides application-wide observability primitives for
// relaymem: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// installs a Prometheus exporter bridge that registers the instruments with
// the default Prometheus registry; no /metrics HTTP handler is mounted by
// this package or by the router. A package-level default
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

// meterName is the instrumentation scope name used for all relaymem metrics.
const meterName = "github.com/relaymem/core"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// IngestDuration tracks end-to-end IngestionCoordinator.IngestOne latency.
	IngestDuration metric.Float64Histogram

	// EmbedDuration tracks EmbeddingProvider.Embed/EmbedBatch call latency.
	EmbedDuration metric.Float64Histogram

	// ChunkerDuration tracks chunker.Split latency for the document path.
	ChunkerDuration metric.Float64Histogram

	// RetrievalDuration tracks RetrievalEngine call latency. Use with
	// attribute.String("flavor", ...) for one of the seven retrieval flavors.
	RetrievalDuration metric.Float64Histogram

	// --- Counters ---

	// ChunksIngested counts chunks successfully dispatched through the
	// coordinator. Use with attribute.String("source_type", ...).
	ChunksIngested metric.Int64Counter

	// ChunksFailed counts chunks that failed ingestion. Use with
	// attribute.String("source_type", ...), attribute.String("kind", ...).
	ChunksFailed metric.Int64Counter

	// --- Error counters ---

	// VectorStoreErrors counts VectorStore operation failures. Use with
	// attribute.String("op", ...).
	VectorStoreErrors metric.Int64Counter

	// GraphStoreErrors counts GraphStore operation failures. Use with
	// attribute.String("op", ...).
	GraphStoreErrors metric.Int64Counter

	// EmbeddingErrors counts embedding provider failures.
	EmbeddingErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveIngestions tracks the number of in-flight coordinator calls.
	ActiveIngestions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds), ranging
// from sub-10ms graph merges to multi-second embedding calls.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.IngestDuration, err = m.Float64Histogram("relaymem.ingest.duration",
		metric.WithDescription("Latency of IngestionCoordinator.IngestOne."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EmbedDuration, err = m.Float64Histogram("relaymem.embed.duration",
		metric.WithDescription("Latency of embedding provider calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ChunkerDuration, err = m.Float64Histogram("relaymem.chunker.duration",
		metric.WithDescription("Latency of document chunking."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RetrievalDuration, err = m.Float64Histogram("relaymem.retrieval.duration",
		metric.WithDescription("Latency of RetrievalEngine calls by flavor."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ChunksIngested, err = m.Int64Counter("relaymem.chunks.ingested",
		metric.WithDescription("Total chunks successfully ingested by source_type."),
	); err != nil {
		return nil, err
	}
	if met.ChunksFailed, err = m.Int64Counter("relaymem.chunks.failed",
		metric.WithDescription("Total chunks that failed ingestion by source_type and error kind."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.VectorStoreErrors, err = m.Int64Counter("relaymem.vectorstore.errors",
		metric.WithDescription("Total VectorStore operation errors by op."),
	); err != nil {
		return nil, err
	}
	if met.GraphStoreErrors, err = m.Int64Counter("relaymem.graphstore.errors",
		metric.WithDescription("Total GraphStore operation errors by op."),
	); err != nil {
		return nil, err
	}
	if met.EmbeddingErrors, err = m.Int64Counter("relaymem.embedding.errors",
		metric.WithDescription("Total embedding provider errors."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveIngestions, err = m.Int64UpDownCounter("relaymem.active_ingestions",
		metric.WithDescription("Number of in-flight IngestionCoordinator calls."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("relaymem.http.request.duration",
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

// RecordChunkIngested is a convenience method that records a successful
// ingestion counter increment for the given source_type.
func (m *Metrics) RecordChunkIngested(ctx context.Context, sourceType string) {
	m.ChunksIngested.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source_type", sourceType)),
	)
}

// RecordChunkFailed is a convenience method that records a failed ingestion
// counter increment with the standard attribute set.
func (m *Metrics) RecordChunkFailed(ctx context.Context, sourceType, kind string) {
	m.ChunksFailed.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("source_type", sourceType),
			attribute.String("kind", kind),
		),
	)
}

// RecordVectorStoreError is a convenience method that records a VectorStore
// error counter increment.
func (m *Metrics) RecordVectorStoreError(ctx context.Context, op string) {
	m.VectorStoreErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("op", op)),
	)
}

// RecordGraphStoreError is a convenience method that records a GraphStore
// error counter increment.
func (m *Metrics) RecordGraphStoreError(ctx context.Context, op string) {
	m.GraphStoreErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("op", op)),
	)
}
