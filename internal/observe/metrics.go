// Package observe provides application-wide observability primitives for the
// speech service: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all service metrics.
const meterName = "github.com/rodolfogoulart/mms-tts-api"

// Cache levels used as the "level" attribute on cache metrics.
const (
	CacheLevelAudio     = "audio"
	CacheLevelAlignment = "alignment"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// SynthesisDuration tracks text-to-speech synthesis latency.
	SynthesisDuration metric.Float64Histogram

	// TranscriptionDuration tracks transcription latency over synthesized audio.
	TranscriptionDuration metric.Float64Histogram

	// AlignmentDuration tracks the full alignment step (transcription,
	// matching, and interval assignment).
	AlignmentDuration metric.Float64Histogram

	// --- Alignment quality ---

	// MatchRatio records the fraction of words matched per alignment.
	MatchRatio metric.Float64Histogram

	// Fallbacks counts degraded alignments. Use with attribute:
	//   attribute.String("reason", ...)
	Fallbacks metric.Int64Counter

	// --- Cache ---

	// CacheLookups counts cache lookups. Use with attributes:
	//   attribute.String("level", ...), attribute.String("result", "hit"|"miss")
	CacheLookups metric.Int64Counter

	// CacheProductions counts producer invocations, i.e. real synthesis or
	// alignment work done on a cache miss. Use with attribute:
	//   attribute.String("level", ...)
	CacheProductions metric.Int64Counter

	// CacheEvictions counts audio entries removed by the evictor.
	CacheEvictions metric.Int64Counter

	// --- Providers ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveRequests tracks in-flight speech requests by operation.
	ActiveRequests metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Model
// inference runs for seconds, so the upper buckets are wide.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// ratioBuckets covers the [0, 1] match ratio range.
var ratioBuckets = []float64{
	0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SynthesisDuration, err = m.Float64Histogram("mmstts.synthesis.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionDuration, err = m.Float64Histogram("mmstts.transcription.duration",
		metric.WithDescription("Latency of transcription over synthesized audio."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AlignmentDuration, err = m.Float64Histogram("mmstts.alignment.duration",
		metric.WithDescription("Latency of producing a word alignment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MatchRatio, err = m.Float64Histogram("mmstts.alignment.match_ratio",
		metric.WithDescription("Fraction of reference words matched to transcribed words."),
		metric.WithExplicitBucketBoundaries(ratioBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Fallbacks, err = m.Int64Counter("mmstts.alignment.fallbacks",
		metric.WithDescription("Total degraded alignments by reason."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("mmstts.cache.lookups",
		metric.WithDescription("Total cache lookups by level and result."),
	); err != nil {
		return nil, err
	}
	if met.CacheProductions, err = m.Int64Counter("mmstts.cache.productions",
		metric.WithDescription("Total producer invocations on cache miss by level."),
	); err != nil {
		return nil, err
	}
	if met.CacheEvictions, err = m.Int64Counter("mmstts.cache.evictions",
		metric.WithDescription("Total audio entries evicted from the cache."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("mmstts.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("mmstts.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveRequests, err = m.Int64UpDownCounter("mmstts.active_requests",
		metric.WithDescription("Number of in-flight speech requests by operation."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("mmstts.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
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

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordCacheLookup records a cache hit or miss for level.
func (m *Metrics) RecordCacheLookup(ctx context.Context, level string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("level", level),
			attribute.String("result", result),
		),
	)
}

// RecordCacheProduction records one producer invocation for level.
func (m *Metrics) RecordCacheProduction(ctx context.Context, level string) {
	m.CacheProductions.Add(ctx, 1, metric.WithAttributes(attribute.String("level", level)))
}

// RecordFallback records a degraded alignment.
func (m *Metrics) RecordFallback(ctx context.Context, reason string) {
	m.Fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
