package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumPoint returns the value of the int64 sum data point whose attributes
// include every key/value in want.
func sumPoint(t *testing.T, met *metricdata.Metrics, want map[string]string) (int64, bool) {
	t.Helper()
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s is %T, want Sum[int64]", met.Name, met.Data)
	}
	for _, dp := range sum.DataPoints {
		if hasAttrs(dp.Attributes, want) {
			return dp.Value, true
		}
	}
	return 0, false
}

func hasAttrs(set attribute.Set, want map[string]string) bool {
	for k, v := range want {
		got, ok := set.Value(attribute.Key(k))
		if !ok || got.AsString() != v {
			return false
		}
	}
	return true
}

func TestCounters(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		record func(context.Context, *Metrics)
		metric string
		attrs  map[string]string
		want   int64
	}{
		{
			name: "alignment cache hits and misses are split",
			record: func(ctx context.Context, m *Metrics) {
				m.RecordCacheLookup(ctx, "alignment", true)
				m.RecordCacheLookup(ctx, "alignment", true)
				m.RecordCacheLookup(ctx, "alignment", false)
			},
			metric: "mmstts.cache.lookups",
			attrs:  map[string]string{"level": "alignment", "result": "hit"},
			want:   2,
		},
		{
			name: "audio productions",
			record: func(ctx context.Context, m *Metrics) {
				m.RecordCacheProduction(ctx, "audio")
			},
			metric: "mmstts.cache.productions",
			attrs:  map[string]string{"level": "audio"},
			want:   1,
		},
		{
			name: "fallbacks by reason",
			record: func(ctx context.Context, m *Metrics) {
				m.RecordFallback(ctx, "transcription_failed")
				m.RecordFallback(ctx, "low_match_ratio")
				m.RecordFallback(ctx, "transcription_failed")
			},
			metric: "mmstts.alignment.fallbacks",
			attrs:  map[string]string{"reason": "transcription_failed"},
			want:   2,
		},
		{
			name: "provider requests",
			record: func(ctx context.Context, m *Metrics) {
				m.RecordProviderRequest(ctx, "whisper", "stt", "ok")
			},
			metric: "mmstts.provider.requests",
			attrs:  map[string]string{"provider": "whisper", "kind": "stt", "status": "ok"},
			want:   1,
		},
		{
			name: "provider errors",
			record: func(ctx context.Context, m *Metrics) {
				m.RecordProviderError(ctx, "coqui", "tts")
			},
			metric: "mmstts.provider.errors",
			attrs:  map[string]string{"provider": "coqui", "kind": "tts"},
			want:   1,
		},
		{
			name: "evictions",
			record: func(ctx context.Context, m *Metrics) {
				m.CacheEvictions.Add(ctx, 4)
			},
			metric: "mmstts.cache.evictions",
			want:   4,
		},
		{
			name: "active requests go up and down",
			record: func(ctx context.Context, m *Metrics) {
				op := metric.WithAttributes(Attr("operation", "synthesize_and_align"))
				m.ActiveRequests.Add(ctx, 1, op)
				m.ActiveRequests.Add(ctx, 1, op)
				m.ActiveRequests.Add(ctx, -1, op)
			},
			metric: "mmstts.active_requests",
			attrs:  map[string]string{"operation": "synthesize_and_align"},
			want:   1,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m, reader := newTestMetrics(t)
			tc.record(context.Background(), m)

			met := findMetric(collect(t, reader), tc.metric)
			if met == nil {
				t.Fatalf("metric %s not found", tc.metric)
			}
			got, ok := sumPoint(t, met, tc.attrs)
			if !ok {
				t.Fatalf("no data point with attributes %v", tc.attrs)
			}
			if got != tc.want {
				t.Errorf("value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestHistograms(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()
	lang := metric.WithAttributes(Attr("language", "heb"))

	m.SynthesisDuration.Record(ctx, 1.8, lang)
	m.TranscriptionDuration.Record(ctx, 0.9, lang)
	m.AlignmentDuration.Record(ctx, 0.002, lang)
	m.MatchRatio.Record(ctx, 0.75, lang)
	m.MatchRatio.Record(ctx, 1, lang)
	m.HTTPRequestDuration.Record(ctx, 0.05, metric.WithAttributes(Attr("path", "/speak_sync")))

	rm := collect(t, reader)
	tests := []struct {
		name  string
		count uint64
		sum   float64
	}{
		{"mmstts.synthesis.duration", 1, 1.8},
		{"mmstts.transcription.duration", 1, 0.9},
		{"mmstts.alignment.duration", 1, 0.002},
		{"mmstts.alignment.match_ratio", 2, 1.75},
		{"mmstts.http.request.duration", 1, 0.05},
	}
	for _, tc := range tests {
		met := findMetric(rm, tc.name)
		if met == nil {
			t.Errorf("%s not found", tc.name)
			continue
		}
		hist, ok := met.Data.(metricdata.Histogram[float64])
		if !ok || len(hist.DataPoints) != 1 {
			t.Errorf("%s: want one histogram data point, got %T", tc.name, met.Data)
			continue
		}
		dp := hist.DataPoints[0]
		if dp.Count != tc.count || dp.Sum != tc.sum {
			t.Errorf("%s: count=%d sum=%v, want count=%d sum=%v", tc.name, dp.Count, dp.Sum, tc.count, tc.sum)
		}
	}
}

func TestMatchRatioBucketsCoverUnitInterval(t *testing.T) {
	t.Parallel()
	if ratioBuckets[0] <= 0 || ratioBuckets[len(ratioBuckets)-1] != 1 {
		t.Errorf("ratio buckets %v should span (0, 1]", ratioBuckets)
	}
	for i := 1; i < len(latencyBuckets); i++ {
		if latencyBuckets[i] <= latencyBuckets[i-1] {
			t.Fatalf("latency buckets not increasing at %d: %v", i, latencyBuckets)
		}
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}
