package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	globalMetrics Metrics
	metricsMu     sync.RWMutex
)

// Metrics records service-level counters and latencies for the query
// pipeline and its backends.
type Metrics interface {
	RecordQuery(ctx context.Context, action string, duration time.Duration, cacheHit bool, err error)
	RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error)
	RecordVectorSearch(ctx context.Context, kind string, duration time.Duration, err error)
	RecordGraphQuery(ctx context.Context, duration time.Duration, err error)
}

type PrometheusMetrics struct {
	queryDuration metric.Float64Histogram
	queryTotal    metric.Int64Counter
	queryErrors   metric.Int64Counter
	cacheHits     metric.Int64Counter

	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrors       metric.Int64Counter

	vectorDuration metric.Float64Histogram
	vectorErrors   metric.Int64Counter

	graphDuration metric.Float64Histogram
	graphErrors   metric.Int64Counter
}

func (m *PrometheusMetrics) RecordQuery(ctx context.Context, action string, duration time.Duration, cacheHit bool, err error) {
	if m == nil || m.queryDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{attribute.String("action", action)}

	m.queryDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.queryTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	if cacheHit {
		m.cacheHits.Add(ctx, 1)
	}
	if err != nil {
		m.queryErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil || m.llmDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{attribute.String("model", model)}

	m.llmDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.llmInputTokens.Add(ctx, int64(inputTokens), metric.WithAttributes(attrs...))
	m.llmOutputTokens.Add(ctx, int64(outputTokens), metric.WithAttributes(attrs...))

	if err != nil {
		m.llmErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordVectorSearch(ctx context.Context, kind string, duration time.Duration, err error) {
	if m == nil || m.vectorDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{attribute.String("kind", kind)}

	m.vectorDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	if err != nil {
		m.vectorErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordGraphQuery(ctx context.Context, duration time.Duration, err error) {
	if m == nil || m.graphDuration == nil {
		return
	}

	m.graphDuration.Record(ctx, duration.Seconds())
	if err != nil {
		m.graphErrors.Add(ctx, 1)
	}
}

func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}
