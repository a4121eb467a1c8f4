package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// InitMetrics wires the OTel meter provider to the default prometheus
// registry; pkg/server exposes it at /metrics.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (*PrometheusMetrics, error) {
	if !cfg.Enabled {
		return &PrometheusMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)

	meter := meterProvider.Meter("loremaster")

	m := &PrometheusMetrics{}

	if m.queryDuration, err = meter.Float64Histogram(
		"loremaster_assistant_query_duration_seconds",
		metric.WithDescription("Assistant query duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create query duration histogram: %w", err)
	}

	if m.queryTotal, err = meter.Int64Counter(
		"loremaster_assistant_queries_total",
		metric.WithDescription("Total assistant queries"),
	); err != nil {
		return nil, fmt.Errorf("failed to create query counter: %w", err)
	}

	if m.queryErrors, err = meter.Int64Counter(
		"loremaster_assistant_query_errors_total",
		metric.WithDescription("Total assistant query errors"),
	); err != nil {
		return nil, fmt.Errorf("failed to create query errors counter: %w", err)
	}

	if m.cacheHits, err = meter.Int64Counter(
		"loremaster_assistant_cache_hits_total",
		metric.WithDescription("Total query result cache hits"),
	); err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}

	if m.llmDuration, err = meter.Float64Histogram(
		"loremaster_llm_request_duration_seconds",
		metric.WithDescription("LLM request duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm duration histogram: %w", err)
	}

	if m.llmInputTokens, err = meter.Int64Counter(
		"loremaster_llm_input_tokens_total",
		metric.WithDescription("Total LLM input tokens"),
	); err != nil {
		return nil, fmt.Errorf("failed to create input tokens counter: %w", err)
	}

	if m.llmOutputTokens, err = meter.Int64Counter(
		"loremaster_llm_output_tokens_total",
		metric.WithDescription("Total LLM output tokens"),
	); err != nil {
		return nil, fmt.Errorf("failed to create output tokens counter: %w", err)
	}

	if m.llmErrors, err = meter.Int64Counter(
		"loremaster_llm_errors_total",
		metric.WithDescription("Total LLM errors"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm errors counter: %w", err)
	}

	if m.vectorDuration, err = meter.Float64Histogram(
		"loremaster_vector_search_duration_seconds",
		metric.WithDescription("Vector search duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create vector duration histogram: %w", err)
	}

	if m.vectorErrors, err = meter.Int64Counter(
		"loremaster_vector_search_errors_total",
		metric.WithDescription("Total vector search errors"),
	); err != nil {
		return nil, fmt.Errorf("failed to create vector errors counter: %w", err)
	}

	if m.graphDuration, err = meter.Float64Histogram(
		"loremaster_graph_query_duration_seconds",
		metric.WithDescription("Graph query duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create graph duration histogram: %w", err)
	}

	if m.graphErrors, err = meter.Int64Counter(
		"loremaster_graph_query_errors_total",
		metric.WithDescription("Total graph query errors"),
	); err != nil {
		return nil, fmt.Errorf("failed to create graph errors counter: %w", err)
	}

	return m, nil
}
