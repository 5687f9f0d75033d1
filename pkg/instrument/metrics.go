// MetricObserver records GenAI client operation duration and token usage.
// Uses the OTel Metrics API with the semantic-convention instrument names and bucket advice.
package instrument

import (
	"context"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/andrewh/genaitrace/pkg/genai"
)

var (
	durationBuckets = []float64{0.01, 0.02, 0.04, 0.08, 0.16, 0.32, 0.64, 1.28, 2.56, 5.12, 10.24, 20.48, 40.96, 81.92}
	tokenBuckets    = []float64{1, 4, 16, 64, 256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 67108864}
)

// MetricObserver records gen_ai.client.operation.duration and gen_ai.client.token.usage.
type MetricObserver struct {
	duration metric.Float64Histogram
	tokens   metric.Int64Histogram
}

// NewMetricObserver creates a MetricObserver backed by the given MeterProvider.
func NewMetricObserver(mp metric.MeterProvider) (*MetricObserver, error) {
	meter := mp.Meter(ScopeName)

	duration, err := meter.Float64Histogram("gen_ai.client.operation.duration",
		metric.WithUnit("s"),
		metric.WithDescription("GenAI operation duration"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	tokens, err := meter.Int64Histogram("gen_ai.client.token.usage",
		metric.WithUnit("{token}"),
		metric.WithDescription("Number of input and output tokens used"),
		metric.WithExplicitBucketBoundaries(tokenBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("creating token usage histogram: %w", err)
	}

	return &MetricObserver{duration: duration, tokens: tokens}, nil
}

// Observe records the call's duration and any token counts it reported.
func (m *MetricObserver) Observe(info CallInfo) {
	ctx := trace.ContextWithSpanContext(context.Background(), info.SpanContext)
	attrs := info.commonAttrs()

	m.duration.Record(ctx, info.Duration.Seconds(), metric.WithAttributes(attrs...))

	if n, ok := info.Int64(genai.UsageInputTokensKey); ok {
		m.recordTokens(ctx, n, attrs, genai.TokenTypeInput)
	}
	if n, ok := info.Int64(genai.UsageOutputTokensKey); ok {
		m.recordTokens(ctx, n, attrs, genai.TokenTypeOutput)
	}
}

func (m *MetricObserver) recordTokens(ctx context.Context, n int64, attrs []attribute.KeyValue, tokenType string) {
	kvs := slices.Concat(attrs, []attribute.KeyValue{genai.TokenTypeKey.String(tokenType)})
	m.tokens.Record(ctx, n, metric.WithAttributes(kvs...))
}
