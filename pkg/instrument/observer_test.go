// Tests for the call observers and the inference-details event strategy
// Uses a ManualReader for metrics and an in-memory exporter for log records
package instrument

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/andrewh/genaitrace/pkg/flux"
	"github.com/andrewh/genaitrace/pkg/genai"
)

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

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

func newMeterProvider(t *testing.T) (*sdkmetric.MeterProvider, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return mp, reader
}

func logAttrs(r sdklog.Record) map[string]otellog.Value {
	out := map[string]otellog.Value{}
	r.WalkAttributes(func(kv otellog.KeyValue) bool {
		out[kv.Key] = kv.Value
		return true
	})
	return out
}

func okCall() CallInfo {
	return CallInfo{
		Name:     pingSpan,
		Start:    time.Now(),
		Duration: 250 * time.Millisecond,
		Outcome:  genai.OutcomeOK,
		Attrs: []attribute.KeyValue{
			genai.OperationNameKey.String(genai.OperationChat),
			genai.ProviderNameKey.String("dashscope"),
			genai.RequestModelKey.String("qwen-max"),
			genai.ResponseModelKey.String("qwen-max-0403"),
			genai.UsageInputTokensKey.Int64(12),
			genai.UsageOutputTokensKey.Int64(30),
			genai.InputMessagesKey.String(`[{"role":"user"}]`),
		},
	}
}

func TestMetricObserverDurationAndTokens(t *testing.T) {
	t.Parallel()
	mp, reader := newMeterProvider(t)
	obs, err := NewMetricObserver(mp)
	require.NoError(t, err)

	obs.Observe(okCall())
	obs.Observe(okCall())

	rm := collectMetrics(t, reader)
	m := findMetric(rm, "gen_ai.client.operation.duration")
	require.NotNil(t, m)
	assert.Equal(t, "s", m.Unit)
	hist, ok := m.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	dp := hist.DataPoints[0]
	assert.Equal(t, uint64(2), dp.Count)
	assert.InDelta(t, 0.5, dp.Sum, 1e-9)
	assert.Equal(t, durationBuckets, dp.Bounds)
	model, _ := dp.Attributes.Value(genai.RequestModelKey)
	assert.Equal(t, "qwen-max", model.AsString())
	_, hasContent := dp.Attributes.Value(genai.InputMessagesKey)
	assert.False(t, hasContent)

	m = findMetric(rm, "gen_ai.client.token.usage")
	require.NotNil(t, m)
	tokens, ok := m.Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, tokens.DataPoints, 2)
	byType := map[string]int64{}
	for _, dp := range tokens.DataPoints {
		v, _ := dp.Attributes.Value(genai.TokenTypeKey)
		byType[v.AsString()] = dp.Sum
	}
	assert.Equal(t, map[string]int64{genai.TokenTypeInput: 24, genai.TokenTypeOutput: 60}, byType)
}

func TestMetricObserverErrorWithoutTokens(t *testing.T) {
	t.Parallel()
	mp, reader := newMeterProvider(t)
	obs, err := NewMetricObserver(mp)
	require.NoError(t, err)

	obs.Observe(CallInfo{
		Name:     pingSpan,
		Duration: time.Second,
		Outcome:  genai.OutcomeError,
		Attrs:    []attribute.KeyValue{genai.ErrorTypeKey.String("timeout")},
	})

	rm := collectMetrics(t, reader)
	m := findMetric(rm, "gen_ai.client.operation.duration")
	require.NotNil(t, m)
	dp := m.Data.(metricdata.Histogram[float64]).DataPoints[0]
	v, ok := dp.Attributes.Value(genai.ErrorTypeKey)
	require.True(t, ok)
	assert.Equal(t, "timeout", v.AsString())
	assert.Nil(t, findMetric(rm, "gen_ai.client.token.usage"))
}

func TestTelemetryMetricsFromWrappedCalls(t *testing.T) {
	t.Parallel()
	mp, reader := newMeterProvider(t)
	h := newHarness(t, WithMeterProvider(mp))
	model := WrapChatModel(pongModel(), h.tel, WithProvider("dashscope"))

	_, err := model.Call(context.Background(), pingRequest())
	require.NoError(t, err)
	_, err = flux.Collect(context.Background(), model.Stream(context.Background(), pingRequest()))
	require.NoError(t, err)

	rm := collectMetrics(t, reader)
	m := findMetric(rm, "gen_ai.client.operation.duration")
	require.NotNil(t, m)
	hist := m.Data.(metricdata.Histogram[float64])
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(2), hist.DataPoints[0].Count)
}

func TestLogObserverFailedCall(t *testing.T) {
	t.Parallel()
	lp, exporter := newLoggerProvider(t)
	obs := NewLogObserver(lp, 0)

	info := okCall()
	info.Outcome = genai.OutcomeError
	info.Attrs = append(info.Attrs, genai.ErrorTypeKey.String("rate_limit"))
	obs.Observe(info)
	obs.Observe(okCall())

	records := exporter.get()
	require.Len(t, records, 1)
	r := records[0]
	assert.Equal(t, otellog.SeverityError, r.Severity())
	assert.Equal(t, "chat qwen-max failed: rate_limit", r.Body().AsString())
	attrs := logAttrs(r)
	assert.Equal(t, "rate_limit", attrs[string(genai.ErrorTypeKey)].AsString())
	assert.Equal(t, genai.OutcomeError, attrs[string(genai.OutcomeKey)].AsString())
}

func TestLogObserverSlowCall(t *testing.T) {
	t.Parallel()
	lp, exporter := newLoggerProvider(t)
	obs := NewLogObserver(lp, 100*time.Millisecond)

	obs.Observe(okCall())
	fast := okCall()
	fast.Duration = 10 * time.Millisecond
	obs.Observe(fast)

	records := exporter.get()
	require.Len(t, records, 1)
	assert.Equal(t, otellog.SeverityWarn, records[0].Severity())
	assert.Contains(t, records[0].Body().AsString(), "slow call chat qwen-max")
}

func TestEventStrategyEmitsInferenceDetails(t *testing.T) {
	t.Parallel()
	lp, exporter := newLoggerProvider(t)
	h := newHarness(t,
		WithCapture(genai.CaptureOptions{CaptureContent: true, Strategy: genai.StrategyEvent}),
		WithLoggerProvider(lp),
	)
	model := WrapChatModel(pongModel(), h.tel)

	_, err := flux.Collect(context.Background(), model.Stream(context.Background(), pingRequest()))
	require.NoError(t, err)

	spans := h.spans()
	require.Len(t, spans, 1)
	requireNoKeys(t, spans[0], genai.ContentKeys)

	records := exporter.get()
	require.Len(t, records, 1)
	r := records[0]
	assert.Equal(t, genai.InferenceDetailsEvent, r.EventName())
	assert.Equal(t, spans[0].SpanContext.TraceID(), r.TraceID())
	assert.Equal(t, spans[0].SpanContext.SpanID(), r.SpanID())
	attrs := logAttrs(r)
	assert.Contains(t, attrs[string(genai.InputMessagesKey)].AsString(), "ping")
	assert.Contains(t, attrs[string(genai.OutputMessagesKey)].AsString(), "pong")
	assert.Equal(t, "qwen-max", attrs[string(genai.RequestModelKey)].AsString())
}

func TestEventStrategyCancelledCall(t *testing.T) {
	t.Parallel()
	lp, exporter := newLoggerProvider(t)
	h := newHarness(t,
		WithCapture(genai.CaptureOptions{Strategy: genai.StrategyEvent}),
		WithLoggerProvider(lp),
	)
	model := WrapChatModel(scriptedModel{
		stream: func(context.Context, *genai.ChatRequest) flux.Publisher[*genai.ChatChunk] {
			return flux.Create(func(ctx context.Context, _ func(*genai.ChatChunk) bool) error {
				<-ctx.Done()
				return nil
			})
		},
	}, h.tel)

	sub := model.Stream(context.Background(), pingRequest()).Subscribe(context.Background())
	sub.Cancel()
	drain(t, sub)

	var events []sdklog.Record
	for _, r := range exporter.get() {
		if r.EventName() == genai.InferenceDetailsEvent {
			events = append(events, r)
		}
	}
	require.Len(t, events, 1)
	attrs := logAttrs(events[0])
	assert.Equal(t, genai.OutcomeCancelled, attrs[string(genai.ErrorTypeKey)].AsString())
	assert.NotContains(t, attrs, string(genai.InputMessagesKey))
}

type panickyObserver struct{}

func (panickyObserver) Observe(CallInfo) { panic("observer exploded") }

type recordingObserver struct {
	infos chan CallInfo
}

func (r recordingObserver) Observe(info CallInfo) { r.infos <- info }

func TestObserverPanicIsContained(t *testing.T) {
	t.Parallel()
	rec := recordingObserver{infos: make(chan CallInfo, 1)}
	h := newHarness(t, WithObservers(panickyObserver{}, rec))
	model := WrapChatModel(pongModel(), h.tel)

	resp, err := model.Call(context.Background(), pingRequest())
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Text())

	info := <-rec.infos
	assert.Equal(t, pingSpan, info.Name)
	assert.Equal(t, genai.OutcomeOK, info.Outcome)
	assert.Equal(t, h.spans()[0].SpanContext, info.SpanContext)
	n, ok := info.Int64(genai.UsageOutputTokensKey)
	assert.True(t, ok)
	assert.Equal(t, int64(1), n)
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()
	tel, err := New()
	require.NoError(t, err)
	assert.Equal(t, genai.DefaultCaptureOptions(), tel.Capture())
}
