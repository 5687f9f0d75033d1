// Shared fixtures for instrument tests
// In-memory trace, log and metric pipelines plus a scriptable chat model
package instrument

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/andrewh/genaitrace/pkg/flux"
	"github.com/andrewh/genaitrace/pkg/genai"
)

type harness struct {
	exporter *tracetest.InMemoryExporter
	tp       *sdktrace.TracerProvider
	tel      *Telemetry
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := newSyncProvider(exporter)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	tel, err := New(append([]Option{WithTracerProvider(tp)}, opts...)...)
	require.NoError(t, err)
	return &harness{exporter: exporter, tp: tp, tel: tel}
}

func newSyncProvider(exporter *tracetest.InMemoryExporter) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
}

func (h *harness) spans() tracetest.SpanStubs {
	return h.exporter.GetSpans()
}

// spansNamed returns the ended spans called name.
func (h *harness) spansNamed(name string) tracetest.SpanStubs {
	var out tracetest.SpanStubs
	for _, s := range h.exporter.GetSpans() {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

func attrMap(kvs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value, len(kvs))
	for _, kv := range kvs {
		m[kv.Key] = kv.Value
	}
	return m
}

type memoryLogExporter struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (e *memoryLogExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range records {
		e.records = append(e.records, r.Clone())
	}
	return nil
}

func (e *memoryLogExporter) Shutdown(context.Context) error   { return nil }
func (e *memoryLogExporter) ForceFlush(context.Context) error { return nil }

func (e *memoryLogExporter) get() []sdklog.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]sdklog.Record, len(e.records))
	copy(out, e.records)
	return out
}

func newLoggerProvider(t *testing.T) (*sdklog.LoggerProvider, *memoryLogExporter) {
	t.Helper()
	exporter := &memoryLogExporter{}
	lp := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(exporter)))
	t.Cleanup(func() { _ = lp.Shutdown(context.Background()) })
	return lp, exporter
}

func drain[T any](t *testing.T, sub flux.Subscription[T]) []flux.Signal[T] {
	t.Helper()
	var out []flux.Signal[T]
	timeout := time.After(5 * time.Second)
	for {
		select {
		case sig, ok := <-sub.Signals():
			if !ok {
				return out
			}
			out = append(out, sig)
		case <-timeout:
			t.Fatal("subscription did not terminate")
			return out
		}
	}
}

// scriptedModel is a ChatModel whose behaviour each test supplies.
type scriptedModel struct {
	call   func(ctx context.Context, req *genai.ChatRequest) (*genai.ChatResponse, error)
	stream func(ctx context.Context, req *genai.ChatRequest) flux.Publisher[*genai.ChatChunk]
}

func (m scriptedModel) Call(ctx context.Context, req *genai.ChatRequest) (*genai.ChatResponse, error) {
	return m.call(ctx, req)
}

func (m scriptedModel) Stream(ctx context.Context, req *genai.ChatRequest) flux.Publisher[*genai.ChatChunk] {
	return m.stream(ctx, req)
}

func pingRequest() *genai.ChatRequest {
	return &genai.ChatRequest{
		Messages: []genai.Message{{Role: genai.RoleUser, Content: "ping"}},
		Options:  genai.ChatOptions{Model: "qwen-max"},
	}
}

func pongResponse() *genai.ChatResponse {
	return &genai.ChatResponse{
		ID:    "resp-1",
		Model: "qwen-max-0403",
		Choices: []genai.Choice{{
			Message:      genai.Message{Role: genai.RoleAssistant, Content: "pong"},
			FinishReason: "stop",
		}},
		Usage: &genai.Usage{InputTokens: 3, OutputTokens: 1},
	}
}

func deltaChunk(content, finish string) *genai.ChatChunk {
	return &genai.ChatChunk{
		ID:      "resp-1",
		Model:   "qwen-max-0403",
		Choices: []genai.Choice{{Message: genai.Message{Role: genai.RoleAssistant, Content: content}, FinishReason: finish}},
	}
}

// pongChunks streams "pong" in two deltas with usage on the last chunk.
func pongChunks() []*genai.ChatChunk {
	last := deltaChunk("ng", "stop")
	last.Usage = &genai.Usage{InputTokens: 3, OutputTokens: 1}
	return []*genai.ChatChunk{deltaChunk("po", ""), last}
}

func pongModel() scriptedModel {
	return scriptedModel{
		call: func(context.Context, *genai.ChatRequest) (*genai.ChatResponse, error) {
			return pongResponse(), nil
		},
		stream: func(context.Context, *genai.ChatRequest) flux.Publisher[*genai.ChatChunk] {
			return flux.Just(pongChunks()...)
		},
	}
}

type apiError struct {
	code string
}

func (e *apiError) Error() string     { return "api error: " + e.code }
func (e *apiError) ErrorType() string { return e.code }
