package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/andrewh/genaitrace/pkg/instrument"
)

func newDriver(t *testing.T, sc *Scenario) *Driver {
	t.Helper()
	m, err := New(sc, 7)
	require.NoError(t, err)
	return &Driver{Source: m, Target: m, Stream: true}
}

func TestDriverRunsAllRequests(t *testing.T) {
	t.Parallel()
	d := newDriver(t, pingScenario())
	d.Requests, d.Concurrency = 8, 3

	stats, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(8), stats.Requests)
	assert.Equal(t, int64(8), stats.Succeeded)
	// "pong" is 2 chunks and "cold and clear" is 7 at chunk size 2.
	assert.Equal(t, int64(4*2+4*7), stats.Chunks)
	assert.Zero(t, stats.ErrorRate)
}

func TestDriverDefaultsRequestCount(t *testing.T) {
	t.Parallel()
	d := newDriver(t, pingScenario())
	d.Stream = false

	stats, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultRequests), stats.Requests)
	assert.Zero(t, stats.Chunks)
}

func TestDriverCountsFailures(t *testing.T) {
	t.Parallel()
	sc := pingScenario()
	sc.ErrorRate = "100%"
	d := newDriver(t, sc)
	d.Requests = 5

	stats, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.Failed)
	assert.InDelta(t, 1.0, stats.ErrorRate, 1e-9)
}

func TestDriverTimeouts(t *testing.T) {
	t.Parallel()
	for _, stream := range []bool{true, false} {
		sc := pingScenario()
		sc.Streaming.FirstChunk = Distribution{Mean: time.Second}
		d := newDriver(t, sc)
		d.Requests, d.Concurrency, d.Stream = 3, 3, stream
		d.Timeout = 10 * time.Millisecond

		stats, err := d.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(3), stats.Timeouts, "stream=%v", stream)
		assert.Zero(t, stats.Succeeded)
	}
}

func TestDriverStopsWhenCancelled(t *testing.T) {
	t.Parallel()
	d := newDriver(t, pingScenario())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := d.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Requests)
}

func TestDriverCancelledWithFreeSlotsLaunchesNothing(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for range 200 {
		d := newDriver(t, pingScenario())
		d.Requests, d.Concurrency = 4, 4
		stats, err := d.Run(ctx)
		require.NoError(t, err)
		require.Zero(t, stats.Requests)
	}
}

func TestDriverPacesRequests(t *testing.T) {
	t.Parallel()
	d := newDriver(t, pingScenario())
	rate, err := ParseRate("100/s")
	require.NoError(t, err)
	d.Requests, d.Rate = 4, rate

	stats, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.ElapsedMs, int64(30))
}

func TestDriverRequiresModels(t *testing.T) {
	t.Parallel()
	_, err := (&Driver{}).Run(context.Background())
	assert.Error(t, err)
}

func TestDriverInstrumentedSpansNestUnderRequests(t *testing.T) {
	t.Parallel()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	tel, err := instrument.New(instrument.WithTracerProvider(tp))
	require.NoError(t, err)

	d := newDriver(t, pingScenario())
	d.Target = instrument.WrapChatModel(d.Source, tel, instrument.WithProvider("dashscope"))
	d.Tracer = tp.Tracer("driver")
	d.Requests, d.Concurrency = 6, 6

	_, err = d.Run(context.Background())
	require.NoError(t, err)

	parents := map[string]tracetest.SpanStub{}
	var chats []tracetest.SpanStub
	for _, s := range exporter.GetSpans() {
		switch s.Name {
		case "scenario request":
			parents[s.SpanContext.SpanID().String()] = s
		case "chat qwen-max":
			chats = append(chats, s)
		}
	}
	require.Len(t, parents, 6)
	require.Len(t, chats, 6)
	for _, c := range chats {
		p, ok := parents[c.Parent.SpanID().String()]
		require.True(t, ok, "chat span %s has no request parent", c.SpanContext.SpanID())
		assert.Equal(t, p.SpanContext.TraceID(), c.SpanContext.TraceID())
	}
}
