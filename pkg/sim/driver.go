// Paced request loop over a chat model
// Issues scenario requests with bounded concurrency and reports run statistics
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/andrewh/genaitrace/pkg/flux"
	"github.com/andrewh/genaitrace/pkg/genai"
)

// DefaultRequests is used when neither the scenario nor the caller sets a count.
const DefaultRequests = 10

// Driver sends Requests scenario requests to Target, usually an instrumented
// wrapper around Source.
type Driver struct {
	Source      *Model
	Target      genai.ChatModel
	Tracer      trace.Tracer // parent span per request; nil for none
	Requests    int
	Concurrency int
	Rate        Rate
	Stream      bool
	Timeout     time.Duration // per request; zero for none
}

// Stats summarises a run.
type Stats struct {
	Requests       int64   `json:"requests"`
	Succeeded      int64   `json:"succeeded"`
	Failed         int64   `json:"failed"`
	Cancelled      int64   `json:"cancelled"`
	Timeouts       int64   `json:"timeouts"`
	Chunks         int64   `json:"chunks"`
	ElapsedMs      int64   `json:"elapsed_ms"`
	RequestsPerSec float64 `json:"requests_per_second"`
	ErrorRate      float64 `json:"error_rate"`
}

type counters struct {
	requests, succeeded, failed, cancelled, timeouts, chunks atomic.Int64
}

// Run issues requests until the count is reached or ctx is done, then waits
// for in-flight requests.
func (d *Driver) Run(ctx context.Context) (*Stats, error) {
	if d.Source == nil || d.Target == nil {
		return nil, fmt.Errorf("driver needs a source and a target model")
	}
	requests := d.Requests
	if requests <= 0 {
		requests = DefaultRequests
	}
	concurrency := max(d.Concurrency, 1)

	var (
		c     counters
		wg    sync.WaitGroup
		slots = make(chan struct{}, concurrency)
		start = time.Now()
		gap   = d.Rate.Interval()
	)

launch:
	for i := range requests {
		if i > 0 && gap > 0 {
			select {
			case <-ctx.Done():
				break launch
			case <-time.After(gap):
			}
		}
		if ctx.Err() != nil {
			break launch
		}
		select {
		case <-ctx.Done():
			break launch
		case slots <- struct{}{}:
		}
		wg.Go(func() {
			defer func() { <-slots }()
			d.one(ctx, i, &c)
		})
	}
	wg.Wait()

	return finalise(&c, time.Since(start)), nil
}

func (d *Driver) one(ctx context.Context, i int, c *counters) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	if d.Tracer != nil {
		var span trace.Span
		ctx, span = d.Tracer.Start(ctx, "scenario request", trace.WithAttributes(
			attribute.Int("sim.request.index", i),
			attribute.Bool("sim.request.stream", d.Stream),
		))
		defer span.End()
	}

	req := d.Source.Request(i, d.Stream)
	var err error
	if d.Stream {
		var chunks []*genai.ChatChunk
		chunks, err = flux.Collect(ctx, d.Target.Stream(ctx, req))
		c.chunks.Add(int64(len(chunks)))
	} else {
		_, err = d.Target.Call(ctx, req)
	}

	c.requests.Add(1)
	switch {
	case err == nil:
		c.succeeded.Add(1)
	case errors.Is(err, context.DeadlineExceeded):
		c.timeouts.Add(1)
	case errors.Is(err, context.Canceled), errors.Is(err, flux.ErrCancelled):
		c.cancelled.Add(1)
	default:
		c.failed.Add(1)
	}
}

func finalise(c *counters, elapsed time.Duration) *Stats {
	s := &Stats{
		Requests:  c.requests.Load(),
		Succeeded: c.succeeded.Load(),
		Failed:    c.failed.Load(),
		Cancelled: c.cancelled.Load(),
		Timeouts:  c.timeouts.Load(),
		Chunks:    c.chunks.Load(),
		ElapsedMs: elapsed.Milliseconds(),
	}
	if secs := elapsed.Seconds(); secs > 0 {
		s.RequestsPerSec = float64(s.Requests) / secs
	}
	if s.Requests > 0 {
		s.ErrorRate = float64(s.Failed) / float64(s.Requests)
	}
	return s
}
