// Span lifecycle wrapper for publisher-returning calls
// Each subscription gets its own span, opened on subscribe and closed on the first terminal signal
package instrument

import (
	"context"
	"fmt"

	"github.com/andrewh/genaitrace/pkg/flux"
	"github.com/andrewh/genaitrace/pkg/genai"
	"github.com/andrewh/genaitrace/pkg/tracectx"
)

// Accumulator folds the elements of one subscription into the response the
// span reports on completion. ctx carries the subscription's span.
type Accumulator[T, RESP any] interface {
	Add(ctx context.Context, v T)
	Result(ctx context.Context) RESP
}

// TracePublisher decorates a publisher so every subscription is traced. It
// passes signals through unchanged, including the identical error value.
type TracePublisher[REQ, RESP, T any] struct {
	inst     *Instrumenter[REQ, RESP]
	inv      genai.Invocation[REQ]
	upstream flux.Publisher[T]
	newAcc   func() Accumulator[T, RESP]
}

var _ flux.Publisher[int] = (*TracePublisher[int, int, int])(nil)

// Trace wraps upstream. newAcc is called once per subscription; it may be nil
// when the call has no response worth reporting.
func Trace[REQ, RESP, T any](inst *Instrumenter[REQ, RESP], inv genai.Invocation[REQ], upstream flux.Publisher[T], newAcc func() Accumulator[T, RESP]) *TracePublisher[REQ, RESP, T] {
	return &TracePublisher[REQ, RESP, T]{inst: inst, inv: inv, upstream: upstream, newAcc: newAcc}
}

// Subscribe starts a span under ctx, subscribes upstream with the span's
// context and relays its signals. If instrumentation fails the upstream is
// subscribed directly.
func (p *TracePublisher[REQ, RESP, T]) Subscribe(ctx context.Context) flux.Subscription[T] {
	spanCtx, call := p.inst.Start(ctx, p.inv)
	if call == nil {
		return p.upstream.Subscribe(ctx)
	}

	up := p.subscribeUpstream(spanCtx, call)
	down := flux.NewPipe[T](func() {
		call.Cancel()
		up.Cancel()
	})
	go p.relay(call, p.accumulator(), up, down)
	return down
}

func (p *TracePublisher[REQ, RESP, T]) subscribeUpstream(ctx context.Context, call *Call[REQ, RESP]) flux.Subscription[T] {
	defer func() {
		if r := recover(); r != nil {
			call.Fail(fmt.Errorf("subscribe panic: %v", r))
			panic(r)
		}
	}()
	return p.upstream.Subscribe(ctx)
}

func (p *TracePublisher[REQ, RESP, T]) accumulator() (acc Accumulator[T, RESP]) {
	if p.newAcc == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			p.inst.tel.report(fmt.Errorf("instrument: creating accumulator: %v", r))
			acc = nil
		}
	}()
	return p.newAcc()
}

// relay is the per-subscription listener. Only it touches acc; the span is
// closed through the Call's CAS, so a racing downstream Cancel closes once.
func (p *TracePublisher[REQ, RESP, T]) relay(call *Call[REQ, RESP], acc Accumulator[T, RESP], up flux.Subscription[T], down *flux.Pipe[T]) {
	within := func(fn func(ctx context.Context)) {
		if err := tracectx.Within(call.Context(), call.Span(), fn); err != nil {
			p.inst.tel.report(err)
		}
	}

	for sig := range up.Signals() {
		switch sig.Kind {
		case flux.KindNext:
			if acc != nil {
				within(func(ctx context.Context) { acc.Add(ctx, sig.Value) })
			}
			down.Next(sig.Value)
		case flux.KindComplete:
			var resp RESP
			if acc != nil {
				within(func(ctx context.Context) { resp = acc.Result(ctx) })
			}
			call.Complete(resp)
			down.Terminate(sig)
			return
		case flux.KindError:
			call.Fail(sig.Err)
			down.Terminate(sig)
			return
		case flux.KindCancel:
			call.Cancel()
			down.Terminate(sig)
			return
		}
	}

	if down.Cancelled() {
		call.Cancel()
	} else {
		call.Fail(flux.ErrClosedWithoutTerminal)
	}
	down.Close()
}
