// Span lifecycle for a single GenAI call
// A Call moves idle -> started -> completed | errored | cancelled and ends its span exactly once
package instrument

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/andrewh/genaitrace/pkg/genai"
)

// ErrCancelled classifies a cancelled call on the inference-details event.
var ErrCancelled error = cancelledError{}

type cancelledError struct{}

func (cancelledError) Error() string     { return "call cancelled" }
func (cancelledError) ErrorType() string { return genai.OutcomeCancelled }

// State is a call's lifecycle state.
type State uint32

const (
	StateIdle State = iota
	StateStarted
	StateCompleted
	StateErrored
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarted:
		return "started"
	case StateCompleted:
		return "completed"
	case StateErrored:
		return "errored"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}

// Instrumenter starts and ends spans for calls of one request/response type.
type Instrumenter[REQ, RESP any] struct {
	tel       *Telemetry
	extractor *genai.Extractor[REQ, RESP]
}

// NewInstrumenter returns an Instrumenter. messages may be nil to never record content.
func NewInstrumenter[REQ, RESP any](tel *Telemetry, getter genai.Getter[REQ, RESP], messages genai.MessagesProvider[REQ, RESP]) *Instrumenter[REQ, RESP] {
	return &Instrumenter[REQ, RESP]{
		tel:       tel,
		extractor: genai.NewExtractor(getter, messages, tel.capture, genai.WithErrorHandler(tel.report)),
	}
}

// Call is the span of one call. Its methods are safe for concurrent use and
// no-ops on a nil Call.
type Call[REQ, RESP any] struct {
	inst  *Instrumenter[REQ, RESP]
	state atomic.Uint32
	ctx   context.Context
	span  trace.Span
	inv   genai.Invocation[REQ]
	name  string
	start time.Time
	attrs []attribute.KeyValue
}

// Start opens a client span for inv under ctx and returns the span's context.
// If the span cannot be started it returns ctx and a nil Call.
func (in *Instrumenter[REQ, RESP]) Start(ctx context.Context, inv genai.Invocation[REQ]) (_ context.Context, call *Call[REQ, RESP]) {
	defer func() {
		if r := recover(); r != nil {
			in.tel.report(fmt.Errorf("instrument: starting span: %v", r))
			call = nil
		}
	}()

	attrs := in.extractor.OnStart(inv)
	name := in.extractor.SpanName(inv)
	start := time.Now()
	spanCtx, span := in.tel.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithTimestamp(start),
		trace.WithAttributes(attrs...),
	)
	c := &Call[REQ, RESP]{
		inst:  in,
		ctx:   spanCtx,
		span:  span,
		inv:   inv,
		name:  name,
		start: start,
		attrs: attrs,
	}
	c.state.Store(uint32(StateStarted))
	return spanCtx, c
}

// Context returns the context carrying the call's span.
func (c *Call[REQ, RESP]) Context() context.Context {
	return c.ctx
}

// Span returns the call's span.
func (c *Call[REQ, RESP]) Span() trace.Span {
	return c.span
}

// State returns the current lifecycle state.
func (c *Call[REQ, RESP]) State() State {
	if c == nil {
		return StateIdle
	}
	return State(c.state.Load())
}

// Complete ends the span with Ok status and the response attributes. It
// reports whether this call ended the span.
func (c *Call[REQ, RESP]) Complete(resp RESP) bool {
	return c.finish(StateCompleted, resp, nil)
}

// Fail ends the span with Error status. err is recorded as is.
func (c *Call[REQ, RESP]) Fail(err error) bool {
	if err == nil {
		err = errors.New("unknown error")
	}
	var zero RESP
	return c.finish(StateErrored, zero, err)
}

// Cancel ends the span as cancelled: status stays Unset and no response
// attributes are recorded.
func (c *Call[REQ, RESP]) Cancel() bool {
	var zero RESP
	return c.finish(StateCancelled, zero, nil)
}

func (c *Call[REQ, RESP]) finish(to State, resp RESP, err error) (closed bool) {
	if c == nil || !c.state.CompareAndSwap(uint32(StateStarted), uint32(to)) {
		return false
	}
	tel := c.inst.tel
	defer func() {
		if r := recover(); r != nil {
			tel.report(fmt.Errorf("instrument: ending span: %v", r))
		}
	}()
	end := time.Now()
	outcome := genai.OutcomeOK
	var endAttrs []attribute.KeyValue

	func() {
		defer func() {
			if r := recover(); r != nil {
				tel.report(fmt.Errorf("instrument: closing span: %v", r))
			}
		}()
		ext := c.inst.extractor
		switch to {
		case StateCompleted:
			endAttrs = ext.OnEnd(c.inv, resp, nil)
			c.span.SetAttributes(endAttrs...)
			c.span.SetStatus(codes.Ok, "")
		case StateErrored:
			outcome = genai.OutcomeError
			endAttrs = ext.OnEnd(c.inv, resp, err)
			c.span.SetAttributes(endAttrs...)
			c.span.RecordError(err, trace.WithTimestamp(end), trace.WithAttributes(endAttrs...))
			c.span.SetStatus(codes.Error, err.Error())
		case StateCancelled:
			outcome = genai.OutcomeCancelled
			c.span.AddEvent(genai.CancelEvent, trace.WithTimestamp(end))
		}
		c.span.SetAttributes(genai.OutcomeKey.String(outcome))

		if ext.Capture().Strategy == genai.StrategyEvent {
			eventErr := err
			if to == StateCancelled {
				eventErr = ErrCancelled
			}
			emitInferenceDetails(c.ctx, tel.events, end, ext.EventAttributes(c.inv, resp, eventErr))
		}
	}()

	c.span.End(trace.WithTimestamp(end))

	tel.observe(CallInfo{
		Name:        c.name,
		Start:       c.start,
		Duration:    end.Sub(c.start),
		Outcome:     outcome,
		SpanContext: c.span.SpanContext(),
		Attrs:       slices.Concat(c.attrs, endAttrs, []attribute.KeyValue{genai.OutcomeKey.String(outcome)}),
	})
	return true
}
