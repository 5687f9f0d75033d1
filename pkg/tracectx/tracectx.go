// Scoped span activation and trace-context propagation across async boundaries
// Contexts are immutable, so leaving a scope never needs to restore shared state
package tracectx

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type propagationKey struct{}

// Within runs fn with span active in the context passed to it. A panic in fn
// is recovered and returned as an error; the caller's ctx is never modified.
func Within(ctx context.Context, span trace.Span, fn func(ctx context.Context)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tracectx: panic in scoped callback: %v", r)
		}
	}()
	fn(trace.ContextWithSpan(ctx, span))
	return nil
}

// WithPropagation marks ctx so that scheduler hops carry its span context
// across. Without the mark a hop starts from a detached context.
func WithPropagation(ctx context.Context, enabled bool) context.Context {
	return context.WithValue(ctx, propagationKey{}, enabled)
}

// PropagationEnabled reports whether ctx was marked by WithPropagation.
func PropagationEnabled(ctx context.Context) bool {
	enabled, _ := ctx.Value(propagationKey{}).(bool)
	return enabled
}

// Detach returns ctx without its span context. Values and cancellation are kept.
func Detach(ctx context.Context) context.Context {
	return trace.ContextWithSpanContext(ctx, trace.SpanContext{})
}

// Propagator returns the W3C trace-context and baggage propagator.
func Propagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
}

// Inject writes the span context and baggage of ctx into h.
func Inject(ctx context.Context, h http.Header) {
	propagatorOrDefault().Inject(ctx, propagation.HeaderCarrier(h))
}

// Extract returns ctx carrying the remote span context and baggage found in h.
func Extract(ctx context.Context, h http.Header) context.Context {
	return propagatorOrDefault().Extract(ctx, propagation.HeaderCarrier(h))
}

// propagatorOrDefault prefers the globally installed propagator; the OTel
// default global is a no-op composite with no fields.
func propagatorOrDefault() propagation.TextMapPropagator {
	p := otel.GetTextMapPropagator()
	if len(p.Fields()) == 0 {
		return Propagator()
	}
	return p
}
