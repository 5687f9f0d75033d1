// CallObserver interface for deriving metrics and logs from finished GenAI calls
// Observers run after the call's span has ended
package instrument

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/andrewh/genaitrace/pkg/genai"
)

// CallInfo describes one finished call.
type CallInfo struct {
	Name        string
	Start       time.Time
	Duration    time.Duration
	Outcome     string
	SpanContext trace.SpanContext
	// Attrs holds every attribute recorded on the span.
	Attrs []attribute.KeyValue
}

// CallObserver receives CallInfo after each call's span ends.
type CallObserver interface {
	Observe(info CallInfo)
}

// String returns the string value of key, or "".
func (c CallInfo) String(key attribute.Key) string {
	for _, kv := range c.Attrs {
		if kv.Key == key && kv.Value.Type() == attribute.STRING {
			return kv.Value.AsString()
		}
	}
	return ""
}

// Int64 returns the int value of key and whether it was recorded.
func (c CallInfo) Int64(key attribute.Key) (int64, bool) {
	for _, kv := range c.Attrs {
		if kv.Key == key && kv.Value.Type() == attribute.INT64 {
			return kv.Value.AsInt64(), true
		}
	}
	return 0, false
}

// IsError reports whether the call failed.
func (c CallInfo) IsError() bool {
	return c.Outcome == genai.OutcomeError
}

// commonAttrs are the attributes shared by GenAI client metrics and logs.
func (c CallInfo) commonAttrs() []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, 6)
	for _, key := range []attribute.Key{genai.OperationNameKey, genai.ProviderNameKey, genai.RequestModelKey, genai.ResponseModelKey, genai.ErrorTypeKey} {
		if v := c.String(key); v != "" {
			out = append(out, key.String(v))
		}
	}
	return append(out, genai.OutcomeKey.String(c.Outcome))
}
