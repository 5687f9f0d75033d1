// Attribute extraction for GenAI calls
// Every value is read in isolation: a panicking or unserialisable value drops only its own attribute
package genai

import (
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Extractor builds span attributes for calls of one request/response type.
type Extractor[REQ, RESP any] struct {
	getter   Getter[REQ, RESP]
	messages MessagesProvider[REQ, RESP]
	capture  CaptureOptions
	handle   func(error)
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*extractorConfig)

type extractorConfig struct {
	handle func(error)
}

// WithErrorHandler routes extraction faults to h instead of otel.Handle.
func WithErrorHandler(h func(error)) ExtractorOption {
	return func(c *extractorConfig) {
		c.handle = h
	}
}

// NewExtractor returns an Extractor. messages may be nil, in which case no
// content is ever recorded.
func NewExtractor[REQ, RESP any](getter Getter[REQ, RESP], messages MessagesProvider[REQ, RESP], capture CaptureOptions, opts ...ExtractorOption) *Extractor[REQ, RESP] {
	cfg := extractorConfig{handle: otel.Handle}
	for _, o := range opts {
		o(&cfg)
	}
	return &Extractor[REQ, RESP]{
		getter:   getter,
		messages: messages,
		capture:  capture.Normalize(),
		handle:   cfg.handle,
	}
}

// Capture returns the capture policy the extractor was built with.
func (e *Extractor[REQ, RESP]) Capture() CaptureOptions {
	return e.capture
}

// SpanName returns "{operation} {model}", or the operation alone when the
// model is unknown.
func (e *Extractor[REQ, RESP]) SpanName(inv Invocation[REQ]) string {
	b := e.builder()
	b.str(RequestModelKey, func() string { return e.getter.RequestModel(inv.Request) })
	if len(b.kvs) == 0 {
		return inv.Operation
	}
	return inv.Operation + " " + b.kvs[0].Value.AsString()
}

// OnStart returns the request attributes, plus request content when content
// capture is on with the span-attributes strategy.
func (e *Extractor[REQ, RESP]) OnStart(inv Invocation[REQ]) []attribute.KeyValue {
	b := e.builder()
	e.request(b, inv)
	if e.capture.OnSpan() {
		e.requestContent(b, inv.Request)
	}
	return b.kvs
}

// OnEnd returns the attributes for a finished call. A failed call yields only
// error.type; a successful one yields response attributes and, under the same
// gate as OnStart, the output messages.
func (e *Extractor[REQ, RESP]) OnEnd(inv Invocation[REQ], resp RESP, err error) []attribute.KeyValue {
	if err != nil {
		return []attribute.KeyValue{ErrorTypeKey.String(ErrorType(err))}
	}
	b := e.builder()
	e.response(b, inv.Request, resp)
	if e.capture.OnSpan() && e.messages != nil {
		b.content(OutputMessagesKey, func() (any, bool) {
			msgs := e.messages.OutputMessages(inv.Request, resp)
			return msgs, len(msgs) > 0
		})
	}
	return b.kvs
}

// EventAttributes returns the attributes of the inference-details event:
// request and response attributes, plus all message content when capture is on.
// resp is ignored when err is non-nil.
func (e *Extractor[REQ, RESP]) EventAttributes(inv Invocation[REQ], resp RESP, err error) []attribute.KeyValue {
	b := e.builder()
	b.kvs = append(b.kvs, EventNameKey.String(InferenceDetailsEvent))
	e.request(b, inv)
	if err != nil {
		b.kvs = append(b.kvs, ErrorTypeKey.String(ErrorType(err)))
	} else {
		e.response(b, inv.Request, resp)
	}
	if !e.capture.CaptureContent {
		return b.kvs
	}
	e.requestContent(b, inv.Request)
	if err == nil && e.messages != nil {
		b.content(OutputMessagesKey, func() (any, bool) {
			msgs := e.messages.OutputMessages(inv.Request, resp)
			return msgs, len(msgs) > 0
		})
	}
	return b.kvs
}

func (e *Extractor[REQ, RESP]) request(b *attrBuilder, inv Invocation[REQ]) {
	g, req := e.getter, inv.Request
	b.str(OperationNameKey, func() string { return inv.Operation })
	b.str(ProviderNameKey, func() string { return inv.Provider })
	b.str(SpanKindKey, func() string { return SpanKind(inv.Operation) })
	b.str(RequestModelKey, func() string { return g.RequestModel(req) })
	b.i64(RequestSeedKey, func() *int64 { return g.RequestSeed(req) })
	b.strs(RequestEncodingFormatsKey, func() []string { return g.RequestEncodingFormats(req) })
	b.f64(RequestFrequencyPenaltyKey, func() *float64 { return g.RequestFrequencyPenalty(req) })
	b.i64(RequestMaxTokensKey, func() *int64 { return g.RequestMaxTokens(req) })
	b.f64(RequestPresencePenaltyKey, func() *float64 { return g.RequestPresencePenalty(req) })
	b.strs(RequestStopSequencesKey, func() []string { return g.RequestStopSequences(req) })
	b.f64(RequestTemperatureKey, func() *float64 { return g.RequestTemperature(req) })
	b.f64(RequestTopKKey, func() *float64 { return g.RequestTopK(req) })
	b.f64(RequestTopPKey, func() *float64 { return g.RequestTopP(req) })
	b.i64(RequestChoiceCountKey, func() *int64 { return g.ChoiceCount(req) })
	b.str(OutputTypeKey, func() string { return g.OutputType(req) })
	b.str(ConversationIDKey, func() string { return g.ConversationID(req) })
}

func (e *Extractor[REQ, RESP]) response(b *attrBuilder, req REQ, resp RESP) {
	g := e.getter
	b.strs(ResponseFinishReasonsKey, func() []string { return g.ResponseFinishReasons(req, resp) })
	b.str(ResponseIDKey, func() string { return g.ResponseID(req, resp) })
	b.str(ResponseModelKey, func() string { return g.ResponseModel(req, resp) })

	var in, out *int64
	b.i64(UsageInputTokensKey, func() *int64 { in = g.UsageInputTokens(req, resp); return in })
	b.i64(UsageOutputTokensKey, func() *int64 { out = g.UsageOutputTokens(req, resp); return out })
	if in != nil && out != nil {
		b.kvs = append(b.kvs, UsageTotalTokensKey.Int64(*in+*out))
	}
}

func (e *Extractor[REQ, RESP]) requestContent(b *attrBuilder, req REQ) {
	m := e.messages
	if m == nil {
		return
	}
	b.content(SystemInstructionsKey, func() (any, bool) {
		parts := m.SystemInstructions(req)
		return parts, len(parts) > 0
	})
	b.content(InputMessagesKey, func() (any, bool) {
		msgs := m.InputMessages(req)
		return msgs, len(msgs) > 0
	})
	b.content(ToolDefinitionsKey, func() (any, bool) {
		defs := m.ToolDefinitions(req)
		return defs, len(defs) > 0
	})
}

func (e *Extractor[REQ, RESP]) builder() *attrBuilder {
	return &attrBuilder{handle: e.handle}
}

// attrBuilder accumulates attributes, isolating each accessor call.
type attrBuilder struct {
	kvs    []attribute.KeyValue
	handle func(error)
}

func (b *attrBuilder) guard(key attribute.Key, fn func() (attribute.KeyValue, bool)) {
	kv, ok := func() (kv attribute.KeyValue, ok bool) {
		defer func() {
			if r := recover(); r != nil {
				b.report(fmt.Errorf("genai: extracting %s: %v", key, r))
				ok = false
			}
		}()
		return fn()
	}()
	if ok {
		b.kvs = append(b.kvs, kv)
	}
}

func (b *attrBuilder) report(err error) {
	if b.handle != nil {
		b.handle(err)
	}
}

func (b *attrBuilder) str(key attribute.Key, fn func() string) {
	b.guard(key, func() (attribute.KeyValue, bool) {
		v := fn()
		return key.String(v), v != ""
	})
}

func (b *attrBuilder) strs(key attribute.Key, fn func() []string) {
	b.guard(key, func() (attribute.KeyValue, bool) {
		v := fn()
		return key.StringSlice(v), len(v) > 0
	})
}

func (b *attrBuilder) i64(key attribute.Key, fn func() *int64) {
	b.guard(key, func() (attribute.KeyValue, bool) {
		v := fn()
		if v == nil {
			return attribute.KeyValue{}, false
		}
		return key.Int64(*v), true
	})
}

func (b *attrBuilder) f64(key attribute.Key, fn func() *float64) {
	b.guard(key, func() (attribute.KeyValue, bool) {
		v := fn()
		if v == nil {
			return attribute.KeyValue{}, false
		}
		return key.Float64(*v), true
	})
}

func (b *attrBuilder) content(key attribute.Key, fn func() (any, bool)) {
	b.guard(key, func() (attribute.KeyValue, bool) {
		v, ok := fn()
		if !ok {
			return attribute.KeyValue{}, false
		}
		s, err := marshalContent(v)
		if err != nil {
			b.report(fmt.Errorf("genai: extracting %s: %w", key, err))
			return attribute.KeyValue{}, false
		}
		return key.String(s), true
	})
}

// Typed lets an error name its own error.type value.
type Typed interface {
	ErrorType() string
}

// ErrorType classifies err for the error.type attribute: the value of the
// first Typed error in the chain, otherwise the dynamic type of err.
func ErrorType(err error) string {
	var typed Typed
	if errors.As(err, &typed) {
		if t := typed.ErrorType(); t != "" {
			return t
		}
	}
	return fmt.Sprintf("%T", err)
}
