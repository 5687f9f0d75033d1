// ChatModel decorator
// Wraps Call and Stream with spans when the selector enables them
package instrument

import (
	"context"
	"errors"
	"fmt"

	"github.com/andrewh/genaitrace/pkg/flux"
	"github.com/andrewh/genaitrace/pkg/genai"
)

// ChatOption configures WrapChatModel.
type ChatOption func(*chatModel)

// WithProvider sets gen_ai.provider.name for every call.
func WithProvider(name string) ChatOption {
	return func(m *chatModel) { m.provider = name }
}

// WithSelector gates which methods are traced. Without one every method is.
func WithSelector(s *Selector) ChatOption {
	return func(m *chatModel) { m.selector = s }
}

type chatModel struct {
	model    genai.ChatModel
	inst     *Instrumenter[*genai.ChatRequest, *genai.ChatResponse]
	capture  genai.CaptureOptions
	provider string
	selector *Selector
}

var _ genai.ChatModel = (*chatModel)(nil)

// WrapChatModel returns a ChatModel that behaves like model and emits a span
// per Call and per Stream subscription.
func WrapChatModel(model genai.ChatModel, tel *Telemetry, opts ...ChatOption) genai.ChatModel {
	m := &chatModel{
		model:   model,
		inst:    NewInstrumenter(tel, genai.ChatGetter{}, genai.ChatMessages{Capture: tel.capture}),
		capture: tel.capture,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Unwrap returns the wrapped model.
func (m *chatModel) Unwrap() genai.ChatModel {
	return m.model
}

func (m *chatModel) invocation(req *genai.ChatRequest) genai.Invocation[*genai.ChatRequest] {
	return genai.Invocation[*genai.ChatRequest]{
		Operation: genai.OperationChat,
		Provider:  m.provider,
		Request:   req,
	}
}

func (m *chatModel) Call(ctx context.Context, req *genai.ChatRequest) (*genai.ChatResponse, error) {
	if !m.selector.Enabled(ChatModelCall) {
		return m.model.Call(ctx, req)
	}

	ctx, call := m.inst.Start(ctx, m.invocation(req))
	defer func() {
		if r := recover(); r != nil {
			call.Fail(fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	resp, err := m.model.Call(ctx, req)
	switch {
	case errors.Is(err, context.Canceled):
		call.Cancel()
	case err != nil:
		call.Fail(err)
	default:
		call.Complete(resp)
	}
	return resp, err
}

func (m *chatModel) Stream(ctx context.Context, req *genai.ChatRequest) flux.Publisher[*genai.ChatChunk] {
	upstream := m.model.Stream(ctx, req)
	if !m.selector.Enabled(ChatModelStream) {
		return upstream
	}
	incremental := req.Incremental()
	return Trace(m.inst, m.invocation(req), upstream, func() Accumulator[*genai.ChatChunk, *genai.ChatResponse] {
		return chunkAccumulator{genai.NewStreamBuffer(m.capture, incremental)}
	})
}

type chunkAccumulator struct {
	buf *genai.StreamBuffer
}

func (a chunkAccumulator) Add(_ context.Context, c *genai.ChatChunk) { a.buf.Add(c) }

func (a chunkAccumulator) Result(context.Context) *genai.ChatResponse { return a.buf.Response() }
