// Simulated chat model that replays scenario prompts
// Streams replies in timed chunks and fails at the configured error rate
package sim

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/andrewh/genaitrace/pkg/flux"
	"github.com/andrewh/genaitrace/pkg/genai"
	"github.com/andrewh/genaitrace/pkg/tracectx"
)

// Error is a simulated provider failure.
type Error struct {
	Type string
}

func (e *Error) Error() string { return "simulated " + e.Type + " error" }

// ErrorType classifies the failure on spans.
func (e *Error) ErrorType() string { return e.Type }

// DefaultErrorTypes are drawn from when a scenario lists none.
var DefaultErrorTypes = []string{"rate_limit", "server_error", "timeout"}

// Model implements genai.ChatModel from a Scenario. It is safe for concurrent use.
type Model struct {
	sc        *Scenario
	errorRate float64
	errTypes  []string

	server trace.Tracer

	mu  sync.Mutex
	rng *rand.Rand
}

var _ genai.ChatModel = (*Model)(nil)

// New validates sc and builds a Model seeded with seed.
func New(sc *Scenario, seed uint64) (*Model, error) {
	if err := Validate(sc); err != nil {
		return nil, err
	}
	rate, err := parseErrorRate(sc.ErrorRate)
	if err != nil {
		return nil, err
	}
	errTypes := sc.Errors
	if len(errTypes) == 0 {
		errTypes = DefaultErrorTypes
	}
	return &Model{
		sc:        sc,
		errorRate: rate,
		errTypes:  errTypes,
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), //nolint:gosec // simulation, not security
	}, nil
}

// TraceServer makes the model record the provider side of each exchange as a
// server span, continuing the trace carried in the simulated request headers.
func (m *Model) TraceServer(tracer trace.Tracer) {
	m.server = tracer
}

// exchange simulates the HTTP hop to the provider. The client side injects
// ctx into request headers; the provider extracts its parent from them alone.
func (m *Model) exchange(ctx context.Context, stream bool) trace.Span {
	header := make(http.Header)
	tracectx.Inject(ctx, header)
	if m.server == nil {
		return nil
	}
	remote := tracectx.Extract(tracectx.Detach(ctx), header)
	_, span := m.server.Start(remote, "provider chat",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("sim.provider", m.sc.Provider),
			attribute.String("sim.model", m.sc.Model),
			attribute.Bool("sim.stream", stream),
		))
	return span
}

func endExchange(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Scenario returns the scenario the model was built from.
func (m *Model) Scenario() *Scenario {
	return m.sc
}

// Request builds a request for the i-th scenario prompt, wrapping around.
func (m *Model) Request(i int, stream bool) *genai.ChatRequest {
	p := m.sc.Prompts[i%len(m.sc.Prompts)]
	var msgs []genai.Message
	if p.System != "" {
		msgs = append(msgs, genai.Message{Role: genai.RoleSystem, Content: p.System})
	}
	msgs = append(msgs, genai.Message{Role: genai.RoleUser, Content: p.User})
	req := &genai.ChatRequest{
		Messages:       msgs,
		Options:        genai.ChatOptions{Model: m.sc.Model},
		ConversationID: uuid.NewString(),
	}
	if stream && m.sc.Streaming.Incremental != nil {
		req.Options.IncrementalOutput = genai.Ptr(*m.sc.Streaming.Incremental)
	}
	return req
}

// plan is everything random about one call, drawn up front.
type plan struct {
	id        string
	reply     string
	finish    string
	input     int64
	output    int64
	chunks    []string
	delays    []time.Duration
	failAt    int
	errorType string
}

func (m *Model) plan(req *genai.ChatRequest) plan {
	m.mu.Lock()
	defer m.mu.Unlock()

	prompt := m.match(req)
	reply, finish := prompt.Reply, "stop"
	if req != nil && req.Options.MaxTokens != nil {
		words := strings.Fields(reply)
		if limit := int(*req.Options.MaxTokens); limit >= 0 && len(words) > limit {
			reply, finish = strings.Join(words[:limit], " "), "length"
		}
	}

	p := plan{
		id:     "chatcmpl-" + uuid.NewString(),
		reply:  reply,
		finish: finish,
		input:  int64(countTokens(req)),
		output: int64(len(strings.Fields(reply))),
		chunks: chunk(reply, m.sc.Streaming.ChunkSize),
		failAt: -1,
	}
	p.delays = make([]time.Duration, len(p.chunks))
	for i := range p.delays {
		d := m.sc.Streaming.Interval
		if i == 0 {
			d = m.sc.Streaming.FirstChunk
		}
		p.delays[i] = d.Sample(m.rng)
	}
	if m.errorRate > 0 && m.rng.Float64() < m.errorRate {
		p.failAt = m.rng.IntN(len(p.chunks) + 1)
		p.errorType = m.errTypes[m.rng.IntN(len(m.errTypes))]
	}
	return p
}

// match finds the prompt whose user message equals the request's last user
// message, or draws one at random.
func (m *Model) match(req *genai.ChatRequest) Prompt {
	if req != nil {
		for i := len(req.Messages) - 1; i >= 0; i-- {
			msg := req.Messages[i]
			if msg.Role != genai.RoleUser {
				continue
			}
			for _, p := range m.sc.Prompts {
				if strings.EqualFold(strings.TrimSpace(p.User), strings.TrimSpace(msg.Content)) {
					return p
				}
			}
			break
		}
	}
	return m.sc.Prompts[m.rng.IntN(len(m.sc.Prompts))]
}

func (m *Model) responseModel() string {
	if m.sc.ResponseModel != "" {
		return m.sc.ResponseModel
	}
	return m.sc.Model
}

// Call waits for the whole reply and returns it.
func (m *Model) Call(ctx context.Context, req *genai.ChatRequest) (resp *genai.ChatResponse, err error) {
	span := m.exchange(ctx, false)
	defer func() { endExchange(span, err) }()

	p := m.plan(req)
	var total time.Duration
	for i, d := range p.delays {
		if i == p.failAt {
			break
		}
		total += d
	}
	if err := sleep(ctx, total); err != nil {
		return nil, err
	}
	if p.failAt >= 0 {
		return nil, &Error{Type: p.errorType}
	}
	return &genai.ChatResponse{
		ID:    p.id,
		Model: m.responseModel(),
		Choices: []genai.Choice{{
			Message:      genai.Message{Role: genai.RoleAssistant, Content: p.reply},
			FinishReason: p.finish,
		}},
		Usage: &genai.Usage{InputTokens: p.input, OutputTokens: p.output},
	}, nil
}

// Stream returns a cold publisher; each subscription plays a fresh plan.
func (m *Model) Stream(_ context.Context, req *genai.ChatRequest) flux.Publisher[*genai.ChatChunk] {
	incremental := req.Incremental()
	return flux.Create(func(ctx context.Context, emit func(*genai.ChatChunk) bool) (err error) {
		span := m.exchange(ctx, true)
		defer func() { endExchange(span, err) }()

		p := m.plan(req)
		var sofar strings.Builder
		for i, text := range p.chunks {
			if err := sleep(ctx, p.delays[i]); err != nil {
				return err
			}
			if i == p.failAt {
				return &Error{Type: p.errorType}
			}
			sofar.WriteString(text)
			content := text
			if !incremental {
				content = sofar.String()
			}
			c := &genai.ChatChunk{
				ID:      p.id,
				Model:   m.responseModel(),
				Choices: []genai.Choice{{Message: genai.Message{Role: genai.RoleAssistant, Content: content}}},
			}
			if i == len(p.chunks)-1 {
				c.Choices[0].FinishReason = p.finish
				c.Usage = &genai.Usage{InputTokens: p.input, OutputTokens: p.output}
			}
			if !emit(c) {
				return nil
			}
		}
		if p.failAt == len(p.chunks) {
			return &Error{Type: p.errorType}
		}
		return nil
	})
}

// chunk splits s into pieces of size runes; the last piece may be shorter.
func chunk(s string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	runes := []rune(s)
	if len(runes) == 0 {
		return []string{""}
	}
	out := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		out = append(out, string(runes[start:min(start+size, len(runes))]))
	}
	return out
}

// countTokens approximates prompt tokens as whitespace-separated words.
func countTokens(req *genai.ChatRequest) int {
	if req == nil {
		return 0
	}
	n := 0
	for _, msg := range req.Messages {
		n += len(strings.Fields(msg.Content))
	}
	return n
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("simulated call interrupted: %w", ctx.Err())
	}
}
