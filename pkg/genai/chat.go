// Chat model client surface that instrumentation wraps
// Request, response and streaming chunk shapes shared by real and simulated models
package genai

import (
	"context"

	"github.com/andrewh/genaitrace/pkg/flux"
)

// ChatModel is a chat-completion client. Call blocks for a full response;
// Stream returns a cold publisher of chunks, one upstream request per subscription.
type ChatModel interface {
	Call(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	Stream(ctx context.Context, req *ChatRequest) flux.Publisher[*ChatChunk]
}

// Role of a chat message author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID        string
	Type      string
	Name      string
	Arguments string
}

// Message is one conversation turn.
type Message struct {
	Role       Role
	Content    string
	Name       string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ChatOptions are the sampling and shaping parameters of a request.
type ChatOptions struct {
	Model            string
	Seed             *int64
	MaxTokens        *int64
	Temperature      *float64
	TopK             *float64
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
	StopSequences    []string
	ChoiceCount      *int64
	ResponseFormat   string
	EncodingFormats  []string
	// IncrementalOutput means stream chunks carry deltas rather than the full content so far.
	IncrementalOutput *bool
}

// ChatRequest is a chat-completion request.
type ChatRequest struct {
	Messages       []Message
	Tools          []ToolDefinition
	Options        ChatOptions
	ConversationID string
}

// Incremental reports whether streamed chunks carry deltas. Defaults to true.
func (r *ChatRequest) Incremental() bool {
	if r == nil || r.Options.IncrementalOutput == nil {
		return true
	}
	return *r.Options.IncrementalOutput
}

// Usage counts tokens consumed by a call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Choice is one candidate completion.
type Choice struct {
	Index        int
	Message      Message
	FinishReason string
}

// ChatResponse is a complete chat-completion result.
type ChatResponse struct {
	ID      string
	Model   string
	Choices []Choice
	Usage   *Usage
}

// ChatChunk is one element of a streamed response. Choices carry deltas or
// full content depending on the request's incremental setting.
type ChatChunk struct {
	ID      string
	Model   string
	Choices []Choice
	Usage   *Usage
}

// Text returns the content of the first choice, or "".
func (r *ChatResponse) Text() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// Ptr returns a pointer to v, for optional request fields.
func Ptr[T any](v T) *T {
	return &v
}
