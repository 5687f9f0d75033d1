// Accessors that read GenAI attribute values out of requests and responses
// ChatGetter and ChatMessages serve the ChatModel request and response types
package genai

import "strings"

// Invocation records one instrumented call: what it does, who serves it and
// the request it carries.
type Invocation[REQ any] struct {
	Operation string
	Provider  string
	Request   REQ
}

// Getter reads attribute values. Optional values are pointers or slices;
// nil, empty or "" means the attribute is omitted.
type Getter[REQ, RESP any] interface {
	RequestModel(req REQ) string
	RequestSeed(req REQ) *int64
	RequestEncodingFormats(req REQ) []string
	RequestFrequencyPenalty(req REQ) *float64
	RequestMaxTokens(req REQ) *int64
	RequestPresencePenalty(req REQ) *float64
	RequestStopSequences(req REQ) []string
	RequestTemperature(req REQ) *float64
	RequestTopK(req REQ) *float64
	RequestTopP(req REQ) *float64
	ChoiceCount(req REQ) *int64
	OutputType(req REQ) string
	ConversationID(req REQ) string

	ResponseFinishReasons(req REQ, resp RESP) []string
	ResponseID(req REQ, resp RESP) string
	ResponseModel(req REQ, resp RESP) string
	UsageInputTokens(req REQ, resp RESP) *int64
	UsageOutputTokens(req REQ, resp RESP) *int64
}

// MessagesProvider converts requests and responses into message content.
// Implementations return nil when there is nothing to record.
type MessagesProvider[REQ, RESP any] interface {
	InputMessages(req REQ) []InputMessage
	SystemInstructions(req REQ) []MessagePart
	ToolDefinitions(req REQ) []ToolDefinition
	OutputMessages(req REQ, resp RESP) []OutputMessage
}

// ChatGetter reads attributes from ChatModel requests and responses.
type ChatGetter struct{}

var _ Getter[*ChatRequest, *ChatResponse] = ChatGetter{}

func (ChatGetter) RequestModel(req *ChatRequest) string { return req.Options.Model }

func (ChatGetter) RequestSeed(req *ChatRequest) *int64 { return req.Options.Seed }

func (ChatGetter) RequestEncodingFormats(req *ChatRequest) []string {
	return req.Options.EncodingFormats
}

func (ChatGetter) RequestFrequencyPenalty(req *ChatRequest) *float64 {
	return req.Options.FrequencyPenalty
}

func (ChatGetter) RequestMaxTokens(req *ChatRequest) *int64 { return req.Options.MaxTokens }

func (ChatGetter) RequestPresencePenalty(req *ChatRequest) *float64 {
	return req.Options.PresencePenalty
}

func (ChatGetter) RequestStopSequences(req *ChatRequest) []string {
	return req.Options.StopSequences
}

func (ChatGetter) RequestTemperature(req *ChatRequest) *float64 { return req.Options.Temperature }

func (ChatGetter) RequestTopK(req *ChatRequest) *float64 { return req.Options.TopK }

func (ChatGetter) RequestTopP(req *ChatRequest) *float64 { return req.Options.TopP }

func (ChatGetter) ChoiceCount(req *ChatRequest) *int64 {
	if n := req.Options.ChoiceCount; n != nil && *n != 1 {
		return n
	}
	return nil
}

// OutputType maps the request's response format onto the well-known output types.
func (ChatGetter) OutputType(req *ChatRequest) string {
	switch f := strings.ToLower(req.Options.ResponseFormat); {
	case f == "":
		return ""
	case f == OutputTypeText:
		return OutputTypeText
	case strings.HasPrefix(f, "json"):
		return OutputTypeJSON
	case f == OutputTypeImage, f == OutputTypeSpeech:
		return f
	default:
		return ""
	}
}

func (ChatGetter) ConversationID(req *ChatRequest) string { return req.ConversationID }

func (ChatGetter) ResponseFinishReasons(_ *ChatRequest, resp *ChatResponse) []string {
	if resp == nil {
		return nil
	}
	var out []string
	for _, c := range resp.Choices {
		if c.FinishReason != "" {
			out = append(out, strings.ToLower(c.FinishReason))
		}
	}
	return out
}

func (ChatGetter) ResponseID(_ *ChatRequest, resp *ChatResponse) string {
	if resp == nil {
		return ""
	}
	return resp.ID
}

func (ChatGetter) ResponseModel(_ *ChatRequest, resp *ChatResponse) string {
	if resp == nil {
		return ""
	}
	return resp.Model
}

func (ChatGetter) UsageInputTokens(_ *ChatRequest, resp *ChatResponse) *int64 {
	if resp == nil || resp.Usage == nil {
		return nil
	}
	return &resp.Usage.InputTokens
}

func (ChatGetter) UsageOutputTokens(_ *ChatRequest, resp *ChatResponse) *int64 {
	if resp == nil || resp.Usage == nil {
		return nil
	}
	return &resp.Usage.OutputTokens
}

// ChatMessages converts ChatModel messages, truncating text at the capture limit.
type ChatMessages struct {
	Capture CaptureOptions
}

var _ MessagesProvider[*ChatRequest, *ChatResponse] = ChatMessages{}

// InputMessages returns every non-system message.
func (m ChatMessages) InputMessages(req *ChatRequest) []InputMessage {
	var out []InputMessage
	for _, msg := range req.Messages {
		if msg.Role == RoleSystem {
			continue
		}
		out = append(out, InputMessage{Role: msg.Role, Parts: m.parts(msg), Name: msg.Name})
	}
	return out
}

// SystemInstructions returns the text of system messages as parts.
func (m ChatMessages) SystemInstructions(req *ChatRequest) []MessagePart {
	var out []MessagePart
	for _, msg := range req.Messages {
		if msg.Role == RoleSystem && msg.Content != "" {
			out = append(out, TextPart(m.Capture.Truncate(msg.Content)))
		}
	}
	return out
}

func (ChatMessages) ToolDefinitions(req *ChatRequest) []ToolDefinition {
	return req.Tools
}

// OutputMessages returns one message per choice.
func (m ChatMessages) OutputMessages(_ *ChatRequest, resp *ChatResponse) []OutputMessage {
	if resp == nil {
		return nil
	}
	out := make([]OutputMessage, 0, len(resp.Choices))
	for _, c := range resp.Choices {
		role := c.Message.Role
		if role == "" {
			role = RoleAssistant
		}
		out = append(out, OutputMessage{
			Role:         role,
			Parts:        m.parts(c.Message),
			FinishReason: strings.ToLower(c.FinishReason),
		})
	}
	return out
}

func (m ChatMessages) parts(msg Message) []MessagePart {
	parts := []MessagePart{}
	if msg.Role == RoleTool {
		return append(parts, ToolCallResponsePart(msg.ToolCallID, m.Capture.Truncate(msg.Content)))
	}
	if msg.Content != "" {
		parts = append(parts, TextPart(m.Capture.Truncate(msg.Content)))
	}
	for _, tc := range msg.ToolCalls {
		parts = append(parts, ToolCallPart(tc.ID, tc.Name, tc.Arguments))
	}
	return parts
}
