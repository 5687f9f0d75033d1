// Message shapes recorded as gen_ai.*.messages content
// JSON follows the GenAI semantic-convention input/output message schema
package genai

import (
	"encoding/json"
	"fmt"
)

// Part types.
const (
	PartText             = "text"
	PartToolCall         = "tool_call"
	PartToolCallResponse = "tool_call_response"
)

// MessagePart is one typed piece of a message.
type MessagePart struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments any    `json:"arguments,omitempty"`
	Response  any    `json:"response,omitempty"`
}

// TextPart returns a text part.
func TextPart(content string) MessagePart {
	return MessagePart{Type: PartText, Content: content}
}

// ToolCallPart returns a tool-call request part. JSON arguments are embedded
// as objects, anything else as a string.
func ToolCallPart(id, name, arguments string) MessagePart {
	return MessagePart{Type: PartToolCall, ID: id, Name: name, Arguments: jsonOrString(arguments)}
}

// ToolCallResponsePart returns the result of a tool call.
func ToolCallResponsePart(id, response string) MessagePart {
	return MessagePart{Type: PartToolCallResponse, ID: id, Response: jsonOrString(response)}
}

// GenericPart returns a part of a type this package does not model.
func GenericPart(typ, content string) MessagePart {
	return MessagePart{Type: typ, Content: content}
}

func jsonOrString(s string) any {
	if s == "" {
		return nil
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	return s
}

// InputMessage is a message sent to the model.
type InputMessage struct {
	Role  Role          `json:"role"`
	Parts []MessagePart `json:"parts"`
	Name  string        `json:"name,omitempty"`
}

// OutputMessage is a message produced by the model.
type OutputMessage struct {
	Role         Role          `json:"role"`
	Parts        []MessagePart `json:"parts"`
	FinishReason string        `json:"finish_reason"`
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// MergeOutput appends the text of chunk to the first text part of msg and
// takes the chunk's finish reason when it has one.
func MergeOutput(msg, chunk OutputMessage) OutputMessage {
	var delta string
	for _, p := range chunk.Parts {
		if p.Type == PartText {
			delta += p.Content
		}
	}
	merged := false
	parts := make([]MessagePart, len(msg.Parts))
	copy(parts, msg.Parts)
	for i, p := range parts {
		if p.Type == PartText {
			parts[i].Content += delta
			merged = true
			break
		}
	}
	if !merged && delta != "" {
		parts = append(parts, TextPart(delta))
	}
	msg.Parts = parts
	if chunk.FinishReason != "" {
		msg.FinishReason = chunk.FinishReason
	}
	if msg.Role == "" {
		msg.Role = chunk.Role
	}
	return msg
}

// marshalContent encodes v as a JSON string attribute value.
func marshalContent(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshalling message content: %w", err)
	}
	return string(b), nil
}
