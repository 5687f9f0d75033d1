// Accumulates streamed chat chunks into the response the span reports
// Content is buffered only under content capture and is cut at the capture limit
package genai

import (
	"slices"
	"strings"
	"unicode/utf8"
)

// StreamBuffer merges the chunks of one streamed call. It is not safe for
// concurrent use; a subscription delivers chunks one at a time.
type StreamBuffer struct {
	capture     CaptureOptions
	incremental bool

	id      string
	model   string
	input   int64
	output  int64
	choices map[int]*choiceBuffer
}

// NewStreamBuffer returns a buffer. incremental means each chunk carries a
// delta; otherwise each chunk carries the full content so far.
func NewStreamBuffer(capture CaptureOptions, incremental bool) *StreamBuffer {
	return &StreamBuffer{
		capture:     capture.Normalize(),
		incremental: incremental,
		choices:     make(map[int]*choiceBuffer),
	}
}

// Add merges one chunk.
func (b *StreamBuffer) Add(c *ChatChunk) {
	if c == nil {
		return
	}
	if c.ID != "" {
		b.id = c.ID
	}
	if c.Model != "" {
		b.model = c.Model
	}
	if c.Usage != nil {
		if c.Usage.InputTokens > 0 {
			b.input = c.Usage.InputTokens
		}
		if c.Usage.OutputTokens > 0 {
			b.output = c.Usage.OutputTokens
		}
	}
	for _, choice := range c.Choices {
		cb, ok := b.choices[choice.Index]
		if !ok {
			cb = &choiceBuffer{}
			b.choices[choice.Index] = cb
		}
		b.append(cb, choice)
	}
}

// Response returns the merged response, choices ordered by index.
func (b *StreamBuffer) Response() *ChatResponse {
	resp := &ChatResponse{ID: b.id, Model: b.model}
	if b.input > 0 || b.output > 0 {
		resp.Usage = &Usage{InputTokens: b.input, OutputTokens: b.output}
	}
	indexes := make([]int, 0, len(b.choices))
	for i := range b.choices {
		indexes = append(indexes, i)
	}
	slices.Sort(indexes)
	for _, i := range indexes {
		resp.Choices = append(resp.Choices, b.choices[i].choice(i))
	}
	return resp
}

type toolCallBuffer struct {
	id        string
	typ       string
	name      string
	arguments strings.Builder
}

type choiceBuffer struct {
	finishReason string
	role         Role
	name         string
	toolCallID   string
	content      strings.Builder
	truncated    bool
	toolCalls    []*toolCallBuffer
}

func (b *StreamBuffer) append(cb *choiceBuffer, c Choice) {
	msg := c.Message
	if b.capture.CaptureContent && msg.Content != "" {
		if b.incremental {
			b.appendDelta(cb, msg.Content)
		} else {
			cb.content.Reset()
			cb.content.WriteString(b.capture.Truncate(msg.Content))
		}
	}
	for i, tc := range msg.ToolCalls {
		for len(cb.toolCalls) <= i {
			cb.toolCalls = append(cb.toolCalls, nil)
		}
		tb := cb.toolCalls[i]
		if tb == nil {
			tb = &toolCallBuffer{id: tc.ID}
			cb.toolCalls[i] = tb
		}
		if tb.id == "" {
			tb.id = tc.ID
		}
		if tc.Type != "" {
			tb.typ = tc.Type
		}
		if tc.Name != "" {
			tb.name = tc.Name
		}
		if b.capture.CaptureContent {
			tb.arguments.WriteString(tc.Arguments)
		}
	}
	if msg.Role != "" {
		cb.role = msg.Role
	}
	if msg.Name != "" {
		cb.name = msg.Name
	}
	if msg.ToolCallID != "" {
		cb.toolCallID = msg.ToolCallID
	}
	if c.FinishReason != "" {
		cb.finishReason = c.FinishReason
	}
}

func (b *StreamBuffer) appendDelta(cb *choiceBuffer, delta string) {
	if cb.truncated {
		return
	}
	room := b.capture.MaxContentLength - cb.content.Len()
	if len(delta) <= room {
		cb.content.WriteString(delta)
		return
	}
	cb.content.WriteString(cutRunes(delta, room))
	cb.content.WriteString(TruncatedMarker)
	cb.truncated = true
}

// cutRunes returns the longest prefix of s that is at most n bytes and ends on a rune boundary.
func cutRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func (cb *choiceBuffer) choice(index int) Choice {
	msg := Message{
		Role:       cb.role,
		Content:    cb.content.String(),
		Name:       cb.name,
		ToolCallID: cb.toolCallID,
	}
	if msg.Role == "" {
		msg.Role = RoleAssistant
	}
	for _, tb := range cb.toolCalls {
		if tb == nil {
			continue
		}
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:        tb.id,
			Type:      tb.typ,
			Name:      tb.name,
			Arguments: tb.arguments.String(),
		})
	}
	return Choice{Index: index, Message: msg, FinishReason: cb.finishReason}
}
