// Tests for message conversion and semantic-convention JSON shapes
package genai

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatMessagesToolRoundTrip(t *testing.T) {
	t.Parallel()

	req := &ChatRequest{Messages: []Message{
		{Role: RoleUser, Content: "weather in Paris?"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "weather", Arguments: `{"city":"Paris"}`}}},
		{Role: RoleTool, ToolCallID: "c1", Content: "rainy"},
	}}

	m := ChatMessages{Capture: DefaultCaptureOptions()}
	b, err := json.Marshal(m.InputMessages(req))
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"role":"user","parts":[{"type":"text","content":"weather in Paris?"}]},
		{"role":"assistant","parts":[{"type":"tool_call","id":"c1","name":"weather","arguments":{"city":"Paris"}}]},
		{"role":"tool","parts":[{"type":"tool_call_response","id":"c1","response":"rainy"}]}
	]`, string(b))
}

func TestChatMessagesTruncateText(t *testing.T) {
	t.Parallel()

	m := ChatMessages{Capture: CaptureOptions{MaxContentLength: 3}}
	req := &ChatRequest{Messages: []Message{
		{Role: RoleSystem, Content: "instructions"},
		{Role: RoleUser, Content: "hello"},
	}}
	assert.Equal(t, "ins"+TruncatedMarker, m.SystemInstructions(req)[0].Content)
	assert.Equal(t, "hel"+TruncatedMarker, m.InputMessages(req)[0].Parts[0].Content)
}

func TestOutputMessagesDefaults(t *testing.T) {
	t.Parallel()

	m := ChatMessages{Capture: DefaultCaptureOptions()}
	out := m.OutputMessages(nil, &ChatResponse{Choices: []Choice{{FinishReason: "LENGTH"}}})
	require.Len(t, out, 1)
	assert.Equal(t, RoleAssistant, out[0].Role)
	assert.Equal(t, "length", out[0].FinishReason)

	b, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"role":"assistant","parts":[],"finish_reason":"length"}]`, string(b))
	assert.Nil(t, m.OutputMessages(nil, nil))
}

func TestPartConstructors(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "not json", ToolCallPart("1", "f", "not json").Arguments)
	assert.Nil(t, ToolCallPart("1", "f", "").Arguments)
	assert.Equal(t, MessagePart{Type: "image", Content: "uri"}, GenericPart("image", "uri"))
}

func TestChatGetterOutputType(t *testing.T) {
	t.Parallel()

	g := ChatGetter{}
	for in, want := range map[string]string{
		"":            "",
		"text":        OutputTypeText,
		"json_object": OutputTypeJSON,
		"JSON_SCHEMA": OutputTypeJSON,
		"speech":      OutputTypeSpeech,
		"xml":         "",
	} {
		assert.Equal(t, want, g.OutputType(&ChatRequest{Options: ChatOptions{ResponseFormat: in}}), in)
	}
	assert.Nil(t, g.ChoiceCount(&ChatRequest{Options: ChatOptions{ChoiceCount: Ptr[int64](1)}}))
}

func TestIncrementalDefault(t *testing.T) {
	t.Parallel()

	var nilReq *ChatRequest
	assert.True(t, nilReq.Incremental())
	assert.True(t, (&ChatRequest{}).Incremental())
	assert.False(t, (&ChatRequest{Options: ChatOptions{IncrementalOutput: Ptr(false)}}).Incremental())
}
