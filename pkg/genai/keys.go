// GenAI semantic-convention attribute keys and well-known values
// Keys are checked against the embedded registry in tests
package genai

import "go.opentelemetry.io/otel/attribute"

const (
	OperationNameKey  = attribute.Key("gen_ai.operation.name")
	ProviderNameKey   = attribute.Key("gen_ai.provider.name")
	OutputTypeKey     = attribute.Key("gen_ai.output.type")
	ConversationIDKey = attribute.Key("gen_ai.conversation.id")

	RequestModelKey            = attribute.Key("gen_ai.request.model")
	RequestSeedKey             = attribute.Key("gen_ai.request.seed")
	RequestEncodingFormatsKey  = attribute.Key("gen_ai.request.encoding_formats")
	RequestFrequencyPenaltyKey = attribute.Key("gen_ai.request.frequency_penalty")
	RequestMaxTokensKey        = attribute.Key("gen_ai.request.max_tokens")
	RequestPresencePenaltyKey  = attribute.Key("gen_ai.request.presence_penalty")
	RequestStopSequencesKey    = attribute.Key("gen_ai.request.stop_sequences")
	RequestTemperatureKey      = attribute.Key("gen_ai.request.temperature")
	RequestTopKKey             = attribute.Key("gen_ai.request.top_k")
	RequestTopPKey             = attribute.Key("gen_ai.request.top_p")
	RequestChoiceCountKey      = attribute.Key("gen_ai.request.choice.count")

	ResponseIDKey            = attribute.Key("gen_ai.response.id")
	ResponseModelKey         = attribute.Key("gen_ai.response.model")
	ResponseFinishReasonsKey = attribute.Key("gen_ai.response.finish_reasons")

	UsageInputTokensKey  = attribute.Key("gen_ai.usage.input_tokens")
	UsageOutputTokensKey = attribute.Key("gen_ai.usage.output_tokens")
	UsageTotalTokensKey  = attribute.Key("gen_ai.usage.total_tokens")

	InputMessagesKey      = attribute.Key("gen_ai.input.messages")
	OutputMessagesKey     = attribute.Key("gen_ai.output.messages")
	SystemInstructionsKey = attribute.Key("gen_ai.system_instructions")
	ToolDefinitionsKey    = attribute.Key("gen_ai.tool.definitions")

	TokenTypeKey = attribute.Key("gen_ai.token.type")
	ErrorTypeKey = attribute.Key("error.type")
	EventNameKey = attribute.Key("event.name")

	// SpanKindKey classifies the span for LLM observability backends.
	SpanKindKey = attribute.Key("gen_ai.span.kind")
	// OutcomeKey records how a subscription ended: ok, error or cancelled.
	OutcomeKey = attribute.Key("genaitrace.outcome")
)

// ExtensionKeys are emitted but not defined by the GenAI semantic conventions.
var ExtensionKeys = []attribute.Key{UsageTotalTokensKey, SpanKindKey, OutcomeKey}

// SpanKind returns the gen_ai.span.kind value for an operation name.
func SpanKind(operation string) string {
	switch operation {
	case OperationChat, OperationTextCompletion:
		return "LLM"
	case OperationEmbeddings:
		return "EMBEDDING"
	case OperationExecuteTool:
		return "TOOL"
	default:
		return ""
	}
}

// Operation names.
const (
	OperationChat           = "chat"
	OperationTextCompletion = "text_completion"
	OperationEmbeddings     = "embeddings"
	OperationExecuteTool    = "execute_tool"
)

// Output types.
const (
	OutputTypeText   = "text"
	OutputTypeJSON   = "json"
	OutputTypeImage  = "image"
	OutputTypeSpeech = "speech"
)

// Token types for the token usage histogram.
const (
	TokenTypeInput  = "input"
	TokenTypeOutput = "output"
)

// Outcome values.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

// Event and span-event names.
const (
	InferenceDetailsEvent = "gen_ai.client.inference.operation.details"
	CancelEvent           = "gen_ai.client.operation.cancelled"
)

// RequestKeys lists the keys that may be set when a call starts.
var RequestKeys = []attribute.Key{
	OperationNameKey, ProviderNameKey, OutputTypeKey, ConversationIDKey,
	RequestModelKey, RequestSeedKey, RequestEncodingFormatsKey,
	RequestFrequencyPenaltyKey, RequestMaxTokensKey, RequestPresencePenaltyKey,
	RequestStopSequencesKey, RequestTemperatureKey, RequestTopKKey,
	RequestTopPKey, RequestChoiceCountKey,
}

// ResponseKeys lists the keys that may be set when a call succeeds.
var ResponseKeys = []attribute.Key{
	ResponseIDKey, ResponseModelKey, ResponseFinishReasonsKey,
	UsageInputTokensKey, UsageOutputTokensKey, UsageTotalTokensKey,
}

// ContentKeys lists the keys that carry message content.
var ContentKeys = []attribute.Key{
	InputMessagesKey, OutputMessagesKey, SystemInstructionsKey, ToolDefinitionsKey,
}
