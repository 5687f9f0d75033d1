// LogObserver derives log records from failed and slow GenAI calls.
// Emits ERROR-severity logs for failed calls and WARN-severity logs for slow calls.
package instrument

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/trace"

	"github.com/andrewh/genaitrace/pkg/genai"
)

// LogObserver emits log records for notable calls.
type LogObserver struct {
	logger        log.Logger
	slowThreshold time.Duration
}

// NewLogObserver creates a LogObserver that emits logs via the given LoggerProvider.
// A slowThreshold of 0 disables slow call detection.
func NewLogObserver(lp log.LoggerProvider, slowThreshold time.Duration) *LogObserver {
	return &LogObserver{
		logger:        lp.Logger(ScopeName),
		slowThreshold: slowThreshold,
	}
}

// Observe emits a record for a failed call and one for a call slower than the threshold.
func (l *LogObserver) Observe(info CallInfo) {
	ctx := trace.ContextWithSpanContext(context.Background(), info.SpanContext)
	attrs := logKeyValues(info.commonAttrs())

	if info.IsError() {
		var rec log.Record
		rec.SetTimestamp(info.Start.Add(info.Duration))
		rec.SetSeverity(log.SeverityError)
		rec.SetSeverityText("ERROR")
		rec.SetBody(log.StringValue(fmt.Sprintf("%s failed: %s", info.Name, info.String(genai.ErrorTypeKey))))
		rec.AddAttributes(attrs...)
		l.logger.Emit(ctx, rec)
	}

	if l.slowThreshold > 0 && info.Duration > l.slowThreshold {
		var rec log.Record
		rec.SetTimestamp(info.Start.Add(info.Duration))
		rec.SetSeverity(log.SeverityWarn)
		rec.SetSeverityText("WARN")
		rec.SetBody(log.StringValue(fmt.Sprintf(
			"slow call %s: %s (threshold %s)", info.Name, info.Duration, l.slowThreshold,
		)))
		rec.AddAttributes(attrs...)
		l.logger.Emit(ctx, rec)
	}
}

// logKeyValues converts span attributes to log attributes.
func logKeyValues(kvs []attribute.KeyValue) []log.KeyValue {
	out := make([]log.KeyValue, 0, len(kvs))
	for _, kv := range kvs {
		out = append(out, log.KeyValue{Key: string(kv.Key), Value: logValue(kv.Value)})
	}
	return out
}

func logValue(v attribute.Value) log.Value {
	switch v.Type() {
	case attribute.BOOL:
		return log.BoolValue(v.AsBool())
	case attribute.INT64:
		return log.Int64Value(v.AsInt64())
	case attribute.FLOAT64:
		return log.Float64Value(v.AsFloat64())
	case attribute.STRING:
		return log.StringValue(v.AsString())
	case attribute.BOOLSLICE:
		return sliceValue(v.AsBoolSlice(), log.BoolValue)
	case attribute.INT64SLICE:
		return sliceValue(v.AsInt64Slice(), log.Int64Value)
	case attribute.FLOAT64SLICE:
		return sliceValue(v.AsFloat64Slice(), log.Float64Value)
	case attribute.STRINGSLICE:
		return sliceValue(v.AsStringSlice(), log.StringValue)
	default:
		return log.StringValue(v.Emit())
	}
}

func sliceValue[T any](vs []T, conv func(T) log.Value) log.Value {
	out := make([]log.Value, len(vs))
	for i, v := range vs {
		out[i] = conv(v)
	}
	return log.SliceValue(out...)
}

// emitInferenceDetails writes the gen_ai.client.inference.operation.details
// event for one call, correlated with the call's span through ctx.
func emitInferenceDetails(ctx context.Context, logger log.Logger, at time.Time, kvs []attribute.KeyValue) {
	var rec log.Record
	rec.SetEventName(genai.InferenceDetailsEvent)
	rec.SetTimestamp(at)
	rec.SetSeverity(log.SeverityInfo)
	rec.SetSeverityText("INFO")
	rec.AddAttributes(logKeyValues(kvs)...)
	logger.Emit(ctx, rec)
}
