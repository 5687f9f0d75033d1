// Message-content capture policy
// A CaptureOptions value is fixed when instrumentation is built and gates every call it observes
package genai

import "strings"

// CaptureStrategy selects where captured content is recorded.
type CaptureStrategy string

const (
	// StrategySpanAttributes records content as span attributes.
	StrategySpanAttributes CaptureStrategy = "span-attributes"
	// StrategyEvent records content on one inference-details log event per call.
	StrategyEvent CaptureStrategy = "event"
)

// DefaultMaxContentLength is the content length limit used when none is configured.
const DefaultMaxContentLength = 8192

// TruncatedMarker is appended to content cut at the length limit.
const TruncatedMarker = "...[truncated]"

// ParseCaptureStrategy maps a configuration value to a strategy. Unknown
// values fall back to span attributes.
func ParseCaptureStrategy(s string) CaptureStrategy {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(StrategyEvent):
		return StrategyEvent
	default:
		return StrategySpanAttributes
	}
}

// CaptureOptions decides whether message content is recorded and how.
type CaptureOptions struct {
	CaptureContent   bool
	MaxContentLength int
	Strategy         CaptureStrategy
}

// DefaultCaptureOptions returns capture disabled, an 8192 byte limit and span attributes.
func DefaultCaptureOptions() CaptureOptions {
	return CaptureOptions{
		MaxContentLength: DefaultMaxContentLength,
		Strategy:         StrategySpanAttributes,
	}
}

// Normalize fills zero fields with defaults.
func (o CaptureOptions) Normalize() CaptureOptions {
	if o.MaxContentLength <= 0 {
		o.MaxContentLength = DefaultMaxContentLength
	}
	o.Strategy = ParseCaptureStrategy(string(o.Strategy))
	return o
}

// OnSpan reports whether content belongs on span attributes.
func (o CaptureOptions) OnSpan() bool {
	return o.CaptureContent && o.Strategy != StrategyEvent
}

// OnEvent reports whether content belongs on the inference-details event.
func (o CaptureOptions) OnEvent() bool {
	return o.CaptureContent && o.Strategy == StrategyEvent
}

// Truncate cuts s to at most MaxContentLength bytes, backing off to a rune
// boundary, and appends TruncatedMarker when anything was cut. Content that
// is already cut within the limit is returned unchanged.
func (o CaptureOptions) Truncate(s string) string {
	limit := o.MaxContentLength
	if limit <= 0 || len(s) <= limit {
		return s
	}
	if body, ok := strings.CutSuffix(s, TruncatedMarker); ok && len(body) <= limit {
		return s
	}
	return cutRunes(s, limit) + TruncatedMarker
}
