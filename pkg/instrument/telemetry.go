// Package instrument attaches OpenTelemetry spans to GenAI model calls.
// Telemetry holds the providers, capture policy and observers shared by every wrapped call.
package instrument

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/andrewh/genaitrace/pkg/genai"
)

// ScopeName is the instrumentation scope of every tracer, meter and logger created here.
const ScopeName = "github.com/andrewh/genaitrace"

// Telemetry is an immutable bundle of instrumentation dependencies.
type Telemetry struct {
	tracer    trace.Tracer
	events    log.Logger
	capture   genai.CaptureOptions
	observers []CallObserver
	logger    *slog.Logger
}

type config struct {
	tp            trace.TracerProvider
	lp            log.LoggerProvider
	mp            metric.MeterProvider
	capture       genai.CaptureOptions
	logger        *slog.Logger
	observers     []CallObserver
	slowThreshold time.Duration
}

// Option configures Telemetry.
type Option func(*config)

// WithTracerProvider sets the span source. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) { c.tp = tp }
}

// WithLoggerProvider sets the provider for inference-details events and call
// logs, and enables the LogObserver. Events default to the global provider.
func WithLoggerProvider(lp log.LoggerProvider) Option {
	return func(c *config) { c.lp = lp }
}

// WithMeterProvider enables the MetricObserver on mp.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *config) { c.mp = mp }
}

// WithCapture sets the content capture policy. Defaults to genai.DefaultCaptureOptions.
func WithCapture(capture genai.CaptureOptions) Option {
	return func(c *config) { c.capture = capture }
}

// WithLogger sets where internal faults are logged, in addition to otel.Handle.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithObservers adds observers notified after every call.
func WithObservers(observers ...CallObserver) Option {
	return func(c *config) { c.observers = append(c.observers, observers...) }
}

// WithSlowThreshold sets the duration above which the LogObserver reports a slow call.
func WithSlowThreshold(d time.Duration) Option {
	return func(c *config) { c.slowThreshold = d }
}

// New builds Telemetry from opts.
func New(opts ...Option) (*Telemetry, error) {
	cfg := config{capture: genai.DefaultCaptureOptions()}
	for _, o := range opts {
		o(&cfg)
	}

	tp := cfg.tp
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	eventProvider := cfg.lp
	if eventProvider == nil {
		eventProvider = global.GetLoggerProvider()
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	observers := cfg.observers
	if cfg.mp != nil {
		mo, err := NewMetricObserver(cfg.mp)
		if err != nil {
			return nil, fmt.Errorf("building metric observer: %w", err)
		}
		observers = append(observers, mo)
	}
	if cfg.lp != nil {
		observers = append(observers, NewLogObserver(cfg.lp, cfg.slowThreshold))
	}

	return &Telemetry{
		tracer:    tp.Tracer(ScopeName),
		events:    eventProvider.Logger(ScopeName),
		capture:   cfg.capture.Normalize(),
		observers: observers,
		logger:    logger,
	}, nil
}

// Capture returns the content capture policy.
func (t *Telemetry) Capture() genai.CaptureOptions {
	return t.capture
}

// report handles an internal fault. It never panics.
func (t *Telemetry) report(err error) {
	otel.Handle(err)
	t.logger.Warn("genai instrumentation fault", slog.Any("error", err))
}

func (t *Telemetry) observe(info CallInfo) {
	for _, o := range t.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.report(fmt.Errorf("instrument: observer panic: %v", r))
				}
			}()
			o.Observe(info)
		}()
	}
}
