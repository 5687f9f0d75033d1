// Package config resolves the GenAI instrumentation settings at startup.
// Defaults, an optional YAML file, OTEL_INSTRUMENTATION_GENAI_* variables and flags are merged by viper.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/andrewh/genaitrace/pkg/genai"
)

// Configuration keys. The environment variable for a key is the key upper-cased
// with dots and dashes replaced by underscores.
const (
	KeyCaptureContent     = "otel.instrumentation.genai.capture-message-content"
	KeyMaxContentLength   = "otel.instrumentation.genai.message-content.max-length"
	KeyCaptureStrategy    = "otel.instrumentation.genai.message-content.capture-strategy"
	KeyContextPropagation = "otel.instrumentation.genai.context-propagation"
)

// Flag names bound by BindFlags.
const (
	FlagCaptureContent   = "capture-content"
	FlagMaxContentLength = "max-content-length"
	FlagCaptureStrategy  = "capture-strategy"
)

// Settings is the resolved, immutable instrumentation configuration.
type Settings struct {
	Capture            genai.CaptureOptions
	ContextPropagation bool
}

// Loader merges configuration sources. Later calls to Settings see every
// source added so far; the result is meant to be taken once.
type Loader struct {
	v *viper.Viper
}

// NewLoader returns a Loader with defaults and environment lookup in place.
func NewLoader() *Loader {
	v := viper.New()
	v.SetDefault(KeyCaptureContent, false)
	v.SetDefault(KeyMaxContentLength, genai.DefaultMaxContentLength)
	v.SetDefault(KeyCaptureStrategy, string(genai.StrategySpanAttributes))
	v.SetDefault(KeyContextPropagation, true)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// AddFlags registers the capture flags on fs.
func AddFlags(fs *pflag.FlagSet) {
	fs.Bool(FlagCaptureContent, false, "record message content on spans or events")
	fs.Int(FlagMaxContentLength, genai.DefaultMaxContentLength, "maximum bytes of captured content per message")
	fs.String(FlagCaptureStrategy, string(genai.StrategySpanAttributes), "where captured content goes: span-attributes or event")
}

// BindFlags makes explicitly set flags registered by AddFlags override every other source.
func (l *Loader) BindFlags(fs *pflag.FlagSet) error {
	for key, name := range map[string]string{
		KeyCaptureContent:   FlagCaptureContent,
		KeyMaxContentLength: FlagMaxContentLength,
		KeyCaptureStrategy:  FlagCaptureStrategy,
	} {
		f := fs.Lookup(name)
		if f == nil {
			return fmt.Errorf("flag --%s is not registered", name)
		}
		if err := l.v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("binding --%s: %w", name, err)
		}
	}
	return nil
}

// ReadFile merges a YAML configuration file. Keys are nested by their dots:
//
//	otel:
//	  instrumentation:
//	    genai:
//	      capture-message-content: true
func (l *Loader) ReadFile(path string) error {
	l.v.SetConfigFile(path)
	l.v.SetConfigType("yaml")
	if err := l.v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	return nil
}

// Settings resolves and validates the merged configuration.
func (l *Loader) Settings() (Settings, error) {
	var errs []error

	capture, err := cast.ToBoolE(l.v.Get(KeyCaptureContent))
	if err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", KeyCaptureContent, err))
	}
	maxLen, err := cast.ToIntE(l.v.Get(KeyMaxContentLength))
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("%s: %w", KeyMaxContentLength, err))
	case maxLen <= 0:
		errs = append(errs, fmt.Errorf("%s: must be positive, got %d", KeyMaxContentLength, maxLen))
	}
	strategy, err := parseStrategy(l.v.GetString(KeyCaptureStrategy))
	if err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", KeyCaptureStrategy, err))
	}
	propagation, err := cast.ToBoolE(l.v.Get(KeyContextPropagation))
	if err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", KeyContextPropagation, err))
	}

	if err := errors.Join(errs...); err != nil {
		return Settings{}, fmt.Errorf("invalid instrumentation config: %w", err)
	}
	return Settings{
		Capture: genai.CaptureOptions{
			CaptureContent:   capture,
			MaxContentLength: maxLen,
			Strategy:         strategy,
		},
		ContextPropagation: propagation,
	}, nil
}

func parseStrategy(s string) (genai.CaptureStrategy, error) {
	switch genai.CaptureStrategy(strings.ToLower(strings.TrimSpace(s))) {
	case genai.StrategySpanAttributes, "":
		return genai.StrategySpanAttributes, nil
	case genai.StrategyEvent:
		return genai.StrategyEvent, nil
	default:
		return "", fmt.Errorf("unknown capture strategy %q, valid: span-attributes, event", s)
	}
}
