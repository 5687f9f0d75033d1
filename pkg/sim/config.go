// Scenario files describing a simulated streaming chat model
// Loaded from YAML and validated before a Model is built from them
package sim

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario is the top-level YAML document.
type Scenario struct {
	Name          string          `yaml:"name"`
	Provider      string          `yaml:"provider"`
	Model         string          `yaml:"model"`
	ResponseModel string          `yaml:"response_model,omitempty"`
	Module        ModuleConfig    `yaml:"module,omitempty"`
	Traffic       TrafficConfig   `yaml:"traffic,omitempty"`
	Streaming     StreamingConfig `yaml:"streaming,omitempty"`
	ErrorRate     string          `yaml:"error_rate,omitempty"`
	Errors        []string        `yaml:"errors,omitempty"`
	Prompts       []Prompt        `yaml:"prompts"`
}

// ModuleConfig names the client library the scenario stands in for and the
// version range the instrumentation supports. An empty version is looked up
// in the running binary's build information.
type ModuleConfig struct {
	Path      string `yaml:"path,omitempty"`
	Version   string `yaml:"version,omitempty"`
	Supported string `yaml:"supported,omitempty"`
}

// TrafficConfig controls how the CLI drives the model.
type TrafficConfig struct {
	Rate        string `yaml:"rate,omitempty"`
	Requests    int    `yaml:"requests,omitempty"`
	Concurrency int    `yaml:"concurrency,omitempty"`
	Stream      *bool  `yaml:"stream,omitempty"`
}

// StreamingConfig shapes the chunks of a streamed reply.
type StreamingConfig struct {
	FirstChunk  Distribution `yaml:"first_chunk,omitempty"`
	Interval    Distribution `yaml:"interval,omitempty"`
	ChunkSize   int          `yaml:"chunk_size,omitempty"`
	Incremental *bool        `yaml:"incremental,omitempty"`
}

// Prompt is one canned exchange.
type Prompt struct {
	System string `yaml:"system,omitempty"`
	User   string `yaml:"user"`
	Reply  string `yaml:"reply"`
}

// DefaultChunkSize is the number of runes per streamed chunk.
const DefaultChunkSize = 4

// Load reads and parses a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user-supplied scenario path is expected
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	return Parse(data)
}

// Parse decodes a scenario and rejects unknown fields.
func Parse(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parsing scenario: empty document")
		}
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	if sc.Streaming.ChunkSize == 0 {
		sc.Streaming.ChunkSize = DefaultChunkSize
	}
	return &sc, nil
}

// Validate checks a scenario for structural correctness.
func Validate(sc *Scenario) error {
	if sc.Model == "" {
		return fmt.Errorf("model is required")
	}
	if len(sc.Prompts) == 0 {
		return fmt.Errorf("at least one prompt is required")
	}
	for i, p := range sc.Prompts {
		if strings.TrimSpace(p.User) == "" {
			return fmt.Errorf("prompt %d: user message is required", i)
		}
		if p.Reply == "" {
			return fmt.Errorf("prompt %d: reply is required", i)
		}
	}
	if sc.Streaming.ChunkSize < 0 {
		return fmt.Errorf("streaming: chunk_size must not be negative")
	}
	if _, err := parseErrorRate(sc.ErrorRate); err != nil {
		return fmt.Errorf("invalid error_rate: %w", err)
	}
	if sc.Traffic.Rate != "" {
		if _, err := ParseRate(sc.Traffic.Rate); err != nil {
			return fmt.Errorf("invalid traffic rate: %w", err)
		}
	}
	if sc.Traffic.Requests < 0 || sc.Traffic.Concurrency < 0 {
		return fmt.Errorf("traffic: requests and concurrency must not be negative")
	}
	if (sc.Module.Version != "" || sc.Module.Supported != "") && sc.Module.Path == "" {
		return fmt.Errorf("module: path is required with version or supported")
	}
	return nil
}

// parseErrorRate parses "0.1%", "15%" or a fraction like "0.05" into 0.0 to 1.0.
// An empty string is zero.
func parseErrorRate(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if pct, ok := strings.CutSuffix(s, "%"); ok {
		v, err := strconv.ParseFloat(strings.TrimSpace(pct), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid error_rate %q: %w", pct, err)
		}
		if v < 0 || v > 100 {
			return 0, fmt.Errorf("error_rate must be between 0%% and 100%%")
		}
		return v / 100, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid error_rate %q: %w", s, err)
	}
	if v < 0 || v > 1 {
		return 0, fmt.Errorf("error_rate without %% must be between 0.0 and 1.0")
	}
	return v, nil
}
