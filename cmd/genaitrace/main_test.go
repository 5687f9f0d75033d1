// Tests for the genaitrace CLI commands
package main

import (
	"bytes"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewh/genaitrace/pkg/sim"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validScenario = `
name: pingpong
provider: dashscope
model: qwen-max
module:
  path: github.com/example/reactive-llm
  version: v1.4.2
  supported: "[1.0,2.0)"
traffic:
  requests: 4
  concurrency: 2
streaming:
  first_chunk: 1ms
  chunk_size: 2
prompts:
  - user: ping
    reply: pong
`

type runResult struct {
	out    string
	stderr string
	stats  sim.Stats
}

func execRun(t *testing.T, args ...string) (runResult, error) {
	t.Helper()
	root := rootCmd()
	root.SetArgs(append([]string{"run"}, args...))
	var out, stderr bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&stderr)
	err := root.Execute()

	res := runResult{out: out.String(), stderr: stderr.String()}
	if err == nil {
		lines := strings.Split(strings.TrimSpace(res.stderr), "\n")
		require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &res.stats))
	}
	return res, err
}

func TestValidateCommand(t *testing.T) {
	t.Parallel()

	t.Run("valid scenario", func(t *testing.T) {
		t.Parallel()
		path := writeScenario(t, validScenario)
		root := rootCmd()
		root.SetArgs([]string{"validate", path})
		var out bytes.Buffer
		root.SetOut(&out)

		require.NoError(t, root.Execute())
		assert.Contains(t, out.String(), "Scenario valid: model qwen-max, 1 prompt\n")
		assert.Contains(t, out.String(), "genaitrace run --stdout "+path)
	})

	t.Run("invalid scenario", func(t *testing.T) {
		t.Parallel()
		path := writeScenario(t, "model: qwen-max\n")
		root := rootCmd()
		root.SetArgs([]string{"validate", path})

		err := root.Execute()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least one prompt")
	})

	t.Run("no args shows usage error", func(t *testing.T) {
		t.Parallel()
		root := rootCmd()
		root.SetArgs([]string{"validate"})

		err := root.Execute()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Usage: genaitrace validate")
	})
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	root := rootCmd()
	root.SetArgs([]string{"version"})
	var out bytes.Buffer
	root.SetOut(&out)

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "genaitrace dev")
}

func TestRunCommand(t *testing.T) {
	t.Parallel()

	t.Run("streams with stdout", func(t *testing.T) {
		t.Parallel()
		res, err := execRun(t, "--stdout", "--seed", "1", writeScenario(t, validScenario))
		require.NoError(t, err)
		assert.Equal(t, int64(4), res.stats.Requests)
		assert.Equal(t, int64(4), res.stats.Succeeded)
		assert.Equal(t, int64(8), res.stats.Chunks)
		assert.Contains(t, res.out, "chat qwen-max")
		assert.Contains(t, res.out, "scenario request")
		assert.Contains(t, res.out, "provider chat")
		assert.NotContains(t, res.out, "gen_ai.input.messages")
	})

	t.Run("blocking calls", func(t *testing.T) {
		t.Parallel()
		res, err := execRun(t, "--stdout", "--call", "--requests", "2", writeScenario(t, validScenario))
		require.NoError(t, err)
		assert.Equal(t, int64(2), res.stats.Requests)
		assert.Zero(t, res.stats.Chunks)
		assert.Contains(t, res.out, "chat qwen-max")
	})

	t.Run("capture content flag", func(t *testing.T) {
		t.Parallel()
		res, err := execRun(t, "--stdout", "--capture-content", writeScenario(t, validScenario))
		require.NoError(t, err)
		assert.Contains(t, res.out, "gen_ai.input.messages")
		assert.Contains(t, res.out, "gen_ai.output.messages")
	})

	t.Run("all signals with stdout", func(t *testing.T) {
		t.Parallel()
		res, err := execRun(t, "--stdout", "--signals", "traces,metrics,logs", "--slow-threshold", "1ns", writeScenario(t, validScenario))
		require.NoError(t, err)
		assert.Contains(t, res.out, "gen_ai.client.operation.duration")
		assert.Contains(t, res.out, "slow call")
	})

	t.Run("event strategy without logs warns", func(t *testing.T) {
		t.Parallel()
		res, err := execRun(t, "--stdout", "--capture-content", "--capture-strategy", "event", writeScenario(t, validScenario))
		require.NoError(t, err)
		assert.Contains(t, res.stderr, `capture strategy "event" records nothing`)
		assert.NotContains(t, res.out, "gen_ai.input.messages")
	})

	t.Run("incompatible module disables instrumentation", func(t *testing.T) {
		t.Parallel()
		scenario := strings.Replace(validScenario, "v1.4.2", "v2.1.0", 1)
		res, err := execRun(t, "--stdout", writeScenario(t, scenario))
		require.NoError(t, err)
		assert.Equal(t, int64(4), res.stats.Succeeded)
		assert.Equal(t, 1, strings.Count(res.stderr, "Warning: instrumentation disabled"))
		assert.NotContains(t, res.out, "chat qwen-max")
		assert.Contains(t, res.out, "scenario request")
	})

	t.Run("module version from build information", func(t *testing.T) {
		t.Parallel()
		scenario := strings.Replace(validScenario, "  version: v1.4.2\n", "", 1)
		res, err := execRun(t, "--stdout", writeScenario(t, scenario))
		require.NoError(t, err)
		assert.Equal(t, int64(4), res.stats.Succeeded)
		assert.Equal(t, 1, strings.Count(res.stderr, "Warning: instrumentation disabled"))
		assert.Contains(t, res.stderr, "github.com/example/reactive-llm")
		assert.NotContains(t, res.out, "chat qwen-max")
	})

	t.Run("config file", func(t *testing.T) {
		t.Parallel()
		cfg := filepath.Join(t.TempDir(), "genaitrace.yaml")
		require.NoError(t, os.WriteFile(cfg, []byte("otel:\n  instrumentation:\n    genai:\n      capture-message-content: true\n"), 0o600))
		res, err := execRun(t, "--stdout", "--config", cfg, writeScenario(t, validScenario))
		require.NoError(t, err)
		assert.Contains(t, res.out, "gen_ai.input.messages")
	})

	t.Run("invalid capture strategy", func(t *testing.T) {
		t.Parallel()
		_, err := execRun(t, "--stdout", "--capture-strategy", "sidecar", writeScenario(t, validScenario))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown capture strategy")
	})

	t.Run("missing scenario file", func(t *testing.T) {
		t.Parallel()
		_, err := execRun(t, "--stdout", "/nonexistent.yaml")
		require.Error(t, err)
	})

	t.Run("no args shows usage error", func(t *testing.T) {
		t.Parallel()
		_, err := execRun(t)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing scenario file")
	})

	t.Run("negative slow threshold", func(t *testing.T) {
		t.Parallel()
		_, err := execRun(t, "--stdout", "--slow-threshold", "-1s", writeScenario(t, validScenario))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "slow-threshold")
	})

	t.Run("slow threshold without logs warns", func(t *testing.T) {
		t.Parallel()
		res, err := execRun(t, "--stdout", "--slow-threshold", "50ms", writeScenario(t, validScenario))
		require.NoError(t, err)
		assert.Contains(t, res.stderr, "--slow-threshold has no effect")
	})

	t.Run("zero workers", func(t *testing.T) {
		t.Parallel()
		_, err := execRun(t, "--stdout", "--workers", "0", writeScenario(t, validScenario))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--workers")
	})
}

func TestRunCaptureFromEnvironment(t *testing.T) {
	t.Setenv("OTEL_INSTRUMENTATION_GENAI_CAPTURE_MESSAGE_CONTENT", "true")

	res, err := execRun(t, "--stdout", writeScenario(t, validScenario))
	require.NoError(t, err)
	assert.Contains(t, res.out, "gen_ai.input.messages")
}

func TestRunStoreAndSpans(t *testing.T) {
	t.Parallel()
	db := filepath.Join(t.TempDir(), "spans.db")

	res, err := execRun(t, "--stdout", "--signals", "", "--store", db, writeScenario(t, validScenario))
	require.NoError(t, err)
	assert.Empty(t, res.out, "no stdout exporters without signals")

	root := rootCmd()
	root.SetArgs([]string{"spans", db})
	var out bytes.Buffer
	root.SetOut(&out)
	require.NoError(t, root.Execute())
	assert.Equal(t, 4, strings.Count(out.String(), "chat qwen-max"))
	assert.NotContains(t, out.String(), "scenario request")

	root = rootCmd()
	root.SetArgs([]string{"spans", "--summary", db})
	out.Reset()
	root.SetOut(&out)
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "qwen-max")
	assert.Contains(t, out.String(), "ok")
}

func TestSpansCommandMissingDatabase(t *testing.T) {
	t.Parallel()
	root := rootCmd()
	root.SetArgs([]string{"spans", filepath.Join(t.TempDir(), "absent.db")})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestCheckCommand(t *testing.T) {
	t.Parallel()

	t.Run("compatible", func(t *testing.T) {
		t.Parallel()
		root := rootCmd()
		root.SetArgs([]string{"check", "github.com/example/reactive-llm", "v1.4.2", "[1.0,2.0)"})
		var out bytes.Buffer
		root.SetOut(&out)

		require.NoError(t, root.Execute())
		assert.Contains(t, out.String(), "genai.ChatModel.Stream")
		assert.Contains(t, out.String(), "github.com/example/reactive-llm@v1.4.2 is within [1.0,2.0)")
	})

	t.Run("incompatible", func(t *testing.T) {
		t.Parallel()
		root := rootCmd()
		root.SetArgs([]string{"check", "github.com/example/reactive-llm", "v2.0.0", "[1.0,2.0)"})
		var out bytes.Buffer
		root.SetOut(&out)

		err := root.Execute()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "outside supported range")
		assert.Contains(t, out.String(), "genai.ChatModel.Call")
	})

	t.Run("constraint syntax", func(t *testing.T) {
		t.Parallel()
		root := rootCmd()
		root.SetArgs([]string{"check", "example.com/llm", "1.2.3", ">= 1.0, < 2.0"})
		root.SetOut(&bytes.Buffer{})
		require.NoError(t, root.Execute())
	})

	t.Run("bad range", func(t *testing.T) {
		t.Parallel()
		root := rootCmd()
		root.SetArgs([]string{"check", "example.com/llm", "1.2.3", "[2.0,1.0]"})
		root.SetOut(&bytes.Buffer{})
		require.Error(t, root.Execute())
	})

	t.Run("missing arguments", func(t *testing.T) {
		t.Parallel()
		root := rootCmd()
		root.SetArgs([]string{"check", "example.com/llm"})
		err := root.Execute()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Usage: genaitrace check")
	})
}

func TestParseSignals(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected map[string]bool
	}{
		{"traces", map[string]bool{"traces": true}},
		{"traces,metrics,logs", map[string]bool{"traces": true, "metrics": true, "logs": true}},
		{" traces , logs ", map[string]bool{"traces": true, "logs": true}},
		{"", map[string]bool{}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			result, err := parseSignals(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}

	_, err := parseSignals("traces,metric")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown signal")
}

func TestCheckEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("unreachable default endpoint", func(t *testing.T) {
		t.Parallel()
		err := checkEndpoint("", "http/protobuf", "test.yaml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot reach OTLP collector at localhost:4318")
		assert.Contains(t, err.Error(), "--stdout")
		assert.Contains(t, err.Error(), "test.yaml")
	})

	t.Run("unreachable grpc default endpoint", func(t *testing.T) {
		t.Parallel()
		err := checkEndpoint("", "grpc", "test.yaml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot reach OTLP collector at localhost:4317")
	})

	t.Run("endpoint without port gets default", func(t *testing.T) {
		t.Parallel()
		err := checkEndpoint("192.0.2.1", "http/protobuf", "test.yaml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "192.0.2.1:4318")
	})

	t.Run("reachable endpoint succeeds", func(t *testing.T) {
		t.Parallel()
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer ln.Close() //nolint:errcheck // best-effort close in test

		require.NoError(t, checkEndpoint(ln.Addr().String(), "http/protobuf", "test.yaml"))
	})

	t.Run("run fails fast without collector", func(t *testing.T) {
		t.Parallel()
		_, err := execRun(t, "--endpoint", "192.0.2.1:9999", writeScenario(t, validScenario))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot reach OTLP collector")
	})
}

func TestAttributesCommand(t *testing.T) {
	t.Parallel()

	t.Run("default prefix", func(t *testing.T) {
		t.Parallel()
		root := rootCmd()
		root.SetArgs([]string{"attributes"})
		var out bytes.Buffer
		root.SetOut(&out)

		require.NoError(t, root.Execute())
		assert.Contains(t, out.String(), "gen_ai.request.model")
		assert.Contains(t, out.String(), "gen_ai.input.messages")
	})

	t.Run("unknown prefix", func(t *testing.T) {
		t.Parallel()
		root := rootCmd()
		root.SetArgs([]string{"attributes", "nosuch."})
		root.SetOut(&bytes.Buffer{})

		err := root.Execute()
		require.Error(t, err)
		assert.Contains(t, err.Error(), `no attributes start with "nosuch."`)
	})
}

func TestRunStrictAttributes(t *testing.T) {
	t.Parallel()
	res, err := execRun(t, "--stdout", "--strict-attributes", "--capture-content", writeScenario(t, validScenario))
	require.NoError(t, err)
	assert.NotContains(t, res.stderr, "Warning: span")
}
