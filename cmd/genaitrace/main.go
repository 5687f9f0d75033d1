// GenAI client instrumentation driver
// Runs simulated chat-model scenarios through the instrumentation and exports traces, metrics and logs
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/grafana/pyroscope-go"
	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/andrewh/genaitrace/pkg/config"
	"github.com/andrewh/genaitrace/pkg/flux"
	"github.com/andrewh/genaitrace/pkg/genai"
	"github.com/andrewh/genaitrace/pkg/instrument"
	"github.com/andrewh/genaitrace/pkg/sim"
	"github.com/andrewh/genaitrace/pkg/spanstore"
	"github.com/andrewh/genaitrace/pkg/tracectx"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "genaitrace",
		Short:        "OpenTelemetry instrumentation for streaming GenAI model clients",
		SilenceUsage: true,
	}

	root.AddCommand(runCmd())
	root.AddCommand(validateCmd())
	root.AddCommand(checkCmd())
	root.AddCommand(spansCmd())
	root.AddCommand(attributesCmd())
	root.AddCommand(versionCmd())

	return root
}

type runOptions struct {
	endpoint      string
	stdout        bool
	protocol      string
	signals       string
	slowThreshold time.Duration
	requests      int
	concurrency   int
	timeout       time.Duration
	call          bool
	workers       int
	seed          uint64
	configFile    string
	store         string
	strict        bool
	pyroscopeAddr string
	out           io.Writer
	errOut        io.Writer
}

func runCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Drive a simulated chat model through the instrumentation",
		Long: "Drive a simulated chat model through the instrumentation.\n\n" +
			"Content capture follows OTEL_INSTRUMENTATION_GENAI_* variables, a --config file\n" +
			"and the capture flags, in increasing order of precedence. A .env file in the\n" +
			"working directory is loaded first.",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("missing scenario file\n\nUsage: genaitrace run <scenario.yaml>")
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("slow-threshold") && !strings.Contains(opts.signals, "logs") {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Warning: --slow-threshold has no effect without --signals logs")
			}
			loader := config.NewLoader()
			if opts.configFile != "" {
				if err := loader.ReadFile(opts.configFile); err != nil {
					return err
				}
			}
			if err := loader.BindFlags(cmd.Flags()); err != nil {
				return err
			}
			settings, err := loader.Settings()
			if err != nil {
				return err
			}
			opts.out = &syncWriter{w: cmd.OutOrStdout()}
			opts.errOut = &syncWriter{w: cmd.ErrOrStderr()}
			return runScenario(cmd.Context(), args[0], settings, opts)
		},
	}

	cmd.Flags().StringVar(&opts.endpoint, "endpoint", "", "OTLP endpoint (e.g. localhost:4318)")
	cmd.Flags().BoolVar(&opts.stdout, "stdout", false, "emit signals to stdout as JSON")
	cmd.Flags().StringVar(&opts.protocol, "protocol", "http/protobuf", "OTLP protocol (http/protobuf or grpc)")
	cmd.Flags().StringVar(&opts.signals, "signals", "traces", "comma-separated signals to emit: traces,metrics,logs")
	cmd.Flags().DurationVar(&opts.slowThreshold, "slow-threshold", time.Second, "duration threshold for slow call log emission")
	cmd.Flags().IntVar(&opts.requests, "requests", 0, "number of requests (default from scenario, else 10)")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "concurrent requests (default from scenario, else 1)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "per-request timeout (0 = none)")
	cmd.Flags().BoolVar(&opts.call, "call", false, "use blocking calls instead of streaming")
	cmd.Flags().IntVar(&opts.workers, "workers", 4, "worker goroutines delivering streamed chunks")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 0, "random seed for reproducibility (0 = random)")
	cmd.Flags().StringVar(&opts.configFile, "config", "", "YAML file with otel.instrumentation.genai settings")
	cmd.Flags().StringVar(&opts.store, "store", "", "also record GenAI spans in this SQLite database")
	cmd.Flags().BoolVar(&opts.strict, "strict-attributes", false, "warn about GenAI span attributes missing from the semantic conventions")
	cmd.Flags().StringVar(&opts.pyroscopeAddr, "pyroscope", "", "send continuous profiles to this Pyroscope server")
	config.AddFlags(cmd.Flags())

	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <scenario.yaml>",
		Short: "Parse and validate a scenario",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("missing scenario file\n\nUsage: genaitrace validate <scenario.yaml>")
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := loadScenario(args[0])
			if err != nil {
				return err
			}
			label := "prompts"
			if len(sc.Prompts) == 1 {
				label = "prompt"
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Scenario valid: model %s, %d %s\n\n"+
				"To run it:\n"+
				"  genaitrace run --stdout %s\n",
				sc.Model, len(sc.Prompts), label, args[0])
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "genaitrace %s (commit: %s, built: %s)\n", version, commit, buildTime)
		},
	}
}

func loadScenario(path string) (*sim.Scenario, error) {
	sc, err := sim.Load(path)
	if err != nil {
		return nil, err
	}
	if err := sim.Validate(sc); err != nil {
		return nil, err
	}
	return sc, nil
}

func runScenario(ctx context.Context, path string, settings config.Settings, opts runOptions) error {
	if opts.errOut == nil {
		opts.errOut = os.Stderr
	}
	sc, err := loadScenario(path)
	if err != nil {
		return err
	}
	if opts.slowThreshold < 0 {
		return fmt.Errorf("--slow-threshold must not be negative, got %s", opts.slowThreshold)
	}
	if opts.requests < 0 || opts.concurrency < 0 || opts.timeout < 0 {
		return fmt.Errorf("--requests, --concurrency and --timeout must not be negative")
	}
	if opts.workers < 1 {
		return fmt.Errorf("--workers must be at least 1, got %d", opts.workers)
	}
	enabledSignals, err := parseSignals(opts.signals)
	if err != nil {
		return err
	}
	if err := validateProtocol(opts.protocol); err != nil {
		return err
	}
	if settings.Capture.OnEvent() && !enabledSignals["logs"] {
		_, _ = fmt.Fprintln(opts.errOut, "Warning: capture strategy \"event\" records nothing without --signals logs")
	}
	if !opts.stdout {
		if err := checkEndpoint(opts.endpoint, opts.protocol, path); err != nil {
			return err
		}
	}

	if opts.pyroscopeAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "genaitrace",
			ServerAddress:   opts.pyroscopeAddr,
			Tags:            map[string]string{"scenario": sc.Name},
		})
		if err != nil {
			return fmt.Errorf("starting profiler: %w", err)
		}
		defer func() { _ = profiler.Stop() }()
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName("genaitrace"),
		semconv.ServiceVersion(version),
	))
	if err != nil {
		return fmt.Errorf("creating resource: %w", err)
	}

	var store *spanstore.Store
	if opts.store != "" {
		store, err = spanstore.Open(ctx, opts.store)
		if err != nil {
			return err
		}
	}

	tp, shutdownTraces, err := createTraceProvider(ctx, opts, enabledSignals["traces"], store, res)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return fmt.Errorf("creating trace provider: %w", err)
	}
	defer shutdownTraces()

	telOpts := []instrument.Option{
		instrument.WithTracerProvider(tp),
		instrument.WithCapture(settings.Capture),
		instrument.WithSlowThreshold(opts.slowThreshold),
		instrument.WithLogger(slog.New(slog.NewTextHandler(opts.errOut, &slog.HandlerOptions{Level: slog.LevelWarn}))),
	}
	if enabledSignals["metrics"] {
		mp, shutdownMetrics, mErr := createMeterProvider(ctx, opts, res)
		if mErr != nil {
			return fmt.Errorf("creating meter provider: %w", mErr)
		}
		defer shutdownMetrics()
		telOpts = append(telOpts, instrument.WithMeterProvider(mp))
	}
	if enabledSignals["logs"] {
		lp, shutdownLogs, lErr := createLoggerProvider(ctx, opts, res)
		if lErr != nil {
			return fmt.Errorf("creating logger provider: %w", lErr)
		}
		defer shutdownLogs()
		telOpts = append(telOpts, instrument.WithLoggerProvider(lp))
	}
	tel, err := instrument.New(telOpts...)
	if err != nil {
		return err
	}

	seed := opts.seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	model, err := sim.New(sc, seed)
	if err != nil {
		return err
	}
	model.TraceServer(tp.Tracer("genaitrace/provider"))

	pool := flux.NewWorkerPool(opts.workers, func(r any) {
		_, _ = fmt.Fprintf(opts.errOut, "worker panic: %v\n", r)
	})
	defer pool.Close()

	chatOpts := []instrument.ChatOption{instrument.WithProvider(sc.Provider)}
	if sc.Module.Path != "" && sc.Module.Supported != "" {
		points := []instrument.InterceptionPoint{instrument.ChatModelCall, instrument.ChatModelStream}
		warn := instrument.WithErrorHandler(func(err error) {
			_, _ = fmt.Fprintf(opts.errOut, "Warning: %v\n", err)
		})
		var selector *instrument.Selector
		if sc.Module.Version == "" {
			selector = instrument.NewBuildInfoSelector(sc.Module.Path, sc.Module.Supported, points, warn)
		} else {
			selector = instrument.NewSelector(
				instrument.Module{Path: sc.Module.Path, Version: sc.Module.Version},
				sc.Module.Supported, points, warn,
			)
		}
		chatOpts = append(chatOpts, instrument.WithSelector(selector))
	}

	driver := &sim.Driver{
		Source:      model,
		Target:      instrument.WrapChatModel(scheduledModel{model, pool}, tel, chatOpts...),
		Tracer:      tp.Tracer("genaitrace"),
		Requests:    firstPositive(opts.requests, sc.Traffic.Requests),
		Concurrency: firstPositive(opts.concurrency, sc.Traffic.Concurrency),
		Stream:      !opts.call && (sc.Traffic.Stream == nil || *sc.Traffic.Stream),
		Timeout:     opts.timeout,
	}
	if sc.Traffic.Rate != "" {
		if driver.Rate, err = sim.ParseRate(sc.Traffic.Rate); err != nil {
			return err
		}
	}

	ctx = tracectx.WithPropagation(ctx, settings.ContextPropagation)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats, err := driver.Run(ctx)
	if err != nil {
		return err
	}
	return json.NewEncoder(opts.errOut).Encode(stats)
}

// scheduledModel delivers streams from a worker pool so that chunks arrive on
// goroutines other than the caller's.
type scheduledModel struct {
	genai.ChatModel
	pool *flux.WorkerPool
}

func (m scheduledModel) Stream(ctx context.Context, req *genai.ChatRequest) flux.Publisher[*genai.ChatChunk] {
	return flux.SubscribeOn(m.ChatModel.Stream(ctx, req), m.pool)
}

func firstPositive(vs ...int) int {
	for _, v := range vs {
		if v > 0 {
			return v
		}
	}
	return 0
}
