package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/macropower/watchdo/pkg/config"
	"github.com/macropower/watchdo/pkg/debounce"
	"github.com/macropower/watchdo/pkg/log"
	"github.com/macropower/watchdo/pkg/orchestrator"
	"github.com/macropower/watchdo/pkg/task"
	"github.com/macropower/watchdo/pkg/tracing"
	"github.com/macropower/watchdo/pkg/version"
)

const (
	cmdExamples = `  # Run the tasks in ./watchdo.yaml:
  watchdo

  # Merge an overlay file and print the result:
  watchdo -c local.yaml --show-config

  # Restart sooner, and give commands less time to exit:
  watchdo --debounce 250ms --grace-period 2s

  # Export spans to an OTLP collector:
  watchdo --trace-exporter otlp --trace-endpoint localhost:4317`

	traceShutdownTimeout = 5 * time.Second
)

type RunArgs struct {
	*RootArgs

	TraceExporter string
	TraceEndpoint string
	Pager         string
	ConfigPaths   []string
	Debounce      time.Duration
	GracePeriod   time.Duration
	Verbose       bool
	ShowConfig    bool
	NoUserConfig  bool
}

func NewRunArgs(rootArgs *RootArgs) *RunArgs {
	return &RunArgs{
		RootArgs: rootArgs,
	}
}

func (ra *RunArgs) AddFlags(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&ra.ConfigPaths, "config", "c", nil,
		"Configuration file merged after "+config.FileName+", may be repeated")
	cmd.Flags().BoolVar(&ra.NoUserConfig, "no-user-config", false,
		"Do not merge the user configuration file")
	cmd.Flags().BoolVarP(&ra.Verbose, "verbose", "v", false, "Print the configuration before starting")
	cmd.Flags().BoolVar(&ra.ShowConfig, "show-config", false, "Print the merged configuration and exit")
	cmd.Flags().DurationVar(&ra.Debounce, "debounce", debounce.DefaultDelay,
		"Delay between a change and the restart, for tasks that do not set one")
	cmd.Flags().DurationVar(&ra.GracePeriod, "grace-period", debounce.DefaultGracePeriod,
		"Time a command has to exit after SIGHUP before it is killed, for tasks that do not set one")
	cmd.Flags().StringVar(&ra.TraceExporter, "trace-exporter", string(tracing.ExporterNone),
		fmt.Sprintf("Trace exporter, one of: %s", tracing.AllExporters))
	cmd.Flags().StringVar(&ra.TraceEndpoint, "trace-endpoint", "",
		"OTLP collector address, or the output file of the file exporter")
	cmd.Flags().StringVar(&ra.Pager, "pager", "less", "Pager suggested for reading task logs, empty to hide")

	err := cmd.MarkFlagFilename("config", "yaml", "yml")
	if err != nil {
		panic(fmt.Errorf("mark config flag: %w", err))
	}

	exporters := make([]string, 0, len(tracing.AllExporters))
	for _, e := range tracing.AllExporters {
		exporters = append(exporters, string(e))
	}

	err = cmd.RegisterFlagCompletionFunc("trace-exporter",
		cobra.FixedCompletions(exporters, cobra.ShellCompDirectiveNoFileComp),
	)
	if err != nil {
		panic(err)
	}
}

func NewRunCmd(ra *RunArgs) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Default command, watches and runs the configured tasks",
		Example: cmdExamples,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, ra)
		},
	}
	ra.AddFlags(cmd)

	bindEnvVars(cmd)

	return cmd
}

func run(cmd *cobra.Command, ra *RunArgs) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	stdout := cmd.OutOrStdout()
	stderr := cmd.ErrOrStderr()

	opts := []config.LoadOpt{
		config.WithFiles(ra.ConfigPaths...),
		config.WithDefaults(ra.Debounce, ra.GracePeriod),
		config.WithColor(isTerminal(stderr)),
	}
	if !ra.NoUserConfig {
		opts = append(opts, config.WithUserConfig(config.UserConfigPath()))
	}

	if ra.ShowConfig {
		cfg, err := config.Load(ctx, append(opts, config.WithoutNormalize())...)
		if err != nil {
			return err //nolint:wrapcheck // Already wraps config.ErrConfiguration.
		}

		return printConfig(stdout, cfg)
	}

	// Logs written while loading are held back until the banner is printed.
	logBuf := log.NewCircularBuffer(log.DefaultBufferCapacity)

	logHandler, err := log.CreateHandlerWithStrings(logBuf, ra.Level(), ra.LogFormat)
	if err != nil {
		return fmt.Errorf("create log handler: %w", err)
	}

	cfg, err := config.Load(log.NewContext(ctx, slog.New(logHandler)), opts...)
	if err != nil {
		flushLogs(stderr, logBuf)

		return err //nolint:wrapcheck // Already wraps config.ErrConfiguration.
	}

	descs := cfg.Descriptors()

	if ra.Verbose {
		err = printConfig(stdout, cfg)
		if err != nil {
			return err
		}
	}

	err = printBanner(stdout, descs, ra.Pager)
	if err != nil {
		return err
	}

	flushLogs(stderr, logBuf)

	slog.DebugContext(ctx, "starting "+cmdName, version.Info()...)

	tp, err := tracing.NewProvider(ctx, tracing.Config{
		Writer:   stdout,
		Exporter: tracing.Exporter(ra.TraceExporter),
		Endpoint: ra.TraceEndpoint,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), traceShutdownTimeout)
		defer cancel()

		err := tp.Shutdown(shutdownCtx)
		if err != nil {
			slog.WarnContext(ctx, "flush traces", slog.Any("error", err))
		}
	}()

	o, err := orchestrator.New(descs, task.WithStderr(stderr))
	if err != nil {
		return fmt.Errorf("create tasks: %w", err)
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGHUP, syscall.SIGTERM)
	defer stop()

	go func() {
		<-sigCtx.Done()
		mustN(fmt.Fprintln(stdout, "\nShutting down..."))
		o.Shutdown()
	}()

	// The orchestrator only stops through Shutdown, so the message above is
	// always printed first.
	err = o.Run(context.WithoutCancel(sigCtx))

	mustN(fmt.Fprintln(stdout, "done!"))

	logSummary(ctx, o.Tasks())

	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	return nil
}

// printConfig writes cfg as YAML, highlighted when w is a terminal.
func printConfig(w io.Writer, cfg *config.Config) error {
	data, err := cfg.Encode()
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	err = highlightYAML(w, string(data), colorProfile(w))
	if err != nil {
		return fmt.Errorf("print config: %w", err)
	}

	return nil
}

func flushLogs(w io.Writer, buf *log.CircularBuffer) {
	if dropped := buf.Dropped(); dropped > 0 {
		slog.Warn("startup logs truncated", slog.Int("dropped", dropped))
	}

	_, err := buf.WriteTo(w)
	if err != nil {
		panic(err)
	}

	buf.Reset()
}

// logSummary logs how often each task ran and the size of its log.
func logSummary(ctx context.Context, tasks []*task.Coordinator) {
	for _, c := range tasks {
		attrs := []any{
			slog.String("task", c.Name()),
			slog.Int("runs", c.Launches()),
		}

		info, err := os.Stat(c.Descriptor().LogPath)
		if err == nil {
			//nolint:gosec // G115: file sizes are not negative.
			attrs = append(attrs, slog.String("log_size", humanize.Bytes(uint64(info.Size()))))
		}

		slog.InfoContext(ctx, "task summary", attrs...)
	}
}
