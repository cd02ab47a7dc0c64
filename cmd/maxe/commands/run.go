package commands

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/maxe/pkg/config"
	"github.com/Sumatoshi-tech/maxe/pkg/exitcode"
	"github.com/Sumatoshi-tech/maxe/pkg/observability"
	"github.com/Sumatoshi-tech/maxe/pkg/runner"
)

var runFlagKeys = map[string]string{
	"max-generation":   "search.max_generation",
	"chunk-size":       "search.chunk_size",
	"output":           "search.output",
	"workers":          "control.workers",
	"grace":            "control.grace_period",
	"escalation-grace": "control.escalation_grace",
	"checkpoint":       "checkpoint.path",
	"codec":            "checkpoint.codec",
	"compress":         "checkpoint.compress",
	"interval":         "checkpoint.interval",
	"flush-on-break":   "checkpoint.flush_on_break",
	"resume":           "checkpoint.resume",
	"log-level":        "logging.level",
	"log-json":         "logging.json",
	"diagnostics-addr": "telemetry.diagnostics_addr",
}

type runCommand struct {
	g     *globals
	fresh bool
}

func newRunCommand(g *globals) *cobra.Command {
	rc := &runCommand{g: g}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start or resume a search",
		Long: `Run the staircase search. An existing checkpoint is resumed unless
--fresh is given, which deletes it first.

Exit codes:
  0  completed
  1  error, including a final checkpoint on break that could not be
     written; the previous checkpoint is left in place
  2  stopped on break
  3  forced after the grace period ran out`,
		Args: cobra.NoArgs,
		RunE: rc.run,
	}

	f := cmd.Flags()
	f.Int("max-generation", config.DefaultMaxGeneration, "last generation to compute")
	f.Int("chunk-size", config.DefaultChunkSize, "staircases per work unit")
	f.StringP("output", "o", config.DefaultOutput, "output file for extremal staircases (- for stdout)")
	f.IntP("workers", "w", config.DefaultWorkers, "workers in threaded builds (0 = CPU count)")
	f.Duration("grace", config.DefaultGracePeriod, "wait for workers after a break (0 = until a second break)")
	f.Duration("escalation-grace", config.DefaultEscalationGrace, "wait for workers after a repeated break")
	f.String("checkpoint", config.DefaultCheckpointPath, "checkpoint artifact path")
	f.String("codec", config.DefaultCodec, "checkpoint payload codec: gob or json")
	f.Bool("compress", config.DefaultCompress, "compress the checkpoint payload with lz4")
	f.Duration("interval", config.DefaultDumpInterval, "write a checkpoint every interval (0 = only on request)")
	f.Bool("flush-on-break", config.DefaultFlushOnBreak, "write a checkpoint before stopping on break")
	f.Bool("resume", config.DefaultResume, "resume from the checkpoint if present")
	f.String("log-level", config.DefaultLogLevel, "log level: debug, info, warn, error")
	f.Bool("log-json", config.DefaultLogJSON, "log in JSON")
	f.String("diagnostics-addr", config.DefaultDiagnosticsAddr, "serve /healthz, /readyz and /metrics on this address")
	f.BoolVar(&rc.fresh, "fresh", false, "ignore any checkpoint and start from generation 0")

	return cmd
}

func (rc *runCommand) run(cmd *cobra.Command, _ []string) error {
	cfg, err := rc.g.loadConfig(cmd.Flags(), runFlagKeys)
	if err != nil {
		return err
	}

	oc, err := runner.Telemetry(cfg)
	if err != nil {
		return err
	}

	providers, err := observability.Init(oc)
	if err != nil {
		return err
	}

	defer func() {
		shutdownErr := providers.Shutdown(context.Background())
		if shutdownErr != nil {
			providers.Logger.Warn("telemetry shutdown", slog.Any("error", shutdownErr))
		}
	}()

	metrics, err := observability.NewControlMetrics(providers.Meter)
	if err != nil {
		return err
	}

	report, runErr := runner.Run(cmd.Context(), cfg, runner.Options{
		Fresh:          rc.fresh,
		Stdout:         cmd.OutOrStdout(),
		Logger:         providers.Logger,
		Tracer:         providers.Tracer,
		Metrics:        metrics,
		MetricsHandler: providers.MetricsHandler,
	})

	code := exitcode.For(report.Outcome, runErr)

	providers.Logger.Info("exit",
		slog.String("status", exitcode.Name(code)),
		slog.Int("code", code),
		slog.Int("generation", report.Generation),
		slog.Uint64("checkpoints", report.Checkpoints))

	if code != exitcode.Completed {
		return &ExitError{Code: code, Err: runErr}
	}

	return nil
}
