// Package runner assembles a maxe run from configuration: signal relay,
// search kernel, engine, checkpoint store and diagnostics.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/Sumatoshi-tech/maxe/pkg/checkpoint"
	"github.com/Sumatoshi-tech/maxe/pkg/config"
	"github.com/Sumatoshi-tech/maxe/pkg/coordinator"
	"github.com/Sumatoshi-tech/maxe/pkg/engine"
	"github.com/Sumatoshi-tech/maxe/pkg/observability"
	"github.com/Sumatoshi-tech/maxe/pkg/persist"
	"github.com/Sumatoshi-tech/maxe/pkg/search"
	"github.com/Sumatoshi-tech/maxe/pkg/signals"
	"github.com/Sumatoshi-tech/maxe/pkg/version"
)

// StdoutPath selects standard output as the search output.
const StdoutPath = "-"

const diagnosticsShutdownTimeout = 2 * time.Second

// Snapshot is the checkpoint payload of a search run.
type Snapshot = engine.Snapshot[search.State, search.ChunkResult]

// Options carries the collaborators of a run. Zero values select the
// process defaults.
type Options struct {
	// Fresh ignores an existing artifact and starts from generation 0.
	Fresh bool

	// FS holds the artifact and the output file. Defaults to the OS.
	FS afero.Fs

	// Stdout receives the output when search.output is "-".
	Stdout io.Writer

	// Strategy overrides the build's execution strategy.
	Strategy coordinator.Strategy

	// Counters overrides the process counters, e.g. to inject requests.
	Counters *signals.Counters

	Logger         *slog.Logger
	Tracer         trace.Tracer
	Metrics        *observability.ControlMetrics
	MetricsHandler http.Handler
}

// Report describes a finished run.
type Report struct {
	Outcome     coordinator.Outcome
	RunID       string
	ResumedFrom string
	Generation  int
	Checkpoints uint64
	Stats       []search.GenerationStats
}

// Run executes one search run. The returned error is the run's failure,
// if any; Report.Outcome is meaningful either way once the engine started.
func Run(ctx context.Context, cfg *config.Config, opts Options) (Report, error) {
	opts.applyDefaults()

	logger := opts.Logger

	if cfg.Checkpoint.Lock {
		lock, err := checkpoint.AcquireLock(ctx, cfg.Checkpoint.Path, cfg.Checkpoint.LockTimeout)
		if err != nil {
			return Report{}, err
		}

		defer func() {
			releaseErr := lock.Release()
			if releaseErr != nil {
				logger.Warn("release lock", slog.Any("error", releaseErr))
			}
		}()
	}

	strategy := opts.Strategy
	if strategy == nil {
		strategy = engine.DefaultStrategy(cfg.Control.Workers)
	}

	store, err := newStore(cfg, opts, strategy)
	if err != nil {
		return Report{}, err
	}

	snap, resumed, err := loadSnapshot(cfg, opts, store)
	if err != nil {
		return Report{}, err
	}

	report := Report{RunID: store.Identity.RunID, ResumedFrom: store.Identity.ResumedFrom}

	out, err := openOutput(cfg, opts, snap.Kernel.Written)
	if err != nil {
		return report, err
	}

	kernel := search.NewKernel(search.Config{
		MaxGeneration: cfg.Search.MaxGeneration,
		ChunkSize:     cfg.Search.ChunkSize,
		Output:        out,
		Logger:        logger,
		Metrics:       opts.Metrics,
	})

	eng, err := engine.New[search.State, search.ChunkResult](kernel, newSaver(store, out, opts.Metrics), opts.Counters,
		engine.Config{
			Strategy: strategy,
			Control: coordinator.Config{
				FlushOnBreak:    cfg.Checkpoint.FlushOnBreak,
				GracePeriod:     cfg.Control.GracePeriod,
				EscalationGrace: cfg.Control.EscalationGrace,
				RetryInterval:   cfg.Checkpoint.RetryInterval,
				PollInterval:    cfg.Control.PollInterval,
				Tracer:          opts.Tracer,
			},
			Logger:  logger,
			Metrics: opts.Metrics,
		})
	if err != nil {
		return report, errors.Join(err, out.Close())
	}

	if resumed {
		err = eng.Resume(snap)
		if err != nil {
			return report, errors.Join(fmt.Errorf("resume: %w", err), out.Close())
		}

		kernel.ExtendTo(cfg.Search.MaxGeneration)
	}

	relay, err := newRelay(cfg, opts.Counters)
	if err != nil {
		return report, errors.Join(err, out.Close())
	}

	relay.Start()
	defer relay.Stop()

	diag, err := startDiagnostics(cfg, opts, eng.Coordinator())
	if err != nil {
		return report, errors.Join(err, out.Close())
	}

	if diag != nil {
		defer stopDiagnostics(diag, logger)
	}

	logger.InfoContext(ctx, version.Program()+" "+version.String(),
		slog.String("strategy", strategy.Name()),
		slog.Int("workers", strategy.Parties()),
		slog.String("run_id", report.RunID),
		slog.String("resumed_from", report.ResumedFrom),
		slog.Int("generation", kernel.State().Generation),
		slog.Int("max_generation", kernel.State().MaxGeneration),
		slog.String("checkpoint", cfg.Checkpoint.Path))

	outcome, runErr := eng.Run(ctx)

	report.Outcome = outcome
	report.Generation = kernel.State().Generation
	report.Checkpoints = eng.Coordinator().Sequence()
	report.Stats = kernel.Stats()

	return report, errors.Join(runErr, out.Close())
}

func (o *Options) applyDefaults() {
	if o.FS == nil {
		o.FS = afero.NewOsFs()
	}

	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}

	if o.Counters == nil {
		o.Counters = &signals.Counters{}
	}

	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	if o.Tracer == nil {
		o.Tracer = tracenoop.NewTracerProvider().Tracer("")
	}
}

func newStore(cfg *config.Config, opts Options, strategy coordinator.Strategy) (*checkpoint.Manager, error) {
	codec, err := persist.CodecByName(cfg.Checkpoint.CodecName())
	if err != nil {
		return nil, err
	}

	store := checkpoint.NewManager(opts.FS, cfg.Checkpoint.Path)
	store.Codec = codec
	store.Logger = opts.Logger
	store.Tracer = opts.Tracer
	store.Identity = checkpoint.Identity{
		Program:      version.Program(),
		BuildVersion: version.Build(),
		Mode:         version.Mode(),
		Workers:      strategy.Parties(),
		RunID:        checkpoint.NewRunID(),
	}

	return store, nil
}

// loadSnapshot returns the snapshot to resume from, if any. A missing
// artifact starts a fresh run; a damaged one is an error so it is never
// silently replaced. Fresh runs discard whatever artifact is there.
func loadSnapshot(cfg *config.Config, opts Options, store *checkpoint.Manager) (Snapshot, bool, error) {
	if opts.Fresh {
		return Snapshot{}, false, discard(cfg, opts, store)
	}

	if !cfg.Checkpoint.Resume {
		return Snapshot{}, false, nil
	}

	var snap Snapshot

	meta, err := store.Load(&snap)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return Snapshot{}, false, nil
	}

	if err != nil {
		return Snapshot{}, false, fmt.Errorf("load %s: %w", cfg.Checkpoint.Path, err)
	}

	store.Identity.ResumedFrom = meta.RunID

	opts.Logger.Info("found checkpoint",
		slog.String("path", cfg.Checkpoint.Path),
		slog.String("run_id", meta.RunID),
		slog.String("mode", meta.Mode),
		slog.Uint64("seq", meta.Sequence),
		slog.Int("generation", meta.Progress.Generation),
		slog.Int("completed_units", meta.Progress.CompletedUnits))

	return snap, true, nil
}

func discard(cfg *config.Config, opts Options, store *checkpoint.Manager) error {
	found, err := store.Exists()
	if err != nil || !found {
		return err
	}

	err = store.Clear()
	if err != nil {
		return err
	}

	opts.Logger.Info("discarded checkpoint", slog.String("path", cfg.Checkpoint.Path))

	return nil
}

// output is the search sink. Sync makes emitted lines durable before an
// artifact that counts them is written.
type output interface {
	io.Writer
	Sync() error
	Close() error
}

type stdout struct{ io.Writer }

func (stdout) Sync() error  { return nil }
func (stdout) Close() error { return nil }

func openOutput(cfg *config.Config, opts Options, offset int64) (output, error) {
	if cfg.Search.Output == StdoutPath {
		return stdout{opts.Stdout}, nil
	}

	f, err := search.OpenOutput(opts.FS, cfg.Search.Output, offset)
	if err != nil {
		return nil, err
	}

	return f, nil
}

func newSaver(store *checkpoint.Manager, out output, metrics *observability.ControlMetrics) engine.Saver[search.State, search.ChunkResult] {
	return engine.SaverFunc[search.State, search.ChunkResult](func(ctx context.Context, seq uint64, snap Snapshot) error {
		err := out.Sync()
		if err != nil {
			return fmt.Errorf("sync output: %w", err)
		}

		meta, err := store.Save(ctx, seq, progressOf(snap), snap)
		if err != nil {
			return err
		}

		metrics.RecordCheckpointSize(ctx, meta.PayloadSize)

		return nil
	})
}

func progressOf(snap Snapshot) checkpoint.Progress {
	k := snap.Kernel

	units := 0
	if k.ChunkSize > 0 {
		units = (len(k.Pool) + k.ChunkSize - 1) / k.ChunkSize
	}

	return checkpoint.Progress{
		Generation:     k.Generation,
		MaxGeneration:  k.MaxGeneration,
		PoolSize:       len(k.Pool),
		Units:          units,
		CompletedUnits: len(snap.Completed),
	}
}

func newRelay(cfg *config.Config, counters *signals.Counters) (*signals.Relay, error) {
	breaks, err := signals.ParseSignals(cfg.Control.BreakSignals)
	if err != nil {
		return nil, err
	}

	dumps, err := signals.ParseSignals(cfg.Control.DumpSignals)
	if err != nil {
		return nil, err
	}

	return signals.NewRelay(signals.RelayConfig{
		Counters:     counters,
		Break:        breaks,
		Dump:         dumps,
		DumpInterval: cfg.Checkpoint.Interval,
	})
}
