// Package engine drives a staged Kernel with one or many workers under the
// coordinator's break/dump protocol.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/Sumatoshi-tech/maxe/pkg/coordinator"
	"github.com/Sumatoshi-tech/maxe/pkg/observability"
	"github.com/Sumatoshi-tech/maxe/pkg/signals"
)

// ErrKernelPanic is returned when a unit panics.
var ErrKernelPanic = errors.New("kernel panicked")

// ErrIncompleteStage is returned when a stage is folded with units missing.
var ErrIncompleteStage = errors.New("stage folded with missing units")

// Saver persists a snapshot as checkpoint number seq.
type Saver[S, R any] interface {
	Save(ctx context.Context, seq uint64, snap Snapshot[S, R]) error
}

// SaverFunc adapts a function to Saver.
type SaverFunc[S, R any] func(ctx context.Context, seq uint64, snap Snapshot[S, R]) error

// Save implements Saver.
func (f SaverFunc[S, R]) Save(ctx context.Context, seq uint64, snap Snapshot[S, R]) error {
	return f(ctx, seq, snap)
}

// Config holds engine parameters.
type Config struct {
	// Strategy runs the workers. Nil selects DefaultStrategy(Workers).
	Strategy coordinator.Strategy

	// Workers sizes the default strategy in threaded builds.
	Workers int

	// Control configures the coordinator. Parties, Logger, Metrics and
	// Tracer are filled in from the engine when unset.
	Control coordinator.Config

	Logger  *slog.Logger
	Metrics *observability.ControlMetrics
}

// Engine runs a kernel to completion, to a break, or to forced termination.
type Engine[S, R any] struct {
	kernel   Kernel[S, R]
	saver    Saver[S, R]
	counters *signals.Counters
	strategy coordinator.Strategy
	coord    *coordinator.Coordinator
	logger   *slog.Logger
	metrics  *observability.ControlMetrics

	queue Queue[int]

	// results[w] holds units completed by worker w in the current stage.
	// Only worker w writes it; the serializer reads it while w is parked.
	results []map[int]R

	// carried holds units restored from a checkpoint.
	carried map[int]R
}

// New builds an engine. The kernel's current stage is queued in full;
// call Resume to restore a snapshot first.
func New[S, R any](kernel Kernel[S, R], saver Saver[S, R], counters *signals.Counters, cfg Config) (*Engine[S, R], error) {
	if kernel == nil || saver == nil || counters == nil {
		return nil, errors.New("engine: nil kernel, saver or counters")
	}

	strategy := cfg.Strategy
	if strategy == nil {
		strategy = DefaultStrategy(cfg.Workers)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine[S, R]{
		kernel:   kernel,
		saver:    saver,
		counters: counters,
		strategy: strategy,
		logger:   logger,
		metrics:  cfg.Metrics,
		results:  make([]map[int]R, strategy.Parties()),
		carried:  make(map[int]R),
	}

	for i := range e.results {
		e.results[i] = make(map[int]R)
	}

	ctl := cfg.Control
	ctl.Parties = strategy.Parties()

	if ctl.Logger == nil {
		ctl.Logger = logger
	}

	if ctl.Metrics == nil {
		ctl.Metrics = cfg.Metrics
	}

	coord, err := coordinator.New(ctl, counters, e)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	e.coord = coord
	e.refill()

	return e, nil
}

// Coordinator exposes the protocol state, e.g. for readiness checks.
func (e *Engine[S, R]) Coordinator() *coordinator.Coordinator { return e.coord }

// Strategy returns the execution strategy in use.
func (e *Engine[S, R]) Strategy() coordinator.Strategy { return e.strategy }

// Resume restores snap and queues only the units it does not already hold.
// Must be called before Run.
func (e *Engine[S, R]) Resume(snap Snapshot[S, R]) error {
	err := e.kernel.Restore(snap.Kernel)
	if err != nil {
		return fmt.Errorf("restore kernel: %w", err)
	}

	units := e.kernel.Units()

	for u := range snap.Completed {
		if u < 0 || u >= units {
			return fmt.Errorf("%w: restored unit %d outside stage of %d", ErrIncompleteStage, u, units)
		}
	}

	e.carried = maps.Clone(snap.Completed)
	if e.carried == nil {
		e.carried = make(map[int]R)
	}

	e.queue = Queue[int]{}
	e.refill()

	e.logger.Info("resumed from checkpoint",
		slog.Int("carried_units", len(e.carried)),
		slog.Int("queued_units", e.queue.Len()))

	return nil
}

// Run executes the kernel until it completes, stops on break, or is
// forced. Cancelling ctx counts as a break request. On forced termination
// Run returns without waiting for workers stuck inside a unit.
func (e *Engine[S, R]) Run(ctx context.Context) (coordinator.Outcome, error) {
	if e.kernel.Done() {
		return coordinator.Completed, nil
	}

	// A restored stage may have been extended after Resume.
	if e.queue.Len() == 0 {
		e.refill()
	}

	e.coord.Start()
	defer e.coord.Stop()

	stop := context.AfterFunc(ctx, e.counters.NotifyBreak)
	defer stop()

	start := time.Now()

	errCh := make(chan error, 1)

	go func() {
		errCh <- e.strategy.Run(ctx, e.work)
	}()

	var runErr error

	select {
	case runErr = <-errCh:
	case <-e.coord.Forced():
		e.logger.Error("abandoning workers stuck inside a unit")
	}

	outcome, err := e.coord.Result()

	e.logger.Info("run finished",
		slog.String("outcome", outcome.String()),
		slog.Duration("elapsed", time.Since(start)),
		slog.Uint64("checkpoints", e.coord.Sequence()))

	return outcome, errors.Join(runErr, err)
}

func (e *Engine[S, R]) work(ctx context.Context, id int) error {
	ctx = observability.WithWorker(ctx, id)
	p := e.coord.Join(id)
	done := e.results[id]

	for {
		switch e.coord.SafePoint(ctx, p) {
		case coordinator.Resume:
		case coordinator.Stop, coordinator.Abort:
			return nil
		}

		unit, ok := e.queue.Pop()
		if !ok {
			if e.coord.Drained(ctx, p) != coordinator.Resume {
				return nil
			}

			continue
		}

		r, err := e.execute(unit)
		if err != nil {
			e.coord.Fail(err)

			return err
		}

		done[unit] = r

		e.metrics.RecordUnits(ctx, 1)
	}
}

func (e *Engine[S, R]) execute(unit int) (r R, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("%w: unit %d: %v", ErrKernelPanic, unit, v)
		}
	}()

	return e.kernel.Execute(unit), nil
}

// Settle implements coordinator.Host.
func (e *Engine[S, R]) Settle(ctx context.Context) (bool, error) {
	if e.queue.Len() > 0 {
		return false, nil
	}

	completed := e.completed()
	units := e.kernel.Units()

	if len(completed) != units {
		return false, fmt.Errorf("%w: have %d of %d", ErrIncompleteStage, len(completed), units)
	}

	results := make([]R, units)
	for u, r := range completed {
		results[u] = r
	}

	err := e.kernel.Advance(results)
	if err != nil {
		return false, fmt.Errorf("advance: %w", err)
	}

	for _, m := range e.results {
		clear(m)
	}

	clear(e.carried)

	if e.kernel.Done() {
		return true, nil
	}

	e.refill()

	e.logger.DebugContext(ctx, "stage folded", slog.Int("next_units", e.kernel.Units()))

	return false, nil
}

// Serialize implements coordinator.Host.
func (e *Engine[S, R]) Serialize(ctx context.Context, seq uint64) error {
	return e.saver.Save(ctx, seq, Snapshot[S, R]{
		Kernel:    e.kernel.State(),
		Completed: e.completed(),
	})
}

// completed merges restored and freshly computed units.
func (e *Engine[S, R]) completed() map[int]R {
	out := maps.Clone(e.carried)
	if out == nil {
		out = make(map[int]R)
	}

	for _, m := range e.results {
		maps.Copy(out, m)
	}

	return out
}

// refill queues every unit of the current stage not already carried.
func (e *Engine[S, R]) refill() {
	if e.kernel.Done() {
		return
	}

	for u := range e.kernel.Units() {
		if _, ok := e.carried[u]; !ok {
			e.queue.Push(u)
		}
	}
}
