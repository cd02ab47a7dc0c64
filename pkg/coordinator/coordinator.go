// Package coordinator runs the pause protocol shared by every execution
// mode: workers poll at safe points, park at a barrier when a request is
// pending, and the last worker to park settles the stage, writes the
// checkpoint, and decides whether the run resumes or ends.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/Sumatoshi-tech/maxe/pkg/control"
	"github.com/Sumatoshi-tech/maxe/pkg/observability"
	"github.com/Sumatoshi-tech/maxe/pkg/signals"
)

// Default timings.
const (
	// DefaultEscalationGrace bounds the wait for stragglers once a break is
	// repeated.
	DefaultEscalationGrace = 5 * time.Second

	// DefaultRetryInterval is the minimum gap between a failed checkpoint
	// write and the next attempt.
	DefaultRetryInterval = 30 * time.Second

	// DefaultPollInterval is how often the watchdog samples the counters.
	DefaultPollInterval = 50 * time.Millisecond
)

// Host is the computation being coordinated. Both methods are only called
// by the serializing worker while every other worker is parked.
type Host interface {
	// Settle folds a finished stage into the kernel if the work queue has
	// drained and reports whether the whole run is complete.
	Settle(ctx context.Context) (done bool, err error)

	// Serialize writes checkpoint number seq.
	Serialize(ctx context.Context, seq uint64) error
}

// Config holds coordinator parameters.
type Config struct {
	// Parties is the number of workers. Must match the strategy.
	Parties int

	// FlushOnBreak writes a final checkpoint before stopping on break.
	FlushOnBreak bool

	// GracePeriod bounds the wait for quiescence after the first break.
	// Zero waits until a repeated break sets a deadline.
	GracePeriod time.Duration

	// EscalationGrace is the remaining wait after a repeated break.
	EscalationGrace time.Duration

	// RetryInterval delays the next attempt after a failed checkpoint.
	RetryInterval time.Duration

	// PollInterval is the watchdog sampling period.
	PollInterval time.Duration

	Logger  *slog.Logger
	Metrics *observability.ControlMetrics
	Tracer  trace.Tracer
}

func (c *Config) applyDefaults() {
	if c.EscalationGrace <= 0 {
		c.EscalationGrace = DefaultEscalationGrace
	}

	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}

	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}

	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	if c.Tracer == nil {
		c.Tracer = tracenoop.NewTracerProvider().Tracer("")
	}
}

// Participant is one worker's handle. It is not safe for concurrent use.
type Participant struct {
	id  int
	obs control.Observation
}

// ID returns the worker index.
func (p *Participant) ID() int { return p.id }

// Coordinator implements the pause protocol.
type Coordinator struct {
	cfg      Config
	counters *signals.Counters
	host     Host
	barrier  *Barrier
	logger   *slog.Logger

	state   atomic.Int32
	pausing atomic.Bool
	retryAt atomic.Int64
	seq     atomic.Uint64

	// mu guards the fields below.
	mu             sync.Mutex
	obs            control.Observation
	breakRequested bool
	dumpPending    bool
	quiesced       bool
	ended          bool
	deadline       time.Time
	outcome        Outcome
	err            error

	forced   chan struct{}
	finished chan struct{}
	finOnce  sync.Once

	watchStop chan struct{}
	watchDone chan struct{}
	watching  atomic.Bool
	startOnce sync.Once
	watchOnce sync.Once
}

// New returns a coordinator for host, fed by counters.
func New(cfg Config, counters *signals.Counters, host Host) (*Coordinator, error) {
	if cfg.Parties <= 0 {
		return nil, ErrInvalidParties
	}

	if counters == nil || host == nil {
		return nil, errors.New("coordinator: nil counters or host")
	}

	cfg.applyDefaults()

	c := &Coordinator{
		cfg:       cfg,
		counters:  counters,
		host:      host,
		barrier:   NewBarrier(cfg.Parties),
		logger:    cfg.Logger,
		forced:    make(chan struct{}),
		finished:  make(chan struct{}),
		watchStop: make(chan struct{}),
		watchDone: make(chan struct{}),
	}

	c.state.Store(int32(Running))

	return c, nil
}

// Join returns the participant handle for worker id. Its observation starts
// at zero, so notifications delivered before the run started are honored.
func (c *Coordinator) Join(id int) *Participant {
	return &Participant{id: id}
}

// State returns the current protocol state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Forced is closed when the run is forcibly terminated.
func (c *Coordinator) Forced() <-chan struct{} { return c.forced }

// Finished is closed once the outcome is decided, whichever way.
func (c *Coordinator) Finished() <-chan struct{} { return c.finished }

// Deadline returns the quiescence deadline, zero when none is set.
func (c *Coordinator) Deadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.deadline
}

// Sequence returns the number of the last checkpoint attempted.
func (c *Coordinator) Sequence() uint64 { return c.seq.Load() }

// Result returns the run outcome and the error, if any, that ended it.
// Only meaningful after Finished is closed.
func (c *Coordinator) Result() (Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.outcome, c.err
}

// Start launches the watchdog, which notices notifications while every
// worker is busy inside a long unit and enforces the break deadline.
func (c *Coordinator) Start() {
	c.startOnce.Do(func() {
		c.watching.Store(true)

		go c.watch()
	})
}

// Stop halts the watchdog and waits for it. Safe to call more than once and
// without Start.
func (c *Coordinator) Stop() {
	c.startOnce.Do(func() {})

	c.watchOnce.Do(func() {
		close(c.watchStop)

		if c.watching.Load() {
			<-c.watchDone
		}
	})
}

// SafePoint is called by a worker between units. It returns Resume when the
// worker should take the next unit, and otherwise how the worker must leave
// its loop. It may park the worker while a checkpoint is written.
func (c *Coordinator) SafePoint(ctx context.Context, p *Participant) Verdict {
	if req, _ := p.obs.Poll(c.counters); req != control.None {
		c.absorb(time.Now())
	}

	if c.retryDue() {
		c.pause(Quiescing)
	}

	if !c.pausing.Load() && !c.terminated() {
		return Resume
	}

	return c.park(ctx, p)
}

// Drained is called by a worker that found the work queue empty. It parks
// the worker until the stage is folded and the queue refilled.
func (c *Coordinator) Drained(ctx context.Context, p *Participant) Verdict {
	return c.park(ctx, p)
}

// Fail ends the run with err and releases every parked worker.
func (c *Coordinator) Fail(err error) {
	if err == nil {
		return
	}

	c.mu.Lock()
	c.ended = true
	c.err = errors.Join(c.err, err)
	c.mu.Unlock()

	c.state.Store(int32(Terminated))
	c.barrier.Break(Abort)
	c.finish()
}

func (c *Coordinator) park(ctx context.Context, p *Participant) Verdict {
	if c.terminated() {
		return c.barrier.Await(nil)
	}

	start := time.Now()
	v := c.barrier.Await(func() Verdict { return c.settle(ctx) })

	c.cfg.Metrics.RecordBarrierWait(ctx, time.Since(start))

	if v != Resume {
		c.logger.Debug("worker leaving",
			slog.Int("worker", p.id), slog.String("verdict", v.String()))
	}

	return v
}

func (c *Coordinator) terminated() bool {
	return c.State() == Terminated
}

// pause raises the shared flag so every worker parks at its next safe point.
func (c *Coordinator) pause(next State) {
	c.pausing.Store(true)
	c.state.CompareAndSwap(int32(Running), int32(next))
}

func (c *Coordinator) retryDue() bool {
	at := c.retryAt.Load()

	return at != 0 && time.Now().UnixNano() >= at
}

// absorb folds newly delivered notifications into the coordinator's pending
// set. Every path that sees the counters move goes through here, so each
// notification is accounted exactly once.
func (c *Coordinator) absorb(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.absorbLocked(now)
}

func (c *Coordinator) absorbLocked(now time.Time) {
	req, delta := c.obs.Poll(c.counters)
	if req == control.None {
		return
	}

	ctx := context.Background()

	if req.Has(control.Dump) {
		c.cfg.Metrics.RecordRequest(ctx, "dump", delta.Dumps)

		if !c.dumpPending {
			c.dumpPending = true
			c.logger.Info("dump requested", slog.Uint64("count", c.obs.Dumps()))
		}

		c.pause(Quiescing)
	}

	if req.Has(control.Break) {
		c.cfg.Metrics.RecordRequest(ctx, "break", delta.Breaks)

		repeats := delta.Breaks

		if !c.breakRequested {
			c.breakRequested = true
			repeats--

			if c.cfg.GracePeriod > 0 {
				c.deadline = now.Add(c.cfg.GracePeriod)
			}

			c.logger.Info("break requested", slog.Duration("grace", c.cfg.GracePeriod))
		}

		if repeats > 0 {
			c.escalateLocked(now)
		}

		c.pausing.Store(true)

		if c.State() != Terminated && !c.quiesced {
			c.state.Store(int32(Breaking))
		}
	}
}

// escalateLocked shortens the deadline. It never moves it later.
func (c *Coordinator) escalateLocked(now time.Time) {
	limit := now.Add(c.cfg.EscalationGrace)
	if c.deadline.IsZero() || limit.Before(c.deadline) {
		c.deadline = limit
	}

	c.cfg.Metrics.RecordEscalation(context.Background())
	c.logger.Warn("break repeated, shortening grace",
		slog.Time("deadline", c.deadline),
		slog.Int("parked", c.barrier.Arrived()),
		slog.Int("workers", c.barrier.Parties()))
}

// settle runs on the last worker to park, with every other worker parked.
func (c *Coordinator) settle(ctx context.Context) Verdict {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()

		return Abort
	}

	c.quiesced = true
	c.absorbLocked(time.Now())
	c.mu.Unlock()

	ctx, span := c.cfg.Tracer.Start(ctx, "maxe.episode")
	defer span.End()

	done, err := c.host.Settle(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "settle failed")

		return c.end(Completed, fmt.Errorf("settle: %w", err))
	}

	c.mu.Lock()
	breaking, dump := c.breakRequested, c.dumpPending
	dumpsSeen := c.obs.Dumps()
	c.mu.Unlock()

	wctx := context.WithoutCancel(ctx)

	switch {
	case breaking:
		span.SetAttributes(attribute.String("episode", "break"))
		c.state.Store(int32(Breaking))

		if c.cfg.FlushOnBreak || dump {
			if err := c.serialize(wctx); err != nil {
				return c.end(Stopped, err)
			}
		}

		return c.end(Stopped, nil)

	case done:
		span.SetAttributes(attribute.String("episode", "complete"))
		c.state.Store(int32(Dumping))

		if err := c.serialize(wctx); err != nil {
			return c.end(Completed, err)
		}

		return c.end(Completed, nil)

	case dump && !c.retryPending(time.Now()):
		span.SetAttributes(attribute.String("episode", "dump"))
		c.state.Store(int32(Dumping))

		if err := c.serialize(wctx); err != nil {
			c.scheduleRetry()
		} else {
			c.mu.Lock()
			// A dump delivered while writing asks for a newer checkpoint.
			c.dumpPending = c.obs.Dumps() != dumpsSeen
			c.mu.Unlock()
			c.retryAt.Store(0)
		}

	default:
		span.SetAttributes(attribute.String("episode", "stage"))
	}

	c.state.Store(int32(Resuming))
	c.resume(time.Now())

	return Resume
}

// resume releases the episode. Requests absorbed while the episode ran keep
// the pause flag raised so the next safe point starts a new episode.
func (c *Coordinator) resume(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.quiesced = false

	switch {
	case c.breakRequested:
		c.pausing.Store(true)
		c.state.Store(int32(Breaking))
	case c.dumpPending && !c.retryPending(now):
		c.pausing.Store(true)
		c.state.Store(int32(Quiescing))
	default:
		c.pausing.Store(false)
		c.state.Store(int32(Running))
	}
}

// retryPending reports whether a failed dump is still waiting out its
// retry interval.
func (c *Coordinator) retryPending(now time.Time) bool {
	at := c.retryAt.Load()

	return at != 0 && now.UnixNano() < at
}

func (c *Coordinator) scheduleRetry() {
	at := time.Now().Add(c.cfg.RetryInterval)
	c.retryAt.Store(at.UnixNano())

	c.logger.Warn("checkpoint will be retried", slog.Time("at", at))
}

func (c *Coordinator) serialize(ctx context.Context) error {
	seq := c.seq.Add(1)
	start := time.Now()

	ctx, span := c.cfg.Tracer.Start(ctx, "maxe.checkpoint",
		trace.WithAttributes(attribute.Int64("checkpoint.seq", int64(seq))))
	defer span.End()

	err := c.host.Serialize(ctx, seq)
	elapsed := time.Since(start)

	c.cfg.Metrics.RecordCheckpoint(ctx, err == nil, elapsed)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "checkpoint failed")
		c.logger.Error("checkpoint failed",
			slog.Uint64("seq", seq), slog.Duration("elapsed", elapsed), slog.Any("error", err))

		return fmt.Errorf("%w: %w", ErrSerialization, err)
	}

	c.logger.Info("checkpoint written", slog.Uint64("seq", seq), slog.Duration("elapsed", elapsed))

	return nil
}

// end records the outcome and returns the verdict for every worker.
func (c *Coordinator) end(outcome Outcome, err error) Verdict {
	c.mu.Lock()
	if !c.ended {
		c.ended = true
		c.outcome = outcome
	}

	c.err = errors.Join(c.err, err)
	c.mu.Unlock()

	c.state.Store(int32(Terminated))
	c.finish()

	if err != nil {
		return Abort
	}

	return Stop
}

func (c *Coordinator) finish() {
	c.finOnce.Do(func() { close(c.finished) })
}

// force abandons the workers that have not parked. It does nothing once
// every worker is parked, since the episode then finishes on its own.
func (c *Coordinator) force(now time.Time) {
	c.mu.Lock()
	if c.ended || c.quiesced {
		c.mu.Unlock()

		return
	}

	c.ended = true
	c.outcome = Forced
	c.err = errors.Join(c.err, ErrBarrierTimeout)
	deadline := c.deadline
	c.mu.Unlock()

	c.state.Store(int32(Terminated))

	c.logger.Error("forcing termination",
		slog.Time("deadline", deadline),
		slog.Duration("overdue", now.Sub(deadline)),
		slog.Int("parked", c.barrier.Arrived()),
		slog.Int("workers", c.barrier.Parties()))

	c.barrier.Break(Abort)
	close(c.forced)
	c.finish()
}
