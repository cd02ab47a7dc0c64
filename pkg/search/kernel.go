package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/Sumatoshi-tech/maxe/pkg/observability"
)

// Defaults.
const (
	DefaultMaxGeneration = 60
	DefaultChunkSize     = 64

	// MaxGenerationLimit keeps column heights within a byte.
	MaxGenerationLimit = 255
)

// ErrBadState is returned when a restored state is inconsistent.
var ErrBadState = errors.New("search: inconsistent state")

// GenerationStats summarizes one generation once its successors are known.
type GenerationStats struct {
	Generation int `json:"generation"`
	Size       int `json:"size"`
	Plus       int `json:"plus"`
	Minus      int `json:"minus"`
}

// State is the encodable kernel state.
type State struct {
	// Generation is the generation held in Pool.
	Generation    int
	MaxGeneration int
	ChunkSize     int
	Pool          []Staircase
	Stats         []GenerationStats

	// Written counts the output bytes emitted so far.
	Written int64
}

// ChunkResult is the outcome of expanding one chunk of the pool.
type ChunkResult struct {
	Next  []Staircase
	Lines []string
	Plus  int
	Minus int
}

// Config configures a Kernel.
type Config struct {
	MaxGeneration int
	ChunkSize     int

	// Output receives one line per staircase that stays extremal.
	Output io.Writer

	Logger  *slog.Logger
	Metrics *observability.ControlMetrics
}

// Kernel is the staircase search as a staged computation: a stage is one
// generation and a unit is a chunk of its pool.
type Kernel struct {
	state   State
	out     io.Writer
	logger  *slog.Logger
	metrics *observability.ControlMetrics
}

// NewKernel returns a kernel positioned at generation 0.
func NewKernel(cfg Config) *Kernel {
	if cfg.MaxGeneration <= 0 {
		cfg.MaxGeneration = DefaultMaxGeneration
	}

	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}

	if cfg.Output == nil {
		cfg.Output = io.Discard
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Kernel{
		state: State{
			MaxGeneration: cfg.MaxGeneration,
			ChunkSize:     cfg.ChunkSize,
			Pool:          []Staircase{{0}},
		},
		out:     cfg.Output,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// Units returns the number of chunks in the current pool.
func (k *Kernel) Units() int {
	n := len(k.state.Pool)

	return (n + k.state.ChunkSize - 1) / k.state.ChunkSize
}

// Execute expands chunk unit of the pool. It only reads kernel state.
func (k *Kernel) Execute(unit int) ChunkResult {
	lo := unit * k.state.ChunkSize
	hi := min(lo+k.state.ChunkSize, len(k.state.Pool))

	res := ChunkResult{Next: make([]Staircase, 0, 2*(hi-lo))}

	for _, rect := range k.state.Pool[lo:hi] {
		if rect.Generation() != k.state.Generation {
			panic(fmt.Sprintf("search: staircase %v in pool of generation %d", rect, k.state.Generation))
		}

		next, final := Expand(rect)
		res.Next = append(res.Next, next...)

		if final {
			res.Plus++
			res.Lines = append(res.Lines, rect.Encode()+"+")
		} else {
			res.Minus++
		}
	}

	return res
}

// Advance concatenates chunk results in unit order, emits the extremal
// staircases of the finished generation, and records its statistics.
func (k *Kernel) Advance(results []ChunkResult) error {
	stats := GenerationStats{Generation: k.state.Generation, Size: len(k.state.Pool)}

	var (
		next  []Staircase
		lines strings.Builder
	)

	for _, r := range results {
		next = append(next, r.Next...)
		stats.Plus += r.Plus
		stats.Minus += r.Minus

		for _, line := range r.Lines {
			lines.WriteString(line)
			lines.WriteByte('\n')
		}
	}

	if stats.Plus+stats.Minus != stats.Size {
		return fmt.Errorf("%w: generation %d classified %d of %d staircases",
			ErrBadState, stats.Generation, stats.Plus+stats.Minus, stats.Size)
	}

	n, err := io.WriteString(k.out, lines.String())
	k.state.Written += int64(n)

	if err != nil {
		return fmt.Errorf("write generation %d: %w", stats.Generation, err)
	}

	k.state.Stats = append(k.state.Stats, stats)
	k.state.Pool = next
	k.state.Generation++

	k.metrics.RecordGeneration(context.Background(), k.state.Generation)
	k.logger.Info("generation",
		slog.Int("gen", stats.Generation+1),
		slog.Int("size", stats.Size),
		slog.Int("plus", stats.Plus),
		slog.Int("minus", stats.Minus),
		slog.Int("total", stats.Plus+stats.Minus))

	if k.Done() {
		k.logger.Info("search done", slog.Int("size", len(k.state.Pool)))
	}

	return nil
}

// Done reports whether MaxGeneration has been reached.
func (k *Kernel) Done() bool {
	return k.state.Generation >= k.state.MaxGeneration
}

// State returns the kernel state. The pool is shared, not copied: callers
// encode it while the kernel is paused.
func (k *Kernel) State() State { return k.state }

// Restore replaces the kernel state after checking its consistency.
func (k *Kernel) Restore(s State) error {
	switch {
	case s.ChunkSize <= 0:
		return fmt.Errorf("%w: chunk size %d", ErrBadState, s.ChunkSize)
	case s.MaxGeneration <= 0 || s.MaxGeneration > MaxGenerationLimit:
		return fmt.Errorf("%w: max generation %d", ErrBadState, s.MaxGeneration)
	case s.Generation < 0 || s.Generation > s.MaxGeneration:
		return fmt.Errorf("%w: generation %d", ErrBadState, s.Generation)
	case len(s.Stats) != s.Generation:
		return fmt.Errorf("%w: %d stats for generation %d", ErrBadState, len(s.Stats), s.Generation)
	case len(s.Pool) == 0:
		return fmt.Errorf("%w: empty pool", ErrBadState)
	case s.Written < 0:
		return fmt.Errorf("%w: negative output offset", ErrBadState)
	}

	for _, r := range s.Pool {
		if r.Generation() != s.Generation {
			return fmt.Errorf("%w: staircase %v in generation %d", ErrBadState, r, s.Generation)
		}
	}

	k.state = s

	return nil
}

// ExtendTo raises the generation limit, e.g. when a resumed run is asked to
// go further than the run that wrote the checkpoint.
func (k *Kernel) ExtendTo(maxGeneration int) {
	if maxGeneration > k.state.MaxGeneration && maxGeneration <= MaxGenerationLimit {
		k.state.MaxGeneration = maxGeneration
	}
}

// Stats returns the statistics of every finished generation.
func (k *Kernel) Stats() []GenerationStats { return k.state.Stats }
