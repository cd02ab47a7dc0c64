package coordinator

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// WorkerFunc is one worker's loop.
type WorkerFunc func(ctx context.Context, worker int) error

// Strategy decides how many workers run and on which goroutines.
type Strategy interface {
	// Parties returns the number of workers Run will start.
	Parties() int

	// Run executes fn once per worker and waits for all of them.
	Run(ctx context.Context, fn WorkerFunc) error

	// Name identifies the strategy in logs and artifact metadata.
	Name() string
}

// Single runs one worker on the calling goroutine.
type Single struct{}

// Parties implements Strategy.
func (Single) Parties() int { return 1 }

// Name implements Strategy.
func (Single) Name() string { return "single" }

// Run implements Strategy.
func (Single) Run(ctx context.Context, fn WorkerFunc) error {
	return fn(ctx, 0)
}

// Pool runs a fixed number of workers concurrently.
type Pool struct {
	Workers int
}

// Parties implements Strategy.
func (p Pool) Parties() int {
	if p.Workers < 1 {
		return 1
	}

	return p.Workers
}

// Name implements Strategy.
func (Pool) Name() string { return "threaded" }

// Run implements Strategy. The first worker error cancels the context
// passed to the others.
func (p Pool) Run(ctx context.Context, fn WorkerFunc) error {
	g, gctx := errgroup.WithContext(ctx)

	for i := range p.Parties() {
		g.Go(func() error {
			return fn(gctx, i)
		})
	}

	return g.Wait()
}
