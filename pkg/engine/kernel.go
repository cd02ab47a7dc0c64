package engine

// Kernel is a staged computation. Each stage is split into Units()
// independent units; Execute may run them concurrently and in any order,
// and Advance folds their results in unit order.
type Kernel[S, R any] interface {
	// Units returns the number of units in the current stage.
	Units() int

	// Execute computes one unit. It must not mutate kernel state.
	Execute(unit int) R

	// Advance folds the results of the current stage, indexed by unit,
	// and moves to the next stage.
	Advance(results []R) error

	// Done reports whether every stage has been folded.
	Done() bool

	// State returns an encodable copy of the kernel state.
	State() S

	// Restore replaces the kernel state.
	Restore(state S) error
}

// Snapshot is the union of kernel state and the units of the current
// stage that workers have already completed.
type Snapshot[S, R any] struct {
	Kernel    S
	Completed map[int]R
}
