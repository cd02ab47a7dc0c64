// Package exitcode maps run outcomes to process exit codes.
package exitcode

import "github.com/Sumatoshi-tech/maxe/pkg/coordinator"

// Process exit codes.
const (
	Completed = 0
	Error     = 1
	Stopped   = 2
	Forced    = 3
)

// For returns the exit code of a run that ended with outcome and err.
// Forced termination wins over any error it caused.
func For(outcome coordinator.Outcome, err error) int {
	switch {
	case outcome == coordinator.Forced:
		return Forced
	case err != nil:
		return Error
	case outcome == coordinator.Stopped:
		return Stopped
	default:
		return Completed
	}
}

// Name returns a short label for code.
func Name(code int) string {
	switch code {
	case Completed:
		return "completed"
	case Error:
		return "error"
	case Stopped:
		return "stopped"
	case Forced:
		return "forced"
	default:
		return "unknown"
	}
}
