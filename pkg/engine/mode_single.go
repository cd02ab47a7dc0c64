//go:build !threads

package engine

import "github.com/Sumatoshi-tech/maxe/pkg/coordinator"

// DefaultStrategy returns the build's execution strategy. This build runs
// one worker and ignores workers.
func DefaultStrategy(_ int) coordinator.Strategy {
	return coordinator.Single{}
}
