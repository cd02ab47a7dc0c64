//go:build threads

package engine

import (
	"runtime"

	"github.com/Sumatoshi-tech/maxe/pkg/coordinator"
)

// DefaultStrategy returns the build's execution strategy: a pool of
// workers, one per CPU when workers is not positive.
func DefaultStrategy(workers int) coordinator.Strategy {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	return coordinator.Pool{Workers: workers}
}
