package coordinator_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/maxe/pkg/coordinator"
)

func TestBarrier_LastArrivalRunsActionOnce(t *testing.T) {
	t.Parallel()

	const parties = 4

	b := coordinator.NewBarrier(parties)

	var (
		runs     atomic.Int32
		wg       sync.WaitGroup
		verdicts = make([]coordinator.Verdict, parties)
	)

	for i := range parties {
		wg.Add(1)

		go func() {
			defer wg.Done()

			verdicts[i] = b.Await(func() coordinator.Verdict {
				runs.Add(1)
				assert.Equal(t, parties, b.Arrived(), "every party is parked while the action runs")

				return coordinator.Stop
			})
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), runs.Load())

	for _, v := range verdicts {
		assert.Equal(t, coordinator.Stop, v)
	}
}

func TestBarrier_Reusable(t *testing.T) {
	t.Parallel()

	const (
		parties  = 3
		episodes = 50
	)

	b := coordinator.NewBarrier(parties)

	var (
		runs atomic.Int32
		wg   sync.WaitGroup
	)

	for range parties {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for range episodes {
				v := b.Await(func() coordinator.Verdict {
					runs.Add(1)

					return coordinator.Resume
				})
				assert.Equal(t, coordinator.Resume, v)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(episodes), runs.Load())
	assert.Zero(t, b.Arrived())
}

func TestBarrier_BreakReleasesParked(t *testing.T) {
	t.Parallel()

	b := coordinator.NewBarrier(2)

	got := make(chan coordinator.Verdict, 1)

	go func() { got <- b.Await(nil) }()

	require.Eventually(t, func() bool { return b.Arrived() == 1 }, time.Second, time.Millisecond)

	b.Break(coordinator.Abort)
	b.Break(coordinator.Stop)

	assert.Equal(t, coordinator.Abort, <-got)
	assert.Equal(t, coordinator.Abort, b.Await(nil), "late arrivals do not wait")
}

func TestBarrier_SinglePartyNeverBlocks(t *testing.T) {
	t.Parallel()

	b := coordinator.NewBarrier(1)

	assert.Equal(t, coordinator.Resume, b.Await(nil))
	assert.Equal(t, coordinator.Stop, b.Await(func() coordinator.Verdict { return coordinator.Stop }))
}

func TestNewBarrier_PanicsOnZeroParties(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { coordinator.NewBarrier(0) })
}
