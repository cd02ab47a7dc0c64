package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/maxe/pkg/coordinator"
	"github.com/Sumatoshi-tech/maxe/pkg/signals"
)

type idleHost struct{}

func (idleHost) Settle(context.Context) (bool, error)    { return true, nil }
func (idleHost) Serialize(context.Context, uint64) error { return nil }

func TestReadiness(t *testing.T) {
	t.Parallel()

	coord, err := coordinator.New(coordinator.Config{Parties: 1}, &signals.Counters{}, idleHost{})
	require.NoError(t, err)

	check := readiness(coord)
	require.NoError(t, check(context.Background()))

	coord.Fail(assert.AnError)

	err = check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), coordinator.Terminated.String())
}
