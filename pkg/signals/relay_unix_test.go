//go:build unix

package signals_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/Sumatoshi-tech/maxe/pkg/signals"
)

func TestParseSignal_Names(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want os.Signal
	}{
		{"SIGUSR1", unix.SIGUSR1},
		{"usr2", unix.SIGUSR2},
		{" sigterm ", unix.SIGTERM},
		{"INT", unix.SIGINT},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := signals.ParseSignal(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSignalName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "SIGUSR2", signals.SignalName(unix.SIGUSR2))
}

func TestDefaults_Disjoint(t *testing.T) {
	t.Parallel()

	_, err := signals.NewRelay(signals.RelayConfig{
		Counters: &signals.Counters{},
		Break:    signals.DefaultBreakSignals(),
		Dump:     signals.DefaultDumpSignals(),
	})
	require.NoError(t, err)
}

// TestRelay_DeliversProcessSignals sends real signals to the test process.
// Not parallel: signal subscriptions are process-wide.
func TestRelay_DeliversProcessSignals(t *testing.T) {
	counters := &signals.Counters{}

	relay, err := signals.NewRelay(signals.RelayConfig{
		Counters: counters,
		Break:    []os.Signal{unix.SIGUSR1},
		Dump:     []os.Signal{unix.SIGUSR2},
	})
	require.NoError(t, err)

	relay.Start()
	defer relay.Stop()

	assert.Equal(t, signals.KindBreak, relay.Route(unix.SIGUSR1))
	assert.Equal(t, signals.KindDump, relay.Route(unix.SIGUSR2))

	require.NoError(t, signals.Send(os.Getpid(), unix.SIGUSR2))
	require.Eventually(t, func() bool { return counters.Dump() == 1 }, 2*time.Second, time.Millisecond)

	require.NoError(t, signals.Send(os.Getpid(), unix.SIGUSR1))
	require.Eventually(t, func() bool { return counters.Break() == 1 }, 2*time.Second, time.Millisecond)

	assert.Equal(t, uint64(1), counters.Dump())
}
