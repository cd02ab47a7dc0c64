//go:build unix

package commands_test

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/Sumatoshi-tech/maxe/pkg/checkpoint"
)

// TestSignalCommand sends dump to this test process through the lock file.
func TestSignalCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "maxe.ckpt")

	lock, err := checkpoint.AcquireLock(context.Background(), path, time.Second)
	require.NoError(t, err)

	t.Cleanup(func() { _ = lock.Release() })

	received := make(chan os.Signal, 1)
	signal.Notify(received, unix.SIGUSR2)

	t.Cleanup(func() { signal.Stop(received) })

	out, err := execute(t, "signal", "dump", "--config", emptyConfig(t), "--checkpoint", path)
	require.NoError(t, err)
	assert.Contains(t, out, "sent dump (SIGUSR2)")

	select {
	case sig := <-received:
		assert.Equal(t, unix.SIGUSR2, sig)
	case <-time.After(5 * time.Second):
		t.Fatal("signal not delivered")
	}
}

func TestSignalCommand_NotRunning(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "maxe.ckpt")

	_, err := execute(t, "signal", "break", "--config", emptyConfig(t), "--checkpoint", path)
	require.ErrorIs(t, err, checkpoint.ErrNotRunning)
}

func TestSignalCommand_UnknownRequest(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "signal", "pause", "--config", emptyConfig(t))
	require.Error(t, err)
}
