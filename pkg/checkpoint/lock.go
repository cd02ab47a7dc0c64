package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another process holds the artifact lock.
var ErrLocked = errors.New("checkpoint is locked by another process")

// ErrNotRunning is returned when no process holds the artifact lock.
var ErrNotRunning = errors.New("no running process holds the checkpoint lock")

const lockRetryDelay = 100 * time.Millisecond

// LockPath returns the lock file guarding the artifact at path.
func LockPath(path string) string {
	return path + ".lock"
}

// Lock is an exclusive hold on an artifact. The lock file carries the
// holder's PID so operators can signal it.
type Lock struct {
	fl *flock.Flock
}

// AcquireLock takes the artifact lock, retrying until timeout elapses.
func AcquireLock(ctx context.Context, path string, timeout time.Duration) (*Lock, error) {
	fl := flock.New(LockPath(path))

	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ok, err := fl.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		_ = fl.Close()

		return nil, fmt.Errorf("lock %s: %w", fl.Path(), err)
	}

	if !ok {
		_ = fl.Close()
		pid, _ := ReadPID(path)

		return nil, fmt.Errorf("%w: %s (pid %d)", ErrLocked, fl.Path(), pid)
	}

	err = os.WriteFile(fl.Path(), []byte(strconv.Itoa(os.Getpid())+"\n"), 0o600)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("record pid: %w", err), fl.Unlock())
	}

	return &Lock{fl: fl}, nil
}

// Release drops the lock.
func (l *Lock) Release() error {
	err := l.fl.Unlock()
	if err != nil {
		return fmt.Errorf("unlock %s: %w", l.fl.Path(), err)
	}

	return nil
}

// ReadPID returns the PID recorded in the lock file of the artifact at path.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(LockPath(path))
	if err != nil {
		return 0, fmt.Errorf("read lock file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("%w: lock file holds %q", ErrCorrupt, strings.TrimSpace(string(data)))
	}

	return pid, nil
}

// HolderPID returns the PID of the process currently holding the lock of
// the artifact at path, or ErrNotRunning when nobody holds it.
func HolderPID(path string) (int, error) {
	_, err := os.Stat(LockPath(path))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrNotRunning, err)
	}

	probe := flock.New(LockPath(path))
	defer probe.Close()

	free, err := probe.TryLock()
	if err != nil {
		return 0, fmt.Errorf("probe lock: %w", err)
	}

	if free {
		return 0, ErrNotRunning
	}

	return ReadPID(path)
}
