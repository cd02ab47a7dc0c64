//go:build unix

package signals

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// DefaultBreakSignals returns the signals that request a break when none are configured.
func DefaultBreakSignals() []os.Signal {
	return []os.Signal{unix.SIGUSR1, unix.SIGINT, unix.SIGTERM}
}

// DefaultDumpSignals returns the signals that request a dump when none are configured.
func DefaultDumpSignals() []os.Signal {
	return []os.Signal{unix.SIGUSR2}
}

// ParseSignal resolves a signal name. The SIG prefix and case are optional.
func ParseSignal(name string) (os.Signal, error) {
	sig := unix.SignalNum(canonicalName(name))
	if sig == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSignal, name)
	}

	return sig, nil
}

// SignalName returns the conventional name of sig, e.g. "SIGUSR1".
func SignalName(sig os.Signal) string {
	if s, ok := sig.(syscall.Signal); ok {
		if name := unix.SignalName(s); name != "" {
			return name
		}
	}

	return sig.String()
}

// Send delivers sig to the process pid.
func Send(pid int, sig os.Signal) error {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnknownSignal, sig)
	}

	err := unix.Kill(pid, s)
	if err != nil {
		return fmt.Errorf("send %s to pid %d: %w", SignalName(sig), pid, err)
	}

	return nil
}
