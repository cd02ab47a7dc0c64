//go:build !unix

package signals

import (
	"fmt"
	"os"
)

// DefaultBreakSignals returns the signals that request a break when none are configured.
func DefaultBreakSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// DefaultDumpSignals returns nil: there is no spare OS signal for dumps on
// this platform, so dumps come from the periodic interval only.
func DefaultDumpSignals() []os.Signal {
	return nil
}

// ParseSignal resolves the few signal names this platform supports.
func ParseSignal(name string) (os.Signal, error) {
	switch canonicalName(name) {
	case "SIGINT", "SIGINTERRUPT":
		return os.Interrupt, nil
	case "SIGKILL":
		return os.Kill, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSignal, name)
	}
}

// SignalName returns the conventional name of sig.
func SignalName(sig os.Signal) string {
	if sig == os.Interrupt {
		return "SIGINT"
	}

	return sig.String()
}

// Send delivers sig to the process pid.
func Send(pid int, sig os.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find pid %d: %w", pid, err)
	}

	err = proc.Signal(sig)
	if err != nil {
		return fmt.Errorf("send %s to pid %d: %w", SignalName(sig), pid, err)
	}

	return nil
}
