package signals

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"
)

// ErrUnknownSignal is returned when a configured signal name cannot be resolved.
var ErrUnknownSignal = errors.New("unknown signal")

// ErrSignalConflict is returned when one signal is routed to both counters.
var ErrSignalConflict = errors.New("signal mapped to both break and dump")

// relayBuffer is the capacity of the channel handed to signal.Notify.
// The runtime drops deliveries when the channel is full, so it is sized well
// above any realistic operator burst.
const relayBuffer = 64

// RelayConfig configures a Relay.
type RelayConfig struct {
	// Counters receives the increments. Required.
	Counters *Counters

	// Break lists the signals that request a break.
	Break []os.Signal

	// Dump lists the signals that request a dump.
	Dump []os.Signal

	// DumpInterval, when positive, adds one dump request per interval.
	// Timed checkpoints then take the same path as operator requests.
	DumpInterval time.Duration
}

// Relay forwards operating system signals into Counters. Its goroutine does
// nothing but the increment: decisions, I/O and coordination happen in the
// workers that poll the counters.
type Relay struct {
	counters *Counters
	routes   map[os.Signal]Kind
	interval time.Duration

	sigCh    chan os.Signal
	quit     chan struct{}
	stopped  chan struct{}
	startMu  sync.Mutex
	started  bool
	stopOnce sync.Once
}

// NewRelay validates the routing table and returns an unstarted Relay.
func NewRelay(cfg RelayConfig) (*Relay, error) {
	if cfg.Counters == nil {
		return nil, errors.New("relay: nil counters")
	}

	routes := make(map[os.Signal]Kind, len(cfg.Break)+len(cfg.Dump))

	for _, sig := range cfg.Break {
		routes[sig] = KindBreak
	}

	for _, sig := range cfg.Dump {
		if routes[sig] == KindBreak {
			return nil, fmt.Errorf("%w: %s", ErrSignalConflict, sig)
		}

		routes[sig] = KindDump
	}

	return &Relay{
		counters: cfg.Counters,
		routes:   routes,
		interval: cfg.DumpInterval,
		sigCh:    make(chan os.Signal, relayBuffer),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}, nil
}

// Start subscribes to the configured signals and starts forwarding.
// Calling Start more than once has no further effect.
func (r *Relay) Start() {
	r.startMu.Lock()
	defer r.startMu.Unlock()

	if r.started {
		return
	}

	r.started = true

	if len(r.routes) > 0 {
		sigs := make([]os.Signal, 0, len(r.routes))
		for sig := range r.routes {
			sigs = append(sigs, sig)
		}

		signal.Notify(r.sigCh, sigs...)
	}

	go r.loop()
}

// Inject delivers a notification as if the OS had sent it. Used for context
// cancellation and by tests.
func (r *Relay) Inject(kind Kind) {
	r.counters.Notify(kind)
}

// Route returns the counter a signal is mapped to, or zero when unmapped.
func (r *Relay) Route(sig os.Signal) Kind {
	return r.routes[sig]
}

// Stop unsubscribes from all signals and waits for the forwarding goroutine
// to exit. Safe to call on an unstarted relay and more than once.
func (r *Relay) Stop() {
	r.stopOnce.Do(func() {
		signal.Stop(r.sigCh)
		close(r.quit)

		r.startMu.Lock()
		started := r.started
		r.startMu.Unlock()

		if started {
			<-r.stopped
		}
	})
}

func (r *Relay) loop() {
	defer close(r.stopped)

	var tick <-chan time.Time

	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		tick = ticker.C
	}

	for {
		select {
		case sig := <-r.sigCh:
			r.counters.Notify(r.Route(sig))
		case <-tick:
			r.counters.NotifyDump()
		case <-r.quit:
			return
		}
	}
}

// ParseSignals resolves a list of signal names such as "SIGUSR1" or "usr2".
func ParseSignals(names []string) ([]os.Signal, error) {
	sigs := make([]os.Signal, 0, len(names))

	for _, name := range names {
		sig, err := ParseSignal(name)
		if err != nil {
			return nil, err
		}

		sigs = append(sigs, sig)
	}

	return sigs, nil
}

// canonicalName upper-cases a signal name and adds the SIG prefix.
func canonicalName(name string) string {
	n := strings.ToUpper(strings.TrimSpace(name))
	if !strings.HasPrefix(n, "SIG") {
		n = "SIG" + n
	}

	return n
}
