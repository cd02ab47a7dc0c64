package coordinator

import "sync"

// Verdict is what a worker does after leaving the barrier.
type Verdict uint8

// Barrier verdicts.
const (
	// Resume continues the work loop.
	Resume Verdict = iota
	// Stop ends the work loop cleanly.
	Stop
	// Abort ends the work loop because the run failed or was forced.
	Abort
)

func (v Verdict) String() string {
	switch v {
	case Resume:
		return "resume"
	case Stop:
		return "stop"
	case Abort:
		return "abort"
	default:
		return "unknown"
	}
}

// episode is one generation of the barrier. Parties capture the pointer on
// arrival so a fast next episode cannot overwrite the verdict they read.
type episode struct {
	release chan struct{}
	verdict Verdict
	closed  bool
}

func newEpisode() *episode {
	return &episode{release: make(chan struct{})}
}

// Barrier is a reusable rendezvous for a fixed number of parties. The last
// party to arrive runs the episode action while every other party is parked,
// then releases them all with the action's verdict.
type Barrier struct {
	mu      sync.Mutex
	parties int
	arrived int
	current *episode

	broken  bool
	verdict Verdict
}

// NewBarrier returns a barrier for parties participants.
func NewBarrier(parties int) *Barrier {
	if parties <= 0 {
		panic(ErrInvalidParties)
	}

	return &Barrier{parties: parties, current: newEpisode()}
}

// Await parks the caller until every party has arrived. The last arrival
// runs action (nil means Resume) and its verdict is returned to all
// parties. After Break, Await returns the break verdict immediately.
func (b *Barrier) Await(action func() Verdict) Verdict {
	b.mu.Lock()

	if b.broken {
		v := b.verdict
		b.mu.Unlock()

		return v
	}

	ep := b.current
	b.arrived++

	if b.arrived < b.parties {
		b.mu.Unlock()
		<-ep.release

		return ep.verdict
	}

	b.mu.Unlock()

	v := Resume
	if action != nil {
		v = action()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.arrived = 0
	b.current = newEpisode()

	if ep.closed {
		return ep.verdict
	}

	ep.verdict = v
	ep.closed = true
	close(ep.release)

	return v
}

// Break releases every parked party with v and makes all later Await calls
// return v without waiting. Only the first Break takes effect.
func (b *Barrier) Break(v Verdict) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.broken {
		return
	}

	b.broken = true
	b.verdict = v

	if !b.current.closed {
		b.current.verdict = v
		b.current.closed = true
		close(b.current.release)
	}
}

// Arrived returns the number of parties parked in the current episode.
func (b *Barrier) Arrived() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.arrived
}

// Parties returns the number of participants.
func (b *Barrier) Parties() int { return b.parties }
