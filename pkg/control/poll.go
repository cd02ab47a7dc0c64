// Package control implements the safe-point check workers run between units
// of work. A poll compares the shared signal counters against the worker's
// own last observation and reports what is newly pending.
package control

import "github.com/Sumatoshi-tech/maxe/pkg/signals"

// Request is a bit set of newly pending operator requests.
type Request uint8

// Request bits.
const (
	None  Request = 0
	Dump  Request = 1 << 0
	Break Request = 1 << 1
)

// Has reports whether every bit of other is set in r.
func (r Request) Has(other Request) bool {
	return other != None && r&other == other
}

func (r Request) String() string {
	switch r {
	case None:
		return "none"
	case Dump:
		return "dump"
	case Break:
		return "break"
	case Dump | Break:
		return "break+dump"
	default:
		return "invalid"
	}
}

// Delta is the number of notifications a single poll newly observed.
type Delta struct {
	Breaks uint64
	Dumps  uint64
}

// Observation is one worker's last-seen view of the counters.
// The zero value has seen nothing, so the first poll reports every
// notification delivered since process start.
type Observation struct {
	breaks uint64
	dumps  uint64
}

// Poll reads the counters, reports any change since the previous poll, and
// advances the observation. It never blocks and never allocates.
//
// Each counter is loaded once, so a notification landing between the two
// loads is reported by this poll or the next one, never lost and never
// reported twice.
func (o *Observation) Poll(c *signals.Counters) (Request, Delta) {
	b, d := c.Break(), c.Dump()

	var (
		req   Request
		delta Delta
	)

	if b != o.breaks {
		req |= Break
		delta.Breaks = b - o.breaks
		o.breaks = b
	}

	if d != o.dumps {
		req |= Dump
		delta.Dumps = d - o.dumps
		o.dumps = d
	}

	return req, delta
}

// Breaks returns the break total this observation has accounted for.
func (o *Observation) Breaks() uint64 { return o.breaks }

// Dumps returns the dump total this observation has accounted for.
func (o *Observation) Dumps() uint64 { return o.dumps }
