// Package signals holds the process-wide break and dump request counters and
// relays operating system notifications into them.
package signals

import "sync/atomic"

// Kind identifies which counter a notification increments.
type Kind uint8

// Notification kinds.
const (
	// KindBreak asks the run to stop at the next safe point.
	KindBreak Kind = iota + 1
	// KindDump asks the run to persist its progress and continue.
	KindDump
)

// String returns the lowercase kind name used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindBreak:
		return "break"
	case KindDump:
		return "dump"
	default:
		return "unknown"
	}
}

// Counters holds the two request counts. Both only ever grow; a consumer
// detects new requests by comparing against its own last-seen values.
//
// The zero value is ready to use. Counters must not be copied after first use.
type Counters struct {
	breaks atomic.Uint64
	dumps  atomic.Uint64
}

// NotifyBreak records one break request.
func (c *Counters) NotifyBreak() {
	c.breaks.Add(1)
}

// NotifyDump records one dump request.
func (c *Counters) NotifyDump() {
	c.dumps.Add(1)
}

// Notify records one request of the given kind. Unknown kinds are ignored.
func (c *Counters) Notify(kind Kind) {
	switch kind {
	case KindBreak:
		c.breaks.Add(1)
	case KindDump:
		c.dumps.Add(1)
	}
}

// Break returns the number of break requests delivered so far.
func (c *Counters) Break() uint64 {
	return c.breaks.Load()
}

// Dump returns the number of dump requests delivered so far.
func (c *Counters) Dump() uint64 {
	return c.dumps.Load()
}
