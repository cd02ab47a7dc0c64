package coordinator

// State is the coordinator's position in the pause protocol.
type State int32

// Coordinator states.
const (
	Running State = iota
	Quiescing
	Dumping
	Resuming
	Breaking
	Terminated
)

func (s State) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Quiescing:
		return "QUIESCING"
	case Dumping:
		return "DUMPING"
	case Resuming:
		return "RESUMING"
	case Breaking:
		return "BREAKING"
	case Terminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// Live reports whether the run is still making or about to make progress.
func (s State) Live() bool {
	return s == Running || s == Quiescing || s == Dumping || s == Resuming
}

// Outcome is how a run ended.
type Outcome uint8

// Run outcomes.
const (
	// Completed means the kernel finished all of its work.
	Completed Outcome = iota
	// Stopped means an operator break was honored after every worker
	// reached a safe point.
	Stopped
	// Forced means the quiescence deadline passed and stragglers were
	// abandoned.
	Forced
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Stopped:
		return "stopped"
	case Forced:
		return "forced"
	default:
		return "unknown"
	}
}
