package supervisor

// State is the lifecycle phase of a node run.
type State int32

const (
	Initializing State = iota
	Starting
	Running
	ShuttingDown
	Stopped
	Errored
)

var stateNames = [...]string{
	Initializing: "initializing",
	Starting:     "starting",
	Running:      "running",
	ShuttingDown: "shutting-down",
	Stopped:      "stopped",
	Errored:      "errored",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// canTransition reports whether from → to is a legal lifecycle step. Only
// ShuttingDown leads to Stopped or Errored, and both are terminal.
func canTransition(from, to State) bool {
	switch from {
	case Initializing:
		return to == Starting
	case Starting:
		return to == Running || to == ShuttingDown
	case Running:
		return to == ShuttingDown
	case ShuttingDown:
		return to == Stopped || to == Errored
	default:
		return false
	}
}
