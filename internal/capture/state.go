package capture

// State is the orchestrator lifecycle phase.
type State int

const (
	StateIdle State = iota
	StatePlanning
	StateDraining
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlanning:
		return "planning"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StateObserver is told about every state transition of a run.
type StateObserver func(runID string, from, to State)
