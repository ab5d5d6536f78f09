package mediaflow

// State is the playback state of a pipeline
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateRunning
	StatePaused
	StateSeeking
	StateStopped
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateSeeking:
		return "seeking"
	case StateStopped:
		return "stopped"
	default:
		return "errored"
	}
}

func (s State) Terminal() bool {
	return s == StateStopped || s == StateErrored
}

// A stopped pipeline can be loaded again, an errored one can't
var stateTransitions = map[State][]State{
	StateIdle:    {StateLoading, StateStopped},
	StateLoading: {StateReady, StateErrored, StateStopped},
	StateReady:   {StateRunning, StateStopped, StateErrored},
	StateRunning: {StatePaused, StateSeeking, StateStopped, StateErrored},
	StatePaused:  {StateRunning, StateSeeking, StateStopped, StateErrored},
	StateSeeking: {StateRunning, StatePaused, StateSeeking, StateStopped, StateErrored},
	StateStopped: {StateLoading},
}

func (s State) canTransitionTo(to State) bool {
	for _, v := range stateTransitions[s] {
		if v == to {
			return true
		}
	}
	return false
}
