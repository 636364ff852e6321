package jobs

// State is the orchestrator's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateUploading
	StateStreaming
	StatePolling
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateUploading:
		return "uploading"
	case StateStreaming:
		return "streaming"
	case StatePolling:
		return "polling"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no job is in flight.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// transitions lists the allowed moves. Terminal states and idle may start a
// new upload or tracking.
var transitions = map[State][]State{
	StateIdle:      {StateUploading, StateStreaming, StatePolling, StateCancelled},
	StateUploading: {StateIdle, StateFailed, StateCancelled},
	StateStreaming: {StatePolling, StateCompleted, StateFailed, StateCancelled},
	StatePolling:   {StateCompleted, StateFailed, StateCancelled},
	StateCompleted: {StateIdle, StateUploading, StateStreaming, StatePolling},
	StateFailed:    {StateIdle, StateUploading, StateStreaming, StatePolling},
	StateCancelled: {StateIdle, StateUploading, StateStreaming, StatePolling},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
