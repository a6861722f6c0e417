package domain

// State is the voice session's current mode. Exactly one state is active at
// a time, so listening and speaking can never overlap.
type State int

const (
	StateIdle State = iota
	StateListening
	StateProcessing
	StateSpeaking
	StateError
)

// String returns a human-readable state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// validTransitions lists the states reachable from each state. Any state may
// enter StateError; only StateError → StateIdle leaves it.
var validTransitions = map[State][]State{
	StateIdle:       {StateListening, StateSpeaking, StateError},
	StateListening:  {StateIdle, StateProcessing, StateSpeaking, StateError},
	StateProcessing: {StateIdle, StateSpeaking, StateError},
	StateSpeaking:   {StateIdle, StateListening, StateError},
	StateError:      {StateIdle},
}

// CanTransition reports whether moving from one state to another is allowed.
// Re-entering the current state is always allowed.
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
