package task

// transitions lists the legal target states for each source state.
// completed and cancelled have no entry and are therefore terminal.
var transitions = map[State][]State{
	StateQueued:  {StateRunning, StateBlocked, StateCancelled},
	StateRunning: {StateCompleted, StateFailed, StateBlocked},
	StateBlocked: {StateQueued, StateRunning, StateCancelled},
	StateFailed:  {StateQueued, StateCancelled},
}

// IsValidTransition reports whether a task may move from one state to
// another. Re-entering the current state is always allowed and is a no-op.
func IsValidTransition(from, to State) bool {
	if from == to {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// NextStates returns the states reachable from s in one step.
func NextStates(s State) []State {
	return append([]State(nil), transitions[s]...)
}
