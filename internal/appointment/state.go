package appointment

// transitions is the single source of truth for the appointment lifecycle.
// States missing from the map, and states mapped to an empty set, are terminal.
var transitions = map[State]map[State]bool{
	StateScheduled: {
		StateConfirmed:   true,
		StateInProgress:  true,
		StateCompleted:   true,
		StateCanceled:    true,
		StateRescheduled: true,
		StateNoShow:      true,
	},
	StateConfirmed: {
		StateInProgress:  true,
		StateCompleted:   true,
		StateCanceled:    true,
		StateRescheduled: true,
		StateNoShow:      true,
	},
	StateInProgress: {
		StateCompleted:   true,
		StateCanceled:    true,
		StateRescheduled: true,
		StateNoShow:      true,
	},
	StateCompleted:   {},
	StateCanceled:    {},
	StateRescheduled: {},
	StateNoShow:      {},
}

// AllStates lists every state in lifecycle order.
var AllStates = []State{
	StateScheduled,
	StateConfirmed,
	StateInProgress,
	StateCompleted,
	StateCanceled,
	StateRescheduled,
	StateNoShow,
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether s has no outgoing transitions.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether from -> to is permitted. Same-state
// requests are never permitted.
func CanTransition(from, to State) bool {
	return transitions[from][to]
}

// blocksSlot reports whether an appointment in state s occupies its window
// for overlap purposes. no_show keeps the slot; see DESIGN.md.
func (s State) blocksSlot() bool {
	return s != StateCanceled && s != StateRescheduled
}

// checkTransition validates from -> to and returns a caller-facing error.
func checkTransition(from, to State) error {
	if !to.Valid() {
		return validationError("state", "unknown state %q", to)
	}
	if !CanTransition(from, to) {
		return invalidTransition(from, to)
	}
	return nil
}
