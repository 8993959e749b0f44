package workflow

// State is a lifecycle state of a workflow entity. Each machine declares its
// own state set through NewBuilder.
type State string

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// StateSet is the closed set of states a machine may occupy.
type StateSet struct {
	valid    map[State]bool
	terminal map[State]bool
}

// NewStateSet creates a state set. Terminal states are also valid states.
func NewStateSet(states []State, terminal ...State) StateSet {
	set := StateSet{
		valid:    make(map[State]bool, len(states)),
		terminal: make(map[State]bool, len(terminal)),
	}
	for _, s := range states {
		set.valid[s] = true
	}
	for _, s := range terminal {
		set.valid[s] = true
		set.terminal[s] = true
	}
	return set
}

// IsValid returns true if the state belongs to the set
func (s StateSet) IsValid(state State) bool {
	return s.valid[state]
}

// IsTerminal returns true if no transitions leave the state
func (s StateSet) IsTerminal(state State) bool {
	return s.terminal[state]
}
