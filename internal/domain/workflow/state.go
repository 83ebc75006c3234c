package workflow

// State represents a derived workflow state of a maintenance request
type State string

const (
	StateNew         State = "NEW"
	StateVerified    State = "VERIFIED"
	StateRecommended State = "RECOMMENDED"
	StateApproved    State = "APPROVED"
	StateRejected    State = "REJECTED"
	StateCancelled   State = "CANCELLED"
)

var validStates = map[State]bool{
	StateNew:         true,
	StateVerified:    true,
	StateRecommended: true,
	StateApproved:    true,
	StateRejected:    true,
	StateCancelled:   true,
}

var terminalStates = map[State]bool{
	StateApproved:  true,
	StateRejected:  true,
	StateCancelled: true,
}

// IsTerminal returns true if the state is a terminal state (no further transitions allowed)
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a valid workflow state
func (s State) IsValid() bool {
	return validStates[s]
}

// nextStage returns the stage number awaiting a decision in this state (0 when none)
func (s State) nextStage() int {
	switch s {
	case StateNew:
		return 1
	case StateVerified:
		return 2
	case StateRecommended:
		return 3
	}
	return 0
}
