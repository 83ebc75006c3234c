package workflow

import "fmt"

// Action is a closed set of operations a caller can request
type Action string

const (
	ActionVerify    Action = "verify"
	ActionRecommend Action = "recommend"
	ActionApprove   Action = "approve"
	ActionReject    Action = "reject"
	ActionCancel    Action = "cancel"
)

var validActions = map[Action]bool{
	ActionVerify:    true,
	ActionRecommend: true,
	ActionApprove:   true,
	ActionReject:    true,
	ActionCancel:    true,
}

// ParseAction converts a wire string into an Action
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !validActions[a] {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
	return a, nil
}

// String returns the string representation of the action
func (a Action) String() string {
	return string(a)
}

// IsValid returns true if the action is known
func (a Action) IsValid() bool {
	return validActions[a]
}

// Stage returns the decision stage this action records, or "" for reject/cancel
func (a Action) Stage() string {
	switch a {
	case ActionVerify:
		return "verification"
	case ActionRecommend:
		return "recommendation"
	case ActionApprove:
		return "approval"
	case ActionCancel:
		return "cancellation"
	}
	return ""
}

func (a Action) stageNumber() int {
	switch a {
	case ActionVerify:
		return 1
	case ActionRecommend:
		return 2
	case ActionApprove:
		return 3
	}
	return 0
}

// Decision is the outcome of a stage
type Decision string

const (
	DecisionNone    Decision = ""
	DecisionProceed Decision = "proceed"
	DecisionReject  Decision = "reject"
)

// ParseDecision converts a wire string into a Decision. Legacy numeric flags
// (1 = proceed, 2 = reject) are accepted as well.
func ParseDecision(s string) (Decision, error) {
	switch s {
	case "proceed", "1":
		return DecisionProceed, nil
	case "reject", "2":
		return DecisionReject, nil
	case "":
		return DecisionNone, nil
	}
	return "", fmt.Errorf("%w: unknown decision %q", ErrInvalidTransition, s)
}

// String returns the string representation of the decision
func (d Decision) String() string {
	return string(d)
}

// Trigger is the key of the transition table
type Trigger struct {
	Action   Action
	Decision Decision
}

// NewTrigger builds a trigger. Cancel carries no decision.
func NewTrigger(action Action, decision Decision) Trigger {
	if action == ActionCancel {
		decision = DecisionNone
	}
	return Trigger{Action: action, Decision: decision}
}

// String returns the string representation of the trigger
func (t Trigger) String() string {
	if t.Decision == DecisionNone {
		return string(t.Action)
	}
	return fmt.Sprintf("%s(%s)", t.Action, t.Decision)
}
