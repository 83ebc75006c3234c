package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when a state transition is not allowed
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is returned when a state is not valid
	ErrInvalidState = errors.New("invalid state")

	// ErrGuardFailed is returned when a guard condition fails
	ErrGuardFailed = errors.New("guard condition failed")

	// ErrUnknownAction is returned for an action outside the closed set
	ErrUnknownAction = errors.New("unknown action")

	ErrNotFound               = errors.New("request not found")
	ErrIllegalTransition      = errors.New("illegal transition")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrInvalidToken           = errors.New("invalid token")
	ErrBillingUnavailable     = errors.New("billing unavailable")
	ErrNotApproved            = errors.New("request not approved")
	ErrNotificationFailure    = errors.New("notification failure")
	ErrInvalidCommand         = errors.New("invalid command")
)

// Reasons reported with an illegal transition
const (
	ReasonAlreadyDecided = "already_decided"
	ReasonOutOfOrder     = "out_of_order"
	ReasonNotYourTurn    = "not_your_turn"
	ReasonTerminal       = "terminal"
	ReasonUnknownAction  = "unknown_action"
)

// TransitionError describes why a transition was refused
type TransitionError struct {
	RequestID int64
	From      State
	Action    Action
	Stage     string
	Reason    string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition: %s from %s on request %d (%s)", e.Action, e.From, e.RequestID, e.Reason)
}

// Unwrap makes errors.Is(err, ErrIllegalTransition) hold
func (e *TransitionError) Unwrap() error {
	return ErrIllegalTransition
}

// NewTransitionError classifies a refused action against the state it was attempted in
func NewTransitionError(requestID int64, from State, action Action) *TransitionError {
	return &TransitionError{
		RequestID: requestID,
		From:      from,
		Action:    action,
		Stage:     action.Stage(),
		Reason:    classify(from, action),
	}
}

// NotYourTurn builds the error for an actor not assigned to the stage
func NotYourTurn(requestID int64, from State, action Action) *TransitionError {
	return &TransitionError{
		RequestID: requestID,
		From:      from,
		Action:    action,
		Stage:     action.Stage(),
		Reason:    ReasonNotYourTurn,
	}
}

func classify(from State, action Action) string {
	if !action.IsValid() {
		return ReasonUnknownAction
	}
	if from.IsTerminal() {
		return ReasonTerminal
	}
	want, got := from.nextStage(), action.stageNumber()
	switch {
	case got == 0:
		// cancel refused outside the terminal states only by its guard
		return ReasonAlreadyDecided
	case got < want:
		return ReasonAlreadyDecided
	case got > want:
		return ReasonOutOfOrder
	}
	return ReasonAlreadyDecided
}

// ReasonOf extracts the reason of a transition error, or "" for other errors
func ReasonOf(err error) string {
	var te *TransitionError
	if errors.As(err, &te) {
		return te.Reason
	}
	if errors.Is(err, ErrUnknownAction) {
		return ReasonUnknownAction
	}
	return ""
}
