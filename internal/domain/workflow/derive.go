package workflow

import (
	"fmt"
	"time"

	"github.com/garyjia/fleet-maintenance/internal/domain/entity"
)

// DeriveState computes the workflow state from the stage fields of a request.
// The stored status column is only a projection of this value.
func DeriveState(req *entity.MaintenanceRequest) State {
	switch {
	case req.Cancellation != nil:
		return StateCancelled
	case rejected(req.Verification), rejected(req.Recommendation), rejected(req.Approval):
		return StateRejected
	case proceeded(req.Approval):
		return StateApproved
	case proceeded(req.Recommendation):
		return StateRecommended
	case proceeded(req.Verification):
		return StateVerified
	}
	return StateNew
}

// ProjectStatus maps a workflow state onto the coarse status column
func ProjectStatus(s State) string {
	switch s {
	case StateCancelled:
		return entity.StatusCancelledByRequester
	case StateRejected:
		return entity.StatusRejected
	case StateApproved:
		return entity.StatusClosed
	}
	return entity.StatusOpen
}

// ResolveAction maps the generic reject action onto the stage it applies to.
// In REJECTED the stage that recorded the rejection is returned so replays can be detected.
func ResolveAction(req *entity.MaintenanceRequest, action Action) Action {
	if action != ActionReject {
		return action
	}

	switch DeriveState(req) {
	case StateNew:
		return ActionVerify
	case StateVerified:
		return ActionRecommend
	case StateRecommended:
		return ActionApprove
	case StateRejected:
		switch {
		case rejected(req.Approval):
			return ActionApprove
		case rejected(req.Recommendation):
			return ActionRecommend
		default:
			return ActionVerify
		}
	}
	return action
}

// StageDecision returns the recorded decision for the stage an action targets
func StageDecision(req *entity.MaintenanceRequest, action Action) *entity.StageDecision {
	switch action {
	case ActionVerify:
		return req.Verification
	case ActionRecommend:
		return req.Recommendation
	case ActionApprove:
		return req.Approval
	}
	return nil
}

// IsReplay reports whether the trigger by this actor has already been recorded
func IsReplay(req *entity.MaintenanceRequest, trigger Trigger, actorID string) bool {
	if trigger.Action == ActionCancel {
		return req.Cancellation != nil && req.Cancellation.ActorID == actorID
	}
	d := StageDecision(req, trigger.Action)
	return d != nil && d.ActorID == actorID && d.Decision == string(trigger.Decision)
}

// ApplyEffect writes the stage fields for a trigger that has already passed the machine
func ApplyEffect(req *entity.MaintenanceRequest, trigger Trigger, actorID, comment string, at time.Time) {
	switch trigger.Action {
	case ActionCancel:
		req.Cancellation = &entity.Cancellation{ActorID: actorID, Date: at, Comment: comment}
	default:
		d := &entity.StageDecision{
			ActorID:  actorID,
			Decision: string(trigger.Decision),
			Date:     at,
			Comment:  comment,
		}
		switch trigger.Action {
		case ActionVerify:
			req.Verification = d
		case ActionRecommend:
			req.Recommendation = d
		case ActionApprove:
			req.Approval = d
		}
	}
	req.Status = ProjectStatus(DeriveState(req))
	req.UpdatedAt = at
}

// CheckInvariants verifies that the stage fields of a request are mutually consistent
func CheckInvariants(req *entity.MaintenanceRequest) error {
	if req.Recommendation != nil && !proceeded(req.Verification) {
		return fmt.Errorf("%w: recommendation recorded without verification proceed", ErrInvalidState)
	}
	if req.Approval != nil && !proceeded(req.Recommendation) {
		return fmt.Errorf("%w: approval recorded without recommendation proceed", ErrInvalidState)
	}
	if req.Cancellation != nil && req.Approval != nil {
		return fmt.Errorf("%w: cancellation recorded after approval decision", ErrInvalidState)
	}
	if req.BillingRef != nil && !proceeded(req.Approval) {
		return fmt.Errorf("%w: billing reference set without approval", ErrInvalidState)
	}
	if want := ProjectStatus(DeriveState(req)); req.Status != want {
		return fmt.Errorf("%w: status %q disagrees with stage decisions (%q)", ErrInvalidState, req.Status, want)
	}
	return nil
}

func proceeded(d *entity.StageDecision) bool {
	return d != nil && d.Decision == entity.DecisionProceed
}

func rejected(d *entity.StageDecision) bool {
	return d != nil && d.Decision == entity.DecisionReject
}
