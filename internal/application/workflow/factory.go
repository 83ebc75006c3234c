package workflow

import (
	"context"
	"fmt"

	"github.com/garyjia/fleet-maintenance/internal/domain/entity"
	domainwf "github.com/garyjia/fleet-maintenance/internal/domain/workflow"
)

var (
	verifyProceed    = domainwf.NewTrigger(domainwf.ActionVerify, domainwf.DecisionProceed)
	verifyReject     = domainwf.NewTrigger(domainwf.ActionVerify, domainwf.DecisionReject)
	recommendProceed = domainwf.NewTrigger(domainwf.ActionRecommend, domainwf.DecisionProceed)
	recommendReject  = domainwf.NewTrigger(domainwf.ActionRecommend, domainwf.DecisionReject)
	approveProceed   = domainwf.NewTrigger(domainwf.ActionApprove, domainwf.DecisionProceed)
	approveReject    = domainwf.NewTrigger(domainwf.ActionApprove, domainwf.DecisionReject)
	cancelTrigger    = domainwf.NewTrigger(domainwf.ActionCancel, domainwf.DecisionNone)
)

// BuildMaintenanceStateMachine creates a state machine for one request, positioned
// at the state derived from its stage fields. Guards read the request itself.
func BuildMaintenanceStateMachine(req *entity.MaintenanceRequest) domainwf.StateMachine {
	builder := domainwf.NewBuilder()

	verified := stageProceeded("verification", func() *entity.StageDecision { return req.Verification })
	recommended := stageProceeded("recommendation", func() *entity.StageDecision { return req.Recommendation })
	approvalOpen := func(ctx context.Context) error {
		if req.Approval != nil {
			return fmt.Errorf("approval already decided")
		}
		return nil
	}

	// NEW state transitions
	builder.Configure(domainwf.StateNew).
		Permit(verifyProceed, domainwf.StateVerified).
		Permit(verifyReject, domainwf.StateRejected).
		PermitIf(cancelTrigger, domainwf.StateCancelled, approvalOpen)

	// VERIFIED state transitions
	builder.Configure(domainwf.StateVerified).
		PermitIf(recommendProceed, domainwf.StateRecommended, verified).
		PermitIf(recommendReject, domainwf.StateRejected, verified).
		PermitIf(cancelTrigger, domainwf.StateCancelled, approvalOpen)

	// RECOMMENDED state transitions
	builder.Configure(domainwf.StateRecommended).
		PermitIf(approveProceed, domainwf.StateApproved, recommended).
		PermitIf(approveReject, domainwf.StateRejected, recommended).
		PermitIf(cancelTrigger, domainwf.StateCancelled, approvalOpen)

	// APPROVED, REJECTED and CANCELLED are terminal states - no outgoing transitions

	return builder.Build(domainwf.DeriveState(req))
}

func stageProceeded(stage string, get func() *entity.StageDecision) domainwf.GuardFunc {
	return func(ctx context.Context) error {
		d := get()
		if d == nil || d.Decision != entity.DecisionProceed {
			return fmt.Errorf("%s has not proceeded", stage)
		}
		return nil
	}
}
