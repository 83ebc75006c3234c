package service

import (
	"context"

	"github.com/garyjia/fleet-maintenance/internal/application/port"
	"github.com/garyjia/fleet-maintenance/internal/application/workflow"
	"github.com/garyjia/fleet-maintenance/internal/domain/entity"
	domainwf "github.com/garyjia/fleet-maintenance/internal/domain/workflow"
)

// Resolver joins a request with reference data for display
type Resolver interface {
	// Resolve builds the view as seen by actorID, whose permitted actions
	// are listed. An empty actorID lists none.
	Resolve(ctx context.Context, req *entity.MaintenanceRequest, actorID string) *port.ResolvedView
}

type resolverImpl struct {
	referenceRepo port.ReferenceRepository
	policy        *workflow.StagePolicy
	logger        Logger
}

// NewResolver creates a new Resolver. A nil policy lets every actor take
// every action the workflow permits.
func NewResolver(referenceRepo port.ReferenceRepository, policy *workflow.StagePolicy, logger Logger) Resolver {
	if policy == nil {
		policy = workflow.NewStagePolicy(workflow.PolicyConfig{})
	}
	return &resolverImpl{
		referenceRepo: referenceRepo,
		policy:        policy,
		logger:        loggerOrNop(logger),
	}
}

// Resolve never fails: a missing or unreadable reference leaves its field nil
func (r *resolverImpl) Resolve(ctx context.Context, req *entity.MaintenanceRequest, actorID string) *port.ResolvedView {
	state := domainwf.DeriveState(req)
	machine := workflow.BuildMaintenanceStateMachine(req)

	view := &port.ResolvedView{
		Request:        req,
		State:          state.String(),
		AllowedActions: r.allowedActions(req, machine, actorID),
		BillingPending: req.IsApproved() && !req.IsBilled(),
	}

	names := make(map[string]*string)
	employee := func(id string) *string {
		if id == "" {
			return nil
		}
		if name, ok := names[id]; ok {
			return name
		}
		var name *string
		emp, err := r.referenceRepo.GetEmployee(ctx, id)
		if err != nil {
			r.logger.Error("Employee lookup failed", "ramco_id", id, "error", err)
		} else if emp != nil {
			name = strPtr(emp.FullName)
		}
		names[id] = name
		return name
	}

	view.RequesterName = employee(req.RequesterID)
	if req.Verification != nil {
		view.VerifierName = employee(req.Verification.ActorID)
	}
	if req.Recommendation != nil {
		view.RecommenderName = employee(req.Recommendation.ActorID)
	}
	if req.Approval != nil {
		view.ApproverName = employee(req.Approval.ActorID)
	}

	asset, err := r.referenceRepo.GetAsset(ctx, req.AssetID)
	if err != nil {
		r.logger.Error("Asset lookup failed", "asset_id", req.AssetID, "error", err)
	} else if asset != nil {
		view.AssetRegisterNumber = strPtr(asset.RegisterNumber)
	}

	if req.WorkshopID != nil {
		ws, err := r.referenceRepo.GetWorkshop(ctx, *req.WorkshopID)
		if err != nil {
			r.logger.Error("Workshop lookup failed", "workshop_id", *req.WorkshopID, "error", err)
		} else if ws != nil {
			view.WorkshopName = strPtr(ws.Name)
		}
	}

	costCenterID := req.CostCenterID
	if costCenterID == nil && asset != nil {
		costCenterID = asset.CostCenterID
	}
	if costCenterID != nil {
		cc, err := r.referenceRepo.GetCostCenter(ctx, *costCenterID)
		if err != nil {
			r.logger.Error("Cost center lookup failed", "cost_center_id", *costCenterID, "error", err)
		} else if cc != nil {
			view.CostCenterName = strPtr(cc.Name)
		}
	}

	view.ServiceTypes = r.serviceTypes(ctx, req.ServiceTypeIDs)
	return view
}

func (r *resolverImpl) serviceTypes(ctx context.Context, ids []int64) []port.ResolvedServiceType {
	out := make([]port.ResolvedServiceType, 0, len(ids))
	if len(ids) == 0 {
		return out
	}

	labels := make(map[int64]string)
	catalog, err := r.referenceRepo.GetServiceTypes(ctx)
	if err != nil {
		r.logger.Error("Service type lookup failed", "error", err)
		catalog = nil
	}
	for _, st := range catalog {
		labels[st.ID] = st.Label
	}

	for _, id := range ids {
		item := port.ResolvedServiceType{ID: id}
		if label, ok := labels[id]; ok {
			item.Label = strPtr(label)
		}
		out = append(out, item)
	}
	return out
}

// allowedActions lists the distinct actions the machine still permits that
// the policy lets actorID take
func (r *resolverImpl) allowedActions(req *entity.MaintenanceRequest, machine domainwf.StateMachine, actorID string) []string {
	actions := []string{}
	if actorID == "" {
		return actions
	}

	seen := make(map[domainwf.Action]bool)
	for _, trigger := range machine.PermittedTriggers() {
		if seen[trigger.Action] {
			continue
		}
		seen[trigger.Action] = true
		if r.policy.Authorize(req, trigger.Action, actorID) {
			actions = append(actions, trigger.Action.String())
		}
	}
	return actions
}

func strPtr(s string) *string {
	return &s
}
