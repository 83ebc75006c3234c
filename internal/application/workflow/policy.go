package workflow

import (
	"github.com/garyjia/fleet-maintenance/internal/domain/entity"
	domainwf "github.com/garyjia/fleet-maintenance/internal/domain/workflow"
)

// PolicyConfig lists who may act at each stage. An empty list lets any actor act.
type PolicyConfig struct {
	Verifiers      []string
	Recommenders   []string
	Approvers      []string
	Administrators []string
}

// StagePolicy decides whether an actor may take an action and who acts next
type StagePolicy struct {
	verifiers      map[string]bool
	recommenders   map[string]bool
	approvers      map[string]bool
	administrators map[string]bool
	cfg            PolicyConfig
}

// NewStagePolicy creates a policy from configured actor lists
func NewStagePolicy(cfg PolicyConfig) *StagePolicy {
	return &StagePolicy{
		verifiers:      toSet(cfg.Verifiers),
		recommenders:   toSet(cfg.Recommenders),
		approvers:      toSet(cfg.Approvers),
		administrators: toSet(cfg.Administrators),
		cfg:            cfg,
	}
}

// Authorize reports whether actorID may take action on req.
// Cancel is reserved to the requester and administrators.
func (p *StagePolicy) Authorize(req *entity.MaintenanceRequest, action domainwf.Action, actorID string) bool {
	switch action {
	case domainwf.ActionVerify:
		return allowed(p.verifiers, actorID)
	case domainwf.ActionRecommend:
		return allowed(p.recommenders, actorID)
	case domainwf.ActionApprove:
		return allowed(p.approvers, actorID)
	case domainwf.ActionCancel:
		return actorID == req.RequesterID || p.IsAdministrator(actorID)
	}
	return false
}

// IsAdministrator reports whether actorID is a configured administrator
func (p *StagePolicy) IsAdministrator(actorID string) bool {
	return p.administrators[actorID]
}

// NextActors resolves who is responsible for a request in the given state and
// which action they are expected to take. Terminal states return the requester
// with no action. Unassigned stages fall back to the administrators.
func (p *StagePolicy) NextActors(req *entity.MaintenanceRequest, state domainwf.State) ([]string, domainwf.Action) {
	var actors []string
	var action domainwf.Action

	switch state {
	case domainwf.StateNew:
		actors, action = p.cfg.Verifiers, domainwf.ActionVerify
	case domainwf.StateVerified:
		actors, action = p.cfg.Recommenders, domainwf.ActionRecommend
	case domainwf.StateRecommended:
		actors, action = p.cfg.Approvers, domainwf.ActionApprove
	default:
		return []string{req.RequesterID}, ""
	}

	if len(actors) == 0 {
		actors = p.cfg.Administrators
	}
	return append([]string(nil), actors...), action
}

func allowed(set map[string]bool, actorID string) bool {
	return len(set) == 0 || set[actorID]
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = true
		}
	}
	return set
}
