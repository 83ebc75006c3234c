package workflow

import (
	"errors"
	"testing"
	"time"

	"github.com/garyjia/fleet-maintenance/internal/domain/entity"
)

func decision(actor, d string) *entity.StageDecision {
	return &entity.StageDecision{ActorID: actor, Decision: d, Date: time.Unix(0, 0)}
}

func TestDeriveState(t *testing.T) {
	tests := []struct {
		name string
		req  *entity.MaintenanceRequest
		want State
	}{
		{"fresh", &entity.MaintenanceRequest{}, StateNew},
		{"verified", &entity.MaintenanceRequest{
			Verification: decision("a", entity.DecisionProceed),
		}, StateVerified},
		{"recommended", &entity.MaintenanceRequest{
			Verification:   decision("a", entity.DecisionProceed),
			Recommendation: decision("b", entity.DecisionProceed),
		}, StateRecommended},
		{"approved", &entity.MaintenanceRequest{
			Verification:   decision("a", entity.DecisionProceed),
			Recommendation: decision("b", entity.DecisionProceed),
			Approval:       decision("c", entity.DecisionProceed),
		}, StateApproved},
		{"rejected at approval", &entity.MaintenanceRequest{
			Verification:   decision("a", entity.DecisionProceed),
			Recommendation: decision("b", entity.DecisionProceed),
			Approval:       decision("c", entity.DecisionReject),
		}, StateRejected},
		{"rejected at verification", &entity.MaintenanceRequest{
			Verification: decision("a", entity.DecisionReject),
		}, StateRejected},
		{"cancelled", &entity.MaintenanceRequest{
			Verification: decision("a", entity.DecisionProceed),
			Cancellation: &entity.Cancellation{ActorID: "r"},
		}, StateCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveState(tt.req); got != tt.want {
				t.Errorf("DeriveState() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProjectStatus(t *testing.T) {
	tests := map[State]string{
		StateNew:         entity.StatusOpen,
		StateVerified:    entity.StatusOpen,
		StateRecommended: entity.StatusOpen,
		StateApproved:    entity.StatusClosed,
		StateRejected:    entity.StatusRejected,
		StateCancelled:   entity.StatusCancelledByRequester,
	}
	for state, want := range tests {
		if got := ProjectStatus(state); got != want {
			t.Errorf("ProjectStatus(%v) = %v, want %v", state, got, want)
		}
	}
}

func TestResolveAction_Reject(t *testing.T) {
	req := &entity.MaintenanceRequest{}
	if got := ResolveAction(req, ActionReject); got != ActionVerify {
		t.Errorf("ResolveAction(NEW) = %v, want %v", got, ActionVerify)
	}

	req.Verification = decision("a", entity.DecisionProceed)
	if got := ResolveAction(req, ActionReject); got != ActionRecommend {
		t.Errorf("ResolveAction(VERIFIED) = %v, want %v", got, ActionRecommend)
	}

	req.Recommendation = decision("b", entity.DecisionReject)
	if got := ResolveAction(req, ActionReject); got != ActionRecommend {
		t.Errorf("ResolveAction(REJECTED) = %v, want stage that rejected", got)
	}

	if got := ResolveAction(req, ActionApprove); got != ActionApprove {
		t.Errorf("ResolveAction(approve) = %v, want unchanged", got)
	}
}

func TestIsReplay(t *testing.T) {
	req := &entity.MaintenanceRequest{
		Verification: decision("alice", entity.DecisionProceed),
		Cancellation: &entity.Cancellation{ActorID: "req"},
	}

	if !IsReplay(req, NewTrigger(ActionVerify, DecisionProceed), "alice") {
		t.Error("same actor and decision should be a replay")
	}
	if IsReplay(req, NewTrigger(ActionVerify, DecisionReject), "alice") {
		t.Error("different decision should not be a replay")
	}
	if IsReplay(req, NewTrigger(ActionVerify, DecisionProceed), "bob") {
		t.Error("different actor should not be a replay")
	}
	if IsReplay(req, NewTrigger(ActionRecommend, DecisionProceed), "alice") {
		t.Error("undecided stage should not be a replay")
	}
	if !IsReplay(req, NewTrigger(ActionCancel, DecisionNone), "req") {
		t.Error("repeated cancel by the same actor should be a replay")
	}
}

func TestApplyEffect_KeepsInvariants(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	req := &entity.MaintenanceRequest{Status: entity.StatusOpen}

	steps := []Trigger{
		NewTrigger(ActionVerify, DecisionProceed),
		NewTrigger(ActionRecommend, DecisionProceed),
		NewTrigger(ActionApprove, DecisionProceed),
	}
	for _, trig := range steps {
		ApplyEffect(req, trig, "actor", "ok", at)
		if err := CheckInvariants(req); err != nil {
			t.Fatalf("CheckInvariants() after %v: %v", trig, err)
		}
	}

	if req.Status != entity.StatusClosed {
		t.Errorf("Status = %v, want %v", req.Status, entity.StatusClosed)
	}
	if !req.UpdatedAt.Equal(at) {
		t.Errorf("UpdatedAt = %v, want %v", req.UpdatedAt, at)
	}
}

func TestCheckInvariants_Violations(t *testing.T) {
	ref := int64(9)
	tests := []struct {
		name string
		req  *entity.MaintenanceRequest
	}{
		{"recommendation without verification", &entity.MaintenanceRequest{
			Status:         entity.StatusOpen,
			Recommendation: decision("b", entity.DecisionProceed),
		}},
		{"billing without approval", &entity.MaintenanceRequest{
			Status:     entity.StatusOpen,
			BillingRef: &ref,
		}},
		{"stale status", &entity.MaintenanceRequest{
			Status:       entity.StatusOpen,
			Verification: decision("a", entity.DecisionReject),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := CheckInvariants(tt.req); !errors.Is(err, ErrInvalidState) {
				t.Errorf("CheckInvariants() error = %v, want %v", err, ErrInvalidState)
			}
		})
	}
}
