package entity

import "time"

// MaintenanceRequest represents one vehicle-service request moving through
// the verification -> recommendation -> approval chain
type MaintenanceRequest struct {
	ID          int64  `json:"id"`
	RequesterID string `json:"requester_id"`
	AssetID     int64  `json:"asset_id"`
	Status      string `json:"status"`

	// Submission details supplied by the requester
	Description    string  `json:"description"`
	ServiceTypeIDs []int64 `json:"service_type_ids"`
	WorkshopID     *int64  `json:"workshop_id,omitempty"`
	CostCenterID   *int64  `json:"cost_center_id,omitempty"`
	Odometer       int64   `json:"odometer"`

	Verification   *StageDecision `json:"verification,omitempty"`
	Recommendation *StageDecision `json:"recommendation,omitempty"`
	Approval       *StageDecision `json:"approval,omitempty"`
	Cancellation   *Cancellation  `json:"cancellation,omitempty"`

	// BillingRef is the invoice id created after approval; set at most once
	BillingRef *int64 `json:"billing_ref,omitempty"`

	// Version is bumped on every write and guards read-modify-write cycles
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StageDecision is the recorded outcome of one human decision stage
type StageDecision struct {
	ActorID  string    `json:"actor_id"`
	Decision string    `json:"decision"`
	Date     time.Time `json:"date"`
	Comment  string    `json:"comment,omitempty"`
}

// Cancellation records a withdrawal of the request
type Cancellation struct {
	ActorID string    `json:"actor_id"`
	Date    time.Time `json:"date"`
	Comment string    `json:"comment,omitempty"`
}

// Clone returns a deep copy so callers can mutate without touching shared state
func (r *MaintenanceRequest) Clone() *MaintenanceRequest {
	if r == nil {
		return nil
	}

	c := *r
	c.ServiceTypeIDs = append([]int64(nil), r.ServiceTypeIDs...)
	c.WorkshopID = cloneInt64(r.WorkshopID)
	c.CostCenterID = cloneInt64(r.CostCenterID)
	c.BillingRef = cloneInt64(r.BillingRef)
	if r.Verification != nil {
		v := *r.Verification
		c.Verification = &v
	}
	if r.Recommendation != nil {
		v := *r.Recommendation
		c.Recommendation = &v
	}
	if r.Approval != nil {
		v := *r.Approval
		c.Approval = &v
	}
	if r.Cancellation != nil {
		v := *r.Cancellation
		c.Cancellation = &v
	}
	return &c
}

// IsApproved reports whether the approval stage recorded proceed.
// Billing presence is deliberately not consulted.
func (r *MaintenanceRequest) IsApproved() bool {
	return r.Approval != nil && r.Approval.Decision == DecisionProceed
}

// IsBilled reports whether the billing bridge has completed for this request
func (r *MaintenanceRequest) IsBilled() bool {
	return r.BillingRef != nil
}

func cloneInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
