package entity

import "time"

// TransitionHistory is the audit trail of a maintenance request
type TransitionHistory struct {
	ID            int64     `json:"id"`
	RequestID     int64     `json:"request_id"`
	ActorID       string    `json:"actor_id"`
	PreviousState string    `json:"previous_state"`
	NewState      string    `json:"new_state"`
	Action        string    `json:"action"`
	Decision      string    `json:"decision,omitempty"`
	Comment       string    `json:"comment,omitempty"`
	Via           string    `json:"via"`
	Timestamp     time.Time `json:"timestamp"`
}

// History channel values (how the actor reached the engine)
const (
	ViaSession = "session"
	ViaLink    = "link"
)

// PendingCounts is the number of open requests waiting at each stage
type PendingCounts struct {
	Verification   int `json:"verification"`
	Recommendation int `json:"recommendation"`
	Approval       int `json:"approval"`
	BillingPending int `json:"billing_pending"`
}

// Total returns the number of items needing attention
func (p PendingCounts) Total() int {
	return p.Verification + p.Recommendation + p.Approval + p.BillingPending
}
