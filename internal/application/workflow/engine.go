package workflow

import (
	"context"

	"github.com/garyjia/fleet-maintenance/internal/domain/entity"
	domainwf "github.com/garyjia/fleet-maintenance/internal/domain/workflow"
)

// WorkflowEngine validates and applies stage transitions
type WorkflowEngine interface {
	// Apply runs one transition. Replays of an already recorded decision by the
	// same actor succeed as a no-op.
	Apply(ctx context.Context, cmd Command) (*Outcome, error)

	// ApplyBulk applies each command independently; one failure never aborts the batch
	ApplyBulk(ctx context.Context, cmds []Command) []BulkResult
}

// Command is one transition request
type Command struct {
	RequestID int64
	Action    domainwf.Action
	ActorID   string
	Decision  domainwf.Decision
	Comment   string
	// Via records how the actor reached the engine (session or link)
	Via string
}

// Outcome is the result of a successful Apply
type Outcome struct {
	Request *entity.MaintenanceRequest
	From    domainwf.State
	To      domainwf.State
	Trigger domainwf.Trigger
	NoOp    bool

	// Set only for approve(proceed)
	Billing        *BillingResult
	BillingPending bool
}

// BulkResult reports one item of ApplyBulk
type BulkResult struct {
	RequestID int64  `json:"request_id"`
	OK        bool   `json:"ok"`
	NoOp      bool   `json:"noop,omitempty"`
	State     string `json:"state,omitempty"`
	Error     string `json:"error,omitempty"`
	Reason    string `json:"reason,omitempty"`

	Err error `json:"-"`
}

// BillingResult is the outcome of the billing bridge
type BillingResult struct {
	Created    bool  `json:"created"`
	BillingRef int64 `json:"billing_ref"`
}

// BillingPusher is the billing bridge invoked after a final approval
type BillingPusher interface {
	PushToBilling(ctx context.Context, requestID int64) (*BillingResult, error)
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}
