package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/garyjia/fleet-maintenance/internal/application/dispatcher"
	"github.com/garyjia/fleet-maintenance/internal/application/port"
	"github.com/garyjia/fleet-maintenance/internal/domain/entity"
	"github.com/garyjia/fleet-maintenance/internal/domain/event"
	domainwf "github.com/garyjia/fleet-maintenance/internal/domain/workflow"
	"github.com/garyjia/fleet-maintenance/internal/metrics"
	"github.com/garyjia/fleet-maintenance/internal/telemetry"
)

// maxConflictRetries bounds how often a lost version race is re-read and retried
const maxConflictRetries = 1

// engineImpl implements WorkflowEngine
type engineImpl struct {
	requestRepo port.RequestRepository
	historyRepo port.HistoryRepository
	txManager   port.TransactionManager
	dispatcher  dispatcher.Dispatcher
	billing     BillingPusher
	policy      *StagePolicy
	logger      Logger
	now         func() time.Time
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the event dispatcher for the engine
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithBillingPusher sets the billing bridge invoked after final approval
func WithBillingPusher(b BillingPusher) EngineOption {
	return func(e *engineImpl) {
		e.billing = b
	}
}

// WithPolicy sets the stage assignment policy
func WithPolicy(p *StagePolicy) EngineOption {
	return func(e *engineImpl) {
		e.policy = p
	}
}

// WithLogger sets the engine logger
func WithLogger(l Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = l
	}
}

// WithClock overrides the time source used for decision dates
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// NewEngine creates a new workflow engine
func NewEngine(
	requestRepo port.RequestRepository,
	historyRepo port.HistoryRepository,
	txManager port.TransactionManager,
	opts ...EngineOption,
) WorkflowEngine {
	e := &engineImpl{
		requestRepo: requestRepo,
		historyRepo: historyRepo,
		txManager:   txManager,
		policy:      NewStagePolicy(PolicyConfig{}),
		logger:      nopLogger{},
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Apply validates and applies one transition
func (e *engineImpl) Apply(ctx context.Context, cmd Command) (*Outcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "workflow.apply",
		attribute.Int64(telemetry.RequestIDKey, cmd.RequestID),
		attribute.String(telemetry.ActionKey, string(cmd.Action)),
		attribute.String(telemetry.DecisionKey, string(cmd.Decision)),
		attribute.String(telemetry.ActorKey, cmd.ActorID),
	)
	out, err := e.apply(ctx, cmd)
	if out != nil {
		span.SetAttributes(attribute.String(telemetry.StateKey, out.To.String()))
	}
	telemetry.EndSpan(span, err)
	return out, err
}

func (e *engineImpl) apply(ctx context.Context, cmd Command) (*Outcome, error) {
	if err := validateCommand(cmd); err != nil {
		metrics.RecordTransition(string(cmd.Action), string(cmd.Decision), outcomeLabel(err))
		return nil, err
	}

	var out *Outcome
	var err error
	for attempt := 0; ; attempt++ {
		out, err = e.applyOnce(ctx, cmd)
		if !errors.Is(err, domainwf.ErrConcurrentModification) || attempt >= maxConflictRetries {
			break
		}
		metrics.RecordTransitionRetry()
		e.logger.Info("Concurrent modification, retrying transition",
			"request_id", cmd.RequestID,
			"action", cmd.Action,
			"actor", cmd.ActorID,
		)
	}

	if err != nil {
		metrics.RecordTransition(string(cmd.Action), string(cmd.Decision), outcomeLabel(err))
		e.logger.Info("Transition refused",
			"request_id", cmd.RequestID,
			"action", cmd.Action,
			"actor", cmd.ActorID,
			"reason", domainwf.ReasonOf(err),
			"error", err,
		)
		return nil, err
	}

	action, decision := string(out.Trigger.Action), string(out.Trigger.Decision)
	correlationID := ""
	if out.NoOp {
		metrics.RecordTransition(action, decision, metrics.OutcomeNoop)
	} else {
		metrics.RecordTransition(action, decision, metrics.OutcomeApplied)
		e.logger.Info("Transition applied",
			"request_id", cmd.RequestID,
			"from", out.From,
			"to", out.To,
			"trigger", out.Trigger.String(),
			"actor", cmd.ActorID,
			"via", cmd.Via,
		)
		correlationID = e.publish(ctx, out, cmd)
	}

	// The billing bridge is idempotent, so a replayed approval retries a push that
	// may have failed the first time.
	if out.To == domainwf.StateApproved && out.Trigger.Action == domainwf.ActionApprove {
		e.pushBilling(ctx, out, correlationID)
	}

	return out, nil
}

// applyOnce performs one read-modify-write cycle inside a transaction
func (e *engineImpl) applyOnce(ctx context.Context, cmd Command) (*Outcome, error) {
	var out *Outcome

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		req, err := e.requestRepo.GetByID(txCtx, cmd.RequestID)
		if err != nil {
			return fmt.Errorf("failed to load request %d: %w", cmd.RequestID, err)
		}
		if req == nil {
			return fmt.Errorf("%w: %d", domainwf.ErrNotFound, cmd.RequestID)
		}

		action := domainwf.ResolveAction(req, cmd.Action)
		decision := cmd.Decision
		if cmd.Action == domainwf.ActionReject {
			decision = domainwf.DecisionReject
		}
		trigger := domainwf.NewTrigger(action, decision)
		from := domainwf.DeriveState(req)

		if domainwf.IsReplay(req, trigger, cmd.ActorID) {
			out = &Outcome{Request: req, From: from, To: from, Trigger: trigger, NoOp: true}
			return nil
		}

		machine := BuildMaintenanceStateMachine(req)
		if !machine.CanFire(trigger) {
			return domainwf.NewTransitionError(req.ID, from, action)
		}
		if !e.policy.Authorize(req, action, cmd.ActorID) {
			return domainwf.NotYourTurn(req.ID, from, action)
		}
		if err := machine.Fire(txCtx, trigger); err != nil {
			if errors.Is(err, domainwf.ErrGuardFailed) || errors.Is(err, domainwf.ErrInvalidTransition) {
				return domainwf.NewTransitionError(req.ID, from, action)
			}
			return err
		}

		now := e.now()
		updated := req.Clone()
		domainwf.ApplyEffect(updated, trigger, cmd.ActorID, cmd.Comment, now)

		if err := e.requestRepo.Update(txCtx, updated); err != nil {
			return err
		}

		history := &entity.TransitionHistory{
			RequestID:     req.ID,
			ActorID:       cmd.ActorID,
			PreviousState: from.String(),
			NewState:      machine.State().String(),
			Action:        string(trigger.Action),
			Decision:      string(trigger.Decision),
			Comment:       cmd.Comment,
			Via:           viaOrDefault(cmd.Via),
			Timestamp:     now,
		}
		if err := e.historyRepo.Create(txCtx, history); err != nil {
			return fmt.Errorf("failed to create history: %w", err)
		}

		out = &Outcome{Request: updated, From: from, To: machine.State(), Trigger: trigger}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// pushBilling runs the billing bridge after commit. A failure leaves the
// approval in place and marks the outcome as pending; the pending event is
// correlated with the approval's transition event when there was one.
func (e *engineImpl) pushBilling(ctx context.Context, out *Outcome, correlationID string) {
	if e.billing == nil {
		return
	}

	result, err := e.billing.PushToBilling(ctx, out.Request.ID)
	if err != nil {
		out.BillingPending = true
		e.logger.Error("Billing push failed, request left awaiting billing",
			"request_id", out.Request.ID,
			"error", err,
		)
		if e.dispatcher != nil {
			e.dispatcher.DispatchAsync(ctx, event.NewEventWithCorrelation(event.TypeBillingPending, out.Request.ID, map[string]interface{}{
				"error": err.Error(),
			}, correlationID))
		}
		return
	}

	out.Billing = result
	ref := result.BillingRef
	out.Request.BillingRef = &ref
}

// publish dispatches the transition event and returns its id
func (e *engineImpl) publish(ctx context.Context, out *Outcome, cmd Command) string {
	if e.dispatcher == nil {
		return ""
	}
	evt := event.NewEvent(event.TypeRequestTransitioned, out.Request.ID, map[string]interface{}{
		event.KeyFrom:     out.From.String(),
		event.KeyTo:       out.To.String(),
		event.KeyAction:   string(out.Trigger.Action),
		event.KeyDecision: string(out.Trigger.Decision),
		event.KeyActor:    cmd.ActorID,
		event.KeyVia:      viaOrDefault(cmd.Via),
	})
	e.dispatcher.DispatchAsync(ctx, evt)
	return evt.ID
}

// ApplyBulk applies each command independently
func (e *engineImpl) ApplyBulk(ctx context.Context, cmds []Command) []BulkResult {
	results := make([]BulkResult, 0, len(cmds))
	for _, cmd := range cmds {
		res := BulkResult{RequestID: cmd.RequestID}
		out, err := e.Apply(ctx, cmd)
		if err != nil {
			res.Err = err
			res.Error = err.Error()
			res.Reason = domainwf.ReasonOf(err)
		} else {
			res.OK = true
			res.NoOp = out.NoOp
			res.State = out.To.String()
		}
		results = append(results, res)
	}
	return results
}

func validateCommand(cmd Command) error {
	if !cmd.Action.IsValid() {
		return domainwf.NewTransitionError(cmd.RequestID, "", cmd.Action)
	}
	if cmd.RequestID <= 0 {
		return fmt.Errorf("%w: request id is required", domainwf.ErrInvalidCommand)
	}
	if cmd.ActorID == "" {
		return fmt.Errorf("%w: actor is required", domainwf.ErrInvalidCommand)
	}

	switch cmd.Action {
	case domainwf.ActionVerify, domainwf.ActionRecommend, domainwf.ActionApprove:
		if cmd.Decision != domainwf.DecisionProceed && cmd.Decision != domainwf.DecisionReject {
			return fmt.Errorf("%w: %s requires a decision", domainwf.ErrInvalidCommand, cmd.Action)
		}
	case domainwf.ActionReject:
		if cmd.Decision != domainwf.DecisionNone && cmd.Decision != domainwf.DecisionReject {
			return fmt.Errorf("%w: reject cannot carry decision %q", domainwf.ErrInvalidCommand, cmd.Decision)
		}
	}
	return nil
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, domainwf.ErrIllegalTransition):
		return metrics.OutcomeIllegal
	case errors.Is(err, domainwf.ErrConcurrentModification):
		return metrics.OutcomeConflict
	default:
		return metrics.OutcomeError
	}
}

func viaOrDefault(via string) string {
	if via == "" {
		return entity.ViaSession
	}
	return via
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
