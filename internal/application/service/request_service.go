package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/garyjia/fleet-maintenance/internal/application/dispatcher"
	"github.com/garyjia/fleet-maintenance/internal/application/linktoken"
	"github.com/garyjia/fleet-maintenance/internal/application/port"
	"github.com/garyjia/fleet-maintenance/internal/application/workflow"
	"github.com/garyjia/fleet-maintenance/internal/domain/entity"
	"github.com/garyjia/fleet-maintenance/internal/domain/event"
	domainwf "github.com/garyjia/fleet-maintenance/internal/domain/workflow"
	"github.com/garyjia/fleet-maintenance/internal/metrics"
)

// SubmitInput is a new maintenance request
type SubmitInput struct {
	RequesterID    string  `json:"requester_id" validate:"required,max=64"`
	AssetID        int64   `json:"asset_id" validate:"required,gt=0"`
	Description    string  `json:"description" validate:"max=2000"`
	ServiceTypeIDs []int64 `json:"service_type_ids" validate:"dive,gt=0"`
	WorkshopID     *int64  `json:"workshop_id,omitempty" validate:"omitempty,gt=0"`
	CostCenterID   *int64  `json:"cost_center_id,omitempty" validate:"omitempty,gt=0"`
	Odometer       int64   `json:"odometer" validate:"gte=0"`
}

// ApplyInput is one transition request from a session caller
type ApplyInput struct {
	RequestID int64  `json:"request_id" validate:"required,gt=0"`
	Action    string `json:"action" validate:"required"`
	ActorID   string `json:"actor_id" validate:"required,max=64"`
	Decision  string `json:"decision"`
	Comment   string `json:"comment" validate:"max=2000"`
}

// LinkInput is a transition authorized by an emailed capability token.
// RequestID and Action, when set, must match what the token was minted for.
type LinkInput struct {
	Token     string `json:"token" validate:"required"`
	Decision  string `json:"decision" validate:"required"`
	Comment   string `json:"comment" validate:"max=2000"`
	RequestID int64  `json:"request_id,omitempty"`
	Action    string `json:"action,omitempty"`
}

// ApplyResult is the resolved request after a transition
type ApplyResult struct {
	View           *port.ResolvedView      `json:"view"`
	NoOp           bool                    `json:"noop"`
	Billing        *workflow.BillingResult `json:"billing,omitempty"`
	BillingPending bool                    `json:"billing_pending,omitempty"`
}

// RequestService is the caller-facing facade of the workflow
type RequestService interface {
	Submit(ctx context.Context, in SubmitInput) (*entity.MaintenanceRequest, error)
	Apply(ctx context.Context, in ApplyInput) (*ApplyResult, error)
	ApplyBulk(ctx context.Context, items []ApplyInput) []workflow.BulkResult
	AuthorizeViaLink(ctx context.Context, in LinkInput) (*ApplyResult, error)
	PushToBilling(ctx context.Context, requestID int64) (*workflow.BillingResult, error)
	GetResolved(ctx context.Context, requestID int64, actorID string) (*port.ResolvedView, error)
	List(ctx context.Context, filter port.RequestFilter, actorID string) ([]*port.ResolvedView, error)
	History(ctx context.Context, requestID int64) ([]*entity.TransitionHistory, error)
	PendingCounts(ctx context.Context) (entity.PendingCounts, error)
	Export(ctx context.Context, filter port.RequestFilter, w io.Writer) error
}

// RequestServiceDeps groups the collaborators of the request service
type RequestServiceDeps struct {
	RequestRepo   port.RequestRepository
	HistoryRepo   port.HistoryRepository
	ReferenceRepo port.ReferenceRepository
	Engine        workflow.WorkflowEngine
	Billing       BillingService
	Resolver      Resolver
	Tokens        *linktoken.Service
	Dispatcher    dispatcher.Dispatcher
	Exporter      port.ViewExporter
	Logger        Logger
}

type requestServiceImpl struct {
	deps     RequestServiceDeps
	validate *validator.Validate
	logger   Logger
	now      func() time.Time
}

// NewRequestService creates a new RequestService
func NewRequestService(deps RequestServiceDeps) RequestService {
	return &requestServiceImpl{
		deps:     deps,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   loggerOrNop(deps.Logger),
		now:      time.Now,
	}
}

// Submit validates and stores a new request in the NEW state
func (s *requestServiceImpl) Submit(ctx context.Context, in SubmitInput) (*entity.MaintenanceRequest, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", domainwf.ErrInvalidCommand, err)
	}

	if s.deps.ReferenceRepo != nil {
		asset, err := s.deps.ReferenceRepo.GetAsset(ctx, in.AssetID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up asset: %w", err)
		}
		if asset == nil {
			return nil, fmt.Errorf("%w: unknown asset %d", domainwf.ErrInvalidCommand, in.AssetID)
		}
	}

	now := s.now()
	req := &entity.MaintenanceRequest{
		RequesterID:    in.RequesterID,
		AssetID:        in.AssetID,
		Status:         entity.StatusOpen,
		Description:    in.Description,
		ServiceTypeIDs: in.ServiceTypeIDs,
		WorkshopID:     in.WorkshopID,
		CostCenterID:   in.CostCenterID,
		Odometer:       in.Odometer,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.deps.RequestRepo.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	s.logger.Info("Maintenance request submitted",
		"request_id", req.ID,
		"requester", req.RequesterID,
		"asset_id", req.AssetID,
	)

	if s.deps.Dispatcher != nil {
		s.deps.Dispatcher.DispatchAsync(ctx, event.NewEvent(event.TypeRequestSubmitted, req.ID, map[string]interface{}{
			event.KeyActor: req.RequesterID,
			event.KeyTo:    domainwf.StateNew.String(),
		}))
	}
	return req, nil
}

// Apply runs one transition for a session caller
func (s *requestServiceImpl) Apply(ctx context.Context, in ApplyInput) (*ApplyResult, error) {
	cmd, err := s.toCommand(in)
	if err != nil {
		return nil, err
	}
	cmd.Via = entity.ViaSession
	return s.apply(ctx, cmd)
}

func (s *requestServiceImpl) apply(ctx context.Context, cmd workflow.Command) (*ApplyResult, error) {
	out, err := s.deps.Engine.Apply(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return &ApplyResult{
		View:           s.deps.Resolver.Resolve(ctx, out.Request, cmd.ActorID),
		NoOp:           out.NoOp,
		Billing:        out.Billing,
		BillingPending: out.BillingPending,
	}, nil
}

func (s *requestServiceImpl) toCommand(in ApplyInput) (workflow.Command, error) {
	if err := s.validate.Struct(in); err != nil {
		return workflow.Command{}, fmt.Errorf("%w: %v", domainwf.ErrInvalidCommand, err)
	}
	action, err := domainwf.ParseAction(in.Action)
	if err != nil {
		return workflow.Command{}, domainwf.NewTransitionError(in.RequestID, "", domainwf.Action(in.Action))
	}
	decision, err := domainwf.ParseDecision(in.Decision)
	if err != nil {
		return workflow.Command{}, fmt.Errorf("%w: %v", domainwf.ErrInvalidCommand, err)
	}
	return workflow.Command{
		RequestID: in.RequestID,
		Action:    action,
		ActorID:   in.ActorID,
		Decision:  decision,
		Comment:   in.Comment,
	}, nil
}

// ApplyBulk validates every item and applies the valid ones independently.
// Results keep the order of items.
func (s *requestServiceImpl) ApplyBulk(ctx context.Context, items []ApplyInput) []workflow.BulkResult {
	results := make([]workflow.BulkResult, len(items))
	cmds := make([]workflow.Command, 0, len(items))
	positions := make([]int, 0, len(items))

	for i, in := range items {
		cmd, err := s.toCommand(in)
		if err != nil {
			results[i] = workflow.BulkResult{
				RequestID: in.RequestID,
				Error:     err.Error(),
				Reason:    domainwf.ReasonOf(err),
				Err:       err,
			}
			continue
		}
		cmd.Via = entity.ViaSession
		cmds = append(cmds, cmd)
		positions = append(positions, i)
	}

	for j, res := range s.deps.Engine.ApplyBulk(ctx, cmds) {
		results[positions[j]] = res
	}

	ok := 0
	for _, r := range results {
		if r.OK {
			ok++
		}
	}
	s.logger.Info("Bulk apply completed", "items", len(items), "succeeded", ok, "failed", len(items)-ok)
	return results
}

// AuthorizeViaLink verifies a capability token and applies the decision it carries.
// The token itself is never logged.
func (s *requestServiceImpl) AuthorizeViaLink(ctx context.Context, in LinkInput) (*ApplyResult, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", domainwf.ErrInvalidCommand, err)
	}

	var grant *linktoken.Grant
	var err error
	if in.RequestID > 0 || in.Action != "" {
		grant, err = s.deps.Tokens.VerifyFor(ctx, in.Token, in.RequestID, domainwf.Action(in.Action))
	} else {
		grant, err = s.deps.Tokens.Verify(ctx, in.Token)
	}
	metrics.RecordTokenVerification(err == nil)
	if err != nil {
		s.logger.Info("Link token rejected",
			"fingerprint", linktoken.Fingerprint(in.Token),
			"claimed_request_id", linktoken.ClaimedRequestID(in.Token),
			"error", err,
		)
		return nil, err
	}

	decision, err := domainwf.ParseDecision(in.Decision)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domainwf.ErrInvalidCommand, err)
	}
	if grant.Action == domainwf.ActionCancel {
		decision = domainwf.DecisionNone
	}

	s.logger.Info("Link token accepted",
		"fingerprint", linktoken.Fingerprint(in.Token),
		"request_id", grant.RequestID,
		"actor", grant.ActorID,
		"action", grant.Action,
		"legacy", grant.Legacy,
	)

	return s.apply(ctx, workflow.Command{
		RequestID: grant.RequestID,
		Action:    grant.Action,
		ActorID:   grant.ActorID,
		Decision:  decision,
		Comment:   in.Comment,
		Via:       entity.ViaLink,
	})
}

// PushToBilling delegates to the billing bridge
func (s *requestServiceImpl) PushToBilling(ctx context.Context, requestID int64) (*workflow.BillingResult, error) {
	return s.deps.Billing.PushToBilling(ctx, requestID)
}

// GetResolved returns the resolved view of one request as seen by actorID
func (s *requestServiceImpl) GetResolved(ctx context.Context, requestID int64, actorID string) (*port.ResolvedView, error) {
	req, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return s.deps.Resolver.Resolve(ctx, req, actorID), nil
}

// List returns resolved views matching the filter as seen by actorID
func (s *requestServiceImpl) List(ctx context.Context, filter port.RequestFilter, actorID string) ([]*port.ResolvedView, error) {
	reqs, err := s.deps.RequestRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	views := make([]*port.ResolvedView, 0, len(reqs))
	for _, req := range reqs {
		views = append(views, s.deps.Resolver.Resolve(ctx, req, actorID))
	}
	return views, nil
}

// History returns the transition history of a request, oldest first
func (s *requestServiceImpl) History(ctx context.Context, requestID int64) ([]*entity.TransitionHistory, error) {
	if _, err := s.load(ctx, requestID); err != nil {
		return nil, err
	}
	history, err := s.deps.HistoryRepo.GetByRequestID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	return history, nil
}

// PendingCounts returns the number of open requests waiting per stage
func (s *requestServiceImpl) PendingCounts(ctx context.Context) (entity.PendingCounts, error) {
	return s.deps.RequestRepo.CountPending(ctx)
}

// Export writes the resolved views matching filter
func (s *requestServiceImpl) Export(ctx context.Context, filter port.RequestFilter, w io.Writer) error {
	if s.deps.Exporter == nil {
		return errors.New("export is not configured")
	}
	views, err := s.List(ctx, filter, "")
	if err != nil {
		return err
	}
	if err := s.deps.Exporter.Export(w, views); err != nil {
		return fmt.Errorf("failed to export requests: %w", err)
	}
	return nil
}

func (s *requestServiceImpl) load(ctx context.Context, requestID int64) (*entity.MaintenanceRequest, error) {
	req, err := s.deps.RequestRepo.GetByID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to load request %d: %w", requestID, err)
	}
	if req == nil {
		return nil, fmt.Errorf("%w: %d", domainwf.ErrNotFound, requestID)
	}
	return req, nil
}
