package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/garyjia/fleet-maintenance/internal/application/dispatcher"
	"github.com/garyjia/fleet-maintenance/internal/application/port"
	"github.com/garyjia/fleet-maintenance/internal/application/workflow"
	"github.com/garyjia/fleet-maintenance/internal/domain/entity"
	"github.com/garyjia/fleet-maintenance/internal/domain/event"
	domainwf "github.com/garyjia/fleet-maintenance/internal/domain/workflow"
	"github.com/garyjia/fleet-maintenance/internal/metrics"
	"github.com/garyjia/fleet-maintenance/internal/telemetry"
)

// Billing push result labels
const (
	billingCreated     = "created"
	billingAttached    = "attached"
	billingExisting    = "existing"
	billingNotApproved = "not_approved"
	billingUnavailable = "unavailable"
	billingFailed      = "error"
)

// BillingService is the idempotent bridge from approved requests to the billing ledger
type BillingService interface {
	// PushToBilling creates (or attaches) the invoice of an approved request.
	// Calling it again returns the existing reference with Created=false.
	PushToBilling(ctx context.Context, requestID int64) (*workflow.BillingResult, error)

	// RetryPending pushes approved requests still lacking a billing reference.
	// Returns how many were pushed successfully.
	RetryPending(ctx context.Context, limit int) (int, error)
}

type billingServiceImpl struct {
	requestRepo   port.RequestRepository
	referenceRepo port.ReferenceRepository
	ledger        port.BillingLedger
	txManager     port.TransactionManager
	dispatcher    dispatcher.Dispatcher
	logger        Logger
	now           func() time.Time
}

// NewBillingService creates a new BillingService. dispatcher may be nil.
func NewBillingService(
	requestRepo port.RequestRepository,
	referenceRepo port.ReferenceRepository,
	ledger port.BillingLedger,
	txManager port.TransactionManager,
	dispatcher dispatcher.Dispatcher,
	logger Logger,
) BillingService {
	return &billingServiceImpl{
		requestRepo:   requestRepo,
		referenceRepo: referenceRepo,
		ledger:        ledger,
		txManager:     txManager,
		dispatcher:    dispatcher,
		logger:        loggerOrNop(logger),
		now:           time.Now,
	}
}

// PushToBilling implements BillingService
func (s *billingServiceImpl) PushToBilling(ctx context.Context, requestID int64) (*workflow.BillingResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "billing.push", attribute.Int64(telemetry.RequestIDKey, requestID))

	result, label, err := s.push(ctx, requestID)
	metrics.RecordBillingPush(label)
	telemetry.EndSpan(span, err)

	if err != nil {
		s.logger.Error("Billing push failed", "request_id", requestID, "result", label, "error", err)
		return nil, err
	}

	s.logger.Info("Billing push completed",
		"request_id", requestID,
		"result", label,
		"billing_ref", result.BillingRef,
	)
	if result.Created && s.dispatcher != nil {
		s.dispatcher.DispatchAsync(ctx, event.NewEvent(event.TypeRequestBilled, requestID, map[string]interface{}{
			event.KeyBilling: result.BillingRef,
		}))
	}
	return result, nil
}

func (s *billingServiceImpl) push(ctx context.Context, requestID int64) (*workflow.BillingResult, string, error) {
	var result *workflow.BillingResult
	label := billingFailed

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		req, err := s.requestRepo.GetByID(txCtx, requestID)
		if err != nil {
			return fmt.Errorf("failed to load request %d: %w", requestID, err)
		}
		if req == nil {
			return fmt.Errorf("%w: %d", domainwf.ErrNotFound, requestID)
		}
		if !req.IsApproved() {
			label = billingNotApproved
			return fmt.Errorf("%w: request %d", domainwf.ErrNotApproved, requestID)
		}
		if req.BillingRef != nil {
			label = billingExisting
			result = &workflow.BillingResult{Created: false, BillingRef: *req.BillingRef}
			return nil
		}

		// An invoice without a reference means an earlier push stopped after
		// creating it; attach it instead of creating a second one.
		serviceOrder := entity.ServiceOrderFor(requestID)
		invoice, err := s.ledger.FindInvoiceByServiceOrder(txCtx, serviceOrder)
		if err != nil {
			label = billingUnavailable
			return fmt.Errorf("%w: find invoice %s: %v", domainwf.ErrBillingUnavailable, serviceOrder, err)
		}

		created := false
		if invoice == nil {
			invoice, err = s.ledger.CreateInvoice(txCtx, s.invoiceFields(txCtx, req, serviceOrder))
			if err != nil {
				// A concurrent push may have won the unique service order
				existing, findErr := s.ledger.FindInvoiceByServiceOrder(txCtx, serviceOrder)
				if findErr != nil || existing == nil {
					label = billingUnavailable
					return fmt.Errorf("%w: create invoice %s: %v", domainwf.ErrBillingUnavailable, serviceOrder, err)
				}
				invoice = existing
			} else {
				created = true
			}
		}

		ok, err := s.requestRepo.SetBillingRef(txCtx, requestID, invoice.ID)
		if err != nil {
			return fmt.Errorf("failed to set billing ref: %w", err)
		}
		if !ok {
			current, err := s.requestRepo.GetByID(txCtx, requestID)
			if err != nil || current == nil || current.BillingRef == nil {
				return fmt.Errorf("billing ref of request %d changed concurrently", requestID)
			}
			label = billingExisting
			result = &workflow.BillingResult{Created: false, BillingRef: *current.BillingRef}
			return nil
		}

		if created {
			label = billingCreated
		} else {
			label = billingAttached
		}
		result = &workflow.BillingResult{Created: created, BillingRef: invoice.ID}
		return nil
	})
	if err != nil {
		return nil, label, err
	}
	return result, label, nil
}

// invoiceFields derives the invoice from the request and its asset.
// The request's own cost center wins over the asset's.
func (s *billingServiceImpl) invoiceFields(ctx context.Context, req *entity.MaintenanceRequest, serviceOrder string) entity.InvoiceFields {
	fields := entity.InvoiceFields{
		ServiceOrder: serviceOrder,
		RequestID:    req.ID,
		AssetID:      req.AssetID,
		CostCenterID: req.CostCenterID,
		WorkshopID:   req.WorkshopID,
		Odometer:     req.Odometer,
		InvoiceDate:  s.now(),
	}

	if fields.CostCenterID == nil && s.referenceRepo != nil {
		asset, err := s.referenceRepo.GetAsset(ctx, req.AssetID)
		if err != nil {
			s.logger.Error("Failed to resolve asset for invoice", "request_id", req.ID, "asset_id", req.AssetID, "error", err)
		} else if asset != nil {
			fields.CostCenterID = asset.CostCenterID
		}
	}
	return fields
}

// RetryPending implements BillingService
func (s *billingServiceImpl) RetryPending(ctx context.Context, limit int) (int, error) {
	if err := s.ledger.Ready(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", domainwf.ErrBillingUnavailable, err)
	}

	pending, err := s.requestRepo.ListAwaitingBilling(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list awaiting billing: %w", err)
	}

	pushed := 0
	var errs []error
	for _, req := range pending {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.PushToBilling(ctx, req.ID); err != nil {
			errs = append(errs, fmt.Errorf("request %d: %w", req.ID, err))
			continue
		}
		pushed++
	}

	return pushed, errors.Join(errs...)
}
