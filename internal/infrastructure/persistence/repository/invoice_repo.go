package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/garyjia/fleet-maintenance/internal/application/port"
	"github.com/garyjia/fleet-maintenance/internal/domain/entity"
	"go.uber.org/zap"
)

// InvoiceRepository implements port.BillingLedger on the billing_invoices table
type InvoiceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewInvoiceRepository creates a new billing ledger repository
func NewInvoiceRepository(db *sql.DB, logger *zap.Logger) port.BillingLedger {
	return &InvoiceRepository{
		db:     db,
		logger: logger,
	}
}

// FindInvoiceByServiceOrder looks an invoice up by its natural key
func (r *InvoiceRepository) FindInvoiceByServiceOrder(ctx context.Context, serviceOrder string) (*entity.BillingInvoice, error) {
	query := `
		SELECT id, service_order, request_id, asset_id, cost_center_id, workshop_id,
			odometer, invoice_date, created_at
		FROM billing_invoices
		WHERE service_order = ?
	`

	var inv entity.BillingInvoice
	var costCenter, workshop sql.NullInt64

	err := getExecutor(ctx, r.db).QueryRowContext(ctx, query, serviceOrder).Scan(
		&inv.ID,
		&inv.ServiceOrder,
		&inv.RequestID,
		&inv.AssetID,
		&costCenter,
		&workshop,
		&inv.Odometer,
		&inv.InvoiceDate,
		&inv.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to find invoice", zap.String("service_order", serviceOrder), zap.Error(err))
		return nil, fmt.Errorf("failed to find invoice: %w", err)
	}

	inv.CostCenterID = int64Ptr(costCenter)
	inv.WorkshopID = int64Ptr(workshop)
	return &inv, nil
}

// CreateInvoice inserts a new invoice; the unique service order rejects duplicates
func (r *InvoiceRepository) CreateInvoice(ctx context.Context, fields entity.InvoiceFields) (*entity.BillingInvoice, error) {
	query := `
		INSERT INTO billing_invoices (
			service_order, request_id, asset_id, cost_center_id, workshop_id,
			odometer, invoice_date, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now()
	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query,
		fields.ServiceOrder,
		fields.RequestID,
		fields.AssetID,
		nullInt64(fields.CostCenterID),
		nullInt64(fields.WorkshopID),
		fields.Odometer,
		fields.InvoiceDate,
		now,
	)
	if err != nil {
		r.logger.Error("Failed to create invoice",
			zap.String("service_order", fields.ServiceOrder),
			zap.Error(err))
		return nil, fmt.Errorf("failed to create invoice: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return &entity.BillingInvoice{
		ID:           id,
		ServiceOrder: fields.ServiceOrder,
		RequestID:    fields.RequestID,
		AssetID:      fields.AssetID,
		CostCenterID: fields.CostCenterID,
		WorkshopID:   fields.WorkshopID,
		Odometer:     fields.Odometer,
		InvoiceDate:  fields.InvoiceDate,
		CreatedAt:    now,
	}, nil
}

// Ready reports whether the ledger can accept writes
func (r *InvoiceRepository) Ready(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("billing ledger unreachable: %w", err)
	}
	return nil
}

// Verify interface compliance
var _ port.BillingLedger = (*InvoiceRepository)(nil)
