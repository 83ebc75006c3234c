package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/garyjia/fleet-maintenance/internal/application/port"
	"github.com/garyjia/fleet-maintenance/internal/domain/entity"
	"github.com/garyjia/fleet-maintenance/internal/domain/workflow"
	"go.uber.org/zap"
)

const requestColumns = `
	id, requester_id, asset_id, status, description, service_type_ids,
	workshop_id, cost_center_id, odometer,
	verification_actor, verification_decision, verification_date, verification_comment,
	recommendation_actor, recommendation_decision, recommendation_date, recommendation_comment,
	approval_actor, approval_decision, approval_date, approval_comment,
	cancelled_by, cancelled_at, cancel_comment,
	billing_ref, version, created_at, updated_at`

// RequestRepository implements port.RequestRepository
type RequestRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRequestRepository creates a new maintenance request repository
func NewRequestRepository(db *sql.DB, logger *zap.Logger) port.RequestRepository {
	return &RequestRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new request in status open with version 1
func (r *RequestRepository) Create(ctx context.Context, req *entity.MaintenanceRequest) error {
	serviceTypes, err := json.Marshal(nonNilIDs(req.ServiceTypeIDs))
	if err != nil {
		return fmt.Errorf("failed to encode service types: %w", err)
	}

	if req.Status == "" {
		req.Status = entity.StatusOpen
	}
	req.Version = 1

	query := `
		INSERT INTO maintenance_requests (
			requester_id, asset_id, status, description, service_type_ids,
			workshop_id, cost_center_id, odometer, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query,
		req.RequesterID,
		req.AssetID,
		req.Status,
		req.Description,
		string(serviceTypes),
		nullInt64(req.WorkshopID),
		nullInt64(req.CostCenterID),
		req.Odometer,
		req.Version,
		req.CreatedAt,
		req.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create request", zap.Error(err))
		return fmt.Errorf("failed to create request: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	req.ID = id
	return nil
}

// GetByID retrieves a request by ID
func (r *RequestRepository) GetByID(ctx context.Context, id int64) (*entity.MaintenanceRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM maintenance_requests WHERE id = ?`

	req, err := scanRequest(getExecutor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get request by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get request: %w", err)
	}

	return req, nil
}

// Update writes the workflow fields guarded by the version counter
func (r *RequestRepository) Update(ctx context.Context, req *entity.MaintenanceRequest) error {
	query := `
		UPDATE maintenance_requests SET
			status = ?,
			verification_actor = ?, verification_decision = ?, verification_date = ?, verification_comment = ?,
			recommendation_actor = ?, recommendation_decision = ?, recommendation_date = ?, recommendation_comment = ?,
			approval_actor = ?, approval_decision = ?, approval_date = ?, approval_comment = ?,
			cancelled_by = ?, cancelled_at = ?, cancel_comment = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND version = ?
	`

	args := []interface{}{req.Status}
	args = append(args, stageArgs(req.Verification)...)
	args = append(args, stageArgs(req.Recommendation)...)
	args = append(args, stageArgs(req.Approval)...)
	args = append(args, cancellationArgs(req.Cancellation)...)
	args = append(args, req.UpdatedAt, req.ID, req.Version)

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to update request", zap.Int64("id", req.ID), zap.Error(err))
		return fmt.Errorf("failed to update request: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: request %d at version %d", workflow.ErrConcurrentModification, req.ID, req.Version)
	}

	req.Version++
	return nil
}

// SetBillingRef attaches the invoice reference if none is present yet
func (r *RequestRepository) SetBillingRef(ctx context.Context, id int64, invoiceID int64) (bool, error) {
	query := `
		UPDATE maintenance_requests
		SET billing_ref = ?, version = version + 1
		WHERE id = ? AND billing_ref IS NULL
	`

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query, invoiceID, id)
	if err != nil {
		r.logger.Error("Failed to set billing reference",
			zap.Int64("id", id),
			zap.Int64("invoice_id", invoiceID),
			zap.Error(err))
		return false, fmt.Errorf("failed to set billing reference: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected == 1, nil
}

// List retrieves requests matching the filter, newest first
func (r *RequestRepository) List(ctx context.Context, filter port.RequestFilter) ([]*entity.MaintenanceRequest, error) {
	var where []string
	var args []interface{}

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.AssetID > 0 {
		where = append(where, "asset_id = ?")
		args = append(args, filter.AssetID)
	}
	if filter.Unbilled {
		where = append(where, "billing_ref IS NULL")
	}

	query := `SELECT ` + requestColumns + ` FROM maintenance_requests`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	return r.query(ctx, "list requests", query, args...)
}

// ListAwaitingBilling returns approved requests that have no invoice attached yet
func (r *RequestRepository) ListAwaitingBilling(ctx context.Context, limit int) ([]*entity.MaintenanceRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM maintenance_requests
		WHERE approval_decision = 'proceed' AND billing_ref IS NULL
		ORDER BY approval_date ASC
		LIMIT ?`

	return r.query(ctx, "list requests awaiting billing", query, limit)
}

// CountPending counts open requests waiting at each stage
func (r *RequestRepository) CountPending(ctx context.Context) (entity.PendingCounts, error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'open' AND verification_decision IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'open' AND verification_decision = 'proceed'
				AND recommendation_decision IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'open' AND recommendation_decision = 'proceed'
				AND approval_decision IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN approval_decision = 'proceed' AND billing_ref IS NULL THEN 1 ELSE 0 END), 0)
		FROM maintenance_requests
	`

	var counts entity.PendingCounts
	err := getExecutor(ctx, r.db).QueryRowContext(ctx, query).Scan(
		&counts.Verification,
		&counts.Recommendation,
		&counts.Approval,
		&counts.BillingPending,
	)
	if err != nil {
		r.logger.Error("Failed to count pending requests", zap.Error(err))
		return entity.PendingCounts{}, fmt.Errorf("failed to count pending requests: %w", err)
	}
	return counts, nil
}

func (r *RequestRepository) query(ctx context.Context, op, query string, args ...interface{}) ([]*entity.MaintenanceRequest, error) {
	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to "+op, zap.Error(err))
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	defer rows.Close()

	var requests []*entity.MaintenanceRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			r.logger.Error("Failed to scan request", zap.Error(err))
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		requests = append(requests, req)
	}

	return requests, rows.Err()
}

type stageColumns struct {
	actor    sql.NullString
	decision sql.NullString
	date     sql.NullTime
	comment  sql.NullString
}

func (c stageColumns) decisionOrNil() *entity.StageDecision {
	if !c.decision.Valid {
		return nil
	}
	return &entity.StageDecision{
		ActorID:  c.actor.String,
		Decision: c.decision.String,
		Date:     c.date.Time,
		Comment:  c.comment.String,
	}
}

func scanRequest(s rowScanner) (*entity.MaintenanceRequest, error) {
	var (
		req                      entity.MaintenanceRequest
		serviceTypes             string
		workshopID, costCenterID sql.NullInt64
		billingRef               sql.NullInt64
		verification, recommend  stageColumns
		approval                 stageColumns
		cancelledBy, cancelNote  sql.NullString
		cancelledAt              sql.NullTime
	)

	err := s.Scan(
		&req.ID,
		&req.RequesterID,
		&req.AssetID,
		&req.Status,
		&req.Description,
		&serviceTypes,
		&workshopID,
		&costCenterID,
		&req.Odometer,
		&verification.actor, &verification.decision, &verification.date, &verification.comment,
		&recommend.actor, &recommend.decision, &recommend.date, &recommend.comment,
		&approval.actor, &approval.decision, &approval.date, &approval.comment,
		&cancelledBy, &cancelledAt, &cancelNote,
		&billingRef,
		&req.Version,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if serviceTypes != "" {
		if err := json.Unmarshal([]byte(serviceTypes), &req.ServiceTypeIDs); err != nil {
			return nil, fmt.Errorf("failed to decode service types: %w", err)
		}
	}
	req.WorkshopID = int64Ptr(workshopID)
	req.CostCenterID = int64Ptr(costCenterID)
	req.BillingRef = int64Ptr(billingRef)
	req.Verification = verification.decisionOrNil()
	req.Recommendation = recommend.decisionOrNil()
	req.Approval = approval.decisionOrNil()
	if cancelledAt.Valid {
		req.Cancellation = &entity.Cancellation{
			ActorID: cancelledBy.String,
			Date:    cancelledAt.Time,
			Comment: cancelNote.String,
		}
	}

	return &req, nil
}

func stageArgs(d *entity.StageDecision) []interface{} {
	if d == nil {
		return []interface{}{nil, nil, nil, nil}
	}
	return []interface{}{d.ActorID, d.Decision, d.Date, d.Comment}
}

func cancellationArgs(c *entity.Cancellation) []interface{} {
	if c == nil {
		return []interface{}{nil, nil, nil}
	}
	return []interface{}{c.ActorID, c.Date, c.Comment}
}

func nonNilIDs(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

// Verify interface compliance
var _ port.RequestRepository = (*RequestRepository)(nil)
