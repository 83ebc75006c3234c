package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garyjia/fleet-maintenance/internal/application/port"
	"github.com/garyjia/fleet-maintenance/internal/domain/entity"
	"go.uber.org/zap"
)

// ReferenceRepository implements port.ReferenceRepository over the local
// copies of the asset, HR, workshop and cost-center registers
type ReferenceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewReferenceRepository creates a new reference data repository
func NewReferenceRepository(db *sql.DB, logger *zap.Logger) port.ReferenceRepository {
	return &ReferenceRepository{
		db:     db,
		logger: logger,
	}
}

// GetAsset retrieves an asset by ID
func (r *ReferenceRepository) GetAsset(ctx context.Context, id int64) (*entity.Asset, error) {
	var a entity.Asset
	var costCenter sql.NullInt64

	err := getExecutor(ctx, r.db).QueryRowContext(ctx,
		`SELECT id, register_number, cost_center_id, model FROM assets WHERE id = ?`, id,
	).Scan(&a.ID, &a.RegisterNumber, &costCenter, &a.Model)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get asset", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}

	a.CostCenterID = int64Ptr(costCenter)
	return &a, nil
}

// GetEmployee retrieves an employee by ramco id
func (r *ReferenceRepository) GetEmployee(ctx context.Context, ramcoID string) (*entity.Employee, error) {
	var e entity.Employee

	err := getExecutor(ctx, r.db).QueryRowContext(ctx,
		`SELECT ramco_id, full_name, email FROM employees WHERE ramco_id = ?`, ramcoID,
	).Scan(&e.RamcoID, &e.FullName, &e.Email)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get employee", zap.String("ramco_id", ramcoID), zap.Error(err))
		return nil, fmt.Errorf("failed to get employee: %w", err)
	}

	return &e, nil
}

// GetWorkshop retrieves a workshop by ID
func (r *ReferenceRepository) GetWorkshop(ctx context.Context, id int64) (*entity.Workshop, error) {
	var w entity.Workshop

	err := getExecutor(ctx, r.db).QueryRowContext(ctx,
		`SELECT id, name FROM workshops WHERE id = ?`, id,
	).Scan(&w.ID, &w.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get workshop", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get workshop: %w", err)
	}

	return &w, nil
}

// GetCostCenter retrieves a cost center by ID
func (r *ReferenceRepository) GetCostCenter(ctx context.Context, id int64) (*entity.CostCenter, error) {
	var c entity.CostCenter

	err := getExecutor(ctx, r.db).QueryRowContext(ctx,
		`SELECT id, name FROM cost_centers WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get cost center", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get cost center: %w", err)
	}

	return &c, nil
}

// GetServiceTypes returns the whole service-type catalog
func (r *ReferenceRepository) GetServiceTypes(ctx context.Context) ([]*entity.ServiceType, error) {
	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, `SELECT id, label FROM service_types ORDER BY id`)
	if err != nil {
		r.logger.Error("Failed to list service types", zap.Error(err))
		return nil, fmt.Errorf("failed to list service types: %w", err)
	}
	defer rows.Close()

	types := []*entity.ServiceType{}
	for rows.Next() {
		var st entity.ServiceType
		if err := rows.Scan(&st.ID, &st.Label); err != nil {
			return nil, fmt.Errorf("failed to scan service type: %w", err)
		}
		types = append(types, &st)
	}

	return types, rows.Err()
}

// Verify interface compliance
var _ port.ReferenceRepository = (*ReferenceRepository)(nil)
