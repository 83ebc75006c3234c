package port

import (
	"context"

	"github.com/garyjia/fleet-maintenance/internal/domain/entity"
)

// RequestFilter narrows a request listing
type RequestFilter struct {
	Status   string
	AssetID  int64
	Limit    int
	Offset   int
	Unbilled bool
}

// RequestRepository defines persistence operations for MaintenanceRequest.
// GetByID returns nil, nil when the request does not exist.
type RequestRepository interface {
	Create(ctx context.Context, req *entity.MaintenanceRequest) error
	GetByID(ctx context.Context, id int64) (*entity.MaintenanceRequest, error)

	// Update writes the workflow fields only if the stored version still equals
	// req.Version and bumps the version. A stale version yields ErrConcurrentModification.
	Update(ctx context.Context, req *entity.MaintenanceRequest) error

	// SetBillingRef attaches an invoice reference once; it is a no-op returning
	// false when a reference is already present.
	SetBillingRef(ctx context.Context, id int64, invoiceID int64) (bool, error)

	List(ctx context.Context, filter RequestFilter) ([]*entity.MaintenanceRequest, error)

	// ListAwaitingBilling returns approved requests without a billing reference
	ListAwaitingBilling(ctx context.Context, limit int) ([]*entity.MaintenanceRequest, error)

	CountPending(ctx context.Context) (entity.PendingCounts, error)
}

// HistoryRepository defines persistence operations for the transition audit trail
type HistoryRepository interface {
	Create(ctx context.Context, h *entity.TransitionHistory) error
	GetByRequestID(ctx context.Context, requestID int64) ([]*entity.TransitionHistory, error)
}

// ReferenceRepository exposes read-only reference data.
// Every lookup returns nil (or an empty slice) on a miss rather than an error.
type ReferenceRepository interface {
	GetAsset(ctx context.Context, id int64) (*entity.Asset, error)
	GetEmployee(ctx context.Context, ramcoID string) (*entity.Employee, error)
	GetWorkshop(ctx context.Context, id int64) (*entity.Workshop, error)
	GetCostCenter(ctx context.Context, id int64) (*entity.CostCenter, error)
	GetServiceTypes(ctx context.Context) ([]*entity.ServiceType, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
