package port

import (
	"io"

	"github.com/garyjia/fleet-maintenance/internal/domain/entity"
)

// ResolvedView is a request joined with human-readable reference names.
// Unresolved names are nil rather than failing the view.
type ResolvedView struct {
	Request *entity.MaintenanceRequest `json:"request"`
	State   string                     `json:"state"`

	RequesterName       *string `json:"requester_name"`
	AssetRegisterNumber *string `json:"asset_register_number"`
	WorkshopName        *string `json:"workshop_name"`
	CostCenterName      *string `json:"cost_center_name"`
	VerifierName        *string `json:"verifier_name"`
	RecommenderName     *string `json:"recommender_name"`
	ApproverName        *string `json:"approver_name"`

	ServiceTypes []ResolvedServiceType `json:"service_types"`

	// Actions the viewing actor may take from the current state
	AllowedActions []string `json:"allowed_actions"`
	BillingPending bool     `json:"billing_pending"`
}

// ResolvedServiceType pairs a service type id with its label
type ResolvedServiceType struct {
	ID    int64   `json:"id"`
	Label *string `json:"label"`
}

// ViewExporter renders resolved views into a downloadable document
type ViewExporter interface {
	Export(w io.Writer, views []*ResolvedView) error
	ContentType() string
}
