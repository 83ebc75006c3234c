package entity

import (
	"strconv"
	"time"
)

// BillingInvoice is the ledger record materialized from an approved request.
// ServiceOrder is unique in the ledger and re-derivable from the request id.
type BillingInvoice struct {
	ID           int64     `json:"id"`
	ServiceOrder string    `json:"service_order"`
	RequestID    int64     `json:"request_id"`
	AssetID      int64     `json:"asset_id"`
	CostCenterID *int64    `json:"cost_center_id,omitempty"`
	WorkshopID   *int64    `json:"workshop_id,omitempty"`
	Odometer     int64     `json:"odometer"`
	InvoiceDate  time.Time `json:"invoice_date"`
	CreatedAt    time.Time `json:"created_at"`
}

// InvoiceFields carries the values needed to create a ledger invoice
type InvoiceFields struct {
	ServiceOrder string
	RequestID    int64
	AssetID      int64
	CostCenterID *int64
	WorkshopID   *int64
	Odometer     int64
	InvoiceDate  time.Time
}

// ServiceOrderFor derives the ledger key of a request from its id alone
func ServiceOrderFor(requestID int64) string {
	return ServiceOrderPrefix + strconv.FormatInt(requestID, 10)
}
