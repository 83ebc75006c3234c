package port

import (
	"context"

	"github.com/garyjia/fleet-maintenance/internal/domain/entity"
)

// BillingLedger is the billing collaborator consumed by the billing bridge.
// FindInvoiceByServiceOrder returns nil, nil when no invoice exists.
type BillingLedger interface {
	FindInvoiceByServiceOrder(ctx context.Context, serviceOrder string) (*entity.BillingInvoice, error)
	CreateInvoice(ctx context.Context, fields entity.InvoiceFields) (*entity.BillingInvoice, error)
	Ready(ctx context.Context) error
}

// Mail is one outbound message
type Mail struct {
	To       []string
	Cc       []string
	Subject  string
	HTMLBody string
}

// Mailer delivers mail; callers treat failures as best effort
type Mailer interface {
	SendMail(ctx context.Context, mail Mail) error
	Name() string
}

// Publisher is the real-time publish primitive
type Publisher interface {
	Publish(ctx context.Context, channel, eventName string, payload interface{}) error
	Close() error
}
