package mail

import (
	"context"

	"go.uber.org/zap"

	"github.com/garyjia/fleet-maintenance/internal/application/port"
)

// LogMailer writes mail to the log instead of delivering it. Used when no
// transport is configured.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer creates a LogMailer
func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// Name identifies the transport
func (m *LogMailer) Name() string {
	return "log"
}

// SendMail implements port.Mailer
func (m *LogMailer) SendMail(ctx context.Context, mail port.Mail) error {
	m.logger.Info("Mail (not delivered)",
		zap.Strings("to", mail.To),
		zap.Strings("cc", mail.Cc),
		zap.String("subject", mail.Subject),
		zap.Int("body_bytes", len(mail.HTMLBody)))
	return nil
}
