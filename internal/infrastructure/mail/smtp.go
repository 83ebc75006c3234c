package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/fleet-maintenance/internal/application/port"
)

// SMTPConfig holds SMTP relay settings
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
	StartTLS bool
}

type sendFunc func(ctx context.Context, addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer delivers HTML mail over an SMTP relay
type SMTPMailer struct {
	cfg    SMTPConfig
	send   sendFunc
	logger *zap.Logger
}

// NewSMTPMailer creates an SMTP transport
func NewSMTPMailer(cfg SMTPConfig, logger *zap.Logger) *SMTPMailer {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	m := &SMTPMailer{cfg: cfg, logger: logger}
	m.send = m.dialAndSend
	return m
}

// Name identifies the transport
func (m *SMTPMailer) Name() string {
	return "smtp"
}

// SendMail implements port.Mailer
func (m *SMTPMailer) SendMail(ctx context.Context, mail port.Mail) error {
	recipients := append(append([]string(nil), mail.To...), mail.Cc...)
	if len(recipients) == 0 {
		return fmt.Errorf("mail has no recipients")
	}

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	addr := net.JoinHostPort(m.cfg.Host, fmt.Sprintf("%d", m.cfg.Port))
	if err := m.send(ctx, addr, auth, m.cfg.From, recipients, m.buildMessage(mail)); err != nil {
		m.logger.Error("Failed to send email",
			zap.Strings("to", recipients),
			zap.String("subject", mail.Subject),
			zap.Error(err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	m.logger.Debug("Email sent", zap.Strings("to", recipients), zap.String("subject", mail.Subject))
	return nil
}

func (m *SMTPMailer) buildMessage(mail port.Mail) []byte {
	var b strings.Builder
	b.WriteString("From: " + m.cfg.From + "\r\n")
	b.WriteString("To: " + strings.Join(mail.To, ", ") + "\r\n")
	if len(mail.Cc) > 0 {
		b.WriteString("Cc: " + strings.Join(mail.Cc, ", ") + "\r\n")
	}
	b.WriteString("Subject: " + mail.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(mail.HTMLBody)
	return []byte(b.String())
}

// dialAndSend is smtp.SendMail with a context-bound dial and an overall deadline
func (m *SMTPMailer) dialAndSend(ctx context.Context, addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if m.cfg.StartTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
				return err
			}
		}
	}
	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return err
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}

	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}
