package config

import (
	"github.com/garyjia/fleet-maintenance/internal/application/linktoken"
	"github.com/garyjia/fleet-maintenance/internal/application/workflow"
	"github.com/garyjia/fleet-maintenance/internal/container"
	"github.com/garyjia/fleet-maintenance/internal/infrastructure/external/lark"
	"github.com/garyjia/fleet-maintenance/internal/infrastructure/mail"
	"github.com/garyjia/fleet-maintenance/internal/infrastructure/worker"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	sunset, _ := c.LegacySunset()

	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
		},
		Policy: workflow.PolicyConfig{
			Verifiers:      c.Workflow.Verifiers,
			Recommenders:   c.Workflow.Recommenders,
			Approvers:      c.Workflow.Approvers,
			Administrators: c.Workflow.Administrators,
		},
		Dispatcher: container.DispatcherConfig{
			Workers:        c.Workflow.Workers,
			QueueSize:      c.Workflow.QueueSize,
			HandlerTimeout: c.Workflow.HandlerTimeout,
		},
		Tokens: linktoken.Config{
			Secret:       c.Tokens.Secret,
			TTL:          c.Tokens.TTL,
			Issuer:       c.Tokens.Issuer,
			Audience:     c.Tokens.Audience,
			LegacySecret: c.Tokens.LegacySecret,
			LegacySunset: sunset,
		},
		Notification: container.NotificationConfig{
			Transport: c.Notification.Transport,
			BaseURL:   c.Notification.BaseURL,
		},
		Realtime: container.RealtimeConfig{
			Transport: c.Realtime.Transport,
			Channel:   c.Realtime.Channel,
		},
		BillingRetry: worker.BillingRetryConfig{
			Interval:  c.Billing.RetryInterval,
			BatchSize: c.Billing.BatchSize,
			Timeout:   c.Billing.Timeout,
		},
		BillingRetryEnabled: c.Billing.RetryEnabled,
		Lark: lark.Config{
			AppID:     c.Lark.AppID,
			AppSecret: c.Lark.AppSecret,
		},
		SMTP: mail.SMTPConfig{
			Host:     c.SMTP.Host,
			Port:     c.SMTP.Port,
			Username: c.SMTP.Username,
			Password: c.SMTP.Password,
			From:     c.SMTP.From,
			Timeout:  c.SMTP.Timeout,
			StartTLS: c.SMTP.StartTLS,
		},
		Redis: container.RedisConfig{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		},
	}
}
