// Package container provides dependency injection and lifecycle management
// for the fleet maintenance service following Clean Architecture principles.
package container

import (
	"fmt"
	"time"

	"github.com/garyjia/fleet-maintenance/internal/application/linktoken"
	"github.com/garyjia/fleet-maintenance/internal/application/workflow"
	"github.com/garyjia/fleet-maintenance/internal/infrastructure/external/lark"
	"github.com/garyjia/fleet-maintenance/internal/infrastructure/mail"
	"github.com/garyjia/fleet-maintenance/internal/infrastructure/worker"
)

// Mail transports
const (
	MailLark = "lark"
	MailSMTP = "smtp"
	MailLog  = "log"
)

// Real-time transports
const (
	RealtimeMemory = "memory"
	RealtimeRedis  = "redis"
	RealtimeNone   = "none"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Workflow stage assignments
	Policy workflow.PolicyConfig

	// Dispatcher sizing
	Dispatcher DispatcherConfig

	// Link token settings
	Tokens linktoken.Config

	// Notification fan-out
	Notification NotificationConfig

	// Real-time badge channel
	Realtime RealtimeConfig

	// Billing retry worker
	BillingRetry        worker.BillingRetryConfig
	BillingRetryEnabled bool

	// Mail transports
	Lark lark.Config
	SMTP mail.SMTPConfig

	// Redis connection, used by the redis real-time transport
	Redis RedisConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration
}

// DispatcherConfig sizes the event dispatcher worker pool.
type DispatcherConfig struct {
	Workers        int
	QueueSize      int
	HandlerTimeout time.Duration
}

// NotificationConfig selects the mail transport.
type NotificationConfig struct {
	// Transport is one of MailLark, MailSMTP or MailLog
	Transport string

	// BaseURL is the public address emailed links point at
	BaseURL string
}

// RealtimeConfig selects the real-time transport.
type RealtimeConfig struct {
	Transport string
	Channel   string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "data/maintenance.db",
			MaxOpenConns:    8,
			MaxIdleConns:    4,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Dispatcher: DispatcherConfig{
			Workers:        4,
			QueueSize:      256,
			HandlerTimeout: 30 * time.Second,
		},
		Tokens: linktoken.Config{
			TTL: 72 * time.Hour,
		},
		Notification: NotificationConfig{
			Transport: MailLog,
			BaseURL:   "http://localhost:8080",
		},
		Realtime: RealtimeConfig{
			Transport: RealtimeMemory,
			Channel:   "maintenance.admin",
		},
		BillingRetry:        worker.DefaultBillingRetryConfig(),
		BillingRetryEnabled: true,
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Tokens.Secret == "" {
		return fmt.Errorf("tokens.secret is required")
	}

	switch c.Notification.Transport {
	case MailLark:
		if c.Lark.AppID == "" || c.Lark.AppSecret == "" {
			return fmt.Errorf("lark credentials are required for the lark mail transport")
		}
	case MailSMTP:
		if c.SMTP.Host == "" {
			return fmt.Errorf("smtp.host is required for the smtp mail transport")
		}
	case MailLog:
	default:
		return fmt.Errorf("unknown mail transport %q", c.Notification.Transport)
	}

	switch c.Realtime.Transport {
	case RealtimeMemory, RealtimeNone:
	case RealtimeRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis real-time transport")
		}
	default:
		return fmt.Errorf("unknown real-time transport %q", c.Realtime.Transport)
	}

	if c.Realtime.Channel == "" {
		return fmt.Errorf("realtime.channel is required")
	}

	return nil
}
