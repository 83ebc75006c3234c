package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// EnvPrefix prefixes every environment override, e.g. FLEET_TOKENS_SECRET
const EnvPrefix = "FLEET"

// Config holds all application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Logger       LoggerConfig       `mapstructure:"logger"`
	Workflow     WorkflowConfig     `mapstructure:"workflow"`
	Tokens       TokensConfig       `mapstructure:"tokens"`
	Notification NotificationConfig `mapstructure:"notification"`
	Realtime     RealtimeConfig     `mapstructure:"realtime"`
	Billing      BillingConfig      `mapstructure:"billing"`
	Lark         LarkConfig         `mapstructure:"lark"`
	SMTP         SMTPConfig         `mapstructure:"smtp"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// WorkflowConfig holds stage assignments and dispatcher sizing
type WorkflowConfig struct {
	Verifiers      []string      `mapstructure:"verifiers"`
	Recommenders   []string      `mapstructure:"recommenders"`
	Approvers      []string      `mapstructure:"approvers"`
	Administrators []string      `mapstructure:"administrators"`
	Workers        int           `mapstructure:"workers"`
	QueueSize      int           `mapstructure:"queue_size"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"`
}

// TokensConfig holds action link token settings
type TokensConfig struct {
	Secret       string        `mapstructure:"secret"`
	TTL          time.Duration `mapstructure:"ttl"`
	Issuer       string        `mapstructure:"issuer"`
	Audience     string        `mapstructure:"audience"`
	LegacySecret string        `mapstructure:"legacy_secret"`
	// LegacySunset is an RFC3339 timestamp; empty disables legacy links
	LegacySunset string `mapstructure:"legacy_sunset"`
}

// NotificationConfig holds email fan-out settings
type NotificationConfig struct {
	// Transport is one of lark, smtp or log
	Transport string `mapstructure:"transport"`
	BaseURL   string `mapstructure:"base_url"`
}

// RealtimeConfig holds badge channel settings
type RealtimeConfig struct {
	// Transport is one of memory, redis or none
	Transport string `mapstructure:"transport"`
	Channel   string `mapstructure:"channel"`
}

// BillingConfig holds billing retry worker settings
type BillingConfig struct {
	RetryEnabled  bool          `mapstructure:"retry_enabled"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	BatchSize     int           `mapstructure:"batch_size"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// LarkConfig holds Lark API configuration
type LarkConfig struct {
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
}

// SMTPConfig holds SMTP relay configuration
type SMTPConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	StartTLS bool          `mapstructure:"starttls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TelemetryConfig holds tracing settings
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	Endpoint    string `mapstructure:"endpoint"`
	Insecure    bool   `mapstructure:"insecure"`
}

// Load loads configuration from an optional YAML file, a .env file and
// environment variables, in increasing order of precedence
func Load(configPath string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("database.path", "data/maintenance.db")
	v.SetDefault("database.max_open_conns", 8)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	v.SetDefault("workflow.verifiers", []string{})
	v.SetDefault("workflow.recommenders", []string{})
	v.SetDefault("workflow.approvers", []string{})
	v.SetDefault("workflow.administrators", []string{})
	v.SetDefault("workflow.workers", 4)
	v.SetDefault("workflow.queue_size", 256)
	v.SetDefault("workflow.handler_timeout", 30*time.Second)

	v.SetDefault("tokens.ttl", 72*time.Hour)
	v.SetDefault("tokens.issuer", "fleet-maintenance")
	v.SetDefault("tokens.audience", "maintenance-links")

	v.SetDefault("notification.transport", "log")
	v.SetDefault("notification.base_url", "http://localhost:8080")

	v.SetDefault("realtime.transport", "memory")
	v.SetDefault("realtime.channel", "maintenance.admin")

	v.SetDefault("billing.retry_enabled", true)
	v.SetDefault("billing.retry_interval", time.Minute)
	v.SetDefault("billing.batch_size", 20)
	v.SetDefault("billing.timeout", 30*time.Second)

	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.starttls", true)
	v.SetDefault("smtp.timeout", 10*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "fleet-maintenance")
}

// bindEnvVars binds the conventional names of secrets
func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("tokens.secret", EnvPrefix+"_TOKENS_SECRET", "LINK_TOKEN_SECRET")
	_ = v.BindEnv("tokens.legacy_secret", EnvPrefix+"_TOKENS_LEGACY_SECRET", "LEGACY_LINK_SECRET")
	_ = v.BindEnv("lark.app_id", EnvPrefix+"_LARK_APP_ID", "LARK_APP_ID")
	_ = v.BindEnv("lark.app_secret", EnvPrefix+"_LARK_APP_SECRET", "LARK_APP_SECRET")
	_ = v.BindEnv("smtp.password", EnvPrefix+"_SMTP_PASSWORD", "SMTP_PASSWORD")
	_ = v.BindEnv("redis.password", EnvPrefix+"_REDIS_PASSWORD", "REDIS_PASSWORD")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Tokens.Secret == "" {
		return fmt.Errorf("tokens.secret is required")
	}
	if _, err := c.LegacySunset(); err != nil {
		return fmt.Errorf("tokens.legacy_sunset: %w", err)
	}

	switch c.Notification.Transport {
	case "lark":
		if c.Lark.AppID == "" {
			return fmt.Errorf("lark.app_id is required")
		}
		if c.Lark.AppSecret == "" {
			return fmt.Errorf("lark.app_secret is required")
		}
	case "smtp":
		if c.SMTP.Host == "" {
			return fmt.Errorf("smtp.host is required")
		}
		if c.SMTP.From == "" {
			return fmt.Errorf("smtp.from is required")
		}
	case "log":
	default:
		return fmt.Errorf("notification.transport must be lark, smtp or log, got %q", c.Notification.Transport)
	}

	switch c.Realtime.Transport {
	case "memory", "none":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required")
		}
	default:
		return fmt.Errorf("realtime.transport must be memory, redis or none, got %q", c.Realtime.Transport)
	}

	if c.Notification.BaseURL == "" {
		return fmt.Errorf("notification.base_url is required")
	}

	return nil
}

// LegacySunset parses tokens.legacy_sunset; the zero time disables legacy links
func (c *Config) LegacySunset() (time.Time, error) {
	if c.Tokens.LegacySunset == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, c.Tokens.LegacySunset)
}
