package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/garyjia/fleet-maintenance/internal/application/dispatcher"
	"github.com/garyjia/fleet-maintenance/internal/application/linktoken"
	"github.com/garyjia/fleet-maintenance/internal/application/port"
	"github.com/garyjia/fleet-maintenance/internal/application/service"
	"github.com/garyjia/fleet-maintenance/internal/application/workflow"
	"github.com/garyjia/fleet-maintenance/internal/domain/event"
	"github.com/garyjia/fleet-maintenance/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/fleet-maintenance/internal/infrastructure/realtime"
	"github.com/garyjia/fleet-maintenance/internal/infrastructure/worker"
	"github.com/garyjia/fleet-maintenance/pkg/database"
)

// Container manages all application dependencies and lifecycle.
// It follows Clean Architecture principles with ordered initialization
// and reverse-order teardown.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure - Data
	db           *database.DB
	txManager    *sqlite.DB
	repositories *RepositoryBundle

	// Infrastructure - External
	mailer   port.Mailer
	realtime *RealtimeBundle

	// Application
	dispatcher dispatcher.Dispatcher
	services   *ServiceBundle

	// Workers
	workers *worker.Manager

	// Lifecycle
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Request   port.RequestRepository
	History   port.HistoryRepository
	Reference port.ReferenceRepository
	Ledger    port.BillingLedger
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Engine       workflow.WorkflowEngine
	Billing      service.BillingService
	Notification service.NotificationService
	Requests     service.RequestService
	Tokens       *linktoken.Service
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components and begins processing.
// Components are initialized in dependency order:
// 1. Database and repositories
// 2. Mail and real-time transports
// 3. Event dispatcher
// 4. Workflow engine and application services
// 5. Real-time hub
// 6. Workers
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}

	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)

	steps := []struct {
		name string
		fn   func() error
	}{
		{"database", c.initDatabase},
		{"transports", c.initTransports},
		{"dispatcher", c.initDispatcher},
		{"services", c.initServices},
		{"realtime hub", c.initHub},
		{"workers", c.initWorkers},
	}

	for _, step := range steps {
		if err := step.fn(); err != nil {
			c.logger.Error("Container start failed", zap.String("step", step.name), zap.Error(err))
			c.teardown()
			return fmt.Errorf("init %s: %w", step.name, err)
		}
		c.logger.Debug("Container step initialized", zap.String("step", step.name))
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully")

	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	errs := c.teardown()

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors", len(errs))
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// teardown releases whatever has been initialized, newest first
func (c *Container) teardown() []error {
	var errs []error

	// Stop workers before cancelling so their in-flight cycle can finish
	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		} else {
			c.logger.Info("Workers stopped")
		}
		c.workers = nil
	}

	// Cancelling the root context ends the hub subscription
	if c.cancel != nil {
		c.cancel()
	}

	// Drain queued notifications while the transports are still open
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
		c.dispatcher = nil
	}

	if c.realtime != nil {
		if err := c.realtime.Publisher.Close(); err != nil {
			c.logger.Error("Failed to close real-time publisher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		} else {
			c.logger.Info("Real-time publisher closed")
		}
		c.realtime = nil
	}

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
		c.db = nil
	}

	return errs
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	set := func(name string, err error, message string) {
		h := ComponentHealth{Healthy: err == nil, Message: message}
		if err != nil {
			h.Message = err.Error()
			status.Overall = false
		}
		status.Components[name] = h
	}

	if c.db != nil {
		set("database", c.db.PingContext(ctx), "")
	} else {
		set("database", fmt.Errorf("not initialized"), "")
	}

	if c.repositories != nil {
		// The billing ledger is optional at runtime; failures are queued for retry
		if err := c.repositories.Ledger.Ready(ctx); err != nil {
			status.Components["billing"] = ComponentHealth{Healthy: false, Message: err.Error()}
		} else {
			status.Components["billing"] = ComponentHealth{Healthy: true}
		}
	}

	if c.workers != nil {
		msg := fmt.Sprintf("worker count: %d", c.workers.Count())
		if c.workers.Count() > 0 && !c.workers.IsRunning() {
			set("workers", fmt.Errorf("stopped"), msg)
		} else {
			set("workers", nil, msg)
		}
	}

	if c.realtime != nil && c.realtime.Hub != nil {
		set("realtime", nil, fmt.Sprintf("clients: %d", c.realtime.Hub.ClientCount()))
	}

	return status
}

// initDatabase initializes the database and all repositories using providers.
func (c *Container) initDatabase() error {
	dbBundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}

	c.db = dbBundle.DB
	c.txManager = dbBundle.TransactionMgr

	repos, err := ProvideRepositories(c.db, c.logger)
	if err != nil {
		return err
	}

	c.repositories = repos
	return nil
}

// initTransports initializes the mail and real-time transports.
func (c *Container) initTransports() error {
	mailer, err := ProvideMailer(c.config, c.logger.Named("mail"))
	if err != nil {
		return err
	}
	c.mailer = mailer

	rt, err := ProvideRealtime(c.config, c.logger.Named("realtime"))
	if err != nil {
		return err
	}
	c.realtime = rt

	c.logger.Info("Transports initialized",
		zap.String("mail", mailer.Name()),
		zap.String("realtime", c.config.Realtime.Transport))
	return nil
}

// initDispatcher initializes the event dispatcher.
func (c *Container) initDispatcher() error {
	c.dispatcher = ProvideDispatcher(&c.config.Dispatcher, c.logger)
	return nil
}

// initServices initializes the workflow engine and application services.
func (c *Container) initServices() error {
	services, err := ProvideServices(&ServiceDeps{
		Config:     c.config,
		Repos:      c.repositories,
		TxManager:  c.txManager,
		Dispatcher: c.dispatcher,
		Mailer:     c.mailer,
		Publisher:  c.realtime.Publisher,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}

	c.services = services
	for _, eventType := range []event.Type{
		event.TypeRequestSubmitted,
		event.TypeRequestTransitioned,
		event.TypeRequestBilled,
		event.TypeBillingPending,
	} {
		names := make([]string, 0)
		for _, h := range c.dispatcher.ListHandlers(eventType) {
			names = append(names, h.Name)
		}
		c.logger.Info("Event handlers registered",
			zap.String("event_type", eventType.String()),
			zap.Strings("handlers", names))
	}
	return nil
}

// initHub starts relaying the admin channel to websocket clients.
func (c *Container) initHub() error {
	if c.realtime.Hub == nil {
		return nil
	}
	return c.realtime.Hub.Run(c.ctx)
}

// initWorkers initializes and starts all background workers.
func (c *Container) initWorkers() error {
	c.workers = ProvideWorkers(c.config, c.services.Billing, c.logger)

	if err := c.workers.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}

	return nil
}

// Getters for accessing container components

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Hub returns the real-time hub, or nil when the transport is disabled.
func (c *Container) Hub() *realtime.Hub {
	if c.realtime == nil {
		return nil
	}
	return c.realtime.Hub
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.Manager {
	return c.workers
}

// Logger returns the logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the configuration.
func (c *Container) Config() *Config {
	return c.config
}

// ServiceLogger adapts the container logger to the key-value Logger
// interfaces used by the application and HTTP layers.
func (c *Container) ServiceLogger() service.Logger {
	return &zapLoggerAdapter{logger: c.logger}
}

// zapLoggerAdapter adapts zap.Logger to the key-value Logger interfaces.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// convertToZapFields converts key-value pairs to zap fields.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
