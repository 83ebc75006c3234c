package container

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/garyjia/fleet-maintenance/internal/application/dispatcher"
	"github.com/garyjia/fleet-maintenance/internal/application/linktoken"
	"github.com/garyjia/fleet-maintenance/internal/application/port"
	"github.com/garyjia/fleet-maintenance/internal/application/service"
	"github.com/garyjia/fleet-maintenance/internal/application/workflow"
	"github.com/garyjia/fleet-maintenance/internal/infrastructure/export"
	"github.com/garyjia/fleet-maintenance/internal/infrastructure/external/lark"
	"github.com/garyjia/fleet-maintenance/internal/infrastructure/mail"
	"github.com/garyjia/fleet-maintenance/internal/infrastructure/persistence/repository"
	"github.com/garyjia/fleet-maintenance/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/fleet-maintenance/internal/infrastructure/realtime"
	"github.com/garyjia/fleet-maintenance/internal/infrastructure/worker"
	"github.com/garyjia/fleet-maintenance/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	TransactionMgr *sqlite.DB
}

// RealtimeBundle holds the publish side and, when enabled, the hub.
type RealtimeBundle struct {
	Publisher port.Publisher
	Hub       *realtime.Hub
}

// ProvideDatabase opens the database and applies the embedded migrations.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(db, logger).Run(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		DB:             db,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(db *database.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Request:   repository.NewRequestRepository(db.DB, logger),
		History:   repository.NewHistoryRepository(db.DB, logger),
		Reference: repository.NewReferenceRepository(db.DB, logger),
		Ledger:    repository.NewInvoiceRepository(db.DB, logger),
	}, nil
}

// ProvideMailer builds the configured mail transport.
func ProvideMailer(cfg *Config, logger *zap.Logger) (port.Mailer, error) {
	switch cfg.Notification.Transport {
	case MailLark:
		client := lark.NewClient(cfg.Lark, logger)
		return lark.NewMailer(client.Messages(), logger), nil
	case MailSMTP:
		return mail.NewSMTPMailer(cfg.SMTP, logger), nil
	case MailLog, "":
		return mail.NewLogMailer(logger), nil
	default:
		return nil, fmt.Errorf("unknown mail transport %q", cfg.Notification.Transport)
	}
}

// ProvideRealtime builds the real-time publisher and the hub that relays it.
// The none transport yields a no-op publisher and no hub.
func ProvideRealtime(cfg *Config, logger *zap.Logger) (*RealtimeBundle, error) {
	switch cfg.Realtime.Transport {
	case RealtimeMemory:
		pubSub := realtime.NewGoChannel(realtime.NewZapLoggerAdapter(logger))
		return &RealtimeBundle{
			Publisher: realtime.NewWatermillPublisher(pubSub),
			Hub:       realtime.NewHub(realtime.NewWatermillSource(pubSub), cfg.Realtime.Channel, logger),
		}, nil
	case RealtimeRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return &RealtimeBundle{
			Publisher: realtime.NewRedisPublisher(client),
			Hub:       realtime.NewHub(realtime.NewRedisSource(client), cfg.Realtime.Channel, logger),
		}, nil
	case RealtimeNone:
		return &RealtimeBundle{Publisher: realtime.NopPublisher{}}, nil
	default:
		return nil, fmt.Errorf("unknown real-time transport %q", cfg.Realtime.Transport)
	}
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(cfg *DispatcherConfig, logger *zap.Logger) dispatcher.Dispatcher {
	return dispatcher.NewDispatcher(
		dispatcher.WithLogger(&zapLoggerAdapter{logger: logger.Named("dispatcher")}),
		dispatcher.WithWorkers(cfg.Workers),
		dispatcher.WithQueueSize(cfg.QueueSize),
		dispatcher.WithHandlerTimeout(cfg.HandlerTimeout),
	)
}

// ServiceDeps holds dependencies for creating services.
type ServiceDeps struct {
	Config     *Config
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Dispatcher dispatcher.Dispatcher
	Mailer     port.Mailer
	Publisher  port.Publisher
	Logger     *zap.Logger
}

// ProvideServices wires the workflow engine and the application services
// and subscribes the notification handlers.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil || deps.Repos == nil || deps.TxManager == nil || deps.Dispatcher == nil {
		return nil, fmt.Errorf("repositories, transaction manager and dispatcher are required")
	}

	tokens, err := linktoken.NewService(deps.Config.Tokens)
	if err != nil {
		return nil, fmt.Errorf("failed to create token service: %w", err)
	}

	logger := &zapLoggerAdapter{logger: deps.Logger}
	policy := workflow.NewStagePolicy(deps.Config.Policy)

	billing := service.NewBillingService(
		deps.Repos.Request,
		deps.Repos.Reference,
		deps.Repos.Ledger,
		deps.TxManager,
		deps.Dispatcher,
		logger,
	)

	engine := workflow.NewEngine(
		deps.Repos.Request,
		deps.Repos.History,
		deps.TxManager,
		workflow.WithDispatcher(deps.Dispatcher),
		workflow.WithBillingPusher(billing),
		workflow.WithPolicy(policy),
		workflow.WithLogger(logger),
	)

	notification := service.NewNotificationService(
		deps.Repos.Request,
		deps.Repos.Reference,
		deps.Mailer,
		deps.Publisher,
		tokens,
		policy,
		service.NotificationConfig{
			BaseURL:      deps.Config.Notification.BaseURL,
			AdminChannel: deps.Config.Realtime.Channel,
			TokenTTL:     deps.Config.Tokens.TTL,
		},
		logger,
	)
	notification.RegisterHandlers(deps.Dispatcher)

	requests := service.NewRequestService(service.RequestServiceDeps{
		RequestRepo:   deps.Repos.Request,
		HistoryRepo:   deps.Repos.History,
		ReferenceRepo: deps.Repos.Reference,
		Engine:        engine,
		Billing:       billing,
		Resolver:      service.NewResolver(deps.Repos.Reference, policy, logger),
		Tokens:        tokens,
		Dispatcher:    deps.Dispatcher,
		Exporter:      export.NewXLSXExporter(),
		Logger:        logger,
	})

	return &ServiceBundle{
		Engine:       engine,
		Billing:      billing,
		Notification: notification,
		Requests:     requests,
		Tokens:       tokens,
	}, nil
}

// ProvideWorkers creates the background workers.
func ProvideWorkers(cfg *Config, billing service.BillingService, logger *zap.Logger) *worker.Manager {
	manager := worker.NewManager(logger)
	if cfg.BillingRetryEnabled {
		manager.Register(worker.NewBillingRetryWorker(cfg.BillingRetry, billing, logger))
	}
	return manager
}
