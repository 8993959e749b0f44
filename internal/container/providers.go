// Package container wires configuration, storage, adapters, services and workers
// with ordered construction and reverse-order teardown.
package container

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/school-liquidation/internal/application/port"
	"github.com/garyjia/school-liquidation/internal/application/service"
	"github.com/garyjia/school-liquidation/internal/application/workflow"
	"github.com/garyjia/school-liquidation/internal/config"
	"github.com/garyjia/school-liquidation/internal/infrastructure/clock"
	infraLark "github.com/garyjia/school-liquidation/internal/infrastructure/external/lark"
	"github.com/garyjia/school-liquidation/internal/infrastructure/notify"
	"github.com/garyjia/school-liquidation/internal/infrastructure/persistence/repository"
	"github.com/garyjia/school-liquidation/internal/infrastructure/persistence/sqldb"
	"github.com/garyjia/school-liquidation/internal/infrastructure/render"
	"github.com/garyjia/school-liquidation/internal/infrastructure/storage"
	"github.com/garyjia/school-liquidation/internal/infrastructure/worker"
	"github.com/garyjia/school-liquidation/pkg/database"
	"github.com/garyjia/school-liquidation/pkg/utils"
)

// RepositoryBundle groups all repositories
type RepositoryBundle struct {
	Requests     port.RequestRepository
	Liquidations port.LiquidationRepository
	Schools      *repository.SchoolRepository
	Registry     *repository.RegistryRepository
	Documents    port.DocumentRepository
	Reminders    port.ReminderRepository
	BudgetNotice port.BudgetNoticeRepository
	History      port.HistoryRepository
}

// ServiceBundle groups the application services
type ServiceBundle struct {
	Engine        workflow.Engine
	Notifications service.NotificationService
	Reminders     service.ReminderService
	BudgetNotice  service.BudgetNoticeService
	Tick          service.TickService
}

// ProvideDatabase opens the configured store and applies pending migrations
func ProvideDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*database.DB, *sqldb.DB, error) {
	raw, err := database.New(ctx, database.Config{
		Driver:          cfg.Driver,
		Path:            cfg.Path,
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	if err := database.NewMigrator(raw, logger).RunMigrations(ctx); err != nil {
		_ = raw.Close()
		return nil, nil, err
	}

	dialect, err := sqldb.ParseDialect(raw.Driver)
	if err != nil {
		_ = raw.Close()
		return nil, nil, err
	}
	return raw, sqldb.NewDB(raw.DB, dialect, logger), nil
}

// ProvideRepositories builds every repository over db
func ProvideRepositories(db *sqldb.DB, logger *zap.Logger) *RepositoryBundle {
	return &RepositoryBundle{
		Requests:     repository.NewRequestRepository(db, logger),
		Liquidations: repository.NewLiquidationRepository(db, logger),
		Schools:      repository.NewSchoolRepository(db, logger),
		Registry:     repository.NewRegistryRepository(db, logger),
		Documents:    repository.NewDocumentRepository(db, logger),
		Reminders:    repository.NewReminderRepository(db, logger),
		BudgetNotice: repository.NewBudgetNoticeRepository(db, logger),
		History:      repository.NewHistoryRepository(db, logger),
	}
}

// ProvideNotifier selects the delivery channel. The lark channel also writes
// every message to the log.
func ProvideNotifier(cfg *config.Config, logger *zap.Logger) port.Notifier {
	logNotifier := notify.NewLogNotifier(logger.Named("notify"))
	if cfg.Notifications.Channel != "lark" {
		return logNotifier
	}

	client := infraLark.NewSDKClient(infraLark.Config{
		AppID:     cfg.Lark.AppID,
		AppSecret: cfg.Lark.AppSecret,
	})
	return notify.NewFanOut(infraLark.NewMessenger(client, logger.Named("lark")), logNotifier)
}

// ProvideRenderer builds the demand-letter renderer over local storage
func ProvideRenderer(cfg config.StorageConfig, logger *zap.Logger) port.DemandLetterRenderer {
	return render.NewDemandLetterRenderer(storage.NewLocalFileStorage(cfg.OutputDir, logger), logger)
}

// ServiceDeps holds the collaborators of the application services
type ServiceDeps struct {
	Config   *config.Config
	Repos    *RepositoryBundle
	TxMgr    port.TransactionManager
	Clock    port.Clock
	Notifier port.Notifier
	Renderer port.DemandLetterRenderer
	Logger   *zap.Logger
}

// ProvideServices builds the workflow engine and the scheduled services
func ProvideServices(deps *ServiceDeps) *ServiceBundle {
	appLogger := utils.NewSugaredAdapter(deps.Logger)
	repos := deps.Repos
	sched := deps.Config.Scheduler

	engine := workflow.NewEngine(workflow.Repositories{
		Requests:     repos.Requests,
		Liquidations: repos.Liquidations,
		Schools:      repos.Schools,
		Directory:    repos.Schools,
		Registry:     repos.Registry,
		Documents:    repos.Documents,
		Reminders:    repos.Reminders,
		History:      repos.History,
	}, deps.TxMgr, deps.Clock, workflow.WithLogger(appLogger))

	notifications := service.NewNotificationService(deps.Notifier, repos.Schools, service.NotificationConfig{
		Operations:     recipients(deps.Config.Notifications.Operations),
		Legal:          recipients(deps.Config.Notifications.Legal),
		Management:     recipients(deps.Config.Notifications.Management),
		MaxRetries:     sched.NotifyMaxRetries,
		InitialBackoff: sched.NotifyInitialBackoff,
	}, appLogger)

	reminderCfg := service.ReminderConfig{
		BatchSize:   sched.BatchSize,
		ClaimLease:  sched.ClaimLease,
		Concurrency: sched.Concurrency,
	}
	reminders := service.NewReminderService(service.ReminderDeps{
		Requests:      repos.Requests,
		Liquidations:  repos.Liquidations,
		Schools:       repos.Schools,
		Directory:     repos.Schools,
		Reminders:     repos.Reminders,
		Engine:        engine,
		Notifications: notifications,
		Renderer:      deps.Renderer,
		Clock:         deps.Clock,
	}, reminderCfg, appLogger)

	budget := service.NewBudgetNoticeService(repos.BudgetNotice, notifications, deps.Clock, sched.ClaimLease, appLogger)

	return &ServiceBundle{
		Engine:        engine,
		Notifications: notifications,
		Reminders:     reminders,
		BudgetNotice:  budget,
		Tick:          service.NewTickService(repos.Requests, repos.Liquidations, engine, reminders, budget, reminderCfg, appLogger),
	}
}

// ProvideWorkers registers the reminder poller and the daily tick
func ProvideWorkers(services *ServiceBundle, cfg config.SchedulerConfig, logger *zap.Logger) *worker.Manager {
	m := worker.NewManager(logger)
	m.Register(worker.NewReminderWorker(services.Reminders, cfg.ReminderPollInterval, logger))
	m.Register(worker.NewDailyTickWorker(services.Tick, cfg.DailyTickInterval, logger))
	return m
}

// ProvideClock builds the division clock
func ProvideClock(cfg config.SchedulerConfig) (port.Clock, error) {
	c, err := clock.NewSystemClock(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to create clock: %w", err)
	}
	return c, nil
}

func recipients(list []config.RecipientConfig) []port.Recipient {
	out := make([]port.Recipient, 0, len(list))
	for _, r := range list {
		out = append(out, port.Recipient{Name: r.Name, Email: r.Email, LarkOpenID: r.LarkOpenID})
	}
	return out
}
