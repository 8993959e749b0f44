package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/garyjia/school-liquidation/internal/application/port"
	"github.com/garyjia/school-liquidation/internal/config"
	"github.com/garyjia/school-liquidation/internal/infrastructure/persistence/sqldb"
	"github.com/garyjia/school-liquidation/internal/infrastructure/worker"
	"github.com/garyjia/school-liquidation/pkg/database"
)

// Container owns every long-lived component
type Container struct {
	config *config.Config
	logger *zap.Logger

	rawDB        *database.DB
	db           *sqldb.DB
	repositories *RepositoryBundle
	clock        port.Clock
	notifier     port.Notifier
	renderer     port.DemandLetterRenderer
	services     *ServiceBundle
	workers      *worker.Manager

	mu     sync.Mutex
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of all components
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// New creates a container. Call Start to build the components.
func New(cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Container{config: cfg, logger: logger}, nil
}

// Start builds the components in dependency order: database and repositories,
// clock, delivery adapters, then services. Workers start separately.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	rawDB, db, err := ProvideDatabase(ctx, c.config.Database, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.rawDB, c.db = rawDB, db
	c.repositories = ProvideRepositories(db, c.logger)

	clk, err := ProvideClock(c.config.Scheduler)
	if err != nil {
		_ = rawDB.Close()
		return err
	}
	c.clock = clk

	c.notifier = ProvideNotifier(c.config, c.logger)
	c.renderer = ProvideRenderer(c.config.Storage, c.logger.Named("render"))

	c.services = ProvideServices(&ServiceDeps{
		Config:   c.config,
		Repos:    c.repositories,
		TxMgr:    c.db,
		Clock:    c.clock,
		Notifier: c.notifier,
		Renderer: c.renderer,
		Logger:   c.logger,
	})

	c.ready.Store(true)
	c.logger.Info("Container started",
		zap.String("database_driver", c.config.Database.Driver),
		zap.String("notification_channel", c.config.Notifications.Channel))
	return nil
}

// StartWorkers launches the reminder poller and the daily tick loop
func (c *Container) StartWorkers(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ready.Load() {
		return fmt.Errorf("container not started")
	}
	if c.workers != nil {
		return fmt.Errorf("workers already started")
	}

	var workerCtx context.Context
	workerCtx, c.cancel = context.WithCancel(ctx)
	c.workers = ProvideWorkers(c.services, c.config.Scheduler, c.logger)
	return c.workers.StartAll(workerCtx)
}

// Close stops the workers and closes the database
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	var errs []error
	if c.cancel != nil {
		c.cancel()
	}
	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
	}
	if c.rawDB != nil {
		if err := c.rawDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}

	c.closed.Store(true)
	c.ready.Store(false)

	if err := errors.Join(errs...); err != nil {
		c.logger.Error("Container closed with errors", zap.Error(err))
		return err
	}
	c.logger.Info("Container closed")
	return nil
}

// Ready returns true once Start has succeeded
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health pings the database and reports the worker state
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{Overall: true, Components: make(map[string]ComponentHealth)}

	switch {
	case c.rawDB == nil:
		status.Components["database"] = ComponentHealth{Message: "not initialized"}
		status.Overall = false
	default:
		if err := c.rawDB.PingContext(ctx); err != nil {
			status.Components["database"] = ComponentHealth{Message: fmt.Sprintf("ping failed: %v", err)}
			status.Overall = false
		} else {
			status.Components["database"] = ComponentHealth{Healthy: true}
		}
	}

	if c.workers != nil {
		running := c.workers.IsRunning()
		status.Components["workers"] = ComponentHealth{
			Healthy: running,
			Message: fmt.Sprintf("worker count: %d", c.workers.Count()),
		}
		status.Overall = status.Overall && running
	}
	return status
}

// Services returns the application services
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Repositories returns all repositories
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Directory resolves users for the HTTP adapter
func (c *Container) Directory() port.Directory {
	return c.repositories.Schools
}

// Logger returns the container's logger
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration
func (c *Container) Config() *config.Config {
	return c.config
}
