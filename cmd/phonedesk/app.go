package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/goatkit/phonedesk/internal/config"
	"github.com/goatkit/phonedesk/internal/database"
	"github.com/goatkit/phonedesk/internal/directory"
	"github.com/goatkit/phonedesk/internal/events"
	"github.com/goatkit/phonedesk/internal/keylock"
	"github.com/goatkit/phonedesk/internal/metrics"
	"github.com/goatkit/phonedesk/internal/repository"
	"github.com/goatkit/phonedesk/internal/service"
	"github.com/goatkit/phonedesk/internal/services/scheduler"
)

// app owns the long-lived resources shared by every command.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	db    *sqlx.DB
	redis *redis.Client

	store      repository.Store
	dir        directory.Directory
	collectors *metrics.Collectors
	dispatcher *events.Dispatcher

	assets    *service.AssetService
	transfers *service.TransferService
	inventory *service.InventoryService
	scheduler *scheduler.Service
}

// newApp opens the store, directory and event pipeline described by cfg.
// disabledJobs drops scheduler jobs by slug.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, disabledJobs ...string) (*app, error) {
	a := &app{cfg: cfg, logger: logger, collectors: metrics.Global()}
	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openDirectory(); err != nil {
		a.Close()
		return nil, err
	}
	if cfg.Redis.Enabled {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
	}

	locker := a.locker()
	a.dispatcher = events.NewDispatcher(a.publisher(),
		events.WithDispatchLogger(logger),
		events.WithDispatchMetrics(a.collectors),
		events.WithRetry(cfg.Events.MaxAttempts, cfg.Events.RetryBackoff),
		events.WithQueueSize(cfg.Events.QueueSize),
		events.WithWorkers(cfg.Events.Workers),
	)
	a.dispatcher.Start()

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithLocker(locker),
		service.WithPublisher(a.dispatcher),
		service.WithMetrics(a.collectors),
	}
	a.assets = service.NewAssetService(a.store, a.dir, opts...)
	a.transfers = service.NewTransferService(a.store, a.dir, opts...)
	a.inventory = service.NewInventoryService(a.store, a.dir, opts...)

	a.scheduler = scheduler.NewService(
		scheduler.WithLogger(logger),
		scheduler.WithRiskSweeper(a.assets),
		scheduler.WithOverdueReminder(a.inventory),
		scheduler.WithLocker(locker),
		scheduler.WithMetrics(a.collectors),
		scheduler.WithJobs(buildSchedulerJobs(cfg, disabledJobs...)),
		scheduler.WithLocation(cfg.Location()),
	)
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	if a.cfg.Database.InMemory() {
		a.logger.Warn("using in-memory store; data is lost on restart")
		a.store = repository.NewMemory()
		return nil
	}
	db, err := database.Open(ctx, a.cfg.Database.Pool(), a.logger)
	if err != nil {
		return err
	}
	a.db = db
	if err := database.RegisterStats(prometheus.DefaultRegisterer, db, a.cfg.App.Name); err != nil {
		a.logger.Warn("failed to register database stats", zap.Error(err))
	}
	if a.cfg.Database.AutoMigrate {
		applied, err := database.Migrate(ctx, db, a.logger)
		if err != nil {
			return err
		}
		if len(applied) > 0 {
			a.logger.Info("database migrated", zap.Int64s("versions", applied))
		}
	}
	a.store = repository.NewSQLStore(db)
	return nil
}

func (a *app) openDirectory() error {
	switch a.cfg.Directory.Source {
	case "sql":
		if a.db == nil {
			return errors.New("directory source sql requires a SQL database driver")
		}
		a.dir = directory.NewSQLDirectory(a.db)
	default:
		dir, err := directory.LoadYAML(a.cfg.Directory.SeedFile)
		if err != nil {
			return fmt.Errorf("failed to load directory seed: %w", err)
		}
		a.dir = dir
	}
	return nil
}

func (a *app) locker() keylock.Locker {
	if a.redis == nil {
		return keylock.NewMemory()
	}
	return keylock.NewRedis(a.redis, keylock.RedisOptions{
		Prefix:  a.cfg.Redis.LockPrefix,
		TTL:     a.cfg.Redis.LockTTL,
		MaxWait: a.cfg.Redis.LockMaxWait,
		Logger:  a.logger,
	})
}

func (a *app) publisher() events.Publisher {
	if a.redis == nil {
		return logPublisher{logger: a.logger}
	}
	return events.NewRedisPublisher(a.redis, a.cfg.Events.ChannelPrefix)
}

// ping checks the backing services for health probes.
func (a *app) ping(ctx context.Context) error {
	if a.db != nil {
		if err := a.db.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close drains pending events and releases connections.
func (a *app) Close() {
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis client", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close database", zap.Error(err))
		}
	}
}

// logPublisher records events in the log when no broker is configured.
type logPublisher struct {
	logger *zap.Logger
}

func (p logPublisher) Publish(_ context.Context, ev events.Event) error {
	p.logger.Info("event",
		zap.String("id", ev.ID),
		zap.String("type", string(ev.Type)),
		zap.String("phone_number", ev.PhoneNumber),
		zap.String("task_id", ev.TaskID),
		zap.Int64s("recipients", ev.Recipients),
	)
	return nil
}
