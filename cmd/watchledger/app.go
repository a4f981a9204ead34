package main

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/kailas-cloud/watchledger/internal/config"
	"github.com/kailas-cloud/watchledger/internal/db"
	dbFile "github.com/kailas-cloud/watchledger/internal/db/file"
	dbRedis "github.com/kailas-cloud/watchledger/internal/db/redis"
	dbSQLite "github.com/kailas-cloud/watchledger/internal/db/sqlite"
	"github.com/kailas-cloud/watchledger/internal/domain"
	logpkg "github.com/kailas-cloud/watchledger/internal/logger"
	ledgerrepo "github.com/kailas-cloud/watchledger/internal/repository/ledger"
	schedulerepo "github.com/kailas-cloud/watchledger/internal/repository/schedule"
	"github.com/kailas-cloud/watchledger/internal/transport/httpsource"
	ledgeruc "github.com/kailas-cloud/watchledger/internal/usecase/ledger"
	"github.com/kailas-cloud/watchledger/internal/usecase/migration"
	"github.com/kailas-cloud/watchledger/internal/usecase/quota"
	"github.com/kailas-cloud/watchledger/internal/usecase/reconcile"
	"github.com/kailas-cloud/watchledger/internal/usecase/scheduler"
	sourceuc "github.com/kailas-cloud/watchledger/internal/usecase/source"
	"github.com/kailas-cloud/watchledger/internal/version"
)

// Scheduler task ids.
const (
	taskReconcile = "reconcile"
	taskCleanup   = "cleanup-stats"
)

// infra is the config, logger and opened store shared by every command.
type infra struct {
	env    string
	cfg    config.Config
	logger *zap.Logger
	clock  quartz.Clock
	store  db.Store
}

func openInfra(ctx context.Context, env string) (*infra, error) {
	cfg, err := config.Load(env)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	logger.Info("Starting watchledger",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.String("storage_driver", cfg.Storage.Driver),
	)

	store, err := openStore(cfg.Storage)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}

	if err := store.WaitForReady(ctx, cfg.Storage.Readiness()); err != nil {
		store.Close()
		_ = logger.Sync()
		return nil, fmt.Errorf("storage not ready: %w", err)
	}
	logger.Info("Connected to storage")

	return &infra{env: env, cfg: cfg, logger: logger, clock: quartz.NewReal(), store: store}, nil
}

func openStore(cfg config.StorageConfig) (db.Store, error) {
	switch cfg.Driver {
	case config.DriverRedis:
		return dbRedis.NewStore(dbRedis.Config{
			Addrs:     cfg.Addrs,
			Password:  cfg.Password,
			KeyPrefix: cfg.KeyPrefix,
		})
	case config.DriverSQLite:
		return dbSQLite.NewStore(cfg.SQLitePath)
	case config.DriverFile:
		return dbFile.NewStore(cfg.Dir)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// Close releases the store and flushes the logger.
func (in *infra) Close() {
	in.store.Close()
	_ = in.logger.Sync()
}

func (in *infra) migrate(ctx context.Context) (migration.Result, error) {
	steps := migration.DefaultSteps(func() time.Time { return in.clock.Now() }, in.cfg.Quota.Limit)
	m := migration.New(in.store, in.cfg.Storage.LedgerKey, steps, in.clock, in.logger)
	return m.Run(ctx)
}

func (in *infra) newScheduler(ctx context.Context) *scheduler.Scheduler {
	sc := in.cfg.Scheduler
	// default_times is validated by config.Load.
	minutes, _ := domain.ParseClocks(sc.DefaultTimes)
	return scheduler.New(ctx, schedulerepo.New(in.store, in.cfg.Storage.ScheduleKey), scheduler.Config{
		PollInterval:     sc.PollInterval(),
		Cooldown:         sc.Cooldown(),
		RecoveryInterval: sc.RecoveryInterval(),
		StopTimeout:      sc.StopTimeout(),
		WindowWidth:      sc.WindowWidth(),
		DefaultMinutes:   minutes,
	}, in.clock, in.logger)
}

// app is the fully wired service graph.
type app struct {
	*infra
	ledger    *ledgeruc.Service
	budget    *quota.Budget
	source    *sourceuc.Source
	engine    *reconcile.Engine
	scheduler *scheduler.Scheduler
}

func newApp(ctx context.Context, env string) (*app, error) {
	in, err := openInfra(ctx, env)
	if err != nil {
		return nil, err
	}
	a, err := in.wire(ctx)
	if err != nil {
		in.Close()
		return nil, err
	}
	return a, nil
}

func (in *infra) wire(ctx context.Context) (*app, error) {
	cfg, logger := in.cfg, in.logger

	res, err := in.migrate(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	if len(res.Applied) > 0 {
		logger.Info("Ledger migrated", zap.Int("from", res.From), zap.Int("to", res.To))
	}

	ledger, err := ledgeruc.New(ctx, ledgerrepo.New(in.store, cfg.Storage.LedgerKey),
		ledgeruc.Config{HistoryMax: cfg.Ledger.HistoryMax}, in.clock, logger)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	budget := quota.NewBudget(quota.Config{
		Limit:          cfg.Quota.Limit,
		Period:         cfg.Quota.Period(),
		RefuseAbovePct: cfg.Quota.RefuseAbovePct,
	}, in.clock, logger)
	budget.Restore(ledger.Quota())

	src := sourceuc.New(newSourceClient(ctx, cfg.Source, logger), sourceuc.Config{
		Retry: sourceuc.RetryPolicy{
			MaxAttempts:     cfg.Source.Retry.MaxAttempts,
			InitialInterval: cfg.Source.Retry.InitialInterval(),
			MaxInterval:     cfg.Source.Retry.MaxInterval(),
			Reauthenticate:  cfg.Source.Retry.Reauthenticate,
		},
		CallDelay: cfg.Source.CallDelay(),
		ListCost:  cfg.Quota.ListCost,
		FetchCost: cfg.Quota.FetchCost,
	}, logger)

	engine := reconcile.New(ledger, budget, src, reconcile.Config{
		ListCost:  cfg.Quota.ListCost,
		FetchCost: cfg.Quota.FetchCost,
	}, in.clock, logger)

	sched := in.newScheduler(ctx)
	if err := sched.AddTask(taskReconcile, "Remove ledger entries missing from the source", func(ctx context.Context) error {
		_, err := engine.Reconcile(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	if err := sched.AddTask(taskCleanup, "Drop expired daily and monthly rollups", func(ctx context.Context) error {
		_, err := ledger.CleanupOldStats(ctx, cfg.Ledger.RetentionDays, cfg.Ledger.KeepMonths)
		return err
	}); err != nil {
		return nil, err
	}

	return &app{infra: in, ledger: ledger, budget: budget, source: src, engine: engine, scheduler: sched}, nil
}

// newSourceClient returns a nil Client when no source is configured, leaving
// the boundary not initialized. Authentication failures are logged; passes
// report not_initialized until a retry authenticates.
func newSourceClient(ctx context.Context, cfg config.SourceConfig, logger *zap.Logger) sourceuc.Client {
	if cfg.BaseURL == "" {
		logger.Warn("Source base_url is empty; reconciliation disabled")
		return nil
	}
	client, err := httpsource.New(httpsource.Config{
		BaseURL: cfg.BaseURL,
		Token:   cfg.Token,
		Timeout: cfg.Timeout(),
	}, logger)
	if err != nil {
		logger.Error("Source client not created", zap.Error(err))
		return nil
	}
	if err := client.Authenticate(ctx); err != nil {
		logger.Warn("Source authentication failed", zap.Error(err))
	}
	return client
}
