package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/payroll/internal/audit"
	"github.com/odyssey-erp/payroll/internal/companyconfig"
	"github.com/odyssey-erp/payroll/internal/employees"
	"github.com/odyssey-erp/payroll/internal/liquidation"
	"github.com/odyssey-erp/payroll/internal/novelties"
	"github.com/odyssey-erp/payroll/internal/observability"
	"github.com/odyssey-erp/payroll/internal/periods"
	"github.com/odyssey-erp/payroll/internal/platform/cache"
	"github.com/odyssey-erp/payroll/internal/platform/db"
	"github.com/odyssey-erp/payroll/internal/platform/lock"
	"github.com/odyssey-erp/payroll/internal/shared"
	"github.com/odyssey-erp/payroll/internal/staleness"
	"github.com/odyssey-erp/payroll/internal/store/memory"
	"github.com/odyssey-erp/payroll/internal/vouchers"
	"github.com/odyssey-erp/payroll/jobs"
)

// Container holds the wired services of one process.
type Container struct {
	Config  *Config
	Logger  *slog.Logger
	Metrics *observability.Metrics

	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Jobs      *jobs.Client
	Inspector *asynq.Inspector

	// Employees is set for the memory driver so callers can load staff.
	Employees *memory.Directory

	Audit       *audit.Service
	Periods     *periods.Service
	Liquidation *liquidation.Service
	Novelties   *novelties.Service
	Detector    *staleness.Detector
	Reconciler  *staleness.Reconciler
	Vouchers    *vouchers.Notifier

	closers []func()
}

type repositories struct {
	periods   periods.Repository
	records   liquidation.Repository
	novelties novelties.Repository
	audit     audit.Repository
	directory employees.Directory
	configs   companyconfig.Provider
	idem      periods.IdempotencyStore
}

// Build wires every service for cfg.StorageDriver. Redis is optional: without
// it locks and caches stay in process and debounced reconciliation falls back
// to the periodic sweep.
func Build(ctx context.Context, cfg *Config, logger *slog.Logger, metrics *observability.Metrics) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Container{Config: cfg, Logger: logger, Metrics: metrics}

	var repos repositories
	if cfg.UsesMemory() {
		c.Employees = memory.NewDirectory()
		repos = repositories{
			periods:   memory.NewPeriodStore(),
			records:   memory.NewRecordStore(),
			novelties: memory.NewNoveltyStore(),
			audit:     memory.NewAuditStore(),
			directory: c.Employees,
			configs:   companyconfig.StaticProvider{},
			idem:      shared.NewMemoryIdempotencyStore(),
		}
	} else {
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		c.Pool = pool
		c.closers = append(c.closers, pool.Close)
		if cfg.AutoMigrate {
			if err := db.Migrate(ctx, pool); err != nil {
				c.Close()
				return nil, err
			}
		}
		repos = repositories{
			periods:   periods.NewPgRepository(pool),
			records:   liquidation.NewPgRepository(pool),
			novelties: novelties.NewPgRepository(pool),
			audit:     audit.NewPgRepository(pool),
			directory: employees.NewRepository(pool),
			configs:   companyconfig.NewRepository(pool),
			idem:      shared.NewIdempotencyStore(pool),
		}
	}
	repos.configs = companyconfig.NewCachedProvider(repos.configs, cfg.ConfigCacheTTL)

	var (
		locker      lock.Locker = lock.NewMemoryLocker()
		totalsCache novelties.TotalsCache = novelties.NewMemoryTotalsCache(cfg.TotalsCacheTTL)
		scheduler   staleness.Scheduler
	)
	c.Vouchers = vouchers.NewNotifier(cfg.VoucherWebhookURL, logger)
	var invalidator periods.VoucherInvalidator = c.Vouchers

	if cfg.RedisAddr != "" {
		client, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Warn("redis unavailable, using in-process locks and caches", slog.Any("error", err))
		} else {
			c.Redis = client
			c.closers = append(c.closers, func() { _ = client.Close() })
			locker = lock.NewRedisLocker(client)
			totalsCache = novelties.NewRedisTotalsCache(client, cfg.TotalsCacheTTL)

			opts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
			jobsClient, err := jobs.NewClient(opts)
			if err != nil {
				c.Close()
				return nil, fmt.Errorf("app: jobs client: %w", err)
			}
			c.Jobs = jobsClient
			c.Inspector = asynq.NewInspector(opts)
			c.closers = append(c.closers, func() { _ = jobsClient.Close() }, func() { _ = c.Inspector.Close() })
			scheduler = jobsClient
			invalidator = jobsClient
		}
	}

	c.Audit = audit.NewService(repos.audit, logger)
	c.Periods = periods.NewService(periods.Deps{
		Repository:  repos.periods,
		Records:     repos.records,
		Directory:   repos.directory,
		Audit:       c.Audit,
		Vouchers:    invalidator,
		Locker:      locker,
		Idempotency: repos.idem,
		LockTTL:     cfg.LockTTL,
		Logger:      logger,
	})
	c.Liquidation = liquidation.NewService(liquidation.Deps{
		Repository:  repos.records,
		Periods:     c.Periods,
		Novelties:   repos.novelties,
		Directory:   repos.directory,
		Configs:     repos.configs,
		Activity:    c.Periods,
		Concurrency: cfg.BatchConcurrency,
		Logger:      logger,
	})
	c.Periods.SetComputer(c.Liquidation)

	c.Detector = staleness.NewDetector(repos.records, repos.novelties, scheduler, cfg.StaleGrace, metrics.Jobs(), logger)
	c.Periods.SetDriftChecker(c.Detector)
	dispatcher := novelties.NewDispatcher(
		novelties.CacheInvalidator{Cache: totalsCache},
		c.Detector,
		periods.ActivityListener{Service: c.Periods},
	)
	c.Novelties = novelties.NewService(repos.novelties, c.Periods, novelties.Options{
		Directory:  repos.directory,
		Configs:    repos.configs,
		Dispatcher: dispatcher,
		Cache:      totalsCache,
		Logger:     logger,
	})
	c.Reconciler = staleness.NewReconciler(staleness.Deps{
		Records:    repos.records,
		Recomputer: c.Liquidation,
		Periods:    c.Periods,
		Editable:   c.Periods,
		Novelties:  repos.novelties,
		Directory:  repos.directory,
		Configs:    repos.configs,
		Audit:      c.Audit,
		Detector:   c.Detector,
		Grace:      cfg.StaleGrace,
		Metrics:    metrics.Jobs(),
		Logger:     logger,
	})
	return c, nil
}

// Close releases connections in reverse order of acquisition.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// RunInProcessSweep reconciles stale records every interval until ctx ends.
// It stands in for the worker when Redis is not configured.
func (c *Container) RunInProcessSweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = c.Config.StaleGrace
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	sweepCtx := shared.ContextWithActor(ctx, shared.ActorSystem)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := c.Reconciler.ReconcileStale(sweepCtx, nil, staleness.TriggerScheduled)
			if err != nil {
				c.Logger.Error("in-process reconcile sweep failed", slog.Any("error", err))
				continue
			}
			if res.EmployeesAffected > 0 || res.Err() != nil {
				c.Logger.Info("in-process reconcile sweep",
					slog.Int("employees_affected", res.EmployeesAffected),
					slog.Int("corrections_applied", res.CorrectionsApplied),
					slog.Any("error", res.Err()))
			}
		}
	}
}
