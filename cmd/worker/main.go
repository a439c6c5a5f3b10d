package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/ledgergate/ledgergate/internal/accounting/accounts"
	"github.com/ledgergate/ledgergate/internal/accounting/gateway"
	"github.com/ledgergate/ledgergate/internal/accounting/periods"
	"github.com/ledgergate/ledgergate/internal/app"
	"github.com/ledgergate/ledgergate/internal/idempotency"
	jobmetrics "github.com/ledgergate/ledgergate/internal/jobs"
	"github.com/ledgergate/ledgergate/internal/movement"
	"github.com/ledgergate/ledgergate/internal/platform/cache"
	"github.com/ledgergate/ledgergate/internal/platform/db"
	"github.com/ledgergate/ledgergate/internal/quarantine"
	"github.com/ledgergate/ledgergate/internal/repair"
	"github.com/ledgergate/ledgergate/internal/shared"
	"github.com/ledgergate/ledgergate/internal/sourcelink"
	"github.com/ledgergate/ledgergate/internal/switchboard"
	"github.com/ledgergate/ledgergate/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, switchboard cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	auditLogger := shared.NewAuditLogger(pool)
	idemStore := idempotency.NewStore(pool)

	stateCache := switchboard.NewStateCache(redisClient, cfg.SwitchboardCacheTTL)
	switchboardSvc := switchboard.NewService(switchboard.NewRepository(pool), stateCache, auditLogger, logger)

	linkSvc := sourcelink.NewService(sourcelink.NewRepository(pool), auditLogger)
	for source, table := range cfg.SourceTables {
		module, model, ok := strings.Cut(source, ".")
		if !ok {
			continue
		}
		linkSvc.Register(module, model, sourcelink.NewTableResolver(pool, table, "id"))
	}

	periodSvc := periods.NewService(periods.NewRepository(pool), auditLogger)
	gatewaySvc := gateway.NewService(gateway.NewRepository(pool), idemStore, linkSvc,
		accounts.NewRepository(pool), periodSvc, switchboardSvc, auditLogger, logger)

	movementSvc := movement.NewService(movement.NewRepository(pool),
		movement.NewProductRepository(pool), idemStore, auditLogger, logger)

	quarantineSvc := quarantine.NewService(quarantine.NewRepository(pool), auditLogger)

	scanners := []repair.Scanner{
		repair.NewOrphanScanner(linkSvc),
		repair.NewNegativeStockScanner(movementSvc),
		repair.NewUnbalancedScanner(repair.NewLedgerRepository(pool)),
	}
	for entity, table := range cfg.SingletonChecks {
		scanners = append(scanners,
			repair.NewSingletonScanner(entity, repair.NewSingletonRepository(pool, table, "id", "is_active")))
	}
	repairSvc := repair.NewService(logger, scanners...)
	repairSvc.WithQuarantine(quarantineSvc)

	metrics := jobmetrics.NewMetrics(nil)

	scanTask, err := jobs.NewRepairScanTask(jobs.RepairScanPayload{Quarantine: true, User: "repair-worker"})
	if err != nil {
		logger.Error("build scan task", slog.Any("error", err))
		os.Exit(1)
	}
	sweepTask, err := jobs.NewPeriodLockSweepTask(jobs.LockSweepPayload{Sources: cfg.LockSweepSources, User: "lock-sweeper"})
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskIdempotencyCleanup, Handler: jobs.NewIdempotencyCleanupHandler(idemStore, jobs.CleanupConfig{
				BatchSize: cfg.IdempotencyCleanupBatch,
				MaxAge:    cfg.IdempotencyMaxAge,
			}, metrics, logger)},
			{Type: jobs.TaskRepairScan, Handler: jobs.NewRepairScanHandler(repairSvc, metrics, logger)},
			{Type: jobs.TaskPeriodLockSweep, Handler: jobs.NewPeriodLockSweepHandler(gatewaySvc, metrics, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 3 * * *", Task: jobs.NewIdempotencyCleanupTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 2 * * *", Task: scanTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 1 * * *", Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
