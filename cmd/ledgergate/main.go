package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/ledgergate/ledgergate/internal/accounting/accounts"
	"github.com/ledgergate/ledgergate/internal/accounting/gateway"
	"github.com/ledgergate/ledgergate/internal/accounting/periods"
	"github.com/ledgergate/ledgergate/internal/app"
	"github.com/ledgergate/ledgergate/internal/audit"
	audithttp "github.com/ledgergate/ledgergate/internal/audit/http"
	"github.com/ledgergate/ledgergate/internal/idempotency"
	"github.com/ledgergate/ledgergate/internal/movement"
	"github.com/ledgergate/ledgergate/internal/observability"
	"github.com/ledgergate/ledgergate/internal/platform/cache"
	"github.com/ledgergate/ledgergate/internal/platform/db"
	"github.com/ledgergate/ledgergate/internal/quarantine"
	"github.com/ledgergate/ledgergate/internal/repair"
	"github.com/ledgergate/ledgergate/internal/shared"
	"github.com/ledgergate/ledgergate/internal/signals"
	"github.com/ledgergate/ledgergate/internal/sourcelink"
	"github.com/ledgergate/ledgergate/internal/switchboard"
	"github.com/ledgergate/ledgergate/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		// Flag reads fall back to the database when the cache is down.
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

	accountDir := accounts.NewRepository(pool)
	periodSvc := periods.NewService(periods.NewRepository(pool), auditLogger)

	linkSvc := sourcelink.NewService(sourcelink.NewRepository(pool), auditLogger)
	for source, table := range cfg.SourceTables {
		module, model, ok := strings.Cut(source, ".")
		if !ok {
			logger.Warn("skipping malformed source binding", slog.String("source", source))
			continue
		}
		linkSvc.Register(module, model, sourcelink.NewTableResolver(pool, table, "id"))
	}

	metrics := observability.NewMetrics()

	gatewaySvc := gateway.NewService(gateway.NewRepository(pool), idemStore, linkSvc,
		accountDir, periodSvc, switchboardSvc, auditLogger, logger)
	gatewaySvc.WithMetrics(metrics)
	gatewaySvc.WithRetryFailed(cfg.RetryFailedEntries)

	movementSvc := movement.NewService(movement.NewRepository(pool),
		movement.NewProductRepository(pool), idemStore, auditLogger, logger)
	movementSvc.WithMetrics(metrics)
	movementSvc.WithJournalPairing(gatewaySvc, inventoryJournalBuilder)

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

	signalRouter := signals.NewRouter(switchboardSvc, idemStore, auditLogger, quarantineSvc, logger)
	signalRouter.WithMetrics(metrics)
	if err := registerSignalHandlers(signalRouter, gatewaySvc); err != nil {
		logger.Error("register signal handlers", slog.Any("error", err))
		os.Exit(1)
	}

	auditSvc := audit.NewService(audit.NewRepository(pool))

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		GatewayHandler:     gateway.NewHandler(logger, gatewaySvc),
		PeriodsHandler:     periods.NewHandler(logger, periodSvc),
		MovementHandler:    movement.NewHandler(logger, movementSvc),
		SwitchboardHandler: switchboard.NewHandler(logger, switchboardSvc),
		SourceLinkHandler:  sourcelink.NewHandler(logger, linkSvc),
		QuarantineHandler:  quarantine.NewHandler(logger, quarantineSvc),
		RepairHandler:      repair.NewHandler(logger, repairSvc),
		IdempotencyHandler: idempotency.NewHandler(logger, idemStore),
		SignalsHandler:     signals.NewHandler(logger, signalRouter),
		AuditHandler:       audithttp.NewHandler(logger, auditSvc),
		JobsHandler:        jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
	})

	// Keep the pending-review gauge warm without a request on the path.
	go pollQuarantineGauge(ctx, quarantineSvc, metrics, logger)

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

// inventoryJournalBuilder derives the paired journal entry for a costed
// movement. Movements without a unit cost skip the pairing.
func inventoryJournalBuilder(m movement.StockMovement) (gateway.CreateEntryInput, bool) {
	if m.UnitCost == nil || m.UnitCost.IsZero() {
		return gateway.CreateEntryInput{}, false
	}
	value := m.QuantityChange.Mul(*m.UnitCost).RoundBank(2)
	if value.IsZero() {
		return gateway.CreateEntryInput{}, false
	}
	inventoryAccount := "1140"
	offsetAccount := "5110"
	var lines []gateway.LineInput
	if value.IsPositive() {
		lines = []gateway.LineInput{
			{AccountCode: inventoryAccount, Debit: value},
			{AccountCode: offsetAccount, Credit: value},
		}
	} else {
		value = value.Abs()
		lines = []gateway.LineInput{
			{AccountCode: offsetAccount, Debit: value},
			{AccountCode: inventoryAccount, Credit: value},
		}
	}
	return gateway.CreateEntryInput{
		SourceModule: "inventory",
		SourceModel:  "Movement",
		SourceID:     m.ID,
		Lines:        lines,
		Description:  "Inventory movement " + m.SourceReference,
		Reference:    m.DocumentNumber,
	}, true
}

// registerSignalHandlers binds the governed event handlers. The student
// fee route posts a fee journal entry from the event payload.
func registerSignalHandlers(router *signals.Router, gatewaySvc *gateway.Service) error {
	return router.Register(signals.Registration{
		Name:       "student_fee_posting",
		Workflow:   "student_fee_posting",
		Sources:    []string{"students.StudentFee"},
		Actions:    []string{signals.ActionSave},
		Critical:   true,
		Idempotent: true,
		Handler: func(ctx context.Context, event signals.Event) error {
			amount, err := payloadAmount(event.Payload, "amount")
			if err != nil {
				return err
			}
			debit := payloadString(event.Payload, "debit_account", "1210")
			credit := payloadString(event.Payload, "credit_account", "4010")
			_, err = gatewaySvc.CreateJournalEntry(ctx, gateway.CreateEntryInput{
				SourceModule: event.Module,
				SourceModel:  event.Model,
				SourceID:     event.ObjectID,
				Lines: []gateway.LineInput{
					{AccountCode: debit, Debit: amount},
					{AccountCode: credit, Credit: amount},
				},
				IdempotencyKey: idempotency.JournalEntryKey(event.Module, event.Model, event.ObjectID, event.Action),
				User:           event.Actor,
				Description:    payloadString(event.Payload, "description", "Student fee"),
			})
			return err
		},
	})
}

func payloadAmount(payload map[string]any, key string) (decimal.Decimal, error) {
	switch v := payload[key].(type) {
	case string:
		return decimal.NewFromString(v)
	case float64:
		return decimal.NewFromFloat(v).RoundBank(2), nil
	default:
		return decimal.Zero, shared.ErrValidation
	}
}

func payloadString(payload map[string]any, key, fallback string) string {
	if v, ok := payload[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func pollQuarantineGauge(ctx context.Context, svc *quarantine.Service, metrics *observability.Metrics, logger *slog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.PendingCount(ctx)
			if err != nil {
				logger.Warn("quarantine pending count", slog.Any("error", err))
				continue
			}
			metrics.SetQuarantinePending(n)
		}
	}
}
