package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ledgergate/ledgergate/internal/idempotency"
	jobmetrics "github.com/ledgergate/ledgergate/internal/jobs"
	"github.com/ledgergate/ledgergate/internal/quarantine"
	"github.com/ledgergate/ledgergate/internal/repair"
)

// CleanupConfig tunes the idempotency retention handler.
type CleanupConfig struct {
	BatchSize int
	MaxAge    time.Duration
}

// NewIdempotencyCleanupHandler prunes terminal idempotency records in
// batches until the horizon is clean.
func NewIdempotencyCleanupHandler(store idempotency.Store, cfg CleanupConfig, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 90 * 24 * time.Hour
	}
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("idempotency_cleanup")
		var total int64
		for {
			n, err := store.Cleanup(ctx, time.Now().UTC(), cfg.BatchSize, cfg.MaxAge)
			if err != nil {
				return tracker.End(err)
			}
			total += n
			if n < int64(cfg.BatchSize) {
				break
			}
		}
		logger.Info("idempotency cleanup finished", slog.Int64("removed", total))
		return tracker.End(nil)
	}
}

// NewRepairScanHandler runs the corruption scanners and optionally
// quarantines the findings. Repairs are never executed here.
func NewRepairScanHandler(svc *repair.Service, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("repair_scan")
		var payload RepairScanPayload
		if len(t.Payload()) > 0 {
			if err := json.Unmarshal(t.Payload(), &payload); err != nil {
				return asynq.SkipRetry
			}
		}
		types := make([]quarantine.CorruptionType, 0, len(payload.Types))
		for _, raw := range payload.Types {
			types = append(types, quarantine.CorruptionType(strings.ToUpper(raw)))
		}
		report, err := svc.ScanForCorruption(ctx, types...)
		if err != nil {
			return tracker.End(err)
		}
		metrics.AddFindings(report.ByType)
		if payload.Quarantine && len(report.Items) > 0 {
			user := payload.User
			if user == "" {
				user = "repair-worker"
			}
			if _, err := svc.SubmitFindings(ctx, report, user); err != nil {
				return tracker.End(err)
			}
		}
		logger.Info("corruption scan finished",
			slog.String("report", report.ID.String()),
			slog.Int("findings", len(report.Items)))
		return tracker.End(nil)
	}
}

// LockSweeper locks posted entries for one source. The gateway service
// satisfies this.
type LockSweeper interface {
	EnforcePeriodLocksForWorkflow(ctx context.Context, module, model, user string) (int64, error)
}

// NewPeriodLockSweepHandler sweeps the configured sources for posted
// entries left unlocked in closed periods.
func NewPeriodLockSweepHandler(sweeper LockSweeper, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("period_lock_sweep")
		var payload LockSweepPayload
		if len(t.Payload()) > 0 {
			if err := json.Unmarshal(t.Payload(), &payload); err != nil {
				return asynq.SkipRetry
			}
		}
		user := payload.User
		if user == "" {
			user = "lock-sweeper"
		}
		var total int64
		for _, source := range payload.Sources {
			module, model, ok := strings.Cut(source, ".")
			if !ok {
				logger.Warn("lock sweep skipping malformed source", slog.String("source", source))
				continue
			}
			locked, err := sweeper.EnforcePeriodLocksForWorkflow(ctx, module, model, user)
			if err != nil {
				return tracker.End(err)
			}
			total += locked
		}
		logger.Info("period lock sweep finished", slog.Int64("locked", total))
		return tracker.End(nil)
	}
}
