package repair

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ledgergate/ledgergate/internal/quarantine"
)

// maxConcurrentScans bounds the scanner fan-out.
const maxConcurrentScans = 4

// QuarantinePort submits findings for review.
type QuarantinePort interface {
	Submit(ctx context.Context, sub quarantine.Submission) (quarantine.Record, error)
}

// Service runs corruption scanners and plans repairs. It is strictly a
// planner: nothing here mutates business data.
type Service struct {
	scanners   []Scanner
	quarantine QuarantinePort
	logger     *slog.Logger
	now        func() time.Time
}

// NewService builds the repair planner.
func NewService(logger *slog.Logger, scanners ...Scanner) *Service {
	return &Service{scanners: scanners, logger: logger, now: time.Now}
}

// WithQuarantine enables submitting findings to the quarantine store.
func (s *Service) WithQuarantine(q QuarantinePort) {
	s.quarantine = q
}

// WithNow overrides the clock, used in tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ScanForCorruption runs the selected scanners concurrently. An empty
// type list runs them all. A scanner failure becomes a SCAN_FAILURE
// finding rather than failing the sweep.
func (s *Service) ScanForCorruption(ctx context.Context, types ...quarantine.CorruptionType) (CorruptionReport, error) {
	report := CorruptionReport{
		ID:           uuid.New(),
		StartedAt:    s.now().UTC(),
		ByType:       make(map[quarantine.CorruptionType]int),
		ByConfidence: make(map[quarantine.Confidence]int),
	}
	selected := s.selectScanners(types)
	for _, sc := range selected {
		report.ScannedTypes = append(report.ScannedTypes, sc.Type())
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentScans)
	for _, sc := range selected {
		sc := sc
		g.Go(func() error {
			items, err := sc.Scan(gctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Error("corruption scan failed",
					slog.String("type", string(sc.Type())), slog.Any("error", err))
				report.Items = append(report.Items, CorruptionItem{
					Type:       quarantine.CorruptionScanFailure,
					ModelName:  "Scanner",
					ObjectID:   string(sc.Type()),
					Confidence: quarantine.ConfidenceLow,
					Reason:     err.Error(),
					Evidence:   map[string]any{"scanner": sc.Type()},
				})
				return nil
			}
			report.Items = append(report.Items, items...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return CorruptionReport{}, err
	}

	sort.Slice(report.Items, func(i, j int) bool {
		if report.Items[i].Type != report.Items[j].Type {
			return report.Items[i].Type < report.Items[j].Type
		}
		return report.Items[i].ObjectID < report.Items[j].ObjectID
	})
	for _, item := range report.Items {
		report.ByType[item.Type]++
		report.ByConfidence[item.Confidence]++
	}
	report.FinishedAt = s.now().UTC()
	s.logger.Info("corruption scan finished",
		slog.Int("findings", len(report.Items)),
		slog.Int("scanners", len(selected)))
	return report, nil
}

func (s *Service) selectScanners(types []quarantine.CorruptionType) []Scanner {
	if len(types) == 0 {
		return s.scanners
	}
	wanted := make(map[quarantine.CorruptionType]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}
	var out []Scanner
	for _, sc := range s.scanners {
		if wanted[sc.Type()] {
			out = append(out, sc)
		}
	}
	return out
}

// CreateRepairReport maps the findings to repair plans. Execution is
// always blocked pending human approval.
func (s *Service) CreateRepairReport(report CorruptionReport) RepairReport {
	type group struct {
		ctype      quarantine.CorruptionType
		confidence quarantine.Confidence
	}
	counts := make(map[group]int)
	for _, item := range report.Items {
		counts[group{item.Type, item.Confidence}]++
	}
	keys := make([]group, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ctype != keys[j].ctype {
			return keys[i].ctype < keys[j].ctype
		}
		return keys[i].confidence < keys[j].confidence
	})

	out := RepairReport{
		ReportID:         report.ID,
		CreatedAt:        s.now().UTC(),
		TotalItems:       len(report.Items),
		ExecutionBlocked: true,
		ApprovalRequired: true,
	}
	for _, k := range keys {
		plan := planFor(k.ctype, k.confidence)
		plan.ItemCount = counts[k]
		out.Plans = append(out.Plans, plan)
	}
	return out
}

// planFor is the repair policy: (corruption type, confidence) → action
// plus the operational envelope of applying it.
func planFor(ctype quarantine.CorruptionType, confidence quarantine.Confidence) RepairPlan {
	plan := RepairPlan{CorruptionType: ctype, Confidence: confidence}
	switch ctype {
	case quarantine.CorruptionOrphanedJournalEntries:
		if confidence == quarantine.ConfidenceHigh {
			plan.Action = ActionRelink
			plan.Steps = []string{
				"identify the replacement source record per entry",
				"dry-run the backfill and review the before/after triples",
				"apply the backfill entry by entry",
			}
			plan.EstimatedDuration = 30 * time.Minute
			plan.RiskLevel = RiskLow
			plan.Verification = []string{"every repaired triple validates against the allowlist"}
			plan.RollbackStrategy = "restore previous triples from the audit trail backfill records"
		} else {
			plan.Action = ActionQuarantine
			plan.Steps = []string{"quarantine each entry pending manual source identification"}
			plan.EstimatedDuration = 10 * time.Minute
			plan.RiskLevel = RiskLow
			plan.Verification = []string{"quarantined entries excluded from reporting reads"}
			plan.RollbackStrategy = "release quarantine records after review"
		}
	case quarantine.CorruptionNegativeStock:
		if confidence == quarantine.ConfidenceHigh {
			plan.Action = ActionAdjustment
			plan.Steps = []string{
				"reconcile physical stock for each flagged product",
				"post an authorised adjustment movement per product",
			}
			plan.EstimatedDuration = time.Hour
			plan.RiskLevel = RiskMedium
			plan.Verification = []string{"derived stock of every flagged product is non-negative"}
			plan.RollbackStrategy = "post the inverse adjustment movement"
		} else {
			plan.Action = ActionQuarantine
			plan.Steps = []string{"quarantine the product balances pending stock count"}
			plan.EstimatedDuration = 15 * time.Minute
			plan.RiskLevel = RiskLow
			plan.Verification = []string{"no further movements accepted for quarantined products"}
			plan.RollbackStrategy = "release quarantine records after review"
		}
	case quarantine.CorruptionMultipleActiveSingleton:
		plan.Action = ActionRebuild
		if confidence != quarantine.ConfidenceHigh {
			plan.Action = ActionQuarantine
		}
		plan.Steps = []string{
			"determine the intended active row with the business owner",
			"deactivate the remainder in one transaction",
		}
		plan.EstimatedDuration = 20 * time.Minute
		plan.RiskLevel = RiskHigh
		plan.Verification = []string{"exactly one active row remains"}
		plan.RollbackStrategy = "re-activate rows from the original-data snapshot"
	case quarantine.CorruptionUnbalancedEntries:
		plan.Action = ActionQuarantine
		plan.Steps = []string{
			"quarantine each entry with its line snapshot",
			"investigate how the ledger was written around the gateway",
		}
		plan.EstimatedDuration = 2 * time.Hour
		plan.RiskLevel = RiskHigh
		plan.Verification = []string{"all remaining posted entries balance within 0.01"}
		plan.RollbackStrategy = "quarantine release; the entries themselves are never edited"
	default:
		plan.Action = ActionQuarantine
		plan.Steps = []string{"investigate the scanner failure and re-run the sweep"}
		plan.EstimatedDuration = 15 * time.Minute
		plan.RiskLevel = RiskLow
		plan.Verification = []string{"subsequent sweep completes without scanner failures"}
		plan.RollbackStrategy = "none required; scan failures carry no data change"
	}
	return plan
}

// SubmitFindings quarantines every finding of the report for review.
func (s *Service) SubmitFindings(ctx context.Context, report CorruptionReport, user string) (int, error) {
	if s.quarantine == nil {
		return 0, nil
	}
	submitted := 0
	for _, item := range report.Items {
		_, err := s.quarantine.Submit(ctx, quarantine.Submission{
			ModelName:      item.ModelName,
			ObjectID:       item.ObjectID,
			CorruptionType: item.Type,
			Confidence:     item.Confidence,
			Reason:         item.Reason,
			Evidence:       item.Evidence,
			CreatedBy:      user,
		})
		if err != nil {
			return submitted, err
		}
		submitted++
	}
	return submitted, nil
}
