package repair

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ledgergate/ledgergate/internal/movement"
	"github.com/ledgergate/ledgergate/internal/quarantine"
)

type stubScanner struct {
	ctype quarantine.CorruptionType
	items []CorruptionItem
	err   error
}

func (s *stubScanner) Type() quarantine.CorruptionType { return s.ctype }

func (s *stubScanner) Scan(ctx context.Context) ([]CorruptionItem, error) {
	return s.items, s.err
}

func finding(ctype quarantine.CorruptionType, objectID string, confidence quarantine.Confidence) CorruptionItem {
	return CorruptionItem{Type: ctype, ModelName: "JournalEntry", ObjectID: objectID, Confidence: confidence}
}

func TestScanForCorruptionAggregates(t *testing.T) {
	svc := NewService(slog.Default(),
		&stubScanner{ctype: quarantine.CorruptionOrphanedJournalEntries, items: []CorruptionItem{
			finding(quarantine.CorruptionOrphanedJournalEntries, "1", quarantine.ConfidenceHigh),
			finding(quarantine.CorruptionOrphanedJournalEntries, "2", quarantine.ConfidenceMedium),
		}},
		&stubScanner{ctype: quarantine.CorruptionNegativeStock, items: []CorruptionItem{
			finding(quarantine.CorruptionNegativeStock, "7", quarantine.ConfidenceHigh),
		}},
	)

	report, err := svc.ScanForCorruption(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Items, 3)
	require.Equal(t, 2, report.ByType[quarantine.CorruptionOrphanedJournalEntries])
	require.Equal(t, 1, report.ByType[quarantine.CorruptionNegativeStock])
	require.Equal(t, 2, report.ByConfidence[quarantine.ConfidenceHigh])
}

func TestScanForCorruptionSelectsTypes(t *testing.T) {
	svc := NewService(slog.Default(),
		&stubScanner{ctype: quarantine.CorruptionOrphanedJournalEntries, items: []CorruptionItem{
			finding(quarantine.CorruptionOrphanedJournalEntries, "1", quarantine.ConfidenceHigh),
		}},
		&stubScanner{ctype: quarantine.CorruptionNegativeStock, items: []CorruptionItem{
			finding(quarantine.CorruptionNegativeStock, "7", quarantine.ConfidenceHigh),
		}},
	)

	report, err := svc.ScanForCorruption(context.Background(), quarantine.CorruptionNegativeStock)
	require.NoError(t, err)
	require.Len(t, report.Items, 1)
	require.Equal(t, []quarantine.CorruptionType{quarantine.CorruptionNegativeStock}, report.ScannedTypes)
}

func TestScanFailureBecomesFinding(t *testing.T) {
	svc := NewService(slog.Default(),
		&stubScanner{ctype: quarantine.CorruptionUnbalancedEntries, err: errors.New("query timeout")},
		&stubScanner{ctype: quarantine.CorruptionNegativeStock, items: []CorruptionItem{
			finding(quarantine.CorruptionNegativeStock, "7", quarantine.ConfidenceHigh),
		}},
	)

	report, err := svc.ScanForCorruption(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Items, 2)
	require.Equal(t, 1, report.ByType[quarantine.CorruptionScanFailure])
	for _, item := range report.Items {
		if item.Type == quarantine.CorruptionScanFailure {
			require.Contains(t, item.Reason, "query timeout")
			require.Equal(t, string(quarantine.CorruptionUnbalancedEntries), item.ObjectID)
		}
	}
}

func TestCreateRepairReportAlwaysBlocked(t *testing.T) {
	svc := NewService(slog.Default())
	report := CorruptionReport{Items: []CorruptionItem{
		finding(quarantine.CorruptionOrphanedJournalEntries, "1", quarantine.ConfidenceHigh),
		finding(quarantine.CorruptionOrphanedJournalEntries, "2", quarantine.ConfidenceHigh),
		finding(quarantine.CorruptionOrphanedJournalEntries, "3", quarantine.ConfidenceLow),
		finding(quarantine.CorruptionUnbalancedEntries, "9", quarantine.ConfidenceHigh),
	}}

	out := svc.CreateRepairReport(report)
	require.True(t, out.ExecutionBlocked)
	require.True(t, out.ApprovalRequired)
	require.Equal(t, 4, out.TotalItems)
	require.Len(t, out.Plans, 3)

	actions := make(map[quarantine.CorruptionType]RepairAction)
	for _, plan := range out.Plans {
		if plan.Confidence == quarantine.ConfidenceHigh {
			actions[plan.CorruptionType] = plan.Action
		}
		require.NotEmpty(t, plan.Steps)
		require.NotEmpty(t, plan.Verification)
		require.NotEmpty(t, plan.RollbackStrategy)
		require.Positive(t, plan.EstimatedDuration)
	}
	require.Equal(t, ActionRelink, actions[quarantine.CorruptionOrphanedJournalEntries])
	require.Equal(t, ActionQuarantine, actions[quarantine.CorruptionUnbalancedEntries])
}

func TestNegativeStockScanner(t *testing.T) {
	scanner := NewNegativeStockScanner(stubStock{balances: []movement.Balance{
		{ProductID: 4, Quantity: decimal.RequireFromString("-2")},
	}})

	items, err := scanner.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "4", items[0].ObjectID)
	require.Equal(t, quarantine.ConfidenceHigh, items[0].Confidence)
}

type stubStock struct {
	balances []movement.Balance
}

func (s stubStock) NegativeBalances(ctx context.Context) ([]movement.Balance, error) {
	return s.balances, nil
}

func TestSingletonScanner(t *testing.T) {
	scanner := NewSingletonScanner("AcademicYear", stubSingleton{ids: []string{"2024", "2025"}})

	items, err := scanner.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "AcademicYear", items[0].ModelName)

	scanner = NewSingletonScanner("AcademicYear", stubSingleton{ids: []string{"2025"}})
	items, err = scanner.Scan(context.Background())
	require.NoError(t, err)
	require.Empty(t, items)
}

type stubSingleton struct {
	ids []string
}

func (s stubSingleton) ActiveRows(ctx context.Context) ([]string, error) {
	return s.ids, nil
}

func TestSubmitFindings(t *testing.T) {
	svc := NewService(slog.Default())
	q := &stubQuarantine{}
	svc.WithQuarantine(q)

	report := CorruptionReport{Items: []CorruptionItem{
		finding(quarantine.CorruptionNegativeStock, "7", quarantine.ConfidenceHigh),
		finding(quarantine.CorruptionOrphanedJournalEntries, "1", quarantine.ConfidenceMedium),
	}}
	n, err := svc.SubmitFindings(context.Background(), report, "repair")
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Len(t, q.subs, 2)
}

type stubQuarantine struct {
	subs []quarantine.Submission
}

func (s *stubQuarantine) Submit(ctx context.Context, sub quarantine.Submission) (quarantine.Record, error) {
	s.subs = append(s.subs, sub)
	return quarantine.Record{}, nil
}
