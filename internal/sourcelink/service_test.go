package sourcelink

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgergate/ledgergate/internal/shared"
)

type memoryLedger struct {
	refs map[int64]entryRef
}

func (l *memoryLedger) ListEntryRefsAfter(ctx context.Context, afterID int64, limit int) ([]entryRef, error) {
	var out []entryRef
	for id := afterID + 1; len(out) < limit && id <= int64(len(l.refs)); id++ {
		if ref, ok := l.refs[id]; ok {
			out = append(out, ref)
		}
	}
	return out, nil
}

func (l *memoryLedger) GetEntryRef(ctx context.Context, entryID int64) (entryRef, error) {
	ref, ok := l.refs[entryID]
	if !ok {
		return entryRef{}, shared.ErrNotFound
	}
	return ref, nil
}

func (l *memoryLedger) UpdateSourceTriple(ctx context.Context, entryID int64, ref Ref) error {
	current, ok := l.refs[entryID]
	if !ok {
		return shared.ErrNotFound
	}
	current.Source = ref
	l.refs[entryID] = current
	return nil
}

func existsSet(ids ...int64) ResolverFunc {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return func(ctx context.Context, id int64) (bool, error) {
		return set[id], nil
	}
}

func TestValidate(t *testing.T) {
	svc := NewService(nil, nil)
	svc.Register("students", "StudentFee", existsSet(123))
	ctx := context.Background()

	require.NoError(t, svc.Validate(ctx, "students", "StudentFee", 123))
	require.ErrorIs(t, svc.Validate(ctx, "students", "StudentFee", 999), ErrSourceMissing)
	require.ErrorIs(t, svc.Validate(ctx, "invalid", "InvalidModel", 1), ErrNotAllowlisted)
}

func TestScanOrphans(t *testing.T) {
	ledger := &memoryLedger{refs: map[int64]entryRef{
		1: {EntryID: 1, EntryNumber: "JE-0001", Source: Ref{Module: "students", Model: "StudentFee", ID: 123}},
		2: {EntryID: 2, EntryNumber: "JE-0002", Source: Ref{Module: "students", Model: "StudentFee", ID: 999}},
		3: {EntryID: 3, EntryNumber: "JE-0003", Source: Ref{Module: "legacy", Model: "Import", ID: 5}},
	}}
	svc := NewService(ledger, nil)
	svc.Register("students", "StudentFee", existsSet(123))

	orphans, err := svc.ScanOrphans(context.Background())
	require.NoError(t, err)
	require.Len(t, orphans, 2)
	require.Equal(t, "JE-0002", orphans[0].EntryNumber)
	require.Equal(t, "JE-0003", orphans[1].EntryNumber)
}

func TestScanOrphansCancellable(t *testing.T) {
	ledger := &memoryLedger{refs: map[int64]entryRef{
		1: {EntryID: 1, Source: Ref{Module: "students", Model: "StudentFee", ID: 1}},
	}}
	svc := NewService(ledger, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.ScanOrphans(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestBackfill(t *testing.T) {
	ledger := &memoryLedger{refs: map[int64]entryRef{
		2: {EntryID: 2, EntryNumber: "JE-0002", Source: Ref{Module: "legacy", Model: "Import", ID: 5}},
	}}
	svc := NewService(ledger, nil)
	svc.Register("students", "StudentFee", existsSet(123))
	ctx := context.Background()

	dry, err := svc.Backfill(ctx, 2, "students", "StudentFee", 123, true, "ops")
	require.NoError(t, err)
	require.True(t, dry.DryRun)
	require.Equal(t, "legacy", ledger.refs[2].Source.Module)

	result, err := svc.Backfill(ctx, 2, "students", "StudentFee", 123, false, "ops")
	require.NoError(t, err)
	require.Equal(t, Ref{Module: "legacy", Model: "Import", ID: 5}, result.Previous)
	require.Equal(t, "students", ledger.refs[2].Source.Module)

	_, err = svc.Backfill(ctx, 2, "students", "StudentFee", 999, false, "ops")
	require.ErrorIs(t, err, ErrSourceMissing)
}
