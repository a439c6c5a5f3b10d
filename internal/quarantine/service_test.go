package quarantine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ledgergate/ledgergate/internal/shared"
)

type memoryRepo struct {
	records map[uuid.UUID]Record
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{records: make(map[uuid.UUID]Record)}
}

func (r *memoryRepo) Insert(ctx context.Context, rec Record) error {
	r.records[rec.ID] = rec
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	rec, ok := r.records[id]
	if !ok {
		return Record{}, shared.ErrNotFound
	}
	return rec, nil
}

func (r *memoryRepo) List(ctx context.Context, filter Filter) ([]Record, error) {
	var out []Record
	for _, rec := range r.records {
		if filter.CorruptionType != "" && rec.CorruptionType != filter.CorruptionType {
			continue
		}
		if filter.Confidence != "" && rec.Confidence != filter.Confidence {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *memoryRepo) SetStatus(ctx context.Context, id uuid.UUID, status Status, reviewedBy string, reviewedAt time.Time) error {
	rec, ok := r.records[id]
	if !ok || rec.Status != StatusQuarantined {
		return shared.ErrNotFound
	}
	rec.Status = status
	rec.ReviewedBy = reviewedBy
	rec.ReviewedAt = &reviewedAt
	r.records[id] = rec
	return nil
}

func (r *memoryRepo) CountByStatus(ctx context.Context, status Status) (int64, error) {
	var count int64
	for _, rec := range r.records {
		if rec.Status == status {
			count++
		}
	}
	return count, nil
}

func TestSubmitAndList(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	rec, err := svc.Submit(ctx, Submission{
		ModelName:      "JournalEntry",
		ObjectID:       "42",
		CorruptionType: CorruptionUnbalancedEntries,
		Confidence:     ConfidenceHigh,
		Reason:         "debits != credits",
		Evidence:       map[string]any{"difference": "50.00"},
		OriginalData:   map[string]any{"number": "JE-0042"},
		CreatedBy:      "repair",
	})
	require.NoError(t, err)
	require.Equal(t, StatusQuarantined, rec.Status)

	listed, err := svc.List(ctx, Filter{CorruptionType: CorruptionUnbalancedEntries, Confidence: ConfidenceHigh})
	require.NoError(t, err)
	require.Len(t, listed, 1)

	listed, err = svc.List(ctx, Filter{CorruptionType: CorruptionNegativeStock})
	require.NoError(t, err)
	require.Empty(t, listed)
}

func TestSubmitValidation(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)

	_, err := svc.Submit(context.Background(), Submission{ObjectID: "1", CorruptionType: CorruptionNegativeStock})
	require.Error(t, err)

	_, err = svc.Submit(context.Background(), Submission{ModelName: "Product", ObjectID: "1"})
	require.Error(t, err)
}

func TestReleaseIsTerminal(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	rec, err := svc.Submit(ctx, Submission{
		ModelName:      "Product",
		ObjectID:       "7",
		CorruptionType: CorruptionNegativeStock,
		Confidence:     ConfidenceMedium,
		CreatedBy:      "repair",
	})
	require.NoError(t, err)

	require.NoError(t, svc.Release(ctx, rec.ID, "reviewer"))
	got, err := svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusReleased, got.Status)
	require.Equal(t, "reviewer", got.ReviewedBy)

	// A reviewed record cannot transition again.
	require.ErrorIs(t, svc.Discard(ctx, rec.ID, "reviewer"), shared.ErrNotFound)
}

func TestPendingCount(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Submit(ctx, Submission{
			ModelName:      "JournalEntry",
			ObjectID:       uuid.NewString(),
			CorruptionType: CorruptionOrphanedJournalEntries,
		})
		require.NoError(t, err)
	}
	count, err := svc.PendingCount(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, count)
}
