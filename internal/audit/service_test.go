package audit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	rows []TimelineRow
}

func (r *memoryRepo) filtered(filters TimelineFilters) []TimelineRow {
	var out []TimelineRow
	for _, row := range r.rows {
		if filters.Actor != "" && row.Actor != filters.Actor {
			continue
		}
		if filters.ModelName != "" && row.ModelName != filters.ModelName {
			continue
		}
		if filters.Operation != "" && row.Operation != filters.Operation {
			continue
		}
		if filters.ObjectID != "" && row.ObjectID != filters.ObjectID {
			continue
		}
		if !filters.From.IsZero() && row.At.Before(filters.From) {
			continue
		}
		if !filters.To.IsZero() && row.At.After(filters.To) {
			continue
		}
		out = append(out, row)
	}
	return out
}

func (r *memoryRepo) Window(ctx context.Context, filters TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	rows := r.filtered(filters)
	if offset >= len(rows) {
		return nil, nil
	}
	rows = rows[offset:]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (r *memoryRepo) All(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	return r.filtered(filters), nil
}

func seedRepo(n int) *memoryRepo {
	repo := &memoryRepo{}
	base := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		repo.rows = append(repo.rows, TimelineRow{
			ID:        int64(i + 1),
			At:        base.Add(time.Duration(i) * time.Hour),
			Actor:     "billing",
			Operation: "journal.create",
			ModelName: "JournalEntry",
			ObjectID:  "42",
		})
	}
	return repo
}

func TestTimelinePaging(t *testing.T) {
	svc := NewService(seedRepo(25))

	result, err := svc.Timeline(context.Background(), TimelineFilters{PageSize: 20})
	require.NoError(t, err)
	require.Len(t, result.Rows, 20)
	require.True(t, result.Paging.HasNext)
	require.Equal(t, 2, result.Paging.NextPage)

	result, err = svc.Timeline(context.Background(), TimelineFilters{Page: 2, PageSize: 20})
	require.NoError(t, err)
	require.Len(t, result.Rows, 5)
	require.False(t, result.Paging.HasNext)
	require.Equal(t, 1, result.Paging.PrevPage)
}

func TestTimelineClampsPageSize(t *testing.T) {
	svc := NewService(seedRepo(80))

	result, err := svc.Timeline(context.Background(), TimelineFilters{PageSize: 500})
	require.NoError(t, err)
	require.Len(t, result.Rows, 50)
}

func TestEntityHistory(t *testing.T) {
	repo := seedRepo(3)
	repo.rows = append(repo.rows, TimelineRow{
		ID: 99, Actor: "controller", Operation: "journal.reverse",
		ModelName: "JournalEntry", ObjectID: "7",
	})
	svc := NewService(repo)

	rows, err := svc.EntityHistory(context.Background(), "JournalEntry", "7")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "journal.reverse", rows[0].Operation)
}

func TestExportCSV(t *testing.T) {
	svc := NewService(seedRepo(2))

	data, err := svc.ExportCSV(context.Background(), TimelineFilters{})
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[0], "occurred_at")
	require.Contains(t, lines[1], "journal.create")
}
