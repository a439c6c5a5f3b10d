package periods

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	acctshared "github.com/ledgergate/ledgergate/internal/accounting/shared"
	"github.com/ledgergate/ledgergate/internal/shared"
)

type fakeEntry struct {
	ID     int64
	Number string
	Date   time.Time
	Posted bool
	Locked bool
}

type memoryRepo struct {
	periods map[int64]Period
	entries []*fakeEntry
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{periods: make(map[int64]Period)}
}

func (r *memoryRepo) FindOpenByDate(ctx context.Context, date time.Time) (Period, error) {
	for _, p := range r.periods {
		if p.IsOpen() && p.Contains(date) {
			return p, nil
		}
	}
	return Period{}, acctshared.ErrNoOpenPeriod
}

func (r *memoryRepo) FindAnyByDate(ctx context.Context, date time.Time) (Period, error) {
	for _, p := range r.periods {
		if p.Contains(date) {
			return p, nil
		}
	}
	return Period{}, acctshared.ErrNoOpenPeriod
}

func (r *memoryRepo) GetByID(ctx context.Context, id int64) (Period, error) {
	p, ok := r.periods[id]
	if !ok {
		return Period{}, acctshared.ErrNoOpenPeriod
	}
	return p, nil
}

func (r *memoryRepo) List(ctx context.Context) ([]Period, error) {
	var out []Period
	for _, p := range r.periods {
		out = append(out, p)
	}
	return out, nil
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memoryRepo) GetForUpdate(ctx context.Context, id int64) (Period, error) {
	return r.GetByID(ctx, id)
}

func (r *memoryRepo) SetClosed(ctx context.Context, id int64, closedAt time.Time, closedBy string) error {
	p, ok := r.periods[id]
	if !ok {
		return acctshared.ErrNoOpenPeriod
	}
	p.Status = PeriodStatusClosed
	p.ClosedAt = &closedAt
	p.ClosedBy = closedBy
	r.periods[id] = p
	return nil
}

func (r *memoryRepo) LockPostedEntriesInRange(ctx context.Context, start, end time.Time, lockedAt time.Time, lockedBy string) (int64, error) {
	var locked int64
	for _, e := range r.entries {
		if e.Posted && !e.Locked && !e.Date.Before(start) && !e.Date.After(end) {
			e.Locked = true
			locked++
		}
	}
	return locked, nil
}

func (r *memoryRepo) ListUnlockedPostedInRange(ctx context.Context, start, end time.Time) ([]ComplianceIssue, error) {
	var out []ComplianceIssue
	for _, e := range r.entries {
		if e.Posted && !e.Locked && !e.Date.Before(start) && !e.Date.After(end) {
			out = append(out, ComplianceIssue{EntryID: e.ID, EntryNumber: e.Number, Date: e.Date})
		}
	}
	return out, nil
}

type fakeAudit struct {
	records []shared.AuditRecord
}

func (a *fakeAudit) Record(ctx context.Context, rec shared.AuditRecord) error {
	a.records = append(a.records, rec)
	return nil
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newTestService(repo *memoryRepo) (*Service, *fakeAudit) {
	audit := &fakeAudit{}
	svc := NewService(repo, audit)
	svc.WithNow(func() time.Time { return day(2025, time.February, 10) })
	return svc, audit
}

func TestClosePeriodLocksPostedEntries(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	repo.periods[1] = Period{ID: 1, Name: "2025-01", StartDate: day(2025, time.January, 1),
		EndDate: day(2025, time.January, 31), Status: PeriodStatusOpen}
	repo.entries = []*fakeEntry{
		{ID: 1, Number: "JE-0001", Date: day(2025, time.January, 5), Posted: true},
		{ID: 2, Number: "JE-0002", Date: day(2025, time.January, 20), Posted: true},
		{ID: 3, Number: "JE-0003", Date: day(2025, time.February, 2), Posted: true},
		{ID: 4, Number: "JE-0004", Date: day(2025, time.January, 8), Posted: false},
	}
	svc, audit := newTestService(repo)

	summary, err := svc.ClosePeriod(ctx, 1, "controller")
	require.NoError(t, err)
	require.EqualValues(t, 2, summary.EntriesLocked)
	require.Equal(t, "controller", summary.ClosedBy)

	require.True(t, repo.entries[0].Locked)
	require.True(t, repo.entries[1].Locked)
	require.False(t, repo.entries[2].Locked, "entry outside the range must stay unlocked")
	require.False(t, repo.entries[3].Locked, "draft entries are never locked")

	require.Equal(t, PeriodStatusClosed, repo.periods[1].Status)
	require.Len(t, audit.records, 1)
	require.Equal(t, "period.close", audit.records[0].Operation)
}

func TestClosePeriodAlreadyClosed(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	closedAt := day(2025, time.February, 1)
	repo.periods[1] = Period{ID: 1, Name: "2025-01", StartDate: day(2025, time.January, 1),
		EndDate: day(2025, time.January, 31), Status: PeriodStatusClosed, ClosedAt: &closedAt}
	svc, _ := newTestService(repo)

	_, err := svc.ClosePeriod(ctx, 1, "controller")
	require.ErrorIs(t, err, acctshared.ErrPeriodClosed)
}

func TestClosePeriodRequiresUser(t *testing.T) {
	svc, _ := newTestService(newMemoryRepo())
	_, err := svc.ClosePeriod(context.Background(), 1, "")
	require.Error(t, err)
}

func TestFindOpenByDate(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	repo.periods[1] = Period{ID: 1, Name: "2025-01", StartDate: day(2025, time.January, 1),
		EndDate: day(2025, time.January, 31), Status: PeriodStatusClosed}
	repo.periods[2] = Period{ID: 2, Name: "2025-02", StartDate: day(2025, time.February, 1),
		EndDate: day(2025, time.February, 28), Status: PeriodStatusOpen}
	svc, _ := newTestService(repo)

	p, err := svc.FindOpenByDate(ctx, day(2025, time.February, 15))
	require.NoError(t, err)
	require.EqualValues(t, 2, p.ID)

	_, err = svc.FindOpenByDate(ctx, day(2025, time.January, 15))
	require.ErrorIs(t, err, acctshared.ErrNoOpenPeriod)

	p, err = svc.FindAnyByDate(ctx, day(2025, time.January, 15))
	require.NoError(t, err)
	require.EqualValues(t, 1, p.ID)
}

func TestValidateLockCompliance(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	repo.periods[1] = Period{ID: 1, Name: "2025-01", StartDate: day(2025, time.January, 1),
		EndDate: day(2025, time.January, 31), Status: PeriodStatusClosed}
	repo.entries = []*fakeEntry{
		{ID: 1, Number: "JE-0001", Date: day(2025, time.January, 5), Posted: true, Locked: true},
		{ID: 2, Number: "JE-0002", Date: day(2025, time.January, 20), Posted: true},
	}
	svc, _ := newTestService(repo)

	report, err := svc.ValidateLockCompliance(ctx, 1)
	require.NoError(t, err)
	require.False(t, report.Compliant)
	require.Len(t, report.Issues, 1)
	require.Equal(t, "JE-0002", report.Issues[0].EntryNumber)
}

func TestValidateLockComplianceOpenPeriod(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	repo.periods[1] = Period{ID: 1, Name: "2025-02", StartDate: day(2025, time.February, 1),
		EndDate: day(2025, time.February, 28), Status: PeriodStatusOpen}
	repo.entries = []*fakeEntry{
		{ID: 1, Number: "JE-0001", Date: day(2025, time.February, 5), Posted: true},
	}
	svc, _ := newTestService(repo)

	report, err := svc.ValidateLockCompliance(ctx, 1)
	require.NoError(t, err)
	require.True(t, report.Compliant)
	require.Empty(t, report.Issues)
}
