package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ledgergate/ledgergate/internal/accounting/accounts"
	"github.com/ledgergate/ledgergate/internal/accounting/periods"
	acctshared "github.com/ledgergate/ledgergate/internal/accounting/shared"
	"github.com/ledgergate/ledgergate/internal/idempotency"
	"github.com/ledgergate/ledgergate/internal/shared"
	"github.com/ledgergate/ledgergate/internal/switchboard"
)

type memoryRepo struct {
	entries    map[int64]JournalEntry
	nextID     int64
	nextNumber int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{entries: make(map[int64]JournalEntry)}
}

func (r *memoryRepo) GetEntry(ctx context.Context, id int64) (JournalEntry, error) {
	e, ok := r.entries[id]
	if !ok {
		return JournalEntry{}, acctshared.ErrEntryNotFound
	}
	return e, nil
}

func (r *memoryRepo) GetEntryByNumber(ctx context.Context, number string) (JournalEntry, error) {
	for _, e := range r.entries {
		if e.Number == number {
			return e, nil
		}
	}
	return JournalEntry{}, acctshared.ErrEntryNotFound
}

func (r *memoryRepo) GetEntryByIdempotencyKey(ctx context.Context, key string) (JournalEntry, error) {
	for _, e := range r.entries {
		if e.IdempotencyKey == key {
			return e, nil
		}
	}
	return JournalEntry{}, acctshared.ErrEntryNotFound
}

func (r *memoryRepo) ListEntries(ctx context.Context, p shared.Pagination) ([]JournalEntry, error) {
	var out []JournalEntry
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out, nil
}

func (r *memoryRepo) HasReversal(ctx context.Context, originalID int64) (bool, error) {
	for _, e := range r.entries {
		if e.IsReversal && e.OriginalEntryID != nil && *e.OriginalEntryID == originalID && e.Status != EntryStatusCancelled {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepo) LockPostedForSource(ctx context.Context, module, model string, lockedAt time.Time, lockedBy string) (int64, error) {
	var count int64
	for id, e := range r.entries {
		if e.Status == EntryStatusPosted && !e.IsLocked && e.SourceModule == module && e.SourceModel == model {
			e.IsLocked = true
			e.LockedAt = &lockedAt
			e.LockedBy = lockedBy
			r.entries[id] = e
			count++
		}
	}
	return count, nil
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	// Snapshot and restore on error, so a failing fn leaves no trace
	// including the minted number.
	backup := make(map[int64]JournalEntry, len(r.entries))
	for id, e := range r.entries {
		backup[id] = e
	}
	nextID, nextNumber := r.nextID, r.nextNumber
	if err := fn(ctx, (*memoryTx)(r)); err != nil {
		r.entries = backup
		r.nextID, r.nextNumber = nextID, nextNumber
		return err
	}
	return nil
}

type memoryTx memoryRepo

func (t *memoryTx) NextEntryNumber(ctx context.Context, prefix string) (string, error) {
	t.nextNumber++
	return fmt.Sprintf("%s-%04d", prefix, t.nextNumber), nil
}

func (t *memoryTx) InsertEntry(ctx context.Context, e *JournalEntry) error {
	// Mirror the partial unique index on non-empty idempotency keys.
	if e.IdempotencyKey != "" {
		for _, existing := range t.entries {
			if existing.IdempotencyKey == e.IdempotencyKey {
				return fmt.Errorf("%w: %s", acctshared.ErrEntryExists, e.IdempotencyKey)
			}
		}
	}
	t.nextID++
	e.ID = t.nextID
	for i := range e.Lines {
		e.Lines[i].EntryID = e.ID
		e.Lines[i].ID = int64(i + 1)
	}
	t.entries[e.ID] = *e
	return nil
}

func (t *memoryTx) GetEntryForUpdate(ctx context.Context, id int64) (JournalEntry, error) {
	e, ok := t.entries[id]
	if !ok {
		return JournalEntry{}, acctshared.ErrEntryNotFound
	}
	return e, nil
}

func (t *memoryTx) MarkPosted(ctx context.Context, id int64, postedAt time.Time, postedBy string, locked bool) error {
	e, ok := t.entries[id]
	if !ok || e.Status != EntryStatusDraft {
		return acctshared.ErrInvalidStatus
	}
	e.Status = EntryStatusPosted
	e.PostedAt = &postedAt
	e.PostedBy = postedBy
	e.IsLocked = locked
	if locked {
		e.LockedAt = &postedAt
		e.LockedBy = postedBy
	}
	t.entries[id] = e
	return nil
}

func (t *memoryTx) MarkCancelled(ctx context.Context, id int64, at time.Time) error {
	e, ok := t.entries[id]
	if !ok || e.Status != EntryStatusDraft {
		return acctshared.ErrInvalidStatus
	}
	e.Status = EntryStatusCancelled
	t.entries[id] = e
	return nil
}

func (t *memoryTx) HasReversal(ctx context.Context, originalID int64) (bool, error) {
	return (*memoryRepo)(t).HasReversal(ctx, originalID)
}

type memoryIdem struct {
	records map[string]idempotency.Record
}

func newMemoryIdem() *memoryIdem {
	return &memoryIdem{records: make(map[string]idempotency.Record)}
}

func (s *memoryIdem) key(op, key string) string { return op + "|" + key }

func (s *memoryIdem) Probe(ctx context.Context, op, key string) (idempotency.Outcome, error) {
	rec, ok := s.records[s.key(op, key)]
	if !ok {
		return idempotency.Outcome{}, nil
	}
	return idempotency.Outcome{Found: true, Status: rec.Status, Result: rec.ResultData, ErrorCode: rec.ErrorCode}, nil
}

func (s *memoryIdem) Begin(ctx context.Context, op, key string, contextData map[string]any, user string) (idempotency.Token, error) {
	k := s.key(op, key)
	if rec, ok := s.records[k]; ok && rec.Status != idempotency.StatusFailed {
		return idempotency.Token{}, idempotency.ErrKeyHeld
	}
	s.records[k] = idempotency.Record{OperationType: op, Key: key, Status: idempotency.StatusStarted, ContextData: contextData, User: user}
	return idempotency.Token{OperationType: op, Key: key}, nil
}

func (s *memoryIdem) Complete(ctx context.Context, token idempotency.Token, result map[string]any, ttl time.Duration) error {
	k := s.key(token.OperationType, token.Key)
	rec, ok := s.records[k]
	if !ok || rec.Status != idempotency.StatusStarted {
		return idempotency.ErrTokenStale
	}
	rec.Status = idempotency.StatusCompleted
	rec.ResultData = result
	s.records[k] = rec
	return nil
}

func (s *memoryIdem) Fail(ctx context.Context, token idempotency.Token, errorCode string) error {
	k := s.key(token.OperationType, token.Key)
	rec, ok := s.records[k]
	if !ok || rec.Status != idempotency.StatusStarted {
		return idempotency.ErrTokenStale
	}
	rec.Status = idempotency.StatusFailed
	rec.ErrorCode = errorCode
	s.records[k] = rec
	return nil
}

func (s *memoryIdem) Cleanup(ctx context.Context, now time.Time, batchSize int, maxAge time.Duration) (int64, error) {
	return 0, nil
}

func (s *memoryIdem) GetHealth(ctx context.Context) (idempotency.Health, error) {
	return idempotency.Health{Reachable: true}, nil
}

func (s *memoryIdem) GetStatistics(ctx context.Context) (idempotency.Statistics, error) {
	return idempotency.Statistics{}, nil
}

type fakeSources struct {
	existing map[string]bool
}

func (f *fakeSources) Validate(ctx context.Context, module, model string, id int64) error {
	if !f.existing[fmt.Sprintf("%s.%s:%d", module, model, id)] {
		return fmt.Errorf("source missing")
	}
	return nil
}

type fakeDirectory struct {
	accounts map[string]accounts.Account
}

func (f *fakeDirectory) LookupByCode(ctx context.Context, code string) (accounts.Account, error) {
	a, ok := f.accounts[code]
	if !ok {
		return accounts.Account{}, shared.ErrNotFound
	}
	return a, nil
}

type fakePeriods struct {
	periods []periods.Period
}

func (f *fakePeriods) FindOpenByDate(ctx context.Context, date time.Time) (periods.Period, error) {
	for _, p := range f.periods {
		if p.IsOpen() && p.Contains(date) {
			return p, nil
		}
	}
	return periods.Period{}, acctshared.ErrNoOpenPeriod
}

func (f *fakePeriods) FindAnyByDate(ctx context.Context, date time.Time) (periods.Period, error) {
	for _, p := range f.periods {
		if p.Contains(date) {
			return p, nil
		}
	}
	return periods.Period{}, acctshared.ErrNoOpenPeriod
}

func (f *fakePeriods) GetByID(ctx context.Context, id int64) (periods.Period, error) {
	for _, p := range f.periods {
		if p.ID == id {
			return p, nil
		}
	}
	return periods.Period{}, acctshared.ErrNoOpenPeriod
}

type fakeGovernance struct {
	workflows map[string]switchboard.WorkflowFlag
	refusals  map[string]error
}

func (f *fakeGovernance) WorkflowForSource(ctx context.Context, module, model string) (switchboard.WorkflowFlag, error) {
	for _, wf := range f.workflows {
		for _, b := range wf.SourceBindings {
			if b == module+"."+model {
				return wf, nil
			}
		}
	}
	return switchboard.WorkflowFlag{}, switchboard.ErrUnknownWorkflow
}

func (f *fakeGovernance) AuthorizeWorkflow(ctx context.Context, name string) error {
	return f.refusals[name]
}

type recordingAudit struct {
	records []shared.AuditRecord
}

func (a *recordingAudit) Record(ctx context.Context, rec shared.AuditRecord) error {
	a.records = append(a.records, rec)
	return nil
}

func (a *recordingAudit) ops() []string {
	out := make([]string, 0, len(a.records))
	for _, rec := range a.records {
		out = append(out, rec.Operation)
	}
	return out
}

type fixture struct {
	repo    *memoryRepo
	idem    *memoryIdem
	sources *fakeSources
	gov     *fakeGovernance
	audit   *recordingAudit
	svc     *Service
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	f := &fixture{
		repo: newMemoryRepo(),
		idem: newMemoryIdem(),
		sources: &fakeSources{existing: map[string]bool{
			"students.StudentFee:77": true,
			"inventory.Movement:5":   true,
		}},
		gov: &fakeGovernance{
			workflows: map[string]switchboard.WorkflowFlag{
				"student_fee_posting": {
					Name:           "student_fee_posting",
					Enabled:        true,
					HighPriority:   true,
					SourceBindings: []string{"students.StudentFee"},
				},
				"inventory_posting": {
					Name:           "inventory_posting",
					Enabled:        true,
					SourceBindings: []string{"inventory.Movement"},
				},
			},
			refusals: map[string]error{},
		},
		audit: &recordingAudit{},
		now:   now,
	}
	dir := &fakeDirectory{accounts: map[string]accounts.Account{
		"1010": {ID: 1, Code: "1010", IsActive: true, IsLeaf: true, IsPostable: true},
		"4010": {ID: 2, Code: "4010", IsActive: true, IsLeaf: true, IsPostable: true},
		"1000": {ID: 3, Code: "1000", IsActive: true, IsLeaf: false, IsPostable: false},
	}}
	periodPort := &fakePeriods{periods: []periods.Period{
		{ID: 1, Name: "2025-02", Status: periods.PeriodStatusClosed,
			StartDate: time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2025, time.February, 28, 0, 0, 0, 0, time.UTC)},
		{ID: 2, Name: "2025-03", Status: periods.PeriodStatusOpen,
			StartDate: time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2025, time.March, 31, 0, 0, 0, 0, time.UTC)},
	}}
	f.svc = NewService(f.repo, f.idem, f.sources, dir, periodPort, f.gov, f.audit, slog.Default())
	f.svc.WithNow(func() time.Time { return f.now })
	return f
}

func feeInput(key string) CreateEntryInput {
	return CreateEntryInput{
		SourceModule:   "students",
		SourceModel:    "StudentFee",
		SourceID:       77,
		IdempotencyKey: key,
		User:           "billing",
		Lines: []LineInput{
			{AccountCode: "1010", Debit: decimal.RequireFromString("150.00")},
			{AccountCode: "4010", Credit: decimal.RequireFromString("150.00")},
		},
	}
}

func TestCreateJournalEntryPostsAndLocks(t *testing.T) {
	f := newFixture(t)

	entry, err := f.svc.CreateJournalEntry(context.Background(), feeInput("fee-77"))
	require.NoError(t, err)
	require.Equal(t, "JE-0001", entry.Number)
	require.Equal(t, EntryStatusPosted, entry.Status)
	require.Equal(t, int64(2), entry.PeriodID)
	// High-priority workflow entries lock at posting time.
	require.True(t, entry.IsLocked)
	require.Contains(t, f.audit.ops(), "journal.create")

	out, err := f.idem.Probe(context.Background(), idempotency.OpJournalEntry, "fee-77")
	require.NoError(t, err)
	require.Equal(t, idempotency.StatusCompleted, out.Status)
}

func TestCreateJournalEntryReplaysOnSameKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreateJournalEntry(ctx, feeInput("fee-77"))
	require.NoError(t, err)

	second, err := f.svc.CreateJournalEntry(ctx, feeInput("fee-77"))
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, first.Number, second.Number)
	require.Len(t, f.repo.entries, 1)
}

func TestCreateJournalEntryRecoversCommittedEntryAfterReclaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreateJournalEntry(ctx, feeInput("fee-77"))
	require.NoError(t, err)

	// A crash between the ledger commit and the completion mark leaves a
	// STARTED record that eventually expires and is reclaimed. The retry
	// then collides with the committed entry's unique idempotency key.
	delete(f.idem.records, f.idem.key(idempotency.OpJournalEntry, "fee-77"))

	second, err := f.svc.CreateJournalEntry(ctx, feeInput("fee-77"))
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, first.Number, second.Number)
	require.Len(t, f.repo.entries, 1)

	// The record is completed, not failed, so later retries replay.
	out, err := f.idem.Probe(ctx, idempotency.OpJournalEntry, "fee-77")
	require.NoError(t, err)
	require.Equal(t, idempotency.StatusCompleted, out.Status)

	third, err := f.svc.CreateJournalEntry(ctx, feeInput("fee-77"))
	require.NoError(t, err)
	require.Equal(t, first.ID, third.ID)
}

func TestCreateJournalEntryRefusesDisabledWorkflow(t *testing.T) {
	f := newFixture(t)
	f.gov.refusals["student_fee_posting"] = switchboard.ErrWorkflowDisabled

	_, err := f.svc.CreateJournalEntry(context.Background(), feeInput("fee-77"))
	require.ErrorIs(t, err, acctshared.ErrWorkflowDisabled)
	require.Empty(t, f.repo.entries)
	require.Contains(t, f.audit.ops(), "journal.create.failed")
}

func TestCreateJournalEntryRefusesEmergency(t *testing.T) {
	f := newFixture(t)
	f.gov.refusals["student_fee_posting"] = switchboard.ErrEmergencyDisabled

	_, err := f.svc.CreateJournalEntry(context.Background(), feeInput("fee-77"))
	require.ErrorIs(t, err, acctshared.ErrEmergencyDisabled)
	require.Empty(t, f.repo.entries)
}

func TestCreateJournalEntryRejectsOrphanSource(t *testing.T) {
	f := newFixture(t)
	in := feeInput("fee-99")
	in.SourceID = 99

	_, err := f.svc.CreateJournalEntry(context.Background(), in)
	require.ErrorIs(t, err, acctshared.ErrInvalidSourceLinkage)
	require.Empty(t, f.repo.entries)
}

func TestCreateJournalEntryClosedPeriod(t *testing.T) {
	f := newFixture(t)
	in := feeInput("fee-feb")
	in.Date = time.Date(2025, time.February, 15, 0, 0, 0, 0, time.UTC)

	_, err := f.svc.CreateJournalEntry(context.Background(), in)
	require.ErrorIs(t, err, acctshared.ErrPeriodClosed)

	// The failure is recorded under the key and replayed on retry.
	out, probeErr := f.idem.Probe(context.Background(), idempotency.OpJournalEntry, "fee-feb")
	require.NoError(t, probeErr)
	require.Equal(t, idempotency.StatusFailed, out.Status)
	require.Equal(t, "PERIOD_CLOSED", out.ErrorCode)

	_, err = f.svc.CreateJournalEntry(context.Background(), in)
	require.ErrorIs(t, err, acctshared.ErrPeriodClosed)
	require.Empty(t, f.repo.entries)
}

func TestCreateJournalEntryUnbalancedCitesDifference(t *testing.T) {
	f := newFixture(t)
	in := feeInput("fee-unbal")
	in.Lines[1].Credit = decimal.RequireFromString("100.00")

	_, err := f.svc.CreateJournalEntry(context.Background(), in)
	require.ErrorIs(t, err, acctshared.ErrUnbalanced)
	require.Contains(t, err.Error(), "50.00")
	require.Empty(t, f.repo.entries)
}

func TestCreateJournalEntryRejectsTwoSidedLine(t *testing.T) {
	f := newFixture(t)
	in := feeInput("fee-twoside")
	in.Lines[0].Credit = decimal.RequireFromString("150.00")

	_, err := f.svc.CreateJournalEntry(context.Background(), in)
	require.ErrorIs(t, err, acctshared.ErrInvalidLine)
}

func TestCreateJournalEntryRejectsSingleLine(t *testing.T) {
	f := newFixture(t)
	in := feeInput("fee-oneline")
	in.Lines = in.Lines[:1]

	_, err := f.svc.CreateJournalEntry(context.Background(), in)
	require.ErrorIs(t, err, acctshared.ErrTooFewLines)
	require.Empty(t, f.repo.entries)
}

func TestCreateJournalEntryRejectsAllZeroLines(t *testing.T) {
	f := newFixture(t)
	in := feeInput("fee-zeros")
	in.Lines[0].Debit = decimal.Zero
	in.Lines[1].Credit = decimal.Zero

	_, err := f.svc.CreateJournalEntry(context.Background(), in)
	require.ErrorIs(t, err, acctshared.ErrInvalidLine)
	require.Empty(t, f.repo.entries)
}

func TestCreateJournalEntryRejectsNonPostableAccount(t *testing.T) {
	f := newFixture(t)
	in := feeInput("fee-group")
	in.Lines[0].AccountCode = "1000"

	_, err := f.svc.CreateJournalEntry(context.Background(), in)
	require.ErrorIs(t, err, acctshared.ErrInvalidAccount)
}

func TestCreateJournalEntryConcurrentKeyRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Simulate a racing writer holding the key.
	_, err := f.idem.Begin(ctx, idempotency.OpJournalEntry, "fee-77", nil, "other")
	require.NoError(t, err)

	_, err = f.svc.CreateJournalEntry(ctx, feeInput("fee-77"))
	require.ErrorIs(t, err, acctshared.ErrOperationInProgress)
	require.Empty(t, f.repo.entries)
}

func TestCreateReversalEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	original, err := f.svc.CreateJournalEntry(ctx, feeInput("fee-77"))
	require.NoError(t, err)

	f.now = f.now.Add(48 * time.Hour)
	reversal, err := f.svc.CreateReversalEntry(ctx, ReversalInput{
		OriginalEntryID: original.ID,
		Reason:          "billing error",
		User:            "controller",
		IdempotencyKey:  "rev-77",
	})
	require.NoError(t, err)
	require.Equal(t, "JE-0002", reversal.Number)
	require.True(t, reversal.IsReversal)
	require.Equal(t, original.ID, *reversal.OriginalEntryID)
	require.Equal(t, EntryStatusPosted, reversal.Status)
	// Debits and credits swap.
	require.True(t, reversal.Lines[0].Credit.Equal(original.Lines[0].Debit))
	require.True(t, reversal.Lines[1].Debit.Equal(original.Lines[1].Credit))

	// A second reversal of the same entry is refused.
	_, err = f.svc.CreateReversalEntry(ctx, ReversalInput{
		OriginalEntryID: original.ID,
		Reason:          "again",
		User:            "controller",
		IdempotencyKey:  "rev-77b",
	})
	require.ErrorIs(t, err, acctshared.ErrReversalNotAllowed)
}

func TestCreateReversalEntryPartial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	original, err := f.svc.CreateJournalEntry(ctx, feeInput("fee-77"))
	require.NoError(t, err)

	partial := decimal.RequireFromString("75.00")
	reversal, err := f.svc.CreateReversalEntry(ctx, ReversalInput{
		OriginalEntryID: original.ID,
		Reason:          "half refund",
		User:            "controller",
		IdempotencyKey:  "rev-partial",
		PartialAmount:   &partial,
	})
	require.NoError(t, err)
	require.True(t, reversal.Lines[0].Credit.Equal(partial))
	require.True(t, reversal.Lines[1].Debit.Equal(partial))
}

func TestCreateReversalEntryPartialRoundingStaysBalanced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Several tiny lines against one aggregate line force per-line
	// rounding drift when a partial amount is scaled through.
	in := feeInput("fee-cents")
	in.Lines = []LineInput{
		{AccountCode: "1010", Debit: decimal.RequireFromString("0.01")},
		{AccountCode: "1010", Debit: decimal.RequireFromString("0.01")},
		{AccountCode: "1010", Debit: decimal.RequireFromString("0.01")},
		{AccountCode: "4010", Credit: decimal.RequireFromString("0.03")},
	}
	original, err := f.svc.CreateJournalEntry(ctx, in)
	require.NoError(t, err)

	partial := decimal.RequireFromString("0.015")
	reversal, err := f.svc.CreateReversalEntry(ctx, ReversalInput{
		OriginalEntryID: original.ID,
		Reason:          "partial refund",
		User:            "controller",
		IdempotencyKey:  "rev-cents",
		PartialAmount:   &partial,
	})
	require.NoError(t, err)

	require.True(t, reversal.TotalDebit().Equal(reversal.TotalCredit()),
		"debits %s, credits %s", reversal.TotalDebit(), reversal.TotalCredit())
	require.True(t, reversal.TotalDebit().Equal(decimal.RequireFromString("0.02")))
	for i, line := range reversal.Lines {
		require.NotEqual(t, line.Debit.IsPositive(), line.Credit.IsPositive(),
			"line %d must carry exactly one side", i+1)
	}
}

func TestCreateReversalEntryPartialBelowScale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	original, err := f.svc.CreateJournalEntry(ctx, feeInput("fee-77"))
	require.NoError(t, err)

	// 0.001 rounds to zero at scale 2 and cannot be represented.
	partial := decimal.RequireFromString("0.001")
	_, err = f.svc.CreateReversalEntry(ctx, ReversalInput{
		OriginalEntryID: original.ID,
		Reason:          "sub-cent refund",
		User:            "controller",
		IdempotencyKey:  "rev-subcent",
		PartialAmount:   &partial,
	})
	require.ErrorIs(t, err, acctshared.ErrReversalNotAllowed)
	require.Len(t, f.repo.entries, 1)
}

func TestCreateReversalEntryPreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := feeInput("fee-draft")
	autoPost := false
	in.AutoPost = &autoPost
	draft, err := f.svc.CreateJournalEntry(ctx, in)
	require.NoError(t, err)
	require.Equal(t, EntryStatusDraft, draft.Status)

	_, err = f.svc.CreateReversalEntry(ctx, ReversalInput{
		OriginalEntryID: draft.ID,
		Reason:          "not posted",
		User:            "controller",
		IdempotencyKey:  "rev-draft",
	})
	require.ErrorIs(t, err, acctshared.ErrReversalNotAllowed)

	_, err = f.svc.CreateReversalEntry(ctx, ReversalInput{
		OriginalEntryID: draft.ID,
		User:            "controller",
		IdempotencyKey:  "rev-noreason",
	})
	require.ErrorIs(t, err, acctshared.ErrReversalNotAllowed)
}

func TestCreateReversalPostsIntoOpenPeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	original, err := f.svc.CreateJournalEntry(ctx, feeInput("fee-77"))
	require.NoError(t, err)

	// Time moves past the open period with no successor.
	f.now = time.Date(2025, time.May, 2, 0, 0, 0, 0, time.UTC)
	_, err = f.svc.CreateReversalEntry(ctx, ReversalInput{
		OriginalEntryID: original.ID,
		Reason:          "late fix",
		User:            "controller",
		IdempotencyKey:  "rev-late",
	})
	require.ErrorIs(t, err, acctshared.ErrNoOpenPeriod)
}

func TestPostAndCancelLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	autoPost := false
	in := feeInput("fee-manual")
	in.AutoPost = &autoPost
	draft, err := f.svc.CreateJournalEntry(ctx, in)
	require.NoError(t, err)
	require.Equal(t, EntryStatusDraft, draft.Status)
	require.False(t, draft.IsLocked)

	posted, err := f.svc.PostEntry(ctx, draft.ID, "supervisor")
	require.NoError(t, err)
	require.Equal(t, EntryStatusPosted, posted.Status)
	require.True(t, posted.IsLocked)

	// Posted entries cannot be cancelled.
	err = f.svc.CancelEntry(ctx, draft.ID, "supervisor")
	require.ErrorIs(t, err, acctshared.ErrPostedImmutable)
}

func TestCancelDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	autoPost := false
	in := feeInput("fee-cancel")
	in.AutoPost = &autoPost
	draft, err := f.svc.CreateJournalEntry(ctx, in)
	require.NoError(t, err)

	require.NoError(t, f.svc.CancelEntry(ctx, draft.ID, "supervisor"))
	got, err := f.svc.GetEntry(ctx, draft.ID)
	require.NoError(t, err)
	require.Equal(t, EntryStatusCancelled, got.Status)
}

func TestEnforcePeriodLocksForWorkflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.svc.CreateJournalEntry(ctx, CreateEntryInput{
		SourceModule:   "inventory",
		SourceModel:    "Movement",
		SourceID:       5,
		IdempotencyKey: "mv-5",
		User:           "stockkeeper",
		Lines: []LineInput{
			{AccountCode: "1010", Debit: decimal.RequireFromString("10.00")},
			{AccountCode: "4010", Credit: decimal.RequireFromString("10.00")},
		},
	})
	require.NoError(t, err)
	require.False(t, entry.IsLocked)

	count, err := f.svc.EnforcePeriodLocksForWorkflow(ctx, "inventory", "Movement", "closer")
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	got, err := f.svc.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	require.True(t, got.IsLocked)
}
