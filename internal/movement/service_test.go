package movement

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ledgergate/ledgergate/internal/accounting/gateway"
	acctshared "github.com/ledgergate/ledgergate/internal/accounting/shared"
	"github.com/ledgergate/ledgergate/internal/idempotency"
	"github.com/ledgergate/ledgergate/internal/shared"
)

type memoryRepo struct {
	movements map[int64]StockMovement
	balances  map[int64]decimal.Decimal
	nextID    int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		movements: make(map[int64]StockMovement),
		balances:  make(map[int64]decimal.Decimal),
	}
}

func (r *memoryRepo) GetMovement(ctx context.Context, id int64) (StockMovement, error) {
	m, ok := r.movements[id]
	if !ok {
		return StockMovement{}, shared.ErrNotFound
	}
	return m, nil
}

func (r *memoryRepo) ListByProduct(ctx context.Context, productID int64, limit int) ([]StockMovement, error) {
	var out []StockMovement
	for _, m := range r.movements {
		if m.ProductID == productID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memoryRepo) NegativeBalances(ctx context.Context) ([]Balance, error) {
	var out []Balance
	for id, qty := range r.balances {
		if qty.IsNegative() {
			out = append(out, Balance{ProductID: id, Quantity: qty})
		}
	}
	return out, nil
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	backupMovements := make(map[int64]StockMovement, len(r.movements))
	for id, m := range r.movements {
		backupMovements[id] = m
	}
	backupBalances := make(map[int64]decimal.Decimal, len(r.balances))
	for id, b := range r.balances {
		backupBalances[id] = b
	}
	nextID := r.nextID
	if err := fn(ctx, (*memoryTx)(r)); err != nil {
		r.movements = backupMovements
		r.balances = backupBalances
		r.nextID = nextID
		return err
	}
	return nil
}

type memoryTx memoryRepo

func (t *memoryTx) BalanceForUpdate(ctx context.Context, productID int64) (decimal.Decimal, error) {
	if b, ok := t.balances[productID]; ok {
		return b, nil
	}
	t.balances[productID] = decimal.Zero
	return decimal.Zero, nil
}

func (t *memoryTx) SetBalance(ctx context.Context, productID int64, quantity decimal.Decimal, at time.Time) error {
	t.balances[productID] = quantity
	return nil
}

func (t *memoryTx) InsertMovement(ctx context.Context, m *StockMovement) error {
	t.nextID++
	m.ID = t.nextID
	t.movements[m.ID] = *m
	return nil
}

type fakeCatalog struct {
	products map[int64]Product
}

func (f *fakeCatalog) Lookup(ctx context.Context, id int64) (Product, error) {
	p, ok := f.products[id]
	if !ok {
		return Product{}, shared.ErrNotFound
	}
	return p, nil
}

type memoryIdem struct {
	records map[string]idempotency.Record
}

func newMemoryIdem() *memoryIdem {
	return &memoryIdem{records: make(map[string]idempotency.Record)}
}

func (s *memoryIdem) Probe(ctx context.Context, op, key string) (idempotency.Outcome, error) {
	rec, ok := s.records[op+"|"+key]
	if !ok {
		return idempotency.Outcome{}, nil
	}
	return idempotency.Outcome{Found: true, Status: rec.Status, Result: rec.ResultData, ErrorCode: rec.ErrorCode}, nil
}

func (s *memoryIdem) Begin(ctx context.Context, op, key string, contextData map[string]any, user string) (idempotency.Token, error) {
	k := op + "|" + key
	if rec, ok := s.records[k]; ok && rec.Status != idempotency.StatusFailed {
		return idempotency.Token{}, idempotency.ErrKeyHeld
	}
	s.records[k] = idempotency.Record{OperationType: op, Key: key, Status: idempotency.StatusStarted}
	return idempotency.Token{OperationType: op, Key: key}, nil
}

func (s *memoryIdem) Complete(ctx context.Context, token idempotency.Token, result map[string]any, ttl time.Duration) error {
	k := token.OperationType + "|" + token.Key
	rec := s.records[k]
	rec.Status = idempotency.StatusCompleted
	rec.ResultData = result
	s.records[k] = rec
	return nil
}

func (s *memoryIdem) Fail(ctx context.Context, token idempotency.Token, errorCode string) error {
	k := token.OperationType + "|" + token.Key
	rec := s.records[k]
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

type recordingAudit struct {
	records []shared.AuditRecord
}

func (a *recordingAudit) Record(ctx context.Context, rec shared.AuditRecord) error {
	a.records = append(a.records, rec)
	return nil
}

type fakeJournal struct {
	inputs []gateway.CreateEntryInput
	err    error
}

func (f *fakeJournal) CreateJournalEntry(ctx context.Context, in gateway.CreateEntryInput) (gateway.JournalEntry, error) {
	f.inputs = append(f.inputs, in)
	return gateway.JournalEntry{ID: 1, Number: "JE-0001"}, f.err
}

func newService(t *testing.T) (*Service, *memoryRepo, *memoryIdem, *recordingAudit) {
	t.Helper()
	repo := newMemoryRepo()
	idem := newMemoryIdem()
	audit := &recordingAudit{}
	catalog := &fakeCatalog{products: map[int64]Product{
		1: {ID: 1, Code: "WIDGET", Type: ProductGoods, IsActive: true},
		2: {ID: 2, Code: "CONSULTING", Type: ProductService, IsActive: true},
		3: {ID: 3, Code: "RETIRED", Type: ProductGoods, IsActive: false},
	}}
	svc := NewService(repo, catalog, idem, audit, slog.Default())
	svc.WithNow(func() time.Time {
		return time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	})
	return svc, repo, idem, audit
}

func inbound(key string, qty string) MovementInput {
	return MovementInput{
		ProductID:       1,
		QuantityChange:  decimal.RequireFromString(qty),
		MovementType:    MovementIn,
		SourceReference: "GRN-1",
		IdempotencyKey:  key,
		User:            "stockkeeper",
	}
}

func TestProcessMovement(t *testing.T) {
	svc, repo, _, audit := newService(t)
	ctx := context.Background()

	m, err := svc.ProcessMovement(ctx, inbound("mv-1", "10"))
	require.NoError(t, err)
	require.Equal(t, "WIDGET", m.ProductCode)
	require.True(t, m.BalanceAfter.Equal(decimal.RequireFromString("10")))
	require.True(t, repo.balances[1].Equal(decimal.RequireFromString("10")))
	require.Len(t, audit.records, 1)
	require.Equal(t, "movement.process", audit.records[0].Operation)
}

func TestProcessMovementReplays(t *testing.T) {
	svc, repo, _, _ := newService(t)
	ctx := context.Background()

	first, err := svc.ProcessMovement(ctx, inbound("mv-1", "10"))
	require.NoError(t, err)

	second, err := svc.ProcessMovement(ctx, inbound("mv-1", "10"))
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Len(t, repo.movements, 1)
	// Balance applied once.
	require.True(t, repo.balances[1].Equal(decimal.RequireFromString("10")))
}

func TestProcessMovementRejectsServiceProduct(t *testing.T) {
	svc, repo, _, _ := newService(t)
	in := inbound("mv-svc", "5")
	in.ProductID = 2

	_, err := svc.ProcessMovement(context.Background(), in)
	require.ErrorIs(t, err, ErrServiceProduct)
	require.Empty(t, repo.movements)
}

func TestProcessMovementRejectsInactiveProduct(t *testing.T) {
	svc, _, _, _ := newService(t)
	in := inbound("mv-old", "5")
	in.ProductID = 3

	_, err := svc.ProcessMovement(context.Background(), in)
	require.ErrorIs(t, err, ErrProductInactive)
}

func TestProcessMovementRefusesNegativeStock(t *testing.T) {
	svc, repo, idem, _ := newService(t)
	ctx := context.Background()

	_, err := svc.ProcessMovement(ctx, inbound("mv-in", "3"))
	require.NoError(t, err)

	out := inbound("mv-out", "-5")
	out.MovementType = MovementOut
	_, err = svc.ProcessMovement(ctx, out)
	require.ErrorIs(t, err, acctshared.ErrNegativeStock)

	// Stock unchanged, no movement row, failure recorded under the key.
	require.True(t, repo.balances[1].Equal(decimal.RequireFromString("3")))
	require.Len(t, repo.movements, 1)
	probe, err := idem.Probe(ctx, idempotency.OpStockMovement, "mv-out")
	require.NoError(t, err)
	require.Equal(t, idempotency.StatusFailed, probe.Status)
	require.Equal(t, "NEGATIVE_STOCK", probe.ErrorCode)
}

func TestProcessMovementAuthorizedAdjustmentGoesNegative(t *testing.T) {
	svc, repo, _, _ := newService(t)
	ctx := context.Background()

	in := inbound("mv-adj", "-4")
	in.MovementType = MovementAdjustment
	in.AuthorizeNegative = true

	m, err := svc.ProcessMovement(ctx, in)
	require.NoError(t, err)
	require.True(t, m.BalanceAfter.Equal(decimal.RequireFromString("-4")))

	negatives, err := repo.NegativeBalances(ctx)
	require.NoError(t, err)
	require.Len(t, negatives, 1)
}

func TestProcessMovementUnauthorizedAdjustmentRefused(t *testing.T) {
	svc, _, _, _ := newService(t)

	in := inbound("mv-adj2", "-4")
	in.MovementType = MovementAdjustment

	_, err := svc.ProcessMovement(context.Background(), in)
	require.ErrorIs(t, err, acctshared.ErrNegativeStock)
}

func TestProcessMovementConcurrentKeyRefused(t *testing.T) {
	svc, _, idem, _ := newService(t)
	ctx := context.Background()

	_, err := idem.Begin(ctx, idempotency.OpStockMovement, "mv-race", nil, "other")
	require.NoError(t, err)

	_, err = svc.ProcessMovement(ctx, inbound("mv-race", "1"))
	require.ErrorIs(t, err, acctshared.ErrOperationInProgress)
}

func TestProcessMovementPairsJournalEntry(t *testing.T) {
	svc, _, _, _ := newService(t)
	journal := &fakeJournal{}
	svc.WithJournalPairing(journal, func(m StockMovement) (gateway.CreateEntryInput, bool) {
		return gateway.CreateEntryInput{
			SourceModule: "inventory",
			SourceModel:  "Movement",
			SourceID:     m.ID,
		}, true
	})

	m, err := svc.ProcessMovement(context.Background(), inbound("mv-je", "2"))
	require.NoError(t, err)
	require.Len(t, journal.inputs, 1)
	require.Equal(t, idempotency.MovementJournalKey(m.IdempotencyKey), journal.inputs[0].IdempotencyKey)
	require.Equal(t, m.CreatedBy, journal.inputs[0].User)
}
