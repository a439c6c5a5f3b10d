package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ledgergate/ledgergate/internal/idempotency"
	"github.com/ledgergate/ledgergate/internal/switchboard"
)

type stubStore struct {
	health    idempotency.Health
	stats     idempotency.Statistics
	cleanups  []int64
	cleanupAt int
}

func (s *stubStore) GetHealth(ctx context.Context) (idempotency.Health, error) {
	return s.health, nil
}

func (s *stubStore) GetStatistics(ctx context.Context) (idempotency.Statistics, error) {
	return s.stats, nil
}

func (s *stubStore) Cleanup(ctx context.Context, now time.Time, batchSize int, maxAge time.Duration) (int64, error) {
	if s.cleanupAt >= len(s.cleanups) {
		return 0, nil
	}
	n := s.cleanups[s.cleanupAt]
	s.cleanupAt++
	return n, nil
}

type stubGovernance struct {
	snapshots []switchboard.Snapshot
	rolledTo  uuid.UUID
}

func (s *stubGovernance) CreateSnapshot(ctx context.Context, reason, user string) (switchboard.Snapshot, error) {
	snap := switchboard.Snapshot{ID: uuid.New(), Reason: reason, CreatedBy: user, Timestamp: time.Now()}
	s.snapshots = append(s.snapshots, snap)
	return snap, nil
}

func (s *stubGovernance) ListSnapshots(ctx context.Context, limit int) ([]switchboard.Snapshot, error) {
	return s.snapshots, nil
}

func (s *stubGovernance) RollbackToSnapshot(ctx context.Context, id uuid.UUID, reason, user string) error {
	s.rolledTo = id
	return nil
}

func TestOpsCLIHealthAndStats(t *testing.T) {
	var buf bytes.Buffer
	store := &stubStore{
		health: idempotency.Health{Reachable: true, StartedCount: 2},
		stats:  idempotency.Statistics{Completed: 10, Failed: 1},
	}
	ops := NewOpsCLI(store, nil, &buf)

	require.NoError(t, ops.Health(context.Background()))
	var health map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &health))
	require.Equal(t, true, health["reachable"])
	require.EqualValues(t, 2, health["started_count"])

	buf.Reset()
	require.NoError(t, ops.Stats(context.Background()))
	var stats map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &stats))
	require.EqualValues(t, 10, stats["completed"])
}

func TestOpsCLICleanupDrainsBatches(t *testing.T) {
	var buf bytes.Buffer
	store := &stubStore{cleanups: []int64{500, 500, 120}}
	ops := NewOpsCLI(store, nil, &buf)

	require.NoError(t, ops.Cleanup(context.Background(), 500, 90*24*time.Hour))
	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.EqualValues(t, 1120, out["removed"])
	require.Equal(t, 3, store.cleanupAt)
}

func TestOpsCLISnapshotLifecycle(t *testing.T) {
	var buf bytes.Buffer
	gov := &stubGovernance{}
	ops := NewOpsCLI(nil, gov, &buf)

	require.NoError(t, ops.SnapshotCreate(context.Background(), "before migration", "ops"))
	require.Len(t, gov.snapshots, 1)

	buf.Reset()
	require.NoError(t, ops.SnapshotList(context.Background(), 10))
	var list []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &list))
	require.Len(t, list, 1)

	buf.Reset()
	require.NoError(t, ops.Rollback(context.Background(), gov.snapshots[0].ID, "revert", "ops"))
	require.Equal(t, gov.snapshots[0].ID, gov.rolledTo)
}

func TestOpsCLIUnconfigured(t *testing.T) {
	var buf bytes.Buffer
	ops := NewOpsCLI(nil, nil, &buf)
	require.Error(t, ops.Health(context.Background()))
	require.Error(t, ops.SnapshotCreate(context.Background(), "r", "u"))
}
