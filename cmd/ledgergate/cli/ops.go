package cli

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/ledgergate/ledgergate/internal/idempotency"
	"github.com/ledgergate/ledgergate/internal/switchboard"
)

// StorePort is the slice of the idempotency store the CLI needs.
type StorePort interface {
	GetHealth(ctx context.Context) (idempotency.Health, error)
	GetStatistics(ctx context.Context) (idempotency.Statistics, error)
	Cleanup(ctx context.Context, now time.Time, batchSize int, maxAge time.Duration) (int64, error)
}

// GovernancePort is the slice of the switchboard the CLI needs.
type GovernancePort interface {
	CreateSnapshot(ctx context.Context, reason, user string) (switchboard.Snapshot, error)
	ListSnapshots(ctx context.Context, limit int) ([]switchboard.Snapshot, error)
	RollbackToSnapshot(ctx context.Context, id uuid.UUID, reason, user string) error
}

// OpsCLI offers operational helpers against a running deployment's
// database: store health, snapshots and retention.
type OpsCLI struct {
	store      StorePort
	governance GovernancePort
	out        io.Writer
}

// NewOpsCLI constructs the helper.
func NewOpsCLI(store StorePort, governance GovernancePort, out io.Writer) *OpsCLI {
	return &OpsCLI{store: store, governance: governance, out: out}
}

func (c *OpsCLI) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Health prints store liveness.
func (c *OpsCLI) Health(ctx context.Context) error {
	if c == nil || c.store == nil {
		return errors.New("ops cli: store not configured")
	}
	health, err := c.store.GetHealth(ctx)
	if err != nil {
		return err
	}
	return c.print(map[string]any{
		"reachable":     health.Reachable,
		"started_count": health.StartedCount,
		"oldest_active": health.OldestActive,
	})
}

// Stats prints record counts by status.
func (c *OpsCLI) Stats(ctx context.Context) error {
	if c == nil || c.store == nil {
		return errors.New("ops cli: store not configured")
	}
	stats, err := c.store.GetStatistics(ctx)
	if err != nil {
		return err
	}
	return c.print(map[string]any{
		"started":   stats.Started,
		"completed": stats.Completed,
		"failed":    stats.Failed,
		"expired":   stats.Expired,
	})
}

// Cleanup prunes terminal idempotency records older than maxAge.
func (c *OpsCLI) Cleanup(ctx context.Context, batchSize int, maxAge time.Duration) error {
	if c == nil || c.store == nil {
		return errors.New("ops cli: store not configured")
	}
	var total int64
	for {
		n, err := c.store.Cleanup(ctx, time.Now().UTC(), batchSize, maxAge)
		if err != nil {
			return err
		}
		total += n
		if n < int64(batchSize) {
			break
		}
	}
	return c.print(map[string]any{"removed": total})
}

// SnapshotCreate captures the current flag state.
func (c *OpsCLI) SnapshotCreate(ctx context.Context, reason, user string) error {
	if c == nil || c.governance == nil {
		return errors.New("ops cli: governance not configured")
	}
	snap, err := c.governance.CreateSnapshot(ctx, reason, user)
	if err != nil {
		return err
	}
	return c.print(map[string]any{"id": snap.ID, "timestamp": snap.Timestamp, "reason": snap.Reason})
}

// SnapshotList prints the most recent snapshots.
func (c *OpsCLI) SnapshotList(ctx context.Context, limit int) error {
	if c == nil || c.governance == nil {
		return errors.New("ops cli: governance not configured")
	}
	snapshots, err := c.governance.ListSnapshots(ctx, limit)
	if err != nil {
		return err
	}
	out := make([]map[string]any, 0, len(snapshots))
	for _, snap := range snapshots {
		out = append(out, map[string]any{
			"id":         snap.ID,
			"timestamp":  snap.Timestamp,
			"reason":     snap.Reason,
			"created_by": snap.CreatedBy,
		})
	}
	return c.print(out)
}

// Rollback restores flag state from a snapshot.
func (c *OpsCLI) Rollback(ctx context.Context, id uuid.UUID, reason, user string) error {
	if c == nil || c.governance == nil {
		return errors.New("ops cli: governance not configured")
	}
	if err := c.governance.RollbackToSnapshot(ctx, id, reason, user); err != nil {
		return err
	}
	return c.print(map[string]any{"snapshot_id": id, "rolled_back": true})
}
