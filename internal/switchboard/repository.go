package switchboard

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgergate/ledgergate/internal/shared"
)

// Repository persists switchboard state. Writers serialise through the
// snapshot/rollback path; reads are cheap and frequent.
type Repository interface {
	LoadState(ctx context.Context) (State, error)
	SetComponent(ctx context.Context, name string, enabled bool) error
	SetWorkflow(ctx context.Context, name string, enabled bool) error
	SetEmergency(ctx context.Context, name string, active bool) error
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	GetSnapshot(ctx context.Context, id uuid.UUID) (Snapshot, error)
	ListSnapshots(ctx context.Context, limit int) ([]Snapshot, error)
	RestoreState(ctx context.Context, snap Snapshot) error
	RecordViolation(ctx context.Context, v Violation) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository builds the PostgreSQL-backed repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) LoadState(ctx context.Context) (State, error) {
	state := State{
		Components:  make(map[string]ComponentFlag),
		Workflows:   make(map[string]WorkflowFlag),
		Emergencies: make(map[string]EmergencyFlag),
	}
	rows, err := r.db.Query(ctx, `SELECT name, enabled, default_enabled, critical, risk_level, updated_at FROM component_flags`)
	if err != nil {
		return State{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var f ComponentFlag
		if err := rows.Scan(&f.Name, &f.Enabled, &f.Default, &f.Critical, &f.RiskLevel, &f.UpdatedAt); err != nil {
			return State{}, err
		}
		state.Components[f.Name] = f
	}
	if err := rows.Err(); err != nil {
		return State{}, err
	}

	wrows, err := r.db.Query(ctx, `SELECT name, enabled, component_dependencies, corruption_prevention, source_bindings, high_priority, updated_at FROM workflow_flags`)
	if err != nil {
		return State{}, err
	}
	defer wrows.Close()
	for wrows.Next() {
		var f WorkflowFlag
		if err := wrows.Scan(&f.Name, &f.Enabled, &f.ComponentDependencies, &f.CorruptionPrevention, &f.SourceBindings, &f.HighPriority, &f.UpdatedAt); err != nil {
			return State{}, err
		}
		state.Workflows[f.Name] = f
	}
	if err := wrows.Err(); err != nil {
		return State{}, err
	}

	erows, err := r.db.Query(ctx, `SELECT name, active, covers, updated_at FROM emergency_flags`)
	if err != nil {
		return State{}, err
	}
	defer erows.Close()
	for erows.Next() {
		var f EmergencyFlag
		if err := erows.Scan(&f.Name, &f.Active, &f.Covers, &f.UpdatedAt); err != nil {
			return State{}, err
		}
		state.Emergencies[f.Name] = f
	}
	return state, erows.Err()
}

func (r *repository) SetComponent(ctx context.Context, name string, enabled bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE component_flags SET enabled=$2, updated_at=NOW() WHERE name=$1`, name, enabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) SetWorkflow(ctx context.Context, name string, enabled bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE workflow_flags SET enabled=$2, updated_at=NOW() WHERE name=$1`, name, enabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) SetEmergency(ctx context.Context, name string, active bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE emergency_flags SET active=$2, updated_at=NOW() WHERE name=$1`, name, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	components, err := json.Marshal(snap.ComponentFlags)
	if err != nil {
		return err
	}
	workflows, err := json.Marshal(snap.WorkflowFlags)
	if err != nil {
		return err
	}
	emergencies, err := json.Marshal(snap.EmergencyFlags)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO switchboard_snapshots (id, created_at, reason, created_by, component_flags, workflow_flags, emergency_flags)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, snap.ID, snap.Timestamp, snap.Reason, snap.CreatedBy, components, workflows, emergencies)
	return err
}

func (r *repository) GetSnapshot(ctx context.Context, id uuid.UUID) (Snapshot, error) {
	row := r.db.QueryRow(ctx, `SELECT id, created_at, reason, created_by, component_flags, workflow_flags, emergency_flags
FROM switchboard_snapshots WHERE id=$1`, id)
	snap, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, shared.ErrNotFound
		}
		return Snapshot{}, err
	}
	return snap, nil
}

func (r *repository) ListSnapshots(ctx context.Context, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(ctx, `SELECT id, created_at, reason, created_by, component_flags, workflow_flags, emergency_flags
FROM switchboard_snapshots ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func scanSnapshot(row pgx.Row) (Snapshot, error) {
	var snap Snapshot
	var components, workflows, emergencies []byte
	if err := row.Scan(&snap.ID, &snap.Timestamp, &snap.Reason, &snap.CreatedBy, &components, &workflows, &emergencies); err != nil {
		return Snapshot{}, err
	}
	if err := json.Unmarshal(components, &snap.ComponentFlags); err != nil {
		return Snapshot{}, err
	}
	if err := json.Unmarshal(workflows, &snap.WorkflowFlags); err != nil {
		return Snapshot{}, err
	}
	if err := json.Unmarshal(emergencies, &snap.EmergencyFlags); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// RestoreState applies every flag value from the snapshot in one transaction.
func (r *repository) RestoreState(ctx context.Context, snap Snapshot) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	for name, enabled := range snap.ComponentFlags {
		if _, err := tx.Exec(ctx, `UPDATE component_flags SET enabled=$2, updated_at=NOW() WHERE name=$1`, name, enabled); err != nil {
			return err
		}
	}
	for name, enabled := range snap.WorkflowFlags {
		if _, err := tx.Exec(ctx, `UPDATE workflow_flags SET enabled=$2, updated_at=NOW() WHERE name=$1`, name, enabled); err != nil {
			return err
		}
	}
	for name, active := range snap.EmergencyFlags {
		if _, err := tx.Exec(ctx, `UPDATE emergency_flags SET active=$2, updated_at=NOW() WHERE name=$1`, name, active); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *repository) RecordViolation(ctx context.Context, v Violation) error {
	details, err := json.Marshal(v.Details)
	if err != nil {
		return err
	}
	at := v.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err = r.db.Exec(ctx, `INSERT INTO switchboard_violations (violation_type, details, created_at) VALUES ($1, $2, $3)`,
		v.Type, details, at)
	return err
}
