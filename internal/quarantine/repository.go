package quarantine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgergate/ledgergate/internal/shared"
)

// Repository persists quarantine records.
type Repository interface {
	Insert(ctx context.Context, rec Record) error
	Get(ctx context.Context, id uuid.UUID) (Record, error)
	List(ctx context.Context, filter Filter) ([]Record, error)
	SetStatus(ctx context.Context, id uuid.UUID, status Status, reviewedBy string, reviewedAt time.Time) error
	CountByStatus(ctx context.Context, status Status) (int64, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository builds the PostgreSQL-backed repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) Insert(ctx context.Context, rec Record) error {
	evidence, err := json.Marshal(rec.Evidence)
	if err != nil {
		return err
	}
	original, err := json.Marshal(rec.OriginalData)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO quarantine_records
(id, model_name, object_id, corruption_type, confidence, reason, evidence, original_data, status, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.ModelName, rec.ObjectID, rec.CorruptionType, rec.Confidence, rec.Reason,
		evidence, original, rec.Status, rec.CreatedBy, rec.CreatedAt)
	return err
}

const recordColumns = `id, model_name, object_id, corruption_type, confidence, reason, evidence, original_data, status, created_by, created_at, reviewed_by, reviewed_at`

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	var evidence, original []byte
	var reviewedBy *string
	err := row.Scan(&rec.ID, &rec.ModelName, &rec.ObjectID, &rec.CorruptionType, &rec.Confidence, &rec.Reason,
		&evidence, &original, &rec.Status, &rec.CreatedBy, &rec.CreatedAt, &reviewedBy, &rec.ReviewedAt)
	if err != nil {
		return Record{}, err
	}
	if len(evidence) > 0 {
		_ = json.Unmarshal(evidence, &rec.Evidence)
	}
	if len(original) > 0 {
		_ = json.Unmarshal(original, &rec.OriginalData)
	}
	if reviewedBy != nil {
		rec.ReviewedBy = *reviewedBy
	}
	return rec, nil
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	row := r.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM quarantine_records WHERE id=$1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, shared.ErrNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

func (r *repository) List(ctx context.Context, filter Filter) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM quarantine_records WHERE 1=1`
	args := []any{}
	idx := 1
	if filter.CorruptionType != "" {
		query += fmt.Sprintf(" AND corruption_type=$%d", idx)
		args = append(args, filter.CorruptionType)
		idx++
	}
	if filter.Confidence != "" {
		query += fmt.Sprintf(" AND confidence=$%d", idx)
		args = append(args, filter.Confidence)
		idx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status=$%d", idx)
		args = append(args, filter.Status)
		idx++
	}
	if filter.OlderThan > 0 {
		query += fmt.Sprintf(" AND created_at < NOW() - $%d::interval", idx)
		args = append(args, fmt.Sprintf("%d seconds", int(filter.OlderThan.Seconds())))
		idx++
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", idx)
	args = append(args, limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *repository) SetStatus(ctx context.Context, id uuid.UUID, status Status, reviewedBy string, reviewedAt time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE quarantine_records SET status=$2, reviewed_by=$3, reviewed_at=$4 WHERE id=$1 AND status='QUARANTINED'`,
		id, status, reviewedBy, reviewedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) CountByStatus(ctx context.Context, status Status) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM quarantine_records WHERE status=$1`, status).Scan(&count)
	return count, err
}
