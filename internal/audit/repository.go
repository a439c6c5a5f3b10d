package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads the append-only audit trail. There is deliberately no
// write surface here; writes go through shared.AuditLogger only.
type Repository interface {
	Window(ctx context.Context, filters TimelineFilters, offset, limit int) ([]TimelineRow, error)
	All(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository builds the PostgreSQL-backed repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const timelineColumns = `id, occurred_at, actor, service, operation, model_name, object_id, before_data, after_data`

func buildFilter(filters TimelineFilters) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if !filters.From.IsZero() {
		add("occurred_at >= $%d", filters.From)
	}
	if !filters.To.IsZero() {
		add("occurred_at <= $%d", filters.To)
	}
	if v := strings.TrimSpace(filters.Actor); v != "" {
		add("actor = $%d", v)
	}
	if v := strings.TrimSpace(filters.ModelName); v != "" {
		add("model_name = $%d", v)
	}
	if v := strings.TrimSpace(filters.Operation); v != "" {
		add("operation = $%d", v)
	}
	if v := strings.TrimSpace(filters.ObjectID); v != "" {
		add("object_id = $%d", v)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanRows(rows pgx.Rows) ([]TimelineRow, error) {
	defer rows.Close()
	var out []TimelineRow
	for rows.Next() {
		var row TimelineRow
		var before, after []byte
		if err := rows.Scan(&row.ID, &row.At, &row.Actor, &row.Service, &row.Operation,
			&row.ModelName, &row.ObjectID, &before, &after); err != nil {
			return nil, err
		}
		if len(before) > 0 {
			_ = json.Unmarshal(before, &row.Before)
		}
		if len(after) > 0 {
			_ = json.Unmarshal(after, &row.After)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *repository) Window(ctx context.Context, filters TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	where, args := buildFilter(filters)
	query := fmt.Sprintf(`SELECT %s FROM audit_trail%s ORDER BY occurred_at DESC, id DESC OFFSET $%d LIMIT $%d`,
		timelineColumns, where, len(args)+1, len(args)+2)
	args = append(args, offset, limit)
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanRows(rows)
}

func (r *repository) All(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	where, args := buildFilter(filters)
	query := `SELECT ` + timelineColumns + ` FROM audit_trail` + where + ` ORDER BY occurred_at DESC, id DESC`
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanRows(rows)
}
