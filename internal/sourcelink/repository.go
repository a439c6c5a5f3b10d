package sourcelink

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgergate/ledgergate/internal/shared"
)

// LedgerPort is the read/repair surface over journal entry source triples.
type LedgerPort interface {
	ListEntryRefsAfter(ctx context.Context, afterID int64, limit int) ([]entryRef, error)
	GetEntryRef(ctx context.Context, entryID int64) (entryRef, error)
	UpdateSourceTriple(ctx context.Context, entryID int64, ref Ref) error
}

type entryRef struct {
	EntryID     int64
	EntryNumber string
	Source      Ref
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository builds the PostgreSQL-backed ledger port.
func NewRepository(db *pgxpool.Pool) LedgerPort {
	return &repository{db: db}
}

func (r *repository) ListEntryRefsAfter(ctx context.Context, afterID int64, limit int) ([]entryRef, error) {
	rows, err := r.db.Query(ctx, `SELECT id, number, source_module, source_model, source_id
FROM journal_entries WHERE id > $1 ORDER BY id ASC LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []entryRef
	for rows.Next() {
		var ref entryRef
		if err := rows.Scan(&ref.EntryID, &ref.EntryNumber, &ref.Source.Module, &ref.Source.Model, &ref.Source.ID); err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

func (r *repository) GetEntryRef(ctx context.Context, entryID int64) (entryRef, error) {
	var ref entryRef
	err := r.db.QueryRow(ctx, `SELECT id, number, source_module, source_model, source_id
FROM journal_entries WHERE id=$1`, entryID).
		Scan(&ref.EntryID, &ref.EntryNumber, &ref.Source.Module, &ref.Source.Model, &ref.Source.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return entryRef{}, shared.ErrNotFound
		}
		return entryRef{}, err
	}
	return ref, nil
}

func (r *repository) UpdateSourceTriple(ctx context.Context, entryID int64, ref Ref) error {
	tag, err := r.db.Exec(ctx, `UPDATE journal_entries SET source_module=$2, source_model=$3, source_id=$4, updated_at=NOW() WHERE id=$1`,
		entryID, ref.Module, ref.Model, ref.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
