package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	acctshared "github.com/ledgergate/ledgergate/internal/accounting/shared"
	"github.com/ledgergate/ledgergate/internal/platform/db"
	"github.com/ledgergate/ledgergate/internal/shared"
)

// Repository encapsulates DB operations for journal entries.
type Repository interface {
	GetEntry(ctx context.Context, id int64) (JournalEntry, error)
	GetEntryByNumber(ctx context.Context, number string) (JournalEntry, error)
	GetEntryByIdempotencyKey(ctx context.Context, key string) (JournalEntry, error)
	ListEntries(ctx context.Context, p shared.Pagination) ([]JournalEntry, error)
	HasReversal(ctx context.Context, originalID int64) (bool, error)
	LockPostedForSource(ctx context.Context, module, model string, lockedAt time.Time, lockedBy string) (int64, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes operations available inside a write transaction.
// Entry numbers are minted inside the same transaction as the insert, so a
// rollback returns the number and the sequence stays gap-free.
type TxRepository interface {
	NextEntryNumber(ctx context.Context, prefix string) (string, error)
	InsertEntry(ctx context.Context, e *JournalEntry) error
	GetEntryForUpdate(ctx context.Context, id int64) (JournalEntry, error)
	MarkPosted(ctx context.Context, id int64, postedAt time.Time, postedBy string, locked bool) error
	MarkCancelled(ctx context.Context, id int64, at time.Time) error
	HasReversal(ctx context.Context, originalID int64) (bool, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository builds the PostgreSQL-backed repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const entryColumns = `id, number, date, entry_type, status, description, reference,
reference_type, reference_id, source_module, source_model, source_id, period_id,
financial_category, financial_subcategory, posted_at, posted_by,
idempotency_key, created_by_service, original_entry_id, is_reversal, reversal_reason,
is_locked, locked_at, locked_by, created_at, updated_at`

type rowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanEntry(row pgx.Row) (JournalEntry, error) {
	var e JournalEntry
	var description, reference, refType, refID, postedBy, reversalReason, lockedBy *string
	err := row.Scan(&e.ID, &e.Number, &e.Date, &e.EntryType, &e.Status, &description, &reference,
		&refType, &refID, &e.SourceModule, &e.SourceModel, &e.SourceID, &e.PeriodID,
		&e.FinancialCategory, &e.FinancialSubcategory, &e.PostedAt, &postedBy,
		&e.IdempotencyKey, &e.CreatedByService, &e.OriginalEntryID, &e.IsReversal, &reversalReason,
		&e.IsLocked, &e.LockedAt, &lockedBy, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return JournalEntry{}, err
	}
	assign := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	assign(&e.Description, description)
	assign(&e.Reference, reference)
	assign(&e.ReferenceType, refType)
	assign(&e.ReferenceID, refID)
	assign(&e.PostedBy, postedBy)
	assign(&e.ReversalReason, reversalReason)
	assign(&e.LockedBy, lockedBy)
	return e, nil
}

func loadLines(ctx context.Context, q rowQuerier, entryID int64) ([]JournalLine, error) {
	rows, err := q.Query(ctx, `SELECT id, entry_id, account_id, account_code, debit, credit, description, cost_center, project
FROM journal_lines WHERE entry_id=$1 ORDER BY id ASC`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []JournalLine
	for rows.Next() {
		var line JournalLine
		var description, costCenter, project *string
		if err := rows.Scan(&line.ID, &line.EntryID, &line.AccountID, &line.AccountCode,
			&line.Debit, &line.Credit, &description, &costCenter, &project); err != nil {
			return nil, err
		}
		if description != nil {
			line.Description = *description
		}
		if costCenter != nil {
			line.CostCenter = *costCenter
		}
		if project != nil {
			line.Project = *project
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

func getEntry(ctx context.Context, q rowQuerier, clause string, arg any) (JournalEntry, error) {
	row := q.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE `+clause, arg)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, acctshared.ErrEntryNotFound
		}
		return JournalEntry{}, err
	}
	e.Lines, err = loadLines(ctx, q, e.ID)
	if err != nil {
		return JournalEntry{}, err
	}
	return e, nil
}

func (r *repository) GetEntry(ctx context.Context, id int64) (JournalEntry, error) {
	return getEntry(ctx, r.db, "id=$1", id)
}

func (r *repository) GetEntryByNumber(ctx context.Context, number string) (JournalEntry, error) {
	return getEntry(ctx, r.db, "number=$1", number)
}

func (r *repository) GetEntryByIdempotencyKey(ctx context.Context, key string) (JournalEntry, error) {
	return getEntry(ctx, r.db, "idempotency_key=$1", key)
}

func (r *repository) ListEntries(ctx context.Context, p shared.Pagination) ([]JournalEntry, error) {
	limit := p.PerPage
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(ctx, `SELECT `+entryColumns+` FROM journal_entries
ORDER BY id DESC LIMIT $1 OFFSET $2`, limit, p.Offset())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *repository) HasReversal(ctx context.Context, originalID int64) (bool, error) {
	return hasReversal(ctx, r.db, originalID)
}

func hasReversal(ctx context.Context, q rowQuerier, originalID int64) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM journal_entries
WHERE original_entry_id=$1 AND is_reversal=TRUE AND status <> 'CANCELLED')`, originalID).Scan(&exists)
	return exists, err
}

func (r *repository) LockPostedForSource(ctx context.Context, module, model string, lockedAt time.Time, lockedBy string) (int64, error) {
	tag, err := r.db.Exec(ctx, `UPDATE journal_entries SET is_locked=TRUE, locked_at=$3, locked_by=$4, updated_at=NOW()
WHERE status='POSTED' AND is_locked=FALSE AND source_module=$1 AND source_model=$2
AND period_id IN (SELECT id FROM accounting_periods WHERE status='CLOSED')`,
		module, model, lockedAt, lockedBy)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

type txRepository struct {
	tx pgx.Tx
}

// NextEntryNumber increments the per-prefix sequence under row lock. The
// upsert serialises concurrent writers on the sequence row.
func (r *txRepository) NextEntryNumber(ctx context.Context, prefix string) (string, error) {
	var next int64
	err := r.tx.QueryRow(ctx, `INSERT INTO entry_sequences (prefix, next_value) VALUES ($1, 1)
ON CONFLICT (prefix) DO UPDATE SET next_value = entry_sequences.next_value + 1
RETURNING next_value`, prefix).Scan(&next)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%04d", prefix, next), nil
}

func (r *txRepository) InsertEntry(ctx context.Context, e *JournalEntry) error {
	err := r.tx.QueryRow(ctx, `INSERT INTO journal_entries
(number, date, entry_type, status, description, reference, reference_type, reference_id,
 source_module, source_model, source_id, period_id, financial_category, financial_subcategory,
 idempotency_key, created_by_service, original_entry_id, is_reversal, reversal_reason,
 created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$20)
RETURNING id`,
		e.Number, e.Date, e.EntryType, e.Status, e.Description, e.Reference, e.ReferenceType, e.ReferenceID,
		e.SourceModule, e.SourceModel, e.SourceID, e.PeriodID, e.FinancialCategory, e.FinancialSubcategory,
		e.IdempotencyKey, e.CreatedByService, e.OriginalEntryID, e.IsReversal, e.ReversalReason,
		e.CreatedAt).Scan(&e.ID)
	if err != nil {
		if db.IsUniqueViolation(err, "idx_journal_entries_idem_key") {
			return fmt.Errorf("%w: %s", acctshared.ErrEntryExists, e.IdempotencyKey)
		}
		return err
	}
	for i := range e.Lines {
		line := &e.Lines[i]
		line.EntryID = e.ID
		err := r.tx.QueryRow(ctx, `INSERT INTO journal_lines
(entry_id, account_id, account_code, debit, credit, description, cost_center, project)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
			line.EntryID, line.AccountID, line.AccountCode, line.Debit, line.Credit,
			line.Description, line.CostCenter, line.Project).Scan(&line.ID)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) GetEntryForUpdate(ctx context.Context, id int64) (JournalEntry, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE id=$1 FOR UPDATE`, id)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, acctshared.ErrEntryNotFound
		}
		return JournalEntry{}, err
	}
	e.Lines, err = loadLines(ctx, r.tx, e.ID)
	if err != nil {
		return JournalEntry{}, err
	}
	return e, nil
}

func (r *txRepository) MarkPosted(ctx context.Context, id int64, postedAt time.Time, postedBy string, locked bool) error {
	tag, err := r.tx.Exec(ctx, `UPDATE journal_entries
SET status='POSTED', posted_at=$2, posted_by=$3,
    is_locked=$4, locked_at=CASE WHEN $4 THEN $2 ELSE locked_at END,
    locked_by=CASE WHEN $4 THEN $3 ELSE locked_by END, updated_at=NOW()
WHERE id=$1 AND status='DRAFT'`, id, postedAt, postedBy, locked)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return acctshared.ErrInvalidStatus
	}
	return nil
}

func (r *txRepository) MarkCancelled(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status='CANCELLED', updated_at=$2
WHERE id=$1 AND status='DRAFT'`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return acctshared.ErrInvalidStatus
	}
	return nil
}

func (r *txRepository) HasReversal(ctx context.Context, originalID int64) (bool, error) {
	return hasReversal(ctx, r.tx, originalID)
}
