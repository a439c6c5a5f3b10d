package periods

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	acctshared "github.com/ledgergate/ledgergate/internal/accounting/shared"
)

// Repository encapsulates DB operations for accounting periods.
type Repository interface {
	FindOpenByDate(ctx context.Context, date time.Time) (Period, error)
	FindAnyByDate(ctx context.Context, date time.Time) (Period, error)
	GetByID(ctx context.Context, id int64) (Period, error)
	List(ctx context.Context) ([]Period, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes methods available within a close transaction.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (Period, error)
	SetClosed(ctx context.Context, id int64, closedAt time.Time, closedBy string) error
	LockPostedEntriesInRange(ctx context.Context, start, end time.Time, lockedAt time.Time, lockedBy string) (int64, error)
	ListUnlockedPostedInRange(ctx context.Context, start, end time.Time) ([]ComplianceIssue, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository builds the PostgreSQL-backed repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const periodColumns = `id, name, start_date, end_date, status, closed_at, closed_by, created_at, updated_at`

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	var closedBy *string
	err := row.Scan(&p.ID, &p.Name, &p.StartDate, &p.EndDate, &p.Status, &p.ClosedAt, &closedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Period{}, err
	}
	if closedBy != nil {
		p.ClosedBy = *closedBy
	}
	return p, nil
}

func (r *repository) FindOpenByDate(ctx context.Context, date time.Time) (Period, error) {
	row := r.db.QueryRow(ctx, `SELECT `+periodColumns+` FROM accounting_periods
WHERE status='OPEN' AND start_date <= $1 AND end_date >= $1 LIMIT 1`, date)
	p, err := scanPeriod(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, acctshared.ErrNoOpenPeriod
		}
		return Period{}, err
	}
	return p, nil
}

// FindAnyByDate returns the period containing date regardless of status,
// letting callers distinguish a closed period from a missing one.
func (r *repository) FindAnyByDate(ctx context.Context, date time.Time) (Period, error) {
	row := r.db.QueryRow(ctx, `SELECT `+periodColumns+` FROM accounting_periods
WHERE start_date <= $1 AND end_date >= $1 LIMIT 1`, date)
	p, err := scanPeriod(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, acctshared.ErrNoOpenPeriod
		}
		return Period{}, err
	}
	return p, nil
}

func (r *repository) GetByID(ctx context.Context, id int64) (Period, error) {
	row := r.db.QueryRow(ctx, `SELECT `+periodColumns+` FROM accounting_periods WHERE id=$1`, id)
	p, err := scanPeriod(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, acctshared.ErrNoOpenPeriod
		}
		return Period{}, err
	}
	return p, nil
}

func (r *repository) List(ctx context.Context) ([]Period, error) {
	rows, err := r.db.Query(ctx, `SELECT `+periodColumns+` FROM accounting_periods ORDER BY start_date DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
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

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Period, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM accounting_periods WHERE id=$1 FOR UPDATE`, id)
	p, err := scanPeriod(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, acctshared.ErrNoOpenPeriod
		}
		return Period{}, err
	}
	return p, nil
}

func (r *txRepository) SetClosed(ctx context.Context, id int64, closedAt time.Time, closedBy string) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE accounting_periods SET status='CLOSED', closed_at=$2, closed_by=$3, updated_at=NOW() WHERE id=$1`, id, closedAt, closedBy)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return acctshared.ErrNoOpenPeriod
	}
	return nil
}

func (r *txRepository) LockPostedEntriesInRange(ctx context.Context, start, end time.Time, lockedAt time.Time, lockedBy string) (int64, error) {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET is_locked=TRUE, locked_at=$3, locked_by=$4, updated_at=NOW()
WHERE status='POSTED' AND is_locked=FALSE AND date >= $1 AND date <= $2`, start, end, lockedAt, lockedBy)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *txRepository) ListUnlockedPostedInRange(ctx context.Context, start, end time.Time) ([]ComplianceIssue, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, number, date FROM journal_entries
WHERE status='POSTED' AND is_locked=FALSE AND date >= $1 AND date <= $2 ORDER BY id ASC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ComplianceIssue
	for rows.Next() {
		var issue ComplianceIssue
		if err := rows.Scan(&issue.EntryID, &issue.EntryNumber, &issue.Date); err != nil {
			return nil, err
		}
		out = append(out, issue)
	}
	return out, rows.Err()
}
