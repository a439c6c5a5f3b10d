package repair

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// LedgerRepository implements LedgerPort against the journal tables.
type LedgerRepository struct {
	db *pgxpool.Pool
}

// NewLedgerRepository builds the ledger reader.
func NewLedgerRepository(db *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) ListUnbalancedPosted(ctx context.Context) ([]UnbalancedEntry, error) {
	rows, err := r.db.Query(ctx, `SELECT e.id, e.number,
COALESCE(SUM(l.debit), 0)::text, COALESCE(SUM(l.credit), 0)::text,
ABS(COALESCE(SUM(l.debit), 0) - COALESCE(SUM(l.credit), 0))::text
FROM journal_entries e
LEFT JOIN journal_lines l ON l.entry_id = e.id
WHERE e.status = 'POSTED'
GROUP BY e.id, e.number
HAVING ABS(COALESCE(SUM(l.debit), 0) - COALESCE(SUM(l.credit), 0)) > 0.01
ORDER BY e.id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UnbalancedEntry
	for rows.Next() {
		var e UnbalancedEntry
		if err := rows.Scan(&e.EntryID, &e.EntryNumber, &e.TotalDebit, &e.TotalCredit, &e.Difference); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SingletonRepository implements SingletonPort over a configured table.
// Table and column names come from operator config, not request input.
type SingletonRepository struct {
	db         *pgxpool.Pool
	table      string
	idColumn   string
	activeFlag string
}

// NewSingletonRepository builds the reader for one singleton entity.
func NewSingletonRepository(db *pgxpool.Pool, table, idColumn, activeFlag string) *SingletonRepository {
	return &SingletonRepository{db: db, table: table, idColumn: idColumn, activeFlag: activeFlag}
}

func (r *SingletonRepository) ActiveRows(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`SELECT %s::text FROM %s WHERE %s = TRUE ORDER BY %s`,
		r.idColumn, r.table, r.activeFlag, r.idColumn)
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
