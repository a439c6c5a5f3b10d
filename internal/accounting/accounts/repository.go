package accounts

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgergate/ledgergate/internal/shared"
)

// Directory exposes read-only chart-of-accounts lookups.
type Directory interface {
	LookupByCode(ctx context.Context, code string) (Account, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns a Directory backed by the chart_of_accounts table.
func NewRepository(db *pgxpool.Pool) Directory {
	return &repository{db: db}
}

func (r *repository) LookupByCode(ctx context.Context, code string) (Account, error) {
	var a Account
	err := r.db.QueryRow(ctx, `SELECT id, code, name, type, parent_id, is_active, is_leaf, is_postable, created_at, updated_at
FROM chart_of_accounts WHERE code=$1`, code).
		Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.ParentID, &a.IsActive, &a.IsLeaf, &a.IsPostable, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, shared.ErrNotFound
		}
		return Account{}, err
	}
	return a, nil
}
