package sourcelink

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Resolver answers whether a business record exists for an id.
type Resolver interface {
	Exists(ctx context.Context, id int64) (bool, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, id int64) (bool, error)

// Exists implements Resolver.
func (f ResolverFunc) Exists(ctx context.Context, id int64) (bool, error) {
	return f(ctx, id)
}

// TableResolver resolves ids against one relational table. The table and
// column names come from startup configuration, never from callers.
type TableResolver struct {
	pool   *pgxpool.Pool
	table  string
	column string
}

// NewTableResolver builds a resolver for table.column.
func NewTableResolver(pool *pgxpool.Pool, table, column string) *TableResolver {
	if column == "" {
		column = "id"
	}
	return &TableResolver{pool: pool, table: table, column: column}
}

// Exists reports whether a row with the id is present.
func (r *TableResolver) Exists(ctx context.Context, id int64) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE %s=$1)`, r.table, r.column)
	var exists bool
	if err := r.pool.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
