package movement

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ledgergate/ledgergate/internal/shared"
)

// ProductPort resolves products from the external catalog.
type ProductPort interface {
	Lookup(ctx context.Context, id int64) (Product, error)
}

// Repository persists stock movements and derived balances.
type Repository interface {
	GetMovement(ctx context.Context, id int64) (StockMovement, error)
	ListByProduct(ctx context.Context, productID int64, limit int) ([]StockMovement, error)
	NegativeBalances(ctx context.Context) ([]Balance, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes operations inside a movement transaction. The
// balance row lock serialises parallel writers per product.
type TxRepository interface {
	BalanceForUpdate(ctx context.Context, productID int64) (decimal.Decimal, error)
	SetBalance(ctx context.Context, productID int64, quantity decimal.Decimal, at time.Time) error
	InsertMovement(ctx context.Context, m *StockMovement) error
}

// Balance is one product's derived stock level.
type Balance struct {
	ProductID int64
	Quantity  decimal.Decimal
	UpdatedAt time.Time
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository builds the PostgreSQL-backed repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const movementColumns = `id, product_id, product_code, quantity_change, movement_type, source_reference,
idempotency_key, unit_cost, document_number, notes, balance_after, created_by, created_at`

func scanMovement(row pgx.Row) (StockMovement, error) {
	var m StockMovement
	var document, notes *string
	err := row.Scan(&m.ID, &m.ProductID, &m.ProductCode, &m.QuantityChange, &m.MovementType, &m.SourceReference,
		&m.IdempotencyKey, &m.UnitCost, &document, &notes, &m.BalanceAfter, &m.CreatedBy, &m.CreatedAt)
	if err != nil {
		return StockMovement{}, err
	}
	if document != nil {
		m.DocumentNumber = *document
	}
	if notes != nil {
		m.Notes = *notes
	}
	return m, nil
}

func (r *repository) GetMovement(ctx context.Context, id int64) (StockMovement, error) {
	row := r.db.QueryRow(ctx, `SELECT `+movementColumns+` FROM stock_movements WHERE id=$1`, id)
	m, err := scanMovement(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockMovement{}, shared.ErrNotFound
		}
		return StockMovement{}, err
	}
	return m, nil
}

func (r *repository) ListByProduct(ctx context.Context, productID int64, limit int) ([]StockMovement, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `SELECT `+movementColumns+` FROM stock_movements
WHERE product_id=$1 ORDER BY id DESC LIMIT $2`, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StockMovement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// NegativeBalances lists products whose derived stock is below zero, for
// the repair scanners.
func (r *repository) NegativeBalances(ctx context.Context) ([]Balance, error) {
	rows, err := r.db.Query(ctx, `SELECT product_id, quantity, updated_at FROM stock_balances
WHERE quantity < 0 ORDER BY product_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Balance
	for rows.Next() {
		var b Balance
		if err := rows.Scan(&b.ProductID, &b.Quantity, &b.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
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

// BalanceForUpdate locks the product's balance row, creating it at zero
// on first movement.
func (r *txRepository) BalanceForUpdate(ctx context.Context, productID int64) (decimal.Decimal, error) {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_balances (product_id, quantity, updated_at)
VALUES ($1, 0, NOW()) ON CONFLICT (product_id) DO NOTHING`, productID)
	if err != nil {
		return decimal.Zero, err
	}
	var qty decimal.Decimal
	err = r.tx.QueryRow(ctx, `SELECT quantity FROM stock_balances WHERE product_id=$1 FOR UPDATE`, productID).Scan(&qty)
	if err != nil {
		return decimal.Zero, err
	}
	return qty, nil
}

func (r *txRepository) SetBalance(ctx context.Context, productID int64, quantity decimal.Decimal, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_balances SET quantity=$2, updated_at=$3 WHERE product_id=$1`,
		productID, quantity, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrIntegrity
	}
	return nil
}

func (r *txRepository) InsertMovement(ctx context.Context, m *StockMovement) error {
	return r.tx.QueryRow(ctx, `INSERT INTO stock_movements
(product_id, product_code, quantity_change, movement_type, source_reference, idempotency_key,
 unit_cost, document_number, notes, balance_after, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id`,
		m.ProductID, m.ProductCode, m.QuantityChange, m.MovementType, m.SourceReference, m.IdempotencyKey,
		m.UnitCost, m.DocumentNumber, m.Notes, m.BalanceAfter, m.CreatedBy, m.CreatedAt).Scan(&m.ID)
}

// ProductRepository reads the products catalog table.
type ProductRepository struct {
	db *pgxpool.Pool
}

// NewProductRepository builds the catalog reader.
func NewProductRepository(db *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) Lookup(ctx context.Context, id int64) (Product, error) {
	var p Product
	err := r.db.QueryRow(ctx, `SELECT id, code, name, type, is_active FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.Code, &p.Name, &p.Type, &p.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, shared.ErrNotFound
		}
		return Product{}, err
	}
	return p, nil
}
