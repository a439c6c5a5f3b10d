package movement

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	acctshared "github.com/ledgergate/ledgergate/internal/accounting/shared"
)

// MovementType enumerates stock movement kinds.
type MovementType string

const (
	MovementIn         MovementType = "in"
	MovementOut        MovementType = "out"
	MovementReturnIn   MovementType = "return_in"
	MovementReturnOut  MovementType = "return_out"
	MovementAdjustment MovementType = "adjustment"
)

// Valid reports whether the movement type is known.
func (t MovementType) Valid() bool {
	switch t {
	case MovementIn, MovementOut, MovementReturnIn, MovementReturnOut, MovementAdjustment:
		return true
	}
	return false
}

// Movement refusals.
var (
	ErrServiceProduct  = errors.New("movement: service products carry no stock")
	ErrProductInactive = errors.New("movement: product inactive")
	ErrInvalidQuantity = errors.New("movement: quantity change must be non-zero")
	ErrInvalidType     = errors.New("movement: unknown movement type")
)

// errorCode maps movement failures to stable codes for idempotency records.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrServiceProduct):
		return "SERVICE_PRODUCT"
	case errors.Is(err, ErrProductInactive):
		return "PRODUCT_INACTIVE"
	case errors.Is(err, ErrInvalidQuantity):
		return "INVALID_QUANTITY"
	case errors.Is(err, ErrInvalidType):
		return "INVALID_MOVEMENT_TYPE"
	default:
		return acctshared.ErrorCode(err)
	}
}

// ProductType distinguishes stocked goods from services.
type ProductType string

const (
	ProductGoods   ProductType = "GOODS"
	ProductService ProductType = "SERVICE"
)

// Product is the catalog view the movement service needs. The catalog
// itself is owned by an external collaborator.
type Product struct {
	ID       int64
	Code     string
	Name     string
	Type     ProductType
	IsActive bool
}

// StockMovement is one inventory change. Movements are append-only; the
// stock balance is derived state maintained in the same transaction.
type StockMovement struct {
	ID              int64
	ProductID       int64
	ProductCode     string
	QuantityChange  decimal.Decimal
	MovementType    MovementType
	SourceReference string
	IdempotencyKey  string
	UnitCost        *decimal.Decimal
	DocumentNumber  string
	Notes           string
	BalanceAfter    decimal.Decimal
	CreatedBy       string
	CreatedAt       time.Time
}
