package movement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgergate/ledgergate/internal/accounting/gateway"
	acctshared "github.com/ledgergate/ledgergate/internal/accounting/shared"
	"github.com/ledgergate/ledgergate/internal/idempotency"
	"github.com/ledgergate/ledgergate/internal/shared"
)

// resultTTL bounds how long a completed movement outcome stays replayable.
const resultTTL = 30 * 24 * time.Hour

// AuditPort records every movement outcome.
type AuditPort interface {
	Record(ctx context.Context, rec shared.AuditRecord) error
}

// JournalPort posts the paired journal entry through the gateway.
type JournalPort interface {
	CreateJournalEntry(ctx context.Context, in gateway.CreateEntryInput) (gateway.JournalEntry, error)
}

// JournalBuilder maps a committed movement to its paired journal input.
// Returning false skips the pairing for that movement.
type JournalBuilder func(m StockMovement) (gateway.CreateEntryInput, bool)

// MetricsPort feeds the movement counter. Nil disables instrumentation.
type MetricsPort interface {
	MovementProcessed(movementType string)
}

// MovementInput is the request for a stock movement.
type MovementInput struct {
	ProductID       int64           `json:"product_id" validate:"required,gt=0"`
	QuantityChange  decimal.Decimal `json:"quantity_change"`
	MovementType    MovementType    `json:"movement_type" validate:"required"`
	SourceReference string          `json:"source_reference" validate:"required"`
	IdempotencyKey  string          `json:"idempotency_key" validate:"required"`
	User            string          `json:"user" validate:"required"`
	UnitCost        *decimal.Decimal `json:"unit_cost"`
	DocumentNumber  string          `json:"document_number"`
	Notes           string          `json:"notes"`

	// AuthorizeNegative permits an adjustment to drive stock below zero.
	// It has no effect on other movement types.
	AuthorizeNegative bool `json:"authorize_negative"`
}

// Service is the inventory counterpart of the accounting gateway: the
// sole write path for stock movements.
type Service struct {
	repo     Repository
	products ProductPort
	idem     idempotency.Store
	audit    AuditPort
	journal  JournalPort
	buildJE  JournalBuilder
	metrics  MetricsPort
	logger   *slog.Logger
	now      func() time.Time
}

// NewService wires the movement service.
func NewService(repo Repository, products ProductPort, idem idempotency.Store, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		products: products,
		idem:     idem,
		audit:    audit,
		logger:   logger,
		now:      time.Now,
	}
}

// WithJournalPairing configures the paired journal entry posted after
// each committed movement.
func (s *Service) WithJournalPairing(journal JournalPort, build JournalBuilder) {
	s.journal = journal
	s.buildJE = build
}

// WithMetrics attaches the movement counter.
func (s *Service) WithMetrics(m MetricsPort) {
	s.metrics = m
}

// WithNow overrides the clock, used in tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ProcessMovement applies one stock movement under a per-product row
// lock. A replayed idempotency key returns the original movement.
func (s *Service) ProcessMovement(ctx context.Context, in MovementInput) (StockMovement, error) {
	now := s.now().UTC()
	if !in.MovementType.Valid() {
		return StockMovement{}, fmt.Errorf("%w: %q", ErrInvalidType, in.MovementType)
	}
	if in.QuantityChange.IsZero() {
		return StockMovement{}, ErrInvalidQuantity
	}
	if in.IdempotencyKey == "" || in.User == "" {
		return StockMovement{}, fmt.Errorf("%w: idempotency key and user required", shared.ErrValidation)
	}

	if replay, done, err := s.claimKey(ctx, in.IdempotencyKey, in.User, map[string]any{
		"product_id":      in.ProductID,
		"movement_type":   in.MovementType,
		"quantity_change": in.QuantityChange.String(),
	}); done {
		return replay, err
	}
	token := idempotency.Token{OperationType: idempotency.OpStockMovement, Key: in.IdempotencyKey}

	movement, err := s.applyMovement(ctx, in, now)
	if err != nil {
		code := errorCode(err)
		if failErr := s.idem.Fail(ctx, token, code); failErr != nil {
			s.logger.Warn("idempotency fail-mark failed", slog.String("key", in.IdempotencyKey), slog.Any("error", failErr))
		}
		s.recordFailure(ctx, in, code, err)
		return StockMovement{}, err
	}

	if err := s.idem.Complete(ctx, token, map[string]any{"movement_id": movement.ID}, resultTTL); err != nil {
		s.logger.Warn("idempotency completion failed", slog.String("key", in.IdempotencyKey), slog.Any("error", err))
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditRecord{
			ModelName: "StockMovement",
			ObjectID:  fmt.Sprintf("%d", movement.ID),
			Operation: "movement.process",
			User:      in.User,
			After: map[string]any{
				"product_id":      movement.ProductID,
				"movement_type":   movement.MovementType,
				"quantity_change": movement.QuantityChange.String(),
				"balance_after":   movement.BalanceAfter.String(),
			},
			At: now,
		})
	}
	if s.metrics != nil {
		s.metrics.MovementProcessed(string(movement.MovementType))
	}
	s.pairJournalEntry(ctx, movement)
	s.logger.Info("stock movement processed",
		slog.Int64("product", movement.ProductID),
		slog.String("type", string(movement.MovementType)),
		slog.String("balance", movement.BalanceAfter.String()))
	return movement, nil
}

func (s *Service) claimKey(ctx context.Context, key, user string, contextData map[string]any) (StockMovement, bool, error) {
	out, err := s.idem.Probe(ctx, idempotency.OpStockMovement, key)
	if err != nil {
		return StockMovement{}, true, err
	}
	if out.Found {
		switch out.Status {
		case idempotency.StatusCompleted:
			id, ok := resultMovementID(out.Result)
			if !ok {
				return StockMovement{}, true, fmt.Errorf("%w: completed record has no movement id", shared.ErrIntegrity)
			}
			m, err := s.repo.GetMovement(ctx, id)
			if err != nil {
				return StockMovement{}, true, err
			}
			s.logger.Info("idempotent replay", slog.String("key", key), slog.Int64("movement", m.ID))
			return m, true, nil
		case idempotency.StatusStarted:
			return StockMovement{}, true, acctshared.ErrOperationInProgress
		case idempotency.StatusFailed:
			return StockMovement{}, true, acctshared.ErrorFromCode(out.ErrorCode)
		}
	}
	if _, err := s.idem.Begin(ctx, idempotency.OpStockMovement, key, contextData, user); err != nil {
		if errors.Is(err, idempotency.ErrKeyHeld) {
			return StockMovement{}, true, acctshared.ErrOperationInProgress
		}
		return StockMovement{}, true, err
	}
	return StockMovement{}, false, nil
}

func resultMovementID(result map[string]any) (int64, bool) {
	switch v := result["movement_id"].(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

func (s *Service) applyMovement(ctx context.Context, in MovementInput, now time.Time) (StockMovement, error) {
	product, err := s.products.Lookup(ctx, in.ProductID)
	if err != nil {
		return StockMovement{}, err
	}
	if product.Type == ProductService {
		return StockMovement{}, fmt.Errorf("%w: %s", ErrServiceProduct, product.Code)
	}
	if !product.IsActive {
		return StockMovement{}, fmt.Errorf("%w: %s", ErrProductInactive, product.Code)
	}

	movement := StockMovement{
		ProductID:       product.ID,
		ProductCode:     product.Code,
		QuantityChange:  in.QuantityChange,
		MovementType:    in.MovementType,
		SourceReference: in.SourceReference,
		IdempotencyKey:  in.IdempotencyKey,
		UnitCost:        in.UnitCost,
		DocumentNumber:  in.DocumentNumber,
		Notes:           in.Notes,
		CreatedBy:       in.User,
		CreatedAt:       now,
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		balance, err := tx.BalanceForUpdate(ctx, product.ID)
		if err != nil {
			return err
		}
		after := balance.Add(in.QuantityChange)
		if after.IsNegative() && !(in.MovementType == MovementAdjustment && in.AuthorizeNegative) {
			return fmt.Errorf("%w: product %s balance %s, change %s",
				acctshared.ErrNegativeStock, product.Code, balance.String(), in.QuantityChange.String())
		}
		movement.BalanceAfter = after
		if err := tx.InsertMovement(ctx, &movement); err != nil {
			return err
		}
		return tx.SetBalance(ctx, product.ID, after, now)
	})
	if err != nil {
		return StockMovement{}, err
	}
	return movement, nil
}

// pairJournalEntry posts the configured journal entry for the movement.
// The movement is already committed; a pairing failure is surfaced via
// audit and logs, and the derived key lets a retry complete the pair.
func (s *Service) pairJournalEntry(ctx context.Context, m StockMovement) {
	if s.journal == nil || s.buildJE == nil {
		return
	}
	in, ok := s.buildJE(m)
	if !ok {
		return
	}
	in.IdempotencyKey = idempotency.MovementJournalKey(m.IdempotencyKey)
	if in.User == "" {
		in.User = m.CreatedBy
	}
	if _, err := s.journal.CreateJournalEntry(ctx, in); err != nil {
		s.logger.Error("paired journal entry failed",
			slog.Int64("movement", m.ID), slog.Any("error", err))
		if s.audit != nil {
			_ = s.audit.Record(ctx, shared.AuditRecord{
				ModelName: "StockMovement",
				ObjectID:  fmt.Sprintf("%d", m.ID),
				Operation: "movement.journal.failed",
				User:      m.CreatedBy,
				After:     map[string]any{"error": err.Error()},
				At:        s.now().UTC(),
			})
		}
	}
}

func (s *Service) recordFailure(ctx context.Context, in MovementInput, code string, cause error) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditRecord{
		ModelName: "StockMovement",
		ObjectID:  fmt.Sprintf("product:%d", in.ProductID),
		Operation: "movement.process.failed",
		User:      in.User,
		After: map[string]any{
			"error_code":      code,
			"error":           cause.Error(),
			"movement_type":   in.MovementType,
			"quantity_change": in.QuantityChange.String(),
		},
		At: s.now().UTC(),
	})
}

// GetMovement loads one movement.
func (s *Service) GetMovement(ctx context.Context, id int64) (StockMovement, error) {
	return s.repo.GetMovement(ctx, id)
}

// History lists a product's movements, newest first.
func (s *Service) History(ctx context.Context, productID int64, limit int) ([]StockMovement, error) {
	return s.repo.ListByProduct(ctx, productID, limit)
}

// NegativeBalances reports products currently below zero, for the
// corruption scanners.
func (s *Service) NegativeBalances(ctx context.Context) ([]Balance, error) {
	return s.repo.NegativeBalances(ctx)
}
