package repair

import (
	"context"
	"fmt"

	"github.com/ledgergate/ledgergate/internal/movement"
	"github.com/ledgergate/ledgergate/internal/quarantine"
	"github.com/ledgergate/ledgergate/internal/sourcelink"
)

// Scanner detects one class of corruption. Scanners are read-only; a
// cancelled scan leaves no partial mutation.
type Scanner interface {
	Type() quarantine.CorruptionType
	Scan(ctx context.Context) ([]CorruptionItem, error)
}

// OrphanScanner finds journal entries whose source triple no longer
// validates.
type OrphanScanner struct {
	links *sourcelink.Service
}

// NewOrphanScanner builds the orphaned-entries scanner.
func NewOrphanScanner(links *sourcelink.Service) *OrphanScanner {
	return &OrphanScanner{links: links}
}

func (s *OrphanScanner) Type() quarantine.CorruptionType {
	return quarantine.CorruptionOrphanedJournalEntries
}

func (s *OrphanScanner) Scan(ctx context.Context) ([]CorruptionItem, error) {
	orphans, err := s.links.ScanOrphans(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]CorruptionItem, 0, len(orphans))
	for _, o := range orphans {
		items = append(items, CorruptionItem{
			Type:       s.Type(),
			ModelName:  "JournalEntry",
			ObjectID:   fmt.Sprintf("%d", o.EntryID),
			Confidence: quarantine.ConfidenceHigh,
			Reason:     o.Reason,
			Evidence: map[string]any{
				"entry_number":  o.EntryNumber,
				"source_module": o.Source.Module,
				"source_model":  o.Source.Model,
				"source_id":     o.Source.ID,
			},
		})
	}
	return items, nil
}

// StockPort reads derived balances for the negative-stock scanner.
type StockPort interface {
	NegativeBalances(ctx context.Context) ([]movement.Balance, error)
}

// NegativeStockScanner finds products whose derived stock is below zero.
type NegativeStockScanner struct {
	stock StockPort
}

// NewNegativeStockScanner builds the negative-stock scanner.
func NewNegativeStockScanner(stock StockPort) *NegativeStockScanner {
	return &NegativeStockScanner{stock: stock}
}

func (s *NegativeStockScanner) Type() quarantine.CorruptionType {
	return quarantine.CorruptionNegativeStock
}

func (s *NegativeStockScanner) Scan(ctx context.Context) ([]CorruptionItem, error) {
	balances, err := s.stock.NegativeBalances(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]CorruptionItem, 0, len(balances))
	for _, b := range balances {
		items = append(items, CorruptionItem{
			Type:       s.Type(),
			ModelName:  "Product",
			ObjectID:   fmt.Sprintf("%d", b.ProductID),
			Confidence: quarantine.ConfidenceHigh,
			Reason:     fmt.Sprintf("derived stock is %s", b.Quantity.String()),
			Evidence:   map[string]any{"quantity": b.Quantity.String()},
		})
	}
	return items, nil
}

// SingletonPort lists the active rows of an entity expected to have
// exactly one.
type SingletonPort interface {
	ActiveRows(ctx context.Context) ([]string, error)
}

// SingletonScanner checks a configurable singleton entity, flagging the
// set when more than one row is active.
type SingletonScanner struct {
	entity string
	rows   SingletonPort
}

// NewSingletonScanner builds the singleton scanner for one entity.
func NewSingletonScanner(entity string, rows SingletonPort) *SingletonScanner {
	return &SingletonScanner{entity: entity, rows: rows}
}

func (s *SingletonScanner) Type() quarantine.CorruptionType {
	return quarantine.CorruptionMultipleActiveSingleton
}

func (s *SingletonScanner) Scan(ctx context.Context) ([]CorruptionItem, error) {
	active, err := s.rows.ActiveRows(ctx)
	if err != nil {
		return nil, err
	}
	if len(active) <= 1 {
		return nil, nil
	}
	return []CorruptionItem{{
		Type:       s.Type(),
		ModelName:  s.entity,
		ObjectID:   s.entity,
		Confidence: quarantine.ConfidenceHigh,
		Reason:     fmt.Sprintf("%d rows active, expected one", len(active)),
		Evidence:   map[string]any{"entity": s.entity, "active_ids": active},
	}}, nil
}

// UnbalancedEntry is one posted entry whose lines do not balance.
type UnbalancedEntry struct {
	EntryID     int64
	EntryNumber string
	TotalDebit  string
	TotalCredit string
	Difference  string
}

// LedgerPort reads posted-entry balance sums for the unbalanced scanner.
type LedgerPort interface {
	ListUnbalancedPosted(ctx context.Context) ([]UnbalancedEntry, error)
}

// UnbalancedScanner finds posted entries violating debit/credit equality.
// These should be impossible through the gateway; a hit means the ledger
// was written around it.
type UnbalancedScanner struct {
	ledger LedgerPort
}

// NewUnbalancedScanner builds the unbalanced-entries scanner.
func NewUnbalancedScanner(ledger LedgerPort) *UnbalancedScanner {
	return &UnbalancedScanner{ledger: ledger}
}

func (s *UnbalancedScanner) Type() quarantine.CorruptionType {
	return quarantine.CorruptionUnbalancedEntries
}

func (s *UnbalancedScanner) Scan(ctx context.Context) ([]CorruptionItem, error) {
	entries, err := s.ledger.ListUnbalancedPosted(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]CorruptionItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, CorruptionItem{
			Type:       s.Type(),
			ModelName:  "JournalEntry",
			ObjectID:   fmt.Sprintf("%d", e.EntryID),
			Confidence: quarantine.ConfidenceHigh,
			Reason:     fmt.Sprintf("debits %s, credits %s", e.TotalDebit, e.TotalCredit),
			Evidence: map[string]any{
				"entry_number": e.EntryNumber,
				"total_debit":  e.TotalDebit,
				"total_credit": e.TotalCredit,
				"difference":   e.Difference,
			},
		})
	}
	return items, nil
}
