package sourcelink

import (
	"context"
	"fmt"
	"time"

	"github.com/ledgergate/ledgergate/internal/shared"
)

// AuditPort records backfill repairs.
type AuditPort interface {
	Record(ctx context.Context, rec shared.AuditRecord) error
}

// Service maintains the closed allowlist of permitted sources and
// validates every journal entry's triple against it. The allowlist is
// loaded at startup; nothing reads a global literal.
type Service struct {
	resolvers map[string]Resolver
	ledger    LedgerPort
	audit     AuditPort
	batchSize int
	now       func() time.Time
}

// NewService builds the linkage service with an empty allowlist.
func NewService(ledger LedgerPort, audit AuditPort) *Service {
	return &Service{
		resolvers: make(map[string]Resolver),
		ledger:    ledger,
		audit:     audit,
		batchSize: 500,
		now:       time.Now,
	}
}

// Register allowlists module.model and binds its existence resolver.
func (s *Service) Register(module, model string, resolver Resolver) {
	s.resolvers[Ref{Module: module, Model: model}.Key()] = resolver
}

// Allowed reports whether module.model is in the allowlist.
func (s *Service) Allowed(module, model string) bool {
	_, ok := s.resolvers[Ref{Module: module, Model: model}.Key()]
	return ok
}

// Allowlist returns the registered module.model pairs.
func (s *Service) Allowlist() []string {
	out := make([]string, 0, len(s.resolvers))
	for key := range s.resolvers {
		out = append(out, key)
	}
	return out
}

// Validate checks the triple: allowlisted pair and a live record.
func (s *Service) Validate(ctx context.Context, module, model string, id int64) error {
	ref := Ref{Module: module, Model: model, ID: id}
	resolver, ok := s.resolvers[ref.Key()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotAllowlisted, ref.Key())
	}
	if resolver == nil {
		return fmt.Errorf("%w: %s", ErrNoResolver, ref.Key())
	}
	exists, err := resolver.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s id=%d", ErrSourceMissing, ref.Key(), id)
	}
	return nil
}

// ScanOrphans walks the ledger in id batches and returns entries failing
// Validate. The scan is read-only and cancellable between batches.
func (s *Service) ScanOrphans(ctx context.Context) ([]OrphanEntry, error) {
	var orphans []OrphanEntry
	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch, err := s.ledger.ListEntryRefsAfter(ctx, afterID, s.batchSize)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			return orphans, nil
		}
		for _, ref := range batch {
			afterID = ref.EntryID
			if err := s.Validate(ctx, ref.Source.Module, ref.Source.Model, ref.Source.ID); err != nil {
				orphans = append(orphans, OrphanEntry{
					EntryID:     ref.EntryID,
					EntryNumber: ref.EntryNumber,
					Source:      ref.Source,
					Reason:      err.Error(),
				})
			}
		}
	}
}

// Backfill repairs an orphan's triple. The replacement triple must itself
// validate. DryRun reports what would change without writing.
func (s *Service) Backfill(ctx context.Context, entryID int64, module, model string, id int64, dryRun bool, user string) (BackfillResult, error) {
	current, err := s.ledger.GetEntryRef(ctx, entryID)
	if err != nil {
		return BackfillResult{}, err
	}
	repaired := Ref{Module: module, Model: model, ID: id}
	if err := s.Validate(ctx, module, model, id); err != nil {
		return BackfillResult{}, err
	}
	result := BackfillResult{
		EntryID:  entryID,
		Previous: current.Source,
		Repaired: repaired,
		DryRun:   dryRun,
		At:       s.now().UTC(),
	}
	if dryRun {
		return result, nil
	}
	if err := s.ledger.UpdateSourceTriple(ctx, entryID, repaired); err != nil {
		return BackfillResult{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditRecord{
			ModelName: "JournalEntry",
			ObjectID:  fmt.Sprintf("%d", entryID),
			Operation: "sourcelink.backfill",
			User:      user,
			Before: map[string]any{
				"module": current.Source.Module,
				"model":  current.Source.Model,
				"id":     current.Source.ID,
			},
			After: map[string]any{
				"module": repaired.Module,
				"model":  repaired.Model,
				"id":     repaired.ID,
			},
			At: result.At,
		})
	}
	return result, nil
}
