package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgergate/ledgergate/internal/accounting/accounts"
	"github.com/ledgergate/ledgergate/internal/accounting/periods"
	acctshared "github.com/ledgergate/ledgergate/internal/accounting/shared"
	"github.com/ledgergate/ledgergate/internal/idempotency"
	"github.com/ledgergate/ledgergate/internal/shared"
	"github.com/ledgergate/ledgergate/internal/switchboard"
)

// resultTTL bounds how long a completed outcome stays replayable.
const resultTTL = 30 * 24 * time.Hour

// GovernancePort is the switchboard surface the gateway consults before
// any write.
type GovernancePort interface {
	WorkflowForSource(ctx context.Context, module, model string) (switchboard.WorkflowFlag, error)
	AuthorizeWorkflow(ctx context.Context, name string) error
}

// SourcePort validates the source triple against the allowlist.
type SourcePort interface {
	Validate(ctx context.Context, module, model string, id int64) error
}

// PeriodPort resolves accounting periods for entry dates.
type PeriodPort interface {
	FindOpenByDate(ctx context.Context, date time.Time) (periods.Period, error)
	FindAnyByDate(ctx context.Context, date time.Time) (periods.Period, error)
	GetByID(ctx context.Context, id int64) (periods.Period, error)
}

// AuditPort records every gateway outcome, success or failure.
type AuditPort interface {
	Record(ctx context.Context, rec shared.AuditRecord) error
}

// MetricsPort feeds the gateway counters. Nil disables instrumentation.
type MetricsPort interface {
	EntryCreated(entryType string)
	EntryFailed(code string)
	ReversalCreated()
}

// Service is the sole write path into the journal. Every create runs the
// same pipeline: governance, source linkage, idempotency, period
// resolution, line validation, minting, persistence, posting.
type Service struct {
	repo       Repository
	idem       idempotency.Store
	sources    SourcePort
	accounts   accounts.Directory
	periods    PeriodPort
	governance GovernancePort
	audit      AuditPort
	metrics    MetricsPort
	logger     *slog.Logger
	now        func() time.Time

	// retryFailed lets a caller reclaim a key whose previous attempt
	// failed. Off by default: retries surface the recorded failure.
	retryFailed bool
}

// NewService wires the gateway.
func NewService(repo Repository, idem idempotency.Store, sources SourcePort, dir accounts.Directory,
	periodPort PeriodPort, governance GovernancePort, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{
		repo:       repo,
		idem:       idem,
		sources:    sources,
		accounts:   dir,
		periods:    periodPort,
		governance: governance,
		audit:      audit,
		logger:     logger,
		now:        time.Now,
	}
}

// WithMetrics attaches gateway counters.
func (s *Service) WithMetrics(m MetricsPort) {
	s.metrics = m
}

// WithRetryFailed allows reclaiming failed idempotency keys.
func (s *Service) WithRetryFailed(retry bool) {
	s.retryFailed = retry
}

// WithNow overrides the clock, used in tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateJournalEntry is the single entry point for journal writes. A
// replayed idempotency key returns the original entry without touching
// the ledger.
func (s *Service) CreateJournalEntry(ctx context.Context, in CreateEntryInput) (JournalEntry, error) {
	now := s.now().UTC()
	in.normalize(now)
	if in.IdempotencyKey == "" {
		return JournalEntry{}, fmt.Errorf("%w: idempotency key required", shared.ErrValidation)
	}
	if in.User == "" {
		return JournalEntry{}, fmt.Errorf("%w: user required", shared.ErrValidation)
	}

	wf, err := s.resolveWorkflow(ctx, in.SourceModule, in.SourceModel)
	if err != nil {
		s.recordFailure(ctx, "JournalEntry", fmt.Sprintf("%s.%s:%d", in.SourceModule, in.SourceModel, in.SourceID), in.User, err)
		return JournalEntry{}, err
	}
	if err := s.sources.Validate(ctx, in.SourceModule, in.SourceModel, in.SourceID); err != nil {
		err = fmt.Errorf("%w: %v", acctshared.ErrInvalidSourceLinkage, err)
		s.recordFailure(ctx, "JournalEntry", fmt.Sprintf("%s.%s:%d", in.SourceModule, in.SourceModel, in.SourceID), in.User, err)
		return JournalEntry{}, err
	}

	if replay, done, err := s.claimKey(ctx, idempotency.OpJournalEntry, in.IdempotencyKey, in.User, map[string]any{
		"source_module": in.SourceModule,
		"source_model":  in.SourceModel,
		"source_id":     in.SourceID,
	}); done {
		return replay, err
	}
	token := idempotency.Token{OperationType: idempotency.OpJournalEntry, Key: in.IdempotencyKey}

	entry, err := s.persistEntry(ctx, in, wf, now)
	if err != nil {
		if recovered, ok := s.recoverCommitted(ctx, token, err); ok {
			return recovered, nil
		}
		s.failAttempt(ctx, token, "JournalEntry", fmt.Sprintf("%s.%s:%d", in.SourceModule, in.SourceModel, in.SourceID), in.User, err)
		return JournalEntry{}, err
	}

	if err := s.idem.Complete(ctx, token, map[string]any{
		"entry_id":     entry.ID,
		"entry_number": entry.Number,
	}, resultTTL); err != nil {
		s.logger.Warn("idempotency completion failed",
			slog.String("key", in.IdempotencyKey), slog.Any("error", err))
	}
	s.recordEntryAudit(ctx, entry, "journal.create", in.User)
	if s.metrics != nil {
		s.metrics.EntryCreated(string(entry.EntryType))
	}
	s.logger.Info("journal entry created",
		slog.String("number", entry.Number),
		slog.String("source", entry.SourceModule+"."+entry.SourceModel),
		slog.String("status", string(entry.Status)))
	return entry, nil
}

// claimKey runs the idempotency probe and begin. done=true means the call
// is settled without creating anything: a replayed entry, a surfaced prior
// failure, or a concurrency refusal.
func (s *Service) claimKey(ctx context.Context, opType, key, user string, contextData map[string]any) (JournalEntry, bool, error) {
	out, err := s.idem.Probe(ctx, opType, key)
	if err != nil {
		return JournalEntry{}, true, err
	}
	if out.Found {
		switch out.Status {
		case idempotency.StatusCompleted:
			id, ok := resultEntryID(out.Result)
			if !ok {
				return JournalEntry{}, true, fmt.Errorf("%w: completed record has no entry id", shared.ErrIntegrity)
			}
			entry, err := s.repo.GetEntry(ctx, id)
			if err != nil {
				return JournalEntry{}, true, err
			}
			s.logger.Info("idempotent replay", slog.String("key", key), slog.String("number", entry.Number))
			return entry, true, nil
		case idempotency.StatusStarted:
			return JournalEntry{}, true, acctshared.ErrOperationInProgress
		case idempotency.StatusFailed:
			if !s.retryFailed {
				return JournalEntry{}, true, acctshared.ErrorFromCode(out.ErrorCode)
			}
		}
	}
	if _, err := s.idem.Begin(ctx, opType, key, contextData, user); err != nil {
		if errors.Is(err, idempotency.ErrKeyHeld) {
			return JournalEntry{}, true, acctshared.ErrOperationInProgress
		}
		return JournalEntry{}, true, err
	}
	return JournalEntry{}, false, nil
}

// resultEntryID digs the entry id out of a stored result. JSON round-trips
// numbers as float64.
func resultEntryID(result map[string]any) (int64, bool) {
	switch v := result["entry_id"].(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

func (s *Service) resolveWorkflow(ctx context.Context, module, model string) (switchboard.WorkflowFlag, error) {
	wf, err := s.governance.WorkflowForSource(ctx, module, model)
	if err != nil {
		if errors.Is(err, switchboard.ErrUnknownWorkflow) {
			return switchboard.WorkflowFlag{}, fmt.Errorf("%w: no workflow routes %s.%s",
				acctshared.ErrWorkflowDisabled, module, model)
		}
		return switchboard.WorkflowFlag{}, err
	}
	if err := s.governance.AuthorizeWorkflow(ctx, wf.Name); err != nil {
		return switchboard.WorkflowFlag{}, mapGovernanceErr(err, wf.Name)
	}
	return wf, nil
}

func mapGovernanceErr(err error, workflow string) error {
	switch {
	case errors.Is(err, switchboard.ErrEmergencyDisabled):
		return fmt.Errorf("%w: %s", acctshared.ErrEmergencyDisabled, workflow)
	case errors.Is(err, switchboard.ErrWorkflowDisabled), errors.Is(err, switchboard.ErrUnknownWorkflow):
		return fmt.Errorf("%w: %s", acctshared.ErrWorkflowDisabled, workflow)
	default:
		return err
	}
}

// persistEntry resolves the period, validates lines and accounts, and
// writes entry plus lines in one transaction. Posting happens in the same
// transaction when auto-post applies.
func (s *Service) persistEntry(ctx context.Context, in CreateEntryInput, wf switchboard.WorkflowFlag, now time.Time) (JournalEntry, error) {
	period, err := s.resolveOpenPeriod(ctx, in.Date)
	if err != nil {
		return JournalEntry{}, err
	}
	if err := in.validateLines(); err != nil {
		return JournalEntry{}, err
	}
	lines, err := s.resolveLines(ctx, in.Lines)
	if err != nil {
		return JournalEntry{}, err
	}

	entry := JournalEntry{
		Date:                 in.Date,
		EntryType:            in.EntryType,
		Status:               EntryStatusDraft,
		Description:          in.Description,
		Reference:            in.Reference,
		SourceModule:         in.SourceModule,
		SourceModel:          in.SourceModel,
		SourceID:             in.SourceID,
		PeriodID:             period.ID,
		FinancialCategory:    in.FinancialCategory,
		FinancialSubcategory: in.FinancialSubcategory,
		IdempotencyKey:       in.IdempotencyKey,
		CreatedByService:     shared.ServiceName,
		CreatedAt:            now,
		UpdatedAt:            now,
		Lines:                lines,
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextEntryNumber(ctx, NumberPrefix)
		if err != nil {
			return err
		}
		entry.Number = number
		if err := tx.InsertEntry(ctx, &entry); err != nil {
			return err
		}
		if in.autoPost() {
			if err := tx.MarkPosted(ctx, entry.ID, now, in.User, wf.HighPriority); err != nil {
				return err
			}
			entry.Status = EntryStatusPosted
			entry.PostedAt = &now
			entry.PostedBy = in.User
			entry.IsLocked = wf.HighPriority
			if wf.HighPriority {
				entry.LockedAt = &now
				entry.LockedBy = in.User
			}
		}
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

// resolveOpenPeriod distinguishes a date in a closed period from a date no
// period covers.
func (s *Service) resolveOpenPeriod(ctx context.Context, date time.Time) (periods.Period, error) {
	period, err := s.periods.FindOpenByDate(ctx, date)
	if err == nil {
		return period, nil
	}
	if !errors.Is(err, acctshared.ErrNoOpenPeriod) {
		return periods.Period{}, err
	}
	closed, anyErr := s.periods.FindAnyByDate(ctx, date)
	if anyErr == nil && closed.Status == periods.PeriodStatusClosed {
		return periods.Period{}, fmt.Errorf("%w: %s", acctshared.ErrPeriodClosed, closed.Name)
	}
	return periods.Period{}, fmt.Errorf("%w: %s", acctshared.ErrNoOpenPeriod, date.Format("2006-01-02"))
}

// resolveLines maps account codes to chart-of-accounts rows and refuses
// non-postable accounts.
func (s *Service) resolveLines(ctx context.Context, inputs []LineInput) ([]JournalLine, error) {
	lines := make([]JournalLine, 0, len(inputs))
	for i, in := range inputs {
		acct, err := s.accounts.LookupByCode(ctx, in.AccountCode)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return nil, fmt.Errorf("%w: line %d account %s not found", acctshared.ErrInvalidAccount, i+1, in.AccountCode)
			}
			return nil, err
		}
		if !acct.Postable() {
			return nil, fmt.Errorf("%w: line %d account %s not postable", acctshared.ErrInvalidAccount, i+1, in.AccountCode)
		}
		lines = append(lines, JournalLine{
			AccountID:   acct.ID,
			AccountCode: acct.Code,
			Debit:       in.Debit,
			Credit:      in.Credit,
			Description: in.Description,
			CostCenter:  in.CostCenter,
			Project:     in.Project,
		})
	}
	return lines, nil
}

// CreateReversalEntry posts a correcting mirror of a posted entry into the
// currently open period. Posted entries are never mutated; this is the
// only sanctioned correction path.
func (s *Service) CreateReversalEntry(ctx context.Context, in ReversalInput) (JournalEntry, error) {
	now := s.now().UTC()
	if in.Reason == "" {
		return JournalEntry{}, fmt.Errorf("%w: reason required", acctshared.ErrReversalNotAllowed)
	}
	if in.IdempotencyKey == "" {
		return JournalEntry{}, fmt.Errorf("%w: idempotency key required", shared.ErrValidation)
	}

	original, err := s.repo.GetEntry(ctx, in.OriginalEntryID)
	if err != nil {
		return JournalEntry{}, err
	}
	if err := s.checkReversible(ctx, original); err != nil {
		s.recordFailure(ctx, "JournalEntry", original.Number, in.User, err)
		return JournalEntry{}, err
	}

	wf, err := s.resolveWorkflow(ctx, original.SourceModule, original.SourceModel)
	if err != nil {
		s.recordFailure(ctx, "JournalEntry", original.Number, in.User, err)
		return JournalEntry{}, err
	}

	if replay, done, err := s.claimKey(ctx, idempotency.OpJournalEntry, in.IdempotencyKey, in.User, map[string]any{
		"original_entry_id": original.ID,
		"reason":            in.Reason,
	}); done {
		return replay, err
	}
	token := idempotency.Token{OperationType: idempotency.OpJournalEntry, Key: in.IdempotencyKey}

	reversal, err := s.persistReversal(ctx, original, in, wf, now)
	if err != nil {
		if recovered, ok := s.recoverCommitted(ctx, token, err); ok {
			return recovered, nil
		}
		s.failAttempt(ctx, token, "JournalEntry", original.Number, in.User, err)
		return JournalEntry{}, err
	}

	if err := s.idem.Complete(ctx, token, map[string]any{
		"entry_id":     reversal.ID,
		"entry_number": reversal.Number,
	}, resultTTL); err != nil {
		s.logger.Warn("idempotency completion failed",
			slog.String("key", in.IdempotencyKey), slog.Any("error", err))
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditRecord{
			ModelName: "JournalEntry",
			ObjectID:  fmt.Sprintf("%d", original.ID),
			Operation: "journal.reverse",
			User:      in.User,
			Before:    map[string]any{"number": original.Number, "status": original.Status},
			After: map[string]any{
				"reversal_id":     reversal.ID,
				"reversal_number": reversal.Number,
				"reason":          in.Reason,
			},
			At: now,
		})
	}
	if s.metrics != nil {
		s.metrics.ReversalCreated()
	}
	s.logger.Info("journal entry reversed",
		slog.String("original", original.Number), slog.String("reversal", reversal.Number))
	return reversal, nil
}

func (s *Service) checkReversible(ctx context.Context, original JournalEntry) error {
	if !original.IsPosted() {
		return fmt.Errorf("%w: entry %s is %s", acctshared.ErrReversalNotAllowed, original.Number, original.Status)
	}
	if original.IsReversal {
		return fmt.Errorf("%w: entry %s is itself a reversal", acctshared.ErrReversalNotAllowed, original.Number)
	}
	reversed, err := s.repo.HasReversal(ctx, original.ID)
	if err != nil {
		return err
	}
	if reversed {
		return fmt.Errorf("%w: entry %s already reversed", acctshared.ErrReversalNotAllowed, original.Number)
	}
	return nil
}

func (s *Service) persistReversal(ctx context.Context, original JournalEntry, in ReversalInput, wf switchboard.WorkflowFlag, now time.Time) (JournalEntry, error) {
	// Reversals post into the currently open period, never backdated into
	// the original's.
	period, err := s.resolveOpenPeriod(ctx, now)
	if err != nil {
		return JournalEntry{}, err
	}

	lines, err := reversalLines(original, in.PartialAmount)
	if err != nil {
		return JournalEntry{}, err
	}
	// Generated lines pass the same gate as caller input before touching
	// the ledger.
	if err := validateJournalLines(lines); err != nil {
		return JournalEntry{}, err
	}

	originalID := original.ID
	reversal := JournalEntry{
		Date:                 now,
		EntryType:            EntryTypeReversal,
		Status:               EntryStatusDraft,
		Description:          fmt.Sprintf("Reversal of %s: %s", original.Number, in.Reason),
		Reference:            original.Number,
		SourceModule:         original.SourceModule,
		SourceModel:          original.SourceModel,
		SourceID:             original.SourceID,
		PeriodID:             period.ID,
		FinancialCategory:    original.FinancialCategory,
		FinancialSubcategory: original.FinancialSubcategory,
		IdempotencyKey:       in.IdempotencyKey,
		CreatedByService:     shared.ServiceName,
		OriginalEntryID:      &originalID,
		IsReversal:           true,
		ReversalReason:       in.Reason,
		CreatedAt:            now,
		UpdatedAt:            now,
		Lines:                lines,
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		// Re-check under lock so racing reversals cannot both commit.
		locked, err := tx.GetEntryForUpdate(ctx, original.ID)
		if err != nil {
			return err
		}
		if !locked.IsPosted() {
			return fmt.Errorf("%w: entry %s is %s", acctshared.ErrReversalNotAllowed, locked.Number, locked.Status)
		}
		reversed, err := tx.HasReversal(ctx, original.ID)
		if err != nil {
			return err
		}
		if reversed {
			return fmt.Errorf("%w: entry %s already reversed", acctshared.ErrReversalNotAllowed, locked.Number)
		}
		number, err := tx.NextEntryNumber(ctx, NumberPrefix)
		if err != nil {
			return err
		}
		reversal.Number = number
		if err := tx.InsertEntry(ctx, &reversal); err != nil {
			return err
		}
		if err := tx.MarkPosted(ctx, reversal.ID, now, in.User, wf.HighPriority); err != nil {
			return err
		}
		reversal.Status = EntryStatusPosted
		reversal.PostedAt = &now
		reversal.PostedBy = in.User
		reversal.IsLocked = wf.HighPriority
		if wf.HighPriority {
			reversal.LockedAt = &now
			reversal.LockedBy = in.User
		}
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	return reversal, nil
}

// reversalLines mirrors the original lines with debit and credit swapped.
// A partial amount scales every line by amount/total with half-even
// rounding; the last line of each side absorbs the rounding remainder so
// both sides sum to exactly the reversed amount, and lines that round
// away to zero are dropped.
func reversalLines(original JournalEntry, partial *decimal.Decimal) ([]JournalLine, error) {
	mirrored := make([]JournalLine, 0, len(original.Lines))
	for _, line := range original.Lines {
		mirrored = append(mirrored, JournalLine{
			AccountID:   line.AccountID,
			AccountCode: line.AccountCode,
			Debit:       line.Credit,
			Credit:      line.Debit,
			Description: line.Description,
			CostCenter:  line.CostCenter,
			Project:     line.Project,
		})
	}
	if partial == nil {
		return mirrored, nil
	}

	if !partial.IsPositive() {
		return nil, fmt.Errorf("%w: partial amount must be positive", acctshared.ErrReversalNotAllowed)
	}
	amount := partial.RoundBank(2)
	if amount.IsZero() {
		return nil, fmt.Errorf("%w: partial amount %s is zero at scale 2",
			acctshared.ErrReversalNotAllowed, partial.String())
	}
	total := original.TotalDebit()
	if amount.GreaterThan(total) {
		return nil, fmt.Errorf("%w: partial amount %s exceeds entry total %s",
			acctshared.ErrReversalNotAllowed, amount.StringFixed(2), total.StringFixed(2))
	}
	factor := amount.Div(total)

	// A mirrored line's side follows the original line, not the scaled
	// amount, which may round to zero.
	debitSum, creditSum := decimal.Zero, decimal.Zero
	lastDebit, lastCredit := -1, -1
	for i, src := range original.Lines {
		mirrored[i].Debit = mirrored[i].Debit.Mul(factor).RoundBank(2)
		mirrored[i].Credit = mirrored[i].Credit.Mul(factor).RoundBank(2)
		if src.Credit.IsPositive() {
			debitSum = debitSum.Add(mirrored[i].Debit)
			lastDebit = i
		} else {
			creditSum = creditSum.Add(mirrored[i].Credit)
			lastCredit = i
		}
	}
	if lastDebit < 0 || lastCredit < 0 {
		return nil, fmt.Errorf("%w: entry %s has no reversible lines",
			acctshared.ErrReversalNotAllowed, original.Number)
	}
	mirrored[lastDebit].Debit = mirrored[lastDebit].Debit.Add(amount.Sub(debitSum))
	mirrored[lastCredit].Credit = mirrored[lastCredit].Credit.Add(amount.Sub(creditSum))

	kept := make([]JournalLine, 0, len(mirrored))
	for _, line := range mirrored {
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return nil, fmt.Errorf("%w: partial amount %s cannot be split across the original lines at scale 2",
				acctshared.ErrReversalNotAllowed, amount.StringFixed(2))
		}
		if line.Debit.IsZero() && line.Credit.IsZero() {
			continue
		}
		kept = append(kept, line)
	}
	return kept, nil
}

// PostEntry posts a draft. The entry's period must still be open.
func (s *Service) PostEntry(ctx context.Context, id int64, user string) (JournalEntry, error) {
	now := s.now().UTC()
	var posted JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetEntryForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if entry.IsPosted() {
			return fmt.Errorf("%w: %s", acctshared.ErrPostedImmutable, entry.Number)
		}
		if entry.Status != EntryStatusDraft {
			return fmt.Errorf("%w: %s is %s", acctshared.ErrInvalidStatus, entry.Number, entry.Status)
		}
		period, err := s.periods.GetByID(ctx, entry.PeriodID)
		if err != nil {
			return err
		}
		if !period.IsOpen() {
			return fmt.Errorf("%w: %s", acctshared.ErrPeriodClosed, period.Name)
		}
		highPriority := false
		if wf, err := s.governance.WorkflowForSource(ctx, entry.SourceModule, entry.SourceModel); err == nil {
			highPriority = wf.HighPriority
		}
		if err := tx.MarkPosted(ctx, entry.ID, now, user, highPriority); err != nil {
			return err
		}
		entry.Status = EntryStatusPosted
		entry.PostedAt = &now
		entry.PostedBy = user
		entry.IsLocked = highPriority
		posted = entry
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.recordEntryAudit(ctx, posted, "journal.post", user)
	return posted, nil
}

// CancelEntry cancels a draft. Posted entries are immutable; cancelling
// one is refused regardless of actor.
func (s *Service) CancelEntry(ctx context.Context, id int64, user string) error {
	now := s.now().UTC()
	var cancelled JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetEntryForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if entry.IsPosted() {
			return fmt.Errorf("%w: %s", acctshared.ErrPostedImmutable, entry.Number)
		}
		if entry.Status != EntryStatusDraft {
			return fmt.Errorf("%w: %s is %s", acctshared.ErrInvalidStatus, entry.Number, entry.Status)
		}
		if err := tx.MarkCancelled(ctx, entry.ID, now); err != nil {
			return err
		}
		entry.Status = EntryStatusCancelled
		cancelled = entry
		return nil
	})
	if err != nil {
		return err
	}
	s.recordEntryAudit(ctx, cancelled, "journal.cancel", user)
	return nil
}

// GetEntry loads one entry with its lines.
func (s *Service) GetEntry(ctx context.Context, id int64) (JournalEntry, error) {
	return s.repo.GetEntry(ctx, id)
}

// GetEntryByNumber loads one entry by its minted number.
func (s *Service) GetEntryByNumber(ctx context.Context, number string) (JournalEntry, error) {
	return s.repo.GetEntryByNumber(ctx, number)
}

// ListEntries pages over the journal, newest first.
func (s *Service) ListEntries(ctx context.Context, p shared.Pagination) ([]JournalEntry, error) {
	return s.repo.ListEntries(ctx, p)
}

// EnforcePeriodLocksForWorkflow locks every posted entry of the workflow's
// sources that sits in a closed period but escaped the close-time sweep.
func (s *Service) EnforcePeriodLocksForWorkflow(ctx context.Context, module, model, user string) (int64, error) {
	now := s.now().UTC()
	count, err := s.repo.LockPostedForSource(ctx, module, model, now, user)
	if err != nil {
		return 0, err
	}
	if count > 0 && s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditRecord{
			ModelName: "JournalEntry",
			ObjectID:  module + "." + model,
			Operation: "journal.lock_sweep",
			User:      user,
			After:     map[string]any{"locked": count},
			At:        now,
		})
	}
	return count, nil
}

// recoverCommitted settles a retry that tripped the entry's unique
// idempotency key. Completion runs after the ledger commit, so a crash in
// between leaves a committed entry behind a STARTED record; once the
// record expires and is reclaimed, the retry's insert collides with that
// entry. The committed entry is the operation's outcome: load it, mark
// the record completed, and replay it.
func (s *Service) recoverCommitted(ctx context.Context, token idempotency.Token, cause error) (JournalEntry, bool) {
	if !errors.Is(cause, acctshared.ErrEntryExists) {
		return JournalEntry{}, false
	}
	entry, err := s.repo.GetEntryByIdempotencyKey(ctx, token.Key)
	if err != nil {
		s.logger.Warn("committed entry lookup failed",
			slog.String("key", token.Key), slog.Any("error", err))
		return JournalEntry{}, false
	}
	if err := s.idem.Complete(ctx, token, map[string]any{
		"entry_id":     entry.ID,
		"entry_number": entry.Number,
	}, resultTTL); err != nil {
		s.logger.Warn("idempotency completion failed",
			slog.String("key", token.Key), slog.Any("error", err))
	}
	s.logger.Info("idempotent replay", slog.String("key", token.Key), slog.String("number", entry.Number))
	return entry, true
}

func (s *Service) failAttempt(ctx context.Context, token idempotency.Token, model, objectID, user string, cause error) {
	code := acctshared.ErrorCode(cause)
	if err := s.idem.Fail(ctx, token, code); err != nil {
		s.logger.Warn("idempotency fail-mark failed", slog.String("key", token.Key), slog.Any("error", err))
	}
	s.recordFailure(ctx, model, objectID, user, cause)
	if s.metrics != nil {
		s.metrics.EntryFailed(code)
	}
}

func (s *Service) recordFailure(ctx context.Context, model, objectID, user string, cause error) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditRecord{
		ModelName: model,
		ObjectID:  objectID,
		Operation: "journal.create.failed",
		User:      user,
		After: map[string]any{
			"error_code": acctshared.ErrorCode(cause),
			"error":      cause.Error(),
		},
		At: s.now().UTC(),
	})
}

func (s *Service) recordEntryAudit(ctx context.Context, entry JournalEntry, operation, user string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditRecord{
		ModelName: "JournalEntry",
		ObjectID:  fmt.Sprintf("%d", entry.ID),
		Operation: operation,
		User:      user,
		After: map[string]any{
			"number":    entry.Number,
			"status":    entry.Status,
			"period_id": entry.PeriodID,
			"source":    fmt.Sprintf("%s.%s:%d", entry.SourceModule, entry.SourceModel, entry.SourceID),
			"is_locked": entry.IsLocked,
		},
		At: s.now().UTC(),
	})
}
