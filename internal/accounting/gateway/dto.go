package gateway

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	acctshared "github.com/ledgergate/ledgergate/internal/accounting/shared"
)

// LineInput is one requested journal line. Amounts are rounded half-even
// to scale 2 before any balance arithmetic.
type LineInput struct {
	AccountCode string          `json:"account_code" validate:"required"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Description string          `json:"description"`
	CostCenter  string          `json:"cost_center"`
	Project     string          `json:"project"`
}

// CreateEntryInput is the single write surface for journal entries.
type CreateEntryInput struct {
	SourceModule string `json:"source_module" validate:"required"`
	SourceModel  string `json:"source_model" validate:"required"`
	SourceID     int64  `json:"source_id" validate:"required,gt=0"`

	Lines []LineInput `json:"lines" validate:"required,min=2,dive"`

	IdempotencyKey string `json:"idempotency_key" validate:"required"`
	User           string `json:"user" validate:"required"`

	EntryType   EntryType `json:"entry_type"`
	Description string    `json:"description"`
	Reference   string    `json:"reference"`
	Date        time.Time `json:"date"`

	FinancialCategory    string `json:"financial_category"`
	FinancialSubcategory string `json:"financial_subcategory"`

	// AutoPost defaults to true for machine-originated entries and false
	// for manual ones.
	AutoPost *bool `json:"auto_post"`
}

func (in *CreateEntryInput) normalize(now time.Time) {
	in.SourceModule = strings.TrimSpace(in.SourceModule)
	in.SourceModel = strings.TrimSpace(in.SourceModel)
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)
	if in.EntryType == "" {
		in.EntryType = EntryTypeAutomatic
	}
	if in.Date.IsZero() {
		in.Date = now
	}
	for i := range in.Lines {
		in.Lines[i].AccountCode = strings.TrimSpace(in.Lines[i].AccountCode)
		in.Lines[i].Debit = in.Lines[i].Debit.RoundBank(2)
		in.Lines[i].Credit = in.Lines[i].Credit.RoundBank(2)
	}
}

func (in CreateEntryInput) autoPost() bool {
	if in.AutoPost != nil {
		return *in.AutoPost
	}
	return in.EntryType != EntryTypeManual
}

// validateLines checks the per-line and balance invariants. It runs after
// normalize, so amounts are already at scale 2.
func (in CreateEntryInput) validateLines() error {
	if len(in.Lines) < 2 {
		return fmt.Errorf("%w: got %d", acctshared.ErrTooFewLines, len(in.Lines))
	}
	totalDebit := decimal.Zero
	totalCredit := decimal.Zero
	for i, line := range in.Lines {
		if line.AccountCode == "" {
			return fmt.Errorf("%w: line %d missing account code", acctshared.ErrInvalidLine, i+1)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return fmt.Errorf("%w: line %d has a negative amount", acctshared.ErrInvalidLine, i+1)
		}
		debitSet := line.Debit.IsPositive()
		creditSet := line.Credit.IsPositive()
		if debitSet == creditSet {
			return fmt.Errorf("%w: line %d must carry exactly one of debit or credit", acctshared.ErrInvalidLine, i+1)
		}
		totalDebit = totalDebit.Add(line.Debit)
		totalCredit = totalCredit.Add(line.Credit)
	}
	diff := totalDebit.Sub(totalCredit).Abs()
	if diff.GreaterThan(BalanceTolerance) {
		return fmt.Errorf("%w: debits %s, credits %s, difference %s",
			acctshared.ErrUnbalanced, totalDebit.StringFixed(2), totalCredit.StringFixed(2), diff.StringFixed(2))
	}
	return nil
}

// validateJournalLines holds generated lines to the invariants
// validateLines enforces on caller input: at least two lines, each line
// one-sided and positive, debits and credits balanced within tolerance.
func validateJournalLines(lines []JournalLine) error {
	if len(lines) < 2 {
		return fmt.Errorf("%w: got %d", acctshared.ErrTooFewLines, len(lines))
	}
	totalDebit := decimal.Zero
	totalCredit := decimal.Zero
	for i, line := range lines {
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return fmt.Errorf("%w: line %d has a negative amount", acctshared.ErrInvalidLine, i+1)
		}
		if line.Debit.IsPositive() == line.Credit.IsPositive() {
			return fmt.Errorf("%w: line %d must carry exactly one of debit or credit", acctshared.ErrInvalidLine, i+1)
		}
		totalDebit = totalDebit.Add(line.Debit)
		totalCredit = totalCredit.Add(line.Credit)
	}
	diff := totalDebit.Sub(totalCredit).Abs()
	if diff.GreaterThan(BalanceTolerance) {
		return fmt.Errorf("%w: debits %s, credits %s, difference %s",
			acctshared.ErrUnbalanced, totalDebit.StringFixed(2), totalCredit.StringFixed(2), diff.StringFixed(2))
	}
	return nil
}

// ReversalInput requests a full or partial reversal of a posted entry.
type ReversalInput struct {
	OriginalEntryID int64  `json:"original_entry_id" validate:"required,gt=0"`
	Reason          string `json:"reason" validate:"required"`
	User            string `json:"user" validate:"required"`
	IdempotencyKey  string `json:"idempotency_key" validate:"required"`

	// PartialAmount, when set, scales every line by amount/total. Nil
	// reverses the entry in full.
	PartialAmount *decimal.Decimal `json:"partial_amount"`
}

// EntryResponse is the API shape of a journal entry.
type EntryResponse struct {
	ID                   int64          `json:"id"`
	Number               string         `json:"number"`
	Date                 string         `json:"date"`
	EntryType            EntryType      `json:"entry_type"`
	Status               EntryStatus    `json:"status"`
	Description          string         `json:"description,omitempty"`
	Reference            string         `json:"reference,omitempty"`
	SourceModule         string         `json:"source_module"`
	SourceModel          string         `json:"source_model"`
	SourceID             int64          `json:"source_id"`
	PeriodID             int64          `json:"period_id"`
	FinancialCategory    string         `json:"financial_category,omitempty"`
	FinancialSubcategory string         `json:"financial_subcategory,omitempty"`
	PostedAt             *time.Time     `json:"posted_at,omitempty"`
	PostedBy             string         `json:"posted_by,omitempty"`
	OriginalEntryID      *int64         `json:"original_entry_id,omitempty"`
	IsReversal           bool           `json:"is_reversal"`
	ReversalReason       string         `json:"reversal_reason,omitempty"`
	IsLocked             bool           `json:"is_locked"`
	TotalDebit           string         `json:"total_debit"`
	TotalCredit          string         `json:"total_credit"`
	Lines                []LineResponse `json:"lines"`
	CreatedAt            time.Time      `json:"created_at"`
}

// LineResponse is the API shape of a journal line.
type LineResponse struct {
	ID          int64  `json:"id"`
	AccountID   int64  `json:"account_id"`
	AccountCode string `json:"account_code"`
	Debit       string `json:"debit"`
	Credit      string `json:"credit"`
	Description string `json:"description,omitempty"`
	CostCenter  string `json:"cost_center,omitempty"`
	Project     string `json:"project,omitempty"`
}

// ToEntryResponse maps a model entry to its API shape.
func ToEntryResponse(e JournalEntry) EntryResponse {
	resp := EntryResponse{
		ID:                   e.ID,
		Number:               e.Number,
		Date:                 e.Date.Format("2006-01-02"),
		EntryType:            e.EntryType,
		Status:               e.Status,
		Description:          e.Description,
		Reference:            e.Reference,
		SourceModule:         e.SourceModule,
		SourceModel:          e.SourceModel,
		SourceID:             e.SourceID,
		PeriodID:             e.PeriodID,
		FinancialCategory:    e.FinancialCategory,
		FinancialSubcategory: e.FinancialSubcategory,
		PostedAt:             e.PostedAt,
		PostedBy:             e.PostedBy,
		OriginalEntryID:      e.OriginalEntryID,
		IsReversal:           e.IsReversal,
		ReversalReason:       e.ReversalReason,
		IsLocked:             e.IsLocked,
		TotalDebit:           e.TotalDebit().StringFixed(2),
		TotalCredit:          e.TotalCredit().StringFixed(2),
		CreatedAt:            e.CreatedAt,
	}
	for _, line := range e.Lines {
		resp.Lines = append(resp.Lines, LineResponse{
			ID:          line.ID,
			AccountID:   line.AccountID,
			AccountCode: line.AccountCode,
			Debit:       line.Debit.StringFixed(2),
			Credit:      line.Credit.StringFixed(2),
			Description: line.Description,
			CostCenter:  line.CostCenter,
			Project:     line.Project,
		})
	}
	return resp
}
