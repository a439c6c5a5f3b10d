package gateway

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryType enumerates journal entry origins.
type EntryType string

const (
	EntryTypeManual     EntryType = "MANUAL"
	EntryTypeAutomatic  EntryType = "AUTOMATIC"
	EntryTypeAdjustment EntryType = "ADJUSTMENT"
	EntryTypeClosing    EntryType = "CLOSING"
	EntryTypeOpening    EntryType = "OPENING"
	EntryTypeReversal   EntryType = "REVERSAL"
	EntryTypeFee        EntryType = "FEE"
)

// EntryStatus enumerates journal lifecycle values.
type EntryStatus string

const (
	EntryStatusDraft     EntryStatus = "DRAFT"
	EntryStatusPosted    EntryStatus = "POSTED"
	EntryStatusCancelled EntryStatus = "CANCELLED"
)

// NumberPrefix is the canonical prefix for minted entry numbers.
const NumberPrefix = "JE"

// BalanceTolerance is the rounding tolerance for debit/credit equality.
var BalanceTolerance = decimal.RequireFromString("0.01")

// JournalEntry is a balanced accounting transaction. Rows are produced
// exclusively by this package; a posted entry is immutable except via
// reversal.
type JournalEntry struct {
	ID          int64
	Number      string
	Date        time.Time
	EntryType   EntryType
	Status      EntryStatus
	Description string
	Reference   string

	// Free-form reference pair kept for display; the structured triple
	// below is what source linkage validates.
	ReferenceType string
	ReferenceID   string

	SourceModule string
	SourceModel  string
	SourceID     int64

	PeriodID int64

	FinancialCategory    string
	FinancialSubcategory string

	PostedAt *time.Time
	PostedBy string

	IdempotencyKey   string
	CreatedByService string

	OriginalEntryID *int64
	IsReversal      bool
	ReversalReason  string

	IsLocked bool
	LockedAt *time.Time
	LockedBy string

	CreatedAt time.Time
	UpdatedAt time.Time
	Lines     []JournalLine
}

// IsPosted reports whether the entry's effect is reflected in the ledger.
func (e JournalEntry) IsPosted() bool {
	return e.Status == EntryStatusPosted
}

// TotalDebit sums the entry's debit side at scale 2.
func (e JournalEntry) TotalDebit() decimal.Decimal {
	total := decimal.Zero
	for _, line := range e.Lines {
		total = total.Add(line.Debit)
	}
	return total.RoundBank(2)
}

// TotalCredit sums the entry's credit side at scale 2.
func (e JournalEntry) TotalCredit() decimal.Decimal {
	total := decimal.Zero
	for _, line := range e.Lines {
		total = total.Add(line.Credit)
	}
	return total.RoundBank(2)
}

// JournalLine is a single debit or credit against one account. Exactly
// one of Debit, Credit is positive.
type JournalLine struct {
	ID          int64
	EntryID     int64
	AccountID   int64
	AccountCode string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
	CostCenter  string
	Project     string
}
