package periods

import "time"

// PeriodStatus enumerates valid period states.
type PeriodStatus string

const (
	PeriodStatusOpen   PeriodStatus = "OPEN"
	PeriodStatusClosed PeriodStatus = "CLOSED"
)

// Period represents an accounting period window. Ranges are inclusive
// and periods never overlap.
type Period struct {
	ID        int64
	Name      string
	StartDate time.Time
	EndDate   time.Time
	Status    PeriodStatus
	ClosedAt  *time.Time
	ClosedBy  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Contains reports whether date falls within [StartDate, EndDate].
func (p Period) Contains(date time.Time) bool {
	d := date.Truncate(24 * time.Hour)
	return !d.Before(p.StartDate) && !d.After(p.EndDate)
}

// IsOpen reports whether the period accepts postings.
func (p Period) IsOpen() bool {
	return p.Status == PeriodStatusOpen
}

// CloseSummary reports the outcome of closing a period.
type CloseSummary struct {
	PeriodID      int64
	PeriodName    string
	EntriesLocked int64
	ClosedAt      time.Time
	ClosedBy      string
}

// ComplianceIssue flags a posted entry that should be locked but is not.
type ComplianceIssue struct {
	EntryID     int64
	EntryNumber string
	Date        time.Time
}

// ComplianceReport summarises period-lock compliance for one period.
type ComplianceReport struct {
	PeriodID   int64
	PeriodName string
	Status     PeriodStatus
	Compliant  bool
	Issues     []ComplianceIssue
	CheckedAt  time.Time
}
