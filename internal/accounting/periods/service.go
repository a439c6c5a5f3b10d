package periods

import (
	"context"
	"fmt"
	"time"

	acctshared "github.com/ledgergate/ledgergate/internal/accounting/shared"
	"github.com/ledgergate/ledgergate/internal/shared"
)

// AuditPort records period governance operations.
type AuditPort interface {
	Record(ctx context.Context, rec shared.AuditRecord) error
}

// Service coordinates period lifecycle and lock enforcement.
type Service struct {
	repo  Repository
	audit AuditPort
	now   func() time.Time
}

// NewService builds the period service.
func NewService(repo Repository, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock, used in tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// FindOpenByDate returns the open period whose inclusive range contains date.
func (s *Service) FindOpenByDate(ctx context.Context, date time.Time) (Period, error) {
	return s.repo.FindOpenByDate(ctx, date)
}

// FindAnyByDate returns the period containing date regardless of status.
func (s *Service) FindAnyByDate(ctx context.Context, date time.Time) (Period, error) {
	return s.repo.FindAnyByDate(ctx, date)
}

// GetByID returns a period by id.
func (s *Service) GetByID(ctx context.Context, id int64) (Period, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns all periods, newest first.
func (s *Service) List(ctx context.Context) ([]Period, error) {
	return s.repo.List(ctx)
}

// ClosePeriod marks the period closed and locks every posted entry whose
// date falls in its range, as one atomic batch.
func (s *Service) ClosePeriod(ctx context.Context, periodID int64, user string) (CloseSummary, error) {
	if user == "" {
		return CloseSummary{}, fmt.Errorf("periods: user required")
	}
	var summary CloseSummary
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		period, err := tx.GetForUpdate(ctx, periodID)
		if err != nil {
			return err
		}
		if period.Status == PeriodStatusClosed {
			return acctshared.ErrPeriodClosed
		}
		now := s.now().UTC()
		if err := tx.SetClosed(ctx, period.ID, now, user); err != nil {
			return err
		}
		locked, err := tx.LockPostedEntriesInRange(ctx, period.StartDate, period.EndDate, now, user)
		if err != nil {
			return err
		}
		summary = CloseSummary{
			PeriodID:      period.ID,
			PeriodName:    period.Name,
			EntriesLocked: locked,
			ClosedAt:      now,
			ClosedBy:      user,
		}
		return nil
	})
	if err != nil {
		return CloseSummary{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditRecord{
			ModelName: "AccountingPeriod",
			ObjectID:  fmt.Sprintf("%d", summary.PeriodID),
			Operation: "period.close",
			User:      user,
			After: map[string]any{
				"entries_locked": summary.EntriesLocked,
				"closed_at":      summary.ClosedAt,
			},
			At: s.now(),
		})
	}
	return summary, nil
}

// ValidateLockCompliance reports posted entries inside the period that
// should be locked but are not. Read-only.
func (s *Service) ValidateLockCompliance(ctx context.Context, periodID int64) (ComplianceReport, error) {
	period, err := s.repo.GetByID(ctx, periodID)
	if err != nil {
		return ComplianceReport{}, err
	}
	report := ComplianceReport{
		PeriodID:   period.ID,
		PeriodName: period.Name,
		Status:     period.Status,
		Compliant:  true,
		CheckedAt:  s.now().UTC(),
	}
	if period.Status != PeriodStatusClosed {
		// Open periods carry no lock obligation.
		return report, nil
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		issues, err := tx.ListUnlockedPostedInRange(ctx, period.StartDate, period.EndDate)
		if err != nil {
			return err
		}
		report.Issues = issues
		report.Compliant = len(issues) == 0
		return nil
	})
	if err != nil {
		return ComplianceReport{}, err
	}
	return report, nil
}
