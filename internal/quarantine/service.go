package quarantine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ledgergate/ledgergate/internal/shared"
)

// AuditPort records quarantine decisions.
type AuditPort interface {
	Record(ctx context.Context, rec shared.AuditRecord) error
}

// Service isolates suspect records pending review. Quarantined data is
// marked, never deleted.
type Service struct {
	repo  Repository
	audit AuditPort
	now   func() time.Time
}

// NewService builds the quarantine service.
func NewService(repo Repository, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock, used in tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Submit quarantines an object.
func (s *Service) Submit(ctx context.Context, sub Submission) (Record, error) {
	if sub.ModelName == "" || sub.ObjectID == "" {
		return Record{}, errors.New("quarantine: model and object id required")
	}
	if sub.CorruptionType == "" {
		return Record{}, errors.New("quarantine: corruption type required")
	}
	if sub.Confidence == "" {
		sub.Confidence = ConfidenceLow
	}
	rec := Record{
		ID:             uuid.New(),
		ModelName:      sub.ModelName,
		ObjectID:       sub.ObjectID,
		CorruptionType: sub.CorruptionType,
		Confidence:     sub.Confidence,
		Reason:         sub.Reason,
		Evidence:       sub.Evidence,
		OriginalData:   sub.OriginalData,
		Status:         StatusQuarantined,
		CreatedBy:      sub.CreatedBy,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.repo.Insert(ctx, rec); err != nil {
		return Record{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditRecord{
			ModelName: sub.ModelName,
			ObjectID:  sub.ObjectID,
			Operation: "quarantine.submit",
			User:      sub.CreatedBy,
			After: map[string]any{
				"quarantine_id":   rec.ID.String(),
				"corruption_type": rec.CorruptionType,
				"confidence":      rec.Confidence,
				"reason":          rec.Reason,
			},
			At: rec.CreatedAt,
		})
	}
	return rec, nil
}

// Get returns one quarantine record.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	return s.repo.Get(ctx, id)
}

// List queries records by corruption type, confidence, status and age.
func (s *Service) List(ctx context.Context, filter Filter) ([]Record, error) {
	return s.repo.List(ctx, filter)
}

// Release marks a record reviewed and safe.
func (s *Service) Release(ctx context.Context, id uuid.UUID, user string) error {
	return s.review(ctx, id, StatusReleased, user)
}

// Discard marks a record reviewed and unrecoverable. The row itself stays.
func (s *Service) Discard(ctx context.Context, id uuid.UUID, user string) error {
	return s.review(ctx, id, StatusDiscarded, user)
}

func (s *Service) review(ctx context.Context, id uuid.UUID, status Status, user string) error {
	now := s.now().UTC()
	if err := s.repo.SetStatus(ctx, id, status, user, now); err != nil {
		return err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditRecord{
			ModelName: "QuarantineRecord",
			ObjectID:  id.String(),
			Operation: "quarantine.review",
			User:      user,
			After:     map[string]any{"status": status},
			At:        now,
		})
	}
	return nil
}

// PendingCount reports how many records await review.
func (s *Service) PendingCount(ctx context.Context) (int64, error) {
	return s.repo.CountByStatus(ctx, StatusQuarantined)
}
