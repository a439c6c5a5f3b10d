package switchboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ledgergate/ledgergate/internal/shared"
)

// Governance refusals surfaced to callers.
var (
	ErrWorkflowDisabled  = errors.New("switchboard: workflow disabled")
	ErrEmergencyDisabled = errors.New("switchboard: emergency disabled")
	ErrUnknownWorkflow   = errors.New("switchboard: unknown workflow")
	ErrUnknownFlag       = errors.New("switchboard: unknown flag")
	ErrDependencyMissing = errors.New("switchboard: component dependency disabled")
	ErrCriticalComponent = errors.New("switchboard: critical component requires reason")
)

// AuditPort records every flag change.
type AuditPort interface {
	Record(ctx context.Context, rec shared.AuditRecord) error
}

// Service is the governance switchboard. Flag state is read-mostly;
// writers serialise through mu and invalidate the read-through cache.
type Service struct {
	repo   Repository
	cache  *StateCache
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewService builds the switchboard.
func NewService(repo Repository, cache *StateCache, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: cache, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock, used in tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) loadState(ctx context.Context) (State, error) {
	if state, ok := s.cache.Get(ctx); ok {
		return state, nil
	}
	state, err := s.repo.LoadState(ctx)
	if err != nil {
		return State{}, err
	}
	s.cache.Set(ctx, state)
	return state, nil
}

// CurrentState returns the full flag state, served from cache when warm.
func (s *Service) CurrentState(ctx context.Context) (State, error) {
	return s.loadState(ctx)
}

// IsComponentEnabled reports the effective state of one component flag.
func (s *Service) IsComponentEnabled(ctx context.Context, name string) (bool, error) {
	state, err := s.loadState(ctx)
	if err != nil {
		return false, err
	}
	flag, ok := state.Components[name]
	if !ok {
		return false, ErrUnknownFlag
	}
	return flag.Enabled, nil
}

// IsWorkflowEnabled reports whether the workflow is effective: the flag
// itself on, every component dependency on, no covering emergency active.
func (s *Service) IsWorkflowEnabled(ctx context.Context, name string) (bool, error) {
	state, err := s.loadState(ctx)
	if err != nil {
		return false, err
	}
	err = authorizeWorkflow(state, name)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrUnknownWorkflow):
		return false, err
	default:
		return false, nil
	}
}

// AuthorizeWorkflow refuses with a typed error when the workflow may not
// run: ErrWorkflowDisabled, ErrEmergencyDisabled or ErrUnknownWorkflow.
func (s *Service) AuthorizeWorkflow(ctx context.Context, name string) error {
	state, err := s.loadState(ctx)
	if err != nil {
		return err
	}
	return authorizeWorkflow(state, name)
}

func authorizeWorkflow(state State, name string) error {
	flag, ok := state.Workflows[name]
	if !ok {
		return ErrUnknownWorkflow
	}
	for _, em := range state.Emergencies {
		if em.Active && emergencyCovers(em, name) {
			return fmt.Errorf("%w: %s", ErrEmergencyDisabled, em.Name)
		}
	}
	if !flag.Enabled {
		return ErrWorkflowDisabled
	}
	for _, dep := range flag.ComponentDependencies {
		comp, ok := state.Components[dep]
		if !ok || !comp.Enabled {
			return fmt.Errorf("%w: %s", ErrWorkflowDisabled, dep)
		}
	}
	return nil
}

func emergencyCovers(em EmergencyFlag, workflow string) bool {
	if len(em.Covers) == 0 {
		return true
	}
	for _, w := range em.Covers {
		if w == workflow {
			return true
		}
	}
	return false
}

// WorkflowForSource resolves the workflow routing a "module.model" source.
func (s *Service) WorkflowForSource(ctx context.Context, module, model string) (WorkflowFlag, error) {
	state, err := s.loadState(ctx)
	if err != nil {
		return WorkflowFlag{}, err
	}
	binding := module + "." + model
	for _, flag := range state.Workflows {
		for _, b := range flag.SourceBindings {
			if b == binding {
				return flag, nil
			}
		}
	}
	return WorkflowFlag{}, ErrUnknownWorkflow
}

// IsHighPriorityWorkflow reports whether entries for the workflow lock at
// posting time. The list is switchboard state, not code.
func (s *Service) IsHighPriorityWorkflow(ctx context.Context, name string) (bool, error) {
	state, err := s.loadState(ctx)
	if err != nil {
		return false, err
	}
	flag, ok := state.Workflows[name]
	if !ok {
		return false, ErrUnknownWorkflow
	}
	return flag.HighPriority, nil
}

// EnableComponent turns a component on.
func (s *Service) EnableComponent(ctx context.Context, name, user, reason string) error {
	return s.setComponent(ctx, name, true, user, reason)
}

// DisableComponent turns a component off. Critical components require a reason.
func (s *Service) DisableComponent(ctx context.Context, name, user, reason string) error {
	return s.setComponent(ctx, name, false, user, reason)
}

func (s *Service) setComponent(ctx context.Context, name string, enabled bool, user, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.repo.LoadState(ctx)
	if err != nil {
		return err
	}
	flag, ok := state.Components[name]
	if !ok {
		return ErrUnknownFlag
	}
	if !enabled && flag.Critical && reason == "" {
		return ErrCriticalComponent
	}
	if err := s.repo.SetComponent(ctx, name, enabled); err != nil {
		return err
	}
	s.cache.Invalidate(ctx)
	s.recordFlagChange(ctx, "ComponentFlag", name, flag.Enabled, enabled, user, reason)
	return nil
}

// EnableWorkflow turns a workflow on. Every component dependency must be
// enabled first.
func (s *Service) EnableWorkflow(ctx context.Context, name, user, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.repo.LoadState(ctx)
	if err != nil {
		return err
	}
	flag, ok := state.Workflows[name]
	if !ok {
		return ErrUnknownWorkflow
	}
	for _, dep := range flag.ComponentDependencies {
		comp, ok := state.Components[dep]
		if !ok || !comp.Enabled {
			return fmt.Errorf("%w: %s", ErrDependencyMissing, dep)
		}
	}
	if err := s.repo.SetWorkflow(ctx, name, true); err != nil {
		return err
	}
	s.cache.Invalidate(ctx)
	s.recordFlagChange(ctx, "WorkflowFlag", name, flag.Enabled, true, user, reason)
	return nil
}

// DisableWorkflow turns a workflow off.
func (s *Service) DisableWorkflow(ctx context.Context, name, user, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.repo.LoadState(ctx)
	if err != nil {
		return err
	}
	flag, ok := state.Workflows[name]
	if !ok {
		return ErrUnknownWorkflow
	}
	if err := s.repo.SetWorkflow(ctx, name, false); err != nil {
		return err
	}
	s.cache.Invalidate(ctx)
	s.recordFlagChange(ctx, "WorkflowFlag", name, flag.Enabled, false, user, reason)
	return nil
}

// ActivateEmergency flips a kill switch on.
func (s *Service) ActivateEmergency(ctx context.Context, name, user, reason string) error {
	return s.setEmergency(ctx, name, true, user, reason)
}

// DeactivateEmergency flips a kill switch off.
func (s *Service) DeactivateEmergency(ctx context.Context, name, user, reason string) error {
	return s.setEmergency(ctx, name, false, user, reason)
}

func (s *Service) setEmergency(ctx context.Context, name string, active bool, user, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.repo.LoadState(ctx)
	if err != nil {
		return err
	}
	flag, ok := state.Emergencies[name]
	if !ok {
		return ErrUnknownFlag
	}
	if err := s.repo.SetEmergency(ctx, name, active); err != nil {
		return err
	}
	s.cache.Invalidate(ctx)
	s.recordFlagChange(ctx, "EmergencyFlag", name, flag.Active, active, user, reason)
	return nil
}

// CreateSnapshot captures every flag's state for later rollback.
func (s *Service) CreateSnapshot(ctx context.Context, reason, user string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.repo.LoadState(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{
		ID:             uuid.New(),
		Timestamp:      s.now().UTC(),
		Reason:         reason,
		CreatedBy:      user,
		ComponentFlags: make(map[string]bool, len(state.Components)),
		WorkflowFlags:  make(map[string]bool, len(state.Workflows)),
		EmergencyFlags: make(map[string]bool, len(state.Emergencies)),
	}
	for name, flag := range state.Components {
		snap.ComponentFlags[name] = flag.Enabled
	}
	for name, flag := range state.Workflows {
		snap.WorkflowFlags[name] = flag.Enabled
	}
	for name, flag := range state.Emergencies {
		snap.EmergencyFlags[name] = flag.Active
	}
	if err := s.repo.SaveSnapshot(ctx, snap); err != nil {
		return Snapshot{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditRecord{
			ModelName: "SwitchboardSnapshot",
			ObjectID:  snap.ID.String(),
			Operation: "switchboard.snapshot",
			User:      user,
			After:     map[string]any{"reason": reason},
			At:        s.now(),
		})
	}
	return snap, nil
}

// RollbackToSnapshot atomically restores every flag to the snapshot state.
func (s *Service) RollbackToSnapshot(ctx context.Context, id uuid.UUID, reason, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.repo.GetSnapshot(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.RestoreState(ctx, snap); err != nil {
		return err
	}
	s.cache.Invalidate(ctx)
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditRecord{
			ModelName: "SwitchboardSnapshot",
			ObjectID:  snap.ID.String(),
			Operation: "switchboard.rollback",
			User:      user,
			After:     map[string]any{"reason": reason},
			At:        s.now(),
		})
	}
	return nil
}

// ListSnapshots returns recent snapshots, newest first.
func (s *Service) ListSnapshots(ctx context.Context, limit int) ([]Snapshot, error) {
	return s.repo.ListSnapshots(ctx, limit)
}

// RecordViolation stores a governance breach for review.
func (s *Service) RecordViolation(ctx context.Context, violationType string, details map[string]any) error {
	return s.repo.RecordViolation(ctx, Violation{
		Type:      violationType,
		Details:   details,
		CreatedAt: s.now().UTC(),
	})
}

// TemporaryOverride applies a flag value for the duration of fn and
// restores the previous value on exit, even when fn fails.
func (s *Service) TemporaryOverride(ctx context.Context, ns Namespace, name string, value bool, reason string, fn func(context.Context) error) error {
	s.mu.Lock()
	state, err := s.repo.LoadState(ctx)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	var previous bool
	var set func(context.Context, string, bool) error
	switch ns {
	case NamespaceComponent:
		flag, ok := state.Components[name]
		if !ok {
			s.mu.Unlock()
			return ErrUnknownFlag
		}
		previous, set = flag.Enabled, s.repo.SetComponent
	case NamespaceWorkflow:
		flag, ok := state.Workflows[name]
		if !ok {
			s.mu.Unlock()
			return ErrUnknownWorkflow
		}
		previous, set = flag.Enabled, s.repo.SetWorkflow
	case NamespaceEmergency:
		flag, ok := state.Emergencies[name]
		if !ok {
			s.mu.Unlock()
			return ErrUnknownFlag
		}
		previous, set = flag.Active, s.repo.SetEmergency
	default:
		s.mu.Unlock()
		return fmt.Errorf("switchboard: unknown namespace %q", ns)
	}
	if err := set(ctx, name, value); err != nil {
		s.mu.Unlock()
		return err
	}
	s.cache.Invalidate(ctx)
	s.recordFlagChange(ctx, "Override", name, previous, value, "", reason)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := set(ctx, name, previous); err != nil && s.logger != nil {
			s.logger.Error("restore override", slog.String("flag", name), slog.Any("error", err))
		}
		s.cache.Invalidate(ctx)
	}()
	return fn(ctx)
}

func (s *Service) recordFlagChange(ctx context.Context, model, name string, before, after bool, user, reason string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditRecord{
		ModelName: model,
		ObjectID:  name,
		Operation: "switchboard.set",
		User:      user,
		Before:    map[string]any{"enabled": before},
		After:     map[string]any{"enabled": after, "reason": reason},
		At:        s.now(),
	})
}
