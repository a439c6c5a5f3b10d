// Package signals dispatches domain events to governed handlers. Every
// handler runs behind its workflow flag, optionally under an idempotency
// key, with failures routed per handler policy.
package signals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ledgergate/ledgergate/internal/idempotency"
	"github.com/ledgergate/ledgergate/internal/quarantine"
	"github.com/ledgergate/ledgergate/internal/shared"
)

// Actions routed by the dispatcher.
const (
	ActionSave   = "save"
	ActionDelete = "delete"
)

// Event is one domain change notification.
type Event struct {
	Module   string
	Model    string
	ObjectID int64
	Action   string
	Actor    string
	Payload  map[string]any
}

// Source returns the "module.Model" pair of the event.
func (e Event) Source() string {
	return e.Module + "." + e.Model
}

// HandlerFunc processes one event.
type HandlerFunc func(ctx context.Context, event Event) error

// Registration declares one governed handler. Registrations are data:
// routing, governance and failure policy live here, not in handler code.
type Registration struct {
	Name     string
	Workflow string
	Sources  []string
	Actions  []string
	// Critical handlers propagate failures to the emitter; non-critical
	// failures are audited and the triggering row quarantined.
	Critical bool
	// Idempotent handlers run under a derived key so redelivered events
	// execute once.
	Idempotent bool
	Handler    HandlerFunc
}

func (r Registration) matches(event Event) bool {
	sourceOK := len(r.Sources) == 0
	for _, s := range r.Sources {
		if s == event.Source() {
			sourceOK = true
			break
		}
	}
	if !sourceOK {
		return false
	}
	if len(r.Actions) == 0 {
		return true
	}
	for _, a := range r.Actions {
		if a == event.Action {
			return true
		}
	}
	return false
}

// GovernancePort gates handlers on workflow flags.
type GovernancePort interface {
	IsWorkflowEnabled(ctx context.Context, name string) (bool, error)
}

// QuarantinePort isolates rows whose non-critical handlers failed.
type QuarantinePort interface {
	Submit(ctx context.Context, sub quarantine.Submission) (quarantine.Record, error)
}

// AuditPort records handler failures.
type AuditPort interface {
	Record(ctx context.Context, rec shared.AuditRecord) error
}

// MetricsPort counts contained handler failures. Nil disables it.
type MetricsPort interface {
	SignalHandlerFailed(handler string)
}

// Router receives events and fans them out to matching registrations.
type Router struct {
	registrations []Registration
	governance    GovernancePort
	idem          idempotency.Store
	audit         AuditPort
	quarantine    QuarantinePort
	metrics       MetricsPort
	logger        *slog.Logger
	now           func() time.Time
}

// NewRouter builds the dispatcher.
func NewRouter(governance GovernancePort, idem idempotency.Store, audit AuditPort, q QuarantinePort, logger *slog.Logger) *Router {
	return &Router{
		governance: governance,
		idem:       idem,
		audit:      audit,
		quarantine: q,
		logger:     logger,
		now:        time.Now,
	}
}

// WithMetrics attaches the failure counter.
func (r *Router) WithMetrics(m MetricsPort) {
	r.metrics = m
}

// Register adds a handler registration.
func (r *Router) Register(reg Registration) error {
	if reg.Name == "" || reg.Handler == nil {
		return errors.New("signals: registration requires name and handler")
	}
	if reg.Workflow == "" {
		return errors.New("signals: registration requires a workflow flag")
	}
	for _, existing := range r.registrations {
		if existing.Name == reg.Name {
			return fmt.Errorf("signals: handler %q already registered", reg.Name)
		}
	}
	r.registrations = append(r.registrations, reg)
	return nil
}

// Dispatch routes one event. Critical handler failures abort the
// dispatch and propagate; non-critical failures are contained.
func (r *Router) Dispatch(ctx context.Context, event Event) error {
	for _, reg := range r.registrations {
		if !reg.matches(event) {
			continue
		}
		enabled, err := r.governance.IsWorkflowEnabled(ctx, reg.Workflow)
		if err != nil {
			if reg.Critical {
				return err
			}
			r.logger.Error("workflow flag check failed",
				slog.String("handler", reg.Name), slog.Any("error", err))
			continue
		}
		if !enabled {
			r.logger.Info("handler skipped, workflow disabled",
				slog.String("handler", reg.Name), slog.String("workflow", reg.Workflow))
			continue
		}
		if err := r.invoke(ctx, reg, event); err != nil {
			if reg.Critical {
				return err
			}
			r.contain(ctx, reg, event, err)
		}
	}
	return nil
}

// invoke runs the handler, under its idempotency key when declared.
func (r *Router) invoke(ctx context.Context, reg Registration, event Event) error {
	if !reg.Idempotent {
		return reg.Handler(ctx, event)
	}
	key := idempotency.SignalKey(reg.Name, event.Module, event.Model, event.ObjectID, event.Action)
	out, err := r.idem.Probe(ctx, idempotency.OpSignalHandler, key)
	if err != nil {
		return err
	}
	if out.Found && out.Status == idempotency.StatusCompleted {
		r.logger.Info("handler replay skipped", slog.String("handler", reg.Name), slog.String("key", key))
		return nil
	}
	if out.Found && out.Status == idempotency.StatusStarted {
		return nil
	}
	token, err := r.idem.Begin(ctx, idempotency.OpSignalHandler, key, map[string]any{
		"handler": reg.Name,
		"source":  event.Source(),
		"action":  event.Action,
	}, event.Actor)
	if err != nil {
		if errors.Is(err, idempotency.ErrKeyHeld) {
			return nil
		}
		return err
	}
	if err := reg.Handler(ctx, event); err != nil {
		if failErr := r.idem.Fail(ctx, token, "HANDLER_FAILED"); failErr != nil {
			r.logger.Warn("idempotency fail-mark failed", slog.String("key", key), slog.Any("error", failErr))
		}
		return err
	}
	return r.idem.Complete(ctx, token, map[string]any{"handler": reg.Name}, 0)
}

// contain audits a non-critical failure and quarantines the triggering row.
func (r *Router) contain(ctx context.Context, reg Registration, event Event, cause error) {
	now := r.now().UTC()
	if r.metrics != nil {
		r.metrics.SignalHandlerFailed(reg.Name)
	}
	r.logger.Error("signal handler failed",
		slog.String("handler", reg.Name),
		slog.String("source", event.Source()),
		slog.Any("error", cause))
	if r.audit != nil {
		_ = r.audit.Record(ctx, shared.AuditRecord{
			ModelName: event.Model,
			ObjectID:  fmt.Sprintf("%d", event.ObjectID),
			Operation: "signal.handler.failed",
			User:      event.Actor,
			After: map[string]any{
				"handler": reg.Name,
				"action":  event.Action,
				"error":   cause.Error(),
			},
			At: now,
		})
	}
	if r.quarantine != nil {
		_, err := r.quarantine.Submit(ctx, quarantine.Submission{
			ModelName:      event.Model,
			ObjectID:       fmt.Sprintf("%d", event.ObjectID),
			CorruptionType: quarantine.CorruptionScanFailure,
			Confidence:     quarantine.ConfidenceLow,
			Reason:         fmt.Sprintf("handler %s failed: %v", reg.Name, cause),
			Evidence: map[string]any{
				"handler": reg.Name,
				"source":  event.Source(),
				"action":  event.Action,
			},
			OriginalData: event.Payload,
			CreatedBy:    event.Actor,
		})
		if err != nil {
			r.logger.Error("quarantine submit failed",
				slog.String("handler", reg.Name), slog.Any("error", err))
		}
	}
}
