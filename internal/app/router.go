package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ledgergate/ledgergate/internal/accounting/gateway"
	"github.com/ledgergate/ledgergate/internal/accounting/periods"
	audithttp "github.com/ledgergate/ledgergate/internal/audit/http"
	"github.com/ledgergate/ledgergate/internal/idempotency"
	"github.com/ledgergate/ledgergate/internal/movement"
	"github.com/ledgergate/ledgergate/internal/observability"
	"github.com/ledgergate/ledgergate/internal/quarantine"
	"github.com/ledgergate/ledgergate/internal/repair"
	"github.com/ledgergate/ledgergate/internal/signals"
	"github.com/ledgergate/ledgergate/internal/sourcelink"
	"github.com/ledgergate/ledgergate/internal/switchboard"
	"github.com/ledgergate/ledgergate/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	GatewayHandler     *gateway.Handler
	PeriodsHandler     *periods.Handler
	MovementHandler    *movement.Handler
	SwitchboardHandler *switchboard.Handler
	SourceLinkHandler  *sourcelink.Handler
	QuarantineHandler  *quarantine.Handler
	RepairHandler      *repair.Handler
	IdempotencyHandler *idempotency.Handler
	SignalsHandler     *signals.Handler
	AuditHandler       *audithttp.Handler
	JobsHandler        *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with the governance API surface.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.GatewayHandler != nil {
		params.GatewayHandler.MountRoutes(r)
	}
	if params.PeriodsHandler != nil {
		params.PeriodsHandler.MountRoutes(r)
	}
	if params.MovementHandler != nil {
		params.MovementHandler.MountRoutes(r)
	}
	if params.SwitchboardHandler != nil {
		params.SwitchboardHandler.MountRoutes(r)
	}
	if params.SourceLinkHandler != nil {
		params.SourceLinkHandler.MountRoutes(r)
	}
	if params.QuarantineHandler != nil {
		params.QuarantineHandler.MountRoutes(r)
	}
	if params.RepairHandler != nil {
		params.RepairHandler.MountRoutes(r)
	}
	if params.IdempotencyHandler != nil {
		params.IdempotencyHandler.MountRoutes(r)
	}
	if params.SignalsHandler != nil {
		params.SignalsHandler.MountRoutes(r)
	}
	if params.AuditHandler != nil {
		params.AuditHandler.MountRoutes(r)
	}
	if params.JobsHandler != nil {
		r.Route("/jobs", params.JobsHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
