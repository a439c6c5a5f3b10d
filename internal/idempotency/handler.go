package idempotency

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ledgergate/ledgergate/internal/platform/httpx"
)

// Handler exposes the operator surface of the store: liveness and
// aggregate counts. Keys and payloads are never listed.
type Handler struct {
	logger *slog.Logger
	store  Store
}

// NewHandler builds the HTTP handler.
func NewHandler(logger *slog.Logger, store Store) *Handler {
	return &Handler{logger: logger, store: store}
}

// MountRoutes attaches the idempotency API under the given router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/idempotency", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/statistics", h.Statistics)
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	health, err := h.store.GetHealth(r.Context())
	if err != nil {
		h.logger.Error("idempotency health", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	status := http.StatusOK
	if !health.Reachable {
		status = http.StatusServiceUnavailable
	}
	httpx.JSON(w, status, map[string]any{
		"reachable":     health.Reachable,
		"started_count": health.StartedCount,
		"oldest_active": health.OldestActive,
	})
}

func (h *Handler) Statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStatistics(r.Context())
	if err != nil {
		h.logger.Error("idempotency statistics", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"started":   stats.Started,
		"completed": stats.Completed,
		"failed":    stats.Failed,
		"expired":   stats.Expired,
	})
}
