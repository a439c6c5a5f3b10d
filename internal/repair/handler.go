package repair

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ledgergate/ledgergate/internal/platform/httpx"
	"github.com/ledgergate/ledgergate/internal/quarantine"
)

// Handler exposes the repair planner over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds the HTTP handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes attaches the repair API under the given router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/repair/scan", h.Scan)
}

type scanRequest struct {
	Types      []quarantine.CorruptionType `json:"types"`
	Quarantine bool                        `json:"quarantine"`
	User       string                      `json:"user"`
}

// Scan runs the selected scanners and returns the findings with their
// repair plans. Nothing is executed.
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
			return
		}
	}
	report, err := h.service.ScanForCorruption(r.Context(), req.Types...)
	if err != nil {
		h.logger.Error("corruption scan", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	plans := h.service.CreateRepairReport(report)
	quarantined := 0
	if req.Quarantine {
		quarantined, err = h.service.SubmitFindings(r.Context(), report, req.User)
		if err != nil {
			h.logger.Error("quarantine findings", slog.Any("error", err))
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"report":      report,
		"plans":       plans,
		"quarantined": quarantined,
	})
}
