package sourcelink

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	acctshared "github.com/ledgergate/ledgergate/internal/accounting/shared"
	"github.com/ledgergate/ledgergate/internal/platform/httpx"
)

// Handler exposes source linkage inspection and backfill over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds the HTTP handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes attaches the source linkage API under the given router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/source-links", func(r chi.Router) {
		r.Get("/allowlist", h.Allowlist)
		r.Get("/orphans", h.Orphans)
		r.Post("/backfill", h.Backfill)
	})
}

func (h *Handler) Allowlist(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"sources": h.service.Allowlist()})
}

func (h *Handler) Orphans(w http.ResponseWriter, r *http.Request) {
	orphans, err := h.service.ScanOrphans(r.Context())
	if err != nil {
		h.logger.Error("scan orphans", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"orphans": orphans, "count": len(orphans)})
}

type backfillRequest struct {
	EntryID  int64  `json:"entry_id" validate:"required"`
	Module   string `json:"module" validate:"required"`
	Model    string `json:"model" validate:"required"`
	ObjectID int64  `json:"object_id" validate:"required"`
	DryRun   bool   `json:"dry_run"`
	User     string `json:"user" validate:"required"`
}

func (h *Handler) Backfill(w http.ResponseWriter, r *http.Request) {
	var req backfillRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.Backfill(r.Context(), req.EntryID, req.Module, req.Model, req.ObjectID, req.DryRun, req.User)
	if err != nil {
		h.respondError(w, "backfill source link", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) respondError(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, acctshared.ErrEntryNotFound), errors.Is(err, httpx.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, acctshared.ErrInvalidSourceLinkage):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	case errors.Is(err, httpx.ErrConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error(action, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
