package periods

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	acctshared "github.com/ledgergate/ledgergate/internal/accounting/shared"
	"github.com/ledgergate/ledgergate/internal/platform/httpx"
)

// Handler exposes period lifecycle over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds the HTTP handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes attaches the period API under the given router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/periods", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Post("/{id}/close", h.Close)
		r.Get("/{id}/compliance", h.Compliance)
	})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	periods, err := h.service.List(r.Context())
	if err != nil {
		h.respondError(w, "list periods", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"periods": periods})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := h.pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	period, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		h.respondError(w, "get period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	id, err := h.pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	var req struct {
		User string `json:"user" validate:"required"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	summary, err := h.service.ClosePeriod(r.Context(), id, req.User)
	if err != nil {
		h.respondError(w, "close period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) Compliance(w http.ResponseWriter, r *http.Request) {
	id, err := h.pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	report, err := h.service.ValidateLockCompliance(r.Context(), id)
	if err != nil {
		h.respondError(w, "validate lock compliance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (h *Handler) respondError(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, httpx.ErrNotFound), errors.Is(err, acctshared.ErrNoOpenPeriod):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, acctshared.ErrPeriodClosed):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error(action, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
