package movement

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	acctshared "github.com/ledgergate/ledgergate/internal/accounting/shared"
	"github.com/ledgergate/ledgergate/internal/platform/httpx"
	"github.com/ledgergate/ledgergate/internal/shared"
)

// Handler exposes the movement service over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds the HTTP handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes attaches the movement API under the given router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/stock-movements", func(r chi.Router) {
		r.Post("/", h.Process)
		r.Get("/{id}", h.Get)
	})
	r.Get("/products/{id}/movements", h.History)
}

func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	var in MovementInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	m, err := h.service.ProcessMovement(r.Context(), in)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, m)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	m, err := h.service.GetMovement(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	movements, err := h.service.History(r.Context(), id, limit)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	code := errorCode(err)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.ProblemCode(w, http.StatusNotFound, "Not Found", err.Error(), code)
	case errors.Is(err, acctshared.ErrNegativeStock),
		errors.Is(err, acctshared.ErrOperationInProgress):
		httpx.ProblemCode(w, http.StatusConflict, "Conflict", err.Error(), code)
	case errors.Is(err, ErrServiceProduct),
		errors.Is(err, ErrProductInactive),
		errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidType),
		errors.Is(err, shared.ErrValidation):
		httpx.ProblemCode(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error(), code)
	default:
		h.logger.Error("movement request", slog.Any("error", err))
		httpx.ProblemCode(w, http.StatusInternalServerError, "Internal Error", "", code)
	}
}
