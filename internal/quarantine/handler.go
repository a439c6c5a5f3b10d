package quarantine

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ledgergate/ledgergate/internal/platform/httpx"
)

// Handler exposes quarantine review over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds the HTTP handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes attaches the quarantine API under the given router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/quarantine", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Post("/{id}/release", h.Release)
		r.Post("/{id}/discard", h.Discard)
	})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{
		CorruptionType: CorruptionType(q.Get("type")),
		Confidence:     Confidence(q.Get("confidence")),
		Status:         Status(q.Get("status")),
	}
	if v := q.Get("older_than_hours"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil || hours < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", "older_than_hours must be a non-negative integer")
			return
		}
		filter.OlderThan = time.Duration(hours) * time.Hour
	}
	if v := q.Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	records, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, "list quarantine", err)
		return
	}
	pending, err := h.service.PendingCount(r.Context())
	if err != nil {
		h.respondError(w, "count quarantine", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"records": records, "pending": pending})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	rec, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, "get quarantine record", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

type reviewRequest struct {
	User string `json:"user" validate:"required"`
}

func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, StatusReleased)
}

func (h *Handler) Discard(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, StatusDiscarded)
}

func (h *Handler) review(w http.ResponseWriter, r *http.Request, status Status) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	var req reviewRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if status == StatusReleased {
		err = h.service.Release(r.Context(), id, req.User)
	} else {
		err = h.service.Discard(r.Context(), id, req.User)
	}
	if err != nil {
		h.respondError(w, "review quarantine record", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "status": status})
}

func (h *Handler) respondError(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, httpx.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, httpx.ErrConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error(action, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
