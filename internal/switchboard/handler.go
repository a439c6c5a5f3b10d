package switchboard

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ledgergate/ledgergate/internal/platform/httpx"
)

// Handler exposes the switchboard over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds the HTTP handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes attaches the switchboard API under the given router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/switchboard", func(r chi.Router) {
		r.Get("/", h.State)
		r.Post("/components/{name}/enable", h.toggle(NamespaceComponent, true))
		r.Post("/components/{name}/disable", h.toggle(NamespaceComponent, false))
		r.Post("/workflows/{name}/enable", h.toggle(NamespaceWorkflow, true))
		r.Post("/workflows/{name}/disable", h.toggle(NamespaceWorkflow, false))
		r.Post("/emergencies/{name}/activate", h.toggle(NamespaceEmergency, true))
		r.Post("/emergencies/{name}/deactivate", h.toggle(NamespaceEmergency, false))
		r.Get("/snapshots", h.ListSnapshots)
		r.Post("/snapshots", h.CreateSnapshot)
		r.Post("/snapshots/{id}/rollback", h.Rollback)
	})
}

type flagStateResponse struct {
	Name      string `json:"name"`
	Enabled   bool   `json:"enabled"`
	Effective *bool  `json:"effective,omitempty"`
}

// State renders every flag with its effective value. Workflows report
// effectiveness separately because dependencies and emergencies override
// the stored flag.
func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.CurrentState(r.Context())
	if err != nil {
		h.logger.Error("load switchboard state", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	components := make([]flagStateResponse, 0, len(state.Components))
	for _, c := range state.Components {
		components = append(components, flagStateResponse{Name: c.Name, Enabled: c.Enabled})
	}
	workflows := make([]flagStateResponse, 0, len(state.Workflows))
	for _, wf := range state.Workflows {
		effective := authorizeWorkflow(state, wf.Name) == nil
		workflows = append(workflows, flagStateResponse{Name: wf.Name, Enabled: wf.Enabled, Effective: &effective})
	}
	emergencies := make([]flagStateResponse, 0, len(state.Emergencies))
	for _, em := range state.Emergencies {
		emergencies = append(emergencies, flagStateResponse{Name: em.Name, Enabled: em.Active})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"components":  components,
		"workflows":   workflows,
		"emergencies": emergencies,
	})
}

type toggleRequest struct {
	User   string `json:"user" validate:"required"`
	Reason string `json:"reason"`
}

func (h *Handler) toggle(ns Namespace, value bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		var req toggleRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
			return
		}
		if err := h.validate.Struct(req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		var err error
		switch ns {
		case NamespaceComponent:
			if value {
				err = h.service.EnableComponent(r.Context(), name, req.User, req.Reason)
			} else {
				err = h.service.DisableComponent(r.Context(), name, req.User, req.Reason)
			}
		case NamespaceWorkflow:
			if value {
				err = h.service.EnableWorkflow(r.Context(), name, req.User, req.Reason)
			} else {
				err = h.service.DisableWorkflow(r.Context(), name, req.User, req.Reason)
			}
		case NamespaceEmergency:
			if value {
				err = h.service.ActivateEmergency(r.Context(), name, req.User, req.Reason)
			} else {
				err = h.service.DeactivateEmergency(r.Context(), name, req.User, req.Reason)
			}
		}
		if err != nil {
			h.respondError(w, "toggle flag", err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"name": name, "enabled": value})
	}
}

func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	snapshots, err := h.service.ListSnapshots(r.Context(), limit)
	if err != nil {
		h.respondError(w, "list snapshots", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"snapshots": snapshots})
}

type snapshotRequest struct {
	User   string `json:"user" validate:"required"`
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	var req snapshotRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	snap, err := h.service.CreateSnapshot(r.Context(), req.Reason, req.User)
	if err != nil {
		h.respondError(w, "create snapshot", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, snap)
}

func (h *Handler) Rollback(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	var req snapshotRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.RollbackToSnapshot(r.Context(), id, req.Reason, req.User); err != nil {
		h.respondError(w, "rollback snapshot", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"snapshot_id": id, "rolled_back": true})
}

func (h *Handler) respondError(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, ErrUnknownFlag), errors.Is(err, ErrUnknownWorkflow), errors.Is(err, httpx.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrCriticalComponent), errors.Is(err, ErrDependencyMissing):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Refused", err.Error())
	default:
		h.logger.Error(action, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
