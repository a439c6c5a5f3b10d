package signals

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	acctshared "github.com/ledgergate/ledgergate/internal/accounting/shared"
	"github.com/ledgergate/ledgergate/internal/platform/httpx"
)

// Handler receives domain change notifications over HTTP and routes them
// through the dispatcher.
type Handler struct {
	logger   *slog.Logger
	router   *Router
	validate *validator.Validate
}

// NewHandler builds the HTTP handler.
func NewHandler(logger *slog.Logger, router *Router) *Handler {
	return &Handler{logger: logger, router: router, validate: validator.New()}
}

// MountRoutes attaches the signal API under the given router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/signals", h.Dispatch)
}

type eventRequest struct {
	Module   string         `json:"module" validate:"required"`
	Model    string         `json:"model" validate:"required"`
	ObjectID int64          `json:"object_id" validate:"required"`
	Action   string         `json:"action" validate:"required,oneof=save delete"`
	Actor    string         `json:"actor" validate:"required"`
	Payload  map[string]any `json:"payload"`
}

// Dispatch routes one event. A critical handler failure surfaces as an
// error response; contained failures still return 202.
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	event := Event{
		Module:   req.Module,
		Model:    req.Model,
		ObjectID: req.ObjectID,
		Action:   req.Action,
		Actor:    req.Actor,
		Payload:  req.Payload,
	}
	if err := h.router.Dispatch(r.Context(), event); err != nil {
		code := acctshared.ErrorCode(err)
		switch {
		case errors.Is(err, acctshared.ErrWorkflowDisabled), errors.Is(err, acctshared.ErrEmergencyDisabled):
			httpx.ProblemCode(w, http.StatusForbidden, "Workflow Refused", err.Error(), code)
		case errors.Is(err, acctshared.ErrOperationInProgress):
			httpx.ProblemCode(w, http.StatusConflict, "Conflict", err.Error(), code)
		default:
			h.logger.Error("signal dispatch", slog.Any("error", err))
			httpx.ProblemCode(w, http.StatusInternalServerError, "Internal Error", "", code)
		}
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]any{"source": event.Source(), "dispatched": true})
}
