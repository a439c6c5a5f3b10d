package gateway

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

// Handler exposes the gateway over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds the HTTP handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var in CreateEntryInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	entry, err := h.service.CreateJournalEntry(r.Context(), in)
	if err != nil {
		h.respondError(w, "create journal entry", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ToEntryResponse(entry))
}

func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) {
	id, err := h.pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	var in ReversalInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	in.OriginalEntryID = id
	if err := h.validate.Struct(in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	entry, err := h.service.CreateReversalEntry(r.Context(), in)
	if err != nil {
		h.respondError(w, "reverse journal entry", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ToEntryResponse(entry))
}

func (h *Handler) Post(w http.ResponseWriter, r *http.Request) {
	id, err := h.pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	var in struct {
		User string `json:"user" validate:"required"`
	}
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	entry, err := h.service.PostEntry(r.Context(), id, in.User)
	if err != nil {
		h.respondError(w, "post journal entry", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ToEntryResponse(entry))
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := h.pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	var in struct {
		User string `json:"user" validate:"required"`
	}
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.CancelEntry(r.Context(), id, in.User); err != nil {
		h.respondError(w, "cancel journal entry", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "status": EntryStatusCancelled})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := h.pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	entry, err := h.service.GetEntry(r.Context(), id)
	if err != nil {
		h.respondError(w, "get journal entry", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ToEntryResponse(entry))
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	p := shared.NewPagination(page, perPage, 0)
	entries, err := h.service.ListEntries(r.Context(), p)
	if err != nil {
		h.respondError(w, "list journal entries", err)
		return
	}
	out := make([]EntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, ToEntryResponse(e))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": out, "page": p.Page, "per_page": p.PerPage})
}

func (h *Handler) pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (h *Handler) respondError(w http.ResponseWriter, action string, err error) {
	code := acctshared.ErrorCode(err)
	switch {
	case errors.Is(err, acctshared.ErrEntryNotFound):
		httpx.ProblemCode(w, http.StatusNotFound, "Not Found", err.Error(), code)
	case errors.Is(err, acctshared.ErrWorkflowDisabled), errors.Is(err, acctshared.ErrEmergencyDisabled):
		httpx.ProblemCode(w, http.StatusForbidden, "Workflow Refused", err.Error(), code)
	case errors.Is(err, acctshared.ErrOperationInProgress),
		errors.Is(err, acctshared.ErrPostedImmutable),
		errors.Is(err, acctshared.ErrReversalNotAllowed),
		errors.Is(err, acctshared.ErrInvalidStatus),
		errors.Is(err, acctshared.ErrPeriodClosed),
		errors.Is(err, acctshared.ErrNoOpenPeriod):
		httpx.ProblemCode(w, http.StatusConflict, "Conflict", err.Error(), code)
	case errors.Is(err, acctshared.ErrUnbalanced),
		errors.Is(err, acctshared.ErrInvalidLine),
		errors.Is(err, acctshared.ErrInvalidAccount),
		errors.Is(err, acctshared.ErrTooFewLines),
		errors.Is(err, acctshared.ErrInvalidSourceLinkage),
		errors.Is(err, shared.ErrValidation):
		httpx.ProblemCode(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error(), code)
	default:
		h.logger.Error(action, slog.Any("error", err))
		httpx.ProblemCode(w, http.StatusInternalServerError, "Internal Error", "", code)
	}
}
