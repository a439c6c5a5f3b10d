package audithttp

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ledgergate/ledgergate/internal/audit"
	"github.com/ledgergate/ledgergate/internal/platform/httpx"
)

// Handler exposes the audit timeline over JSON plus a CSV export.
type Handler struct {
	logger  *slog.Logger
	service *audit.Service
}

// NewHandler builds the audit HTTP handler.
func NewHandler(logger *slog.Logger, service *audit.Service) *Handler {
	return &Handler{logger: logger, service: service}
}

func parseFilters(r *http.Request) audit.TimelineFilters {
	q := r.URL.Query()
	filters := audit.TimelineFilters{
		Actor:     q.Get("actor"),
		ModelName: q.Get("model"),
		Operation: q.Get("operation"),
		ObjectID:  q.Get("object_id"),
	}
	if v := q.Get("from"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			filters.From = t
		}
	}
	if v := q.Get("to"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			filters.To = t.Add(24*time.Hour - time.Second)
		}
	}
	filters.Page, _ = strconv.Atoi(q.Get("page"))
	filters.PageSize, _ = strconv.Atoi(q.Get("page_size"))
	return filters
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Timeline(r.Context(), parseFilters(r))
	if err != nil {
		h.logger.Error("audit timeline", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rows": result.Rows, "paging": result.Paging})
}

func (h *Handler) handleEntityHistory(w http.ResponseWriter, r *http.Request) {
	model := chi.URLParam(r, "model")
	objectID := chi.URLParam(r, "objectID")
	rows, err := h.service.EntityHistory(r.Context(), model, objectID)
	if err != nil {
		h.logger.Error("audit entity history", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	data, err := h.service.ExportCSV(r.Context(), parseFilters(r))
	if err != nil {
		h.logger.Error("audit export", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="audit_trail.csv"`)
	_, _ = w.Write(data)
}
