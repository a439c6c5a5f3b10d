package audithttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

const rateLimit = 10
const rateWindow = time.Minute

// MountRoutes registers the audit timeline endpoints. The CSV export is
// rate limited; it reads the whole filtered trail.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(rateLimit, rateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)
	r.Get("/audit", h.handleTimeline)
	r.Get("/audit/{model}/{objectID}", h.handleEntityHistory)
	r.Group(func(gr chi.Router) {
		gr.Use(limiter)
		gr.Get("/audit/export.csv", h.handleExport)
	})
}
