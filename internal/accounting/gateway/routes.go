package gateway

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes attaches the journal API under the given router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/journal-entries", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/{id}", h.Get)
		r.Post("/{id}/post", h.Post)
		r.Post("/{id}/cancel", h.Cancel)
		r.Post("/{id}/reverse", h.Reverse)
	})
}
