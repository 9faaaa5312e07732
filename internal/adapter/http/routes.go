package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the API, health and metrics routes on r.
func MountRoutes(r chi.Router, h *Handlers, metrics *Metrics) {
	r.Get("/health", h.Health)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Chat turns
		r.Post("/chat", h.SubmitChat)
		r.Delete("/chat/{id}", h.DeleteConversation)

		// Resumption
		r.Get("/chat/{id}/stream", h.ResumeConversation)
		r.Get("/streams/{streamID}", h.ResumeStream)
	})
}
