package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes builds the HTTP router for the orchestration service.
func Routes(h *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/stake", h.StakeHandler)
		r.Post("/unstake", h.UnstakeHandler)
		r.Get("/position", h.PositionHandler)
		r.Get("/logs", h.LogsHandler)
	})

	return r
}
