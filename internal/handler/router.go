package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mkornev/votebox-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса голосования.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/payments", h.InitiatePayment)
		r.Post("/sessions", h.OpenSession)

		r.Get("/categories", h.GetCategories)
		r.Get("/results", h.GetResults)

		r.Route("/session", func(r chi.Router) {
			r.Use(h.sessionAuth.Middleware)

			r.Get("/", h.GetSession)
			r.Post("/votes", h.Allocate)
			r.Post("/submit", h.Submit)
			r.Delete("/", h.Reset)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
