package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/cartengine-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware движка корзины.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/session", h.StartSession)

		r.Group(func(r chi.Router) {
			r.Use(h.sessionMiddleware.Middleware)

			r.Post("/cart", h.EnsureCart)
			r.Get("/cart/{cartID}", h.GetCart)
			r.Patch("/cart/{cartID}/lines", h.MutateLine)
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
