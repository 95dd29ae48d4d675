package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all listing routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/companies", func(r chi.Router) {
		r.Get("/", h.HandleListCompanies)
		r.Post("/", h.HandleCreateCompany)
	})

	r.Route("/stocks", func(r chi.Router) {
		r.Get("/", h.HandleListStocks)
		r.Post("/", h.HandleCreateStock)
		r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
			h.HandleGetStock(w, r, chi.URLParam(r, "id"))
		})
		r.Put("/{id}/price", func(w http.ResponseWriter, r *http.Request) {
			h.HandleUpdatePrice(w, r, chi.URLParam(r, "id"))
		})
		r.Get("/{id}/closing_prices", func(w http.ResponseWriter, r *http.Request) {
			h.HandleClosingPrices(w, r, chi.URLParam(r, "id"))
		})
	})
}
