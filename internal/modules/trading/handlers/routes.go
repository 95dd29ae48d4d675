package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all trading routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.HandleSubmitOrder)
		r.Post("/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
			h.HandleCancelOrder(w, r, chi.URLParam(r, "id"))
		})
	})

	r.Post("/direct_buy", h.HandleDirectBuy)

	r.Route("/user/{id}", func(r chi.Router) {
		r.Get("/trades", func(w http.ResponseWriter, r *http.Request) {
			h.HandleUserTrades(w, r, chi.URLParam(r, "id"))
		})
		r.Get("/orders", func(w http.ResponseWriter, r *http.Request) {
			h.HandleUserOrders(w, r, chi.URLParam(r, "id"))
		})
	})

	r.Get("/stocks/{id}/trades", func(w http.ResponseWriter, r *http.Request) {
		h.HandleStockTrades(w, r, chi.URLParam(r, "id"))
	})
	r.Get("/stocks/{id}/fifonet_holdings", func(w http.ResponseWriter, r *http.Request) {
		h.HandleFIFOHoldings(w, r, chi.URLParam(r, "id"))
	})
}
