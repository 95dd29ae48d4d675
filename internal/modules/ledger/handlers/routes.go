package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all ledger routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/users", func(r chi.Router) {
		r.Post("/", h.HandleCreateUser)
		r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
			h.HandleGetUser(w, r, chi.URLParam(r, "id"))
		})
	})

	r.Get("/user_balances", h.HandleListBalances)

	r.Post("/capitalize_profit", h.HandleCapitalize)
	r.Post("/withdraw_profit", h.HandleWithdraw)
}
