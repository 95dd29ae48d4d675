// Package handlers provides HTTP handlers for portfolio reads.
package handlers

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/esx-sim/esx/internal/modules/portfolio"
	"github.com/esx-sim/esx/internal/web"
)

// Handler handles portfolio HTTP requests.
type Handler struct {
	db         *sql.DB
	portfolios *portfolio.Repository
	log        zerolog.Logger
}

// NewHandler creates a new portfolio handler.
func NewHandler(db *sql.DB, portfolios *portfolio.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		db:         db,
		portfolios: portfolios,
		log:        log.With().Str("handler", "portfolio").Logger(),
	}
}

// HandleGetByUser handles GET /api/portfolios/user/{id}.
func (h *Handler) HandleGetByUser(w http.ResponseWriter, r *http.Request, rawID string) {
	id, err := web.PathID(rawID)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}

	p, err := h.portfolios.Get(h.db, id)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	web.WriteJSON(w, h.log, http.StatusOK, p)
}

// RegisterRoutes registers all portfolio routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/portfolios/user/{id}", func(w http.ResponseWriter, r *http.Request) {
		h.HandleGetByUser(w, r, chi.URLParam(r, "id"))
	})
}
