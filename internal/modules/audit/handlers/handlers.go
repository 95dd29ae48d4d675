// Package handlers provides HTTP handlers for reading the audit trail.
package handlers

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/esx-sim/esx/internal/modules/audit"
	"github.com/esx-sim/esx/internal/web"
)

// Handler handles audit HTTP requests.
type Handler struct {
	db      *sql.DB
	entries *audit.Repository
	log     zerolog.Logger
}

// NewHandler creates a new audit handler.
func NewHandler(db *sql.DB, entries *audit.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		db:      db,
		entries: entries,
		log:     log.With().Str("handler", "audit").Logger(),
	}
}

// HandleList handles GET /api/audit-trails.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	var orderID *int64
	if raw := r.URL.Query().Get("order_id"); raw != "" {
		id, err := web.PathID(raw)
		if err != nil {
			web.WriteError(w, h.log, err)
			return
		}
		orderID = &id
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	entries, err := h.entries.List(h.db, orderID, limit)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	web.WriteJSON(w, h.log, http.StatusOK, entries)
}

// RegisterRoutes registers all audit routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/audit-trails", h.HandleList)
}
