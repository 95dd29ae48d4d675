// Package handlers provides HTTP handlers for the weekly trading
// schedule.
package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/esx-sim/esx/internal/domain"
	"github.com/esx-sim/esx/internal/modules/market_hours"
	"github.com/esx-sim/esx/internal/web"
)

// Handler handles market hours HTTP requests.
type Handler struct {
	db      *sql.DB
	repo    *market_hours.Repository
	service *market_hours.Service
	log     zerolog.Logger
}

// NewHandler creates a new market hours handler.
func NewHandler(db *sql.DB, repo *market_hours.Repository, service *market_hours.Service, log zerolog.Logger) *Handler {
	return &Handler{
		db:      db,
		repo:    repo,
		service: service,
		log:     log.With().Str("handler", "market_hours").Logger(),
	}
}

// HandleStatus handles GET /api/market-hours/status.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	open, err := h.service.IsWithinWindow(h.db, now)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}

	status := map[string]interface{}{
		"open":      open,
		"timestamp": now.Format(time.RFC3339),
	}
	if closeAt, ok, err := h.service.CloseTime(h.db, now); err == nil && ok {
		status["closes_at"] = closeAt.Format(time.RFC3339)
	}

	web.WriteJSON(w, h.log, http.StatusOK, status)
}

// HandleList handles GET /api/market-hours.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	all, err := h.repo.List()
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	web.WriteJSON(w, h.log, http.StatusOK, all)
}

// HandleUpsert handles PUT /api/market-hours. Regulator only.
func (h *Handler) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	ident, err := web.CallerIdentity(r)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	if ident.Role != domain.RoleRegulator {
		web.WriteError(w, h.log, domain.ErrForbidden)
		return
	}

	var wh market_hours.WorkingHours
	if err := json.NewDecoder(r.Body).Decode(&wh); err != nil {
		web.WriteError(w, h.log, domain.ErrValidation)
		return
	}

	if err := h.repo.Upsert(wh); err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	web.WriteJSON(w, h.log, http.StatusOK, wh)
}

// HandleDelete handles DELETE /api/market-hours/{day}. Removing a
// day's window closes the market on that day. Regulator only.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ident, err := web.CallerIdentity(r)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	if ident.Role != domain.RoleRegulator {
		web.WriteError(w, h.log, domain.ErrForbidden)
		return
	}

	if err := h.repo.Delete(chi.URLParam(r, "day")); err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RegisterRoutes registers all market hours routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/market-hours", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Put("/", h.HandleUpsert)
		r.Delete("/{day}", h.HandleDelete)
		r.Get("/status", h.HandleStatus)
	})
}
