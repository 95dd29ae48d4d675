// Package handlers provides HTTP handlers for regulations and
// suspensions. All writes are regulator-only.
package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/esx-sim/esx/internal/domain"
	"github.com/esx-sim/esx/internal/modules/regulations"
	"github.com/esx-sim/esx/internal/web"
)

// Handler handles regulation HTTP requests.
type Handler struct {
	db          *sql.DB
	rules       *regulations.Repository
	suspensions *regulations.SuspensionRepository
	log         zerolog.Logger
}

// NewHandler creates a new regulations handler.
func NewHandler(db *sql.DB, rules *regulations.Repository, suspensions *regulations.SuspensionRepository, log zerolog.Logger) *Handler {
	return &Handler{
		db:          db,
		rules:       rules,
		suspensions: suspensions,
		log:         log.With().Str("handler", "regulations").Logger(),
	}
}

func (h *Handler) requireRegulator(w http.ResponseWriter, r *http.Request) bool {
	ident, err := web.CallerIdentity(r)
	if err != nil {
		web.WriteError(w, h.log, err)
		return false
	}
	if ident.Role != domain.RoleRegulator {
		web.WriteError(w, h.log, domain.ErrForbidden)
		return false
	}
	return true
}

// HandleList handles GET /api/regulations.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	all, err := h.rules.List()
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	web.WriteJSON(w, h.log, http.StatusOK, all)
}

// HandleSet handles PUT /api/regulations. Regulator only.
func (h *Handler) HandleSet(w http.ResponseWriter, r *http.Request) {
	if !h.requireRegulator(w, r) {
		return
	}

	var req struct {
		Name        string `json:"name"`
		Value       string `json:"value"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		web.WriteError(w, h.log, domain.ErrValidation)
		return
	}

	if err := h.rules.Set(req.Name, req.Value, req.Description); err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	web.WriteJSON(w, h.log, http.StatusOK, req)
}

// HandleListSuspensions handles GET /api/suspensions. Regulator only.
func (h *Handler) HandleListSuspensions(w http.ResponseWriter, r *http.Request) {
	if !h.requireRegulator(w, r) {
		return
	}

	activeOnly := r.URL.Query().Get("active") == "true"
	all, err := h.suspensions.List(activeOnly)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	web.WriteJSON(w, h.log, http.StatusOK, all)
}

// HandleCreateSuspension handles POST /api/suspensions. Regulator only.
func (h *Handler) HandleCreateSuspension(w http.ResponseWriter, r *http.Request) {
	if !h.requireRegulator(w, r) {
		return
	}

	var req struct {
		TraderID int64  `json:"trader_id"`
		StockID  *int64 `json:"stock_id,omitempty"`
		Scope    string `json:"scope"`
		Reason   string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		web.WriteError(w, h.log, domain.ErrValidation)
		return
	}

	s := &regulations.Suspension{
		TraderID:  req.TraderID,
		StockID:   req.StockID,
		Scope:     req.Scope,
		Initiator: "Regulatory Body",
		Reason:    req.Reason,
	}
	if err := h.suspensions.Create(s); err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	web.WriteJSON(w, h.log, http.StatusCreated, s)
}

// HandleReleaseSuspension handles POST /api/suspensions/{id}/release.
// Regulator only.
func (h *Handler) HandleReleaseSuspension(w http.ResponseWriter, r *http.Request, rawID string) {
	if !h.requireRegulator(w, r) {
		return
	}
	id, err := web.PathID(rawID)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}

	if err := h.suspensions.Release(id); err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	web.WriteJSON(w, h.log, http.StatusOK, map[string]interface{}{"id": id, "is_active": false})
}

// RegisterRoutes registers all regulation routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/regulations", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Put("/", h.HandleSet)
	})

	r.Route("/suspensions", func(r chi.Router) {
		r.Get("/", h.HandleListSuspensions)
		r.Post("/", h.HandleCreateSuspension)
		r.Post("/{id}/release", func(w http.ResponseWriter, r *http.Request) {
			h.HandleReleaseSuspension(w, r, chi.URLParam(r, "id"))
		})
	})
}
