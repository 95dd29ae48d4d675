// Package handlers provides HTTP handlers for dividend declaration and
// disbursal.
package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/esx-sim/esx/internal/domain"
	"github.com/esx-sim/esx/internal/modules/dividends"
	"github.com/esx-sim/esx/internal/web"
)

// Handler handles dividend HTTP requests.
type Handler struct {
	db     *sql.DB
	engine *dividends.Engine
	repo   *dividends.Repository
	log    zerolog.Logger
}

// NewHandler creates a new dividends handler.
func NewHandler(db *sql.DB, engine *dividends.Engine, repo *dividends.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		db:     db,
		engine: engine,
		repo:   repo,
		log:    log.With().Str("handler", "dividends").Logger(),
	}
}

// HandleDeclare handles POST /api/dividends. Company admin only.
func (h *Handler) HandleDeclare(w http.ResponseWriter, r *http.Request) {
	ident, err := web.CallerIdentity(r)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	if ident.Role != domain.RoleCompanyAdmin {
		web.WriteError(w, h.log, domain.ErrForbidden)
		return
	}

	var req struct {
		CompanyID   int64  `json:"company_id"`
		BudgetYear  string `json:"budget_year"`
		TotalAmount string `json:"total_amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		web.WriteError(w, h.log, domain.ErrValidation)
		return
	}
	total, err := decimal.NewFromString(req.TotalAmount)
	if err != nil {
		web.WriteError(w, h.log, domain.ErrValidation)
		return
	}

	d, err := h.engine.Declare(req.CompanyID, req.BudgetYear, total)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	web.WriteJSON(w, h.log, http.StatusCreated, d)
}

// HandleDistribute handles POST /api/dividends/{id}/distribute.
// Company admin only.
func (h *Handler) HandleDistribute(w http.ResponseWriter, r *http.Request, rawID string) {
	ident, err := web.CallerIdentity(r)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	if ident.Role != domain.RoleCompanyAdmin {
		web.WriteError(w, h.log, domain.ErrForbidden)
		return
	}

	id, err := web.PathID(rawID)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}

	report, err := h.engine.Distribute(id)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	web.WriteJSON(w, h.log, http.StatusOK, report)
}

// HandleList handles GET /api/dividends.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	all, err := h.repo.List(h.db)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	web.WriteJSON(w, h.log, http.StatusOK, all)
}

// HandleListDistributions handles GET /api/dividends/{id}/distributions.
func (h *Handler) HandleListDistributions(w http.ResponseWriter, r *http.Request, rawID string) {
	id, err := web.PathID(rawID)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}

	all, err := h.repo.ListDistributions(h.db, id)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	web.WriteJSON(w, h.log, http.StatusOK, all)
}

// RegisterRoutes registers all dividend routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/dividends", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/", h.HandleDeclare)
		r.Post("/{id}/distribute", func(w http.ResponseWriter, r *http.Request) {
			h.HandleDistribute(w, r, chi.URLParam(r, "id"))
		})
		r.Get("/{id}/distributions", func(w http.ResponseWriter, r *http.Request) {
			h.HandleListDistributions(w, r, chi.URLParam(r, "id"))
		})
	})
}
