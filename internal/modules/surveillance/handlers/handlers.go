// Package handlers provides HTTP handlers for regulator review of
// flagged trades.
package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/esx-sim/esx/internal/domain"
	"github.com/esx-sim/esx/internal/modules/regulations"
	"github.com/esx-sim/esx/internal/modules/surveillance"
	"github.com/esx-sim/esx/internal/web"
)

// Handler handles surveillance HTTP requests.
type Handler struct {
	db          *sql.DB
	repo        *surveillance.Repository
	suspensions *regulations.SuspensionRepository
	log         zerolog.Logger
}

// NewHandler creates a new surveillance handler.
func NewHandler(db *sql.DB, repo *surveillance.Repository, suspensions *regulations.SuspensionRepository, log zerolog.Logger) *Handler {
	return &Handler{
		db:          db,
		repo:        repo,
		suspensions: suspensions,
		log:         log.With().Str("handler", "surveillance").Logger(),
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

// HandleList handles GET /api/suspicious-activities. Regulator only.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	if !h.requireRegulator(w, r) {
		return
	}

	unreviewedOnly := r.URL.Query().Get("unreviewed") == "true"
	all, err := h.repo.List(h.db, unreviewedOnly)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	web.WriteJSON(w, h.log, http.StatusOK, all)
}

// HandleReview handles POST /api/suspicious-activities/{id}/review.
// Regulator only.
func (h *Handler) HandleReview(w http.ResponseWriter, r *http.Request, rawID string) {
	if !h.requireRegulator(w, r) {
		return
	}
	id, err := web.PathID(rawID)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}

	if err := h.repo.MarkReviewed(h.db, id); err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	web.WriteJSON(w, h.log, http.StatusOK, map[string]interface{}{"id": id, "reviewed": true})
}

// HandleSuspendTrader handles
// POST /api/suspicious-activities/{id}/suspend-trader. Regulator only.
// Suspends a participant of the flagged trade across all stocks.
func (h *Handler) HandleSuspendTrader(w http.ResponseWriter, r *http.Request, rawID string) {
	if !h.requireRegulator(w, r) {
		return
	}
	id, err := web.PathID(rawID)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}

	activity, err := h.repo.GetByID(h.db, id)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	if activity == nil {
		web.WriteError(w, h.log, domain.ErrValidation)
		return
	}

	var buyerID int64
	var sellerID sql.NullInt64
	err = h.db.QueryRow(`SELECT buyer_id, seller_id FROM trades WHERE id = ?`, activity.TradeID).
		Scan(&buyerID, &sellerID)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}

	// Default to the buyer; the body may name the selling side instead.
	var req struct {
		TraderID *int64 `json:"trader_id,omitempty"`
		Reason   string `json:"reason"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	traderID := buyerID
	if req.TraderID != nil {
		if *req.TraderID != buyerID && (!sellerID.Valid || *req.TraderID != sellerID.Int64) {
			web.WriteError(w, h.log, domain.ErrValidation)
			return
		}
		traderID = *req.TraderID
	}
	reason := req.Reason
	if reason == "" {
		reason = activity.Reason
	}

	suspension := &regulations.Suspension{
		TraderID:  traderID,
		Scope:     regulations.ScopeAllStocks,
		Initiator: "Regulatory Body",
		Reason:    reason,
	}
	if err := h.suspensions.Create(suspension); err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	if err := h.repo.MarkReviewed(h.db, id); err != nil {
		web.WriteError(w, h.log, err)
		return
	}

	web.WriteJSON(w, h.log, http.StatusCreated, suspension)
}

// RegisterRoutes registers all surveillance routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/suspicious-activities", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/{id}/review", func(w http.ResponseWriter, r *http.Request) {
			h.HandleReview(w, r, chi.URLParam(r, "id"))
		})
		r.Post("/{id}/suspend-trader", func(w http.ResponseWriter, r *http.Request) {
			h.HandleSuspendTrader(w, r, chi.URLParam(r, "id"))
		})
	})
}
