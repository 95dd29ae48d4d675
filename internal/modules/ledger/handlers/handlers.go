// Package handlers provides HTTP handlers for user accounts and profit
// movements.
package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/esx-sim/esx/internal/domain"
	"github.com/esx-sim/esx/internal/modules/ledger"
	"github.com/esx-sim/esx/internal/web"
)

// Handler handles ledger HTTP requests.
type Handler struct {
	db     *sql.DB
	users  *ledger.UserRepository
	profit *ledger.ProfitService
	log    zerolog.Logger
}

// NewHandler creates a new ledger handler.
func NewHandler(db *sql.DB, users *ledger.UserRepository, profit *ledger.ProfitService, log zerolog.Logger) *Handler {
	return &Handler{
		db:     db,
		users:  users,
		profit: profit,
		log:    log.With().Str("handler", "ledger").Logger(),
	}
}

// HandleCreateUser handles POST /api/users.
func (h *Handler) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Role     string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		web.WriteError(w, h.log, domain.ErrValidation)
		return
	}
	if req.Role == "" {
		req.Role = string(domain.RoleTrader)
	}

	user := &ledger.User{Username: req.Username, Role: domain.Role(req.Role)}
	if err := h.users.Create(user); err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	web.WriteJSON(w, h.log, http.StatusCreated, user)
}

// HandleGetUser handles GET /api/users/{id}.
func (h *Handler) HandleGetUser(w http.ResponseWriter, r *http.Request, rawID string) {
	id, err := web.PathID(rawID)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}

	user, err := h.users.GetByID(h.db, id)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	if user == nil {
		web.WriteError(w, h.log, domain.ErrUnknownUser)
		return
	}
	web.WriteJSON(w, h.log, http.StatusOK, user)
}

// HandleListBalances handles GET /api/user_balances. Regulator only.
func (h *Handler) HandleListBalances(w http.ResponseWriter, r *http.Request) {
	ident, err := web.CallerIdentity(r)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	if ident.Role != domain.RoleRegulator {
		web.WriteError(w, h.log, domain.ErrForbidden)
		return
	}

	balances, err := h.users.ListBalances()
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	web.WriteJSON(w, h.log, http.StatusOK, balances)
}

// HandleCapitalize handles POST /api/capitalize_profit.
func (h *Handler) HandleCapitalize(w http.ResponseWriter, r *http.Request) {
	h.handleProfitMove(w, r, h.profit.Capitalize)
}

// HandleWithdraw handles POST /api/withdraw_profit.
func (h *Handler) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	h.handleProfitMove(w, r, h.profit.Withdraw)
}

func (h *Handler) handleProfitMove(
	w http.ResponseWriter,
	r *http.Request,
	move func(int64, decimal.Decimal) (*ledger.ProfitMovement, error),
) {
	ident, err := web.CallerIdentity(r)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}

	var req struct {
		Amount string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		web.WriteError(w, h.log, domain.ErrValidation)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		web.WriteError(w, h.log, domain.ErrValidation)
		return
	}

	movement, err := move(ident.UserID, amount)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	web.WriteJSON(w, h.log, http.StatusOK, movement)
}
