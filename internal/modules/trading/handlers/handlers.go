// Package handlers provides HTTP handlers for order submission and
// trade reads.
package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/esx-sim/esx/internal/domain"
	"github.com/esx-sim/esx/internal/modules/orders"
	"github.com/esx-sim/esx/internal/modules/trading"
	"github.com/esx-sim/esx/internal/web"
)

// Handler handles trading HTTP requests.
type Handler struct {
	db        *sql.DB
	engine    *trading.Engine
	orderRepo *orders.Repository
	tradeRepo *trading.TradeRepository
	log       zerolog.Logger
}

// NewHandler creates a new trading handler.
func NewHandler(
	db *sql.DB,
	engine *trading.Engine,
	orderRepo *orders.Repository,
	tradeRepo *trading.TradeRepository,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		db:        db,
		engine:    engine,
		orderRepo: orderRepo,
		tradeRepo: tradeRepo,
		log:       log.With().Str("handler", "trading").Logger(),
	}
}

// HandleSubmitOrder handles POST /api/orders.
func (h *Handler) HandleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	ident, err := web.CallerIdentity(r)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}

	var req struct {
		InstrumentID int64   `json:"instrument_id"`
		Kind         string  `json:"kind"`
		Side         string  `json:"side"`
		LimitPrice   *string `json:"limit_price,omitempty"`
		Qty          int64   `json:"qty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		web.WriteError(w, h.log, domain.ErrValidation)
		return
	}

	var limitPrice *decimal.Decimal
	if req.LimitPrice != nil {
		p, err := decimal.NewFromString(*req.LimitPrice)
		if err != nil {
			web.WriteError(w, h.log, domain.ErrValidation)
			return
		}
		limitPrice = &p
	}

	result, err := h.engine.Submit(trading.SubmitRequest{
		UserID:     ident.UserID,
		StockID:    req.InstrumentID,
		Kind:       orders.Kind(req.Kind),
		Side:       orders.Side(req.Side),
		LimitPrice: limitPrice,
		Qty:        req.Qty,
	})
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	web.WriteJSON(w, h.log, http.StatusCreated, result)
}

// HandleDirectBuy handles POST /api/direct_buy.
func (h *Handler) HandleDirectBuy(w http.ResponseWriter, r *http.Request) {
	ident, err := web.CallerIdentity(r)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}

	var req struct {
		InstrumentID int64 `json:"instrument_id"`
		Qty          int64 `json:"qty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		web.WriteError(w, h.log, domain.ErrValidation)
		return
	}

	administrative := ident.Role == domain.RoleCompanyAdmin
	result, err := h.engine.DirectBuy(ident.UserID, req.InstrumentID, req.Qty, administrative)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	web.WriteJSON(w, h.log, http.StatusCreated, result)
}

// HandleCancelOrder handles POST /api/orders/{id}/cancel.
func (h *Handler) HandleCancelOrder(w http.ResponseWriter, r *http.Request, rawID string) {
	ident, err := web.CallerIdentity(r)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	id, err := web.PathID(rawID)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}

	order, err := h.engine.Cancel(id, ident.UserID)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	web.WriteJSON(w, h.log, http.StatusOK, order)
}

// HandleUserTrades handles GET /api/user/{id}/trades.
func (h *Handler) HandleUserTrades(w http.ResponseWriter, r *http.Request, rawID string) {
	id, err := web.PathID(rawID)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}

	trades, err := h.tradeRepo.ListByUser(h.db, id)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	web.WriteJSON(w, h.log, http.StatusOK, trades)
}

// HandleUserOrders handles GET /api/user/{id}/orders.
func (h *Handler) HandleUserOrders(w http.ResponseWriter, r *http.Request, rawID string) {
	id, err := web.PathID(rawID)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}

	all, err := h.orderRepo.ListByUser(h.db, id)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	web.WriteJSON(w, h.log, http.StatusOK, all)
}

// HandleStockTrades handles GET /api/stocks/{id}/trades.
func (h *Handler) HandleStockTrades(w http.ResponseWriter, r *http.Request, rawID string) {
	id, err := web.PathID(rawID)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}

	tape, err := h.tradeRepo.ListByStock(h.db, id)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	web.WriteJSON(w, h.log, http.StatusOK, tape)
}

// HandleFIFOHoldings handles GET /api/stocks/{id}/fifonet_holdings.
func (h *Handler) HandleFIFOHoldings(w http.ResponseWriter, r *http.Request, rawID string) {
	id, err := web.PathID(rawID)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}

	var priceOverride *decimal.Decimal
	if raw := r.URL.Query().Get("current_price"); raw != "" {
		p, err := decimal.NewFromString(raw)
		if err != nil || !p.IsPositive() {
			web.WriteError(w, h.log, domain.ErrValidation)
			return
		}
		priceOverride = &p
	}

	holdings, err := h.engine.Holdings(id, priceOverride)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	web.WriteJSON(w, h.log, http.StatusOK, holdings)
}
