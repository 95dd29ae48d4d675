// Package handlers provides HTTP handlers for company and stock listings.
package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/esx-sim/esx/internal/domain"
	"github.com/esx-sim/esx/internal/modules/universe"
	"github.com/esx-sim/esx/internal/web"
)

// Handler handles listing HTTP requests.
type Handler struct {
	db            *sql.DB
	companies     *universe.CompanyRepository
	stocks        *universe.StockRepository
	closingPrices *universe.ClosingPriceRepository
	log           zerolog.Logger
}

// NewHandler creates a new universe handler.
func NewHandler(
	db *sql.DB,
	companies *universe.CompanyRepository,
	stocks *universe.StockRepository,
	closingPrices *universe.ClosingPriceRepository,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		db:            db,
		companies:     companies,
		stocks:        stocks,
		closingPrices: closingPrices,
		log:           log.With().Str("handler", "universe").Logger(),
	}
}

// HandleCreateCompany handles POST /api/companies. Admin only.
func (h *Handler) HandleCreateCompany(w http.ResponseWriter, r *http.Request) {
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
		Name   string `json:"name"`
		Sector string `json:"sector"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		web.WriteError(w, h.log, domain.ErrValidation)
		return
	}

	company := &universe.Company{Name: req.Name, Sector: req.Sector}
	if err := h.companies.Create(company); err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	web.WriteJSON(w, h.log, http.StatusCreated, company)
}

// HandleListCompanies handles GET /api/companies.
func (h *Handler) HandleListCompanies(w http.ResponseWriter, r *http.Request) {
	all, err := h.companies.List()
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	web.WriteJSON(w, h.log, http.StatusOK, all)
}

// HandleCreateStock handles POST /api/stocks. Admin only.
func (h *Handler) HandleCreateStock(w http.ResponseWriter, r *http.Request) {
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
		CompanyID       int64  `json:"company_id"`
		Symbol          string `json:"symbol"`
		TotalShares     int64  `json:"total_shares"`
		AvailableShares int64  `json:"available_shares"`
		CurrentPrice    string `json:"current_price"`
		MaxDirectBuy    int64  `json:"max_direct_buy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		web.WriteError(w, h.log, domain.ErrValidation)
		return
	}

	price, err := decimal.NewFromString(req.CurrentPrice)
	if err != nil {
		web.WriteError(w, h.log, domain.ErrValidation)
		return
	}

	company, err := h.companies.GetByID(req.CompanyID)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	if company == nil {
		web.WriteError(w, h.log, domain.ErrUnknownInstrument)
		return
	}

	stock := &universe.Stock{
		CompanyID:       req.CompanyID,
		Symbol:          req.Symbol,
		TotalShares:     req.TotalShares,
		AvailableShares: req.AvailableShares,
		CurrentPrice:    price,
		MaxDirectBuy:    req.MaxDirectBuy,
	}
	if err := h.stocks.Create(stock); err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	web.WriteJSON(w, h.log, http.StatusCreated, stock)
}

// HandleListStocks handles GET /api/stocks.
func (h *Handler) HandleListStocks(w http.ResponseWriter, r *http.Request) {
	all, err := h.stocks.List()
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	web.WriteJSON(w, h.log, http.StatusOK, all)
}

// HandleGetStock handles GET /api/stocks/{id}. Accepts a numeric id or
// a ticker symbol.
func (h *Handler) HandleGetStock(w http.ResponseWriter, r *http.Request, key string) {
	var stock *universe.Stock
	if id, err := strconv.ParseInt(key, 10, 64); err == nil {
		stock, err = h.stocks.GetByID(h.db, id)
		if err != nil {
			web.WriteError(w, h.log, err)
			return
		}
	} else {
		stock, err = h.stocks.GetBySymbol(key)
		if err != nil {
			web.WriteError(w, h.log, err)
			return
		}
	}
	if stock == nil {
		web.WriteError(w, h.log, domain.ErrUnknownInstrument)
		return
	}
	web.WriteJSON(w, h.log, http.StatusOK, stock)
}

// HandleUpdatePrice handles PUT /api/stocks/{id}/price. Admin only.
func (h *Handler) HandleUpdatePrice(w http.ResponseWriter, r *http.Request, rawID string) {
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

	var req struct {
		CurrentPrice string `json:"current_price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		web.WriteError(w, h.log, domain.ErrValidation)
		return
	}
	price, err := decimal.NewFromString(req.CurrentPrice)
	if err != nil || !price.IsPositive() {
		web.WriteError(w, h.log, domain.ErrValidation)
		return
	}

	if err := h.stocks.UpdatePrice(id, price); err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	web.WriteJSON(w, h.log, http.StatusOK, map[string]interface{}{
		"stock_id":      id,
		"current_price": price,
	})
}

// HandleClosingPrices handles GET /api/stocks/{id}/closing_prices.
func (h *Handler) HandleClosingPrices(w http.ResponseWriter, r *http.Request, rawID string) {
	id, err := web.PathID(rawID)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}

	limit := 30
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		if parsed, err := strconv.Atoi(rawLimit); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	history, err := h.closingPrices.History(id, limit)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	web.WriteJSON(w, h.log, http.StatusOK, history)
}
