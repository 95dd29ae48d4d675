// Package trading is the matching and settlement core: order intake
// checks, price-time priority crossing with company inventory fallback,
// and atomic settlement of every match.
package trading

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/esx-sim/esx/internal/database"
)

// Trade is one executed match. SellerID and SellOrderID are nil when
// the company inventory was the selling side.
type Trade struct {
	ID          int64            `json:"id"`
	StockID     int64            `json:"stock_id"`
	Symbol      string           `json:"symbol"`
	BuyOrderID  int64            `json:"buy_order_id"`
	SellOrderID *int64           `json:"sell_order_id,omitempty"`
	BuyerID     int64            `json:"buyer_id"`
	SellerID    *int64           `json:"seller_id,omitempty"`
	Quantity    int64            `json:"quantity"`
	Price       decimal.Decimal  `json:"price"`
	BuyerFee    decimal.Decimal  `json:"buyer_fee"`
	SellerFee   *decimal.Decimal `json:"seller_fee,omitempty"`
	ExecutedAt  time.Time        `json:"executed_at"`
}

// TradeRepository handles trade database operations.
type TradeRepository struct {
	log zerolog.Logger
}

// NewTradeRepository creates a new trade repository.
func NewTradeRepository(log zerolog.Logger) *TradeRepository {
	return &TradeRepository{log: log.With().Str("repo", "trades").Logger()}
}

const tradeColumns = `id, stock_id, symbol, buy_order_id, sell_order_id, buyer_id, seller_id, quantity, price, buyer_fee, seller_fee, executed_at`

// Create inserts a trade inside the settlement transaction.
func (r *TradeRepository) Create(q database.Querier, t *Trade) error {
	now := time.Now()

	var sellerFee interface{}
	if t.SellerFee != nil {
		sellerFee = t.SellerFee.StringFixed(2)
	}

	result, err := q.Exec(`
		INSERT INTO trades (stock_id, symbol, buy_order_id, sell_order_id, buyer_id, seller_id, quantity, price, buyer_fee, seller_fee, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.StockID, t.Symbol, t.BuyOrderID, t.SellOrderID, t.BuyerID, t.SellerID,
		t.Quantity, t.Price.StringFixed(2), t.BuyerFee.StringFixed(2), sellerFee, now.Unix())
	if err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert ID: %w", err)
	}
	t.ID = id
	t.ExecutedAt = now.UTC()
	return nil
}

// ListByUser retrieves the trades a user participated in, newest first.
func (r *TradeRepository) ListByUser(q database.Querier, userID int64) ([]Trade, error) {
	return r.list(q, `
		SELECT `+tradeColumns+` FROM trades
		WHERE buyer_id = ? OR seller_id = ?
		ORDER BY executed_at DESC, id DESC
	`, userID, userID)
}

// ListByStock retrieves a stock's trade tape in execution order.
func (r *TradeRepository) ListByStock(q database.Querier, stockID int64) ([]Trade, error) {
	return r.list(q, `
		SELECT `+tradeColumns+` FROM trades
		WHERE stock_id = ?
		ORDER BY executed_at ASC, id ASC
	`, stockID)
}

// NetLong returns a user's net long position in a stock: bought
// quantity minus sold quantity across all trades.
func (r *TradeRepository) NetLong(q database.Querier, userID, stockID int64) (int64, error) {
	var net sql.NullInt64
	err := q.QueryRow(`
		SELECT COALESCE(SUM(CASE WHEN buyer_id = ? THEN quantity ELSE 0 END), 0)
		     - COALESCE(SUM(CASE WHEN seller_id = ? THEN quantity ELSE 0 END), 0)
		FROM trades WHERE stock_id = ? AND (buyer_id = ? OR seller_id = ?)
	`, userID, userID, stockID, userID, userID).Scan(&net)
	if err != nil {
		return 0, fmt.Errorf("failed to compute net long position: %w", err)
	}
	return net.Int64, nil
}

// TradedAmountBetween sums qty x price over a user's trades, both
// sides, executed in [from, to). Feeds the daily amount limit check.
func (r *TradeRepository) TradedAmountBetween(q database.Querier, userID, from, to int64) (decimal.Decimal, error) {
	rows, err := q.Query(`
		SELECT quantity, price FROM trades
		WHERE (buyer_id = ? OR seller_id = ?) AND executed_at >= ? AND executed_at < ?
	`, userID, userID, from, to)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum traded amount: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var qty int64
		var raw string
		if err := rows.Scan(&qty, &raw); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan trade: %w", err)
		}
		price, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid stored trade price %q: %w", raw, err)
		}
		total = total.Add(decimal.NewFromInt(qty).Mul(price))
	}
	return total, rows.Err()
}

func (r *TradeRepository) list(q database.Querier, query string, args ...interface{}) ([]Trade, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	defer rows.Close()

	var all []Trade
	for rows.Next() {
		var t Trade
		var price, buyerFee string
		var sellerFee sql.NullString
		var executed int64
		if err := rows.Scan(&t.ID, &t.StockID, &t.Symbol, &t.BuyOrderID, &t.SellOrderID,
			&t.BuyerID, &t.SellerID, &t.Quantity, &price, &buyerFee, &sellerFee, &executed); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}

		if t.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("invalid stored trade price %q: %w", price, err)
		}
		if t.BuyerFee, err = decimal.NewFromString(buyerFee); err != nil {
			return nil, fmt.Errorf("invalid stored buyer fee %q: %w", buyerFee, err)
		}
		if sellerFee.Valid {
			fee, err := decimal.NewFromString(sellerFee.String)
			if err != nil {
				return nil, fmt.Errorf("invalid stored seller fee %q: %w", sellerFee.String, err)
			}
			t.SellerFee = &fee
		}
		t.ExecutedAt = time.Unix(executed, 0).UTC()
		all = append(all, t)
	}
	return all, rows.Err()
}
