package universe

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/esx-sim/esx/internal/database"
)

// ClosingPrice is the end-of-day price record for one stock, keyed by
// calendar day in YYYY-MM-DD form.
type ClosingPrice struct {
	ID           int64           `json:"id"`
	StockID      int64           `json:"stock_id"`
	Day          string          `json:"day"`
	ClosingPrice decimal.Decimal `json:"closing_price"`
}

// ClosingPriceRepository handles daily closing price records.
type ClosingPriceRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewClosingPriceRepository creates a new closing price repository.
func NewClosingPriceRepository(db *sql.DB, log zerolog.Logger) *ClosingPriceRepository {
	return &ClosingPriceRepository{
		db:  db,
		log: log.With().Str("repo", "closing_prices").Logger(),
	}
}

// Upsert records the closing price for a stock on a day. Re-running the
// end-of-day job overwrites the same day's row.
func (r *ClosingPriceRepository) Upsert(stockID int64, day string, price decimal.Decimal) error {
	_, err := r.db.Exec(`
		INSERT INTO daily_closing_prices (stock_id, day, closing_price)
		VALUES (?, ?, ?)
		ON CONFLICT(stock_id, day) DO UPDATE SET closing_price = excluded.closing_price
	`, stockID, day, price.StringFixed(2))
	if err != nil {
		return fmt.Errorf("failed to upsert closing price: %w", err)
	}
	return nil
}

// HighestTradePrice returns the maximum trade price for a stock on the
// given day bounded by [from, to) Unix seconds. ok is false when the
// stock did not trade.
func (r *ClosingPriceRepository) HighestTradePrice(q database.Querier, stockID, from, to int64) (decimal.Decimal, bool, error) {
	var raw string
	err := q.QueryRow(`
		SELECT price FROM trades
		WHERE stock_id = ? AND executed_at >= ? AND executed_at < ?
		ORDER BY CAST(price AS REAL) DESC LIMIT 1
	`, stockID, from, to).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to query highest trade price: %w", err)
	}

	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("invalid stored trade price %q: %w", raw, err)
	}
	return price, true, nil
}

// History returns the closing price records for a stock, newest first.
func (r *ClosingPriceRepository) History(stockID int64, limit int) ([]ClosingPrice, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := r.db.Query(`
		SELECT id, stock_id, day, closing_price FROM daily_closing_prices
		WHERE stock_id = ? ORDER BY day DESC LIMIT ?
	`, stockID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list closing prices: %w", err)
	}
	defer rows.Close()

	var all []ClosingPrice
	for rows.Next() {
		var cp ClosingPrice
		var raw string
		if err := rows.Scan(&cp.ID, &cp.StockID, &cp.Day, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan closing price: %w", err)
		}
		cp.ClosingPrice, err = decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid stored closing price %q: %w", raw, err)
		}
		all = append(all, cp)
	}
	return all, rows.Err()
}
