package universe

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/esx-sim/esx/internal/database"
)

// StockRepository handles stock database operations. Reads used inside
// the matching transaction take a Querier so they see the transaction's
// own snapshot.
type StockRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStockRepository creates a new stock repository.
func NewStockRepository(db *sql.DB, log zerolog.Logger) *StockRepository {
	return &StockRepository{
		db:  db,
		log: log.With().Str("repo", "stocks").Logger(),
	}
}

const stockColumns = `id, company_id, symbol, total_shares, available_shares, current_price, max_direct_buy, created_at`

// Create inserts a new stock listing.
func (r *StockRepository) Create(s *Stock) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("failed to create stock: %w", err)
	}

	now := time.Now()
	result, err := r.db.Exec(`
		INSERT INTO stocks (company_id, symbol, total_shares, available_shares, current_price, max_direct_buy, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		s.CompanyID,
		strings.ToUpper(strings.TrimSpace(s.Symbol)),
		s.TotalShares,
		s.AvailableShares,
		s.CurrentPrice.StringFixed(2),
		s.MaxDirectBuy,
		now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create stock: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert ID: %w", err)
	}
	s.ID = id
	s.CreatedAt = now.UTC()

	r.log.Info().Str("symbol", s.Symbol).Int64("id", s.ID).Msg("Stock listed")
	return nil
}

// GetByID retrieves a stock, or nil when not found.
func (r *StockRepository) GetByID(q database.Querier, id int64) (*Stock, error) {
	row := q.QueryRow(`SELECT `+stockColumns+` FROM stocks WHERE id = ?`, id)
	stock, err := scanStock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stock: %w", err)
	}
	return &stock, nil
}

// GetBySymbol retrieves a stock by ticker symbol, or nil when not found.
func (r *StockRepository) GetBySymbol(symbol string) (*Stock, error) {
	row := r.db.QueryRow(`SELECT `+stockColumns+` FROM stocks WHERE symbol = ?`, strings.ToUpper(strings.TrimSpace(symbol)))
	stock, err := scanStock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stock by symbol: %w", err)
	}
	return &stock, nil
}

// List retrieves all stocks.
func (r *StockRepository) List() ([]Stock, error) {
	rows, err := r.db.Query(`SELECT ` + stockColumns + ` FROM stocks ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to list stocks: %w", err)
	}
	defer rows.Close()

	var all []Stock
	for rows.Next() {
		stock, err := scanStockRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stock: %w", err)
		}
		all = append(all, stock)
	}
	return all, rows.Err()
}

// ListByCompany retrieves all stocks of a company.
func (r *StockRepository) ListByCompany(q database.Querier, companyID int64) ([]Stock, error) {
	rows, err := q.Query(`SELECT `+stockColumns+` FROM stocks WHERE company_id = ? ORDER BY id`, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list company stocks: %w", err)
	}
	defer rows.Close()

	var all []Stock
	for rows.Next() {
		stock, err := scanStockRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stock: %w", err)
		}
		all = append(all, stock)
	}
	return all, rows.Err()
}

// UpdatePrice sets the administered current price.
func (r *StockRepository) UpdatePrice(id int64, price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("current_price must be positive")
	}
	result, err := r.db.Exec(`UPDATE stocks SET current_price = ? WHERE id = ?`, price.StringFixed(2), id)
	if err != nil {
		return fmt.Errorf("failed to update price: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("stock %d not found", id)
	}

	r.log.Info().Int64("stock_id", id).Str("price", price.StringFixed(2)).Msg("Price updated")
	return nil
}

// DecrementInventory reduces available_shares inside the settlement
// transaction. It fails rather than go negative.
func (r *StockRepository) DecrementInventory(q database.Querier, id, quantity int64) error {
	result, err := q.Exec(`
		UPDATE stocks SET available_shares = available_shares - ?
		WHERE id = ? AND available_shares >= ?
	`, quantity, id, quantity)
	if err != nil {
		return fmt.Errorf("failed to decrement inventory: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("insufficient inventory on stock %d", id)
	}
	return nil
}

func scanStock(row *sql.Row) (Stock, error) {
	var s Stock
	var price string
	var created int64
	if err := row.Scan(&s.ID, &s.CompanyID, &s.Symbol, &s.TotalShares, &s.AvailableShares, &price, &s.MaxDirectBuy, &created); err != nil {
		return Stock{}, err
	}
	return finishStock(s, price, created)
}

func scanStockRows(rows *sql.Rows) (Stock, error) {
	var s Stock
	var price string
	var created int64
	if err := rows.Scan(&s.ID, &s.CompanyID, &s.Symbol, &s.TotalShares, &s.AvailableShares, &price, &s.MaxDirectBuy, &created); err != nil {
		return Stock{}, err
	}
	return finishStock(s, price, created)
}

func finishStock(s Stock, price string, created int64) (Stock, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return Stock{}, fmt.Errorf("invalid stored price %q: %w", price, err)
	}
	s.CurrentPrice = p
	s.CreatedAt = time.Unix(created, 0).UTC()
	return s, nil
}
