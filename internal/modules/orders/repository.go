package orders

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/esx-sim/esx/internal/database"
)

// Repository handles order database operations. Every method takes a
// Querier because order writes happen inside the settlement transaction.
type Repository struct {
	log zerolog.Logger
}

// NewRepository creates a new order repository.
func NewRepository(log zerolog.Logger) *Repository {
	return &Repository{log: log.With().Str("repo", "orders").Logger()}
}

const orderColumns = `id, user_id, stock_id, symbol, kind, side, limit_price, qty_original, qty_remaining, fee_accrued, status, created_at`

// Create inserts a new order row.
func (r *Repository) Create(q database.Querier, o *Order) error {
	now := time.Now()

	var limitPrice interface{}
	if o.LimitPrice != nil {
		limitPrice = o.LimitPrice.StringFixed(2)
	}

	result, err := q.Exec(`
		INSERT INTO orders (user_id, stock_id, symbol, kind, side, limit_price, qty_original, qty_remaining, fee_accrued, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, '0.00', ?, ?)
	`, o.UserID, o.StockID, o.Symbol, string(o.Kind), string(o.Side), limitPrice,
		o.QtyOriginal, o.QtyRemaining, string(o.Status), now.Unix())
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert ID: %w", err)
	}
	o.ID = id
	o.FeeAccrued = decimal.Zero
	o.CreatedAt = now.UTC()
	return nil
}

// GetByID retrieves an order, or nil when not found.
func (r *Repository) GetByID(q database.Querier, id int64) (*Order, error) {
	row := q.QueryRow(`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return o, nil
}

// ApplyFill decrements the remaining quantity, accrues the fee, and
// moves the status forward. Runs inside the settlement transaction, so
// the read-modify-write is race free.
func (r *Repository) ApplyFill(q database.Querier, id, filledQty int64, fee decimal.Decimal) (*Order, error) {
	o, err := r.GetByID(q, id)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, fmt.Errorf("order %d not found", id)
	}
	if o.QtyRemaining < filledQty {
		return nil, fmt.Errorf("order %d has %d remaining, cannot fill %d", id, o.QtyRemaining, filledQty)
	}

	o.QtyRemaining -= filledQty
	o.FeeAccrued = o.FeeAccrued.Add(fee)
	if o.QtyRemaining == 0 {
		o.Status = StatusFilled
	} else {
		o.Status = StatusPartial
	}

	_, err = q.Exec(`
		UPDATE orders SET qty_remaining = ?, fee_accrued = ?, status = ? WHERE id = ?
	`, o.QtyRemaining, o.FeeAccrued.StringFixed(2), string(o.Status), id)
	if err != nil {
		return nil, fmt.Errorf("failed to apply fill: %w", err)
	}
	return o, nil
}

// SetStatus updates an order's status.
func (r *Repository) SetStatus(q database.Querier, id int64, status Status) error {
	if _, err := q.Exec(`UPDATE orders SET status = ? WHERE id = ?`, string(status), id); err != nil {
		return fmt.Errorf("failed to set order status: %w", err)
	}
	return nil
}

// ListByUser retrieves a user's orders, newest first.
func (r *Repository) ListByUser(q database.Querier, userID int64) ([]Order, error) {
	return r.list(q, `SELECT `+orderColumns+` FROM orders WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
}

// ListResting retrieves every resting limit order in arrival order, for
// rebuilding the in-memory books at startup.
func (r *Repository) ListResting(q database.Querier) ([]Order, error) {
	return r.list(q, `
		SELECT `+orderColumns+` FROM orders
		WHERE status IN ('Pending', 'Partial') AND kind = 'Limit'
		ORDER BY created_at ASC, id ASC
	`)
}

// ListOpen retrieves every order in {Pending, Partial}, market residuals
// included. The session sweeper cancels these.
func (r *Repository) ListOpen(q database.Querier) ([]Order, error) {
	return r.list(q, `
		SELECT `+orderColumns+` FROM orders
		WHERE status IN ('Pending', 'Partial')
		ORDER BY created_at ASC, id ASC
	`)
}

// CountCreatedBetween counts a user's orders created in [from, to).
func (r *Repository) CountCreatedBetween(q database.Querier, userID, from, to int64) (int64, error) {
	var count int64
	err := q.QueryRow(`
		SELECT COUNT(*) FROM orders WHERE user_id = ? AND created_at >= ? AND created_at < ?
	`, userID, from, to).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count orders: %w", err)
	}
	return count, nil
}

func (r *Repository) list(q database.Querier, query string, args ...interface{}) ([]Order, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var all []Order
	for rows.Next() {
		o, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		all = append(all, *o)
	}
	return all, rows.Err()
}

func scanOrder(scan func(...interface{}) error) (*Order, error) {
	var o Order
	var kind, side, status, fee string
	var limitPrice sql.NullString
	var created int64
	if err := scan(&o.ID, &o.UserID, &o.StockID, &o.Symbol, &kind, &side, &limitPrice,
		&o.QtyOriginal, &o.QtyRemaining, &fee, &status, &created); err != nil {
		return nil, err
	}

	o.Kind = Kind(kind)
	o.Side = Side(side)
	o.Status = Status(status)
	o.CreatedAt = time.Unix(created, 0).UTC()

	var err error
	if o.FeeAccrued, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("invalid stored fee %q: %w", fee, err)
	}
	if limitPrice.Valid {
		p, err := decimal.NewFromString(limitPrice.String)
		if err != nil {
			return nil, fmt.Errorf("invalid stored limit price %q: %w", limitPrice.String, err)
		}
		o.LimitPrice = &p
	}
	return &o, nil
}
