// Package portfolio maintains the per-user position aggregate: total
// quantity held, average cost, and remaining invested amount. Rows are
// lazily created on the first trade and updated inside the settlement
// transaction.
package portfolio

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/esx-sim/esx/internal/database"
	"github.com/esx-sim/esx/internal/domain"
)

// Portfolio is the position aggregate of one user.
//
// Invariant: total_investment == quantity * avg_cost within a cent,
// and avg_cost is zero whenever quantity is zero.
type Portfolio struct {
	UserID          int64           `json:"user_id"`
	Quantity        int64           `json:"quantity"`
	AvgCost         decimal.Decimal `json:"avg_cost"`
	TotalInvestment decimal.Decimal `json:"total_investment"`
}

// Repository handles portfolio database operations.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new portfolio repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "portfolios").Logger(),
	}
}

// Get retrieves a user's portfolio. A user who never traded gets the
// zero aggregate, not an error.
func (r *Repository) Get(q database.Querier, userID int64) (*Portfolio, error) {
	row := q.QueryRow(`
		SELECT user_id, quantity, avg_cost, total_investment FROM portfolios WHERE user_id = ?
	`, userID)

	var p Portfolio
	var avgCost, invested string
	err := row.Scan(&p.UserID, &p.Quantity, &avgCost, &invested)
	if errors.Is(err, sql.ErrNoRows) {
		return &Portfolio{UserID: userID, AvgCost: decimal.Zero, TotalInvestment: decimal.Zero}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio: %w", err)
	}

	if p.AvgCost, err = decimal.NewFromString(avgCost); err != nil {
		return nil, fmt.Errorf("invalid stored avg_cost %q: %w", avgCost, err)
	}
	if p.TotalInvestment, err = decimal.NewFromString(invested); err != nil {
		return nil, fmt.Errorf("invalid stored total_investment %q: %w", invested, err)
	}
	return &p, nil
}

// ApplyBuy folds a buy execution into the aggregate:
// quantity grows, investment grows by qty x price, average cost is
// re-derived from the new totals.
func (r *Repository) ApplyBuy(q database.Querier, userID, quantity int64, price decimal.Decimal) error {
	p, err := r.Get(q, userID)
	if err != nil {
		return err
	}

	newQty := p.Quantity + quantity
	newInvestment := domain.Round2(p.TotalInvestment.Add(domain.Value(quantity, price)))
	newAvgCost := domain.Round2(newInvestment.Div(decimal.NewFromInt(newQty)))

	return r.upsert(q, userID, newQty, newAvgCost, newInvestment)
}

// ApplySell folds a sell execution into the aggregate: the cost basis
// of the sold shares leaves at the average cost, not the sale price.
func (r *Repository) ApplySell(q database.Querier, userID, quantity int64) error {
	p, err := r.Get(q, userID)
	if err != nil {
		return err
	}
	if p.Quantity < quantity {
		return fmt.Errorf("%w: portfolio of user %d holds %d, selling %d",
			domain.ErrInsufficientShares, userID, p.Quantity, quantity)
	}

	newQty := p.Quantity - quantity
	newInvestment := domain.Round2(p.TotalInvestment.Sub(domain.Value(quantity, p.AvgCost)))
	newAvgCost := p.AvgCost
	if newQty == 0 {
		newAvgCost = decimal.Zero
		newInvestment = decimal.Zero
	}

	return r.upsert(q, userID, newQty, newAvgCost, newInvestment)
}

func (r *Repository) upsert(q database.Querier, userID, quantity int64, avgCost, invested decimal.Decimal) error {
	_, err := q.Exec(`
		INSERT INTO portfolios (user_id, quantity, avg_cost, total_investment)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			quantity = excluded.quantity,
			avg_cost = excluded.avg_cost,
			total_investment = excluded.total_investment
	`, userID, quantity, avgCost.StringFixed(2), invested.StringFixed(2))
	if err != nil {
		return fmt.Errorf("failed to upsert portfolio: %w", err)
	}
	return nil
}
