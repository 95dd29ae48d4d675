// Package dividends computes and disburses post-fiscal-year dividends.
// Each holder's share is pro-rated by the day-weighted value of their
// FIFO lots inside the fiscal window.
package dividends

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/esx-sim/esx/internal/database"
)

// Dividend statuses.
const (
	StatusPending   = "Pending"
	StatusDisbursed = "Disbursed"
)

// Dividend is one declared payout of a company for a budget year.
type Dividend struct {
	ID          int64            `json:"id"`
	CompanyID   int64            `json:"company_id"`
	BudgetYear  string           `json:"budget_year"`
	TotalAmount decimal.Decimal  `json:"total_amount"`
	Ratio       *decimal.Decimal `json:"ratio,omitempty"`
	Status      string           `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Distribution is one holder's credited share of a dividend.
type Distribution struct {
	ID         int64           `json:"id"`
	DividendID int64           `json:"dividend_id"`
	UserID     int64           `json:"user_id"`
	Amount     decimal.Decimal `json:"amount"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Repository handles dividend database operations.
type Repository struct {
	log zerolog.Logger
}

// NewRepository creates a new dividend repository.
func NewRepository(log zerolog.Logger) *Repository {
	return &Repository{log: log.With().Str("repo", "dividends").Logger()}
}

const dividendColumns = `id, company_id, budget_year, total_amount, ratio, status, created_at`

// Create declares a dividend in Pending state. One per company and
// budget year.
func (r *Repository) Create(q database.Querier, d *Dividend) error {
	if !d.TotalAmount.IsPositive() {
		return fmt.Errorf("total_amount must be positive")
	}

	now := time.Now()
	result, err := q.Exec(`
		INSERT INTO dividends (company_id, budget_year, total_amount, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, d.CompanyID, d.BudgetYear, d.TotalAmount.StringFixed(2), StatusPending, now.Unix())
	if err != nil {
		return fmt.Errorf("failed to create dividend: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert ID: %w", err)
	}
	d.ID = id
	d.Status = StatusPending
	d.CreatedAt = now.UTC()
	return nil
}

// GetByID retrieves a dividend, or nil when not found.
func (r *Repository) GetByID(q database.Querier, id int64) (*Dividend, error) {
	row := q.QueryRow(`SELECT `+dividendColumns+` FROM dividends WHERE id = ?`, id)

	var d Dividend
	var total string
	var ratio sql.NullString
	var created int64
	err := row.Scan(&d.ID, &d.CompanyID, &d.BudgetYear, &total, &ratio, &d.Status, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dividend: %w", err)
	}

	if d.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("invalid stored total amount %q: %w", total, err)
	}
	if ratio.Valid {
		parsed, err := decimal.NewFromString(ratio.String)
		if err != nil {
			return nil, fmt.Errorf("invalid stored ratio %q: %w", ratio.String, err)
		}
		d.Ratio = &parsed
	}
	d.CreatedAt = time.Unix(created, 0).UTC()
	return &d, nil
}

// List retrieves every dividend, newest first.
func (r *Repository) List(q database.Querier) ([]Dividend, error) {
	rows, err := q.Query(`SELECT ` + dividendColumns + ` FROM dividends ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list dividends: %w", err)
	}
	defer rows.Close()

	var all []Dividend
	for rows.Next() {
		var d Dividend
		var total string
		var ratio sql.NullString
		var created int64
		if err := rows.Scan(&d.ID, &d.CompanyID, &d.BudgetYear, &total, &ratio, &d.Status, &created); err != nil {
			return nil, fmt.Errorf("failed to scan dividend: %w", err)
		}
		if d.TotalAmount, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("invalid stored total amount %q: %w", total, err)
		}
		if ratio.Valid {
			parsed, err := decimal.NewFromString(ratio.String)
			if err != nil {
				return nil, fmt.Errorf("invalid stored ratio %q: %w", ratio.String, err)
			}
			d.Ratio = &parsed
		}
		d.CreatedAt = time.Unix(created, 0).UTC()
		all = append(all, d)
	}
	return all, rows.Err()
}

// MarkDisbursed persists the computed ratio and flips the status.
func (r *Repository) MarkDisbursed(q database.Querier, id int64, ratio decimal.Decimal) error {
	result, err := q.Exec(`
		UPDATE dividends SET ratio = ?, status = ? WHERE id = ? AND status = ?
	`, ratio.String(), StatusDisbursed, id, StatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark dividend disbursed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("dividend %d is not pending", id)
	}
	return nil
}

// AddDistribution records one holder's credited amount.
func (r *Repository) AddDistribution(q database.Querier, dist *Distribution) error {
	now := time.Now()
	result, err := q.Exec(`
		INSERT INTO dividend_distributions (dividend_id, user_id, amount, created_at)
		VALUES (?, ?, ?, ?)
	`, dist.DividendID, dist.UserID, dist.Amount.StringFixed(2), now.Unix())
	if err != nil {
		return fmt.Errorf("failed to add distribution: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert ID: %w", err)
	}
	dist.ID = id
	dist.CreatedAt = now.UTC()
	return nil
}

// ListDistributions retrieves a dividend's distributions.
func (r *Repository) ListDistributions(q database.Querier, dividendID int64) ([]Distribution, error) {
	rows, err := q.Query(`
		SELECT id, dividend_id, user_id, amount, created_at FROM dividend_distributions
		WHERE dividend_id = ? ORDER BY user_id
	`, dividendID)
	if err != nil {
		return nil, fmt.Errorf("failed to list distributions: %w", err)
	}
	defer rows.Close()

	var all []Distribution
	for rows.Next() {
		var d Distribution
		var amount string
		var created int64
		if err := rows.Scan(&d.ID, &d.DividendID, &d.UserID, &amount, &created); err != nil {
			return nil, fmt.Errorf("failed to scan distribution: %w", err)
		}
		if d.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("invalid stored amount %q: %w", amount, err)
		}
		d.CreatedAt = time.Unix(created, 0).UTC()
		all = append(all, d)
	}
	return all, rows.Err()
}
