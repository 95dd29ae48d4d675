// Package universe owns the listed companies and their tradable stocks.
// A stock carries the company-held inventory (available_shares) that the
// matching engine falls back to, and the administered current price.
package universe

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Company is an issuer. Companies are admin-created and never deleted
// while referenced.
type Company struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Sector    string    `json:"sector"`
	CreatedAt time.Time `json:"created_at"`
}

// Stock is a tradable listing tied to a company.
type Stock struct {
	ID              int64           `json:"id"`
	CompanyID       int64           `json:"company_id"`
	Symbol          string          `json:"symbol"`
	TotalShares     int64           `json:"total_shares"`
	AvailableShares int64           `json:"available_shares"`
	CurrentPrice    decimal.Decimal `json:"current_price"`
	MaxDirectBuy    int64           `json:"max_direct_buy"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Validate enforces the listing invariants.
func (s Stock) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("symbol must not be empty")
	}
	if s.TotalShares < 0 {
		return fmt.Errorf("total_shares must not be negative")
	}
	if s.AvailableShares < 0 || s.AvailableShares > s.TotalShares {
		return fmt.Errorf("available_shares must be within [0, total_shares]")
	}
	if !s.CurrentPrice.IsPositive() {
		return fmt.Errorf("current_price must be positive")
	}
	if s.MaxDirectBuy > s.TotalShares {
		return fmt.Errorf("max_direct_buy cannot exceed total_shares")
	}
	return nil
}
