// Package domain holds the small shared vocabulary of the exchange:
// fixed-point money arithmetic and the user role set.
package domain

import "github.com/shopspring/decimal"

// Monetary values carry two fractional digits; ratios carry eight.
// Every 2-decimal rounding in the system is half-even so that
// repeated settlement arithmetic stays consistent with the
// total_investment == quantity * avg_cost invariant.

// Round2 rounds a monetary amount to two decimals, half-even.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(2)
}

// Fee computes the per-side transaction fee for a trade leg.
func Fee(quantity int64, price, feeRate decimal.Decimal) decimal.Decimal {
	return Round2(decimal.NewFromInt(quantity).Mul(price).Mul(feeRate))
}

// Value returns quantity x price without rounding.
func Value(quantity int64, price decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(quantity).Mul(price)
}

// Ratio8 divides a by b at eight decimal places, half-even.
func Ratio8(a, b decimal.Decimal) decimal.Decimal {
	return a.DivRound(b, 8)
}

// Role is the set of principals the API recognises. Identity itself is
// managed upstream; handlers only gate on the role.
type Role string

const (
	RoleTrader       Role = "trader"
	RoleRegulator    Role = "regulator"
	RoleCompanyAdmin Role = "company_admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleTrader, RoleRegulator, RoleCompanyAdmin:
		return true
	}
	return false
}
