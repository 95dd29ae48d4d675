// Package orders owns the order lifecycle: the persisted order rows and
// the in-memory per-stock book of resting limit orders the matching
// engine crosses against.
package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side of an order.
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// Kind of an order.
type Kind string

const (
	KindMarket Kind = "Market"
	KindLimit  Kind = "Limit"
)

// Status of an order. Only Pending and Partial orders participate in
// matching.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusPartial   Status = "Partial"
	StatusFilled    Status = "Filled"
	StatusCancelled Status = "Cancelled"
)

// Resting reports whether orders in this status are visible to matching.
func (s Status) Resting() bool {
	return s == StatusPending || s == StatusPartial
}

// Order is a persisted order row.
type Order struct {
	ID           int64            `json:"id"`
	UserID       int64            `json:"user_id"`
	StockID      int64            `json:"stock_id"`
	Symbol       string           `json:"symbol"`
	Kind         Kind             `json:"kind"`
	Side         Side             `json:"side"`
	LimitPrice   *decimal.Decimal `json:"limit_price,omitempty"`
	QtyOriginal  int64            `json:"qty_original"`
	QtyRemaining int64            `json:"qty_remaining"`
	FeeAccrued   decimal.Decimal  `json:"fee_accrued"`
	Status       Status           `json:"status"`
	CreatedAt    time.Time        `json:"created_at"`
}
