// Package audit appends immutable trail entries for every order and
// trade state change. Entries are written inside the settlement
// transaction so the trail never disagrees with the ledger.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/esx-sim/esx/internal/database"
)

// Event types recorded in the trail.
const (
	EventOrderCreated       = "OrderCreated"
	EventTradeExecuted      = "TradeExecuted"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventDividendDisbursed  = "DividendDisbursed"
	EventTraderSuspended    = "TraderSuspended"
)

// Entry is one audit trail row. Details is free-form structured data,
// stored as JSON.
type Entry struct {
	ID        int64                  `json:"id"`
	EventType string                 `json:"event_type"`
	OrderID   *int64                 `json:"order_id,omitempty"`
	TradeID   *int64                 `json:"trade_id,omitempty"`
	Details   map[string]interface{} `json:"details"`
	CreatedAt time.Time              `json:"created_at"`
}

// Repository handles audit trail database operations.
type Repository struct {
	log zerolog.Logger
}

// NewRepository creates a new audit repository.
func NewRepository(log zerolog.Logger) *Repository {
	return &Repository{log: log.With().Str("repo", "audit").Logger()}
}

// Append writes one entry inside the caller's transaction.
func (r *Repository) Append(q database.Querier, e *Entry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}

	now := time.Now()
	result, err := q.Exec(`
		INSERT INTO audit_trail (event_type, order_id, trade_id, details, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, e.EventType, e.OrderID, e.TradeID, string(details), now.Unix())
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert ID: %w", err)
	}
	e.ID = id
	e.CreatedAt = now.UTC()
	return nil
}

// List retrieves entries newest first, optionally filtered by order.
func (r *Repository) List(q database.Querier, orderID *int64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, event_type, order_id, trade_id, details, created_at FROM audit_trail`
	args := []interface{}{}
	if orderID != nil {
		query += ` WHERE order_id = ?`
		args = append(args, *orderID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var all []Entry
	for rows.Next() {
		var e Entry
		var details string
		var created int64
		if err := rows.Scan(&e.ID, &e.EventType, &e.OrderID, &e.TradeID, &details, &created); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
			return nil, fmt.Errorf("invalid stored audit details: %w", err)
		}
		e.CreatedAt = time.Unix(created, 0).UTC()
		all = append(all, e)
	}
	return all, rows.Err()
}
