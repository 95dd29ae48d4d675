// Package surveillance watches every executed trade for anomalies and
// records SuspiciousActivity rows for regulator review. Detection is
// read-only aside from the insert and never aborts settlement.
package surveillance

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/esx-sim/esx/internal/database"
)

// SuspiciousActivity is one flagged trade.
type SuspiciousActivity struct {
	ID        int64     `json:"id"`
	TradeID   int64     `json:"trade_id"`
	Reason    string    `json:"reason"`
	Reviewed  bool      `json:"reviewed"`
	FlaggedAt time.Time `json:"flagged_at"`
}

// Repository handles suspicious activity database operations.
type Repository struct {
	log zerolog.Logger
}

// NewRepository creates a new surveillance repository.
func NewRepository(log zerolog.Logger) *Repository {
	return &Repository{log: log.With().Str("repo", "surveillance").Logger()}
}

// Create inserts a flag inside the caller's transaction.
func (r *Repository) Create(q database.Querier, a *SuspiciousActivity) error {
	now := time.Now()
	result, err := q.Exec(`
		INSERT INTO suspicious_activities (trade_id, reason, reviewed, flagged_at)
		VALUES (?, ?, 0, ?)
	`, a.TradeID, a.Reason, now.Unix())
	if err != nil {
		return fmt.Errorf("failed to create suspicious activity: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert ID: %w", err)
	}
	a.ID = id
	a.FlaggedAt = now.UTC()
	return nil
}

// GetByID retrieves a flag, or nil when not found.
func (r *Repository) GetByID(q database.Querier, id int64) (*SuspiciousActivity, error) {
	rows, err := q.Query(`
		SELECT id, trade_id, reason, reviewed, flagged_at FROM suspicious_activities WHERE id = ?
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get suspicious activity: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	a, err := scanActivity(rows)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// List retrieves flags, optionally only unreviewed ones, newest first.
func (r *Repository) List(q database.Querier, unreviewedOnly bool) ([]SuspiciousActivity, error) {
	query := `SELECT id, trade_id, reason, reviewed, flagged_at FROM suspicious_activities`
	if unreviewedOnly {
		query += ` WHERE reviewed = 0`
	}
	query += ` ORDER BY flagged_at DESC, id DESC`

	rows, err := q.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list suspicious activities: %w", err)
	}
	defer rows.Close()

	var all []SuspiciousActivity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		all = append(all, a)
	}
	return all, rows.Err()
}

// MarkReviewed flags an activity as handled.
func (r *Repository) MarkReviewed(q database.Querier, id int64) error {
	result, err := q.Exec(`UPDATE suspicious_activities SET reviewed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark reviewed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("suspicious activity %d not found", id)
	}
	return nil
}

func scanActivity(rows interface{ Scan(...interface{}) error }) (SuspiciousActivity, error) {
	var a SuspiciousActivity
	var reviewed int
	var flagged int64
	if err := rows.Scan(&a.ID, &a.TradeID, &a.Reason, &reviewed, &flagged); err != nil {
		return SuspiciousActivity{}, fmt.Errorf("failed to scan suspicious activity: %w", err)
	}
	a.Reviewed = reviewed == 1
	a.FlaggedAt = time.Unix(flagged, 0).UTC()
	return a, nil
}
