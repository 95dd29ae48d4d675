package regulations

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/esx-sim/esx/internal/database"
)

// Suspension scopes.
const (
	ScopeSpecificStock = "Specific Stock"
	ScopeAllStocks     = "All Stocks"
)

// Suspension bars a trader from submitting orders, either for one stock
// or across the board. Active suspensions block order intake.
type Suspension struct {
	ID         int64      `json:"id"`
	TraderID   int64      `json:"trader_id"`
	StockID    *int64     `json:"stock_id,omitempty"` // nil for All Stocks
	Scope      string     `json:"scope"`
	Initiator  string     `json:"initiator"`
	Reason     string     `json:"reason"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
}

// SuspensionRepository handles suspension database operations.
type SuspensionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSuspensionRepository creates a new suspension repository.
func NewSuspensionRepository(db *sql.DB, log zerolog.Logger) *SuspensionRepository {
	return &SuspensionRepository{
		db:  db,
		log: log.With().Str("repo", "suspensions").Logger(),
	}
}

const suspensionColumns = `id, trader_id, stock_id, scope, initiator, reason, is_active, created_at, released_at`

// Create inserts a new suspension.
func (r *SuspensionRepository) Create(s *Suspension) error {
	if s.Scope != ScopeSpecificStock && s.Scope != ScopeAllStocks {
		return fmt.Errorf("invalid suspension scope %q", s.Scope)
	}
	if s.Scope == ScopeSpecificStock && s.StockID == nil {
		return fmt.Errorf("stock_id is required for a specific-stock suspension")
	}

	now := time.Now()
	result, err := r.db.Exec(`
		INSERT INTO suspensions (trader_id, stock_id, scope, initiator, reason, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)
	`, s.TraderID, s.StockID, s.Scope, s.Initiator, s.Reason, now.Unix())
	if err != nil {
		return fmt.Errorf("failed to create suspension: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert ID: %w", err)
	}
	s.ID = id
	s.IsActive = true
	s.CreatedAt = now.UTC()

	r.log.Warn().
		Int64("trader_id", s.TraderID).
		Str("scope", s.Scope).
		Str("reason", s.Reason).
		Msg("Trader suspended")
	return nil
}

// IsSuspended reports whether the trader has an active suspension
// covering the given stock (specific or all-stocks).
func (r *SuspensionRepository) IsSuspended(q database.Querier, traderID, stockID int64) (bool, error) {
	var one int
	err := q.QueryRow(`
		SELECT 1 FROM suspensions
		WHERE trader_id = ? AND is_active = 1
		  AND (scope = ? OR (scope = ? AND stock_id = ?))
		LIMIT 1
	`, traderID, ScopeAllStocks, ScopeSpecificStock, stockID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check suspension: %w", err)
	}
	return true, nil
}

// Release deactivates a suspension.
func (r *SuspensionRepository) Release(id int64) error {
	result, err := r.db.Exec(`
		UPDATE suspensions SET is_active = 0, released_at = ? WHERE id = ? AND is_active = 1
	`, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to release suspension: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("suspension %d not found or already released", id)
	}
	return nil
}

// List retrieves suspensions, optionally filtered to active ones.
func (r *SuspensionRepository) List(activeOnly bool) ([]Suspension, error) {
	query := `SELECT ` + suspensionColumns + ` FROM suspensions ORDER BY created_at DESC`
	if activeOnly {
		query = `SELECT ` + suspensionColumns + ` FROM suspensions WHERE is_active = 1 ORDER BY created_at DESC`
	}

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list suspensions: %w", err)
	}
	defer rows.Close()

	var all []Suspension
	for rows.Next() {
		var s Suspension
		var active int
		var created int64
		var released sql.NullInt64
		if err := rows.Scan(&s.ID, &s.TraderID, &s.StockID, &s.Scope, &s.Initiator, &s.Reason, &active, &created, &released); err != nil {
			return nil, fmt.Errorf("failed to scan suspension: %w", err)
		}
		s.IsActive = active == 1
		s.CreatedAt = time.Unix(created, 0).UTC()
		if released.Valid {
			t := time.Unix(released.Int64, 0).UTC()
			s.ReleasedAt = &t
		}
		all = append(all, s)
	}
	return all, rows.Err()
}
