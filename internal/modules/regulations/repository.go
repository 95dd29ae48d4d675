// Package regulations holds the named rule store and trader suspensions.
// Regulation values are free-form strings; consumers coerce to numbers
// where a rule is numeric. A missing rule means "not configured" and the
// corresponding check is skipped.
package regulations

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/esx-sim/esx/internal/database"
)

// Well-known regulation names consulted by the matching engine.
const (
	DailyTradeLimit       = "Daily Trade Limit"
	DailyTradeAmountLimit = "Daily Trade Amount Limit"
)

// Regulation is a single named rule.
type Regulation struct {
	Name        string    `json:"name"`
	Value       string    `json:"value"`
	Description string    `json:"description,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
}

// Repository handles regulation database operations.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new regulation repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "regulations").Logger(),
	}
}

// Set creates or updates a regulation by name.
func (r *Repository) Set(name, value, description string) error {
	if name == "" {
		return fmt.Errorf("regulation name must not be empty")
	}

	query := `
		INSERT INTO regulations (name, value, description, last_updated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, description = excluded.description, last_updated = excluded.last_updated
	`
	if _, err := r.db.Exec(query, name, value, description, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to set regulation: %w", err)
	}

	r.log.Info().Str("name", name).Str("value", value).Msg("Regulation set")
	return nil
}

// Get retrieves a regulation by name, or nil when not configured.
func (r *Repository) Get(q database.Querier, name string) (*Regulation, error) {
	row := q.QueryRow(`SELECT name, value, COALESCE(description, ''), last_updated FROM regulations WHERE name = ?`, name)

	var reg Regulation
	var updated int64
	err := row.Scan(&reg.Name, &reg.Value, &reg.Description, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get regulation: %w", err)
	}
	reg.LastUpdated = time.Unix(updated, 0).UTC()
	return &reg, nil
}

// GetInt retrieves a numeric regulation. ok is false when the rule is
// absent or not an integer.
func (r *Repository) GetInt(q database.Querier, name string) (value int64, ok bool, err error) {
	reg, err := r.Get(q, name)
	if err != nil || reg == nil {
		return 0, false, err
	}
	d, convErr := decimal.NewFromString(reg.Value)
	if convErr != nil {
		r.log.Warn().Str("name", name).Str("value", reg.Value).Msg("Regulation value is not numeric")
		return 0, false, nil
	}
	return d.IntPart(), true, nil
}

// GetDecimal retrieves a decimal regulation. ok is false when the rule
// is absent or not numeric.
func (r *Repository) GetDecimal(q database.Querier, name string) (value decimal.Decimal, ok bool, err error) {
	reg, err := r.Get(q, name)
	if err != nil || reg == nil {
		return decimal.Zero, false, err
	}
	d, convErr := decimal.NewFromString(reg.Value)
	if convErr != nil {
		r.log.Warn().Str("name", name).Str("value", reg.Value).Msg("Regulation value is not numeric")
		return decimal.Zero, false, nil
	}
	return d, true, nil
}

// List retrieves all regulations.
func (r *Repository) List() ([]Regulation, error) {
	rows, err := r.db.Query(`SELECT name, value, COALESCE(description, ''), last_updated FROM regulations ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list regulations: %w", err)
	}
	defer rows.Close()

	var all []Regulation
	for rows.Next() {
		var reg Regulation
		var updated int64
		if err := rows.Scan(&reg.Name, &reg.Value, &reg.Description, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan regulation: %w", err)
		}
		reg.LastUpdated = time.Unix(updated, 0).UTC()
		all = append(all, reg)
	}
	return all, rows.Err()
}

// Delete removes a regulation by name.
func (r *Repository) Delete(name string) error {
	if _, err := r.db.Exec(`DELETE FROM regulations WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete regulation: %w", err)
	}
	return nil
}
