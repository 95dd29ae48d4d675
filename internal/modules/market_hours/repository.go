// Package market_hours owns the weekly schedule of trading windows.
// One row per weekday; a missing row means the exchange does not open
// that day.
package market_hours

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/esx-sim/esx/internal/database"
)

// WorkingHours is a single weekday trading window. Times are "HH:MM",
// local to the exchange.
type WorkingHours struct {
	DayOfWeek string `json:"day_of_week"`
	OpenTime  string `json:"open_time"`
	CloseTime string `json:"close_time"`
}

// Repository handles working-hours database operations.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new working-hours repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "working_hours").Logger(),
	}
}

// Upsert creates or replaces the window for a weekday.
func (r *Repository) Upsert(wh WorkingHours) error {
	if err := validate(wh); err != nil {
		return err
	}

	query := `
		INSERT INTO working_hours (day_of_week, open_time, close_time)
		VALUES (?, ?, ?)
		ON CONFLICT(day_of_week) DO UPDATE SET open_time = excluded.open_time, close_time = excluded.close_time
	`
	if _, err := r.db.Exec(query, wh.DayOfWeek, wh.OpenTime, wh.CloseTime); err != nil {
		return fmt.Errorf("failed to upsert working hours: %w", err)
	}

	r.log.Info().
		Str("day", wh.DayOfWeek).
		Str("open", wh.OpenTime).
		Str("close", wh.CloseTime).
		Msg("Working hours set")
	return nil
}

// Get retrieves the window for a weekday, or nil when the day is closed.
func (r *Repository) Get(q database.Querier, day string) (*WorkingHours, error) {
	row := q.QueryRow(`SELECT day_of_week, open_time, close_time FROM working_hours WHERE day_of_week = ?`, day)

	var wh WorkingHours
	err := row.Scan(&wh.DayOfWeek, &wh.OpenTime, &wh.CloseTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get working hours: %w", err)
	}
	return &wh, nil
}

// List retrieves all configured windows ordered by weekday.
func (r *Repository) List() ([]WorkingHours, error) {
	rows, err := r.db.Query(`SELECT day_of_week, open_time, close_time FROM working_hours ORDER BY day_of_week`)
	if err != nil {
		return nil, fmt.Errorf("failed to list working hours: %w", err)
	}
	defer rows.Close()

	var all []WorkingHours
	for rows.Next() {
		var wh WorkingHours
		if err := rows.Scan(&wh.DayOfWeek, &wh.OpenTime, &wh.CloseTime); err != nil {
			return nil, fmt.Errorf("failed to scan working hours: %w", err)
		}
		all = append(all, wh)
	}
	return all, rows.Err()
}

// Delete removes the window for a weekday.
func (r *Repository) Delete(day string) error {
	if _, err := r.db.Exec(`DELETE FROM working_hours WHERE day_of_week = ?`, day); err != nil {
		return fmt.Errorf("failed to delete working hours: %w", err)
	}
	return nil
}

func validate(wh WorkingHours) error {
	if _, err := parseClock(wh.OpenTime); err != nil {
		return fmt.Errorf("invalid open_time %q: %w", wh.OpenTime, err)
	}
	closeMin, err := parseClock(wh.CloseTime)
	if err != nil {
		return fmt.Errorf("invalid close_time %q: %w", wh.CloseTime, err)
	}
	openMin, _ := parseClock(wh.OpenTime)
	if openMin >= closeMin {
		return fmt.Errorf("open_time must be before close_time")
	}
	if !validDay(wh.DayOfWeek) {
		return fmt.Errorf("invalid day_of_week %q", wh.DayOfWeek)
	}
	return nil
}

func validDay(day string) bool {
	switch day {
	case "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday":
		return true
	}
	return false
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
