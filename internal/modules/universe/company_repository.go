package universe

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// CompanyRepository handles company database operations.
type CompanyRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewCompanyRepository creates a new company repository.
func NewCompanyRepository(db *sql.DB, log zerolog.Logger) *CompanyRepository {
	return &CompanyRepository{
		db:  db,
		log: log.With().Str("repo", "companies").Logger(),
	}
}

// Create inserts a new company. Names are unique.
func (r *CompanyRepository) Create(c *Company) error {
	if c.Name == "" {
		return fmt.Errorf("company name must not be empty")
	}

	now := time.Now()
	result, err := r.db.Exec(`INSERT INTO companies (name, sector, created_at) VALUES (?, ?, ?)`,
		c.Name, c.Sector, now.Unix())
	if err != nil {
		return fmt.Errorf("failed to create company: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert ID: %w", err)
	}
	c.ID = id
	c.CreatedAt = now.UTC()

	r.log.Info().Str("name", c.Name).Int64("id", c.ID).Msg("Company listed")
	return nil
}

// GetByID retrieves a company, or nil when not found.
func (r *CompanyRepository) GetByID(id int64) (*Company, error) {
	row := r.db.QueryRow(`SELECT id, name, sector, created_at FROM companies WHERE id = ?`, id)

	var c Company
	var created int64
	err := row.Scan(&c.ID, &c.Name, &c.Sector, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	c.CreatedAt = time.Unix(created, 0).UTC()
	return &c, nil
}

// List retrieves all companies.
func (r *CompanyRepository) List() ([]Company, error) {
	rows, err := r.db.Query(`SELECT id, name, sector, created_at FROM companies ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list companies: %w", err)
	}
	defer rows.Close()

	var all []Company
	for rows.Next() {
		var c Company
		var created int64
		if err := rows.Scan(&c.ID, &c.Name, &c.Sector, &created); err != nil {
			return nil, fmt.Errorf("failed to scan company: %w", err)
		}
		c.CreatedAt = time.Unix(created, 0).UTC()
		all = append(all, c)
	}
	return all, rows.Err()
}
