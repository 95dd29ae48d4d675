// Package ledger owns user accounts and their two balances: the cash
// balance that settlement debits and credits, and the profit balance
// that dividends and realised gains accrue into.
package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/esx-sim/esx/internal/database"
	"github.com/esx-sim/esx/internal/domain"
)

// User is an account on the exchange.
type User struct {
	ID            int64           `json:"id"`
	Username      string          `json:"username"`
	Role          domain.Role     `json:"role"`
	CashBalance   decimal.Decimal `json:"cash_balance"`
	ProfitBalance decimal.Decimal `json:"profit_balance"`
	CreatedAt     time.Time       `json:"created_at"`
}

// UserRepository handles user database operations.
type UserRepository struct {
	db          *sql.DB
	seedBalance decimal.Decimal
	log         zerolog.Logger
}

// NewUserRepository creates a new user repository. seedBalance is the
// cash every new trader starts with.
func NewUserRepository(db *sql.DB, seedBalance decimal.Decimal, log zerolog.Logger) *UserRepository {
	return &UserRepository{
		db:          db,
		seedBalance: seedBalance,
		log:         log.With().Str("repo", "users").Logger(),
	}
}

const userColumns = `id, username, role, cash_balance, profit_balance, created_at`

// Create inserts a new user. Traders are seeded with the configured
// starting cash; other roles start at zero.
func (r *UserRepository) Create(u *User) error {
	u.Username = strings.TrimSpace(u.Username)
	if u.Username == "" {
		return fmt.Errorf("%w: username must not be empty", domain.ErrValidation)
	}
	if !u.Role.Valid() {
		return fmt.Errorf("%w: invalid role %q", domain.ErrValidation, u.Role)
	}

	cash := decimal.Zero
	if u.Role == domain.RoleTrader {
		cash = r.seedBalance
	}

	now := time.Now()
	result, err := r.db.Exec(`
		INSERT INTO users (username, role, cash_balance, profit_balance, created_at)
		VALUES (?, ?, ?, '0.00', ?)
	`, u.Username, string(u.Role), cash.StringFixed(2), now.Unix())
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert ID: %w", err)
	}
	u.ID = id
	u.CashBalance = cash
	u.ProfitBalance = decimal.Zero
	u.CreatedAt = now.UTC()

	r.log.Info().Str("username", u.Username).Str("role", string(u.Role)).Int64("id", u.ID).Msg("User created")
	return nil
}

// GetByID retrieves a user, or nil when not found.
func (r *UserRepository) GetByID(q database.Querier, id int64) (*User, error) {
	row := q.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id)

	var u User
	var role, cash, profit string
	var created int64
	err := row.Scan(&u.ID, &u.Username, &role, &cash, &profit, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	u.Role = domain.Role(role)
	if u.CashBalance, err = decimal.NewFromString(cash); err != nil {
		return nil, fmt.Errorf("invalid stored cash balance %q: %w", cash, err)
	}
	if u.ProfitBalance, err = decimal.NewFromString(profit); err != nil {
		return nil, fmt.Errorf("invalid stored profit balance %q: %w", profit, err)
	}
	u.CreatedAt = time.Unix(created, 0).UTC()
	return &u, nil
}

// AdjustCash applies a signed delta to the cash balance inside the
// caller's transaction. The balance cannot go negative.
func (r *UserRepository) AdjustCash(q database.Querier, userID int64, delta decimal.Decimal) error {
	return r.adjust(q, userID, "cash_balance", delta)
}

// AdjustProfit applies a signed delta to the profit balance inside the
// caller's transaction. The balance cannot go negative.
func (r *UserRepository) AdjustProfit(q database.Querier, userID int64, delta decimal.Decimal) error {
	return r.adjust(q, userID, "profit_balance", delta)
}

func (r *UserRepository) adjust(q database.Querier, userID int64, column string, delta decimal.Decimal) error {
	var raw string
	err := q.QueryRow(`SELECT `+column+` FROM users WHERE id = ?`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: user %d", domain.ErrUnknownUser, userID)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", column, err)
	}

	current, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("invalid stored %s %q: %w", column, raw, err)
	}

	next := domain.Round2(current.Add(delta))
	if next.IsNegative() {
		if column == "cash_balance" {
			return fmt.Errorf("%w: user %d has %s, needs %s", domain.ErrInsufficientCash,
				userID, current.StringFixed(2), delta.Neg().StringFixed(2))
		}
		return fmt.Errorf("%w: profit balance of user %d would go negative", domain.ErrValidation, userID)
	}

	if _, err := q.Exec(`UPDATE users SET `+column+` = ? WHERE id = ?`, next.StringFixed(2), userID); err != nil {
		return fmt.Errorf("failed to update %s: %w", column, err)
	}
	return nil
}

// Balance is one row of the all-users balance report.
type Balance struct {
	UserID        int64           `json:"user_id"`
	Username      string          `json:"username"`
	CashBalance   decimal.Decimal `json:"cash_balance"`
	ProfitBalance decimal.Decimal `json:"profit_balance"`
	HoldingsValue decimal.Decimal `json:"holdings_value"`
	TotalValue    decimal.Decimal `json:"total_value"`
}

// ListBalances returns every trader's balances plus the value of the
// shares they currently hold at administered prices.
func (r *UserRepository) ListBalances() ([]Balance, error) {
	rows, err := r.db.Query(`
		SELECT u.id, u.username, u.cash_balance, u.profit_balance,
		       COALESCE(SUM(net.qty * CAST(s.current_price AS REAL)), 0)
		FROM users u
		LEFT JOIN (
			SELECT user_id, stock_id, SUM(qty) AS qty
			FROM (
				SELECT buyer_id AS user_id, stock_id, quantity AS qty FROM trades
				UNION ALL
				SELECT seller_id, stock_id, -quantity FROM trades WHERE seller_id IS NOT NULL
			)
			GROUP BY user_id, stock_id
		) net ON net.user_id = u.id
		LEFT JOIN stocks s ON s.id = net.stock_id
		WHERE u.role = 'trader'
		GROUP BY u.id
		ORDER BY u.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	defer rows.Close()

	var all []Balance
	for rows.Next() {
		var b Balance
		var cash, profit string
		var holdings float64
		if err := rows.Scan(&b.UserID, &b.Username, &cash, &profit, &holdings); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		if b.CashBalance, err = decimal.NewFromString(cash); err != nil {
			return nil, fmt.Errorf("invalid stored cash balance %q: %w", cash, err)
		}
		if b.ProfitBalance, err = decimal.NewFromString(profit); err != nil {
			return nil, fmt.Errorf("invalid stored profit balance %q: %w", profit, err)
		}
		b.HoldingsValue = domain.Round2(decimal.NewFromFloat(holdings))
		b.TotalValue = domain.Round2(b.CashBalance.Add(b.ProfitBalance).Add(b.HoldingsValue))
		all = append(all, b)
	}
	return all, rows.Err()
}
