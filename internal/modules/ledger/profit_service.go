package ledger

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/esx-sim/esx/internal/database"
	"github.com/esx-sim/esx/internal/domain"
)

// ProfitService moves money out of the profit balance. Both exits are
// taxed at the configured rate; only the net amount leaves.
type ProfitService struct {
	db      *sql.DB
	users   *UserRepository
	taxRate decimal.Decimal
	log     zerolog.Logger
}

// NewProfitService creates a new profit service.
func NewProfitService(db *sql.DB, users *UserRepository, taxRate decimal.Decimal, log zerolog.Logger) *ProfitService {
	return &ProfitService{
		db:      db,
		users:   users,
		taxRate: taxRate,
		log:     log.With().Str("service", "profit").Logger(),
	}
}

// ProfitMovement reports one capitalize or withdraw operation.
type ProfitMovement struct {
	UserID    int64           `json:"user_id"`
	Gross     decimal.Decimal `json:"gross"`
	Tax       decimal.Decimal `json:"tax"`
	Net       decimal.Decimal `json:"net"`
	Direction string          `json:"direction"`
}

// Capitalize moves amount from profit to cash, net of tax.
func (s *ProfitService) Capitalize(userID int64, amount decimal.Decimal) (*ProfitMovement, error) {
	return s.move(userID, amount, "capitalize")
}

// Withdraw takes amount out of the profit balance entirely, net of tax.
// The net portion leaves the exchange.
func (s *ProfitService) Withdraw(userID int64, amount decimal.Decimal) (*ProfitMovement, error) {
	return s.move(userID, amount, "withdraw")
}

func (s *ProfitService) move(userID int64, amount decimal.Decimal, direction string) (*ProfitMovement, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}

	tax := domain.Round2(amount.Mul(s.taxRate))
	net := domain.Round2(amount.Sub(tax))

	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		user, err := s.users.GetByID(tx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return fmt.Errorf("%w: user %d", domain.ErrUnknownUser, userID)
		}
		if user.ProfitBalance.LessThan(amount) {
			return fmt.Errorf("%w: profit balance %s is below %s", domain.ErrValidation,
				user.ProfitBalance.StringFixed(2), amount.StringFixed(2))
		}

		if err := s.users.AdjustProfit(tx, userID, amount.Neg()); err != nil {
			return err
		}
		if direction == "capitalize" {
			return s.users.AdjustCash(tx, userID, net)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("user_id", userID).
		Str("direction", direction).
		Str("gross", amount.StringFixed(2)).
		Str("tax", tax.StringFixed(2)).
		Str("net", net.StringFixed(2)).
		Msg("Profit moved")

	return &ProfitMovement{
		UserID:    userID,
		Gross:     amount,
		Tax:       tax,
		Net:       net,
		Direction: direction,
	}, nil
}
