package portfolio

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esx-sim/esx/internal/database"
	"github.com/esx-sim/esx/internal/domain"
)

func newTestRepo(t *testing.T) (*Repository, *database.DB) {
	t.Helper()

	db, err := database.NewTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Conn().Exec(`INSERT INTO users (id, username, role, created_at) VALUES (1, 'u1', 'trader', ?)`, time.Now().Unix())
	require.NoError(t, err)

	return NewRepository(db.Conn(), zerolog.Nop()), db
}

func TestPortfolio_BuyMaintainsAverageCost(t *testing.T) {
	repo, db := newTestRepo(t)

	require.NoError(t, repo.ApplyBuy(db.Conn(), 1, 10, decimal.RequireFromString("100.00")))
	require.NoError(t, repo.ApplyBuy(db.Conn(), 1, 10, decimal.RequireFromString("120.00")))

	p, err := repo.Get(db.Conn(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(20), p.Quantity)
	assert.Equal(t, "110.00", p.AvgCost.StringFixed(2))
	assert.Equal(t, "2200.00", p.TotalInvestment.StringFixed(2))
}

func TestPortfolio_SellPreservesCostBasis(t *testing.T) {
	repo, db := newTestRepo(t)

	require.NoError(t, repo.ApplyBuy(db.Conn(), 1, 10, decimal.RequireFromString("100.00")))
	require.NoError(t, repo.ApplyBuy(db.Conn(), 1, 10, decimal.RequireFromString("120.00")))

	// Selling at any market price removes shares at average cost.
	require.NoError(t, repo.ApplySell(db.Conn(), 1, 5))

	p, err := repo.Get(db.Conn(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(15), p.Quantity)
	assert.Equal(t, "110.00", p.AvgCost.StringFixed(2))
	assert.Equal(t, "1650.00", p.TotalInvestment.StringFixed(2))
}

func TestPortfolio_FlatPositionResets(t *testing.T) {
	repo, db := newTestRepo(t)

	require.NoError(t, repo.ApplyBuy(db.Conn(), 1, 3, decimal.RequireFromString("33.33")))
	require.NoError(t, repo.ApplySell(db.Conn(), 1, 3))

	p, err := repo.Get(db.Conn(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.Quantity)
	assert.True(t, p.AvgCost.IsZero())
	assert.True(t, p.TotalInvestment.IsZero())
}

func TestPortfolio_OversellRejected(t *testing.T) {
	repo, db := newTestRepo(t)

	require.NoError(t, repo.ApplyBuy(db.Conn(), 1, 2, decimal.RequireFromString("50.00")))

	err := repo.ApplySell(db.Conn(), 1, 3)
	assert.ErrorIs(t, err, domain.ErrInsufficientShares)

	// A user who never traded has the zero aggregate.
	p, err := repo.Get(db.Conn(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.Quantity)
}

func TestPortfolio_InvariantHoldsUnderMixedFlow(t *testing.T) {
	repo, db := newTestRepo(t)

	prices := []string{"10.01", "10.15", "9.87", "10.33", "10.25"}
	for _, raw := range prices {
		require.NoError(t, repo.ApplyBuy(db.Conn(), 1, 7, decimal.RequireFromString(raw)))
	}
	require.NoError(t, repo.ApplySell(db.Conn(), 1, 11))

	p, err := repo.Get(db.Conn(), 1)
	require.NoError(t, err)

	product := p.AvgCost.Mul(decimal.NewFromInt(p.Quantity))
	diff := product.Sub(p.TotalInvestment).Abs()
	assert.True(t, diff.LessThanOrEqual(decimal.RequireFromString("0.01")),
		"total_investment %s drifted from qty*avg_cost %s", p.TotalInvestment, product)
}
