package trading

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(n int) time.Time {
	return time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func TestFIFOHoldings_SellsConsumeOldestLots(t *testing.T) {
	alice, bob := int64(1), int64(2)
	price := decimal.RequireFromString("100.00")

	tape := []Trade{
		{ID: 1, BuyerID: alice, Quantity: 10, Price: price, ExecutedAt: day(0)},
		{ID: 2, BuyerID: alice, Quantity: 5, Price: price, ExecutedAt: day(5)},
		// Bob buys 4 from Alice; her day-0 lot shrinks to 6.
		{ID: 3, BuyerID: bob, SellerID: &alice, Quantity: 4, Price: price, ExecutedAt: day(10)},
	}

	holdings, err := FIFOHoldings(tape, price, day(100), 90)
	require.NoError(t, err)
	require.Len(t, holdings, 2)

	assert.Equal(t, alice, holdings[0].UserID)
	assert.Equal(t, int64(11), holdings[0].Quantity)
	assert.Equal(t, day(0), holdings[0].OldestLotDate)
	assert.True(t, holdings[0].DividendEligible)

	// 100/365 * 6 * 100 + 95/365 * 5 * 100, each term at 8dp.
	assert.Equal(t, "294.52", holdings[0].WeightedValue.StringFixed(2))

	assert.Equal(t, bob, holdings[1].UserID)
	assert.Equal(t, int64(4), holdings[1].Quantity)
	assert.Equal(t, day(10), holdings[1].OldestLotDate)
	assert.True(t, holdings[1].DividendEligible) // 90 days exactly
	// 90/365 * 4 * 100
	assert.Equal(t, "98.63", holdings[1].WeightedValue.StringFixed(2))
}

func TestFIFOHoldings_FlatUsersDropOut(t *testing.T) {
	alice, bob := int64(1), int64(2)
	price := decimal.RequireFromString("50.00")

	tape := []Trade{
		{ID: 1, BuyerID: alice, Quantity: 10, Price: price, ExecutedAt: day(0)},
		{ID: 2, BuyerID: bob, SellerID: &alice, Quantity: 10, Price: price, ExecutedAt: day(1)},
	}

	holdings, err := FIFOHoldings(tape, price, day(30), 90)
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, bob, holdings[0].UserID)
	assert.False(t, holdings[0].DividendEligible)
}

func TestFIFOHoldings_OversellIsAnError(t *testing.T) {
	alice, bob := int64(1), int64(2)
	price := decimal.RequireFromString("50.00")

	tape := []Trade{
		{ID: 1, BuyerID: alice, Quantity: 5, Price: price, ExecutedAt: day(0)},
		{ID: 2, BuyerID: bob, SellerID: &alice, Quantity: 8, Price: price, ExecutedAt: day(1)},
	}

	_, err := FIFOHoldings(tape, price, day(30), 90)
	assert.Error(t, err)
}
