package orders

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resting(id int64, price string, qty int64) *RestingOrder {
	return &RestingOrder{
		OrderID:   id,
		UserID:    id,
		Price:     decimal.RequireFromString(price),
		Remaining: qty,
		Seq:       id,
	}
}

func TestBook_BidsDescendingAsksAscending(t *testing.T) {
	b := NewBook(1)

	b.Insert(SideBuy, resting(1, "100.00", 10))
	b.Insert(SideBuy, resting(2, "105.00", 10))
	b.Insert(SideBuy, resting(3, "95.00", 10))

	b.Insert(SideSell, resting(4, "120.00", 10))
	b.Insert(SideSell, resting(5, "110.00", 10))
	b.Insert(SideSell, resting(6, "130.00", 10))

	require.NotNil(t, b.Best(SideBuy))
	assert.Equal(t, "105.00", b.Best(SideBuy).Price.StringFixed(2))
	require.NotNil(t, b.Best(SideSell))
	assert.Equal(t, "110.00", b.Best(SideSell).Price.StringFixed(2))
}

func TestBook_FIFOWithinLevel(t *testing.T) {
	b := NewBook(1)

	b.Insert(SideSell, resting(1, "100.00", 5))
	b.Insert(SideSell, resting(2, "100.00", 5))
	b.Insert(SideSell, resting(3, "100.00", 5))

	assert.Equal(t, int64(1), b.Best(SideSell).OrderID)

	b.Reduce(SideSell, 5)
	assert.Equal(t, int64(2), b.Best(SideSell).OrderID)

	b.Reduce(SideSell, 5)
	assert.Equal(t, int64(3), b.Best(SideSell).OrderID)
}

func TestBook_ReducePartialKeepsHead(t *testing.T) {
	b := NewBook(1)

	b.Insert(SideBuy, resting(1, "100.00", 10))
	b.Reduce(SideBuy, 4)

	head := b.Best(SideBuy)
	require.NotNil(t, head)
	assert.Equal(t, int64(1), head.OrderID)
	assert.Equal(t, int64(6), head.Remaining)

	b.Reduce(SideBuy, 6)
	assert.Nil(t, b.Best(SideBuy))
}

func TestBook_CancelRemovesFromLevel(t *testing.T) {
	b := NewBook(1)

	b.Insert(SideSell, resting(1, "100.00", 5))
	b.Insert(SideSell, resting(2, "100.00", 5))
	b.Insert(SideSell, resting(3, "101.00", 5))

	assert.True(t, b.Cancel(2))
	assert.False(t, b.Cancel(2))
	assert.Equal(t, 2, b.Depth(SideSell))

	// Cancelling the only order of a level removes the level.
	assert.True(t, b.Cancel(3))
	assert.Equal(t, 1, b.Depth(SideSell))
	assert.Equal(t, int64(1), b.Best(SideSell).OrderID)
}

func TestBook_Clear(t *testing.T) {
	b := NewBook(1)
	b.Insert(SideBuy, resting(1, "100.00", 5))
	b.Insert(SideSell, resting(2, "110.00", 5))

	b.Clear()
	assert.Nil(t, b.Best(SideBuy))
	assert.Nil(t, b.Best(SideSell))
	assert.Equal(t, 0, b.Depth(SideBuy))
}
