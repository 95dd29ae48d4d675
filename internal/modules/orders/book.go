package orders

import (
	"sort"

	"github.com/shopspring/decimal"
)

// RestingOrder is the book's view of a resting limit order. Quantity is
// mirrored from the order row; the engine keeps both in step under the
// per-stock lock.
type RestingOrder struct {
	OrderID   int64
	UserID    int64
	Price     decimal.Decimal
	Remaining int64
	Seq       int64
}

// level is one price level with its FIFO queue.
type level struct {
	price decimal.Decimal
	queue []*RestingOrder
}

// Book is the per-stock order book: bids sorted descending, asks
// ascending, FIFO within a level. Not safe for concurrent use; callers
// hold the stock's lock.
type Book struct {
	StockID int64
	bids    []*level // best (highest) first
	asks    []*level // best (lowest) first
}

// NewBook creates an empty book for a stock.
func NewBook(stockID int64) *Book {
	return &Book{StockID: stockID}
}

func (b *Book) sideLevels(side Side) *[]*level {
	if side == SideBuy {
		return &b.bids
	}
	return &b.asks
}

// findLevel returns the index where price belongs on the side, and
// whether a level at exactly that price exists.
func (b *Book) findLevel(side Side, price decimal.Decimal) (int, bool) {
	levels := *b.sideLevels(side)
	idx := sort.Search(len(levels), func(i int) bool {
		if side == SideBuy {
			return levels[i].price.LessThanOrEqual(price)
		}
		return levels[i].price.GreaterThanOrEqual(price)
	})
	if idx < len(levels) && levels[idx].price.Equal(price) {
		return idx, true
	}
	return idx, false
}

// Insert adds a resting order at its price level, creating the level
// when needed.
func (b *Book) Insert(side Side, ro *RestingOrder) {
	levels := b.sideLevels(side)
	idx, exists := b.findLevel(side, ro.Price)
	if exists {
		(*levels)[idx].queue = append((*levels)[idx].queue, ro)
		return
	}

	lv := &level{price: ro.Price, queue: []*RestingOrder{ro}}
	*levels = append(*levels, nil)
	copy((*levels)[idx+1:], (*levels)[idx:])
	(*levels)[idx] = lv
}

// Best returns the head order of the side's best level, or nil when the
// side is empty.
func (b *Book) Best(side Side) *RestingOrder {
	levels := *b.sideLevels(side)
	if len(levels) == 0 {
		return nil
	}
	return levels[0].queue[0]
}

// Reduce decrements the head order of the side's best level, removing
// it (and an emptied level) when fully consumed.
func (b *Book) Reduce(side Side, qty int64) {
	levels := b.sideLevels(side)
	if len(*levels) == 0 {
		return
	}

	head := (*levels)[0].queue[0]
	head.Remaining -= qty
	if head.Remaining > 0 {
		return
	}

	(*levels)[0].queue = (*levels)[0].queue[1:]
	if len((*levels)[0].queue) == 0 {
		*levels = (*levels)[1:]
	}
}

// Cancel removes an order from the book. Returns false when the order
// is not resting.
func (b *Book) Cancel(orderID int64) bool {
	for _, side := range []Side{SideBuy, SideSell} {
		levels := b.sideLevels(side)
		for li, lv := range *levels {
			for qi, ro := range lv.queue {
				if ro.OrderID != orderID {
					continue
				}
				lv.queue = append(lv.queue[:qi], lv.queue[qi+1:]...)
				if len(lv.queue) == 0 {
					*levels = append((*levels)[:li], (*levels)[li+1:]...)
				}
				return true
			}
		}
	}
	return false
}

// Clear drops every resting order. The sweeper calls this after
// cancelling the rows.
func (b *Book) Clear() {
	b.bids = nil
	b.asks = nil
}

// Depth returns the number of resting orders on a side.
func (b *Book) Depth(side Side) int {
	n := 0
	for _, lv := range *b.sideLevels(side) {
		n += len(lv.queue)
	}
	return n
}
