package trading

import (
	"database/sql"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/esx-sim/esx/internal/database"
	"github.com/esx-sim/esx/internal/domain"
	"github.com/esx-sim/esx/internal/modules/audit"
	"github.com/esx-sim/esx/internal/modules/notifications"
	"github.com/esx-sim/esx/internal/modules/orders"
	"github.com/esx-sim/esx/internal/modules/surveillance"
	"github.com/esx-sim/esx/internal/modules/universe"
)

// SweepSession cancels every open order and clears the books. The
// end-of-session job runs this after the market closes; unfilled orders
// do not survive into the next session.
func (e *Engine) SweepSession() (int, error) {
	open, err := e.orders.ListOpen(e.db.Conn())
	if err != nil {
		return 0, fmt.Errorf("failed to list open orders: %w", err)
	}
	if len(open) == 0 {
		return 0, nil
	}

	byStock := make(map[int64][]orders.Order)
	var stockIDs []int64
	for _, o := range open {
		if _, seen := byStock[o.StockID]; !seen {
			stockIDs = append(stockIDs, o.StockID)
		}
		byStock[o.StockID] = append(byStock[o.StockID], o)
	}

	var swept int
	var notes []note
	for _, stockID := range stockIDs {
		release, err := e.locks.Acquire(stockID)
		if err != nil {
			return swept, err
		}

		batch := byStock[stockID]
		err = database.WithTransaction(e.db.Conn(), func(tx *sql.Tx) error {
			for i := range batch {
				o := batch[i]
				if err := e.orders.SetStatus(tx, o.ID, orders.StatusCancelled); err != nil {
					return err
				}
				if err := e.trail.Append(tx, &audit.Entry{
					EventType: audit.EventOrderStatusChanged,
					OrderID:   &o.ID,
					Details: map[string]interface{}{
						"status":        orders.StatusCancelled,
						"reason":        "end-of-session",
						"qty_remaining": o.QtyRemaining,
					},
				}); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			release()
			return swept, err
		}

		e.Book(stockID).Clear()
		for i := range batch {
			notes = append(notes, note{batch[i].UserID, notifications.KindOrderCancelled,
				fmt.Sprintf("Order %d for %s cancelled at end of session", batch[i].ID, batch[i].Symbol)})
		}
		swept += len(batch)
		release()
	}

	e.dispatch(notes)
	e.log.Info().Int("orders", swept).Msg("Session swept")
	return swept, nil
}

// RecrossAll walks every book and settles any crossed top of book. Live
// matching never leaves a book crossed; this is the safety net for
// drift after a restart or an administered price change.
func (e *Engine) RecrossAll() (int, error) {
	e.booksMu.Lock()
	stockIDs := make([]int64, 0, len(e.books))
	for id := range e.books {
		stockIDs = append(stockIDs, id)
	}
	e.booksMu.Unlock()
	sort.Slice(stockIDs, func(i, j int) bool { return stockIDs[i] < stockIDs[j] })

	var settled int
	for _, stockID := range stockIDs {
		n, err := e.recross(stockID)
		if err != nil {
			return settled, err
		}
		settled += n
	}
	return settled, nil
}

func (e *Engine) recross(stockID int64) (int, error) {
	release, err := e.locks.Acquire(stockID)
	if err != nil {
		return 0, err
	}
	defer release()

	book := e.Book(stockID)
	var notes []note
	var settled int

	err = database.WithTransaction(e.db.Conn(), func(tx *sql.Tx) error {
		stock, err := e.stocks.GetByID(tx, stockID)
		if err != nil {
			return err
		}
		if stock == nil {
			return nil
		}

		for {
			bid := book.Best(orders.SideBuy)
			ask := book.Best(orders.SideSell)
			if bid == nil || ask == nil || bid.Price.LessThan(ask.Price) {
				break
			}

			// The older resting order dictates the price.
			price := bid.Price
			if ask.Seq < bid.Seq {
				price = ask.Price
			}
			qty := min(bid.Remaining, ask.Remaining)
			if err := e.settleCross(tx, stock, bid, ask, qty, price, &notes); err != nil {
				return err
			}
			book.Reduce(orders.SideBuy, qty)
			book.Reduce(orders.SideSell, qty)
			settled++
		}
		return nil
	})
	if err != nil {
		e.reloadBook(stockID)
		return 0, err
	}

	e.dispatch(notes)
	return settled, nil
}

// settleCross settles a match between two resting orders.
func (e *Engine) settleCross(tx *sql.Tx, stock *universe.Stock, bid, ask *orders.RestingOrder, qty int64, price decimal.Decimal, notes *[]note) error {
	sellOrderID, sellerID := ask.OrderID, ask.UserID
	buyerFee := domain.Fee(qty, price, e.feeRate)
	sellerFee := domain.Fee(qty, price, e.feeRate)
	value := domain.Value(qty, price)

	trade := &Trade{
		StockID:     stock.ID,
		Symbol:      stock.Symbol,
		BuyOrderID:  bid.OrderID,
		SellOrderID: &sellOrderID,
		BuyerID:     bid.UserID,
		SellerID:    &sellerID,
		Quantity:    qty,
		Price:       price,
		BuyerFee:    buyerFee,
		SellerFee:   &sellerFee,
	}
	if err := e.trades.Create(tx, trade); err != nil {
		return err
	}

	if err := e.users.AdjustCash(tx, bid.UserID, value.Add(buyerFee).Neg()); err != nil {
		return err
	}
	if err := e.portfolios.ApplyBuy(tx, bid.UserID, qty, price); err != nil {
		return err
	}
	if err := e.users.AdjustCash(tx, sellerID, value.Sub(sellerFee)); err != nil {
		return err
	}
	if err := e.portfolios.ApplySell(tx, sellerID, qty); err != nil {
		return err
	}

	buyOrder, err := e.orders.ApplyFill(tx, bid.OrderID, qty, buyerFee)
	if err != nil {
		return err
	}
	if _, err := e.orders.ApplyFill(tx, sellOrderID, qty, sellerFee); err != nil {
		return err
	}

	if err := e.auditTrade(tx, trade, buyOrder.QtyRemaining); err != nil {
		return err
	}
	e.detector.Evaluate(tx, surveillance.TradeEvent{
		TradeID:    trade.ID,
		StockID:    trade.StockID,
		BuyerID:    trade.BuyerID,
		SellerID:   trade.SellerID,
		Quantity:   trade.Quantity,
		Price:      trade.Price,
		ExecutedAt: trade.ExecutedAt,
	})

	*notes = append(*notes,
		note{bid.UserID, notifications.KindTradeExecuted,
			fmt.Sprintf("Bought %d %s @ %s", qty, stock.Symbol, price.StringFixed(2))},
		note{sellerID, notifications.KindTradeExecuted,
			fmt.Sprintf("Sold %d %s @ %s", qty, stock.Symbol, price.StringFixed(2))},
	)
	return nil
}
