package trading

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/esx-sim/esx/internal/database"
	"github.com/esx-sim/esx/internal/domain"
	"github.com/esx-sim/esx/internal/modules/audit"
	"github.com/esx-sim/esx/internal/modules/notifications"
	"github.com/esx-sim/esx/internal/modules/orders"
)

// DirectBuy purchases straight from company inventory at the
// administered price, bypassing the book. Settlement reuses the
// inventory path with a synthetic market buy. Administrative callers
// (company admins) may trade outside the working window.
func (e *Engine) DirectBuy(userID, stockID, qty int64, administrative bool) (*SubmitResult, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", domain.ErrValidation)
	}

	release, err := e.locks.Acquire(stockID)
	if err != nil {
		return nil, err
	}
	defer release()

	var result SubmitResult
	var notes []note

	err = database.WithTransaction(e.db.Conn(), func(tx *sql.Tx) error {
		stock, user, err := e.loadParties(tx, stockID, userID)
		if err != nil {
			return err
		}

		suspended, err := e.suspensions.IsSuspended(tx, user.ID, stock.ID)
		if err != nil {
			return err
		}
		if suspended {
			return fmt.Errorf("%w: user %d on stock %s", domain.ErrSuspended, user.ID, stock.Symbol)
		}

		if !administrative {
			within, err := e.hours.IsWithinWindow(tx, time.Now())
			if err != nil {
				return err
			}
			if !within {
				return fmt.Errorf("%w", domain.ErrOutsideWindow)
			}
		}

		if qty > stock.MaxDirectBuy {
			return fmt.Errorf("%w: %d exceeds the per-order direct buy cap %d",
				domain.ErrValidation, qty, stock.MaxDirectBuy)
		}
		if stock.AvailableShares < qty {
			return fmt.Errorf("%w: %d available, %d requested",
				domain.ErrInventoryExhausted, stock.AvailableShares, qty)
		}

		required := domain.Value(qty, stock.CurrentPrice)
		if user.CashBalance.LessThan(required) {
			return fmt.Errorf("%w: need %s, have %s", domain.ErrInsufficientCash,
				required.StringFixed(2), user.CashBalance.StringFixed(2))
		}

		order := &orders.Order{
			UserID:       userID,
			StockID:      stockID,
			Symbol:       stock.Symbol,
			Kind:         orders.KindMarket,
			Side:         orders.SideBuy,
			QtyOriginal:  qty,
			QtyRemaining: qty,
			Status:       orders.StatusPending,
		}
		if err := e.orders.Create(tx, order); err != nil {
			return err
		}
		if err := e.trail.Append(tx, &audit.Entry{
			EventType: audit.EventOrderCreated,
			OrderID:   &order.ID,
			Details: map[string]interface{}{
				"user_id": userID,
				"symbol":  stock.Symbol,
				"kind":    "DirectBuy",
				"qty":     qty,
			},
		}); err != nil {
			return err
		}

		trade, err := e.settleInventory(tx, stock, order, qty, &notes)
		if err != nil {
			return err
		}

		result = SubmitResult{Order: order, Trades: []Trade{*trade}}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.dispatch(notes)
	return &result, nil
}

// Cancel removes a resting order. The cancel runs under the same stock
// lock as matching, so it cannot race a concurrent fill.
func (e *Engine) Cancel(orderID, userID int64) (*orders.Order, error) {
	existing, err := e.orders.GetByID(e.db.Conn(), orderID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("%w: order %d not found", domain.ErrValidation, orderID)
	}

	release, err := e.locks.Acquire(existing.StockID)
	if err != nil {
		return nil, err
	}
	defer release()

	var cancelled *orders.Order
	err = database.WithTransaction(e.db.Conn(), func(tx *sql.Tx) error {
		order, err := e.orders.GetByID(tx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return fmt.Errorf("%w: order %d not found", domain.ErrValidation, orderID)
		}
		if order.UserID != userID {
			return fmt.Errorf("%w: order %d belongs to another user", domain.ErrForbidden, orderID)
		}
		if !order.Status.Resting() {
			return fmt.Errorf("%w: order %d is %s", domain.ErrConflict, orderID, order.Status)
		}

		if err := e.orders.SetStatus(tx, orderID, orders.StatusCancelled); err != nil {
			return err
		}
		if err := e.trail.Append(tx, &audit.Entry{
			EventType: audit.EventOrderStatusChanged,
			OrderID:   &orderID,
			Details:   map[string]interface{}{"status": orders.StatusCancelled, "reason": "user-cancelled"},
		}); err != nil {
			return err
		}

		order.Status = orders.StatusCancelled
		cancelled = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.Book(existing.StockID).Cancel(orderID)
	e.dispatch([]note{{userID, notifications.KindOrderCancelled,
		fmt.Sprintf("Order %d cancelled", orderID)}})
	return cancelled, nil
}
