package trading

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/esx-sim/esx/internal/domain"
)

const daysPerYear = 365

// Holding is one user's FIFO net-long projection for a stock.
type Holding struct {
	UserID           int64           `json:"user_id"`
	Quantity         int64           `json:"quantity"`
	OldestLotDate    time.Time       `json:"oldest_lot_date"`
	WeightedValue    decimal.Decimal `json:"weighted_value"`
	DividendEligible bool            `json:"dividend_eligible"`
}

// lot is an open FIFO buy lot.
type lot struct {
	qty    int64
	bought time.Time
}

// FIFOHoldings reconstructs every user's open lots from the stock's
// trade tape. Buys open lots, sells consume the oldest first. The
// weighted value of a lot is (days_held / 365) x qty x price; a user is
// dividend eligible when their oldest remaining lot is at least minDays
// old.
func FIFOHoldings(tape []Trade, currentPrice decimal.Decimal, asOf time.Time, minDays int) ([]Holding, error) {
	open := make(map[int64][]lot)
	var order []int64

	for _, t := range tape {
		if _, seen := open[t.BuyerID]; !seen {
			order = append(order, t.BuyerID)
		}
		open[t.BuyerID] = append(open[t.BuyerID], lot{qty: t.Quantity, bought: t.ExecutedAt})

		if t.SellerID == nil {
			continue
		}
		sellerID := *t.SellerID
		if _, seen := open[sellerID]; !seen {
			order = append(order, sellerID)
		}

		remaining := t.Quantity
		lots := open[sellerID]
		for remaining > 0 && len(lots) > 0 {
			if lots[0].qty > remaining {
				lots[0].qty -= remaining
				remaining = 0
				break
			}
			remaining -= lots[0].qty
			lots = lots[1:]
		}
		if remaining > 0 {
			return nil, fmt.Errorf("trade %d oversells user %d by %d shares", t.ID, sellerID, remaining)
		}
		open[sellerID] = lots
	}

	var holdings []Holding
	for _, userID := range order {
		lots := open[userID]
		if len(lots) == 0 {
			continue
		}

		h := Holding{UserID: userID, OldestLotDate: lots[0].bought}
		weighted := decimal.Zero
		for _, l := range lots {
			h.Quantity += l.qty
			held := daysBetween(l.bought, asOf)
			weight := domain.Ratio8(decimal.NewFromInt(held), decimal.NewFromInt(daysPerYear))
			weighted = weighted.Add(weight.Mul(domain.Value(l.qty, currentPrice)))
		}
		h.WeightedValue = domain.Round2(weighted)
		h.DividendEligible = daysBetween(h.OldestLotDate, asOf) >= int64(minDays)
		holdings = append(holdings, h)
	}
	return holdings, nil
}

// Holdings computes the live FIFO projection for a stock. A price
// override lets callers project against a hypothetical price.
func (e *Engine) Holdings(stockID int64, priceOverride *decimal.Decimal) ([]Holding, error) {
	stock, err := e.stocks.GetByID(e.db.Conn(), stockID)
	if err != nil {
		return nil, err
	}
	if stock == nil {
		return nil, fmt.Errorf("%w: stock %d", domain.ErrUnknownInstrument, stockID)
	}

	price := stock.CurrentPrice
	if priceOverride != nil {
		price = *priceOverride
	}

	tape, err := e.trades.ListByStock(e.db.Conn(), stockID)
	if err != nil {
		return nil, err
	}
	return FIFOHoldings(tape, price, time.Now(), e.dividendMinDays)
}

func daysBetween(from, to time.Time) int64 {
	if to.Before(from) {
		return 0
	}
	return int64(to.Sub(from).Hours() / 24)
}
