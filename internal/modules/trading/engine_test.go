package trading

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esx-sim/esx/internal/database"
	"github.com/esx-sim/esx/internal/domain"
	"github.com/esx-sim/esx/internal/modules/audit"
	"github.com/esx-sim/esx/internal/modules/ledger"
	"github.com/esx-sim/esx/internal/modules/market_hours"
	"github.com/esx-sim/esx/internal/modules/orders"
	"github.com/esx-sim/esx/internal/modules/portfolio"
	"github.com/esx-sim/esx/internal/modules/regulations"
	"github.com/esx-sim/esx/internal/modules/surveillance"
	"github.com/esx-sim/esx/internal/modules/universe"
)

// exchange bundles a fully wired engine over an in-memory database.
type exchange struct {
	db          *database.DB
	engine      *Engine
	users       *ledger.UserRepository
	companies   *universe.CompanyRepository
	stocks      *universe.StockRepository
	orders      *orders.Repository
	trades      *TradeRepository
	portfolios  *portfolio.Repository
	rules       *regulations.Repository
	suspensions *regulations.SuspensionRepository
	hours       *market_hours.Repository
}

func newTestExchange(t *testing.T) *exchange {
	t.Helper()

	db, err := database.NewTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := zerolog.Nop()
	ex := &exchange{
		db:          db,
		users:       ledger.NewUserRepository(db.Conn(), decimal.RequireFromString("20000.00"), log),
		companies:   universe.NewCompanyRepository(db.Conn(), log),
		stocks:      universe.NewStockRepository(db.Conn(), log),
		orders:      orders.NewRepository(log),
		trades:      NewTradeRepository(log),
		portfolios:  portfolio.NewRepository(db.Conn(), log),
		rules:       regulations.NewRepository(db.Conn(), log),
		suspensions: regulations.NewSuspensionRepository(db.Conn(), log),
		hours:       market_hours.NewRepository(db.Conn(), log),
	}

	// Thresholds loose enough that surveillance stays quiet unless a
	// test provokes it on purpose.
	detector := surveillance.NewDetector(surveillance.NewRepository(log), surveillance.Thresholds{
		VolumeRatio:    decimal.RequireFromString("100"),
		PriceDeviation: decimal.RequireFromString("100"),
		FreqThreshold:  1000,
		FreqWindow:     time.Hour,
	}, log)

	ex.engine = NewEngine(Deps{
		DB:          db,
		Orders:      ex.orders,
		Trades:      ex.trades,
		Users:       ex.users,
		Portfolios:  ex.portfolios,
		Stocks:      ex.stocks,
		Rules:       ex.rules,
		Suspensions: ex.suspensions,
		Hours:       market_hours.NewService(ex.hours, log),
		Detector:    detector,
		Trail:       audit.NewRepository(log),
		Sink:        nil,
	}, decimal.RequireFromString("0.01"), 2*time.Second, 90, log)
	return ex
}

// openAllWeek keeps the exchange open around the clock so tests are not
// hostage to the wall clock.
func (ex *exchange) openAllWeek(t *testing.T) {
	t.Helper()
	for _, day := range []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"} {
		require.NoError(t, ex.hours.Upsert(market_hours.WorkingHours{
			DayOfWeek: day, OpenTime: "00:00", CloseTime: "23:59",
		}))
	}
}

func (ex *exchange) newTrader(t *testing.T, name string) *ledger.User {
	t.Helper()
	u := &ledger.User{Username: name, Role: domain.RoleTrader}
	require.NoError(t, ex.users.Create(u))
	return u
}

func (ex *exchange) listStock(t *testing.T, symbol string, total, available int64, price string, maxDirect int64) *universe.Stock {
	t.Helper()
	c := &universe.Company{Name: symbol + " PLC", Sector: "Manufacturing"}
	require.NoError(t, ex.companies.Create(c))

	s := &universe.Stock{
		CompanyID:       c.ID,
		Symbol:          symbol,
		TotalShares:     total,
		AvailableShares: available,
		CurrentPrice:    decimal.RequireFromString(price),
		MaxDirectBuy:    maxDirect,
	}
	require.NoError(t, ex.stocks.Create(s))
	return s
}

func (ex *exchange) cash(t *testing.T, userID int64) string {
	t.Helper()
	u, err := ex.users.GetByID(ex.db.Conn(), userID)
	require.NoError(t, err)
	require.NotNil(t, u)
	return u.CashBalance.StringFixed(2)
}

func limitPrice(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestSubmit_RestingBuyerDictatesPrice(t *testing.T) {
	ex := newTestExchange(t)
	ex.openAllWeek(t)

	// Inventory is sized so the seller's direct buy drains it, which
	// forces the later buy to rest instead of falling back.
	stock := ex.listStock(t, "AWB", 10, 10, "100.00", 10)
	buyer := ex.newTrader(t, "almaz")
	seller := ex.newTrader(t, "bekele")

	_, err := ex.engine.DirectBuy(seller.ID, stock.ID, 10, false)
	require.NoError(t, err)
	assert.Equal(t, "18990.00", ex.cash(t, seller.ID)) // 1000 + 10 fee

	res, err := ex.engine.Submit(SubmitRequest{
		UserID: buyer.ID, StockID: stock.ID,
		Kind: orders.KindLimit, Side: orders.SideBuy,
		LimitPrice: limitPrice("100.00"), Qty: 10,
	})
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
	assert.Equal(t, orders.StatusPending, res.Order.Status)
	assert.Equal(t, 1, ex.engine.Book(stock.ID).Depth(orders.SideBuy))

	res, err = ex.engine.Submit(SubmitRequest{
		UserID: seller.ID, StockID: stock.ID,
		Kind: orders.KindMarket, Side: orders.SideSell, Qty: 10,
	})
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)

	trade := res.Trades[0]
	assert.Equal(t, "100.00", trade.Price.StringFixed(2))
	assert.Equal(t, int64(10), trade.Quantity)
	require.NotNil(t, trade.SellerID)
	assert.Equal(t, seller.ID, *trade.SellerID)
	assert.Equal(t, buyer.ID, trade.BuyerID)
	assert.Equal(t, orders.StatusFilled, res.Order.Status)

	// Buyer pays value plus fee, seller receives value minus fee.
	assert.Equal(t, "18990.00", ex.cash(t, buyer.ID))
	assert.Equal(t, "19980.00", ex.cash(t, seller.ID))
	assert.Equal(t, 0, ex.engine.Book(stock.ID).Depth(orders.SideBuy))

	maker, err := ex.orders.GetByID(ex.db.Conn(), res.Trades[0].BuyOrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusFilled, maker.Status)
}

func TestSubmit_PartialFillWithInventoryFallback(t *testing.T) {
	ex := newTestExchange(t)
	ex.openAllWeek(t)

	stock := ex.listStock(t, "EAH", 100, 100, "110.00", 50)
	buyer := ex.newTrader(t, "almaz")
	seller := ex.newTrader(t, "bekele")

	_, err := ex.engine.DirectBuy(seller.ID, stock.ID, 5, false)
	require.NoError(t, err)

	_, err = ex.engine.Submit(SubmitRequest{
		UserID: seller.ID, StockID: stock.ID,
		Kind: orders.KindLimit, Side: orders.SideSell,
		LimitPrice: limitPrice("120.00"), Qty: 5,
	})
	require.NoError(t, err)

	res, err := ex.engine.Submit(SubmitRequest{
		UserID: buyer.ID, StockID: stock.ID,
		Kind: orders.KindMarket, Side: orders.SideBuy, Qty: 12,
	})
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)
	assert.Equal(t, orders.StatusFilled, res.Order.Status)

	// Five shares cross the resting ask, seven come out of inventory at
	// the administered price.
	assert.Equal(t, int64(5), res.Trades[0].Quantity)
	assert.Equal(t, "120.00", res.Trades[0].Price.StringFixed(2))
	require.NotNil(t, res.Trades[0].SellerID)

	assert.Equal(t, int64(7), res.Trades[1].Quantity)
	assert.Equal(t, "110.00", res.Trades[1].Price.StringFixed(2))
	assert.Nil(t, res.Trades[1].SellerID)

	fresh, err := ex.stocks.GetByID(ex.db.Conn(), stock.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(88), fresh.AvailableShares)

	// 20000 - (600 + 6.00) - (770 + 7.70)
	assert.Equal(t, "18616.30", ex.cash(t, buyer.ID))
	// 20000 - (550 + 5.50) + (600 - 6.00)
	assert.Equal(t, "20038.50", ex.cash(t, seller.ID))
}

func TestSubmit_OutsideWorkingHours(t *testing.T) {
	ex := newTestExchange(t)
	// No working hours rows at all: the exchange never opens.

	stock := ex.listStock(t, "AWB", 100, 100, "100.00", 10)
	buyer := ex.newTrader(t, "almaz")

	_, err := ex.engine.Submit(SubmitRequest{
		UserID: buyer.ID, StockID: stock.ID,
		Kind: orders.KindMarket, Side: orders.SideBuy, Qty: 1,
	})
	assert.ErrorIs(t, err, domain.ErrOutsideWindow)

	// The rejected submission left no order behind.
	all, err := ex.orders.ListByUser(ex.db.Conn(), buyer.ID)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Equal(t, "20000.00", ex.cash(t, buyer.ID))
}

func TestSubmit_DailyAmountCapBlocksIntake(t *testing.T) {
	ex := newTestExchange(t)
	ex.openAllWeek(t)

	stock := ex.listStock(t, "AWB", 1000, 1000, "100.00", 100)
	buyer := ex.newTrader(t, "almaz")

	require.NoError(t, ex.rules.Set(regulations.DailyTradeAmountLimit, "1000.00", ""))

	_, err := ex.engine.Submit(SubmitRequest{
		UserID: buyer.ID, StockID: stock.ID,
		Kind: orders.KindMarket, Side: orders.SideBuy, Qty: 20,
	})
	assert.ErrorIs(t, err, domain.ErrDailyAmountExceeded)
	assert.Equal(t, "20000.00", ex.cash(t, buyer.ID))

	// Under the cap the same order settles.
	res, err := ex.engine.Submit(SubmitRequest{
		UserID: buyer.ID, StockID: stock.ID,
		Kind: orders.KindMarket, Side: orders.SideBuy, Qty: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, orders.StatusFilled, res.Order.Status)
}

func TestSubmit_DailyCountCap(t *testing.T) {
	ex := newTestExchange(t)
	ex.openAllWeek(t)

	stock := ex.listStock(t, "AWB", 1000, 1000, "10.00", 100)
	buyer := ex.newTrader(t, "almaz")

	require.NoError(t, ex.rules.Set(regulations.DailyTradeLimit, "2", ""))

	for i := 0; i < 2; i++ {
		_, err := ex.engine.Submit(SubmitRequest{
			UserID: buyer.ID, StockID: stock.ID,
			Kind: orders.KindMarket, Side: orders.SideBuy, Qty: 1,
		})
		require.NoError(t, err)
	}

	_, err := ex.engine.Submit(SubmitRequest{
		UserID: buyer.ID, StockID: stock.ID,
		Kind: orders.KindMarket, Side: orders.SideBuy, Qty: 1,
	})
	assert.ErrorIs(t, err, domain.ErrDailyCountExceeded)
}

func TestSubmit_SuspendedTraderRejected(t *testing.T) {
	ex := newTestExchange(t)
	ex.openAllWeek(t)

	stock := ex.listStock(t, "AWB", 1000, 1000, "100.00", 100)
	buyer := ex.newTrader(t, "almaz")

	require.NoError(t, ex.suspensions.Create(&regulations.Suspension{
		TraderID:  buyer.ID,
		Scope:     regulations.ScopeAllStocks,
		Initiator: "Regulatory Body",
		Reason:    "wash trading",
	}))

	_, err := ex.engine.Submit(SubmitRequest{
		UserID: buyer.ID, StockID: stock.ID,
		Kind: orders.KindMarket, Side: orders.SideBuy, Qty: 1,
	})
	assert.ErrorIs(t, err, domain.ErrSuspended)
}

func TestSubmit_MarketBuyResidualCancelled(t *testing.T) {
	ex := newTestExchange(t)
	ex.openAllWeek(t)

	// Inventory can cover only part of the order; the rest of a market
	// buy dies instead of resting.
	stock := ex.listStock(t, "AWB", 5, 5, "100.00", 5)
	buyer := ex.newTrader(t, "almaz")

	res, err := ex.engine.Submit(SubmitRequest{
		UserID: buyer.ID, StockID: stock.ID,
		Kind: orders.KindMarket, Side: orders.SideBuy, Qty: 8,
	})
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, int64(5), res.Trades[0].Quantity)
	assert.Equal(t, orders.StatusCancelled, res.Order.Status)
	assert.Equal(t, int64(3), res.Order.QtyRemaining)
	assert.Equal(t, 0, ex.engine.Book(stock.ID).Depth(orders.SideBuy))
}

func TestSubmit_MarketSellResidualStaysPendingOffBook(t *testing.T) {
	ex := newTestExchange(t)
	ex.openAllWeek(t)

	stock := ex.listStock(t, "AWB", 100, 100, "100.00", 50)
	seller := ex.newTrader(t, "bekele")

	_, err := ex.engine.DirectBuy(seller.ID, stock.ID, 10, false)
	require.NoError(t, err)

	res, err := ex.engine.Submit(SubmitRequest{
		UserID: seller.ID, StockID: stock.ID,
		Kind: orders.KindMarket, Side: orders.SideSell, Qty: 10,
	})
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
	assert.Equal(t, orders.StatusPending, res.Order.Status)

	// Pending, but never visible to matching.
	assert.Equal(t, 0, ex.engine.Book(stock.ID).Depth(orders.SideSell))
	resting, err := ex.orders.ListResting(ex.db.Conn())
	require.NoError(t, err)
	assert.Empty(t, resting)
}

func TestSubmit_LimitResidualRestsAndCrossesLater(t *testing.T) {
	ex := newTestExchange(t)
	ex.openAllWeek(t)

	stock := ex.listStock(t, "AWB", 100, 100, "100.00", 50)
	buyer := ex.newTrader(t, "almaz")
	seller := ex.newTrader(t, "bekele")

	_, err := ex.engine.DirectBuy(seller.ID, stock.ID, 10, false)
	require.NoError(t, err)

	// Limit below the administered price: no fallback, rests whole.
	res, err := ex.engine.Submit(SubmitRequest{
		UserID: buyer.ID, StockID: stock.ID,
		Kind: orders.KindLimit, Side: orders.SideBuy,
		LimitPrice: limitPrice("95.00"), Qty: 10,
	})
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
	assert.Equal(t, 1, ex.engine.Book(stock.ID).Depth(orders.SideBuy))

	// A sell limit at or below the resting bid crosses at the bid.
	res, err = ex.engine.Submit(SubmitRequest{
		UserID: seller.ID, StockID: stock.ID,
		Kind: orders.KindLimit, Side: orders.SideSell,
		LimitPrice: limitPrice("90.00"), Qty: 4,
	})
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, "95.00", res.Trades[0].Price.StringFixed(2))
	assert.Equal(t, int64(4), res.Trades[0].Quantity)
	assert.Equal(t, orders.StatusFilled, res.Order.Status)

	// The resting bid is now partially filled with 6 remaining.
	best := ex.engine.Book(stock.ID).Best(orders.SideBuy)
	require.NotNil(t, best)
	assert.Equal(t, int64(6), best.Remaining)

	maker, err := ex.orders.GetByID(ex.db.Conn(), best.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPartial, maker.Status)
	assert.Equal(t, int64(6), maker.QtyRemaining)
}

func TestSubmit_InsufficientSharesForSell(t *testing.T) {
	ex := newTestExchange(t)
	ex.openAllWeek(t)

	stock := ex.listStock(t, "AWB", 100, 100, "100.00", 50)
	seller := ex.newTrader(t, "bekele")

	_, err := ex.engine.DirectBuy(seller.ID, stock.ID, 3, false)
	require.NoError(t, err)

	_, err = ex.engine.Submit(SubmitRequest{
		UserID: seller.ID, StockID: stock.ID,
		Kind: orders.KindMarket, Side: orders.SideSell, Qty: 5,
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientShares)
}

func TestSubmit_ValidationErrors(t *testing.T) {
	ex := newTestExchange(t)

	tests := []struct {
		name string
		req  SubmitRequest
	}{
		{"zero quantity", SubmitRequest{UserID: 1, StockID: 1, Kind: orders.KindMarket, Side: orders.SideBuy, Qty: 0}},
		{"bad side", SubmitRequest{UserID: 1, StockID: 1, Kind: orders.KindMarket, Side: "Hold", Qty: 1}},
		{"limit without price", SubmitRequest{UserID: 1, StockID: 1, Kind: orders.KindLimit, Side: orders.SideBuy, Qty: 1}},
		{"market with price", SubmitRequest{UserID: 1, StockID: 1, Kind: orders.KindMarket, Side: orders.SideBuy, LimitPrice: limitPrice("10.00"), Qty: 1}},
		{"bad kind", SubmitRequest{UserID: 1, StockID: 1, Kind: "Stop", Side: orders.SideBuy, Qty: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ex.engine.Submit(tt.req)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestSubmit_LockedStockReportsBusy(t *testing.T) {
	ex := newTestExchange(t)
	ex.openAllWeek(t)

	stock := ex.listStock(t, "AWB", 100, 100, "100.00", 50)
	buyer := ex.newTrader(t, "almaz")

	// Shrink the deadline so the test does not sit on the full wait.
	ex.engine.locks.deadline = 50 * time.Millisecond

	release, err := ex.engine.locks.Acquire(stock.ID)
	require.NoError(t, err)
	defer release()

	_, err = ex.engine.Submit(SubmitRequest{
		UserID: buyer.ID, StockID: stock.ID,
		Kind: orders.KindMarket, Side: orders.SideBuy, Qty: 1,
	})
	assert.ErrorIs(t, err, domain.ErrResourceBusy)
}

func TestDirectBuy_CapAndInventory(t *testing.T) {
	ex := newTestExchange(t)
	ex.openAllWeek(t)

	stock := ex.listStock(t, "AWB", 100, 10, "100.00", 8)
	buyer := ex.newTrader(t, "almaz")

	_, err := ex.engine.DirectBuy(buyer.ID, stock.ID, 9, false)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = ex.engine.DirectBuy(buyer.ID, stock.ID, 8, false)
	require.NoError(t, err)

	// 10 - 8 = 2 left; another 8 exceeds inventory even under the cap.
	_, err = ex.engine.DirectBuy(buyer.ID, stock.ID, 8, false)
	assert.ErrorIs(t, err, domain.ErrInventoryExhausted)
}

func TestCancel_RestingOrder(t *testing.T) {
	ex := newTestExchange(t)
	ex.openAllWeek(t)

	stock := ex.listStock(t, "AWB", 100, 0, "100.00", 50)
	buyer := ex.newTrader(t, "almaz")
	other := ex.newTrader(t, "bekele")

	res, err := ex.engine.Submit(SubmitRequest{
		UserID: buyer.ID, StockID: stock.ID,
		Kind: orders.KindLimit, Side: orders.SideBuy,
		LimitPrice: limitPrice("95.00"), Qty: 10,
	})
	require.NoError(t, err)
	orderID := res.Order.ID

	// Only the owner may cancel.
	_, err = ex.engine.Cancel(orderID, other.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	cancelled, err := ex.engine.Cancel(orderID, buyer.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, cancelled.Status)
	assert.Equal(t, 0, ex.engine.Book(stock.ID).Depth(orders.SideBuy))

	// A second cancel finds nothing resting.
	_, err = ex.engine.Cancel(orderID, buyer.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestWarmBooks_RebuildsFromDatabase(t *testing.T) {
	ex := newTestExchange(t)
	ex.openAllWeek(t)

	stock := ex.listStock(t, "AWB", 100, 0, "100.00", 50)
	buyer := ex.newTrader(t, "almaz")

	_, err := ex.engine.Submit(SubmitRequest{
		UserID: buyer.ID, StockID: stock.ID,
		Kind: orders.KindLimit, Side: orders.SideBuy,
		LimitPrice: limitPrice("95.00"), Qty: 10,
	})
	require.NoError(t, err)

	// A fresh engine over the same database sees the resting order.
	log := zerolog.Nop()
	fresh := NewEngine(Deps{
		DB:          ex.db,
		Orders:      ex.orders,
		Trades:      ex.trades,
		Users:       ex.users,
		Portfolios:  ex.portfolios,
		Stocks:      ex.stocks,
		Rules:       ex.rules,
		Suspensions: ex.suspensions,
		Hours:       market_hours.NewService(ex.hours, log),
		Detector:    surveillance.NewDetector(surveillance.NewRepository(log), surveillance.Thresholds{}, log),
		Trail:       audit.NewRepository(log),
	}, decimal.RequireFromString("0.01"), time.Second, 90, log)

	require.NoError(t, fresh.WarmBooks())
	best := fresh.Book(stock.ID).Best(orders.SideBuy)
	require.NotNil(t, best)
	assert.Equal(t, "95.00", best.Price.StringFixed(2))
	assert.Equal(t, int64(10), best.Remaining)
}
