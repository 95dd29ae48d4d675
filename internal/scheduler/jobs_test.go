package scheduler

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
	"github.com/esx-sim/esx/internal/modules/trading"
	"github.com/esx-sim/esx/internal/modules/universe"
)

type jobFixture struct {
	db     *database.DB
	engine *trading.Engine
	orders *orders.Repository
	stocks *universe.StockRepository
	prices *universe.ClosingPriceRepository
	hours  *market_hours.Repository
	svc    *market_hours.Service
	users  *ledger.UserRepository
}

func newJobFixture(t *testing.T) *jobFixture {
	t.Helper()

	db, err := database.NewTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := zerolog.Nop()
	f := &jobFixture{
		db:     db,
		orders: orders.NewRepository(log),
		stocks: universe.NewStockRepository(db.Conn(), log),
		prices: universe.NewClosingPriceRepository(db.Conn(), log),
		hours:  market_hours.NewRepository(db.Conn(), log),
		users:  ledger.NewUserRepository(db.Conn(), decimal.RequireFromString("20000.00"), log),
	}
	f.svc = market_hours.NewService(f.hours, log)

	detector := surveillance.NewDetector(surveillance.NewRepository(log), surveillance.Thresholds{
		VolumeRatio:    decimal.RequireFromString("100"),
		PriceDeviation: decimal.RequireFromString("100"),
		FreqThreshold:  1000,
		FreqWindow:     time.Hour,
	}, log)

	f.engine = trading.NewEngine(trading.Deps{
		DB:          db,
		Orders:      f.orders,
		Trades:      trading.NewTradeRepository(log),
		Users:       f.users,
		Portfolios:  portfolio.NewRepository(db.Conn(), log),
		Stocks:      f.stocks,
		Rules:       regulations.NewRepository(db.Conn(), log),
		Suspensions: regulations.NewSuspensionRepository(db.Conn(), log),
		Hours:       f.svc,
		Detector:    detector,
		Trail:       audit.NewRepository(log),
	}, decimal.RequireFromString("0.01"), time.Second, 90, log)
	return f
}

func (f *jobFixture) openAllWeek(t *testing.T) {
	t.Helper()
	for _, day := range []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"} {
		require.NoError(t, f.hours.Upsert(market_hours.WorkingHours{
			DayOfWeek: day, OpenTime: "00:00", CloseTime: "23:59",
		}))
	}
}

func (f *jobFixture) closeExchange(t *testing.T) {
	t.Helper()
	for _, day := range []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"} {
		require.NoError(t, f.hours.Delete(day))
	}
}

func (f *jobFixture) listStock(t *testing.T, symbol string, price string) *universe.Stock {
	t.Helper()
	companies := universe.NewCompanyRepository(f.db.Conn(), zerolog.Nop())
	c := &universe.Company{Name: symbol + " PLC", Sector: "Banking"}
	require.NoError(t, companies.Create(c))

	s := &universe.Stock{
		CompanyID:       c.ID,
		Symbol:          symbol,
		TotalShares:     10_000,
		AvailableShares: 10_000,
		CurrentPrice:    decimal.RequireFromString(price),
		MaxDirectBuy:    1000,
	}
	require.NoError(t, f.stocks.Create(s))
	return s
}

func (f *jobFixture) newTrader(t *testing.T, name string) *ledger.User {
	t.Helper()
	u := &ledger.User{Username: name, Role: domain.RoleTrader}
	require.NoError(t, f.users.Create(u))
	return u
}

func limitPrice(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestSessionSweepJob(t *testing.T) {
	f := newJobFixture(t)
	f.openAllWeek(t)

	stock := f.listStock(t, "AWB", "100.00")
	buyer := f.newTrader(t, "almaz")

	res, err := f.engine.Submit(trading.SubmitRequest{
		UserID: buyer.ID, StockID: stock.ID,
		Kind: orders.KindLimit, Side: orders.SideBuy,
		LimitPrice: limitPrice("95.00"), Qty: 10,
	})
	require.NoError(t, err)

	job := NewSessionSweepJob(f.db, f.engine, f.svc, zerolog.Nop())

	// While the market is open the sweep leaves everything alone.
	require.NoError(t, job.Run())
	stillOpen, err := f.orders.GetByID(f.db.Conn(), res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, stillOpen.Status)

	f.closeExchange(t)
	require.NoError(t, job.Run())

	swept, err := f.orders.GetByID(f.db.Conn(), res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, swept.Status)
	assert.Equal(t, 0, f.engine.Book(stock.ID).Depth(orders.SideBuy))

	// Idempotent: nothing left to sweep.
	require.NoError(t, job.Run())
}

func TestClosingPricesJob(t *testing.T) {
	f := newJobFixture(t)
	f.openAllWeek(t)

	traded := f.listStock(t, "AWB", "100.00")
	idle := f.listStock(t, "EAH", "55.00")
	buyer := f.newTrader(t, "almaz")

	// Two inventory buys at the administered price put today's highest
	// trade at 100.00 for AWB; EAH never trades.
	_, err := f.engine.DirectBuy(buyer.ID, traded.ID, 5, false)
	require.NoError(t, err)
	_, err = f.engine.DirectBuy(buyer.ID, traded.ID, 3, false)
	require.NoError(t, err)

	job := NewClosingPricesJob(f.db, f.stocks, f.prices, zerolog.Nop())
	require.NoError(t, job.Run())

	day := time.Now().Format("2006-01-02")

	history, err := f.prices.History(traded.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, day, history[0].Day)
	assert.Equal(t, "100.00", history[0].ClosingPrice.StringFixed(2))

	// No trades, no row.
	history, err = f.prices.History(idle.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, history)

	// Re-running the job overwrites the same day instead of duplicating.
	require.NoError(t, job.Run())
	history, err = f.prices.History(traded.ID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRecrossJob_SettlesCrossedBook(t *testing.T) {
	f := newJobFixture(t)
	f.openAllWeek(t)

	stock := f.listStock(t, "AWB", "100.00")
	buyer := f.newTrader(t, "almaz")
	seller := f.newTrader(t, "bekele")

	_, err := f.engine.DirectBuy(seller.ID, stock.ID, 10, false)
	require.NoError(t, err)

	// Rest a bid below the administered price, then force a crossed book
	// by inserting the matching ask directly, as if it survived a restart.
	res, err := f.engine.Submit(trading.SubmitRequest{
		UserID: buyer.ID, StockID: stock.ID,
		Kind: orders.KindLimit, Side: orders.SideBuy,
		LimitPrice: limitPrice("95.00"), Qty: 10,
	})
	require.NoError(t, err)

	ask := &orders.Order{
		UserID:       seller.ID,
		StockID:      stock.ID,
		Symbol:       stock.Symbol,
		Kind:         orders.KindLimit,
		Side:         orders.SideSell,
		LimitPrice:   limitPrice("90.00"),
		QtyOriginal:  10,
		QtyRemaining: 10,
		Status:       orders.StatusPending,
	}
	require.NoError(t, f.orders.Create(f.db.Conn(), ask))
	f.engine.Book(stock.ID).Insert(orders.SideSell, &orders.RestingOrder{
		OrderID:   ask.ID,
		UserID:    seller.ID,
		Price:     *ask.LimitPrice,
		Remaining: 10,
		Seq:       ask.ID,
	})

	job := NewRecrossJob(f.engine, zerolog.Nop())
	require.NoError(t, job.Run())

	// The older bid dictated the price.
	bid, err := f.orders.GetByID(f.db.Conn(), res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusFilled, bid.Status)

	filled, err := f.orders.GetByID(f.db.Conn(), ask.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusFilled, filled.Status)

	assert.Equal(t, 0, f.engine.Book(stock.ID).Depth(orders.SideBuy))
	assert.Equal(t, 0, f.engine.Book(stock.ID).Depth(orders.SideSell))

	// Second run finds nothing crossed.
	require.NoError(t, job.Run())
}
