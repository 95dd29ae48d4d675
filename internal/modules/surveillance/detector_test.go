package surveillance

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esx-sim/esx/internal/database"
	"github.com/esx-sim/esx/internal/domain"
	"github.com/esx-sim/esx/internal/modules/ledger"
	"github.com/esx-sim/esx/internal/modules/universe"
)

type fixture struct {
	db    *database.DB
	repo  *Repository
	users *ledger.UserRepository
	stock *universe.Stock
}

// quiet keeps every rule out of the way unless a test overrides it.
var quiet = Thresholds{
	VolumeRatio:    decimal.RequireFromString("100"),
	PriceDeviation: decimal.RequireFromString("100"),
	FreqThreshold:  1000,
	FreqWindow:     time.Hour,
}

func newFixture(t *testing.T, available int64) *fixture {
	t.Helper()

	db, err := database.NewTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := zerolog.Nop()
	f := &fixture{
		db:    db,
		repo:  NewRepository(log),
		users: ledger.NewUserRepository(db.Conn(), decimal.Zero, log),
	}

	companies := universe.NewCompanyRepository(db.Conn(), log)
	c := &universe.Company{Name: "AWB PLC", Sector: "Banking"}
	require.NoError(t, companies.Create(c))

	stocks := universe.NewStockRepository(db.Conn(), log)
	f.stock = &universe.Stock{
		CompanyID:       c.ID,
		Symbol:          "AWB",
		TotalShares:     1_000_000,
		AvailableShares: available,
		CurrentPrice:    decimal.RequireFromString("100.00"),
	}
	require.NoError(t, stocks.Create(f.stock))
	return f
}

func (f *fixture) newTrader(t *testing.T, name string) int64 {
	t.Helper()
	u := &ledger.User{Username: name, Role: domain.RoleTrader}
	require.NoError(t, f.users.Create(u))
	return u.ID
}

// seedTrade writes a trade to the tape and returns its ID.
func (f *fixture) seedTrade(t *testing.T, buyerID int64, sellerID *int64, qty int64, price string, at time.Time) int64 {
	t.Helper()

	res, err := f.db.Conn().Exec(`
		INSERT INTO orders (user_id, stock_id, symbol, kind, side, qty_original, qty_remaining, status, created_at)
		VALUES (?, ?, ?, 'Market', 'Buy', ?, 0, 'Filled', ?)
	`, buyerID, f.stock.ID, f.stock.Symbol, qty, at.Unix())
	require.NoError(t, err)
	orderID, err := res.LastInsertId()
	require.NoError(t, err)

	res, err = f.db.Conn().Exec(`
		INSERT INTO trades (stock_id, symbol, buy_order_id, buyer_id, seller_id, quantity, price, buyer_fee, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, '0.00', ?)
	`, f.stock.ID, f.stock.Symbol, orderID, buyerID, sellerID, qty, price, at.Unix())
	require.NoError(t, err)
	tradeID, err := res.LastInsertId()
	require.NoError(t, err)
	return tradeID
}

func (f *fixture) event(tradeID, buyerID int64, sellerID *int64, qty int64, price string, at time.Time) TradeEvent {
	return TradeEvent{
		TradeID:    tradeID,
		StockID:    f.stock.ID,
		BuyerID:    buyerID,
		SellerID:   sellerID,
		Quantity:   qty,
		Price:      decimal.RequireFromString(price),
		ExecutedAt: at,
	}
}

func (f *fixture) activities(t *testing.T) []SuspiciousActivity {
	t.Helper()
	all, err := f.repo.List(f.db.Conn(), false)
	require.NoError(t, err)
	return all
}

func TestDetector_QuietTradePasses(t *testing.T) {
	f := newFixture(t, 10_000)
	buyer := f.newTrader(t, "almaz")
	now := time.Now()

	tradeID := f.seedTrade(t, buyer, nil, 10, "100.00", now)
	d := NewDetector(f.repo, quiet, zerolog.Nop())
	d.Evaluate(f.db.Conn(), f.event(tradeID, buyer, nil, 10, "100.00", now))

	assert.Empty(t, f.activities(t))
}

func TestDetector_FrequencyFlagsRapidTrader(t *testing.T) {
	f := newFixture(t, 10_000)
	buyer := f.newTrader(t, "almaz")
	now := time.Now()

	th := quiet
	th.FreqThreshold = 3
	th.FreqWindow = time.Hour
	d := NewDetector(f.repo, th, zerolog.Nop())

	f.seedTrade(t, buyer, nil, 5, "100.00", now.Add(-30*time.Minute))
	f.seedTrade(t, buyer, nil, 5, "100.00", now.Add(-10*time.Minute))
	last := f.seedTrade(t, buyer, nil, 5, "100.00", now)

	d.Evaluate(f.db.Conn(), f.event(last, buyer, nil, 5, "100.00", now))

	all := f.activities(t)
	require.Len(t, all, 1)
	assert.Equal(t, last, all[0].TradeID)
	assert.Contains(t, all[0].Reason, "frequency")
	assert.False(t, all[0].Reviewed)
}

func TestDetector_FrequencyIgnoresTradesOutsideWindow(t *testing.T) {
	f := newFixture(t, 10_000)
	buyer := f.newTrader(t, "almaz")
	now := time.Now()

	th := quiet
	th.FreqThreshold = 3
	th.FreqWindow = time.Hour
	d := NewDetector(f.repo, th, zerolog.Nop())

	f.seedTrade(t, buyer, nil, 5, "100.00", now.Add(-2*time.Hour))
	f.seedTrade(t, buyer, nil, 5, "100.00", now.Add(-10*time.Minute))
	last := f.seedTrade(t, buyer, nil, 5, "100.00", now)

	d.Evaluate(f.db.Conn(), f.event(last, buyer, nil, 5, "100.00", now))
	assert.Empty(t, f.activities(t))
}

func TestDetector_VolumeFlagsOversizedTrade(t *testing.T) {
	f := newFixture(t, 1000)
	buyer := f.newTrader(t, "almaz")
	now := time.Now()

	th := quiet
	th.VolumeRatio = decimal.RequireFromString("0.10")
	d := NewDetector(f.repo, th, zerolog.Nop())

	// 200 shares against a circulating 1000: over the 10% line.
	tradeID := f.seedTrade(t, buyer, nil, 200, "100.00", now)
	d.Evaluate(f.db.Conn(), f.event(tradeID, buyer, nil, 200, "100.00", now))

	all := f.activities(t)
	require.Len(t, all, 1)
	assert.Contains(t, all[0].Reason, "unusual volume")
}

func TestDetector_PriceDeviationFlagsOutlier(t *testing.T) {
	f := newFixture(t, 10_000)
	buyer := f.newTrader(t, "almaz")
	seller := f.newTrader(t, "bekele")
	now := time.Now()

	th := quiet
	th.PriceDeviation = decimal.RequireFromString("0.10")
	d := NewDetector(f.repo, th, zerolog.Nop())

	f.seedTrade(t, buyer, nil, 10, "100.00", now.Add(-2*time.Minute))
	f.seedTrade(t, buyer, nil, 10, "100.00", now.Add(-time.Minute))
	outlier := f.seedTrade(t, buyer, &seller, 10, "150.00", now)

	d.Evaluate(f.db.Conn(), f.event(outlier, buyer, &seller, 10, "150.00", now))

	all := f.activities(t)
	require.Len(t, all, 1)
	assert.Contains(t, all[0].Reason, "price deviation")
}

func TestDetector_MultipleReasonsJoined(t *testing.T) {
	f := newFixture(t, 1000)
	buyer := f.newTrader(t, "almaz")
	now := time.Now()

	th := quiet
	th.VolumeRatio = decimal.RequireFromString("0.01")
	th.FreqThreshold = 1
	d := NewDetector(f.repo, th, zerolog.Nop())

	tradeID := f.seedTrade(t, buyer, nil, 500, "100.00", now)
	d.Evaluate(f.db.Conn(), f.event(tradeID, buyer, nil, 500, "100.00", now))

	all := f.activities(t)
	require.Len(t, all, 1)
	assert.Contains(t, all[0].Reason, "unusual volume")
	assert.Contains(t, all[0].Reason, "frequency")
	assert.Contains(t, all[0].Reason, "; ")
}

func TestRepository_ReviewLifecycle(t *testing.T) {
	f := newFixture(t, 10_000)
	buyer := f.newTrader(t, "almaz")
	now := time.Now()
	tradeID := f.seedTrade(t, buyer, nil, 10, "100.00", now)

	activity := &SuspiciousActivity{TradeID: tradeID, Reason: "unusual volume"}
	require.NoError(t, f.repo.Create(f.db.Conn(), activity))

	unreviewed, err := f.repo.List(f.db.Conn(), true)
	require.NoError(t, err)
	require.Len(t, unreviewed, 1)

	require.NoError(t, f.repo.MarkReviewed(f.db.Conn(), activity.ID))

	unreviewed, err = f.repo.List(f.db.Conn(), true)
	require.NoError(t, err)
	assert.Empty(t, unreviewed)

	got, err := f.repo.GetByID(f.db.Conn(), activity.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Reviewed)
}
