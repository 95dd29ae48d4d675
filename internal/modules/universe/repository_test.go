package universe

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esx-sim/esx/internal/database"
)

func newTestRepos(t *testing.T) (*CompanyRepository, *StockRepository, *ClosingPriceRepository, *database.DB) {
	t.Helper()

	db, err := database.NewTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := zerolog.Nop()
	return NewCompanyRepository(db.Conn(), log),
		NewStockRepository(db.Conn(), log),
		NewClosingPriceRepository(db.Conn(), log),
		db
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestCompany_CreateAndGet(t *testing.T) {
	companies, _, _, _ := newTestRepos(t)

	c := &Company{Name: "Awash Bank", Sector: "Banking"}
	require.NoError(t, companies.Create(c))
	assert.NotZero(t, c.ID)

	got, err := companies.GetByID(c.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Awash Bank", got.Name)

	// Names are unique.
	assert.Error(t, companies.Create(&Company{Name: "Awash Bank", Sector: "Banking"}))

	missing, err := companies.GetByID(9999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStock_CreateValidates(t *testing.T) {
	companies, stocks, _, _ := newTestRepos(t)

	c := &Company{Name: "Ethio Telecom", Sector: "Telecom"}
	require.NoError(t, companies.Create(c))

	tests := []struct {
		name    string
		stock   Stock
		wantErr bool
	}{
		{
			name: "valid",
			stock: Stock{
				CompanyID: c.ID, Symbol: "etl",
				TotalShares: 1000, AvailableShares: 500,
				CurrentPrice: mustDecimal(t, "100.00"), MaxDirectBuy: 100,
			},
		},
		{
			name: "available exceeds total",
			stock: Stock{
				CompanyID: c.ID, Symbol: "BAD1",
				TotalShares: 100, AvailableShares: 200,
				CurrentPrice: mustDecimal(t, "10.00"),
			},
			wantErr: true,
		},
		{
			name: "non-positive price",
			stock: Stock{
				CompanyID: c.ID, Symbol: "BAD2",
				TotalShares: 100, AvailableShares: 50,
				CurrentPrice: decimal.Zero,
			},
			wantErr: true,
		},
		{
			name: "direct buy cap above total",
			stock: Stock{
				CompanyID: c.ID, Symbol: "BAD3",
				TotalShares: 100, AvailableShares: 50,
				CurrentPrice: mustDecimal(t, "10.00"), MaxDirectBuy: 500,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := stocks.Create(&tt.stock)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}

	// Symbols normalize to upper case.
	got, err := stocks.GetBySymbol("ETL")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ETL", got.Symbol)
	assert.Equal(t, "100.00", got.CurrentPrice.StringFixed(2))
}

func TestStock_DecrementInventory(t *testing.T) {
	companies, stocks, _, db := newTestRepos(t)

	c := &Company{Name: "Dashen Bank", Sector: "Banking"}
	require.NoError(t, companies.Create(c))
	s := &Stock{
		CompanyID: c.ID, Symbol: "DSH",
		TotalShares: 1000, AvailableShares: 10,
		CurrentPrice: mustDecimal(t, "50.00"), MaxDirectBuy: 100,
	}
	require.NoError(t, stocks.Create(s))

	require.NoError(t, stocks.DecrementInventory(db.Conn(), s.ID, 4))

	got, err := stocks.GetByID(db.Conn(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6), got.AvailableShares)

	// Cannot go below zero.
	assert.Error(t, stocks.DecrementInventory(db.Conn(), s.ID, 7))
	got, err = stocks.GetByID(db.Conn(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6), got.AvailableShares)
}

func TestClosingPrice_UpsertAndHistory(t *testing.T) {
	companies, stocks, closing, _ := newTestRepos(t)

	c := &Company{Name: "Wegagen Bank", Sector: "Banking"}
	require.NoError(t, companies.Create(c))
	s := &Stock{
		CompanyID: c.ID, Symbol: "WGN",
		TotalShares: 1000, AvailableShares: 100,
		CurrentPrice: mustDecimal(t, "25.00"), MaxDirectBuy: 100,
	}
	require.NoError(t, stocks.Create(s))

	require.NoError(t, closing.Upsert(s.ID, "2026-08-21", mustDecimal(t, "26.50")))
	require.NoError(t, closing.Upsert(s.ID, "2026-08-22", mustDecimal(t, "27.00")))
	// Re-running the job for the same day overwrites.
	require.NoError(t, closing.Upsert(s.ID, "2026-08-22", mustDecimal(t, "27.25")))

	history, err := closing.History(s.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "2026-08-22", history[0].Day)
	assert.Equal(t, "27.25", history[0].ClosingPrice.StringFixed(2))
}
