package scheduler

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/esx-sim/esx/internal/database"
	"github.com/esx-sim/esx/internal/modules/market_hours"
	"github.com/esx-sim/esx/internal/modules/trading"
	"github.com/esx-sim/esx/internal/modules/universe"
)

// SessionSweepJob cancels every open order once the market has closed.
// It is a no-op while the market is open, so running it on a tight
// schedule is safe.
type SessionSweepJob struct {
	db     *database.DB
	engine *trading.Engine
	hours  *market_hours.Service
	log    zerolog.Logger
}

// NewSessionSweepJob creates the end-of-session sweep job.
func NewSessionSweepJob(db *database.DB, engine *trading.Engine, hours *market_hours.Service, log zerolog.Logger) *SessionSweepJob {
	return &SessionSweepJob{db: db, engine: engine, hours: hours, log: log.With().Str("job", "session_sweep").Logger()}
}

func (j *SessionSweepJob) Name() string { return "cancel_pending_orders" }

func (j *SessionSweepJob) Run() error {
	within, err := j.hours.IsWithinWindow(j.db.Conn(), time.Now())
	if err != nil {
		return err
	}
	if within {
		return nil
	}

	swept, err := j.engine.SweepSession()
	if err != nil {
		return err
	}
	if swept > 0 {
		j.log.Info().Int("orders", swept).Msg("Cancelled unfilled orders after close")
	}
	return nil
}

// ClosingPricesJob records the closing price for every stock that
// traded today: the highest trade price of the day. Stocks without
// trades get no row.
type ClosingPricesJob struct {
	db     *database.DB
	stocks *universe.StockRepository
	prices *universe.ClosingPriceRepository
	log    zerolog.Logger
}

// NewClosingPricesJob creates the daily closing price job.
func NewClosingPricesJob(db *database.DB, stocks *universe.StockRepository, prices *universe.ClosingPriceRepository, log zerolog.Logger) *ClosingPricesJob {
	return &ClosingPricesJob{db: db, stocks: stocks, prices: prices, log: log.With().Str("job", "closing_prices").Logger()}
}

func (j *ClosingPricesJob) Name() string { return "update_closing_prices" }

func (j *ClosingPricesJob) Run() error {
	now := time.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	day := dayStart.Format("2006-01-02")

	all, err := j.stocks.List()
	if err != nil {
		return err
	}

	var recorded atomic.Int64
	var g errgroup.Group
	g.SetLimit(4)
	for i := range all {
		stock := all[i]
		g.Go(func() error {
			price, ok, err := j.prices.HighestTradePrice(j.db.Conn(), stock.ID, dayStart.Unix(), dayStart.AddDate(0, 0, 1).Unix())
			if err != nil {
				return fmt.Errorf("stock %s: %w", stock.Symbol, err)
			}
			if !ok {
				return nil
			}
			if err := j.prices.Upsert(stock.ID, day, price); err != nil {
				return fmt.Errorf("stock %s: %w", stock.Symbol, err)
			}
			recorded.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	j.log.Info().Int64("stocks", recorded.Load()).Str("day", day).Msg("Closing prices recorded")
	return nil
}

// RecrossJob settles any crossed books. Matching never leaves a book
// crossed on its own; this covers drift after restarts.
type RecrossJob struct {
	engine *trading.Engine
	log    zerolog.Logger
}

// NewRecrossJob creates the book re-cross job.
func NewRecrossJob(engine *trading.Engine, log zerolog.Logger) *RecrossJob {
	return &RecrossJob{engine: engine, log: log.With().Str("job", "recross").Logger()}
}

func (j *RecrossJob) Name() string { return "match_pending_orders" }

func (j *RecrossJob) Run() error {
	settled, err := j.engine.RecrossAll()
	if err != nil {
		return err
	}
	if settled > 0 {
		j.log.Info().Int("trades", settled).Msg("Settled crossed books")
	}
	return nil
}
