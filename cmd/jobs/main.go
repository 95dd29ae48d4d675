// Package main is a one-shot runner for the exchange's scheduled jobs,
// for operators and cron-outside-the-process setups:
//
//	jobs cancel_pending_orders
//	jobs update_closing_prices
//	jobs match_pending_orders
//
// Exits 0 on success, 1 on failure.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/esx-sim/esx/internal/config"
	"github.com/esx-sim/esx/internal/database"
	"github.com/esx-sim/esx/internal/modules/audit"
	"github.com/esx-sim/esx/internal/modules/ledger"
	"github.com/esx-sim/esx/internal/modules/market_hours"
	"github.com/esx-sim/esx/internal/modules/orders"
	"github.com/esx-sim/esx/internal/modules/portfolio"
	"github.com/esx-sim/esx/internal/modules/regulations"
	"github.com/esx-sim/esx/internal/modules/surveillance"
	"github.com/esx-sim/esx/internal/modules/trading"
	"github.com/esx-sim/esx/internal/modules/universe"
	"github.com/esx-sim/esx/internal/scheduler"
	"github.com/esx-sim/esx/pkg/logger"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: jobs <cancel_pending_orders|update_closing_prices|match_pending_orders>")
		os.Exit(1)
	}
	name := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true})

	db, err := database.New(database.Config{Path: cfg.DatabasePath(), Profile: database.ProfileStandard})
	if err != nil {
		log.Error().Err(err).Msg("Failed to open database")
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		log.Error().Err(err).Msg("Failed to migrate database")
		os.Exit(1)
	}

	stocks := universe.NewStockRepository(db.Conn(), log)
	closingPrices := universe.NewClosingPriceRepository(db.Conn(), log)
	hoursRepo := market_hours.NewRepository(db.Conn(), log)
	hoursSvc := market_hours.NewService(hoursRepo, log)

	detector := surveillance.NewDetector(surveillance.NewRepository(log), surveillance.Thresholds{
		VolumeRatio:    cfg.VolumeRatio,
		PriceDeviation: cfg.PriceDeviation,
		FreqThreshold:  int64(cfg.FreqThreshold),
		FreqWindow:     time.Duration(cfg.FreqWindowMin) * time.Minute,
	}, log)

	// No notification sink: one-shot runs deliver nothing to websocket
	// clients, and queued messages would be lost on exit anyway.
	engine := trading.NewEngine(trading.Deps{
		DB:          db,
		Orders:      orders.NewRepository(log),
		Trades:      trading.NewTradeRepository(log),
		Users:       ledger.NewUserRepository(db.Conn(), cfg.TraderSeedBalance, log),
		Portfolios:  portfolio.NewRepository(db.Conn(), log),
		Stocks:      stocks,
		Rules:       regulations.NewRepository(db.Conn(), log),
		Suspensions: regulations.NewSuspensionRepository(db.Conn(), log),
		Hours:       hoursSvc,
		Detector:    detector,
		Trail:       audit.NewRepository(log),
	}, cfg.FeeRate, time.Duration(cfg.SubmitDeadlineSeconds)*time.Second, cfg.DividendEligibleMinDays, log)

	if err := engine.WarmBooks(); err != nil {
		log.Error().Err(err).Msg("Failed to warm order books")
		os.Exit(1)
	}

	var job scheduler.Job
	switch name {
	case "cancel_pending_orders":
		job = scheduler.NewSessionSweepJob(db, engine, hoursSvc, log)
	case "update_closing_prices":
		job = scheduler.NewClosingPricesJob(db, stocks, closingPrices, log)
	case "match_pending_orders":
		job = scheduler.NewRecrossJob(engine, log)
	default:
		fmt.Fprintf(os.Stderr, "unknown job %q\n", name)
		os.Exit(1)
	}

	if err := scheduler.New(log).RunNow(job); err != nil {
		log.Error().Err(err).Str("job", job.Name()).Msg("Job failed")
		os.Exit(1)
	}
}
