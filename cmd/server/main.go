// Package main is the entry point for the exchange server. It wires the
// database, the matching engine and its collaborators, the notification
// dispatcher, the background scheduler and the HTTP API, then blocks
// until a shutdown signal arrives.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/esx-sim/esx/internal/config"
	"github.com/esx-sim/esx/internal/database"
	"github.com/esx-sim/esx/internal/modules/audit"
	"github.com/esx-sim/esx/internal/modules/dividends"
	"github.com/esx-sim/esx/internal/modules/ledger"
	"github.com/esx-sim/esx/internal/modules/market_hours"
	"github.com/esx-sim/esx/internal/modules/notifications"
	"github.com/esx-sim/esx/internal/modules/orders"
	"github.com/esx-sim/esx/internal/modules/portfolio"
	"github.com/esx-sim/esx/internal/modules/regulations"
	"github.com/esx-sim/esx/internal/modules/surveillance"
	"github.com/esx-sim/esx/internal/modules/trading"
	"github.com/esx-sim/esx/internal/modules/universe"
	"github.com/esx-sim/esx/internal/scheduler"
	"github.com/esx-sim/esx/internal/server"
	"github.com/esx-sim/esx/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	logger.SetGlobalLogger(log)
	log.Info().Msg("Starting exchange server")

	db, err := database.New(database.Config{Path: cfg.DatabasePath(), Profile: database.ProfileStandard})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}

	// Repositories and services.
	users := ledger.NewUserRepository(db.Conn(), cfg.TraderSeedBalance, log)
	profit := ledger.NewProfitService(db.Conn(), users, cfg.ProfitTaxRate, log)
	companies := universe.NewCompanyRepository(db.Conn(), log)
	stocks := universe.NewStockRepository(db.Conn(), log)
	closingPrices := universe.NewClosingPriceRepository(db.Conn(), log)
	portfolios := portfolio.NewRepository(db.Conn(), log)
	orderRepo := orders.NewRepository(log)
	tradeRepo := trading.NewTradeRepository(log)
	rules := regulations.NewRepository(db.Conn(), log)
	suspensions := regulations.NewSuspensionRepository(db.Conn(), log)
	hoursRepo := market_hours.NewRepository(db.Conn(), log)
	hoursSvc := market_hours.NewService(hoursRepo, log)
	trail := audit.NewRepository(log)
	dividendRepo := dividends.NewRepository(log)
	activityRepo := surveillance.NewRepository(log)

	detector := surveillance.NewDetector(activityRepo, surveillance.Thresholds{
		VolumeRatio:    cfg.VolumeRatio,
		PriceDeviation: cfg.PriceDeviation,
		FreqThreshold:  int64(cfg.FreqThreshold),
		FreqWindow:     time.Duration(cfg.FreqWindowMin) * time.Minute,
	}, log)

	// Notification pipeline: settlement enqueues, the dispatcher
	// persists and pushes to websocket subscribers.
	notifRepo := notifications.NewRepository(db.Conn(), log)
	hub := notifications.NewHub(log)
	dispatcher := notifications.NewDispatcher(notifRepo, hub, log)

	engine := trading.NewEngine(trading.Deps{
		DB:          db,
		Orders:      orderRepo,
		Trades:      tradeRepo,
		Users:       users,
		Portfolios:  portfolios,
		Stocks:      stocks,
		Rules:       rules,
		Suspensions: suspensions,
		Hours:       hoursSvc,
		Detector:    detector,
		Trail:       trail,
		Sink:        dispatcher,
	}, cfg.FeeRate, time.Duration(cfg.SubmitDeadlineSeconds)*time.Second, cfg.DividendEligibleMinDays, log)

	if err := engine.WarmBooks(); err != nil {
		log.Fatal().Err(err).Msg("Failed to warm order books")
	}

	// Disbursal takes the same per-stock locks as matching.
	dividendEngine := dividends.NewEngine(db, dividendRepo, stocks, users, trail, dispatcher,
		engine.Locks(), log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatcher.Run(ctx)

	sched := scheduler.New(log)
	jobs := []struct {
		schedule string
		job      scheduler.Job
	}{
		{"0 * * * * *", scheduler.NewSessionSweepJob(db, engine, hoursSvc, log)},
		{"0 55 23 * * *", scheduler.NewClosingPricesJob(db, stocks, closingPrices, log)},
		{"0 */5 * * * *", scheduler.NewRecrossJob(engine, log)},
	}
	for _, j := range jobs {
		if err := sched.AddJob(j.schedule, j.job); err != nil {
			log.Fatal().Err(err).Str("job", j.job.Name()).Msg("Failed to register job")
		}
	}
	sched.Start()

	srv := server.New(server.Deps{
		Log:            log,
		DB:             db,
		Engine:         engine,
		DividendEngine: dividendEngine,
		Users:          users,
		Profit:         profit,
		Companies:      companies,
		Stocks:         stocks,
		ClosingPrices:  closingPrices,
		Portfolios:     portfolios,
		Orders:         orderRepo,
		Trades:         tradeRepo,
		Rules:          rules,
		Suspensions:    suspensions,
		Hours:          hoursRepo,
		HoursService:   hoursSvc,
		Dividends:      dividendRepo,
		Surveillance:   activityRepo,
		Trail:          trail,
		Notifications:  notifRepo,
		Hub:            hub,
	}, cfg.Port, cfg.DevMode)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	sched.Stop()

	// Stop the dispatcher and let it flush queued notifications.
	cancel()
	dispatcher.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Exchange server stopped")
}
