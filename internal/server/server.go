// Package server provides the HTTP server and routing for the exchange.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/esx-sim/esx/internal/database"
	"github.com/esx-sim/esx/internal/modules/audit"
	audithandlers "github.com/esx-sim/esx/internal/modules/audit/handlers"
	"github.com/esx-sim/esx/internal/modules/dividends"
	dividendhandlers "github.com/esx-sim/esx/internal/modules/dividends/handlers"
	"github.com/esx-sim/esx/internal/modules/ledger"
	ledgerhandlers "github.com/esx-sim/esx/internal/modules/ledger/handlers"
	"github.com/esx-sim/esx/internal/modules/market_hours"
	markethourshandlers "github.com/esx-sim/esx/internal/modules/market_hours/handlers"
	"github.com/esx-sim/esx/internal/modules/notifications"
	notificationhandlers "github.com/esx-sim/esx/internal/modules/notifications/handlers"
	"github.com/esx-sim/esx/internal/modules/orders"
	"github.com/esx-sim/esx/internal/modules/portfolio"
	portfoliohandlers "github.com/esx-sim/esx/internal/modules/portfolio/handlers"
	"github.com/esx-sim/esx/internal/modules/regulations"
	regulationhandlers "github.com/esx-sim/esx/internal/modules/regulations/handlers"
	"github.com/esx-sim/esx/internal/modules/surveillance"
	surveillancehandlers "github.com/esx-sim/esx/internal/modules/surveillance/handlers"
	"github.com/esx-sim/esx/internal/modules/trading"
	tradinghandlers "github.com/esx-sim/esx/internal/modules/trading/handlers"
	"github.com/esx-sim/esx/internal/modules/universe"
	universehandlers "github.com/esx-sim/esx/internal/modules/universe/handlers"
)

// Deps bundles everything the HTTP layer serves.
type Deps struct {
	Log zerolog.Logger
	DB  *database.DB

	Engine         *trading.Engine
	DividendEngine *dividends.Engine

	Users         *ledger.UserRepository
	Profit        *ledger.ProfitService
	Companies     *universe.CompanyRepository
	Stocks        *universe.StockRepository
	ClosingPrices *universe.ClosingPriceRepository
	Portfolios    *portfolio.Repository
	Orders        *orders.Repository
	Trades        *trading.TradeRepository
	Rules         *regulations.Repository
	Suspensions   *regulations.SuspensionRepository
	Hours         *market_hours.Repository
	HoursService  *market_hours.Service
	Dividends     *dividends.Repository
	Surveillance  *surveillance.Repository
	Trail         *audit.Repository
	Notifications *notifications.Repository
	Hub           *notifications.Hub
}

// Server is the exchange HTTP server.
type Server struct {
	router *chi.Mux
	server *http.Server
	deps   Deps
	log    zerolog.Logger
}

// New creates a new HTTP server.
func New(deps Deps, port int, devMode bool) *Server {
	s := &Server{
		router: chi.NewRouter(),
		deps:   deps,
		log:    deps.Log.With().Str("component", "server").Logger(),
	}

	s.setupMiddleware(devMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// setupMiddleware configures middleware.
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID", "X-User-Role"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes.
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	log := s.deps.Log
	db := s.deps.DB.Conn()

	notificationHandler := notificationhandlers.NewHandler(s.deps.Notifications, s.deps.Hub, log)
	// The websocket push channel lives outside the /api subtree.
	notificationHandler.RegisterWebsocket(s.router)

	s.router.Route("/api", func(r chi.Router) {
		// The request timeout stays off the websocket route above.
		r.Use(middleware.Timeout(60 * time.Second))

		universehandlers.NewHandler(db, s.deps.Companies, s.deps.Stocks, s.deps.ClosingPrices, log).RegisterRoutes(r)
		ledgerhandlers.NewHandler(db, s.deps.Users, s.deps.Profit, log).RegisterRoutes(r)
		portfoliohandlers.NewHandler(db, s.deps.Portfolios, log).RegisterRoutes(r)
		tradinghandlers.NewHandler(db, s.deps.Engine, s.deps.Orders, s.deps.Trades, log).RegisterRoutes(r)
		dividendhandlers.NewHandler(db, s.deps.DividendEngine, s.deps.Dividends, log).RegisterRoutes(r)
		regulationhandlers.NewHandler(db, s.deps.Rules, s.deps.Suspensions, log).RegisterRoutes(r)
		surveillancehandlers.NewHandler(db, s.deps.Surveillance, s.deps.Suspensions, log).RegisterRoutes(r)
		markethourshandlers.NewHandler(db, s.deps.Hours, s.deps.HoursService, log).RegisterRoutes(r)
		audithandlers.NewHandler(db, s.deps.Trail, log).RegisterRoutes(r)
		notificationHandler.RegisterRoutes(r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.DB.Conn().PingContext(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("Health check failed")
		http.Error(w, `{"status":"unhealthy"}`, http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// loggingMiddleware logs each request with method, path, status and
// duration.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request")
	})
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
