package trading

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/esx-sim/esx/internal/database"
	"github.com/esx-sim/esx/internal/domain"
	"github.com/esx-sim/esx/internal/modules/audit"
	"github.com/esx-sim/esx/internal/modules/ledger"
	"github.com/esx-sim/esx/internal/modules/market_hours"
	"github.com/esx-sim/esx/internal/modules/notifications"
	"github.com/esx-sim/esx/internal/modules/orders"
	"github.com/esx-sim/esx/internal/modules/portfolio"
	"github.com/esx-sim/esx/internal/modules/regulations"
	"github.com/esx-sim/esx/internal/modules/surveillance"
	"github.com/esx-sim/esx/internal/modules/universe"
)

// Engine is the matching and settlement core. One Submit call runs as a
// single database transaction under the stock's lock, so matching,
// balance moves and audit entries commit or roll back together.
type Engine struct {
	db              *database.DB
	feeRate         decimal.Decimal
	dividendMinDays int
	locks           *LockManager

	booksMu sync.Mutex
	books   map[int64]*orders.Book

	orders      *orders.Repository
	trades      *TradeRepository
	users       *ledger.UserRepository
	portfolios  *portfolio.Repository
	stocks      *universe.StockRepository
	rules       *regulations.Repository
	suspensions *regulations.SuspensionRepository
	hours       *market_hours.Service
	detector    *surveillance.Detector
	trail       *audit.Repository
	sink        notifications.Sink

	log zerolog.Logger
}

// Deps bundles the engine's collaborators.
type Deps struct {
	DB          *database.DB
	Orders      *orders.Repository
	Trades      *TradeRepository
	Users       *ledger.UserRepository
	Portfolios  *portfolio.Repository
	Stocks      *universe.StockRepository
	Rules       *regulations.Repository
	Suspensions *regulations.SuspensionRepository
	Hours       *market_hours.Service
	Detector    *surveillance.Detector
	Trail       *audit.Repository
	Sink        notifications.Sink
}

// NewEngine creates a new matching engine. dividendMinDays is the
// holding age at which the FIFO projection marks a user eligible.
func NewEngine(deps Deps, feeRate decimal.Decimal, lockDeadline time.Duration, dividendMinDays int, log zerolog.Logger) *Engine {
	return &Engine{
		db:              deps.DB,
		feeRate:         feeRate,
		dividendMinDays: dividendMinDays,
		locks:           NewLockManager(lockDeadline),
		books:           make(map[int64]*orders.Book),
		orders:          deps.Orders,
		trades:          deps.Trades,
		users:           deps.Users,
		portfolios:      deps.Portfolios,
		stocks:          deps.Stocks,
		rules:           deps.Rules,
		suspensions:     deps.Suspensions,
		hours:           deps.Hours,
		detector:        deps.Detector,
		trail:           deps.Trail,
		sink:            deps.Sink,
		log:             log.With().Str("component", "engine").Logger(),
	}
}

// SubmitRequest is one order submission.
type SubmitRequest struct {
	UserID     int64
	StockID    int64
	Kind       orders.Kind
	Side       orders.Side
	LimitPrice *decimal.Decimal
	Qty        int64
}

// SubmitResult reports the created order and the trades it produced.
type SubmitResult struct {
	Order  *orders.Order `json:"order"`
	Trades []Trade       `json:"trades"`
}

// pending notification, dispatched only after the transaction commits.
type note struct {
	userID  int64
	kind    string
	message string
}

// Locks exposes the per-stock lock manager so that other settlement
// paths (dividend disbursal) can serialize against matching.
func (e *Engine) Locks() *LockManager {
	return e.locks
}

// Book returns the stock's in-memory book, creating it on first use.
func (e *Engine) Book(stockID int64) *orders.Book {
	e.booksMu.Lock()
	defer e.booksMu.Unlock()
	b, ok := e.books[stockID]
	if !ok {
		b = orders.NewBook(stockID)
		e.books[stockID] = b
	}
	return b
}

// WarmBooks rebuilds every book from the resting limit orders in the
// database. Called once at startup before the server accepts traffic.
func (e *Engine) WarmBooks() error {
	resting, err := e.orders.ListResting(e.db.Conn())
	if err != nil {
		return fmt.Errorf("failed to load resting orders: %w", err)
	}

	for i := range resting {
		o := resting[i]
		e.Book(o.StockID).Insert(o.Side, &orders.RestingOrder{
			OrderID:   o.ID,
			UserID:    o.UserID,
			Price:     *o.LimitPrice,
			Remaining: o.QtyRemaining,
			Seq:       o.ID,
		})
	}

	e.log.Info().Int("resting_orders", len(resting)).Msg("Order books warmed")
	return nil
}

// reloadBook rebuilds one stock's book from the database. Used after a
// failed transaction, when the in-memory book may have drifted from the
// rolled back rows. Caller holds the stock's lock.
func (e *Engine) reloadBook(stockID int64) {
	book := e.Book(stockID)
	book.Clear()

	resting, err := e.orders.ListResting(e.db.Conn())
	if err != nil {
		e.log.Error().Err(err).Int64("stock_id", stockID).Msg("Failed to reload book")
		return
	}
	for i := range resting {
		o := resting[i]
		if o.StockID != stockID {
			continue
		}
		book.Insert(o.Side, &orders.RestingOrder{
			OrderID:   o.ID,
			UserID:    o.UserID,
			Price:     *o.LimitPrice,
			Remaining: o.QtyRemaining,
			Seq:       o.ID,
		})
	}
}

// Submit validates, matches and settles one order.
func (e *Engine) Submit(req SubmitRequest) (*SubmitResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	release, err := e.locks.Acquire(req.StockID)
	if err != nil {
		return nil, err
	}
	defer release()

	book := e.Book(req.StockID)
	var result SubmitResult
	var notes []note

	err = database.WithTransaction(e.db.Conn(), func(tx *sql.Tx) error {
		stock, user, err := e.loadParties(tx, req.StockID, req.UserID)
		if err != nil {
			return err
		}
		if err := e.intake(tx, stock, user, req, time.Now()); err != nil {
			return err
		}

		order := &orders.Order{
			UserID:       req.UserID,
			StockID:      req.StockID,
			Symbol:       stock.Symbol,
			Kind:         req.Kind,
			Side:         req.Side,
			LimitPrice:   req.LimitPrice,
			QtyOriginal:  req.Qty,
			QtyRemaining: req.Qty,
			Status:       orders.StatusPending,
		}
		if err := e.orders.Create(tx, order); err != nil {
			return err
		}
		if err := e.trail.Append(tx, &audit.Entry{
			EventType: audit.EventOrderCreated,
			OrderID:   &order.ID,
			Details: map[string]interface{}{
				"user_id": order.UserID,
				"symbol":  order.Symbol,
				"kind":    order.Kind,
				"side":    order.Side,
				"qty":     order.QtyOriginal,
			},
		}); err != nil {
			return err
		}

		trades, err := e.cross(tx, stock, order, book, &notes)
		if err != nil {
			return err
		}

		// Company fallback, buys only.
		if order.Side == orders.SideBuy && order.QtyRemaining > 0 && e.fallbackEligible(order, stock) {
			fill := min(order.QtyRemaining, stock.AvailableShares)
			if fill > 0 {
				t, err := e.settleInventory(tx, stock, order, fill, &notes)
				if err != nil {
					return err
				}
				trades = append(trades, *t)
			}
		}

		if err := e.settleResidual(tx, book, order); err != nil {
			return err
		}

		result = SubmitResult{Order: order, Trades: trades}
		return nil
	})
	if err != nil {
		e.reloadBook(req.StockID)
		return nil, err
	}

	e.dispatch(notes)
	return &result, nil
}

func validateRequest(req SubmitRequest) error {
	if req.Qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive", domain.ErrValidation)
	}
	if req.Side != orders.SideBuy && req.Side != orders.SideSell {
		return fmt.Errorf("%w: invalid side %q", domain.ErrValidation, req.Side)
	}
	switch req.Kind {
	case orders.KindLimit:
		if req.LimitPrice == nil || !req.LimitPrice.IsPositive() {
			return fmt.Errorf("%w: limit order requires a positive limit price", domain.ErrValidation)
		}
	case orders.KindMarket:
		if req.LimitPrice != nil {
			return fmt.Errorf("%w: market order cannot carry a limit price", domain.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: invalid kind %q", domain.ErrValidation, req.Kind)
	}
	return nil
}

func (e *Engine) loadParties(tx *sql.Tx, stockID, userID int64) (*universe.Stock, *ledger.User, error) {
	stock, err := e.stocks.GetByID(tx, stockID)
	if err != nil {
		return nil, nil, err
	}
	if stock == nil {
		return nil, nil, fmt.Errorf("%w: stock %d", domain.ErrUnknownInstrument, stockID)
	}
	user, err := e.users.GetByID(tx, userID)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, fmt.Errorf("%w: user %d", domain.ErrUnknownUser, userID)
	}
	return stock, user, nil
}

// intake runs the fail-fast checks. Any error aborts the submission
// with no side effects.
func (e *Engine) intake(tx *sql.Tx, stock *universe.Stock, user *ledger.User, req SubmitRequest, now time.Time) error {
	suspended, err := e.suspensions.IsSuspended(tx, user.ID, stock.ID)
	if err != nil {
		return err
	}
	if suspended {
		return fmt.Errorf("%w: user %d on stock %s", domain.ErrSuspended, user.ID, stock.Symbol)
	}

	within, err := e.hours.IsWithinWindow(tx, now)
	if err != nil {
		return err
	}
	if !within {
		return fmt.Errorf("%w", domain.ErrOutsideWindow)
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).Unix()
	dayEnd := dayStart + 24*60*60

	if limit, ok, err := e.rules.GetInt(tx, regulations.DailyTradeLimit); err != nil {
		return err
	} else if ok {
		count, err := e.orders.CountCreatedBetween(tx, user.ID, dayStart, dayEnd)
		if err != nil {
			return err
		}
		if count >= limit {
			return fmt.Errorf("%w: %d orders today, limit %d", domain.ErrDailyCountExceeded, count, limit)
		}
	}

	effective := stock.CurrentPrice
	if req.LimitPrice != nil {
		effective = *req.LimitPrice
	}

	if amountLimit, ok, err := e.rules.GetDecimal(tx, regulations.DailyTradeAmountLimit); err != nil {
		return err
	} else if ok {
		traded, err := e.trades.TradedAmountBetween(tx, user.ID, dayStart, dayEnd)
		if err != nil {
			return err
		}
		hypothetical := traded.Add(domain.Value(req.Qty, effective))
		if hypothetical.GreaterThan(amountLimit) {
			return fmt.Errorf("%w: %s today with this order, limit %s", domain.ErrDailyAmountExceeded,
				hypothetical.StringFixed(2), amountLimit.StringFixed(2))
		}
	}

	if req.Side == orders.SideBuy {
		required := domain.Value(req.Qty, effective)
		if user.CashBalance.LessThan(required) {
			return fmt.Errorf("%w: need %s, have %s", domain.ErrInsufficientCash,
				required.StringFixed(2), user.CashBalance.StringFixed(2))
		}
		return nil
	}

	long, err := e.trades.NetLong(tx, user.ID, stock.ID)
	if err != nil {
		return err
	}
	if long < req.Qty {
		return fmt.Errorf("%w: net long %d, selling %d", domain.ErrInsufficientShares, long, req.Qty)
	}
	return nil
}

// cross walks the opposite side of the book in price-time order. The
// resting side dictates the trade price.
func (e *Engine) cross(tx *sql.Tx, stock *universe.Stock, order *orders.Order, book *orders.Book, notes *[]note) ([]Trade, error) {
	opposite := orders.SideSell
	if order.Side == orders.SideSell {
		opposite = orders.SideBuy
	}

	var trades []Trade
	for order.QtyRemaining > 0 {
		best := book.Best(opposite)
		if best == nil {
			break
		}
		if order.Kind == orders.KindLimit {
			if order.Side == orders.SideBuy && best.Price.GreaterThan(*order.LimitPrice) {
				break
			}
			if order.Side == orders.SideSell && best.Price.LessThan(*order.LimitPrice) {
				break
			}
		}

		qty := min(order.QtyRemaining, best.Remaining)
		t, err := e.settleMatch(tx, stock, order, best, qty, best.Price, notes)
		if err != nil {
			return nil, err
		}
		trades = append(trades, *t)
		book.Reduce(opposite, qty)
	}
	return trades, nil
}

// fallbackEligible reports whether a residual buy may take company
// inventory: market orders always, limit orders only when they would
// accept the administered price.
func (e *Engine) fallbackEligible(order *orders.Order, stock *universe.Stock) bool {
	if order.Kind == orders.KindMarket {
		return true
	}
	return order.LimitPrice.GreaterThanOrEqual(stock.CurrentPrice)
}

// settleMatch settles one user-to-user match at the resting price.
func (e *Engine) settleMatch(tx *sql.Tx, stock *universe.Stock, taker *orders.Order, maker *orders.RestingOrder, qty int64, price decimal.Decimal, notes *[]note) (*Trade, error) {
	var buyOrderID, sellOrderID, buyerID, sellerID int64
	if taker.Side == orders.SideBuy {
		buyOrderID, buyerID = taker.ID, taker.UserID
		sellOrderID, sellerID = maker.OrderID, maker.UserID
	} else {
		buyOrderID, buyerID = maker.OrderID, maker.UserID
		sellOrderID, sellerID = taker.ID, taker.UserID
	}

	buyerFee := domain.Fee(qty, price, e.feeRate)
	sellerFee := domain.Fee(qty, price, e.feeRate)
	value := domain.Value(qty, price)

	trade := &Trade{
		StockID:     stock.ID,
		Symbol:      stock.Symbol,
		BuyOrderID:  buyOrderID,
		SellOrderID: &sellOrderID,
		BuyerID:     buyerID,
		SellerID:    &sellerID,
		Quantity:    qty,
		Price:       price,
		BuyerFee:    buyerFee,
		SellerFee:   &sellerFee,
	}
	if err := e.trades.Create(tx, trade); err != nil {
		return nil, err
	}

	if err := e.users.AdjustCash(tx, buyerID, value.Add(buyerFee).Neg()); err != nil {
		return nil, err
	}
	if err := e.portfolios.ApplyBuy(tx, buyerID, qty, price); err != nil {
		return nil, err
	}
	if err := e.users.AdjustCash(tx, sellerID, value.Sub(sellerFee)); err != nil {
		return nil, err
	}
	if err := e.portfolios.ApplySell(tx, sellerID, qty); err != nil {
		return nil, err
	}

	updated, err := e.orders.ApplyFill(tx, taker.ID, qty, buyerFeeFor(taker.Side, buyerFee, sellerFee))
	if err != nil {
		return nil, err
	}
	*taker = *updated
	if _, err := e.orders.ApplyFill(tx, maker.OrderID, qty, buyerFeeFor(oppositeOf(taker.Side), buyerFee, sellerFee)); err != nil {
		return nil, err
	}

	if err := e.auditTrade(tx, trade, taker.QtyRemaining); err != nil {
		return nil, err
	}
	e.detector.Evaluate(tx, surveillance.TradeEvent{
		TradeID:    trade.ID,
		StockID:    trade.StockID,
		BuyerID:    trade.BuyerID,
		SellerID:   trade.SellerID,
		Quantity:   trade.Quantity,
		Price:      trade.Price,
		ExecutedAt: trade.ExecutedAt,
	})

	*notes = append(*notes,
		note{buyerID, notifications.KindTradeExecuted,
			fmt.Sprintf("Bought %d %s @ %s", qty, stock.Symbol, price.StringFixed(2))},
		note{sellerID, notifications.KindTradeExecuted,
			fmt.Sprintf("Sold %d %s @ %s", qty, stock.Symbol, price.StringFixed(2))},
	)
	return trade, nil
}

// settleInventory settles a buy against company inventory at the
// administered price. No selling user, no seller fee.
func (e *Engine) settleInventory(tx *sql.Tx, stock *universe.Stock, order *orders.Order, qty int64, notes *[]note) (*Trade, error) {
	price := stock.CurrentPrice
	buyerFee := domain.Fee(qty, price, e.feeRate)
	value := domain.Value(qty, price)

	trade := &Trade{
		StockID:    stock.ID,
		Symbol:     stock.Symbol,
		BuyOrderID: order.ID,
		BuyerID:    order.UserID,
		Quantity:   qty,
		Price:      price,
		BuyerFee:   buyerFee,
	}
	if err := e.trades.Create(tx, trade); err != nil {
		return nil, err
	}

	if err := e.stocks.DecrementInventory(tx, stock.ID, qty); err != nil {
		return nil, err
	}
	stock.AvailableShares -= qty

	if err := e.users.AdjustCash(tx, order.UserID, value.Add(buyerFee).Neg()); err != nil {
		return nil, err
	}
	if err := e.portfolios.ApplyBuy(tx, order.UserID, qty, price); err != nil {
		return nil, err
	}

	updated, err := e.orders.ApplyFill(tx, order.ID, qty, buyerFee)
	if err != nil {
		return nil, err
	}
	*order = *updated

	if err := e.auditTrade(tx, trade, order.QtyRemaining); err != nil {
		return nil, err
	}
	e.detector.Evaluate(tx, surveillance.TradeEvent{
		TradeID:    trade.ID,
		StockID:    trade.StockID,
		BuyerID:    trade.BuyerID,
		Quantity:   trade.Quantity,
		Price:      trade.Price,
		ExecutedAt: trade.ExecutedAt,
	})

	*notes = append(*notes, note{order.UserID, notifications.KindTradeExecuted,
		fmt.Sprintf("Bought %d %s @ %s from inventory", qty, stock.Symbol, price.StringFixed(2))})
	return trade, nil
}

// settleResidual applies step 4 of the matching rules to whatever is
// left of the taker after crossing and fallback.
func (e *Engine) settleResidual(tx *sql.Tx, book *orders.Book, order *orders.Order) error {
	if order.QtyRemaining == 0 {
		return nil
	}

	if order.Kind == orders.KindLimit {
		// Limit residuals rest in the book at their limit price.
		book.Insert(order.Side, &orders.RestingOrder{
			OrderID:   order.ID,
			UserID:    order.UserID,
			Price:     *order.LimitPrice,
			Remaining: order.QtyRemaining,
			Seq:       order.ID,
		})
		return nil
	}

	if order.Side == orders.SideBuy {
		// Market buy residual dies immediately.
		order.Status = orders.StatusCancelled
		if err := e.orders.SetStatus(tx, order.ID, orders.StatusCancelled); err != nil {
			return err
		}
		return e.trail.Append(tx, &audit.Entry{
			EventType: audit.EventOrderStatusChanged,
			OrderID:   &order.ID,
			Details:   map[string]interface{}{"status": orders.StatusCancelled, "reason": "market-buy-residual"},
		})
	}

	// Market sell residual stays Pending, invisible to the book, until
	// the session sweeper cancels it.
	return nil
}

func (e *Engine) auditTrade(tx *sql.Tx, t *Trade, remaining int64) error {
	details := map[string]interface{}{
		"symbol":    t.Symbol,
		"buyer_id":  t.BuyerID,
		"qty":       t.Quantity,
		"price":     t.Price.StringFixed(2),
		"buyer_fee": t.BuyerFee.StringFixed(2),
		"remaining": remaining,
	}
	if t.SellerID != nil {
		details["seller_id"] = *t.SellerID
		details["seller_fee"] = t.SellerFee.StringFixed(2)
	} else {
		details["seller"] = "company-inventory"
	}
	return e.trail.Append(tx, &audit.Entry{
		EventType: audit.EventTradeExecuted,
		OrderID:   &t.BuyOrderID,
		TradeID:   &t.ID,
		Details:   details,
	})
}

func (e *Engine) dispatch(notes []note) {
	if e.sink == nil {
		return
	}
	for _, n := range notes {
		e.sink.Notify(n.userID, n.kind, n.message)
	}
}

func buyerFeeFor(side orders.Side, buyerFee, sellerFee decimal.Decimal) decimal.Decimal {
	if side == orders.SideBuy {
		return buyerFee
	}
	return sellerFee
}

func oppositeOf(side orders.Side) orders.Side {
	if side == orders.SideBuy {
		return orders.SideSell
	}
	return orders.SideBuy
}
