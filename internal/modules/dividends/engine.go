package dividends

import (
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/esx-sim/esx/internal/database"
	"github.com/esx-sim/esx/internal/domain"
	"github.com/esx-sim/esx/internal/modules/audit"
	"github.com/esx-sim/esx/internal/modules/ledger"
	"github.com/esx-sim/esx/internal/modules/notifications"
	"github.com/esx-sim/esx/internal/modules/universe"
)

const daysPerYear = 365

// Locker serializes against the matching engine: disbursal takes the
// same per-stock locks that Submit holds.
type Locker interface {
	Acquire(stockID int64) (func(), error)
}

// Engine computes and disburses dividends.
type Engine struct {
	db     *database.DB
	repo   *Repository
	stocks *universe.StockRepository
	users  *ledger.UserRepository
	trail  *audit.Repository
	sink   notifications.Sink
	locks  Locker
	log    zerolog.Logger
}

// NewEngine creates a new dividend engine.
func NewEngine(
	db *database.DB,
	repo *Repository,
	stocks *universe.StockRepository,
	users *ledger.UserRepository,
	trail *audit.Repository,
	sink notifications.Sink,
	locks Locker,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		db:     db,
		repo:   repo,
		stocks: stocks,
		users:  users,
		trail:  trail,
		sink:   sink,
		locks:  locks,
		log:    log.With().Str("component", "dividend_engine").Logger(),
	}
}

var budgetYearPattern = regexp.MustCompile(`^(\d{4})/(\d{2})$`)

// FiscalWindow parses "YYYY/YY" into the inclusive window
// [YYYY-07-01, YYYY+1-06-30].
func FiscalWindow(budgetYear string) (time.Time, time.Time, error) {
	m := budgetYearPattern.FindStringSubmatch(budgetYear)
	if m == nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: budget year must look like 2023/24, got %q",
			domain.ErrValidation, budgetYear)
	}

	year, err := strconv.Atoi(m[1])
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: invalid budget year %q", domain.ErrValidation, budgetYear)
	}
	if next, _ := strconv.Atoi(m[2]); next != (year+1)%100 {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: budget year %q does not span consecutive years",
			domain.ErrValidation, budgetYear)
	}

	start := time.Date(year, time.July, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(year+1, time.June, 30, 0, 0, 0, 0, time.UTC)
	return start, end, nil
}

// DisbursalReport summarizes one completed distribution.
type DisbursalReport struct {
	Dividend      *Dividend       `json:"dividend"`
	Ratio         decimal.Decimal `json:"ratio"`
	Distributions []Distribution  `json:"distributions"`
	TotalPaid     decimal.Decimal `json:"total_paid"`
}

// Declare creates a Pending dividend.
func (e *Engine) Declare(companyID int64, budgetYear string, totalAmount decimal.Decimal) (*Dividend, error) {
	if _, _, err := FiscalWindow(budgetYear); err != nil {
		return nil, err
	}
	if !totalAmount.IsPositive() {
		return nil, fmt.Errorf("%w: total amount must be positive", domain.ErrValidation)
	}

	stocks, err := e.stocks.ListByCompany(e.db.Conn(), companyID)
	if err != nil {
		return nil, err
	}
	if len(stocks) == 0 {
		return nil, fmt.Errorf("%w: company %d has no listings", domain.ErrUnknownInstrument, companyID)
	}

	d := &Dividend{CompanyID: companyID, BudgetYear: budgetYear, TotalAmount: totalAmount}
	if err := e.repo.Create(e.db.Conn(), d); err != nil {
		// One dividend per company and budget year.
		return nil, fmt.Errorf("%w: %v", domain.ErrConflict, err)
	}
	return d, nil
}

// Distribute computes the day-weighted FIFO values and credits every
// holder's profit balance. Idempotent: a Disbursed dividend rejects
// re-disbursal.
func (e *Engine) Distribute(dividendID int64) (*DisbursalReport, error) {
	dividend, err := e.repo.GetByID(e.db.Conn(), dividendID)
	if err != nil {
		return nil, err
	}
	if dividend == nil {
		return nil, fmt.Errorf("%w: dividend %d not found", domain.ErrValidation, dividendID)
	}
	if dividend.Status == StatusDisbursed {
		return nil, fmt.Errorf("%w: dividend %d", domain.ErrAlreadyDisbursed, dividendID)
	}

	stocks, err := e.stocks.ListByCompany(e.db.Conn(), dividend.CompanyID)
	if err != nil {
		return nil, err
	}
	if len(stocks) == 0 {
		return nil, fmt.Errorf("%w: company %d has no listings", domain.ErrUnknownInstrument, dividend.CompanyID)
	}

	// Same locks as matching, taken in ascending stock order.
	sort.Slice(stocks, func(i, j int) bool { return stocks[i].ID < stocks[j].ID })
	for _, s := range stocks {
		release, err := e.locks.Acquire(s.ID)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	windowStart, windowEnd, err := FiscalWindow(dividend.BudgetYear)
	if err != nil {
		return nil, err
	}

	var report DisbursalReport
	var notes []Distribution

	err = database.WithTransaction(e.db.Conn(), func(tx *sql.Tx) error {
		fresh, err := e.repo.GetByID(tx, dividendID)
		if err != nil {
			return err
		}
		if fresh.Status == StatusDisbursed {
			return fmt.Errorf("%w: dividend %d", domain.ErrAlreadyDisbursed, dividendID)
		}

		weights := make(map[int64]decimal.Decimal)
		var userOrder []int64
		for _, stock := range stocks {
			if err := e.accumulateWeights(tx, stock, windowStart, windowEnd, weights, &userOrder); err != nil {
				return err
			}
		}

		total := decimal.Zero
		for _, w := range weights {
			total = total.Add(w)
		}
		if total.IsZero() {
			return fmt.Errorf("%w: no holdings inside %s", domain.ErrNoEligibleHoldings, fresh.BudgetYear)
		}

		ratio := domain.Ratio8(fresh.TotalAmount, total)
		paid := decimal.Zero
		remaining := fresh.TotalAmount
		var distributions []Distribution
		for _, userID := range userOrder {
			w := weights[userID]
			if !w.IsPositive() {
				continue
			}
			// The paid sum never exceeds the declared total; any
			// rounding residue stays with the issuer.
			amount := domain.Round2(w.Mul(ratio))
			if amount.GreaterThan(remaining) {
				amount = remaining
			}
			if !amount.IsPositive() {
				continue
			}
			if err := e.users.AdjustProfit(tx, userID, amount); err != nil {
				return err
			}
			dist := Distribution{DividendID: dividendID, UserID: userID, Amount: amount}
			if err := e.repo.AddDistribution(tx, &dist); err != nil {
				return err
			}
			distributions = append(distributions, dist)
			paid = paid.Add(amount)
			remaining = remaining.Sub(amount)
		}

		if err := e.repo.MarkDisbursed(tx, dividendID, ratio); err != nil {
			return err
		}
		if err := e.trail.Append(tx, &audit.Entry{
			EventType: audit.EventDividendDisbursed,
			Details: map[string]interface{}{
				"dividend_id": dividendID,
				"company_id":  fresh.CompanyID,
				"budget_year": fresh.BudgetYear,
				"total":       fresh.TotalAmount.StringFixed(2),
				"ratio":       ratio.String(),
				"holders":     len(distributions),
				"paid":        paid.StringFixed(2),
			},
		}); err != nil {
			return err
		}

		fresh.Ratio = &ratio
		fresh.Status = StatusDisbursed
		report = DisbursalReport{
			Dividend:      fresh,
			Ratio:         ratio,
			Distributions: distributions,
			TotalPaid:     paid,
		}
		notes = distributions
		return nil
	})
	if err != nil {
		return nil, err
	}

	if e.sink != nil {
		for _, dist := range notes {
			e.sink.Notify(dist.UserID, notifications.KindDividendCredited,
				fmt.Sprintf("Dividend %s credited for %s", dist.Amount.StringFixed(2), dividend.BudgetYear))
		}
	}

	e.log.Info().
		Int64("dividend_id", dividendID).
		Str("budget_year", dividend.BudgetYear).
		Int("holders", len(report.Distributions)).
		Str("paid", report.TotalPaid.StringFixed(2)).
		Msg("Dividend disbursed")
	return &report, nil
}

// lotInterval is one FIFO lot with its holding interval. End is the
// sell date for closed lots, the window end for open ones.
type lotInterval struct {
	qty    int64
	bought time.Time
	end    time.Time
}

// accumulateWeights folds one stock's day-weighted lot values into the
// per-user weights. Only trades up to the window end participate.
func (e *Engine) accumulateWeights(q database.Querier, stock universe.Stock, windowStart, windowEnd time.Time, weights map[int64]decimal.Decimal, userOrder *[]int64) error {
	rows, err := q.Query(`
		SELECT buyer_id, seller_id, quantity, executed_at FROM trades
		WHERE stock_id = ? AND executed_at < ?
		ORDER BY executed_at ASC, id ASC
	`, stock.ID, windowEnd.AddDate(0, 0, 1).Unix())
	if err != nil {
		return fmt.Errorf("failed to read trade tape: %w", err)
	}
	defer rows.Close()

	type openLot struct {
		qty    int64
		bought time.Time
	}
	open := make(map[int64][]openLot)
	closed := make(map[int64][]lotInterval)
	var order []int64

	for rows.Next() {
		var buyerID, qty, executed int64
		var sellerID sql.NullInt64
		if err := rows.Scan(&buyerID, &sellerID, &qty, &executed); err != nil {
			return fmt.Errorf("failed to scan trade: %w", err)
		}
		at := time.Unix(executed, 0).UTC()

		if _, seen := open[buyerID]; !seen {
			order = append(order, buyerID)
		}
		open[buyerID] = append(open[buyerID], openLot{qty: qty, bought: at})

		if !sellerID.Valid {
			continue
		}
		seller := sellerID.Int64
		if _, seen := open[seller]; !seen {
			order = append(order, seller)
		}

		remaining := qty
		lots := open[seller]
		for remaining > 0 && len(lots) > 0 {
			consume := min(remaining, lots[0].qty)
			closed[seller] = append(closed[seller], lotInterval{qty: consume, bought: lots[0].bought, end: at})
			lots[0].qty -= consume
			remaining -= consume
			if lots[0].qty == 0 {
				lots = lots[1:]
			}
		}
		open[seller] = lots
		if remaining > 0 {
			return fmt.Errorf("trade tape oversells user %d on stock %s by %d", seller, stock.Symbol, remaining)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, userID := range order {
		intervals := closed[userID]
		for _, l := range open[userID] {
			intervals = append(intervals, lotInterval{qty: l.qty, bought: l.bought, end: windowEnd})
		}

		w := decimal.Zero
		for _, iv := range intervals {
			days := heldDays(iv.bought, iv.end, windowStart, windowEnd)
			if days == 0 {
				continue
			}
			weight := domain.Ratio8(decimal.NewFromInt(days), decimal.NewFromInt(daysPerYear))
			w = w.Add(weight.Mul(domain.Value(iv.qty, stock.CurrentPrice)))
		}
		if w.IsZero() {
			continue
		}

		if _, seen := weights[userID]; !seen {
			*userOrder = append(*userOrder, userID)
		}
		weights[userID] = weights[userID].Add(domain.Round2(w))
	}
	return nil
}

// heldDays counts the inclusive days the lot overlapped the window.
func heldDays(bought, end, windowStart, windowEnd time.Time) int64 {
	start := bought
	if windowStart.After(start) {
		start = windowStart
	}
	stop := end
	if windowEnd.Before(stop) {
		stop = windowEnd
	}

	start = start.Truncate(24 * time.Hour)
	stop = stop.Truncate(24 * time.Hour)
	if stop.Before(start) {
		return 0
	}
	return int64(stop.Sub(start).Hours()/24) + 1
}
