package surveillance

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"github.com/esx-sim/esx/internal/database"
)

// Thresholds configure the three detection rules.
type Thresholds struct {
	// VolumeRatio flags a trade larger than this fraction of the
	// instrument's circulating quantity.
	VolumeRatio decimal.Decimal
	// PriceDeviation flags a price further than this fraction from the
	// instrument's historical average.
	PriceDeviation decimal.Decimal
	// FreqThreshold and FreqWindow flag a participant with this many
	// trades of the instrument inside the window.
	FreqThreshold int64
	FreqWindow    time.Duration
}

// TradeEvent is the settled trade the detector evaluates. SellerID is
// nil when the company inventory was the counterparty.
type TradeEvent struct {
	TradeID    int64
	StockID    int64
	BuyerID    int64
	SellerID   *int64
	Quantity   int64
	Price      decimal.Decimal
	ExecutedAt time.Time
}

// Detector evaluates the three rules on each trade.
type Detector struct {
	repo       *Repository
	thresholds Thresholds
	log        zerolog.Logger
}

// NewDetector creates a new detector.
func NewDetector(repo *Repository, thresholds Thresholds, log zerolog.Logger) *Detector {
	return &Detector{
		repo:       repo,
		thresholds: thresholds,
		log:        log.With().Str("component", "surveillance").Logger(),
	}
}

// Evaluate runs the rules and records one SuspiciousActivity holding
// every triggered reason. Errors are logged and swallowed; surveillance
// never fails a settlement.
func (d *Detector) Evaluate(q database.Querier, ev TradeEvent) {
	var reasons []string

	if reason, err := d.checkVolume(q, ev); err != nil {
		d.log.Error().Err(err).Int64("trade_id", ev.TradeID).Msg("Volume rule failed")
	} else if reason != "" {
		reasons = append(reasons, reason)
	}

	if reason, err := d.checkPriceDeviation(q, ev); err != nil {
		d.log.Error().Err(err).Int64("trade_id", ev.TradeID).Msg("Price deviation rule failed")
	} else if reason != "" {
		reasons = append(reasons, reason)
	}

	if reason, err := d.checkFrequency(q, ev); err != nil {
		d.log.Error().Err(err).Int64("trade_id", ev.TradeID).Msg("Frequency rule failed")
	} else if reason != "" {
		reasons = append(reasons, reason)
	}

	if len(reasons) == 0 {
		return
	}

	activity := &SuspiciousActivity{
		TradeID: ev.TradeID,
		Reason:  strings.Join(reasons, "; "),
	}
	if err := d.repo.Create(q, activity); err != nil {
		d.log.Error().Err(err).Int64("trade_id", ev.TradeID).Msg("Failed to record suspicious activity")
		return
	}

	d.log.Warn().
		Int64("trade_id", ev.TradeID).
		Str("reason", activity.Reason).
		Msg("Trade flagged")
}

// checkVolume flags trades larger than VolumeRatio of the circulating
// quantity: company inventory plus everything ever traded.
func (d *Detector) checkVolume(q database.Querier, ev TradeEvent) (string, error) {
	var available, traded int64
	err := q.QueryRow(`SELECT available_shares FROM stocks WHERE id = ?`, ev.StockID).Scan(&available)
	if err != nil {
		return "", fmt.Errorf("failed to read available shares: %w", err)
	}
	err = q.QueryRow(`SELECT COALESCE(SUM(quantity), 0) FROM trades WHERE stock_id = ? AND id != ?`,
		ev.StockID, ev.TradeID).Scan(&traded)
	if err != nil {
		return "", fmt.Errorf("failed to sum traded quantity: %w", err)
	}

	circulating := decimal.NewFromInt(available + traded)
	threshold := d.thresholds.VolumeRatio.Mul(circulating)
	if decimal.NewFromInt(ev.Quantity).GreaterThan(threshold) {
		return fmt.Sprintf("unusual volume: qty %d exceeds %s of circulating %s",
			ev.Quantity, d.thresholds.VolumeRatio.String(), circulating.String()), nil
	}
	return "", nil
}

// checkPriceDeviation flags prices far from the instrument's all-time
// average trade price. The new trade is excluded from the average.
func (d *Detector) checkPriceDeviation(q database.Querier, ev TradeEvent) (string, error) {
	rows, err := q.Query(`SELECT price FROM trades WHERE stock_id = ? AND id != ?`, ev.StockID, ev.TradeID)
	if err != nil {
		return "", fmt.Errorf("failed to read trade prices: %w", err)
	}
	defer rows.Close()

	var prices []float64
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return "", fmt.Errorf("failed to scan trade price: %w", err)
		}
		p, err := decimal.NewFromString(raw)
		if err != nil {
			return "", fmt.Errorf("invalid stored trade price %q: %w", raw, err)
		}
		prices = append(prices, p.InexactFloat64())
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(prices) == 0 {
		return "", nil
	}

	mean := decimal.NewFromFloat(stat.Mean(prices, nil))
	if mean.IsZero() {
		return "", nil
	}

	deviation := ev.Price.Sub(mean).Abs()
	if deviation.GreaterThan(d.thresholds.PriceDeviation.Mul(mean)) {
		return fmt.Sprintf("price deviation: %s is more than %s away from average %s",
			ev.Price.StringFixed(2), d.thresholds.PriceDeviation.String(), mean.StringFixed(2)), nil
	}
	return "", nil
}

// checkFrequency flags a participant with FreqThreshold or more trades
// of the instrument inside the window, the new trade included.
func (d *Detector) checkFrequency(q database.Querier, ev TradeEvent) (string, error) {
	participants := []int64{ev.BuyerID}
	if ev.SellerID != nil {
		participants = append(participants, *ev.SellerID)
	}

	since := ev.ExecutedAt.Add(-d.thresholds.FreqWindow).Unix()
	for _, userID := range participants {
		var count int64
		err := q.QueryRow(`
			SELECT COUNT(*) FROM trades
			WHERE stock_id = ? AND executed_at >= ? AND (buyer_id = ? OR seller_id = ?)
		`, ev.StockID, since, userID, userID).Scan(&count)
		if err != nil {
			return "", fmt.Errorf("failed to count recent trades: %w", err)
		}
		if count >= d.thresholds.FreqThreshold {
			return fmt.Sprintf("frequency: user %d has %d trades of this instrument in the last %s",
				userID, count, d.thresholds.FreqWindow), nil
		}
	}
	return "", nil
}
