// Package evaluator turns one open position into a recommended action per
// cycle and orchestrates full evaluation cycles over the position feed.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eddiefleurent/wheel_watcher/internal/indicators"
	"github.com/eddiefleurent/wheel_watcher/internal/models"
	"github.com/eddiefleurent/wheel_watcher/internal/notify"
	"github.com/eddiefleurent/wheel_watcher/internal/scorer"
	"github.com/eddiefleurent/wheel_watcher/internal/storage"
	"github.com/eddiefleurent/wheel_watcher/internal/util"
	"github.com/sirupsen/logrus"
)

const (
	// deepITMPct separates a pull-back from a full ITM roll.
	deepITMPct = 0.10
	// highProfitPct makes an early close high urgency regardless of DTE.
	highProfitPct = 0.90
	// minDTEForMedium is the minimum days remaining for a threshold close.
	minDTEForMedium = 3
	// earningsCut lowers the profit threshold in an earnings week.
	earningsCut = 0.15
	// shortDTECut lowers the profit threshold when expiration is imminent.
	shortDTECut = 0.10
	// shortDTE is the days-to-expiration considered imminent.
	shortDTE = 2
	// minProfitThreshold floors the adjusted threshold.
	minProfitThreshold = 0.25
)

// PositionFeed supplies the open positions to evaluate each cycle.
type PositionFeed interface {
	Positions(ctx context.Context) ([]models.Position, error)
}

// EarningsCalendar reports whether a symbol has earnings in the week of the
// given time. Optional; a nil calendar disables earnings awareness.
type EarningsCalendar interface {
	HasEarningsThisWeek(ctx context.Context, symbol string, at time.Time) (bool, error)
}

// Notifier delivers an eligible snapshot under one cadence.
type Notifier interface {
	Dispatch(ctx context.Context, snap *models.Snapshot, cadence models.Cadence) (map[string]error, error)
}

// Config tunes evaluation.
type Config struct {
	Workers int
	// ProfitThreshold is the captured-profit fraction that makes an early
	// close medium urgency. Lowered for earnings weeks and imminent expiry.
	ProfitThreshold float64
	EarningsAware   bool
	// RollDTEThreshold is the DTE at or below which an OTM position gets a
	// weekly roll evaluation.
	RollDTEThreshold int
	// Cadences lists which notification cadences dispatch.
	Cadences []models.Cadence
}

// Outcome is one position's evaluation result for the current cycle.
type Outcome struct {
	Action   models.Action
	Priority models.Priority
	Market   models.MarketContext
}

// Evaluator produces recommendations for open positions.
type Evaluator struct {
	prices     scorer.PriceProvider
	scorer     *scorer.Scorer
	indicators indicators.Reader
	earnings   EarningsCalendar
	store      storage.Store
	policy     notify.Policy
	notifier   Notifier
	feed       PositionFeed
	cfg        Config
	logger     *logrus.Logger
	now        func() time.Time
}

// New wires an Evaluator. indicators and earnings may be nil.
func New(prices scorer.PriceProvider, sc *scorer.Scorer, ind indicators.Reader,
	earnings EarningsCalendar, store storage.Store, policy notify.Policy,
	notifier Notifier, feed PositionFeed, cfg Config, logger *logrus.Logger) *Evaluator {

	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.ProfitThreshold <= 0 {
		cfg.ProfitThreshold = 0.50
	}
	if len(cfg.Cadences) == 0 {
		cfg.Cadences = []models.Cadence{models.CadenceDeduplicated}
	}
	return &Evaluator{
		prices:     prices,
		scorer:     sc,
		indicators: ind,
		earnings:   earnings,
		store:      store,
		policy:     policy,
		notifier:   notifier,
		feed:       feed,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// EvaluatePosition produces the recommended action for one position. Checks
// run in order: early-profit capture, ITM roll, weekly roll, hold.
func (e *Evaluator) EvaluatePosition(ctx context.Context, pos *models.Position) (*Outcome, error) {
	quote, err := e.prices.GetQuote(ctx, pos.Symbol)
	if err != nil {
		return nil, fmt.Errorf("evaluating %s: %w", pos.Key(), err)
	}
	spot := quote.Last
	if spot <= 0 {
		return nil, fmt.Errorf("evaluating %s: no usable spot price", pos.Key())
	}

	profitPct, profitKnown := e.capturedProfit(ctx, pos, spot)
	market := models.MarketContext{
		UnderlyingPrice:   spot,
		ITMPercent:        pos.ITMPercent(spot),
		CapturedProfitPct: profitPct,
	}

	if profitKnown {
		if alert := e.checkProfit(ctx, pos, profitPct); alert != nil {
			return &Outcome{Action: alert.action, Priority: alert.priority, Market: market}, nil
		}
	}

	if pos.IsITM(spot) {
		out, err := e.evaluateITM(ctx, pos, market)
		if err != nil {
			return nil, err
		}
		return out, nil
	}

	if pos.CalculateDTE(e.now()) <= e.cfg.RollDTEThreshold {
		return e.evaluateWeeklyRoll(ctx, pos, market), nil
	}

	return &Outcome{Action: models.NewHold(), Priority: models.PriorityLow, Market: market}, nil
}

// capturedProfit computes the captured-profit fraction, preferring feed data
// over a fresh quote fetch to bound provider calls.
func (e *Evaluator) capturedProfit(ctx context.Context, pos *models.Position, spot float64) (float64, bool) {
	if pos.OriginalPremium <= 0 {
		return 0, false
	}
	if pos.PercentGainLoss != nil {
		return *pos.PercentGainLoss, true
	}
	if pos.CapturedPremium != nil {
		return (pos.OriginalPremium - *pos.CapturedPremium) / pos.OriginalPremium, true
	}

	chain, err := e.prices.GetChain(ctx, pos.Symbol, pos.Expiration)
	if err != nil {
		e.logger.WithError(err).Warnf("no chain for %s, profit unknown", pos.Key())
		return 0, false
	}
	row := chain.ByStrike(pos.Type, pos.Strike)
	if row == nil || !row.Usable() {
		return 0, false
	}
	current := util.Mid(row.Bid, row.Ask, row.Last)
	return (pos.OriginalPremium - current) / pos.OriginalPremium, true
}

type profitAlert struct {
	action   models.Action
	priority models.Priority
}

// checkProfit is the early-profit monitor. Returns nil when captured profit
// does not yet justify closing.
func (e *Evaluator) checkProfit(ctx context.Context, pos *models.Position, profitPct float64) *profitAlert {
	dte := pos.CalculateDTE(e.now())
	threshold := e.profitThreshold(ctx, pos.Symbol, dte)

	var priority models.Priority
	switch {
	case profitPct >= highProfitPct:
		priority = models.PriorityHigh
	case profitPct >= threshold && dte >= minDTEForMedium:
		priority = models.PriorityMedium
	default:
		return nil
	}

	// Buy-back estimate is the premium not yet captured.
	action := models.NewClose(util.RoundToTick((1-profitPct)*pos.OriginalPremium, 0.01))

	// Oversold underlying: close, but do not resell into weakness.
	if e.indicators != nil {
		if reading, err := e.indicators.Read(ctx, pos.Symbol); err == nil && reading.Oversold() {
			action = models.NewWait(fmt.Sprintf(
				"%.0f%% captured: close and wait, %s oversold (RSI %.0f)",
				profitPct*100, pos.Symbol, reading.RSI))
		}
	}

	return &profitAlert{action: action, priority: priority}
}

// profitThreshold adjusts the configured threshold for earnings weeks and
// imminent expiry, floored at minProfitThreshold.
func (e *Evaluator) profitThreshold(ctx context.Context, symbol string, dte int) float64 {
	threshold := e.cfg.ProfitThreshold
	if e.cfg.EarningsAware && e.earnings != nil {
		if hit, err := e.earnings.HasEarningsThisWeek(ctx, symbol, e.now()); err == nil && hit {
			threshold -= earningsCut
		}
	}
	if dte <= shortDTE {
		threshold -= shortDTECut
	}
	if threshold < minProfitThreshold {
		threshold = minProfitThreshold
	}
	return threshold
}

// evaluateITM delegates to the scorer. Deep ITM positions roll to the
// moderate candidate with urgency; shallow ones pull back to the conservative
// (safest) candidate. With no admissible candidates the position explicitly
// waits instead of silently holding.
func (e *Evaluator) evaluateITM(ctx context.Context, pos *models.Position, market models.MarketContext) (*Outcome, error) {
	res, err := e.scorer.ScoreCandidates(ctx, pos)
	if errors.Is(err, scorer.ErrNoCandidates) {
		priority := models.PriorityHigh
		if market.ITMPercent > deepITMPct {
			priority = models.PriorityUrgent
		}
		return &Outcome{
			Action:   models.NewWait(fmt.Sprintf("%s ITM %.1f%%, no roll within debit ceiling", pos.Symbol, market.ITMPercent*100)),
			Priority: priority,
			Market:   market,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scoring %s: %w", pos.Key(), err)
	}

	if market.ITMPercent > deepITMPct {
		c := res.Moderate
		return &Outcome{
			Action:   models.NewRoll(models.ActionRollITM, c.Strike, c.Expiration, c.NetCost),
			Priority: models.PriorityUrgent,
			Market:   market,
		}, nil
	}

	c := res.Conservative
	return &Outcome{
		Action:   models.NewRoll(models.ActionPullBack, c.Strike, c.Expiration, c.NetCost),
		Priority: models.PriorityHigh,
		Market:   market,
	}, nil
}

// evaluateWeeklyRoll proposes rolling an expiring OTM position out a week.
// Scoring failures degrade to HOLD; the position is re-attempted next cycle.
func (e *Evaluator) evaluateWeeklyRoll(ctx context.Context, pos *models.Position, market models.MarketContext) *Outcome {
	res, err := e.scorer.ScoreCandidates(ctx, pos)
	if err != nil {
		if !errors.Is(err, scorer.ErrNoCandidates) {
			e.logger.WithError(err).Warnf("weekly roll scoring failed for %s", pos.Key())
		}
		return &Outcome{Action: models.NewHold(), Priority: models.PriorityLow, Market: market}
	}

	c := res.Moderate
	return &Outcome{
		Action:   models.NewRoll(models.ActionRollWeekly, c.Strike, c.Expiration, c.NetCost),
		Priority: models.PriorityMedium,
		Market:   market,
	}
}
