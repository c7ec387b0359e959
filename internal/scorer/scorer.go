// Package scorer enumerates and scores roll alternatives for in-the-money
// option positions, selecting conservative, moderate and aggressive
// representatives.
package scorer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/eddiefleurent/wheel_watcher/internal/indicators"
	"github.com/eddiefleurent/wheel_watcher/internal/marketdata"
	"github.com/eddiefleurent/wheel_watcher/internal/models"
	"github.com/eddiefleurent/wheel_watcher/internal/util"
	"github.com/sirupsen/logrus"
)

// ErrNoCandidates is returned when no (expiration, strike) pair survives the
// debit ceiling at any scanned expiration. Callers must fall back to a
// non-roll action.
var ErrNoCandidates = errors.New("no admissible roll candidates")

// Score weights. The remaining tenth of the composite is the technical nudge
// applied to the aggressiveness component.
const (
	weightCost   = 0.40
	weightTime   = 0.20
	weightSafety = 0.30
	nudgeMax     = 0.10

	// callBandPct bounds call candidates at +15% of the underlying price.
	callBandPct = 0.15
	// putBaseBandPct is the baseline width of the put strike band below spot.
	putBaseBandPct = 0.10
	// deepITMPct is where put candidates are forced genuinely out of the money.
	deepITMPct = 0.10

	daysPerWeek = 7
	centEpsilon = 1e-9
)

// PriceProvider is the market data surface the scorer needs. The gateway
// satisfies it; tests substitute fixtures.
type PriceProvider interface {
	GetQuote(ctx context.Context, symbol string) (*marketdata.Quote, error)
	GetExpirations(ctx context.Context, symbol string) ([]time.Time, error)
	GetChain(ctx context.Context, symbol string, expiration time.Time) (*marketdata.Chain, error)
}

// Config tunes candidate enumeration.
type Config struct {
	// MaxWeeksOut bounds how far forward expirations are scanned.
	MaxWeeksOut int
	// MaxDebit is the fixed per-share debit ceiling. The effective ceiling is
	// the larger of this and half the position's intrinsic value, so deep ITM
	// positions still see candidates.
	MaxDebit float64
}

// DefaultConfig is used when fields are unset.
var DefaultConfig = Config{
	MaxWeeksOut: 4,
	MaxDebit:    0.50,
}

// Result holds the three selected representatives plus the full scored set.
type Result struct {
	Conservative *models.RollCandidate
	Moderate     *models.RollCandidate
	Aggressive   *models.RollCandidate
	All          []models.RollCandidate
}

// Scorer scores roll candidates for a position.
type Scorer struct {
	prices     PriceProvider
	indicators indicators.Reader
	cfg        Config
	logger     *logrus.Logger
	now        func() time.Time
}

// New creates a Scorer. The indicators reader may be nil, in which case the
// technical nudge is skipped.
func New(prices PriceProvider, ind indicators.Reader, cfg Config, logger *logrus.Logger) *Scorer {
	if cfg.MaxWeeksOut <= 0 {
		cfg.MaxWeeksOut = DefaultConfig.MaxWeeksOut
	}
	if cfg.MaxDebit <= 0 {
		cfg.MaxDebit = DefaultConfig.MaxDebit
	}
	return &Scorer{
		prices:     prices,
		indicators: ind,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// ScoreCandidates scans future weekly expirations, scores every admissible
// (expiration, strike) combination and selects the three representatives.
func (s *Scorer) ScoreCandidates(ctx context.Context, pos *models.Position) (*Result, error) {
	quote, err := s.prices.GetQuote(ctx, pos.Symbol)
	if err != nil {
		return nil, fmt.Errorf("quote for %s: %w", pos.Symbol, err)
	}
	spot := quote.Last
	if spot <= 0 {
		return nil, fmt.Errorf("no usable spot price for %s", pos.Symbol)
	}

	expirations, err := s.scanExpirations(ctx, pos)
	if err != nil {
		return nil, err
	}

	intrinsic := pos.IntrinsicValue(spot)
	ceiling := math.Max(s.cfg.MaxDebit, 0.5*intrinsic)
	buyBack, err := s.buyBackCost(ctx, pos, spot)
	if err != nil {
		return nil, err
	}

	var candidates []models.RollCandidate
	for _, exp := range expirations {
		chain, err := s.prices.GetChain(ctx, pos.Symbol, exp)
		if err != nil {
			s.logger.WithError(err).Warnf("skipping %s expiration %s",
				pos.Symbol, exp.Format("2006-01-02"))
			continue
		}
		candidates = append(candidates, s.enumerate(pos, chain, exp, spot, buyBack, ceiling)...)
	}

	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}

	s.scoreAll(ctx, pos.Symbol, candidates)
	return selectRepresentatives(candidates), nil
}

// scanExpirations returns listed expirations strictly after the position's
// current expiration, no further out than MaxWeeksOut weeks from today.
func (s *Scorer) scanExpirations(ctx context.Context, pos *models.Position) ([]time.Time, error) {
	all, err := s.prices.GetExpirations(ctx, pos.Symbol)
	if err != nil {
		return nil, fmt.Errorf("expirations for %s: %w", pos.Symbol, err)
	}
	horizon := s.now().UTC().AddDate(0, 0, s.cfg.MaxWeeksOut*daysPerWeek)
	cur := pos.Expiration.UTC().Truncate(24 * time.Hour)

	var out []time.Time
	for _, exp := range all {
		e := exp.UTC().Truncate(24 * time.Hour)
		if !e.After(cur) || e.After(horizon) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// buyBackCost prices closing the current position. A mid below intrinsic
// value is implausible quote data and is replaced by an intrinsic-plus-time-
// value estimate.
func (s *Scorer) buyBackCost(ctx context.Context, pos *models.Position, spot float64) (float64, error) {
	intrinsic := pos.IntrinsicValue(spot)
	dte := pos.CalculateDTE(s.now())

	chain, err := s.prices.GetChain(ctx, pos.Symbol, pos.Expiration)
	if err != nil {
		s.logger.WithError(err).Warnf("no current chain for %s, estimating buy-back", pos.Symbol)
		return intrinsic + estimateTimeValue(spot, dte), nil
	}
	row := chain.ByStrike(pos.Type, pos.Strike)
	if row == nil || !row.Usable() {
		return intrinsic + estimateTimeValue(spot, dte), nil
	}

	mid := util.Mid(row.Bid, row.Ask, row.Last)
	if mid < intrinsic {
		s.logger.Warnf("%s buy-back mid %.2f below intrinsic %.2f, substituting estimate",
			pos.Symbol, mid, intrinsic)
		return intrinsic + estimateTimeValue(spot, dte), nil
	}
	return mid, nil
}

// estimateTimeValue is a coarse stand-in for remaining extrinsic value when
// quotes are implausible or missing.
func estimateTimeValue(spot float64, dte int) float64 {
	if dte < 1 {
		dte = 1
	}
	return math.Max(0.05, spot*0.001*math.Sqrt(float64(dte)))
}

// enumerate emits admissible candidates for one expiration.
func (s *Scorer) enumerate(pos *models.Position, chain *marketdata.Chain, exp time.Time,
	spot, buyBack, ceiling float64) []models.RollCandidate {

	lo, hi := s.strikeBand(pos, spot)
	dte := int(exp.Sub(s.now().UTC().Truncate(24*time.Hour)).Hours() / 24)
	if dte < 1 {
		dte = 1
	}

	var out []models.RollCandidate
	for _, row := range chain.Side(pos.Type) {
		if row.Strike < lo || row.Strike > hi || !row.Usable() {
			continue
		}
		newPremium := util.Mid(row.Bid, row.Ask, row.Last)
		netCost := buyBack - newPremium
		// The ceiling bounds debits only; a credit is always admissible.
		if netCost > ceiling+centEpsilon {
			continue
		}

		c := models.RollCandidate{
			Expiration:  exp,
			Strike:      row.Strike,
			DTE:         dte,
			BuyBackCost: buyBack,
			NewPremium:  newPremium,
			NetCost:     netCost,
			Delta:       row.Delta,
			ProbOTM:     1 - math.Abs(row.Delta),
		}
		if netCost < 0 {
			c.AnnualizedReturn = (-netCost / row.Strike) * (365.0 / float64(dte))
		}
		out = append(out, c)
	}
	return out
}

// strikeBand returns the admissible strike range for the position's type.
// Calls scan from the current strike up to +15% of spot. Puts scan a band
// below spot that widens as the position goes deeper in the money; past 10%
// ITM the band tops out below spot so only genuinely OTM strikes qualify.
func (s *Scorer) strikeBand(pos *models.Position, spot float64) (lo, hi float64) {
	if pos.Type == models.OptionTypeCall {
		return pos.Strike, spot * (1 + callBandPct)
	}

	itm := pos.ITMPercent(spot)
	width := putBaseBandPct + itm
	lo = spot * (1 - width)
	hi = pos.Strike
	if hi > spot || itm > deepITMPct {
		hi = spot * 0.99
	}
	return lo, hi
}

// scoreAll computes the composite score across the candidate set:
// 0.40·cost + 0.20·time + 0.30·safety, each min-max normalized, plus a
// relative-strength nudge of up to ±10% of the aggressiveness component
// (bonus when overbought, penalty when oversold).
func (s *Scorer) scoreAll(ctx context.Context, symbol string, candidates []models.RollCandidate) {
	costRaw := make([]float64, len(candidates))
	timeRaw := make([]float64, len(candidates))
	safetyRaw := make([]float64, len(candidates))
	for i, c := range candidates {
		costRaw[i] = -c.NetCost           // credits score high
		timeRaw[i] = -float64(c.DTE)      // shorter rolls score high
		safetyRaw[i] = c.ProbOTM
	}

	costN := minMaxNormalize(costRaw)
	timeN := minMaxNormalize(timeRaw)
	safetyN := minMaxNormalize(safetyRaw)

	bias := s.technicalBias(ctx, symbol)
	for i := range candidates {
		aggressiveness := weightCost*costN[i] + weightTime*timeN[i]
		score := aggressiveness + weightSafety*safetyN[i]
		score += nudgeMax * aggressiveness * bias
		candidates[i].Score = score
	}
}

func (s *Scorer) technicalBias(ctx context.Context, symbol string) float64 {
	if s.indicators == nil {
		return 0
	}
	reading, err := s.indicators.Read(ctx, symbol)
	if err != nil {
		s.logger.WithError(err).Warnf("no technical reading for %s, skipping nudge", symbol)
		return 0
	}
	return reading.Bias()
}

// minMaxNormalize maps values onto [0,1]. A degenerate set (all equal) maps
// to a neutral 0.5 so no component dominates by accident.
func minMaxNormalize(vals []float64) []float64 {
	out := make([]float64, len(vals))
	if len(vals) == 0 {
		return out
	}
	lo, hi := vals[0], vals[0]
	for _, v := range vals[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi-lo < 1e-12 {
		for i := range out {
			out[i] = 0.5
		}
		return out
	}
	for i, v := range vals {
		out[i] = (v - lo) / (hi - lo)
	}
	return out
}

// selectRepresentatives picks conservative (max probability-OTM), aggressive
// (lexicographic min net cost then DTE), and moderate (best score among the
// rest, falling back to the best remaining when fewer than three distinct
// contracts exist).
func selectRepresentatives(candidates []models.RollCandidate) *Result {
	res := &Result{All: candidates}

	conservative := 0
	for i, c := range candidates {
		if c.ProbOTM > candidates[conservative].ProbOTM {
			conservative = i
		}
	}

	aggressive := 0
	for i, c := range candidates {
		best := candidates[aggressive]
		if c.NetCost < best.NetCost || (c.NetCost == best.NetCost && c.DTE < best.DTE) {
			aggressive = i
		}
	}

	moderate := -1
	for i, c := range candidates {
		if c.SameContract(&candidates[conservative]) || c.SameContract(&candidates[aggressive]) {
			continue
		}
		if moderate == -1 || c.Score > candidates[moderate].Score {
			moderate = i
		}
	}
	if moderate == -1 {
		// Fewer than three distinct contracts: reuse the highest scorer.
		moderate = 0
		for i, c := range candidates {
			if c.Score > candidates[moderate].Score {
				moderate = i
			}
		}
	}

	res.Conservative = categorize(candidates[conservative], models.CategoryConservative)
	res.Moderate = categorize(candidates[moderate], models.CategoryModerate)
	res.Aggressive = categorize(candidates[aggressive], models.CategoryAggressive)
	return res
}

func categorize(c models.RollCandidate, cat models.CandidateCategory) *models.RollCandidate {
	c.Category = cat
	return &c
}
