// Package reconcile links realized trades back to the recommendations that
// preceded them and classifies how closely the user followed the advice.
package reconcile

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/eddiefleurent/wheel_watcher/internal/models"
	"github.com/eddiefleurent/wheel_watcher/internal/storage"
	"github.com/sirupsen/logrus"
)

// Defaults for the matching parameters.
const (
	DefaultWindow           = 48 * time.Hour
	DefaultStrikeTolerance  = 0.05
	DefaultPremiumTolerance = 0.10
)

// Config tunes trade-to-recommendation matching.
type Config struct {
	// Window is the trailing period before a trade in which a snapshot is
	// considered a plausible cause.
	Window time.Duration
	// StrikeTolerance is the max strike difference still counted as agreement.
	StrikeTolerance float64
	// PremiumTolerance is the max premium difference still counted as
	// agreement.
	PremiumTolerance float64
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.StrikeTolerance <= 0 {
		c.StrikeTolerance = DefaultStrikeTolerance
	}
	if c.PremiumTolerance <= 0 {
		c.PremiumTolerance = DefaultPremiumTolerance
	}
	return c
}

// Reconciler matches realized trades to stored snapshots. Every trade
// produces exactly one ExecutionMatch row; independent is the floor
// classification, never a dropped trade.
type Reconciler struct {
	store  storage.Store
	cfg    Config
	logger *logrus.Logger
}

// New builds a Reconciler over the store.
func New(store storage.Store, cfg Config, logger *logrus.Logger) *Reconciler {
	return &Reconciler{store: store, cfg: cfg.withDefaults(), logger: logger}
}

// ReconcileTrade classifies one realized trade against candidate
// recommendations sharing its symbol and account, persists the match and
// returns it.
func (r *Reconciler) ReconcileTrade(ctx context.Context, trade models.Trade) (*models.ExecutionMatch, error) {
	match := r.classify(ctx, trade)
	if err := r.store.InsertMatch(ctx, *match); err != nil {
		return nil, fmt.Errorf("reconcile trade %s: %w", trade.ID, err)
	}
	r.logger.WithFields(logrus.Fields{
		"trade": trade.ID,
		"type":  match.Type,
	}).Info("trade reconciled")
	return match, nil
}

func (r *Reconciler) classify(ctx context.Context, trade models.Trade) *models.ExecutionMatch {
	match := &models.ExecutionMatch{
		TradeID:   trade.ID,
		Type:      models.MatchIndependent,
		MatchedAt: trade.ExecutedAt,
	}

	snap := r.nearestSnapshot(ctx, trade)
	if snap == nil {
		return match
	}
	match.Key = &snap.Key
	match.Seq = snap.Seq

	if snap.Action.Kind.Passive() {
		match.Type = models.MatchNoAction
		return match
	}

	strikeDelta, strikeAgrees := r.strikeDiff(snap.Action, trade)
	expDelta, expAgrees := expirationDiff(snap.Action, trade)
	premDelta, premAgrees := r.premiumDiff(snap.Action, trade)

	mismatches := 0
	for _, ok := range []bool{strikeAgrees, expAgrees, premAgrees} {
		if !ok {
			mismatches++
		}
	}

	switch {
	case mismatches == 0:
		match.Type = models.MatchConsent
	case mismatches == 1 && !strikeAgrees:
		match.Type = models.MatchModifyStrike
		match.StrikeDelta = strikeDelta
	case mismatches == 1 && !expAgrees:
		match.Type = models.MatchModifyExpiration
		match.ExpirationDeltaDays = expDelta
	default:
		// Premium-only divergence or multiple parameters at once.
		match.Type = models.MatchModifyOther
		match.StrikeDelta = strikeDelta
		match.ExpirationDeltaDays = expDelta
		match.PremiumDelta = premDelta
	}

	match.Counterfactual = counterfactual(snap.Action, trade)
	return match
}

// nearestSnapshot finds the snapshot closest in time to the trade among
// candidate recommendations evaluated within the trailing window.
func (r *Reconciler) nearestSnapshot(ctx context.Context, trade models.Trade) *models.Snapshot {
	since := trade.ExecutedAt.Add(-r.cfg.Window)
	candidates, err := r.store.CandidateRecommendations(ctx, trade.Symbol, trade.Account, since)
	if err != nil {
		r.logger.WithError(err).Warnf("loading candidates for trade %s", trade.ID)
		return nil
	}

	var best *models.Snapshot
	var bestDist time.Duration
	for _, rec := range candidates {
		snaps, err := r.store.Snapshots(ctx, rec.Key)
		if err != nil {
			r.logger.WithError(err).Warnf("loading snapshots for %s", rec.Key)
			continue
		}
		for i := range snaps {
			snap := &snaps[i]
			if snap.EvaluatedAt.Before(since) || snap.EvaluatedAt.After(trade.ExecutedAt) {
				continue
			}
			dist := trade.ExecutedAt.Sub(snap.EvaluatedAt)
			if best == nil || dist < bestDist {
				best, bestDist = snap, dist
			}
		}
	}
	return best
}

// strikeDiff returns realized-minus-recommended strike and whether it is
// within tolerance. An action with no strike target trivially agrees.
func (r *Reconciler) strikeDiff(action models.Action, trade models.Trade) (float64, bool) {
	target, ok := action.TargetStrike()
	if !ok {
		return 0, true
	}
	delta := trade.Strike - target
	return delta, math.Abs(delta) <= r.cfg.StrikeTolerance
}

// expirationDiff returns realized-minus-recommended expiration in days and
// whether they fall on the same day. Expiration agreement is exact.
func expirationDiff(action models.Action, trade models.Trade) (int, bool) {
	target, ok := action.TargetExpiration()
	if !ok {
		return 0, true
	}
	tu := trade.Expiration.UTC().Truncate(24 * time.Hour)
	ru := target.UTC().Truncate(24 * time.Hour)
	days := int(tu.Sub(ru).Hours() / 24)
	return days, days == 0
}

func (r *Reconciler) premiumDiff(action models.Action, trade models.Trade) (float64, bool) {
	target, ok := action.TargetPremium()
	if !ok {
		return 0, true
	}
	delta := trade.Premium - target
	return delta, math.Abs(delta) <= r.cfg.PremiumTolerance
}

// counterfactual projects the suggested per-share net against the realized
// one. Positive is a debit. A sell collects premium (credit); a buy pays it.
func counterfactual(action models.Action, trade models.Trade) *models.Counterfactual {
	suggested, ok := action.NetCost()
	if !ok {
		if prem, has := action.TargetPremium(); has {
			suggested, ok = -prem, true
		}
	}
	if !ok {
		return nil
	}

	realized := trade.Premium
	if trade.Side == models.SideSellToOpen {
		realized = -trade.Premium
	}
	return &models.Counterfactual{SuggestedNet: suggested, RealizedNet: realized}
}

// SweepRejected records reject matches for active recommendations whose
// option expired with no corresponding trade, and retires them. Returns how
// many were swept.
func (r *Reconciler) SweepRejected(ctx context.Context, now time.Time) (int, error) {
	active, err := r.store.ListRecommendations(ctx, models.StatusActive)
	if err != nil {
		return 0, fmt.Errorf("reconcile sweep: %w", err)
	}

	swept := 0
	for _, rec := range active {
		if !rec.Key.Expiration.Before(now.UTC().Truncate(24 * time.Hour)) {
			continue
		}

		latest, err := r.store.LatestSnapshot(ctx, rec.Key)
		if err != nil {
			r.logger.WithError(err).Warnf("sweep: no latest snapshot for %s", rec.Key)
			continue
		}
		if !latest.Action.Kind.Passive() && !r.answered(ctx, rec.Key) {
			// The advice went unanswered: record the rejection.
			if err := r.store.InsertMatch(ctx, models.ExecutionMatch{
				Key:       &rec.Key,
				Seq:       latest.Seq,
				Type:      models.MatchReject,
				MatchedAt: now,
			}); err != nil {
				r.logger.WithError(err).Warnf("sweep: recording reject for %s", rec.Key)
				continue
			}
		}
		if err := r.store.TransitionStatus(ctx, rec.Key, models.StatusExpired); err != nil {
			r.logger.WithError(err).Warnf("sweep: expiring %s", rec.Key)
			continue
		}
		swept++
	}
	return swept, nil
}

// answered reports whether any realized trade already matched the key, in
// which case expiration is not a rejection.
func (r *Reconciler) answered(ctx context.Context, key models.RecommendationKey) bool {
	matches, err := r.store.Matches(ctx, key)
	if err != nil {
		return false
	}
	for _, m := range matches {
		if m.Type != models.MatchReject {
			return true
		}
	}
	return false
}

// TradeSource supplies realized trades for reconciliation.
type TradeSource interface {
	TradesSince(ctx context.Context, since time.Time) ([]models.Trade, error)
}

// Run is one scheduled reconciliation pass: pull trades executed since the
// last pass, classify each, then sweep expired recommendations. Per-trade
// failures are logged and do not stop the pass.
func (r *Reconciler) Run(ctx context.Context, src TradeSource, since, now time.Time) error {
	trades, err := src.TradesSince(ctx, since)
	if err != nil {
		return fmt.Errorf("reconcile run: loading trades: %w", err)
	}

	matched := 0
	for _, trade := range trades {
		if _, err := r.ReconcileTrade(ctx, trade); err != nil {
			r.logger.WithError(err).Warnf("reconciling trade %s", trade.ID)
			continue
		}
		matched++
	}

	swept, err := r.SweepRejected(ctx, now)
	if err != nil {
		return err
	}

	r.logger.WithFields(logrus.Fields{
		"trades":  len(trades),
		"matched": matched,
		"swept":   swept,
	}).Info("reconciliation pass complete")
	return nil
}
