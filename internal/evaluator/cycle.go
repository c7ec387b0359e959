package evaluator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eddiefleurent/wheel_watcher/internal/models"
	"github.com/eddiefleurent/wheel_watcher/internal/storage"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// CycleSummary reports what one evaluation cycle did.
type CycleSummary struct {
	CycleID   string
	Started   time.Time
	Duration  time.Duration
	Evaluated int
	Skipped   int
	Notified  int
	Retired   int
}

// RunCycle evaluates every open position in bounded parallel workers, writes
// snapshots, dispatches eligible notifications, and retires recommendations
// whose positions vanished from the feed. A position that cannot be evaluated
// is skipped with a logged reason and re-attempted next cycle.
func (e *Evaluator) RunCycle(ctx context.Context) (*CycleSummary, error) {
	cycleID := uuid.New().String()
	e.store.BeginCycle(cycleID)
	started := e.now()

	positions, err := e.feed.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("cycle %s: loading positions: %w", cycleID, err)
	}

	summary := &CycleSummary{CycleID: cycleID, Started: started}
	var mu sync.Mutex

	seen := make(map[string]models.RecommendationKey, len(positions))
	for i := range positions {
		key := positions[i].Key()
		seen[key.Encode()] = key
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i := range positions {
		pos := positions[i]
		g.Go(func() error {
			notified, err := e.evaluateAndRecord(gctx, &pos, cycleID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.logger.WithError(err).Warnf("skipping %s this cycle", pos.Key())
				summary.Skipped++
				return nil
			}
			summary.Evaluated++
			summary.Notified += notified
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}

	summary.Retired = e.retireVanished(ctx, seen)
	summary.Duration = e.now().Sub(started)

	e.logger.WithFields(logrus.Fields{
		"cycle":     cycleID,
		"evaluated": summary.Evaluated,
		"skipped":   summary.Skipped,
		"notified":  summary.Notified,
		"retired":   summary.Retired,
		"took":      summary.Duration,
	}).Info("evaluation cycle complete")
	return summary, nil
}

// evaluateAndRecord runs one position through evaluation, snapshotting and
// notification. Returns how many cadences were notified.
func (e *Evaluator) evaluateAndRecord(ctx context.Context, pos *models.Position, cycleID string) (int, error) {
	out, err := e.EvaluatePosition(ctx, pos)
	if err != nil {
		return 0, err
	}

	snap, err := e.store.Evaluate(ctx, pos.Key(), storage.EvaluationResult{
		CycleID:     cycleID,
		EvaluatedAt: e.now().UTC(),
		Action:      out.Action,
		Priority:    out.Priority,
		Market:      out.Market,
	})
	if errors.Is(err, storage.ErrStaleCycle) {
		// A newer cycle took over; drop this result.
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	notified := 0
	for _, cadence := range e.cfg.Cadences {
		prevNotified := e.lastNotifiedSnapshot(ctx, snap.Key, cadence, snap.Seq)
		if !e.policy.ShouldNotify(snap, prevNotified, cadence) {
			continue
		}
		if _, err := e.notifier.Dispatch(ctx, snap, cadence); err != nil {
			e.logger.WithError(err).Warnf("dispatch failed for %s#%d (%s)", snap.Key, snap.Seq, cadence)
			continue
		}
		notified++
	}
	return notified, nil
}

// lastNotifiedSnapshot finds the most recent snapshot before seq that was
// successfully notified under the cadence.
func (e *Evaluator) lastNotifiedSnapshot(ctx context.Context, key models.RecommendationKey, cadence models.Cadence, seq int) *models.Snapshot {
	snaps, err := e.store.Snapshots(ctx, key)
	if err != nil {
		e.logger.WithError(err).Warnf("loading snapshot history for %s", key)
		return nil
	}
	for i := len(snaps) - 1; i >= 0; i-- {
		if snaps[i].Seq >= seq {
			continue
		}
		if snaps[i].NotifiedAt(cadence) != nil {
			return &snaps[i]
		}
	}
	return nil
}

// retireVanished retires active recommendations whose position left the feed:
// superseded when a sibling key (same symbol, account and type, different
// contract) appeared, meaning a roll happened; stale otherwise. Expired
// contracts are left for the reconciler's sweep so the rejection is recorded
// alongside.
func (e *Evaluator) retireVanished(ctx context.Context, seen map[string]models.RecommendationKey) int {
	active, err := e.store.ListRecommendations(ctx, models.StatusActive)
	if err != nil {
		e.logger.WithError(err).Warn("listing active recommendations for retirement")
		return 0
	}

	retired := 0
	for _, rec := range active {
		if _, ok := seen[rec.Key.Encode()]; ok {
			continue
		}
		if rec.Key.Expiration.Before(e.now().UTC().Truncate(24 * time.Hour)) {
			continue
		}

		to := models.StatusStale
		if hasSiblingKey(seen, rec.Key) {
			to = models.StatusSuperseded
		}
		if err := e.store.TransitionStatus(ctx, rec.Key, to); err != nil {
			e.logger.WithError(err).Warnf("retiring %s as %s", rec.Key, to)
			continue
		}
		e.logger.Infof("recommendation %s retired: %s", rec.Key, to)
		retired++
	}
	return retired
}

func hasSiblingKey(seen map[string]models.RecommendationKey, key models.RecommendationKey) bool {
	for _, other := range seen {
		if other.Symbol == key.Symbol && other.Account == key.Account &&
			other.Type == key.Type && other.Encode() != key.Encode() {
			return true
		}
	}
	return false
}
