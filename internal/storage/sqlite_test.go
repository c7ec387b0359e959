package storage

import (
	"context"
	"io"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/eddiefleurent/wheel_watcher/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "advisor.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testKey() models.RecommendationKey {
	return models.RecommendationKey{
		Symbol:     "SPY",
		Strike:     450,
		Expiration: time.Date(2026, 9, 18, 0, 0, 0, 0, time.UTC),
		Type:       models.OptionTypeCall,
		Account:    "ACC1",
	}
}

func evalResult(cycle string, at time.Time, action models.Action, prio models.Priority) EvaluationResult {
	return EvaluationResult{
		CycleID:     cycle,
		EvaluatedAt: at,
		Action:      action,
		Priority:    prio,
		Market:      models.MarketContext{UnderlyingPrice: 455, ITMPercent: 0.011},
	}
}

func TestEvaluate_FirstSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := testKey()
	at := time.Date(2026, 8, 28, 14, 0, 0, 0, time.UTC)

	snap, err := s.Evaluate(ctx, key, evalResult("c1", at, models.NewHold(), models.PriorityLow))
	require.NoError(t, err)

	assert.Equal(t, 1, snap.Seq)
	assert.False(t, snap.ActionChanged)
	assert.False(t, snap.TargetChanged)
	assert.False(t, snap.PriorityChanged)

	rec, err := s.GetRecommendation(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, rec.Status)
	assert.Equal(t, 1, rec.SnapshotCount)
	assert.Equal(t, key, rec.Key)
}

func TestEvaluate_SequenceAndFlags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := testKey()
	base := time.Date(2026, 8, 28, 14, 0, 0, 0, time.UTC)
	exp := time.Date(2026, 9, 25, 0, 0, 0, 0, time.UTC)

	_, err := s.Evaluate(ctx, key, evalResult("c1", base, models.NewHold(), models.PriorityLow))
	require.NoError(t, err)

	snap2, err := s.Evaluate(ctx, key,
		evalResult("c1", base.Add(time.Hour), models.NewRoll(models.ActionRollWeekly, 455, exp, -0.30), models.PriorityMedium))
	require.NoError(t, err)
	assert.Equal(t, 2, snap2.Seq)
	assert.True(t, snap2.ActionChanged)
	assert.True(t, snap2.TargetChanged)
	assert.True(t, snap2.PriorityChanged)

	// Identical outcome again: no flags.
	snap3, err := s.Evaluate(ctx, key,
		evalResult("c1", base.Add(2*time.Hour), models.NewRoll(models.ActionRollWeekly, 455, exp, -0.30), models.PriorityMedium))
	require.NoError(t, err)
	assert.Equal(t, 3, snap3.Seq)
	assert.False(t, snap3.ActionChanged)
	assert.False(t, snap3.TargetChanged)
	assert.False(t, snap3.PriorityChanged)

	snaps, err := s.Snapshots(ctx, key)
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	for i, snap := range snaps {
		assert.Equal(t, i+1, snap.Seq)
	}

	latest, err := s.LatestSnapshot(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 3, latest.Seq)
	assert.Equal(t, models.ActionRollWeekly, latest.Action.Kind)
	strike, ok := latest.Action.TargetStrike()
	require.True(t, ok)
	assert.Equal(t, 455.0, strike)
}

func TestEvaluate_StaleCycleDiscarded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := testKey()
	at := time.Now().UTC()

	s.BeginCycle("c1")
	_, err := s.Evaluate(ctx, key, evalResult("c1", at, models.NewHold(), models.PriorityLow))
	require.NoError(t, err)

	s.BeginCycle("c2")
	_, err = s.Evaluate(ctx, key, evalResult("c1", at.Add(time.Minute), models.NewHold(), models.PriorityLow))
	assert.ErrorIs(t, err, ErrStaleCycle)

	// Nothing was written for the stale cycle.
	latest, err := s.LatestSnapshot(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Seq)
}

func TestEvaluate_ConcurrentSameKeyStaysGapless(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := testKey()

	const n = 12
	var wg sync.WaitGroup
	seqs := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, err := s.Evaluate(ctx, key,
				evalResult("c1", time.Now().UTC(), models.NewHold(), models.PriorityLow))
			if assert.NoError(t, err) {
				seqs[i] = snap.Seq
			}
		}(i)
	}
	wg.Wait()

	sort.Ints(seqs)
	for i, seq := range seqs {
		assert.Equal(t, i+1, seq)
	}
}

func TestMarkNotified(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := testKey()
	at := time.Date(2026, 8, 28, 14, 0, 0, 0, time.UTC)

	_, err := s.Evaluate(ctx, key, evalResult("c1", at, models.NewClose(0.10), models.PriorityHigh))
	require.NoError(t, err)

	last, err := s.LastNotified(ctx, key, models.CadenceDeduplicated)
	require.NoError(t, err)
	assert.Nil(t, last)

	notifiedAt := at.Add(time.Minute)
	require.NoError(t, s.MarkNotified(ctx, key, 1, models.CadenceDeduplicated, notifiedAt))

	last, err = s.LastNotified(ctx, key, models.CadenceDeduplicated)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Equal(notifiedAt))

	// The continuous cadence is tracked independently.
	cont, err := s.LastNotified(ctx, key, models.CadenceContinuous)
	require.NoError(t, err)
	assert.Nil(t, cont)

	rec, err := s.GetRecommendation(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.NotificationCount)

	err = s.MarkNotified(ctx, key, 99, models.CadenceDeduplicated, notifiedAt)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransitionStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := testKey()

	_, err := s.Evaluate(ctx, key, evalResult("c1", time.Now().UTC(), models.NewHold(), models.PriorityLow))
	require.NoError(t, err)

	require.NoError(t, s.TransitionStatus(ctx, key, models.StatusResolved))

	rec, err := s.GetRecommendation(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, rec.Status)

	// Terminal states never move again.
	err = s.TransitionStatus(ctx, key, models.StatusExpired)
	assert.Error(t, err)
}

func TestInsertAndListMatches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := testKey()
	at := time.Date(2026, 8, 28, 15, 0, 0, 0, time.UTC)

	_, err := s.Evaluate(ctx, key, evalResult("c1", at, models.NewHold(), models.PriorityLow))
	require.NoError(t, err)

	consent := models.ExecutionMatch{
		TradeID:   "T1",
		Key:       ptrKey(key),
		Seq:       1,
		Type:      models.MatchConsent,
		MatchedAt: at,
		Counterfactual: &models.Counterfactual{
			SuggestedNet: -0.30,
			RealizedNet:  -0.25,
		},
	}
	require.NoError(t, s.InsertMatch(ctx, consent))

	// Independent matches carry no recommendation reference.
	require.NoError(t, s.InsertMatch(ctx, models.ExecutionMatch{
		TradeID:   "T2",
		Type:      models.MatchIndependent,
		MatchedAt: at.Add(time.Minute),
	}))

	matches, err := s.Matches(ctx, key)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, models.MatchConsent, matches[0].Type)
	assert.Equal(t, "T1", matches[0].TradeID)
	require.NotNil(t, matches[0].Counterfactual)
	assert.Equal(t, -0.30, matches[0].Counterfactual.SuggestedNet)

	// One match per trade is enforced.
	err = s.InsertMatch(ctx, consent)
	assert.Error(t, err)
}

func TestCandidateRecommendations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 28, 14, 0, 0, 0, time.UTC)

	spy := testKey()
	other := testKey()
	other.Symbol = "QQQ"

	_, err := s.Evaluate(ctx, spy, evalResult("c1", base, models.NewClose(0.10), models.PriorityHigh))
	require.NoError(t, err)
	_, err = s.Evaluate(ctx, other, evalResult("c1", base, models.NewClose(0.10), models.PriorityHigh))
	require.NoError(t, err)

	recs, err := s.CandidateRecommendations(ctx, "SPY", "ACC1", base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "SPY", recs[0].Key.Symbol)

	// Outside the window.
	recs, err = s.CandidateRecommendations(ctx, "SPY", "ACC1", base.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, recs)

	// Retired recommendations stay candidates inside the window: the trade
	// that retired them still needs to reconcile against them.
	require.NoError(t, s.TransitionStatus(ctx, spy, models.StatusSuperseded))
	recs, err = s.CandidateRecommendations(ctx, "SPY", "ACC1", base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, models.StatusSuperseded, recs[0].Status)
}

func ptrKey(k models.RecommendationKey) *models.RecommendationKey { return &k }
