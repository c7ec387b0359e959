package reconcile

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/eddiefleurent/wheel_watcher/internal/models"
	"github.com/eddiefleurent/wheel_watcher/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	sourceExp = time.Date(2026, 9, 18, 0, 0, 0, 0, time.UTC)
	targetExp = time.Date(2026, 9, 25, 0, 0, 0, 0, time.UTC)
	evalTime  = time.Date(2026, 8, 28, 14, 0, 0, 0, time.UTC)
)

func testSetup(t *testing.T) (*Reconciler, *storage.SQLiteStore) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "advisor.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	r := New(store, Config{
		Window:          48 * time.Hour,
		StrikeTolerance: 0.05,
	}, logger)
	return r, store
}

func seedRollSnapshot(t *testing.T, store *storage.SQLiteStore, key models.RecommendationKey) {
	t.Helper()
	_, err := store.Evaluate(context.Background(), key, storage.EvaluationResult{
		CycleID:     "c1",
		EvaluatedAt: evalTime,
		Action:      models.NewRoll(models.ActionRollWeekly, 455, targetExp, -0.30),
		Priority:    models.PriorityMedium,
	})
	require.NoError(t, err)
}

func spyKey() models.RecommendationKey {
	return models.RecommendationKey{
		Symbol: "SPY", Strike: 450, Expiration: sourceExp,
		Type: models.OptionTypeCall, Account: "ACC1",
	}
}

func rollTrade(strike float64, exp time.Time) models.Trade {
	return models.Trade{
		ID: "T1", Account: "ACC1", Symbol: "SPY",
		Strike: strike, Expiration: exp, Type: models.OptionTypeCall,
		Side: models.SideSellToOpen, Quantity: 1, Premium: 1.20,
		ExecutedAt: evalTime.Add(2 * time.Hour),
	}
}

func TestReconcile_Consent(t *testing.T) {
	r, store := testSetup(t)
	key := spyKey()
	seedRollSnapshot(t, store, key)

	// Strike within tolerance, expiration exact.
	match, err := r.ReconcileTrade(context.Background(), rollTrade(455.05, targetExp))
	require.NoError(t, err)

	assert.Equal(t, models.MatchConsent, match.Type)
	require.NotNil(t, match.Key)
	assert.Equal(t, key.Encode(), match.Key.Encode())
	assert.Equal(t, 1, match.Seq)
	require.NotNil(t, match.Counterfactual)
	assert.Equal(t, -0.30, match.Counterfactual.SuggestedNet)
	assert.Equal(t, -1.20, match.Counterfactual.RealizedNet)
}

func TestReconcile_ModifyStrikeOneCentOverTolerance(t *testing.T) {
	r, store := testSetup(t)
	seedRollSnapshot(t, store, spyKey())

	match, err := r.ReconcileTrade(context.Background(), rollTrade(455.06, targetExp))
	require.NoError(t, err)

	assert.Equal(t, models.MatchModifyStrike, match.Type)
	assert.InDelta(t, 0.06, match.StrikeDelta, 1e-9)
}

func TestReconcile_ModifyExpiration(t *testing.T) {
	r, store := testSetup(t)
	seedRollSnapshot(t, store, spyKey())

	match, err := r.ReconcileTrade(context.Background(), rollTrade(455, targetExp.AddDate(0, 0, 7)))
	require.NoError(t, err)

	assert.Equal(t, models.MatchModifyExpiration, match.Type)
	assert.Equal(t, 7, match.ExpirationDeltaDays)
}

func TestReconcile_MultipleMismatchesAreModifyOther(t *testing.T) {
	r, store := testSetup(t)
	seedRollSnapshot(t, store, spyKey())

	match, err := r.ReconcileTrade(context.Background(), rollTrade(460, targetExp.AddDate(0, 0, 7)))
	require.NoError(t, err)

	assert.Equal(t, models.MatchModifyOther, match.Type)
	assert.InDelta(t, 5.0, match.StrikeDelta, 1e-9)
	assert.Equal(t, 7, match.ExpirationDeltaDays)
}

func TestReconcile_IndependentWhenNoCandidates(t *testing.T) {
	r, _ := testSetup(t)

	match, err := r.ReconcileTrade(context.Background(), rollTrade(455, targetExp))
	require.NoError(t, err)

	assert.Equal(t, models.MatchIndependent, match.Type)
	assert.Nil(t, match.Key)
}

func TestReconcile_IndependentOutsideWindow(t *testing.T) {
	r, store := testSetup(t)
	seedRollSnapshot(t, store, spyKey())

	trade := rollTrade(455, targetExp)
	trade.ExecutedAt = evalTime.Add(72 * time.Hour)
	match, err := r.ReconcileTrade(context.Background(), trade)
	require.NoError(t, err)

	assert.Equal(t, models.MatchIndependent, match.Type)
}

func TestReconcile_NoActionSnapshot(t *testing.T) {
	r, store := testSetup(t)
	key := spyKey()
	_, err := store.Evaluate(context.Background(), key, storage.EvaluationResult{
		CycleID:     "c1",
		EvaluatedAt: evalTime,
		Action:      models.NewHold(),
		Priority:    models.PriorityLow,
	})
	require.NoError(t, err)

	match, err := r.ReconcileTrade(context.Background(), rollTrade(455, targetExp))
	require.NoError(t, err)
	assert.Equal(t, models.MatchNoAction, match.Type)
}

func TestSweepRejected(t *testing.T) {
	r, store := testSetup(t)
	ctx := context.Background()

	expired := spyKey()
	seedRollSnapshot(t, store, expired)

	alive := spyKey()
	alive.Expiration = time.Date(2027, 1, 15, 0, 0, 0, 0, time.UTC)
	seedRollSnapshot(t, store, alive)

	swept, err := r.SweepRejected(ctx, time.Date(2026, 9, 21, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	rec, err := store.GetRecommendation(ctx, expired)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, rec.Status)

	matches, err := store.Matches(ctx, expired)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, models.MatchReject, matches[0].Type)
	assert.Empty(t, matches[0].TradeID)

	stillActive, err := store.GetRecommendation(ctx, alive)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, stillActive.Status)
}

type sliceTradeSource struct {
	trades []models.Trade
}

func (s *sliceTradeSource) TradesSince(_ context.Context, since time.Time) ([]models.Trade, error) {
	var out []models.Trade
	for _, tr := range s.trades {
		if !tr.ExecutedAt.Before(since) {
			out = append(out, tr)
		}
	}
	return out, nil
}

func TestRun_MatchesAndSweeps(t *testing.T) {
	r, store := testSetup(t)
	key := spyKey()
	seedRollSnapshot(t, store, key)

	src := &sliceTradeSource{trades: []models.Trade{rollTrade(455.00, targetExp)}}

	// One trade in range, then a sweep well past the source expiration.
	err := r.Run(context.Background(), src, evalTime.Add(-time.Hour), sourceExp.AddDate(0, 0, 2))
	require.NoError(t, err)

	matches, err := store.Matches(context.Background(), key)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, models.MatchConsent, matches[0].Type)

	rec, err := store.GetRecommendation(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, rec.Status)
}

func TestReconcile_RetiredRecommendationStillClaims(t *testing.T) {
	r, store := testSetup(t)
	key := spyKey()
	seedRollSnapshot(t, store, key)

	// The user rolled as advised; the next evaluation cycle already retired
	// the old key before reconciliation ran.
	require.NoError(t, store.TransitionStatus(context.Background(), key, models.StatusSuperseded))

	match, err := r.ReconcileTrade(context.Background(), rollTrade(455.00, targetExp))
	require.NoError(t, err)

	assert.Equal(t, models.MatchConsent, match.Type)
	require.NotNil(t, match.Key)
	assert.Equal(t, key.Encode(), match.Key.Encode())
}
