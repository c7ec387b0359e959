package scorer

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/eddiefleurent/wheel_watcher/internal/marketdata"
	"github.com/eddiefleurent/wheel_watcher/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixtureProvider struct {
	quote       *marketdata.Quote
	expirations []time.Time
	chains      map[string]*marketdata.Chain
}

func (f *fixtureProvider) GetQuote(_ context.Context, _ string) (*marketdata.Quote, error) {
	return f.quote, nil
}

func (f *fixtureProvider) GetExpirations(_ context.Context, _ string) ([]time.Time, error) {
	return f.expirations, nil
}

func (f *fixtureProvider) GetChain(_ context.Context, _ string, exp time.Time) (*marketdata.Chain, error) {
	chain, ok := f.chains[exp.Format("2006-01-02")]
	if !ok {
		return &marketdata.Chain{}, nil
	}
	return chain, nil
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func callRow(strike, bid, ask, delta float64) marketdata.OptionQuote {
	return marketdata.OptionQuote{
		Strike: strike, Type: models.OptionTypeCall,
		Bid: bid, Ask: ask, Delta: delta,
	}
}

func putRow(strike, bid, ask, delta float64) marketdata.OptionQuote {
	return marketdata.OptionQuote{
		Strike: strike, Type: models.OptionTypePut,
		Bid: bid, Ask: ask, Delta: delta,
	}
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestScorer(f *fixtureProvider) *Scorer {
	s := New(f, nil, Config{MaxWeeksOut: 4, MaxDebit: 0.50}, testLogger())
	s.now = func() time.Time { return day("2026-06-01") }
	return s
}

// Call position: strike 100, spot 105, so intrinsic is 5.00 and the effective
// debit ceiling is max(0.50, 2.50) = 2.50. The current contract mids at 5.50,
// so a candidate premium of 3.00 lands exactly on the ceiling.
func itmCallFixture() (*fixtureProvider, *models.Position) {
	pos := &models.Position{
		Symbol:     "AAPL",
		Strike:     100,
		Expiration: day("2026-06-05"),
		Type:       models.OptionTypeCall,
		Contracts:  1,
		Account:    "ACC1",
	}
	f := &fixtureProvider{
		quote:       &marketdata.Quote{Symbol: "AAPL", Last: 105},
		expirations: []time.Time{day("2026-06-05"), day("2026-06-12"), day("2026-06-19")},
		chains: map[string]*marketdata.Chain{
			"2026-06-05": {Calls: []marketdata.OptionQuote{
				callRow(100, 5.40, 5.60, 0.80),
			}},
			"2026-06-12": {Calls: []marketdata.OptionQuote{
				callRow(105, 2.90, 3.10, 0.50), // net 2.50, exactly at ceiling
				callRow(110, 2.89, 3.09, 0.35), // net 2.51, one cent over
				callRow(112, 5.90, 6.10, 0.28), // net -0.50, credit
			}},
		},
	}
	return f, pos
}

func TestScoreCandidates_DebitCeilingBoundary(t *testing.T) {
	f, pos := itmCallFixture()
	s := newTestScorer(f)

	res, err := s.ScoreCandidates(context.Background(), pos)
	require.NoError(t, err)

	strikes := map[float64]bool{}
	for _, c := range res.All {
		strikes[c.Strike] = true
	}
	assert.True(t, strikes[105], "candidate at the ceiling should be accepted")
	assert.False(t, strikes[110], "candidate one cent over the ceiling should be rejected")
	assert.True(t, strikes[112], "credit candidate should always be accepted")
}

func TestScoreCandidates_CreditGetsAnnualizedReturn(t *testing.T) {
	f, pos := itmCallFixture()
	s := newTestScorer(f)

	res, err := s.ScoreCandidates(context.Background(), pos)
	require.NoError(t, err)

	for _, c := range res.All {
		if c.NetCost < 0 {
			assert.Greater(t, c.AnnualizedReturn, 0.0)
		} else {
			assert.Zero(t, c.AnnualizedReturn)
		}
		assert.InDelta(t, 1-absFloat(c.Delta), c.ProbOTM, 1e-9)
	}
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func TestScoreCandidates_RepresentativesDistinct(t *testing.T) {
	f, pos := itmCallFixture()
	// Second expiration adds more admissible contracts so at least three
	// distinct (strike, expiration) pairs exist.
	f.chains["2026-06-19"] = &marketdata.Chain{Calls: []marketdata.OptionQuote{
		callRow(106, 3.40, 3.60, 0.45), // net 2.00
		callRow(110, 3.90, 4.10, 0.30), // net 1.50
		callRow(115, 5.40, 5.60, 0.15), // net 0.00
	}}
	s := newTestScorer(f)

	res, err := s.ScoreCandidates(context.Background(), pos)
	require.NoError(t, err)
	require.NotNil(t, res.Conservative)
	require.NotNil(t, res.Moderate)
	require.NotNil(t, res.Aggressive)

	assert.False(t, res.Conservative.SameContract(res.Moderate))
	assert.False(t, res.Conservative.SameContract(res.Aggressive))
	assert.False(t, res.Moderate.SameContract(res.Aggressive))

	assert.Equal(t, models.CategoryConservative, res.Conservative.Category)
	assert.Equal(t, models.CategoryModerate, res.Moderate.Category)
	assert.Equal(t, models.CategoryAggressive, res.Aggressive.Category)

	// Conservative maximizes probability OTM; aggressive minimizes net cost.
	for _, c := range res.All {
		assert.LessOrEqual(t, c.ProbOTM, res.Conservative.ProbOTM)
		assert.GreaterOrEqual(t, c.NetCost, res.Aggressive.NetCost)
	}
}

func TestScoreCandidates_TwoContractsReuseForModerate(t *testing.T) {
	f, pos := itmCallFixture()
	// Leave only two admissible contracts from the base fixture.
	s := newTestScorer(f)

	res, err := s.ScoreCandidates(context.Background(), pos)
	require.NoError(t, err)
	require.Len(t, res.All, 2)
	assert.NotNil(t, res.Moderate)
	assert.Equal(t, models.CategoryModerate, res.Moderate.Category)
}

func TestScoreCandidates_NoCandidates(t *testing.T) {
	f, pos := itmCallFixture()
	f.chains["2026-06-12"] = &marketdata.Chain{Calls: []marketdata.OptionQuote{
		callRow(105, 1.90, 2.10, 0.50), // net 3.50, over ceiling
	}}
	s := newTestScorer(f)

	_, err := s.ScoreCandidates(context.Background(), pos)
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestScoreCandidates_DeepITMPutForcedOTM(t *testing.T) {
	// Put strike 100, spot 88: 13.6% ITM, so only strikes below spot qualify.
	pos := &models.Position{
		Symbol:     "XYZ",
		Strike:     100,
		Expiration: day("2026-06-05"),
		Type:       models.OptionTypePut,
		Contracts:  1,
		Account:    "ACC1",
	}
	f := &fixtureProvider{
		quote:       &marketdata.Quote{Symbol: "XYZ", Last: 88},
		expirations: []time.Time{day("2026-06-12")},
		chains: map[string]*marketdata.Chain{
			"2026-06-12": {Puts: []marketdata.OptionQuote{
				putRow(95, 12.00, 12.20, -0.85), // above forced-OTM top, excluded
				putRow(85, 11.50, 11.70, -0.40), // below spot, admissible
				putRow(60, 11.80, 12.00, -0.05), // below the band floor, excluded
			}},
		},
	}
	s := newTestScorer(f)

	res, err := s.ScoreCandidates(context.Background(), pos)
	require.NoError(t, err)
	require.Len(t, res.All, 1)
	assert.Equal(t, 85.0, res.All[0].Strike)
}

func TestScoreCandidates_SkipsPastAndFarExpirations(t *testing.T) {
	f, pos := itmCallFixture()
	f.expirations = append(f.expirations, day("2026-08-21")) // beyond 4 weeks
	s := newTestScorer(f)

	res, err := s.ScoreCandidates(context.Background(), pos)
	require.NoError(t, err)
	for _, c := range res.All {
		assert.True(t, c.Expiration.After(pos.Expiration))
		assert.False(t, c.Expiration.After(day("2026-06-29")))
	}
}

func TestScoreCandidates_ImplausibleBuyBackSubstituted(t *testing.T) {
	f, pos := itmCallFixture()
	// Current contract mid of 2.50 sits below the 5.00 intrinsic value.
	f.chains["2026-06-05"] = &marketdata.Chain{Calls: []marketdata.OptionQuote{
		callRow(100, 2.40, 2.60, 0.80),
	}}
	s := newTestScorer(f)

	res, err := s.ScoreCandidates(context.Background(), pos)
	require.NoError(t, err)
	for _, c := range res.All {
		assert.GreaterOrEqual(t, c.BuyBackCost, 5.0,
			"buy-back should be floored at intrinsic value")
	}
}
