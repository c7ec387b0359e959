// Package mock provides deterministic in-memory implementations of the
// market data, position, trade, bar and earnings surfaces for paper mode and
// tests. All data derives from symbol hashes so repeated runs see identical
// markets.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"time"

	"github.com/eddiefleurent/wheel_watcher/internal/marketdata"
	"github.com/eddiefleurent/wheel_watcher/internal/models"
)

// Provider is a deterministic market data source.
type Provider struct {
	now func() time.Time
}

// NewProvider creates a mock Provider.
func NewProvider() *Provider {
	return &Provider{now: time.Now}
}

// Name identifies the provider in gateway logs.
func (p *Provider) Name() string { return "mock" }

// basePrice maps a symbol onto a stable price in [50, 550).
func basePrice(symbol string) float64 {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return 50 + float64(h.Sum32()%5000)/10
}

// GetQuote returns a stable quote with a two cent spread.
func (p *Provider) GetQuote(_ context.Context, symbol string) (*marketdata.Quote, error) {
	last := basePrice(symbol)
	return &marketdata.Quote{
		Symbol: symbol,
		Last:   last,
		Bid:    last - 0.01,
		Ask:    last + 0.01,
		Volume: 1_000_000,
	}, nil
}

// GetExpirations lists the next eight Fridays.
func (p *Provider) GetExpirations(_ context.Context, _ string) ([]time.Time, error) {
	day := p.now().UTC().Truncate(24 * time.Hour)
	var out []time.Time
	for len(out) < 8 {
		day = day.AddDate(0, 0, 1)
		if day.Weekday() == time.Friday {
			out = append(out, day)
		}
	}
	return out, nil
}

// GetChain synthesizes a chain of strikes around spot with deltas decaying
// exponentially by distance and premiums from a coarse volatility model.
func (p *Provider) GetChain(_ context.Context, symbol string, expiration time.Time) (*marketdata.Chain, error) {
	spot := basePrice(symbol)
	dte := expiration.UTC().Sub(p.now().UTC()).Hours() / 24
	if dte < 1 {
		dte = 1
	}

	interval := strikeInterval(spot)
	start := math.Floor(spot/interval)*interval - 10*interval

	chain := &marketdata.Chain{}
	for i := 0; i <= 20; i++ {
		strike := start + float64(i)*interval
		if strike <= 0 {
			continue
		}
		distance := math.Abs(strike - spot)
		decay := math.Exp(-distance / (spot * 0.04))

		callDelta := 0.5 * decay
		if strike < spot {
			callDelta = 1 - 0.5*decay
		}
		putDelta := -0.5 * decay
		if strike > spot {
			putDelta = -(1 - 0.5*decay)
		}

		timeValue := math.Max(0.05, spot*0.002*math.Sqrt(dte)*decay)
		callPrice := math.Max(0, spot-strike) + timeValue
		putPrice := math.Max(0, strike-spot) + timeValue

		chain.Calls = append(chain.Calls, optionRow(symbol, strike, expiration,
			models.OptionTypeCall, callPrice, callDelta))
		chain.Puts = append(chain.Puts, optionRow(symbol, strike, expiration,
			models.OptionTypePut, putPrice, putDelta))
	}
	return chain, nil
}

func optionRow(symbol string, strike float64, exp time.Time, t models.OptionType,
	price, delta float64) marketdata.OptionQuote {

	return marketdata.OptionQuote{
		Symbol:       symbol,
		Strike:       strike,
		Expiration:   exp,
		Type:         t,
		Bid:          math.Max(0.01, price-0.05),
		Ask:          price + 0.05,
		Last:         price,
		Volume:       5_000,
		OpenInterest: 25_000,
		Delta:        delta,
	}
}

func strikeInterval(spot float64) float64 {
	switch {
	case spot < 100:
		return 1
	case spot < 250:
		return 2.5
	default:
		return 5
	}
}
