// Package indicators computes relative-strength and banding readings for an
// underlying from daily closing prices.
package indicators

import (
	"context"
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"
)

const (
	rsiLength      = 14
	bandLength     = 20
	bandStdDev     = 2.0
	minBarsNeeded  = bandLength + 1
	rsiOverbought  = 70.0
	rsiOversold    = 30.0
)

// BarSource supplies historical daily closes for a symbol, most recent last.
type BarSource interface {
	DailyCloses(ctx context.Context, symbol string, n int) ([]float64, error)
}

// Reading is one technical snapshot for a symbol.
type Reading struct {
	RSI float64 `json:"rsi"`
	// PercentB is the Bollinger %B position: 0 at the lower band, 1 at the
	// upper band.
	PercentB float64 `json:"percent_b"`
}

// Overbought reports an extended reading on the upside.
func (r *Reading) Overbought() bool { return r.RSI >= rsiOverbought }

// Oversold reports an extended reading on the downside.
func (r *Reading) Oversold() bool { return r.RSI <= rsiOversold }

// Bias maps the relative-strength reading onto [-1, 1]: positive when
// stretched to the upside, negative to the downside, graded in between.
func (r *Reading) Bias() float64 {
	b := (r.RSI - 50.0) / 20.0
	return math.Max(-1, math.Min(1, b))
}

// Reader computes indicator readings per symbol.
type Reader interface {
	Read(ctx context.Context, symbol string) (*Reading, error)
}

// TalibReader implements Reader with go-talib over a BarSource.
type TalibReader struct {
	bars BarSource
}

// NewTalibReader creates a Reader backed by talib calculations.
func NewTalibReader(bars BarSource) *TalibReader {
	return &TalibReader{bars: bars}
}

// Read implements Reader.
func (t *TalibReader) Read(ctx context.Context, symbol string) (*Reading, error) {
	closes, err := t.bars.DailyCloses(ctx, symbol, bandLength*3)
	if err != nil {
		return nil, fmt.Errorf("fetching closes for %s: %w", symbol, err)
	}
	if len(closes) < minBarsNeeded {
		return nil, fmt.Errorf("insufficient history for %s: have %d bars, need %d",
			symbol, len(closes), minBarsNeeded)
	}

	rsi := talib.Rsi(closes, rsiLength)
	last := rsi[len(rsi)-1]
	if math.IsNaN(last) {
		return nil, fmt.Errorf("RSI undefined for %s", symbol)
	}

	upper, _, lower := talib.BBands(closes, bandLength, bandStdDev, bandStdDev, talib.SMA)
	u, l := upper[len(upper)-1], lower[len(lower)-1]
	lastClose := closes[len(closes)-1]

	pctB := 0.5
	if width := u - l; width > 0 {
		pctB = (lastClose - l) / width
	}

	return &Reading{RSI: last, PercentB: pctB}, nil
}
