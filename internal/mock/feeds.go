package mock

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/eddiefleurent/wheel_watcher/internal/models"
	"github.com/eddiefleurent/wheel_watcher/internal/util"
)

// PositionFeed serves a mutable in-memory set of open positions.
type PositionFeed struct {
	mu        sync.RWMutex
	positions []models.Position
}

// NewPositionFeed creates a feed seeded with the given positions.
func NewPositionFeed(positions ...models.Position) *PositionFeed {
	return &PositionFeed{positions: positions}
}

// Positions returns a copy of the current open positions.
func (f *PositionFeed) Positions(_ context.Context) ([]models.Position, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]models.Position, len(f.positions))
	copy(out, f.positions)
	return out, nil
}

// SetPositions replaces the open position set, simulating fills and rolls
// between cycles.
func (f *PositionFeed) SetPositions(positions ...models.Position) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions = append(f.positions[:0], positions...)
}

// TradeFeed serves realized trades for reconciliation.
type TradeFeed struct {
	mu     sync.RWMutex
	trades []models.Trade
}

// NewTradeFeed creates a feed seeded with the given trades.
func NewTradeFeed(trades ...models.Trade) *TradeFeed {
	return &TradeFeed{trades: trades}
}

// TradesSince returns trades executed at or after since.
func (f *TradeFeed) TradesSince(_ context.Context, since time.Time) ([]models.Trade, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []models.Trade
	for _, tr := range f.trades {
		if !tr.ExecutedAt.Before(since) {
			out = append(out, tr)
		}
	}
	return out, nil
}

// Append adds trades to the feed.
func (f *TradeFeed) Append(trades ...models.Trade) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trades = append(f.trades, trades...)
}

// BarSource generates deterministic daily closes: a gentle sine wave around
// the symbol's base price, so indicator readings are stable but not flat.
type BarSource struct{}

// NewBarSource creates a mock BarSource.
func NewBarSource() *BarSource { return &BarSource{} }

// DailyCloses returns the n most recent synthetic closes, oldest first.
func (b *BarSource) DailyCloses(_ context.Context, symbol string, n int) ([]float64, error) {
	base := basePrice(symbol)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = base * (1 + 0.02*math.Sin(float64(i)/5))
	}
	return out, nil
}

// EarningsCalendar reports earnings weeks from a fixed symbol set.
type EarningsCalendar struct {
	symbols map[string]bool
}

// NewEarningsCalendar creates a calendar that flags the given symbols as
// having earnings every week.
func NewEarningsCalendar(symbols ...string) *EarningsCalendar {
	m := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		m[s] = true
	}
	return &EarningsCalendar{symbols: m}
}

// HasEarningsThisWeek reports whether the symbol is in the calendar.
func (c *EarningsCalendar) HasEarningsThisWeek(_ context.Context, symbol string, _ time.Time) (bool, error) {
	return c.symbols[symbol], nil
}

// DemoPositions builds a small short option book per account for paper mode:
// one covered call a little above spot and one cash-secured put a little
// below, on liquid index symbols.
func DemoPositions(accounts ...string) []models.Position {
	nextFriday := time.Now().UTC().Truncate(24 * time.Hour)
	for nextFriday.Weekday() != time.Friday {
		nextFriday = nextFriday.AddDate(0, 0, 1)
	}

	var out []models.Position
	for _, acct := range accounts {
		callSpot := basePrice("SPY")
		putSpot := basePrice("QQQ")
		out = append(out,
			models.Position{
				Symbol:          "SPY",
				Strike:          util.CeilToTick(callSpot*1.02, 5),
				Expiration:      nextFriday.AddDate(0, 0, 7),
				Type:            models.OptionTypeCall,
				Contracts:       1,
				Account:         acct,
				OriginalPremium: 2.10,
			},
			models.Position{
				Symbol:          "QQQ",
				Strike:          util.FloorToTick(putSpot*0.97, 5),
				Expiration:      nextFriday.AddDate(0, 0, 14),
				Type:            models.OptionTypePut,
				Contracts:       1,
				Account:         acct,
				OriginalPremium: 3.40,
			},
		)
	}
	return out
}
