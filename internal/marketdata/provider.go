// Package marketdata abstracts option quote/chain providers behind a common
// interface with priority-ordered fallback and availability tracking.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eddiefleurent/wheel_watcher/internal/models"
)

// ErrRateLimited is returned when a provider rejects a call for rate limiting.
// The gateway treats it like any other provider failure: cool the provider
// down and fall through to the next one.
var ErrRateLimited = errors.New("provider rate limited")

// ErrNoProvider is returned when every registered provider is unavailable or
// failed for a call.
var ErrNoProvider = errors.New("no available provider")

// APIError represents a non-2xx response from a provider's HTTP API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// Quote is an underlying quote.
type Quote struct {
	Symbol string  `json:"symbol"`
	Last   float64 `json:"last"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Volume int64   `json:"volume"`
}

// OptionQuote is one row of an option chain.
type OptionQuote struct {
	Symbol       string            `json:"symbol"`
	Strike       float64           `json:"strike"`
	Expiration   time.Time         `json:"expiration"`
	Type         models.OptionType `json:"option_type"`
	Bid          float64           `json:"bid"`
	Ask          float64           `json:"ask"`
	Last         float64           `json:"last"`
	Volume       int64             `json:"volume"`
	OpenInterest int64             `json:"open_interest"`
	IV           float64           `json:"iv"`
	Delta        float64           `json:"delta"`
	ITM          bool              `json:"itm"`
}

// Usable reports whether the quote has a two-sided book suitable for pricing.
func (q *OptionQuote) Usable() bool {
	return q.Bid > 0 && q.Ask > 0 && q.Ask >= q.Bid
}

// Chain is the option chain for one symbol and expiration.
type Chain struct {
	Calls []OptionQuote `json:"calls"`
	Puts  []OptionQuote `json:"puts"`
}

// Side returns the chain rows for the given option type.
func (c *Chain) Side(t models.OptionType) []OptionQuote {
	if t == models.OptionTypePut {
		return c.Puts
	}
	return c.Calls
}

// ByStrike finds the chain row for a strike on one side, nil if absent.
func (c *Chain) ByStrike(t models.OptionType, strike float64) *OptionQuote {
	side := c.Side(t)
	for i := range side {
		if diff := side[i].Strike - strike; diff < 1e-4 && diff > -1e-4 {
			return &side[i]
		}
	}
	return nil
}

// Provider is a single quote/chain source. Implementations must be safe for
// concurrent use.
type Provider interface {
	Name() string
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
	GetExpirations(ctx context.Context, symbol string) ([]time.Time, error)
	GetChain(ctx context.Context, symbol string, expiration time.Time) (*Chain, error)
}
