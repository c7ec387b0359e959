// Package models provides the domain types for tracked option positions,
// recommendations, snapshots, and execution matches.
package models

import (
	"math"
	"time"
)

const sharesPerContract = 100.0

// OptionType represents the type of option contract.
type OptionType string

const (
	// OptionTypeCall represents a call option contract
	OptionTypeCall OptionType = "call"
	// OptionTypePut represents a put option contract
	OptionTypePut OptionType = "put"
)

// Valid returns true if the OptionType is one of the defined constants.
func (t OptionType) Valid() bool {
	return t == OptionTypeCall || t == OptionTypePut
}

// Position is one open short option position from the position feed.
// OriginalPremium is the per-share premium collected at open. CapturedPremium,
// when non-nil, is a previously recorded current premium that lets evaluation
// skip a fresh quote fetch.
type Position struct {
	Symbol          string     `json:"symbol"`
	Strike          float64    `json:"strike"`
	Expiration      time.Time  `json:"expiration"`
	Type            OptionType `json:"option_type"`
	Contracts       int        `json:"contracts"`
	Account         string     `json:"account"`
	OriginalPremium float64    `json:"original_premium"`
	CapturedPremium *float64   `json:"captured_premium,omitempty"`
	PercentGainLoss *float64   `json:"percent_gain_loss,omitempty"`
}

// Key returns the deterministic recommendation identity for this position.
func (p *Position) Key() RecommendationKey {
	return RecommendationKey{
		Symbol:     p.Symbol,
		Strike:     p.Strike,
		Expiration: p.Expiration,
		Type:       p.Type,
		Account:    p.Account,
	}
}

// CalculateDTE calculates and returns the days to expiration for the position.
func (p *Position) CalculateDTE(now time.Time) int {
	n := now.UTC().Truncate(24 * time.Hour)
	exp := p.Expiration.UTC().Truncate(24 * time.Hour)
	days := int(exp.Sub(n).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// IntrinsicValue returns the per-share intrinsic value of the option at spot.
func (p *Position) IntrinsicValue(spot float64) float64 {
	switch p.Type {
	case OptionTypeCall:
		return math.Max(0, spot-p.Strike)
	case OptionTypePut:
		return math.Max(0, p.Strike-spot)
	default:
		return 0
	}
}

// ITMPercent returns how far in the money the position is, as a fraction of
// spot. Zero when the option is out of the money.
func (p *Position) ITMPercent(spot float64) float64 {
	if spot <= 0 {
		return 0
	}
	return p.IntrinsicValue(spot) / spot
}

// IsITM reports whether the option is currently in the money.
func (p *Position) IsITM(spot float64) bool {
	return p.IntrinsicValue(spot) > 0
}

// TotalPremium returns the total dollars of premium collected at open.
func (p *Position) TotalPremium() float64 {
	return p.OriginalPremium * float64(p.Contracts) * sharesPerContract
}
