package models

import "time"

// TradeSide identifies the direction of a realized option trade.
type TradeSide string

const (
	SideSellToOpen TradeSide = "sell_to_open"
	SideBuyToClose TradeSide = "buy_to_close"
)

// Trade is one realized execution from the trade feed.
type Trade struct {
	ID         string     `json:"id"`
	Account    string     `json:"account"`
	Symbol     string     `json:"symbol"`
	Strike     float64    `json:"strike"`
	Expiration time.Time  `json:"expiration"`
	Type       OptionType `json:"option_type"`
	Side       TradeSide  `json:"side"`
	Quantity   int        `json:"quantity"`
	Premium    float64    `json:"premium"`
	ExecutedAt time.Time  `json:"executed_at"`
}
