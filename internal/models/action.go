package models

import (
	"fmt"
	"time"
)

// ActionKind identifies the recommended action for a snapshot.
type ActionKind string

const (
	ActionRollWeekly ActionKind = "ROLL_WEEKLY"
	ActionRollITM    ActionKind = "ROLL_ITM"
	ActionPullBack   ActionKind = "PULL_BACK"
	ActionClose      ActionKind = "CLOSE"
	ActionSell       ActionKind = "SELL"
	ActionWait       ActionKind = "WAIT"
	ActionHold       ActionKind = "HOLD"
	ActionNoAction   ActionKind = "NO_ACTION"
)

// Valid returns true if the ActionKind is one of the defined constants.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionRollWeekly, ActionRollITM, ActionPullBack, ActionClose,
		ActionSell, ActionWait, ActionHold, ActionNoAction:
		return true
	default:
		return false
	}
}

// Passive reports whether the kind carries no actionable recommendation.
// Passive snapshots are never notification-eligible.
func (k ActionKind) Passive() bool {
	return k == ActionNoAction || k == ActionHold
}

// RollDetail carries the parameters of a roll recommendation
// (ROLL_WEEKLY, ROLL_ITM, PULL_BACK).
type RollDetail struct {
	TargetStrike     float64   `json:"target_strike"`
	TargetExpiration time.Time `json:"target_expiration"`
	// NetCost is positive for a debit, negative for a credit.
	NetCost float64 `json:"net_cost"`
}

// CloseDetail carries the parameters of a CLOSE recommendation.
type CloseDetail struct {
	EstimatedCost float64 `json:"estimated_cost"`
}

// SellDetail carries the parameters of a SELL recommendation.
type SellDetail struct {
	TargetStrike float64 `json:"target_strike"`
	Premium      float64 `json:"premium"`
}

// WaitDetail carries the explicit rationale for a WAIT recommendation.
type WaitDetail struct {
	Reason string `json:"reason"`
}

// Action is a tagged union: exactly the detail matching Kind is set,
// HOLD and NO_ACTION carry none. Field-presence checks live here and in
// Render, not scattered across callers.
type Action struct {
	Kind  ActionKind   `json:"kind"`
	Roll  *RollDetail  `json:"roll,omitempty"`
	Close *CloseDetail `json:"close,omitempty"`
	Sell  *SellDetail  `json:"sell,omitempty"`
	Wait  *WaitDetail  `json:"wait,omitempty"`
}

// NewRoll builds a roll-family action.
func NewRoll(kind ActionKind, strike float64, expiration time.Time, netCost float64) Action {
	return Action{Kind: kind, Roll: &RollDetail{
		TargetStrike:     strike,
		TargetExpiration: expiration,
		NetCost:          netCost,
	}}
}

// NewClose builds a CLOSE action.
func NewClose(estimatedCost float64) Action {
	return Action{Kind: ActionClose, Close: &CloseDetail{EstimatedCost: estimatedCost}}
}

// NewSell builds a SELL action.
func NewSell(strike, premium float64) Action {
	return Action{Kind: ActionSell, Sell: &SellDetail{TargetStrike: strike, Premium: premium}}
}

// NewWait builds a WAIT action with its rationale.
func NewWait(reason string) Action {
	return Action{Kind: ActionWait, Wait: &WaitDetail{Reason: reason}}
}

// NewHold builds a HOLD action.
func NewHold() Action { return Action{Kind: ActionHold} }

// NewNoAction builds a NO_ACTION action.
func NewNoAction() Action { return Action{Kind: ActionNoAction} }

// TargetStrike returns the action's target strike, if it has one.
func (a Action) TargetStrike() (float64, bool) {
	switch {
	case a.Roll != nil:
		return a.Roll.TargetStrike, true
	case a.Sell != nil:
		return a.Sell.TargetStrike, true
	default:
		return 0, false
	}
}

// TargetExpiration returns the action's target expiration, if it has one.
func (a Action) TargetExpiration() (time.Time, bool) {
	if a.Roll != nil {
		return a.Roll.TargetExpiration, true
	}
	return time.Time{}, false
}

// TargetPremium returns the premium associated with the action, if any.
func (a Action) TargetPremium() (float64, bool) {
	if a.Sell != nil {
		return a.Sell.Premium, true
	}
	return 0, false
}

// NetCost returns the action's net cost, if it has one.
// Positive is a debit, negative a credit.
func (a Action) NetCost() (float64, bool) {
	switch {
	case a.Roll != nil:
		return a.Roll.NetCost, true
	case a.Close != nil:
		return a.Close.EstimatedCost, true
	default:
		return 0, false
	}
}

// Render produces the human-readable rationale line for notification payloads.
// This is the single boundary where the union is flattened to text; every kind
// must be handled here.
func (a Action) Render(symbol string) string {
	switch a.Kind {
	case ActionRollWeekly:
		return fmt.Sprintf("%s: roll out to %s @ %.2f (net %s)",
			symbol, a.Roll.TargetExpiration.Format("2006-01-02"), a.Roll.TargetStrike, renderNet(a.Roll.NetCost))
	case ActionRollITM:
		return fmt.Sprintf("%s: deep ITM, roll to %s @ %.2f (net %s)",
			symbol, a.Roll.TargetExpiration.Format("2006-01-02"), a.Roll.TargetStrike, renderNet(a.Roll.NetCost))
	case ActionPullBack:
		return fmt.Sprintf("%s: pull back to safer strike %.2f exp %s (net %s)",
			symbol, a.Roll.TargetStrike, a.Roll.TargetExpiration.Format("2006-01-02"), renderNet(a.Roll.NetCost))
	case ActionClose:
		return fmt.Sprintf("%s: close position, estimated cost $%.2f", symbol, a.Close.EstimatedCost)
	case ActionSell:
		return fmt.Sprintf("%s: sell %.2f strike for ~$%.2f premium", symbol, a.Sell.TargetStrike, a.Sell.Premium)
	case ActionWait:
		return fmt.Sprintf("%s: wait - %s", symbol, a.Wait.Reason)
	case ActionHold:
		return fmt.Sprintf("%s: hold", symbol)
	case ActionNoAction:
		return fmt.Sprintf("%s: no action", symbol)
	default:
		return fmt.Sprintf("%s: unknown action %s", symbol, a.Kind)
	}
}

func renderNet(netCost float64) string {
	if netCost < 0 {
		return fmt.Sprintf("$%.2f credit", -netCost)
	}
	return fmt.Sprintf("$%.2f debit", netCost)
}

// Priority orders recommendations by urgency.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank returns the priority's sort rank. Lower is more urgent:
// urgent=0, high=1, medium=2, low=3. Unknown priorities sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// Valid returns true if the Priority is one of the defined constants.
func (p Priority) Valid() bool {
	return p.Rank() < 4
}
