package models

import (
	"math"
	"time"
)

// targetStrikeTolerance is the strike movement below which a target is not
// considered changed between consecutive snapshots.
const targetStrikeTolerance = 1.00

// Cadence identifies one of the two independently tracked notification
// cadences.
type Cadence string

const (
	// CadenceContinuous notifies for every non-passive snapshot.
	CadenceContinuous Cadence = "continuous"
	// CadenceDeduplicated notifies only on first snapshot, change, escalation
	// or cooldown expiry.
	CadenceDeduplicated Cadence = "deduplicated"
)

// Valid returns true if the Cadence is one of the defined constants.
func (c Cadence) Valid() bool {
	return c == CadenceContinuous || c == CadenceDeduplicated
}

// MarketContext captures the market conditions at evaluation time.
type MarketContext struct {
	UnderlyingPrice   float64 `json:"underlying_price"`
	ITMPercent        float64 `json:"itm_percent"`
	CapturedProfitPct float64 `json:"captured_profit_pct"`
}

// ChangeFlags are the three booleans computed against the immediately
// preceding snapshot. They are a pure function of (current, previous) and are
// never recomputed retroactively.
type ChangeFlags struct {
	ActionChanged   bool `json:"action_changed"`
	TargetChanged   bool `json:"target_changed"`
	PriorityChanged bool `json:"priority_changed"`
}

// Snapshot is one timestamped evaluation outcome for a recommendation.
// Seq starts at 1 and is gapless per key; exactly one snapshot per key holds
// the maximum Seq at any time.
type Snapshot struct {
	Key         RecommendationKey `json:"key"`
	Seq         int               `json:"seq"`
	EvaluatedAt time.Time         `json:"evaluated_at"`
	CycleID     string            `json:"cycle_id"`
	Action      Action            `json:"action"`
	Priority    Priority          `json:"priority"`
	Market      MarketContext     `json:"market"`
	ChangeFlags

	// Per-cadence notification bookkeeping, set only after a dispatch
	// succeeded for that cadence.
	ContinuousNotifiedAt *time.Time `json:"continuous_notified_at,omitempty"`
	DedupNotifiedAt      *time.Time `json:"dedup_notified_at,omitempty"`
}

// NotifiedAt returns the snapshot's notification timestamp for one cadence,
// nil if no successful dispatch has been recorded for it.
func (s *Snapshot) NotifiedAt(c Cadence) *time.Time {
	if c == CadenceContinuous {
		return s.ContinuousNotifiedAt
	}
	return s.DedupNotifiedAt
}

// ComputeChangeFlags diffs an evaluation outcome against the previous
// snapshot. A nil previous snapshot (sequence 1) yields all-false flags.
//
// Target comparison: strikes differing by more than $1.00, differing target
// expirations, or a target appearing/disappearing all count as changed.
// Priority comparison is by rank so unknown values compare conservatively.
func ComputeChangeFlags(prev *Snapshot, action Action, priority Priority) ChangeFlags {
	if prev == nil {
		return ChangeFlags{}
	}

	flags := ChangeFlags{
		ActionChanged:   action.Kind != prev.Action.Kind,
		PriorityChanged: priority.Rank() != prev.Priority.Rank(),
	}

	curStrike, curHas := action.TargetStrike()
	prevStrike, prevHas := prev.Action.TargetStrike()
	switch {
	case curHas != prevHas:
		flags.TargetChanged = true
	case curHas && math.Abs(curStrike-prevStrike) > targetStrikeTolerance:
		flags.TargetChanged = true
	}

	curExp, curHasExp := action.TargetExpiration()
	prevExp, prevHasExp := prev.Action.TargetExpiration()
	switch {
	case curHasExp != prevHasExp:
		flags.TargetChanged = true
	case curHasExp && !sameDay(curExp, prevExp):
		flags.TargetChanged = true
	}

	return flags
}

// PriorityEscalated reports whether priority moved strictly more urgent
// relative to prev (lower rank is more urgent).
func PriorityEscalated(prev *Snapshot, priority Priority) bool {
	if prev == nil {
		return false
	}
	return priority.Rank() < prev.Priority.Rank()
}

func sameDay(a, b time.Time) bool {
	au, bu := a.UTC(), b.UTC()
	return au.Year() == bu.Year() && au.YearDay() == bu.YearDay()
}
