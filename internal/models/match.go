package models

import "time"

// MatchType classifies how a realized trade relates to a recommendation.
type MatchType string

const (
	// MatchConsent means the trade agrees with the recommendation's target
	// within tolerance.
	MatchConsent MatchType = "consent"
	// MatchModifyStrike means the trade changed only the strike.
	MatchModifyStrike MatchType = "modify_strike"
	// MatchModifyExpiration means the trade changed only the expiration.
	MatchModifyExpiration MatchType = "modify_expiration"
	// MatchModifyOther means the trade diverged on premium or on multiple
	// parameters at once.
	MatchModifyOther MatchType = "modify_other"
	// MatchReject means an eligible recommendation saw no corresponding trade
	// before it resolved or its snapshot expired.
	MatchReject MatchType = "reject"
	// MatchIndependent means no eligible recommendation existed in the window.
	MatchIndependent MatchType = "independent"
	// MatchNoAction means the nearest snapshot recommended no action yet the
	// user traded anyway.
	MatchNoAction MatchType = "no_action"
)

// Valid returns true if the MatchType is one of the defined constants.
func (t MatchType) Valid() bool {
	switch t {
	case MatchConsent, MatchModifyStrike, MatchModifyExpiration,
		MatchModifyOther, MatchReject, MatchIndependent, MatchNoAction:
		return true
	default:
		return false
	}
}

// Counterfactual projects what the suggested path would have yielded against
// the realized path, per share.
type Counterfactual struct {
	SuggestedNet float64 `json:"suggested_net"`
	RealizedNet  float64 `json:"realized_net"`
}

// ExecutionMatch links one realized trade to the recommendation snapshot it
// best corresponds to. TradeID is empty only for reject matches; Key is nil
// only for independent matches.
type ExecutionMatch struct {
	TradeID string             `json:"trade_id,omitempty"`
	Key     *RecommendationKey `json:"key,omitempty"`
	Seq     int                `json:"seq,omitempty"`
	Type    MatchType          `json:"type"`

	// Deltas are populated for modify_* matches: realized minus recommended.
	StrikeDelta         float64 `json:"strike_delta,omitempty"`
	ExpirationDeltaDays int     `json:"expiration_delta_days,omitempty"`
	PremiumDelta        float64 `json:"premium_delta,omitempty"`

	Counterfactual *Counterfactual `json:"counterfactual,omitempty"`
	MatchedAt      time.Time       `json:"matched_at"`
}
