package models

import "time"

// CandidateCategory buckets scored roll candidates by risk appetite.
type CandidateCategory string

const (
	CategoryConservative CandidateCategory = "conservative"
	CategoryModerate     CandidateCategory = "moderate"
	CategoryAggressive   CandidateCategory = "aggressive"
)

// RollCandidate is one scored (expiration, strike) alternative for rolling an
// in-the-money position. Candidates are cycle-local: they are never persisted
// except as the chosen target embedded into a snapshot.
type RollCandidate struct {
	Expiration  time.Time
	Strike      float64
	DTE         int
	BuyBackCost float64
	NewPremium  float64
	// NetCost = BuyBackCost - NewPremium. Positive is a debit.
	NetCost float64
	Delta   float64
	// ProbOTM is the modeled probability of finishing out of the money,
	// approximated as 1 - |delta|.
	ProbOTM float64
	// AnnualizedReturn is the annualized return-if-OTM estimate, zero for
	// debit candidates.
	AnnualizedReturn float64
	Score            float64
	Category         CandidateCategory
}

// SameContract reports whether two candidates refer to the same
// (strike, expiration) pair.
func (c *RollCandidate) SameContract(o *RollCandidate) bool {
	if o == nil {
		return false
	}
	return c.Strike == o.Strike && sameDay(c.Expiration, o.Expiration)
}
