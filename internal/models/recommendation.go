package models

import (
	"fmt"
	"time"
)

// RecommendationStatus represents the lifecycle status of a recommendation.
type RecommendationStatus string

const (
	// StatusActive is the only non-terminal status: the position is still
	// tracked and re-evaluated every cycle.
	StatusActive RecommendationStatus = "active"
	// StatusResolved means the position was closed in line with tracking.
	StatusResolved RecommendationStatus = "resolved"
	// StatusExpired means the option reached expiration while tracked.
	StatusExpired RecommendationStatus = "expired"
	// StatusAssigned means the short option was assigned.
	StatusAssigned RecommendationStatus = "assigned"
	// StatusSuperseded means a roll produced a new identity key and this one
	// was retired in its favor.
	StatusSuperseded RecommendationStatus = "superseded"
	// StatusStale means the position disappeared from the feed without a
	// matching trade or roll.
	StatusStale RecommendationStatus = "stale"
)

// Terminal reports whether the status is a terminal state. Every status but
// active is terminal, and terminal recommendations are never re-activated.
func (s RecommendationStatus) Terminal() bool {
	return s != StatusActive
}

// Valid returns true if the status is one of the defined constants.
func (s RecommendationStatus) Valid() bool {
	switch s {
	case StatusActive, StatusResolved, StatusExpired, StatusAssigned, StatusSuperseded, StatusStale:
		return true
	default:
		return false
	}
}

// statusTransition defines one valid status transition.
type statusTransition struct {
	From        RecommendationStatus
	To          RecommendationStatus
	Description string
}

// validStatusTransitions is the full transition table: monotone out of active
// into exactly one terminal state.
var validStatusTransitions = []statusTransition{
	{StatusActive, StatusResolved, "position closed per recommendation lifecycle"},
	{StatusActive, StatusExpired, "option expired while tracked"},
	{StatusActive, StatusAssigned, "short option assigned"},
	{StatusActive, StatusSuperseded, "rolled to a new identity key"},
	{StatusActive, StatusStale, "position vanished from feed without explanation"},
}

// CanTransitionStatus reports whether from → to is a legal transition.
func CanTransitionStatus(from, to RecommendationStatus) bool {
	for _, t := range validStatusTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// Recommendation is the durable identity of one tracked option position.
type Recommendation struct {
	Key               RecommendationKey    `json:"key"`
	Status            RecommendationStatus `json:"status"`
	FirstDetected     time.Time            `json:"first_detected"`
	SnapshotCount     int                  `json:"snapshot_count"`
	NotificationCount int                  `json:"notification_count"`
	LastEvaluated     time.Time            `json:"last_evaluated"`
}

// NewRecommendation creates an active recommendation for the given key.
func NewRecommendation(key RecommendationKey, detectedAt time.Time) *Recommendation {
	return &Recommendation{
		Key:           key,
		Status:        StatusActive,
		FirstDetected: detectedAt,
	}
}

// TransitionStatus moves the recommendation to a new status, enforcing the
// transition table. A terminal recommendation never moves again.
func (r *Recommendation) TransitionStatus(to RecommendationStatus) error {
	if !to.Valid() {
		return fmt.Errorf("recommendation %s: unknown status %q", r.Key, to)
	}
	if r.Status.Terminal() {
		return fmt.Errorf("recommendation %s: status %s is terminal, cannot move to %s",
			r.Key, r.Status, to)
	}
	if !CanTransitionStatus(r.Status, to) {
		return fmt.Errorf("recommendation %s: invalid status transition %s -> %s",
			r.Key, r.Status, to)
	}
	r.Status = to
	return nil
}
