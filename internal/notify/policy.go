// Package notify decides whether a snapshot should interrupt the user and
// delivers eligible snapshots across independent channels.
package notify

import (
	"time"

	"github.com/eddiefleurent/wheel_watcher/internal/models"
)

// DefaultCooldown is the minimum gap between repeat deduplicated
// notifications for an unchanged recommendation.
const DefaultCooldown = 4 * time.Hour

// Policy decides per-snapshot, per-cadence notification eligibility. It is
// pure: marking eligibility and dispatching are the dispatcher's job.
type Policy struct {
	Cooldown time.Duration
}

// NewPolicy returns a Policy with the default cooldown when d is zero.
func NewPolicy(d time.Duration) Policy {
	if d <= 0 {
		d = DefaultCooldown
	}
	return Policy{Cooldown: d}
}

// ShouldNotify reports whether snap is eligible under the given cadence.
// prevNotified is the most recent snapshot for the same key that was
// successfully notified under that cadence, nil if none exists.
//
// Passive snapshots (HOLD, NO_ACTION) are never eligible. The continuous
// cadence fires for every other snapshot. The deduplicated cadence fires on
// the first snapshot, on an action or target change, on priority escalation
// relative to the last notified snapshot, or once the cooldown has elapsed.
func (p Policy) ShouldNotify(snap *models.Snapshot, prevNotified *models.Snapshot, cadence models.Cadence) bool {
	if snap.Action.Kind.Passive() {
		return false
	}
	if cadence == models.CadenceContinuous {
		return true
	}

	if snap.Seq == 1 || prevNotified == nil {
		return true
	}
	if snap.ActionChanged || snap.TargetChanged {
		return true
	}
	if models.PriorityEscalated(prevNotified, snap.Priority) {
		return true
	}
	return snap.EvaluatedAt.Sub(notifiedRef(prevNotified)) >= p.Cooldown
}

// notifiedRef is the cooldown anchor: the recorded dedup notification time,
// falling back to the snapshot's evaluation time.
func notifiedRef(prev *models.Snapshot) time.Time {
	if prev.DedupNotifiedAt != nil {
		return *prev.DedupNotifiedAt
	}
	return prev.EvaluatedAt
}
