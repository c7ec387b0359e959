// Package storage persists recommendations, snapshots, execution matches and
// dispatch outcomes in SQLite. It owns recommendation identity and snapshot
// sequencing: Evaluate is the only writer of snapshots and serializes writes
// per key so sequence numbers stay gapless.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/eddiefleurent/wheel_watcher/internal/models"
)

// ErrNotFound is returned when a recommendation or snapshot does not exist.
var ErrNotFound = errors.New("record not found")

// ErrStaleCycle is returned when an evaluation result arrives tagged with a
// cycle that has since been superseded. Stale results are discarded, never
// merged.
var ErrStaleCycle = errors.New("stale evaluation cycle")

// EvaluationResult is one cycle's evaluation outcome for a position, handed to
// Evaluate for snapshotting.
type EvaluationResult struct {
	CycleID     string
	EvaluatedAt time.Time
	Action      models.Action
	Priority    models.Priority
	Market      models.MarketContext
}

// DispatchOutcome records one channel's delivery attempt for a snapshot.
type DispatchOutcome struct {
	Key         models.RecommendationKey
	Seq         int
	Channel     string
	Cadence     models.Cadence
	OK          bool
	Detail      string
	AttemptedAt time.Time
}

// Store is the persistence surface the rest of the system depends on.
type Store interface {
	// BeginCycle registers cycleID as the current evaluation cycle. Evaluate
	// rejects results from any other cycle with ErrStaleCycle.
	BeginCycle(cycleID string)

	// Evaluate appends the next snapshot for key, creating the recommendation
	// on first sight. Snapshot insert and counter increment are one
	// transaction.
	Evaluate(ctx context.Context, key models.RecommendationKey, res EvaluationResult) (*models.Snapshot, error)

	GetRecommendation(ctx context.Context, key models.RecommendationKey) (*models.Recommendation, error)
	ListRecommendations(ctx context.Context, status models.RecommendationStatus) ([]models.Recommendation, error)
	TransitionStatus(ctx context.Context, key models.RecommendationKey, to models.RecommendationStatus) error

	LatestSnapshot(ctx context.Context, key models.RecommendationKey) (*models.Snapshot, error)
	Snapshots(ctx context.Context, key models.RecommendationKey) ([]models.Snapshot, error)

	// MarkNotified records a successful dispatch for one cadence on one
	// snapshot and bumps the recommendation's notification counter.
	MarkNotified(ctx context.Context, key models.RecommendationKey, seq int, cadence models.Cadence, at time.Time) error
	// LastNotified returns the most recent notification time for a cadence
	// across all of the key's snapshots, nil if never notified.
	LastNotified(ctx context.Context, key models.RecommendationKey, cadence models.Cadence) (*time.Time, error)
	RecordDispatch(ctx context.Context, outcome DispatchOutcome) error

	InsertMatch(ctx context.Context, m models.ExecutionMatch) error
	Matches(ctx context.Context, key models.RecommendationKey) ([]models.ExecutionMatch, error)

	// CandidateRecommendations returns recommendations for one symbol and
	// account evaluated at or after since, any status, for reconciliation.
	CandidateRecommendations(ctx context.Context, symbol, account string, since time.Time) ([]models.Recommendation, error)

	Close() error
}
