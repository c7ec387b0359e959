package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/eddiefleurent/wheel_watcher/internal/models"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS recommendations (
    key                TEXT PRIMARY KEY,
    status             TEXT     NOT NULL DEFAULT 'active',
    first_detected     DATETIME NOT NULL,
    snapshot_count     INTEGER  NOT NULL DEFAULT 0,
    notification_count INTEGER  NOT NULL DEFAULT 0,
    last_evaluated     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshots (
    key                    TEXT     NOT NULL REFERENCES recommendations(key),
    seq                    INTEGER  NOT NULL,
    evaluated_at           DATETIME NOT NULL,
    cycle_id               TEXT     NOT NULL,
    action                 TEXT     NOT NULL,
    priority               TEXT     NOT NULL,
    underlying_price       REAL     NOT NULL DEFAULT 0,
    itm_percent            REAL     NOT NULL DEFAULT 0,
    captured_profit_pct    REAL     NOT NULL DEFAULT 0,
    action_changed         INTEGER  NOT NULL DEFAULT 0,
    target_changed         INTEGER  NOT NULL DEFAULT 0,
    priority_changed       INTEGER  NOT NULL DEFAULT 0,
    continuous_notified_at DATETIME,
    dedup_notified_at      DATETIME,
    PRIMARY KEY (key, seq)
);

CREATE TABLE IF NOT EXISTS execution_matches (
    id                    INTEGER PRIMARY KEY AUTOINCREMENT,
    trade_id              TEXT    NOT NULL DEFAULT '',
    key                   TEXT,
    seq                   INTEGER NOT NULL DEFAULT 0,
    match_type            TEXT    NOT NULL,
    strike_delta          REAL    NOT NULL DEFAULT 0,
    expiration_delta_days INTEGER NOT NULL DEFAULT 0,
    premium_delta         REAL    NOT NULL DEFAULT 0,
    suggested_net         REAL,
    realized_net          REAL,
    matched_at            DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS dispatch_outcomes (
    key          TEXT     NOT NULL,
    seq          INTEGER  NOT NULL,
    channel      TEXT     NOT NULL,
    cadence      TEXT     NOT NULL,
    ok           INTEGER  NOT NULL,
    detail       TEXT     NOT NULL DEFAULT '',
    attempted_at DATETIME NOT NULL,
    PRIMARY KEY (key, seq, channel, cadence)
);

CREATE INDEX IF NOT EXISTS idx_snapshots_evaluated ON snapshots(key, evaluated_at);
CREATE INDEX IF NOT EXISTS idx_rec_status          ON recommendations(status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_match_trade  ON execution_matches(trade_id)
    WHERE trade_id != '';
`

// numLockShards partitions per-key write locks. Keys hash to a shard, so two
// evaluations of the same key always contend on the same mutex.
const numLockShards = 32

// SQLiteStore implements Store over modernc sqlite (pure Go, no CGo).
type SQLiteStore struct {
	db     *sql.DB
	logger *logrus.Logger

	shards [numLockShards]sync.Mutex

	cycleMu      sync.RWMutex
	currentCycle string
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path and applies the
// schema.
func NewSQLiteStore(path string, logger *logrus.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %q: %w", path, err)
	}
	// SQLite is single-writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// BeginCycle makes cycleID the current cycle. Results tagged with any older
// cycle are rejected by Evaluate from this point on.
func (s *SQLiteStore) BeginCycle(cycleID string) {
	s.cycleMu.Lock()
	s.currentCycle = cycleID
	s.cycleMu.Unlock()
}

func (s *SQLiteStore) cycleCurrent(cycleID string) bool {
	s.cycleMu.RLock()
	defer s.cycleMu.RUnlock()
	return s.currentCycle == "" || s.currentCycle == cycleID
}

func (s *SQLiteStore) shardFor(key models.RecommendationKey) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key.Encode()))
	return &s.shards[h.Sum32()%numLockShards]
}

// Evaluate appends the next snapshot for key. Creates the recommendation on
// first sight; otherwise diffs against the latest snapshot. The snapshot
// insert and the recommendation counter increment commit together or not at
// all.
func (s *SQLiteStore) Evaluate(ctx context.Context, key models.RecommendationKey, res EvaluationResult) (*models.Snapshot, error) {
	if !s.cycleCurrent(res.CycleID) {
		return nil, fmt.Errorf("cycle %s for %s: %w", res.CycleID, key, ErrStaleCycle)
	}

	mu := s.shardFor(key)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: begin tx for %s: %w", key, err)
	}
	defer tx.Rollback()

	rec, err := s.getRecommendationTx(ctx, tx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	var prev *models.Snapshot
	if rec == nil {
		rec = models.NewRecommendation(key, res.EvaluatedAt)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO recommendations (key, status, first_detected, snapshot_count, notification_count, last_evaluated)
			VALUES (?, ?, ?, 0, 0, ?)`,
			key.Encode(), rec.Status, rec.FirstDetected.UTC(), res.EvaluatedAt.UTC(),
		); err != nil {
			return nil, fmt.Errorf("storage: insert recommendation %s: %w", key, err)
		}
	} else {
		prev, err = s.latestSnapshotTx(ctx, tx, key)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	snap := &models.Snapshot{
		Key:         key,
		Seq:         rec.SnapshotCount + 1,
		EvaluatedAt: res.EvaluatedAt,
		CycleID:     res.CycleID,
		Action:      res.Action,
		Priority:    res.Priority,
		Market:      res.Market,
		ChangeFlags: models.ComputeChangeFlags(prev, res.Action, res.Priority),
	}

	actionJSON, err := json.Marshal(snap.Action)
	if err != nil {
		return nil, fmt.Errorf("storage: encode action for %s: %w", key, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO snapshots
		(key, seq, evaluated_at, cycle_id, action, priority,
		 underlying_price, itm_percent, captured_profit_pct,
		 action_changed, target_changed, priority_changed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key.Encode(), snap.Seq, snap.EvaluatedAt.UTC(), snap.CycleID,
		string(actionJSON), snap.Priority,
		snap.Market.UnderlyingPrice, snap.Market.ITMPercent, snap.Market.CapturedProfitPct,
		snap.ActionChanged, snap.TargetChanged, snap.PriorityChanged,
	); err != nil {
		return nil, fmt.Errorf("storage: insert snapshot %s#%d: %w", key, snap.Seq, err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE recommendations
		SET snapshot_count = snapshot_count + 1, last_evaluated = ?
		WHERE key = ?`,
		snap.EvaluatedAt.UTC(), key.Encode(),
	); err != nil {
		return nil, fmt.Errorf("storage: bump snapshot count for %s: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("storage: commit snapshot %s#%d: %w", key, snap.Seq, err)
	}
	return snap, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const recommendationColumns = `key, status, first_detected, snapshot_count, notification_count, last_evaluated`

func scanRecommendation(scan func(dest ...any) error) (*models.Recommendation, error) {
	var rec models.Recommendation
	var encoded string
	if err := scan(&encoded, &rec.Status, &rec.FirstDetected,
		&rec.SnapshotCount, &rec.NotificationCount, &rec.LastEvaluated); err != nil {
		return nil, err
	}
	key, err := models.DecodeKey(encoded)
	if err != nil {
		return nil, fmt.Errorf("storage: stored key %q: %w", encoded, err)
	}
	rec.Key = key
	return &rec, nil
}

func (s *SQLiteStore) getRecommendationTx(ctx context.Context, q queryer, key models.RecommendationKey) (*models.Recommendation, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+recommendationColumns+` FROM recommendations WHERE key = ?`, key.Encode())
	rec, err := scanRecommendation(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load recommendation %s: %w", key, err)
	}
	return rec, nil
}

// GetRecommendation loads one recommendation, ErrNotFound if absent.
func (s *SQLiteStore) GetRecommendation(ctx context.Context, key models.RecommendationKey) (*models.Recommendation, error) {
	return s.getRecommendationTx(ctx, s.db, key)
}

// ListRecommendations returns recommendations filtered by status; an empty
// status returns everything.
func (s *SQLiteStore) ListRecommendations(ctx context.Context, status models.RecommendationStatus) ([]models.Recommendation, error) {
	query := `SELECT ` + recommendationColumns + ` FROM recommendations`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY first_detected`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list recommendations: %w", err)
	}
	defer rows.Close()

	var recs []models.Recommendation
	for rows.Next() {
		rec, err := scanRecommendation(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("storage: scan recommendation: %w", err)
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

// CandidateRecommendations returns recommendations for one symbol and
// account evaluated at or after since, regardless of status. A recommendation
// retired between evaluation and reconciliation (the user rolled, and the
// next cycle superseded the old key) must still be able to claim the trade.
func (s *SQLiteStore) CandidateRecommendations(ctx context.Context, symbol, account string, since time.Time) ([]models.Recommendation, error) {
	all, err := s.ListRecommendations(ctx, "")
	if err != nil {
		return nil, err
	}
	var out []models.Recommendation
	for _, rec := range all {
		if rec.Key.Symbol != symbol || rec.Key.Account != account {
			continue
		}
		if rec.LastEvaluated.Before(since) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// TransitionStatus moves a recommendation to a terminal status, enforcing the
// transition table.
func (s *SQLiteStore) TransitionStatus(ctx context.Context, key models.RecommendationKey, to models.RecommendationStatus) error {
	mu := s.shardFor(key)
	mu.Lock()
	defer mu.Unlock()

	rec, err := s.GetRecommendation(ctx, key)
	if err != nil {
		return err
	}
	if err := rec.TransitionStatus(to); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE recommendations SET status = ? WHERE key = ?`, to, key.Encode()); err != nil {
		return fmt.Errorf("storage: transition %s to %s: %w", key, to, err)
	}
	return nil
}

const snapshotColumns = `key, seq, evaluated_at, cycle_id, action, priority,
	underlying_price, itm_percent, captured_profit_pct,
	action_changed, target_changed, priority_changed,
	continuous_notified_at, dedup_notified_at`

func scanSnapshot(scan func(dest ...any) error) (*models.Snapshot, error) {
	var snap models.Snapshot
	var encoded, actionJSON string
	var contNotified, dedupNotified sql.NullTime

	if err := scan(&encoded, &snap.Seq, &snap.EvaluatedAt, &snap.CycleID,
		&actionJSON, &snap.Priority,
		&snap.Market.UnderlyingPrice, &snap.Market.ITMPercent, &snap.Market.CapturedProfitPct,
		&snap.ActionChanged, &snap.TargetChanged, &snap.PriorityChanged,
		&contNotified, &dedupNotified); err != nil {
		return nil, err
	}

	key, err := models.DecodeKey(encoded)
	if err != nil {
		return nil, fmt.Errorf("storage: stored key %q: %w", encoded, err)
	}
	snap.Key = key
	if err := json.Unmarshal([]byte(actionJSON), &snap.Action); err != nil {
		return nil, fmt.Errorf("storage: decode action for %s#%d: %w", key, snap.Seq, err)
	}
	if contNotified.Valid {
		t := contNotified.Time
		snap.ContinuousNotifiedAt = &t
	}
	if dedupNotified.Valid {
		t := dedupNotified.Time
		snap.DedupNotifiedAt = &t
	}
	return &snap, nil
}

func (s *SQLiteStore) latestSnapshotTx(ctx context.Context, q queryer, key models.RecommendationKey) (*models.Snapshot, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+` FROM snapshots
		WHERE key = ? ORDER BY seq DESC LIMIT 1`, key.Encode())
	snap, err := scanSnapshot(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: latest snapshot for %s: %w", key, err)
	}
	return snap, nil
}

// LatestSnapshot returns the snapshot with the maximum sequence number for
// key, ErrNotFound if the key has none.
func (s *SQLiteStore) LatestSnapshot(ctx context.Context, key models.RecommendationKey) (*models.Snapshot, error) {
	return s.latestSnapshotTx(ctx, s.db, key)
}

// Snapshots returns all snapshots for key in sequence order.
func (s *SQLiteStore) Snapshots(ctx context.Context, key models.RecommendationKey) ([]models.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+snapshotColumns+` FROM snapshots
		WHERE key = ? ORDER BY seq`, key.Encode())
	if err != nil {
		return nil, fmt.Errorf("storage: snapshots for %s: %w", key, err)
	}
	defer rows.Close()

	var snaps []models.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("storage: scan snapshot: %w", err)
		}
		snaps = append(snaps, *snap)
	}
	return snaps, rows.Err()
}

// MarkNotified records a successful dispatch for one cadence on one snapshot
// and bumps the recommendation's notification counter. Both writes commit
// together.
func (s *SQLiteStore) MarkNotified(ctx context.Context, key models.RecommendationKey, seq int, cadence models.Cadence, at time.Time) error {
	if !cadence.Valid() {
		return fmt.Errorf("storage: unknown cadence %q", cadence)
	}
	column := "dedup_notified_at"
	if cadence == models.CadenceContinuous {
		column = "continuous_notified_at"
	}

	mu := s.shardFor(key)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin tx for %s: %w", key, err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE snapshots SET `+column+` = ? WHERE key = ? AND seq = ?`,
		at.UTC(), key.Encode(), seq)
	if err != nil {
		return fmt.Errorf("storage: mark notified %s#%d: %w", key, seq, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("snapshot %s#%d: %w", key, seq, ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE recommendations SET notification_count = notification_count + 1 WHERE key = ?`,
		key.Encode()); err != nil {
		return fmt.Errorf("storage: bump notification count for %s: %w", key, err)
	}
	return tx.Commit()
}

// LastNotified returns the most recent notification time for a cadence across
// all of the key's snapshots, nil when never notified.
func (s *SQLiteStore) LastNotified(ctx context.Context, key models.RecommendationKey, cadence models.Cadence) (*time.Time, error) {
	column := "dedup_notified_at"
	if cadence == models.CadenceContinuous {
		column = "continuous_notified_at"
	}
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(`+column+`) FROM snapshots WHERE key = ?`, key.Encode()).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("storage: last notified for %s: %w", key, err)
	}
	if !last.Valid {
		return nil, nil
	}
	t := last.Time
	return &t, nil
}

// RecordDispatch upserts one channel's delivery attempt for a snapshot.
func (s *SQLiteStore) RecordDispatch(ctx context.Context, o DispatchOutcome) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dispatch_outcomes (key, seq, channel, cadence, ok, detail, attempted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key, seq, channel, cadence) DO UPDATE SET
			ok = excluded.ok, detail = excluded.detail, attempted_at = excluded.attempted_at`,
		o.Key.Encode(), o.Seq, o.Channel, o.Cadence, o.OK, o.Detail, o.AttemptedAt.UTC())
	if err != nil {
		return fmt.Errorf("storage: record dispatch %s#%d %s: %w", o.Key, o.Seq, o.Channel, err)
	}
	return nil
}

// InsertMatch records one execution match. The unique trade index guarantees
// at most one match per realized trade.
func (s *SQLiteStore) InsertMatch(ctx context.Context, m models.ExecutionMatch) error {
	var encoded any
	if m.Key != nil {
		encoded = m.Key.Encode()
	}
	var suggested, realized any
	if m.Counterfactual != nil {
		suggested = m.Counterfactual.SuggestedNet
		realized = m.Counterfactual.RealizedNet
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_matches
		(trade_id, key, seq, match_type, strike_delta, expiration_delta_days,
		 premium_delta, suggested_net, realized_net, matched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.TradeID, encoded, m.Seq, m.Type,
		m.StrikeDelta, m.ExpirationDeltaDays, m.PremiumDelta,
		suggested, realized, m.MatchedAt.UTC())
	if err != nil {
		return fmt.Errorf("storage: insert match %s/%s: %w", m.TradeID, m.Type, err)
	}
	return nil
}

// Matches returns all execution matches referencing key, in match order.
func (s *SQLiteStore) Matches(ctx context.Context, key models.RecommendationKey) ([]models.ExecutionMatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trade_id, key, seq, match_type, strike_delta, expiration_delta_days,
		       premium_delta, suggested_net, realized_net, matched_at
		FROM execution_matches WHERE key = ? ORDER BY matched_at`, key.Encode())
	if err != nil {
		return nil, fmt.Errorf("storage: matches for %s: %w", key, err)
	}
	defer rows.Close()

	var matches []models.ExecutionMatch
	for rows.Next() {
		var m models.ExecutionMatch
		var encoded sql.NullString
		var suggested, realized sql.NullFloat64
		if err := rows.Scan(&m.TradeID, &encoded, &m.Seq, &m.Type,
			&m.StrikeDelta, &m.ExpirationDeltaDays, &m.PremiumDelta,
			&suggested, &realized, &m.MatchedAt); err != nil {
			return nil, fmt.Errorf("storage: scan match: %w", err)
		}
		if encoded.Valid {
			k, err := models.DecodeKey(encoded.String)
			if err != nil {
				return nil, fmt.Errorf("storage: stored key %q: %w", encoded.String, err)
			}
			m.Key = &k
		}
		if suggested.Valid || realized.Valid {
			m.Counterfactual = &models.Counterfactual{
				SuggestedNet: suggested.Float64,
				RealizedNet:  realized.Float64,
			}
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}
