package notify

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/eddiefleurent/wheel_watcher/internal/models"
	"github.com/eddiefleurent/wheel_watcher/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChannel struct {
	name string
	err  error

	mu   sync.Mutex
	sent []Payload
}

func (c *stubChannel) Name() string { return c.name }

func (c *stubChannel) Send(_ context.Context, p Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, p)
	return nil
}

type stubRecorder struct {
	mu       sync.Mutex
	outcomes []storage.DispatchOutcome
	marked   []models.Cadence
}

func (r *stubRecorder) RecordDispatch(_ context.Context, o storage.DispatchOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
	return nil
}

func (r *stubRecorder) MarkNotified(_ context.Context, _ models.RecommendationKey, _ int, cadence models.Cadence, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.marked = append(r.marked, cadence)
	return nil
}

func dispatchSnap() *models.Snapshot {
	return &models.Snapshot{
		Key: models.RecommendationKey{
			Symbol: "SPY", Strike: 450,
			Expiration: time.Date(2026, 9, 18, 0, 0, 0, 0, time.UTC),
			Type:       models.OptionTypeCall, Account: "ACC1",
		},
		Seq:         3,
		EvaluatedAt: time.Date(2026, 8, 28, 14, 0, 0, 0, time.UTC),
		Action:      models.NewClose(0.10),
		Priority:    models.PriorityHigh,
	}
}

func quietLog() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestDispatch_AllChannelsSucceed(t *testing.T) {
	a := &stubChannel{name: "a"}
	b := &stubChannel{name: "b"}
	rec := &stubRecorder{}
	d := NewDispatcher([]Channel{a, b}, rec, quietLog())

	outcomes, err := d.Dispatch(context.Background(), dispatchSnap(), models.CadenceDeduplicated)
	require.NoError(t, err)
	assert.NoError(t, outcomes["a"])
	assert.NoError(t, outcomes["b"])

	require.Len(t, a.sent, 1)
	assert.Equal(t, 3, a.sent[0].Seq)
	assert.Contains(t, a.sent[0].Rationale, "SPY")

	assert.Equal(t, []models.Cadence{models.CadenceDeduplicated}, rec.marked)
	require.Len(t, rec.outcomes, 2)
	for _, o := range rec.outcomes {
		assert.True(t, o.OK)
	}
}

// A failing channel is recorded but does not block its siblings, and the
// snapshot is still marked notified because one channel delivered.
func TestDispatch_PartialFailure(t *testing.T) {
	broken := &stubChannel{name: "telegram", err: errors.New("status=500")}
	ok := &stubChannel{name: "console"}
	rec := &stubRecorder{}
	d := NewDispatcher([]Channel{broken, ok}, rec, quietLog())

	outcomes, err := d.Dispatch(context.Background(), dispatchSnap(), models.CadenceContinuous)
	require.NoError(t, err)
	assert.Error(t, outcomes["telegram"])
	assert.NoError(t, outcomes["console"])
	assert.Len(t, ok.sent, 1)

	assert.Equal(t, []models.Cadence{models.CadenceContinuous}, rec.marked)

	byChannel := map[string]bool{}
	for _, o := range rec.outcomes {
		byChannel[o.Channel] = o.OK
	}
	assert.False(t, byChannel["telegram"])
	assert.True(t, byChannel["console"])
}

// When every channel fails nothing is marked notified, so the snapshot stays
// eligible next cycle.
func TestDispatch_TotalFailure(t *testing.T) {
	a := &stubChannel{name: "a", err: errors.New("down")}
	b := &stubChannel{name: "b", err: errors.New("down")}
	rec := &stubRecorder{}
	d := NewDispatcher([]Channel{a, b}, rec, quietLog())

	_, err := d.Dispatch(context.Background(), dispatchSnap(), models.CadenceDeduplicated)
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 3, de.Seq)
	assert.Empty(t, rec.marked)
	assert.Len(t, rec.outcomes, 2)
}

func TestBuildPayload(t *testing.T) {
	snap := dispatchSnap()
	at := time.Date(2026, 8, 28, 14, 5, 0, 0, time.UTC)
	p := BuildPayload(snap, at)

	assert.Equal(t, "SPY", p.Symbol)
	assert.Equal(t, "ACC1", p.Account)
	assert.Equal(t, 3, p.Seq)
	require.NotNil(t, p.NetCost)
	assert.Equal(t, 0.10, *p.NetCost)
	assert.Contains(t, p.Text(), "#3")
	assert.Contains(t, p.Text(), "high")
}
