package notify

import (
	"context"
	"sync"
	"time"

	"github.com/eddiefleurent/wheel_watcher/internal/models"
	"github.com/eddiefleurent/wheel_watcher/internal/storage"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Recorder is the slice of the store the dispatcher writes through.
type Recorder interface {
	RecordDispatch(ctx context.Context, outcome storage.DispatchOutcome) error
	MarkNotified(ctx context.Context, key models.RecommendationKey, seq int, cadence models.Cadence, at time.Time) error
}

// Dispatcher fans a payload out to every channel independently. A failing
// channel never blocks or fails the others; the snapshot is marked notified
// for a cadence only after at least one channel delivered.
type Dispatcher struct {
	channels []Channel
	recorder Recorder
	logger   *logrus.Logger
	now      func() time.Time

	// keyLocks serializes dispatches per recommendation key so notifications
	// go out in snapshot-sequence order.
	keyLocks sync.Map // encoded key -> *sync.Mutex
}

// NewDispatcher builds a dispatcher over the given channels.
func NewDispatcher(channels []Channel, recorder Recorder, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		channels: channels,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

func (d *Dispatcher) lockFor(key models.RecommendationKey) *sync.Mutex {
	mu, _ := d.keyLocks.LoadOrStore(key.Encode(), &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Dispatch delivers the snapshot under one cadence across all channels and
// records per-channel outcomes. Returns the outcome map; the error is non-nil
// only when every channel failed.
func (d *Dispatcher) Dispatch(ctx context.Context, snap *models.Snapshot, cadence models.Cadence) (map[string]error, error) {
	mu := d.lockFor(snap.Key)
	mu.Lock()
	defer mu.Unlock()

	sentAt := d.now().UTC()
	payload := BuildPayload(snap, sentAt)

	outcomes := make([]error, len(d.channels))
	g, gctx := errgroup.WithContext(ctx)
	for i, ch := range d.channels {
		i, ch := i, ch
		g.Go(func() error {
			outcomes[i] = ch.Send(gctx, payload)
			// Delivery errors are captured in the outcome slot, not
			// propagated, so sibling channels keep running.
			return nil
		})
	}
	_ = g.Wait()

	result := make(map[string]error, len(d.channels))
	anyOK := false
	for i, ch := range d.channels {
		err := outcomes[i]
		result[ch.Name()] = err

		detail := ""
		if err != nil {
			detail = err.Error()
			d.logger.WithError(err).Warnf("channel %s failed for %s#%d", ch.Name(), snap.Key, snap.Seq)
		} else {
			anyOK = true
		}
		if recErr := d.recorder.RecordDispatch(ctx, storage.DispatchOutcome{
			Key:         snap.Key,
			Seq:         snap.Seq,
			Channel:     ch.Name(),
			Cadence:     cadence,
			OK:          err == nil,
			Detail:      detail,
			AttemptedAt: sentAt,
		}); recErr != nil {
			d.logger.WithError(recErr).Errorf("recording dispatch outcome for %s#%d", snap.Key, snap.Seq)
		}
	}

	if !anyOK {
		return result, &DeliveryError{Key: snap.Key, Seq: snap.Seq}
	}
	if err := d.recorder.MarkNotified(ctx, snap.Key, snap.Seq, cadence, sentAt); err != nil {
		return result, err
	}
	return result, nil
}

// DeliveryError reports that no channel delivered a payload. The snapshot
// stays unmarked and remains eligible next cycle.
type DeliveryError struct {
	Key models.RecommendationKey
	Seq int
}

func (e *DeliveryError) Error() string {
	return "all notification channels failed for " + e.Key.Encode()
}
