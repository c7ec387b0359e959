// Package scheduler runs the evaluation and reconciliation cycles on cron
// schedules in the configured market timezone.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job is one named unit of scheduled work. Run receives a context that is
// cancelled when the scheduler stops.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// JobFunc adapts a function to Job.
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context) error
}

// Name returns the job's name.
func (j JobFunc) Name() string { return j.JobName }

// Run invokes the wrapped function.
func (j JobFunc) Run(ctx context.Context) error { return j.Fn(ctx) }

// Scheduler manages the cron-driven background jobs.
type Scheduler struct {
	cron   *cron.Cron
	logger *logrus.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler that interprets schedules in loc.
func New(loc *time.Location, logger *logrus.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(loc)),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddJob registers a job on a standard 5-field cron schedule.
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		started := time.Now()
		if err := job.Run(s.ctx); err != nil {
			s.logger.WithError(err).WithField("job", job.Name()).Error("scheduled job failed")
			return
		}
		s.logger.WithFields(logrus.Fields{
			"job":  job.Name(),
			"took": time.Since(started),
		}).Debug("scheduled job completed")
	})
	if err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"job":      job.Name(),
		"schedule": schedule,
	}).Info("job registered")
	return nil
}

// Start begins running registered jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop cancels running jobs and waits for in-flight ones to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, job Job) error {
	s.logger.WithField("job", job.Name()).Info("running job immediately")
	return job.Run(ctx)
}
