package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ReminderWindow is how far ahead accepted bookings get a reminder
const ReminderWindow = 24 * time.Hour

// jobTimeout bounds a single run of any job
const jobTimeout = 5 * time.Minute

// ReminderSender publishes reminders for bookings coming up within window
type ReminderSender interface {
	SendReminders(ctx context.Context, window time.Duration) (int, error)
}

// Reconciler settles subscriptions left waiting for payment authentication
type Reconciler interface {
	Reconcile(ctx context.Context, olderThan time.Duration) (int, error)
}

// Options configures the scheduler. Schedules use the standard five field
// cron syntax or descriptors such as "@hourly" and "@every 15m".
type Options struct {
	ReminderSchedule  string
	ReconcileSchedule string
	ReconcileAfter    time.Duration
}

// Scheduler runs the background jobs of the worker process
type Scheduler struct {
	cron       *cron.Cron
	reminders  ReminderSender
	reconciler Reconciler
	opts       Options
	log        logrus.FieldLogger
}

// NewScheduler registers the reminder and reconcile jobs. A job with an empty
// schedule is not registered.
func NewScheduler(reminders ReminderSender, reconciler Reconciler, opts Options, log logrus.FieldLogger) (*Scheduler, error) {
	log = log.WithField("component", "scheduler")
	cronLog := cronLogger{log: log}

	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		reminders:  reminders,
		reconciler: reconciler,
		opts:       opts,
		log:        log,
	}

	if opts.ReminderSchedule != "" {
		if _, err := s.cron.AddFunc(opts.ReminderSchedule, func() { s.RunReminders(context.Background()) }); err != nil {
			return nil, fmt.Errorf("invalid reminder schedule %q: %w", opts.ReminderSchedule, err)
		}
	}
	if opts.ReconcileSchedule != "" {
		if _, err := s.cron.AddFunc(opts.ReconcileSchedule, func() { s.RunReconcile(context.Background()) }); err != nil {
			return nil, fmt.Errorf("invalid reconcile schedule %q: %w", opts.ReconcileSchedule, err)
		}
	}

	return s, nil
}

// Start runs the scheduler in the background
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.WithField("jobs", len(s.cron.Entries())).Info("Scheduler started")
}

// Stop prevents new runs and waits for running jobs until ctx is done
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunReminders runs the reminder job once
func (s *Scheduler) RunReminders(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	start := time.Now()
	sent, err := s.reminders.SendReminders(ctx, ReminderWindow)
	logger := s.log.WithFields(logrus.Fields{"job": "reminders", "sent": sent, "duration_ms": time.Since(start).Milliseconds()})
	if err != nil {
		logger.WithError(err).Error("Reminder job failed")
		return
	}
	logger.Info("Reminder job finished")
}

// RunReconcile runs the subscription reconcile job once
func (s *Scheduler) RunReconcile(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	start := time.Now()
	settled, err := s.reconciler.Reconcile(ctx, s.opts.ReconcileAfter)
	logger := s.log.WithFields(logrus.Fields{"job": "reconcile", "settled": settled, "duration_ms": time.Since(start).Milliseconds()})
	if err != nil {
		logger.WithError(err).Error("Reconcile job failed")
		return
	}
	logger.Info("Reconcile job finished")
}

// cronLogger adapts logrus to cron's logger interface
type cronLogger struct {
	log logrus.FieldLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).WithFields(fields(keysAndValues)).Error(msg)
}

func fields(keysAndValues []interface{}) logrus.Fields {
	out := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return out
}
