// Package sweep runs the registry's recovery sweep on a cron schedule.
package sweep

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Iron-Ham/taskgraph/internal/limiter"
	"github.com/Iron-Ham/taskgraph/internal/logging"
	"github.com/Iron-Ham/taskgraph/internal/registry"
)

// DefaultSchedule runs a sweep every half minute.
const DefaultSchedule = "@every 30s"

// Sweeper is the part of the registry the scheduler drives.
type Sweeper interface {
	Sweep(ctx context.Context) (registry.SweepReport, error)
}

// Run records one sweep.
type Run struct {
	At       time.Time
	Duration time.Duration
	Report   registry.SweepReport
	Err      error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRunTimeout bounds each sweep, including its lock wait.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		s.timeout = d
	}
}

// WithLimiter runs every sweep through l, so sweeps share a concurrency
// budget with other bookkeeping in the process.
func WithLimiter(l *limiter.Limiter) Option {
	return func(s *Scheduler) {
		s.limiter = l
	}
}

// WithOnRun registers a callback invoked after every sweep.
func WithOnRun(fn func(Run)) Option {
	return func(s *Scheduler) {
		s.onRun = fn
	}
}

// Scheduler triggers sweeps on a cron schedule. Overlapping runs are skipped.
type Scheduler struct {
	target   Sweeper
	schedule string
	logger   *logging.Logger
	timeout  time.Duration
	limiter  *limiter.Limiter
	onRun    func(Run)

	cron    *cron.Cron
	entryID cron.EntryID

	mu   sync.Mutex
	last *Run
	runs int
}

// NewScheduler parses schedule (standard five-field cron or a descriptor
// such as "@every 30s") and prepares a scheduler. An empty schedule selects
// DefaultSchedule.
func NewScheduler(target Sweeper, schedule string, opts ...Option) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	s := &Scheduler{
		target:   target,
		schedule: schedule,
		logger:   logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("sweep")

	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.logger})))
	id, err := s.cron.AddFunc(schedule, func() {
		_, _ = s.RunOnce(context.Background())
	})
	if err != nil {
		return nil, err
	}
	s.entryID = id
	return s, nil
}

// Start begins running sweeps in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("sweep scheduler started", "schedule", s.schedule)
}

// Stop stops scheduling and waits for a running sweep until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns when the next scheduled sweep runs, or the zero time when the
// scheduler is not running.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entryID).Next
}

// RunOnce sweeps immediately.
func (s *Scheduler) RunOnce(ctx context.Context) (registry.SweepReport, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	var report registry.SweepReport
	sweep := func(ctx context.Context) error {
		var err error
		report, err = s.target.Sweep(ctx)
		return err
	}

	var err error
	if s.limiter != nil {
		err = s.limiter.Run(ctx, sweep, limiter.RunOptions{Label: "sweep"})
	} else {
		err = sweep(ctx)
	}

	run := Run{At: start, Duration: time.Since(start), Report: report, Err: err}
	s.mu.Lock()
	s.last = &run
	s.runs++
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("sweep failed", "error", err.Error())
	} else if report.Changed {
		s.logger.Info("sweep applied repairs", "requeued", len(report.Requeued), "mirrors_fixed", report.MirrorsFixed)
	}
	if s.onRun != nil {
		s.onRun(run)
	}
	return report, err
}

// LastRun returns the most recent sweep, if any.
func (s *Scheduler) LastRun() (Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Run{}, false
	}
	return *s.last, true
}

// Runs returns how many sweeps have run.
func (s *Scheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// cronLogger adapts the structured logger to cron's logging interface.
type cronLogger struct {
	l *logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append([]any{"error", err.Error()}, keysAndValues...)...)
}
