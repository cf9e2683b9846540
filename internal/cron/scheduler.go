// Package cron runs recurring maintenance jobs on standard 5-field cron
// schedules: stats snapshots onto the bus and journal retention sweeps.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// job is one registered recurring job with its parsed schedule.
type job struct {
	name     string
	expr     string
	schedule cronlib.Schedule
	run      func(context.Context)
	nextRun  time.Time
}

// Config holds the scheduler's tuning knobs.
type Config struct {
	Logger   *slog.Logger
	Interval time.Duration // tick interval; defaults to 1 minute if zero
}

// Scheduler ticks at a fixed interval and fires every job whose next
// run time has passed.
type Scheduler struct {
	logger   *slog.Logger
	interval time.Duration

	mu   sync.Mutex
	jobs []*job

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler with the given config.
func NewScheduler(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger:   logger,
		interval: interval,
	}
}

// Add registers a named job. The expression is validated here so a bad
// schedule fails at startup rather than silently never firing.
func (s *Scheduler) Add(name, expr string, run func(context.Context)) error {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return fmt.Errorf("cron job %s: parse %q: %w", name, expr, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &job{
		name:     name,
		expr:     expr,
		schedule: schedule,
		run:      run,
		nextRun:  schedule.Next(time.Now()),
	})
	return nil
}

// Start begins the scheduler loop in a background goroutine. The loop
// respects the provided context for shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("cron scheduler started", "interval", s.interval, "jobs", len(s.jobs))
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick fires every job whose next run time has passed and advances it.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	var due []*job
	for _, j := range s.jobs {
		if !now.Before(j.nextRun) {
			due = append(due, j)
			j.nextRun = j.schedule.Next(now)
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		s.fire(ctx, j, now)
	}
}

func (s *Scheduler) fire(ctx context.Context, j *job, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cron: job panicked", "job", j.name, "panic", r)
		}
	}()
	j.run(ctx)
	s.logger.Debug("cron: job fired", "job", j.name, "at", now)
}

// NextRunTime parses the cron expression and returns the next run time
// after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
