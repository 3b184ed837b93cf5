// Package scheduler repeats a job on a fixed interval for the lifetime of a context.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Job is one scheduled cycle.
type Job func(ctx context.Context) error

type haltError struct{ err error }

func (h *haltError) Error() string { return h.err.Error() }
func (h *haltError) Unwrap() error { return h.err }

// Halt marks a job error as final: Run stops and returns err instead of
// waiting for the next tick.
func Halt(err error) error {
	if err == nil {
		return nil
	}
	return &haltError{err: err}
}

// Scheduler runs a Job immediately and then every interval. Runs never
// overlap: a tick that arrives while the job is still running is dropped.
type Scheduler struct {
	interval time.Duration
	job      Job
	logger   *slog.Logger

	mu      sync.RWMutex
	nextRun time.Time
	runs    int
}

// New creates a scheduler.
func New(interval time.Duration, job Job, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{interval: interval, job: job, logger: logger}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Scheduler started", slog.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if err := s.runOnce(ctx); err != nil {
		return err
	}
	for {
		s.setNext(time.Now().Add(s.interval))
		select {
		case <-ctx.Done():
			s.setNext(time.Time{})
			s.logger.Info("Scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.runOnce(ctx); err != nil {
				s.setNext(time.Time{})
				return err
			}
		}
	}
}

// runOnce returns an error only when the job halted the schedule.
func (s *Scheduler) runOnce(ctx context.Context) error {
	start := time.Now()
	s.mu.Lock()
	s.runs++
	run := s.runs
	s.mu.Unlock()

	s.logger.Info("Starting scheduled run", slog.Int("run", run))
	if err := s.job(ctx); err != nil {
		s.logger.Error("Scheduled run failed",
			slog.Int("run", run),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()),
		)
		var halt *haltError
		if errors.As(err, &halt) {
			return halt.err
		}
		return nil
	}
	s.logger.Info("Scheduled run complete",
		slog.Int("run", run),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (s *Scheduler) setNext(t time.Time) {
	s.mu.Lock()
	s.nextRun = t
	s.mu.Unlock()
}

// NextRun returns when the next run is due, or nil when the scheduler is
// not waiting.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.nextRun.IsZero() {
		return nil
	}
	t := s.nextRun
	return &t
}

// Runs returns how many cycles have started.
func (s *Scheduler) Runs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runs
}
