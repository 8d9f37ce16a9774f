// Package scheduler runs periodic autosave of a session's canvas on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSpec saves every thirty seconds.
const DefaultSpec = "@every 30s"

// Saver is what the scheduler persists. Satisfied by the session (avoids import cycle).
type Saver interface {
	// Dirty reports whether anything changed since the last successful save.
	Dirty() bool
	Save(ctx context.Context) error
}

// Scheduler saves a dirty Saver each time its cron schedule fires, and once
// more on Stop.
type Scheduler struct {
	saver    Saver
	spec     string
	schedule cron.Schedule
	parser   cron.Parser
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex

	inflight atomic.Bool
	saves    atomic.Int64
}

// NewScheduler parses spec (five-field cron or a descriptor such as
// "@every 1m") and returns a stopped Scheduler.
func NewScheduler(saver Saver, spec string, logger *slog.Logger) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSpec
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		saver:  saver,
		spec:   spec,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger: logger,
	}
	schedule, err := s.parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse autosave schedule %q: %w", spec, err)
	}
	s.schedule = schedule
	return s, nil
}

// Spec returns the schedule expression.
func (s *Scheduler) Spec() string { return s.spec }

// Saves returns how many saves the scheduler has performed.
func (s *Scheduler) Saves() int64 { return s.saves.Load() }

// Start launches the background loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("autosave started", slog.String("schedule", s.spec))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	for {
		now := time.Now()
		timer := time.NewTimer(s.schedule.Next(now).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce saves when the saver is dirty. Overlapping runs are skipped.
// It reports whether a save was attempted.
func (s *Scheduler) RunOnce(ctx context.Context) bool {
	if !s.inflight.CompareAndSwap(false, true) {
		return false
	}
	defer s.inflight.Store(false)

	if !s.saver.Dirty() {
		return false
	}
	if err := s.saver.Save(ctx); err != nil {
		s.logger.ErrorContext(ctx, "autosave failed", slog.String("error", err.Error()))
		return true
	}
	s.saves.Add(1)
	s.logger.DebugContext(ctx, "autosaved")
	return true
}

// CalculateNextRun computes the next fire time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop shuts down the loop and flushes pending changes with one final save.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.cancel = nil
		s.done = nil
	}
	s.mu.Unlock()

	if s.saver.Dirty() {
		if err := s.saver.Save(ctx); err != nil {
			return fmt.Errorf("final autosave: %w", err)
		}
		s.saves.Add(1)
	}
	s.logger.Info("autosave stopped")
	return nil
}
