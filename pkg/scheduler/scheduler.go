// Package scheduler drives recurring sync runs. It is an injected
// dependency with an explicit lifecycle, so the engine itself stays
// stateless and testable without it.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

// RunFunc executes one sync run.
type RunFunc func(ctx context.Context) error

type job struct {
	name   string
	every  time.Duration
	run    RunFunc
	cancel context.CancelFunc

	// held for a run's duration; a trigger firing mid-run is skipped,
	// not queued
	mu sync.Mutex
}

// Scheduler keys one recurring job per directory configuration.
type Scheduler struct {
	jobs   *xsync.Map[string, *job]
	logger *zap.Logger
	wg     sync.WaitGroup
}

func New(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		jobs:   xsync.NewMap[string, *job](),
		logger: logger,
	}
}

// Schedule starts (or restarts) the named job on the given interval.
// Scheduling an existing name cancels its previous loop first, so
// calling this on a settings change is safe.
func (s *Scheduler) Schedule(ctx context.Context, name string, every time.Duration, run RunFunc) {
	s.Unschedule(name)

	jobCtx, cancel := context.WithCancel(ctx)
	j := &job{
		name:   name,
		every:  every,
		run:    run,
		cancel: cancel,
	}
	s.jobs.Store(name, j)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runLoop(jobCtx, j)
	}()

	s.logger.Info("Scheduled sync job",
		zap.String("job", name),
		zap.Duration("every", every))
}

// Unschedule stops the named job if present. Safe to call for unknown
// names.
func (s *Scheduler) Unschedule(name string) {
	if j, ok := s.jobs.LoadAndDelete(name); ok {
		j.cancel()
		s.logger.Info("Unscheduled sync job", zap.String("job", name))
	}
}

// OnSettingsChange reconciles the job with new settings: disabled stops
// it, anything else reschedules it on the new interval.
func (s *Scheduler) OnSettingsChange(ctx context.Context, name string, enabled bool, every time.Duration, run RunFunc) {
	if !enabled {
		s.Unschedule(name)
		return
	}
	s.Schedule(ctx, name, every, run)
}

// TriggerNow runs the named job immediately, subject to the same
// overlap suppression as a scheduled tick. Returns false when the job
// is unknown or already running.
func (s *Scheduler) TriggerNow(ctx context.Context, name string) bool {
	j, ok := s.jobs.Load(name)
	if !ok {
		return false
	}
	return s.runOnce(ctx, j)
}

// Stop cancels every job and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.jobs.Range(func(name string, j *job) bool {
		j.cancel()
		s.jobs.Delete(name)
		return true
	})
	s.wg.Wait()
}

func (s *Scheduler) runLoop(ctx context.Context, j *job) {
	ticker := time.NewTicker(j.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, j)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, j *job) bool {
	if !j.mu.TryLock() {
		s.logger.Warn("Previous sync run still in progress, skipping trigger",
			zap.String("job", j.name))
		return false
	}
	defer j.mu.Unlock()

	start := time.Now()
	if err := j.run(ctx); err != nil {
		s.logger.Error("Sync run failed",
			zap.String("job", j.name),
			zap.Error(err))
		return true
	}

	s.logger.Info("Sync run finished",
		zap.String("job", j.name),
		zap.Duration("duration", time.Since(start)))
	return true
}
